package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes registry instruments.
type Metrics struct {
	commands         metric.Int64Counter
	transfers        metric.Int64Counter
	tokenRedemptions metric.Int64Counter
	outboxPublished  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "registry"
	}
	meter := provider.Meter(name)

	commands, err := meter.Int64Counter("registry_commands_total")
	if err != nil {
		return nil, err
	}
	transfers, err := meter.Int64Counter("registry_transfers_total")
	if err != nil {
		return nil, err
	}
	tokenRedemptions, err := meter.Int64Counter("registry_token_redemptions_total")
	if err != nil {
		return nil, err
	}
	outboxPublished, err := meter.Int64Counter("registry_outbox_published_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		commands:         commands,
		transfers:        transfers,
		tokenRedemptions: tokenRedemptions,
		outboxPublished:  outboxPublished,
	}, nil
}

// RecordCommand counts one executed command by outcome code.
func (m *Metrics) RecordCommand(ctx context.Context, command, tld, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("command", strings.TrimSpace(command)),
		attribute.String("tld", strings.TrimSpace(tld)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.commands.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTransfer counts transfer state changes.
func (m *Metrics) RecordTransfer(ctx context.Context, tld, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("tld", strings.TrimSpace(tld)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.transfers.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordTokenRedemption(ctx context.Context, tokenType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("token_type", strings.TrimSpace(tokenType)))
	m.tokenRedemptions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordOutboxPublished counts dispatched post-commit events.
func (m *Metrics) RecordOutboxPublished(ctx context.Context, eventType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.outboxPublished.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"command":    {},
	"tld":        {},
	"outcome":    {},
	"status":     {},
	"token_type": {},
	"event_type": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
