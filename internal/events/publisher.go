package events

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/smallbiznis/registry/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:generate mockgen -source=publisher.go -destination=mocks/publisher.go -package=mocks Publisher

// Publisher delivers one serialized event to the message bus.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
	Close() error
}

// NewPublisher dials RabbitMQ when configured and falls back to a logging
// no-op publisher otherwise.
func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Publisher {
	log = log.Named("events.publisher")
	if strings.TrimSpace(cfg.RabbitMQ.URL) == "" {
		log.Warn("rabbitmq not configured, events will not leave the outbox")
		return &noopPublisher{log: log}
	}
	producer, err := newRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
	if err != nil {
		log.Warn("rabbitmq unavailable, using fallback publisher", zap.Error(err))
		return &noopPublisher{log: log}
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return producer.Close()
		},
	})
	return producer
}

type noopPublisher struct {
	log *zap.Logger
}

func (p *noopPublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	p.log.Debug("publish skipped", zap.String("routing_key", routingKey))
	return nil
}

func (p *noopPublisher) Close() error { return nil }

type rabbitPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	log      *zap.Logger
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("amqp_scheme_required")
	}
	return clean, nil
}

func newRabbitPublisher(rawURL, exchange string, log *zap.Logger) (*rabbitPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(rawURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &rabbitPublisher{conn: conn, channel: ch, exchange: exchange, log: log}, nil
}

func (p *rabbitPublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil || p.channel.IsClosed() {
		ch, err := p.conn.Channel()
		if err != nil {
			return err
		}
		p.channel = ch
	}
	err := p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.log.Warn("publish failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
	return err
}

func (p *rabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
