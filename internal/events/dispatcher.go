package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/smallbiznis/registry/internal/clock"
	"github.com/smallbiznis/registry/internal/config"
	"github.com/smallbiznis/registry/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const publishAttemptsPerRun = 3

type DispatcherParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Config    config.Config
	Publisher Publisher
	Metrics   *metrics.Metrics `optional:"true"`
}

// Dispatcher publishes committed outbox rows. It never touches ledger rows.
type Dispatcher struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	publisher   Publisher
	metrics     *metrics.Metrics
	maxAttempts int
	baseDelay   time.Duration
}

func NewDispatcher(p DispatcherParam) *Dispatcher {
	maxAttempts := p.Config.OutboxMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	baseDelay := p.Config.OutboxRetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	return &Dispatcher{
		db:          p.DB,
		log:         p.Log.Named("events.dispatcher"),
		clock:       p.Clock,
		publisher:   p.Publisher,
		metrics:     p.Metrics,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
	}
}

type envelope struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

// DispatchPending publishes up to limit due rows. Failed rows are pushed back
// with exponential delay until maxAttempts is reached.
func (d *Dispatcher) DispatchPending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}
	published := map[string]int{}
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := d.clock.Now()
		var rows []OutboxEvent
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("published_at IS NULL AND attempts < ? AND available_at <= ?", d.maxAttempts, now).
			Order("id ASC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}

		for i := range rows {
			row := &rows[i]
			body, err := json.Marshal(envelope{
				ID:          row.ID.String(),
				Type:        row.Type,
				AggregateID: row.AggregateID.String(),
				OccurredAt:  row.CreatedAt,
				Payload:     json.RawMessage(row.Payload),
			})
			if err != nil {
				return err
			}

			err = retry.Do(func() error {
				return d.publisher.Publish(ctx, row.Type, body)
			},
				retry.Attempts(publishAttemptsPerRun),
				retry.DelayType(retry.BackOffDelay),
				retry.Delay(d.baseDelay),
				retry.LastErrorOnly(true),
				retry.Context(ctx),
			)
			if err != nil {
				attempts := row.Attempts + 1
				d.log.Warn("outbox publish failed",
					zap.String("event_id", row.ID.String()),
					zap.String("type", row.Type),
					zap.Int("attempts", attempts),
					zap.Error(err),
				)
				if uerr := tx.Model(&OutboxEvent{}).Where("id = ?", row.ID).Updates(map[string]any{
					"attempts":     attempts,
					"last_error":   err.Error(),
					"available_at": now.Add(d.baseDelay << uint(min(attempts, 16))),
				}).Error; uerr != nil {
					return uerr
				}
				continue
			}

			if err := tx.Model(&OutboxEvent{}).Where("id = ?", row.ID).Updates(map[string]any{
				"attempts":     row.Attempts + 1,
				"published_at": now,
			}).Error; err != nil {
				return err
			}
			published[row.Type]++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	total := 0
	for eventType, n := range published {
		d.metrics.RecordOutboxPublished(ctx, eventType, n)
		total += n
	}
	return total, nil
}
