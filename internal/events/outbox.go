package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registry/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	EventDomainChanged      = "domain.changed"
	EventPollMessageCreated = "poll_message.created"
)

type Event struct {
	Type        string
	AggregateID snowflake.ID
	Payload     map[string]any
	// DedupeKey collapses repeated writes of the same fact.
	DedupeKey string
}

// OutboxEvent is a committed fact waiting to be published.
type OutboxEvent struct {
	ID          snowflake.ID   `gorm:"primaryKey"`
	Type        string         `gorm:"type:varchar(64);not null;index"`
	AggregateID snowflake.ID   `gorm:"not null;index"`
	Payload     datatypes.JSON `gorm:"type:json"`
	DedupeKey   string         `gorm:"type:varchar(191);not null;uniqueIndex"`
	Attempts    int            `gorm:"not null;default:0"`
	LastError   string         `gorm:"type:text"`
	AvailableAt time.Time      `gorm:"not null;index"`
	PublishedAt *time.Time     `gorm:"index"`
	CreatedAt   time.Time
}

func (OutboxEvent) TableName() string { return "outbox_events" }

type OutboxParam struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Outbox struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewOutbox(p OutboxParam) *Outbox {
	return &Outbox{
		log:   p.Log.Named("events.outbox"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

// PublishTx records event inside tx. Nothing leaves the process until the
// transaction commits and the dispatcher picks the row up.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	id := o.genID.Generate()
	dedupe := event.DedupeKey
	if dedupe == "" {
		dedupe = event.Type + ":" + id.String()
	}
	now := o.clock.Now()
	row := &OutboxEvent{
		ID:          id,
		Type:        event.Type,
		AggregateID: event.AggregateID,
		Payload:     datatypes.JSON(payload),
		DedupeKey:   dedupe,
		AvailableAt: now,
		CreatedAt:   now,
	}
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedupe_key"}}, DoNothing: true}).
		Create(row).Error
}
