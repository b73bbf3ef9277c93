package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *BillingEvent) error
	InsertEventIfAbsent(ctx context.Context, db *gorm.DB, event *BillingEvent) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BillingEvent, error)
	ListEvents(ctx context.Context, db *gorm.DB, domainID snowflake.ID) ([]BillingEvent, error)

	InsertRecurrence(ctx context.Context, db *gorm.DB, recurrence *BillingRecurrence) error
	FindRecurrence(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BillingRecurrence, error)
	ListRecurrences(ctx context.Context, db *gorm.DB, domainID snowflake.ID) ([]BillingRecurrence, error)
	EndRecurrence(ctx context.Context, db *gorm.DB, id snowflake.ID, end time.Time, supersededBy *snowflake.ID) error
	TouchExpansion(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	ClaimRecurrencesForExpansion(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]BillingRecurrence, error)

	InsertCancellation(ctx context.Context, db *gorm.DB, cancellation *BillingCancellation) error
	FindCancellationForEvent(ctx context.Context, db *gorm.DB, eventID snowflake.ID) (*BillingCancellation, error)
	FindCancellationForOccurrence(ctx context.Context, db *gorm.DB, recurrenceID snowflake.ID, occurrence time.Time) (*BillingCancellation, error)
	ListCancellations(ctx context.Context, db *gorm.DB, domainID snowflake.ID) ([]BillingCancellation, error)

	ListStaged(ctx context.Context, db *gorm.DB, transferID snowflake.ID) (*StagedSet, error)
	PromoteStaged(ctx context.Context, db *gorm.DB, transferID snowflake.ID) error
	DeleteStaged(ctx context.Context, db *gorm.DB, transferID snowflake.ID) error
}

type CancelEventRequest struct {
	Event            *BillingEvent
	At               time.Time
	HistoryID        *snowflake.ID
	StagedTransferID *snowflake.ID
}

type CancelOccurrenceRequest struct {
	Recurrence       *BillingRecurrence
	OccurrenceTime   time.Time
	BillingTime      time.Time
	At               time.Time
	HistoryID        *snowflake.ID
	StagedTransferID *snowflake.ID
}

// Ledger is the live billing history of one domain.
type Ledger struct {
	Events        []BillingEvent
	Recurrences   []BillingRecurrence
	Cancellations []BillingCancellation
}

// Service is the ledger manager. Every method taking tx runs inside the
// caller's transaction.
type Service interface {
	RecordEvent(ctx context.Context, tx *gorm.DB, event *BillingEvent) error
	Event(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*BillingEvent, error)
	OpenRecurrence(ctx context.Context, tx *gorm.DB, recurrence *BillingRecurrence) error
	Recurrence(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*BillingRecurrence, error)
	Supersede(ctx context.Context, tx *gorm.DB, current *BillingRecurrence, at time.Time, successor *BillingRecurrence) error
	SetRecurrenceEnd(ctx context.Context, tx *gorm.DB, id snowflake.ID, end time.Time) error
	CancelEvent(ctx context.Context, tx *gorm.DB, req CancelEventRequest) (*BillingCancellation, error)
	CancelOccurrence(ctx context.Context, tx *gorm.DB, req CancelOccurrenceRequest) (*BillingCancellation, error)
	Staged(ctx context.Context, tx *gorm.DB, transferID snowflake.ID) (*StagedSet, error)
	PromoteStaged(ctx context.Context, tx *gorm.DB, transferID snowflake.ID) (*StagedSet, error)
	DiscardStaged(ctx context.Context, tx *gorm.DB, transferID snowflake.ID) error
	DomainLedger(ctx context.Context, db *gorm.DB, domainID snowflake.ID) (*Ledger, error)
	ExpandRecurrences(ctx context.Context, now time.Time, limit int) (Expansion, error)
}

// Expansion counts one expansion batch. Claimed recurrences are stamped even
// when no occurrence was due, so callers page on Claimed.
type Expansion struct {
	Claimed int
	Written int
}
