package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registry/internal/billing/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.BillingEvent) error {
	return db.WithContext(ctx).Create(event).Error
}

// InsertEventIfAbsent relies on the (recurrence_id, event_time) unique index
// so an expanded occurrence is written at most once.
func (r *repo) InsertEventIfAbsent(ctx context.Context, db *gorm.DB, event *domain.BillingEvent) (bool, error) {
	result := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.BillingEvent, error) {
	var event domain.BillingEvent
	err := db.WithContext(ctx).Where("id = ?", id).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repo) ListEvents(ctx context.Context, db *gorm.DB, domainID snowflake.ID) ([]domain.BillingEvent, error) {
	var events []domain.BillingEvent
	err := db.WithContext(ctx).
		Where("domain_id = ? AND staged_transfer_id IS NULL", domainID).
		Order("event_time ASC, id ASC").
		Find(&events).Error
	return events, err
}

func (r *repo) InsertRecurrence(ctx context.Context, db *gorm.DB, recurrence *domain.BillingRecurrence) error {
	return db.WithContext(ctx).Create(recurrence).Error
}

func (r *repo) FindRecurrence(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.BillingRecurrence, error) {
	var recurrence domain.BillingRecurrence
	err := db.WithContext(ctx).Where("id = ?", id).First(&recurrence).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &recurrence, nil
}

func (r *repo) ListRecurrences(ctx context.Context, db *gorm.DB, domainID snowflake.ID) ([]domain.BillingRecurrence, error) {
	var recurrences []domain.BillingRecurrence
	err := db.WithContext(ctx).
		Where("domain_id = ? AND staged_transfer_id IS NULL", domainID).
		Order("event_time ASC, id ASC").
		Find(&recurrences).Error
	return recurrences, err
}

func (r *repo) EndRecurrence(ctx context.Context, db *gorm.DB, id snowflake.ID, end time.Time, supersededBy *snowflake.ID) error {
	updates := map[string]any{"recurrence_end_time": end}
	if supersededBy != nil {
		updates["superseded_by"] = *supersededBy
	}
	return db.WithContext(ctx).
		Model(&domain.BillingRecurrence{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repo) TouchExpansion(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.BillingRecurrence{}).
		Where("id = ? AND last_expansion < ?", id, at).
		Update("last_expansion", at).Error
}

// ClaimRecurrencesForExpansion locks live recurrences with at least one
// occurrence due. Concurrent workers skip each other's rows.
func (r *repo) ClaimRecurrencesForExpansion(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.BillingRecurrence, error) {
	var recurrences []domain.BillingRecurrence
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("staged_transfer_id IS NULL").
		Where("event_time <= ? AND recurrence_end_time > event_time AND last_expansion < ?", now, now).
		Order("id ASC").
		Limit(limit).
		Find(&recurrences).Error
	return recurrences, err
}

func (r *repo) InsertCancellation(ctx context.Context, db *gorm.DB, cancellation *domain.BillingCancellation) error {
	return db.WithContext(ctx).Create(cancellation).Error
}

func (r *repo) FindCancellationForEvent(ctx context.Context, db *gorm.DB, eventID snowflake.ID) (*domain.BillingCancellation, error) {
	var cancellation domain.BillingCancellation
	err := db.WithContext(ctx).
		Where("billing_event_id = ?", eventID).
		First(&cancellation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cancellation, nil
}

func (r *repo) FindCancellationForOccurrence(ctx context.Context, db *gorm.DB, recurrenceID snowflake.ID, occurrence time.Time) (*domain.BillingCancellation, error) {
	var cancellation domain.BillingCancellation
	err := db.WithContext(ctx).
		Where("recurrence_id = ? AND recurrence_event_time = ?", recurrenceID, occurrence).
		First(&cancellation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cancellation, nil
}

func (r *repo) ListCancellations(ctx context.Context, db *gorm.DB, domainID snowflake.ID) ([]domain.BillingCancellation, error) {
	var cancellations []domain.BillingCancellation
	err := db.WithContext(ctx).
		Where("domain_id = ? AND staged_transfer_id IS NULL", domainID).
		Order("event_time ASC, id ASC").
		Find(&cancellations).Error
	return cancellations, err
}

func (r *repo) ListStaged(ctx context.Context, db *gorm.DB, transferID snowflake.ID) (*domain.StagedSet, error) {
	set := &domain.StagedSet{}
	if err := db.WithContext(ctx).Where("staged_transfer_id = ?", transferID).Order("id ASC").Find(&set.Events).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Where("staged_transfer_id = ?", transferID).Order("id ASC").Find(&set.Recurrences).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Where("staged_transfer_id = ?", transferID).Order("id ASC").Find(&set.Cancellations).Error; err != nil {
		return nil, err
	}
	return set, nil
}

func (r *repo) PromoteStaged(ctx context.Context, db *gorm.DB, transferID snowflake.ID) error {
	for _, table := range stagedTables {
		if err := db.WithContext(ctx).Exec(
			"UPDATE "+table+" SET staged_transfer_id = NULL WHERE staged_transfer_id = ?",
			transferID,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) DeleteStaged(ctx context.Context, db *gorm.DB, transferID snowflake.ID) error {
	for _, table := range stagedTables {
		if err := db.WithContext(ctx).Exec(
			"DELETE FROM "+table+" WHERE staged_transfer_id = ?",
			transferID,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

var stagedTables = []string{"billing_cancellations", "billing_events", "billing_recurrences"}
