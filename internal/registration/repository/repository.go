package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registry/internal/registration/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertDomain(ctx context.Context, db *gorm.DB, d *domain.Domain) error {
	return db.WithContext(ctx).Create(d).Error
}

func (r *repo) UpdateDomain(ctx context.Context, db *gorm.DB, d *domain.Domain) error {
	return db.WithContext(ctx).Model(&domain.Domain{}).
		Where("id = ?", d.ID).
		Select("*").
		Omit("id", "created_at").
		Updates(d).Error
}

func (r *repo) FindDomain(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.Domain, error) {
	q := db.WithContext(ctx)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var d domain.Domain
	err := q.Where("id = ?", id).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repo) FindLiveDomainByName(ctx context.Context, db *gorm.DB, name string, at time.Time, forUpdate bool) (*domain.Domain, error) {
	q := db.WithContext(ctx)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var d domain.Domain
	err := q.Where("name = ? AND deletion_time > ?", name, at).
		Order("creation_time DESC").
		First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repo) ListDuePendingTransfers(ctx context.Context, db *gorm.DB, at time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Model(&domain.Domain{}).
		Where("transfer_status = ? AND transfer_pending_expiration_time <= ?", domain.TransferPending, at).
		Order("transfer_pending_expiration_time ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *repo) ListGracePeriods(ctx context.Context, db *gorm.DB, domainID snowflake.ID) ([]domain.GracePeriod, error) {
	var graces []domain.GracePeriod
	err := db.WithContext(ctx).
		Where("domain_id = ?", domainID).
		Order("expiration_time ASC, id ASC").
		Find(&graces).Error
	return graces, err
}

// ReplaceGracePeriods makes the stored set equal graces. Rows already
// persisted keep their id; new rows must carry one.
func (r *repo) ReplaceGracePeriods(ctx context.Context, db *gorm.DB, domainID snowflake.ID, graces []domain.GracePeriod) error {
	keep := make([]snowflake.ID, 0, len(graces))
	for _, g := range graces {
		keep = append(keep, g.ID)
	}
	del := db.WithContext(ctx).Where("domain_id = ?", domainID)
	if len(keep) > 0 {
		del = del.Where("id NOT IN ?", keep)
	}
	if err := del.Delete(&domain.GracePeriod{}).Error; err != nil {
		return err
	}
	if len(graces) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&graces).Error
}

func (r *repo) InsertHistory(ctx context.Context, db *gorm.DB, h *domain.DomainHistory) error {
	return db.WithContext(ctx).Create(h).Error
}

func (r *repo) ListHistory(ctx context.Context, db *gorm.DB, domainID snowflake.ID) ([]domain.DomainHistory, error) {
	var out []domain.DomainHistory
	err := db.WithContext(ctx).
		Where("domain_id = ?", domainID).
		Order("modification_time ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *repo) InsertPollMessage(ctx context.Context, db *gorm.DB, pm *domain.PollMessage) error {
	return db.WithContext(ctx).Create(pm).Error
}

func (r *repo) ListPollMessages(ctx context.Context, db *gorm.DB, registrarID string) ([]domain.PollMessage, error) {
	var out []domain.PollMessage
	err := db.WithContext(ctx).
		Where("registrar_id = ? AND staged_transfer_id IS NULL", registrarID).
		Order("event_time ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *repo) ListStagedPollMessages(ctx context.Context, db *gorm.DB, transferID snowflake.ID) ([]domain.PollMessage, error) {
	var out []domain.PollMessage
	err := db.WithContext(ctx).
		Where("staged_transfer_id = ?", transferID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

func (r *repo) PromoteStagedPollMessages(ctx context.Context, db *gorm.DB, transferID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		"UPDATE poll_messages SET staged_transfer_id = NULL WHERE staged_transfer_id = ?",
		transferID,
	).Error
}

func (r *repo) DeleteStagedPollMessages(ctx context.Context, db *gorm.DB, transferID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		"DELETE FROM poll_messages WHERE staged_transfer_id = ?",
		transferID,
	).Error
}
