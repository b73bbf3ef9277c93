package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registry/internal/timeline"
	"github.com/smallbiznis/registry/internal/token/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, token *domain.AllocationToken) error {
	return db.WithContext(ctx).Create(token).Error
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, token string) (*domain.AllocationToken, error) {
	var t domain.AllocationToken
	err := db.WithContext(ctx).Where("token = ?", token).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repo) FindMany(ctx context.Context, db *gorm.DB, tokens []string) ([]domain.AllocationToken, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	var out []domain.AllocationToken
	err := db.WithContext(ctx).Where("token IN ?", tokens).Order("token ASC").Find(&out).Error
	return out, err
}

// ClaimRedemption marks the token redeemed unless another history entry
// already holds it. The conditional update is the serialization point.
func (r *repo) ClaimRedemption(ctx context.Context, db *gorm.DB, token string, historyID snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).
		Model(&domain.AllocationToken{}).
		Where("token = ? AND redemption_history_id IS NULL", token).
		Updates(map[string]any{
			"redemption_history_id": historyID,
			"updated_at":            now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) UpdateStatusTransitions(ctx context.Context, db *gorm.DB, token string, transitions timeline.Timeline[domain.TokenStatus], now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.AllocationToken{}).
		Where("token = ?", token).
		Updates(map[string]any{
			"status_transitions": transitions,
			"updated_at":         now,
		}).Error
}
