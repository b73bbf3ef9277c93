package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/registry/internal/registrar/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, registrar *domain.Registrar) error {
	return db.WithContext(ctx).Create(registrar).Error
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, id string) (*domain.Registrar, error) {
	var registrar domain.Registrar
	err := db.WithContext(ctx).Where("id = ?", id).First(&registrar).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &registrar, nil
}

func (r *repo) UpdateState(ctx context.Context, db *gorm.DB, id string, state domain.State, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Registrar{}).
		Where("id = ?", id).
		Updates(map[string]any{"state": state, "updated_at": at}).Error
}
