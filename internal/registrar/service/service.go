package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/registry/internal/clock"
	"github.com/smallbiznis/registry/internal/registrar/domain"
	"github.com/smallbiznis/registry/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("registrar.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Registrar, error) {
	id := strings.TrimSpace(req.ID)
	name := strings.TrimSpace(req.Name)
	if id == "" || name == "" {
		return nil, domain.ErrInvalidRegistrar
	}
	tlds := make([]string, 0, len(req.AllowedTlds))
	for _, t := range req.AllowedTlds {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tlds = append(tlds, t)
		}
	}

	now := s.clock.Now()
	registrar := &domain.Registrar{
		ID:          id,
		Name:        name,
		State:       domain.StateActive,
		AllowedTlds: tlds,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, registrar); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrRegistrarAlreadyExists
		}
		return nil, err
	}
	s.log.Info("registrar created", zap.String("registrar_id", id))
	return registrar, nil
}

func (s *Service) Get(ctx context.Context, tx *gorm.DB, id string) (*domain.Registrar, error) {
	if tx == nil {
		tx = s.db
	}
	registrar, err := s.repo.Find(ctx, tx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if registrar == nil {
		return nil, domain.ErrRegistrarNotFound
	}
	return registrar, nil
}

func (s *Service) SetState(ctx context.Context, id string, state domain.State) error {
	switch state {
	case domain.StateActive, domain.StateSuspended, domain.StateDisabled:
	default:
		return domain.ErrInvalidRegistrar
	}
	if _, err := s.Get(ctx, s.db, id); err != nil {
		return err
	}
	return s.repo.UpdateState(ctx, s.db, id, state, s.clock.Now())
}

func (s *Service) RequireActive(ctx context.Context, tx *gorm.DB, id string) (*domain.Registrar, error) {
	registrar, err := s.Get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if registrar.State != domain.StateActive {
		return nil, domain.ErrRegistrarNotActive
	}
	return registrar, nil
}

func (s *Service) RequireTld(ctx context.Context, tx *gorm.DB, id, tld string) (*domain.Registrar, error) {
	registrar, err := s.RequireActive(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !registrar.AllowsTld(tld) {
		return nil, domain.ErrNotAuthorizedForTld
	}
	return registrar, nil
}
