package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registry/internal/billing/domain"
	"github.com/smallbiznis/registry/internal/clock"
	"github.com/smallbiznis/registry/internal/timeline"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Expander *Expander
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	expander *Expander
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("billing.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		expander: p.Expander,
	}
}

func (s *Service) RecordEvent(ctx context.Context, tx *gorm.DB, event *domain.BillingEvent) error {
	if event.ID == 0 {
		event.ID = s.genID.Generate()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.clock.Now()
	}
	return s.repo.InsertEvent(ctx, tx, event)
}

func (s *Service) Event(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.BillingEvent, error) {
	event, err := s.repo.FindEvent(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, domain.ErrBillingEventNotFound
	}
	return event, nil
}

func (s *Service) OpenRecurrence(ctx context.Context, tx *gorm.DB, recurrence *domain.BillingRecurrence) error {
	if err := validateRecurrence(recurrence); err != nil {
		return err
	}
	if recurrence.ID == 0 {
		recurrence.ID = s.genID.Generate()
	}
	if recurrence.Reason == "" {
		recurrence.Reason = domain.ReasonRenew
	}
	if recurrence.RecurrenceEndTime.IsZero() {
		recurrence.RecurrenceEndTime = timeline.EndOfTime
	}
	if recurrence.LastExpansion.IsZero() {
		recurrence.LastExpansion = timeline.StartOfTime
	}
	if recurrence.CreatedAt.IsZero() {
		recurrence.CreatedAt = s.clock.Now()
	}
	return s.repo.InsertRecurrence(ctx, tx, recurrence)
}

func validateRecurrence(r *domain.BillingRecurrence) error {
	if r.RenewalPriceBehavior == "" {
		r.RenewalPriceBehavior = domain.RenewalDefault
	}
	if !r.RenewalPriceBehavior.Valid() {
		return domain.ErrInvalidRenewalBehavior
	}
	_, hasPrice := r.FixedPrice()
	if (r.RenewalPriceBehavior == domain.RenewalSpecified) != hasPrice {
		return domain.ErrInvalidRenewalPrice
	}
	return nil
}

func (s *Service) Recurrence(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.BillingRecurrence, error) {
	recurrence, err := s.repo.FindRecurrence(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if recurrence == nil {
		return nil, domain.ErrRecurrenceNotFound
	}
	return recurrence, nil
}

// Supersede ends current at the given instant and opens successor in its
// place. An earlier end already on current is kept.
func (s *Service) Supersede(ctx context.Context, tx *gorm.DB, current *domain.BillingRecurrence, at time.Time, successor *domain.BillingRecurrence) error {
	if current.SupersededBy != nil {
		return domain.ErrRecurrenceEnded
	}
	if err := s.OpenRecurrence(ctx, tx, successor); err != nil {
		return err
	}
	end := at
	if current.RecurrenceEndTime.Before(at) {
		end = current.RecurrenceEndTime
	}
	if err := s.repo.EndRecurrence(ctx, tx, current.ID, end, &successor.ID); err != nil {
		return err
	}
	current.RecurrenceEndTime = end
	current.SupersededBy = &successor.ID

	s.log.Debug("recurrence superseded",
		zap.String("recurrence_id", current.ID.String()),
		zap.String("successor_id", successor.ID.String()),
		zap.Time("end", end),
	)
	return nil
}

func (s *Service) SetRecurrenceEnd(ctx context.Context, tx *gorm.DB, id snowflake.ID, end time.Time) error {
	return s.repo.EndRecurrence(ctx, tx, id, end, nil)
}

// CancelEvent negates a one-time event. Cancellations must be issued
// strictly before the event's billing time; a repeat returns the first.
func (s *Service) CancelEvent(ctx context.Context, tx *gorm.DB, req domain.CancelEventRequest) (*domain.BillingCancellation, error) {
	event := req.Event
	if event == nil {
		return nil, domain.ErrBillingEventNotFound
	}
	existing, err := s.repo.FindCancellationForEvent(ctx, tx, event.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if !req.At.Before(event.BillingTime) {
		return nil, domain.ErrCancellationAfterBillingTime
	}

	eventID := event.ID
	cancellation := &domain.BillingCancellation{
		ID:               s.genID.Generate(),
		DomainID:         event.DomainID,
		TargetName:       event.TargetName,
		RegistrarID:      event.RegistrarID,
		Reason:           event.Reason,
		EventTime:        req.At,
		BillingTime:      event.BillingTime,
		BillingEventID:   &eventID,
		HistoryID:        req.HistoryID,
		StagedTransferID: req.StagedTransferID,
		CreatedAt:        s.clock.Now(),
	}
	if err := s.repo.InsertCancellation(ctx, tx, cancellation); err != nil {
		return nil, err
	}
	return cancellation, nil
}

// CancelOccurrence negates one autorenew occurrence of a recurrence, whether
// or not it has been expanded yet.
func (s *Service) CancelOccurrence(ctx context.Context, tx *gorm.DB, req domain.CancelOccurrenceRequest) (*domain.BillingCancellation, error) {
	recurrence := req.Recurrence
	if recurrence == nil {
		return nil, domain.ErrRecurrenceNotFound
	}
	existing, err := s.repo.FindCancellationForOccurrence(ctx, tx, recurrence.ID, req.OccurrenceTime)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if !req.At.Before(req.BillingTime) {
		return nil, domain.ErrCancellationAfterBillingTime
	}

	recurrenceID := recurrence.ID
	occurrence := req.OccurrenceTime
	cancellation := &domain.BillingCancellation{
		ID:                  s.genID.Generate(),
		DomainID:            recurrence.DomainID,
		TargetName:          recurrence.TargetName,
		RegistrarID:         recurrence.RegistrarID,
		Reason:              domain.ReasonRenew,
		EventTime:           req.At,
		BillingTime:         req.BillingTime,
		RecurrenceID:        &recurrenceID,
		RecurrenceEventTime: &occurrence,
		HistoryID:           req.HistoryID,
		StagedTransferID:    req.StagedTransferID,
		CreatedAt:           s.clock.Now(),
	}
	if err := s.repo.InsertCancellation(ctx, tx, cancellation); err != nil {
		return nil, err
	}
	return cancellation, nil
}

func (s *Service) Staged(ctx context.Context, tx *gorm.DB, transferID snowflake.ID) (*domain.StagedSet, error) {
	return s.repo.ListStaged(ctx, tx, transferID)
}

// PromoteStaged makes a transfer's pre-staged entities live and returns them.
func (s *Service) PromoteStaged(ctx context.Context, tx *gorm.DB, transferID snowflake.ID) (*domain.StagedSet, error) {
	set, err := s.repo.ListStaged(ctx, tx, transferID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.PromoteStaged(ctx, tx, transferID); err != nil {
		return nil, err
	}
	return set, nil
}

func (s *Service) DiscardStaged(ctx context.Context, tx *gorm.DB, transferID snowflake.ID) error {
	return s.repo.DeleteStaged(ctx, tx, transferID)
}

func (s *Service) DomainLedger(ctx context.Context, db *gorm.DB, domainID snowflake.ID) (*domain.Ledger, error) {
	if db == nil {
		db = s.db
	}
	events, err := s.repo.ListEvents(ctx, db, domainID)
	if err != nil {
		return nil, err
	}
	recurrences, err := s.repo.ListRecurrences(ctx, db, domainID)
	if err != nil {
		return nil, err
	}
	cancellations, err := s.repo.ListCancellations(ctx, db, domainID)
	if err != nil {
		return nil, err
	}
	return &domain.Ledger{Events: events, Recurrences: recurrences, Cancellations: cancellations}, nil
}

// ExpandRecurrences turns elapsed autorenew occurrences into one-time RENEW
// events. Safe to run concurrently and repeatedly.
func (s *Service) ExpandRecurrences(ctx context.Context, now time.Time, limit int) (domain.Expansion, error) {
	if s.expander == nil {
		return domain.Expansion{}, nil
	}
	return s.expander.Expand(ctx, s.db, now, limit)
}
