package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/registry/internal/billing/domain"
	"github.com/smallbiznis/registry/internal/clock"
	"github.com/smallbiznis/registry/internal/events"
	"github.com/smallbiznis/registry/internal/registration/domain"
	"github.com/smallbiznis/registry/internal/registration/projection"
	"github.com/smallbiznis/registry/internal/timeline"
	tlddomain "github.com/smallbiznis/registry/internal/tld/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Billing billingdomain.Service
	Outbox  *events.Outbox
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	billing billingdomain.Service
	outbox  *events.Outbox
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("registration.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		billing: p.Billing,
		outbox:  p.Outbox,
	}
}

func (s *Service) Create(ctx context.Context, tx *gorm.DB, d *domain.Domain) error {
	if d.ID == 0 {
		d.ID = s.genID.Generate()
	}
	if d.DeletionTime.IsZero() {
		d.DeletionTime = timeline.EndOfTime
	}
	if d.AutorenewEndTime.IsZero() {
		d.AutorenewEndTime = timeline.EndOfTime
	}
	if err := s.repo.InsertDomain(ctx, tx, d); err != nil {
		return err
	}
	return s.saveGraces(ctx, tx, d)
}

func (s *Service) Save(ctx context.Context, tx *gorm.DB, d *domain.Domain) error {
	if err := s.repo.UpdateDomain(ctx, tx, d); err != nil {
		return err
	}
	return s.saveGraces(ctx, tx, d)
}

func (s *Service) saveGraces(ctx context.Context, tx *gorm.DB, d *domain.Domain) error {
	now := s.clock.Now()
	for i := range d.GracePeriods {
		g := &d.GracePeriods[i]
		if g.ID == 0 {
			g.ID = s.genID.Generate()
		}
		g.DomainID = d.ID
		if g.CreatedAt.IsZero() {
			g.CreatedAt = now
		}
	}
	return s.repo.ReplaceGracePeriods(ctx, tx, d.ID, d.GracePeriods)
}

// Load reads a domain for update with its grace periods.
func (s *Service) Load(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Domain, error) {
	if tx == nil {
		tx = s.db
	}
	d, err := s.repo.FindDomain(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, domain.ErrDomainNotFound
	}
	return s.withGraces(ctx, tx, d)
}

// LoadByName reads the registration of name live at at.
func (s *Service) LoadByName(ctx context.Context, tx *gorm.DB, name string, at time.Time) (*domain.Domain, error) {
	if tx == nil {
		tx = s.db
	}
	d, err := s.repo.FindLiveDomainByName(ctx, tx, name, at, true)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, domain.ErrDomainNotFound
	}
	return s.withGraces(ctx, tx, d)
}

func (s *Service) withGraces(ctx context.Context, tx *gorm.DB, d *domain.Domain) (*domain.Domain, error) {
	graces, err := s.repo.ListGracePeriods(ctx, tx, d.ID)
	if err != nil {
		return nil, err
	}
	d.GracePeriods = graces
	return d, nil
}

func (s *Service) Exists(ctx context.Context, tx *gorm.DB, name string, at time.Time) (bool, error) {
	if tx == nil {
		tx = s.db
	}
	d, err := s.repo.FindLiveDomainByName(ctx, tx, name, at, false)
	if err != nil {
		return false, err
	}
	return d != nil, nil
}

func (s *Service) Refresh(ctx context.Context, tx *gorm.DB, d *domain.Domain, tld *tlddomain.Tld, at time.Time) (*domain.Domain, domain.Projection, error) {
	res := projection.Project(d, tld, at)
	summary := domain.Projection{
		TransferApproved: res.TransferApproved,
		AutorenewYears:   len(res.AutorenewOccurrences),
		DroppedGraces:    len(res.DroppedGraces),
	}
	if !res.Changed() {
		return res.Domain, summary, nil
	}
	out := res.Domain

	var approval *domain.DomainHistory
	if res.TransferApproved {
		transferID := *out.Transfer.ID
		if _, err := s.billing.PromoteStaged(ctx, tx, transferID); err != nil {
			return nil, summary, err
		}
		if err := s.PromoteStagedPollMessages(ctx, tx, transferID); err != nil {
			return nil, summary, err
		}
		h, err := s.RecordHistory(ctx, tx, out, domain.HistoryEntry{
			Type:        domain.HistoryTransferAutoDone,
			RegistrarID: out.Transfer.GainingRegistrarID,
			PeriodYears: out.Transfer.PeriodYears,
			Reason:      "automatic transfer approval",
			At:          *out.Transfer.PendingExpirationTime,
		})
		if err != nil {
			return nil, summary, err
		}
		approval = h
	}

	if n := len(res.AutorenewOccurrences); n > 0 {
		if _, err := s.RecordHistory(ctx, tx, out, domain.HistoryEntry{
			Type:        domain.HistoryAutorenew,
			RegistrarID: out.RegistrarID,
			PeriodYears: n,
			At:          res.AutorenewOccurrences[n-1],
		}); err != nil {
			return nil, summary, err
		}
	}

	if err := s.Save(ctx, tx, out); err != nil {
		return nil, summary, err
	}
	if approval != nil {
		if err := s.PublishChanged(ctx, tx, out, approval); err != nil {
			return nil, summary, err
		}
	}

	s.log.Debug("domain projected",
		zap.String("domain", out.Name),
		zap.Time("at", at),
		zap.Bool("transfer_approved", summary.TransferApproved),
		zap.Int("autorenew_years", summary.AutorenewYears),
		zap.Int("dropped_graces", summary.DroppedGraces),
	)
	return out, summary, nil
}

func (s *Service) DueTransfers(ctx context.Context, at time.Time, limit int) ([]snowflake.ID, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListDuePendingTransfers(ctx, s.db, at, limit)
}

func (s *Service) RecordHistory(ctx context.Context, tx *gorm.DB, d *domain.Domain, entry domain.HistoryEntry) (*domain.DomainHistory, error) {
	at := entry.At
	if at.IsZero() {
		at = s.clock.Now()
	}
	h := &domain.DomainHistory{
		ID:               s.genID.Generate(),
		DomainID:         d.ID,
		Type:             entry.Type,
		RegistrarID:      entry.RegistrarID,
		PeriodYears:      entry.PeriodYears,
		BySuperuser:      entry.BySuperuser,
		Reason:           entry.Reason,
		ModificationTime: at,
		CreatedAt:        s.clock.Now(),
	}
	if err := s.repo.InsertHistory(ctx, tx, h); err != nil {
		return nil, err
	}
	return h, nil
}

func (s *Service) History(ctx context.Context, db *gorm.DB, domainID snowflake.ID) ([]domain.DomainHistory, error) {
	if db == nil {
		db = s.db
	}
	return s.repo.ListHistory(ctx, db, domainID)
}

// Notify queues a poll message. Staged messages stay invisible, and are not
// announced, until their transfer is approved.
func (s *Service) Notify(ctx context.Context, tx *gorm.DB, msg *domain.PollMessage) error {
	if msg.ID == 0 {
		msg.ID = s.genID.Generate()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.clock.Now()
	}
	if err := s.repo.InsertPollMessage(ctx, tx, msg); err != nil {
		return err
	}
	if msg.StagedTransferID != nil {
		return nil
	}
	return s.announcePoll(ctx, tx, msg)
}

func (s *Service) PollMessages(ctx context.Context, db *gorm.DB, registrarID string) ([]domain.PollMessage, error) {
	if db == nil {
		db = s.db
	}
	return s.repo.ListPollMessages(ctx, db, registrarID)
}

func (s *Service) PromoteStagedPollMessages(ctx context.Context, tx *gorm.DB, transferID snowflake.ID) error {
	staged, err := s.repo.ListStagedPollMessages(ctx, tx, transferID)
	if err != nil {
		return err
	}
	if err := s.repo.PromoteStagedPollMessages(ctx, tx, transferID); err != nil {
		return err
	}
	for i := range staged {
		if err := s.announcePoll(ctx, tx, &staged[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) DiscardStagedPollMessages(ctx context.Context, tx *gorm.DB, transferID snowflake.ID) error {
	return s.repo.DeleteStagedPollMessages(ctx, tx, transferID)
}

func (s *Service) announcePoll(ctx context.Context, tx *gorm.DB, msg *domain.PollMessage) error {
	return s.outbox.PublishTx(ctx, tx, events.Event{
		Type:        events.EventPollMessageCreated,
		AggregateID: msg.DomainID,
		DedupeKey:   events.EventPollMessageCreated + ":" + msg.ID.String(),
		Payload: map[string]any{
			"poll_message_id": msg.ID.String(),
			"registrar_id":    msg.RegistrarID,
			"event_time":      msg.EventTime,
			"message":         msg.Message,
		},
	})
}

func (s *Service) PublishChanged(ctx context.Context, tx *gorm.DB, d *domain.Domain, history *domain.DomainHistory) error {
	return s.outbox.PublishTx(ctx, tx, events.Event{
		Type:        events.EventDomainChanged,
		AggregateID: d.ID,
		DedupeKey:   events.EventDomainChanged + ":" + history.ID.String(),
		Payload: map[string]any{
			"domain_id":    d.ID.String(),
			"name":         d.Name,
			"tld":          d.Tld,
			"registrar_id": d.RegistrarID,
			"change":       string(history.Type),
			"statuses":     []string(d.Statuses),
		},
	})
}
