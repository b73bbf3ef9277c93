package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registry/internal/authinfo"
	billingdomain "github.com/smallbiznis/registry/internal/billing/domain"
	"github.com/smallbiznis/registry/internal/clock"
	"github.com/smallbiznis/registry/internal/command"
	"github.com/smallbiznis/registry/internal/domainname"
	"github.com/smallbiznis/registry/internal/pricing"
	registrardomain "github.com/smallbiznis/registry/internal/registrar/domain"
	regdomain "github.com/smallbiznis/registry/internal/registration/domain"
	"github.com/smallbiznis/registry/internal/registration/projection"
	"github.com/smallbiznis/registry/internal/task"
	"github.com/smallbiznis/registry/internal/timeline"
	tlddomain "github.com/smallbiznis/registry/internal/tld/domain"
	tokendomain "github.com/smallbiznis/registry/internal/token/domain"
	"github.com/smallbiznis/registry/internal/transfer/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Tlds       tlddomain.Store
	Registrars registrardomain.Service
	Tokens     tokendomain.Service
	Pricing    *pricing.Engine
	Billing    billingdomain.Service
	Domains    regdomain.Service
	Tasks      *task.Queue
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	tlds       tlddomain.Store
	registrars registrardomain.Service
	tokens     tokendomain.Service
	pricing    *pricing.Engine
	billing    billingdomain.Service
	domains    regdomain.Service
	tasks      *task.Queue
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("transfer.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		tlds:       p.Tlds,
		registrars: p.Registrars,
		tokens:     p.Tokens,
		pricing:    p.Pricing,
		billing:    p.Billing,
		domains:    p.Domains,
		tasks:      p.Tasks,
	}
}

// RegisterTasks binds the deadline reconciliation task to svc.
func RegisterTasks(q *task.Queue, svc domain.Service, clk clock.Clock) {
	q.Register(task.KindTransferResolve, func(ctx context.Context, tx *gorm.DB, t *task.DeferredTask) error {
		_, err := svc.ResolveDue(ctx, tx, t.SubjectID, clk.Now())
		return err
	})
}

func (s *Service) now(at time.Time) time.Time {
	if at.IsZero() {
		return s.clock.Now()
	}
	return at
}

// load reads the live domain for update without projecting it.
func (s *Service) load(ctx context.Context, tx *gorm.DB, raw string, now time.Time) (*regdomain.Domain, *tlddomain.Tld, error) {
	name, err := domainname.Normalize(raw)
	if err != nil {
		return nil, nil, err
	}
	d, err := s.domains.LoadByName(ctx, tx, name, now)
	if err != nil {
		return nil, nil, err
	}
	tld, err := s.tlds.Get(d.Tld)
	if err != nil {
		return nil, nil, err
	}
	return d, tld, nil
}

func (s *Service) Request(ctx context.Context, in domain.RequestInput) (*domain.Outcome, error) {
	now := s.now(in.Now)
	period, err := requestedPeriod(in)
	if err != nil {
		return nil, err
	}

	var out *domain.Outcome
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, tld, err := s.load(ctx, tx, in.DomainName, now)
		if err != nil {
			return err
		}
		if _, err := s.registrars.RequireTld(ctx, tx, in.RegistrarID, tld.Name); err != nil {
			return err
		}
		d, _, err = s.domains.Refresh(ctx, tx, d, tld, now)
		if err != nil {
			return err
		}

		if !in.Superuser && !authinfo.Verify(in.AuthInfo, d.AuthInfoHash) {
			return domain.ErrBadAuthInfo
		}
		if d.Transfer.Pending() {
			return domain.ErrAlreadyPending
		}
		if d.HasStatus(regdomain.StatusPendingDelete) ||
			d.HasStatus(regdomain.StatusClientTransferProhibited) ||
			d.HasStatus(regdomain.StatusServerTransferProhibited) {
			return domain.ErrStatusProhibits
		}
		if d.RegistrarID == in.RegistrarID {
			return domain.ErrAlreadySponsor
		}

		label, _, err := domainname.Split(d.Name)
		if err != nil {
			return err
		}
		losing, err := s.recurrence(ctx, tx, d.AutorenewRecurrenceID)
		if err != nil {
			return err
		}

		var token *tokendomain.AllocationToken
		if in.Token != "" {
			token, err = s.tokens.Validate(ctx, tx, in.Token, tokendomain.OperationContext{
				Command:     command.Transfer,
				DomainName:  d.Name,
				Tld:         tld.Name,
				RegistrarID: in.RegistrarID,
				Now:         now,
			})
			if err != nil {
				return err
			}
		}

		var fees *pricing.Fees
		if period > 0 {
			computed, err := s.pricing.ComputeCost(pricing.CostRequest{
				Tld:        tld,
				Command:    command.Transfer,
				Label:      label,
				Years:      period,
				At:         now,
				Token:      token,
				Recurrence: losing,
			})
			if err != nil {
				return err
			}
			if err := s.pricing.CheckDeclaredFee(in.DeclaredFee, computed); err != nil {
				return err
			}
			fees = &computed
		}

		pendingExp := now.Add(tld.AutomaticTransferLength)
		if in.ZeroWindow {
			pendingExp = now
		}
		transferredExp, subsumed := transferredExpiration(d, tld, pendingExp, period)

		history, err := s.domains.RecordHistory(ctx, tx, d, regdomain.HistoryEntry{
			Type:        regdomain.HistoryTransferRequest,
			RegistrarID: in.RegistrarID,
			PeriodYears: period,
			BySuperuser: in.Superuser,
			At:          now,
		})
		if err != nil {
			return err
		}

		transferID := s.genID.Generate()
		p := approvalPlan{
			domain:         d,
			tld:            tld,
			gaining:        in.RegistrarID,
			period:         period,
			losing:         losing,
			approvalTime:   pendingExp,
			issuedAt:       now,
			transferredExp: transferredExp,
			subsumed:       subsumed,
			historyID:      history.ID,
			stagedID:       &transferID,
		}
		if fees != nil {
			p.cost = &fees.Total
		}
		if token != nil {
			p.token = &token.Token
		}
		written, err := s.writeApproval(ctx, tx, p)
		if err != nil {
			return err
		}

		if err := s.notify(ctx, tx, d, d.RegistrarID, now, "Transfer requested.", regdomain.TransferPending, &history.ID, nil); err != nil {
			return err
		}
		for _, registrarID := range []string{in.RegistrarID, d.RegistrarID} {
			if err := s.notify(ctx, tx, d, registrarID, pendingExp, "Transfer approved.", regdomain.TransferServerApproved, &history.ID, &transferID); err != nil {
				return err
			}
		}

		if losing != nil {
			if err := s.billing.SetRecurrenceEnd(ctx, tx, losing.ID, pendingExp); err != nil {
				return err
			}
			d.AutorenewEndTime = pendingExp
		}

		requestTime := now
		var subsumedAt *time.Time
		if subsumed != nil {
			subsumedAt = subsumed.RecurrenceEventTime
		}
		d.Transfer = regdomain.TransferData{
			ID:                        &transferID,
			Status:                    regdomain.TransferPending,
			GainingRegistrarID:        in.RegistrarID,
			LosingRegistrarID:         d.RegistrarID,
			RequestTime:               &requestTime,
			RequestHistoryID:          &history.ID,
			PeriodYears:               period,
			PendingExpirationTime:     &pendingExp,
			TransferredExpirationTime: &transferredExp,
			LosingRecurrenceID:        d.AutorenewRecurrenceID,
			ServerApproveEventID:      written.eventID,
			ServerApproveRecurrenceID: &written.recurrenceID,
			SubsumedOccurrence:        subsumedAt,
			ClearBulkToken:            written.clearBulkToken,
		}
		d.AddStatus(regdomain.StatusPendingTransfer)

		if err := s.domains.Save(ctx, tx, d); err != nil {
			return err
		}
		if err := s.domains.PublishChanged(ctx, tx, d, history); err != nil {
			return err
		}
		if token != nil {
			if err := s.tokens.Redeem(ctx, tx, token, history.ID); err != nil {
				return err
			}
		}
		if err := s.tasks.Enqueue(ctx, tx, task.KindTransferResolve, d.ID, pendingExp, task.KindTransferResolve+":"+transferID.String()); err != nil {
			return err
		}

		if in.ZeroWindow {
			d, _, err = s.domains.Refresh(ctx, tx, d, tld, now)
			if err != nil {
				return err
			}
		}

		s.log.Info("transfer requested",
			zap.String("domain", d.Name),
			zap.String("transfer_id", transferID.String()),
			zap.String("gaining_registrar", in.RegistrarID),
			zap.Time("pending_expiration", pendingExp),
			zap.Bool("subsumed_autorenew", subsumed != nil),
		)
		out = &domain.Outcome{Domain: d, Status: d.Transfer.Status, Fees: fees}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func requestedPeriod(in domain.RequestInput) (int, error) {
	if (in.ZeroPeriod || in.ZeroWindow) && !in.Superuser {
		return 0, domain.ErrSuperuserRequired
	}
	if in.ZeroPeriod {
		if in.DeclaredFee != nil {
			return 0, domain.ErrFeeOnZeroPeriod
		}
		return 0, nil
	}
	if in.Years != 0 && in.Years != 1 {
		return 0, domain.ErrInvalidPeriod
	}
	return 1, nil
}

func (s *Service) recurrence(ctx context.Context, tx *gorm.DB, id *snowflake.ID) (*billingdomain.BillingRecurrence, error) {
	if id == nil {
		return nil, nil
	}
	return s.billing.Recurrence(ctx, tx, *id)
}

// transferredExpiration is the expiration a transfer approved at at would
// leave. An autorenewal still in its grace period at at is subsumed: the
// transfer period replaces it instead of stacking on top of it.
func transferredExpiration(d *regdomain.Domain, tld *tlddomain.Tld, at time.Time, period int) (time.Time, *regdomain.GracePeriod) {
	hypothetical := d.Clone()
	hypothetical.Transfer = regdomain.TransferData{}
	res := projection.Project(hypothetical, tld, at)

	exp := res.Domain.RegistrationExpirationTime
	if period == 0 {
		return exp, nil
	}
	var subsumed *regdomain.GracePeriod
	if g := res.Domain.Grace(regdomain.GraceAutoRenew, at); g != nil && g.RecurrenceEventTime != nil {
		grace := *g
		subsumed = &grace
		exp = exp.AddDate(-1, 0, 0)
	}
	exp = exp.AddDate(period, 0, 0)
	if limit := tld.MaxRegistrationHorizon(at); exp.After(limit) {
		exp = limit
	}
	return exp, subsumed
}

func (s *Service) notify(ctx context.Context, tx *gorm.DB, d *regdomain.Domain, registrarID string, at time.Time, msg string, status regdomain.TransferStatus, historyID, stagedID *snowflake.ID) error {
	return s.domains.Notify(ctx, tx, &regdomain.PollMessage{
		DomainID:         d.ID,
		RegistrarID:      registrarID,
		EventTime:        at,
		Message:          msg,
		TransferStatus:   status,
		HistoryID:        historyID,
		StagedTransferID: stagedID,
	})
}

func (s *Service) Approve(ctx context.Context, in domain.ActionInput) (*domain.Outcome, error) {
	return s.act(ctx, in.DomainName, s.now(in.Now), func(tx *gorm.DB, d *regdomain.Domain, tld *tlddomain.Tld, now time.Time) error {
		if !in.Superuser && in.RegistrarID != d.Transfer.LosingRegistrarID {
			return domain.ErrNotAuthorized
		}
		return s.approve(ctx, tx, d, tld, now, regdomain.TransferClientApproved, in.RegistrarID, in.Superuser)
	})
}

func (s *Service) Reject(ctx context.Context, in domain.ActionInput) (*domain.Outcome, error) {
	return s.act(ctx, in.DomainName, s.now(in.Now), func(tx *gorm.DB, d *regdomain.Domain, tld *tlddomain.Tld, now time.Time) error {
		if !in.Superuser && in.RegistrarID != d.Transfer.LosingRegistrarID {
			return domain.ErrNotAuthorized
		}
		return s.finishUnwind(ctx, tx, d, now, regdomain.TransferClientRejected, regdomain.HistoryTransferReject, in.RegistrarID, in.Superuser)
	})
}

func (s *Service) Cancel(ctx context.Context, in domain.ActionInput) (*domain.Outcome, error) {
	return s.act(ctx, in.DomainName, s.now(in.Now), func(tx *gorm.DB, d *regdomain.Domain, tld *tlddomain.Tld, now time.Time) error {
		if !in.Superuser && in.RegistrarID != d.Transfer.GainingRegistrarID {
			return domain.ErrNotAuthorized
		}
		return s.finishUnwind(ctx, tx, d, now, regdomain.TransferClientCancelled, regdomain.HistoryTransferCancel, in.RegistrarID, in.Superuser)
	})
}

func (s *Service) ForceResolve(ctx context.Context, domainName string, approve bool, now time.Time) (*domain.Outcome, error) {
	return s.act(ctx, domainName, s.now(now), func(tx *gorm.DB, d *regdomain.Domain, tld *tlddomain.Tld, now time.Time) error {
		if approve {
			return s.approve(ctx, tx, d, tld, now, regdomain.TransferServerApproved, d.Transfer.GainingRegistrarID, true)
		}
		return s.finishUnwind(ctx, tx, d, now, regdomain.TransferServerCancelled, regdomain.HistoryTransferCancel, d.Transfer.LosingRegistrarID, true)
	})
}

// act runs fn on a projected domain with a pending transfer.
func (s *Service) act(ctx context.Context, domainName string, now time.Time, fn func(tx *gorm.DB, d *regdomain.Domain, tld *tlddomain.Tld, now time.Time) error) (*domain.Outcome, error) {
	var out *domain.Outcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, tld, err := s.load(ctx, tx, domainName, now)
		if err != nil {
			return err
		}
		d, _, err = s.domains.Refresh(ctx, tx, d, tld, now)
		if err != nil {
			return err
		}
		if !d.Transfer.Pending() {
			return domain.ErrNotPending
		}
		if err := fn(tx, d, tld, now); err != nil {
			return err
		}
		out = &domain.Outcome{Domain: d, Status: d.Transfer.Status}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// approve resolves the transfer at now. The staged set was priced for the
// deadline, so it is discarded and rebuilt for the actual approval time with
// the staged charge carried over.
func (s *Service) approve(ctx context.Context, tx *gorm.DB, d *regdomain.Domain, tld *tlddomain.Tld, now time.Time, status regdomain.TransferStatus, actor string, superuser bool) error {
	t := d.Transfer
	transferID := *t.ID

	staged, err := s.billing.Staged(ctx, tx, transferID)
	if err != nil {
		return err
	}
	if err := s.billing.DiscardStaged(ctx, tx, transferID); err != nil {
		return err
	}
	if err := s.domains.DiscardStagedPollMessages(ctx, tx, transferID); err != nil {
		return err
	}

	losing, err := s.recurrence(ctx, tx, t.LosingRecurrenceID)
	if err != nil {
		return err
	}
	transferredExp, subsumed := transferredExpiration(d, tld, now, t.PeriodYears)

	history, err := s.domains.RecordHistory(ctx, tx, d, regdomain.HistoryEntry{
		Type:        regdomain.HistoryTransferApprove,
		RegistrarID: actor,
		PeriodYears: t.PeriodYears,
		BySuperuser: superuser,
		At:          now,
	})
	if err != nil {
		return err
	}

	p := approvalPlan{
		domain:         d,
		tld:            tld,
		gaining:        t.GainingRegistrarID,
		period:         t.PeriodYears,
		losing:         losing,
		approvalTime:   now,
		issuedAt:       now,
		transferredExp: transferredExp,
		subsumed:       subsumed,
		historyID:      history.ID,
	}
	for i := range staged.Events {
		if staged.Events[i].Reason == billingdomain.ReasonTransfer {
			cost := staged.Events[i].Cost
			p.cost = &cost
			p.token = staged.Events[i].AllocationToken
		}
	}
	if t.PeriodYears > 0 && p.cost == nil {
		return billingdomain.ErrBillingEventNotFound
	}
	written, err := s.writeApproval(ctx, tx, p)
	if err != nil {
		return err
	}
	if losing != nil {
		if err := s.billing.SetRecurrenceEnd(ctx, tx, losing.ID, now); err != nil {
			return err
		}
	}
	for _, registrarID := range []string{t.GainingRegistrarID, t.LosingRegistrarID} {
		if registrarID == actor {
			continue
		}
		if err := s.notify(ctx, tx, d, registrarID, now, "Transfer approved.", status, &history.ID, nil); err != nil {
			return err
		}
	}

	d.GracePeriods = nil
	if written.eventID != nil {
		d.GracePeriods = append(d.GracePeriods, regdomain.GracePeriod{
			DomainID:       d.ID,
			Type:           regdomain.GraceTransfer,
			ExpirationTime: now.Add(tld.TransferGracePeriod),
			RegistrarID:    t.GainingRegistrarID,
			BillingEventID: written.eventID,
		})
	}
	d.RegistrationExpirationTime = transferredExp
	d.RegistrarID = t.GainingRegistrarID
	d.AutorenewRecurrenceID = &written.recurrenceID
	d.AutorenewEndTime = timeline.EndOfTime
	d.LastTransferTime = &now
	if written.clearBulkToken {
		d.BulkToken = nil
	}
	d.RemoveStatus(regdomain.StatusPendingTransfer)

	d.Transfer.Status = status
	d.Transfer.ResolvedTime = &now
	d.Transfer.TransferredExpirationTime = &transferredExp
	d.Transfer.ServerApproveEventID = nil
	d.Transfer.ServerApproveRecurrenceID = nil

	if err := s.domains.Save(ctx, tx, d); err != nil {
		return err
	}
	s.log.Info("transfer approved",
		zap.String("domain", d.Name),
		zap.String("transfer_id", transferID.String()),
		zap.String("status", string(status)),
	)
	return s.domains.PublishChanged(ctx, tx, d, history)
}

func (s *Service) finishUnwind(ctx context.Context, tx *gorm.DB, d *regdomain.Domain, now time.Time, status regdomain.TransferStatus, historyType regdomain.HistoryType, actor string, superuser bool) error {
	history, err := s.domains.RecordHistory(ctx, tx, d, regdomain.HistoryEntry{
		Type:        historyType,
		RegistrarID: actor,
		BySuperuser: superuser,
		At:          now,
	})
	if err != nil {
		return err
	}
	if err := s.unwind(ctx, tx, d, now, status, &history.ID); err != nil {
		return err
	}
	if err := s.domains.Save(ctx, tx, d); err != nil {
		return err
	}
	s.log.Info("transfer unwound",
		zap.String("domain", d.Name),
		zap.String("status", string(status)),
	)
	return s.domains.PublishChanged(ctx, tx, d, history)
}

func (s *Service) ServerCancel(ctx context.Context, tx *gorm.DB, d *regdomain.Domain, at time.Time) error {
	if !d.Transfer.Pending() {
		return nil
	}
	return s.unwind(ctx, tx, d, at, regdomain.TransferServerCancelled, nil)
}

// unwind discards the staged set and gives the losing recurrence back its
// open end.
func (s *Service) unwind(ctx context.Context, tx *gorm.DB, d *regdomain.Domain, now time.Time, status regdomain.TransferStatus, historyID *snowflake.ID) error {
	t := d.Transfer
	transferID := *t.ID
	if err := s.billing.DiscardStaged(ctx, tx, transferID); err != nil {
		return err
	}
	if err := s.domains.DiscardStagedPollMessages(ctx, tx, transferID); err != nil {
		return err
	}
	if t.LosingRecurrenceID != nil {
		if err := s.billing.SetRecurrenceEnd(ctx, tx, *t.LosingRecurrenceID, timeline.EndOfTime); err != nil {
			return err
		}
		d.AutorenewEndTime = timeline.EndOfTime
	}

	var recipients []string
	var msg string
	switch status {
	case regdomain.TransferClientRejected:
		recipients, msg = []string{t.GainingRegistrarID}, "Transfer rejected."
	case regdomain.TransferClientCancelled:
		recipients, msg = []string{t.LosingRegistrarID}, "Transfer cancelled."
	default:
		recipients, msg = []string{t.GainingRegistrarID, t.LosingRegistrarID}, "Transfer cancelled by the registry."
	}
	for _, registrarID := range recipients {
		if err := s.notify(ctx, tx, d, registrarID, now, msg, status, historyID, nil); err != nil {
			return err
		}
	}

	d.RemoveStatus(regdomain.StatusPendingTransfer)
	d.Transfer.Status = status
	d.Transfer.ResolvedTime = &now
	d.Transfer.ServerApproveEventID = nil
	d.Transfer.ServerApproveRecurrenceID = nil
	return nil
}

func (s *Service) Query(ctx context.Context, in domain.ActionInput) (*domain.Outcome, error) {
	now := s.now(in.Now)
	d, tld, err := s.load(ctx, nil, in.DomainName, now)
	if err != nil {
		return nil, err
	}
	view := projection.Project(d, tld, now).Domain
	if view.Transfer.Status == regdomain.TransferNone {
		return nil, domain.ErrNoTransferHistory
	}
	t := view.Transfer
	if !in.Superuser && in.RegistrarID != t.GainingRegistrarID && in.RegistrarID != t.LosingRegistrarID &&
		!authinfo.Verify(in.AuthInfo, view.AuthInfoHash) {
		return nil, domain.ErrNotAuthorized
	}
	return &domain.Outcome{Domain: view, Status: t.Status}, nil
}

func (s *Service) ResolveDue(ctx context.Context, tx *gorm.DB, domainID snowflake.ID, now time.Time) (bool, error) {
	d, err := s.domains.Load(ctx, tx, domainID)
	if err != nil {
		return false, err
	}
	if !d.Transfer.DueAt(now) {
		return false, nil
	}
	tld, err := s.tlds.Get(d.Tld)
	if err != nil {
		return false, err
	}
	_, res, err := s.domains.Refresh(ctx, tx, d, tld, now)
	if err != nil {
		return false, err
	}
	if res.TransferApproved {
		s.log.Info("transfer approved by deadline", zap.String("domain", d.Name))
	}
	return res.TransferApproved, nil
}
