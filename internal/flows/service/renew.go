package service

import (
	"context"

	billingdomain "github.com/smallbiznis/registry/internal/billing/domain"
	"github.com/smallbiznis/registry/internal/command"
	"github.com/smallbiznis/registry/internal/flows/domain"
	"github.com/smallbiznis/registry/internal/pricing"
	regdomain "github.com/smallbiznis/registry/internal/registration/domain"
	"github.com/smallbiznis/registry/internal/timeline"
	tokendomain "github.com/smallbiznis/registry/internal/token/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) Renew(ctx context.Context, cmd domain.Command) (*domain.Result, error) {
	return s.observe(ctx, cmd, func(ctx context.Context) (*domain.Result, error) {
		now := s.now(cmd)
		years := cmd.Years
		if years == 0 {
			years = 1
		}
		if years < 1 {
			return nil, pricing.ErrInvalidYears
		}

		var res *domain.Result
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			e, err := s.loadExisting(ctx, tx, cmd, now)
			if err != nil {
				return err
			}
			d, tld := e.domain, e.tld
			if err := s.requireSponsor(cmd, d); err != nil {
				return err
			}
			if d.HasStatus(regdomain.StatusPendingDelete) ||
				prohibited(cmd, d, regdomain.StatusClientRenewProhibited, regdomain.StatusServerRenewProhibited) {
				return domain.ErrStatusProhibits
			}
			if d.Transfer.Pending() {
				return domain.ErrTransferPending
			}
			if cmd.CurrentExpiration != nil && !sameDate(*cmd.CurrentExpiration, d.RegistrationExpirationTime) {
				return domain.ErrExpirationMismatch
			}
			expires, err := cappedExpiration(tld, d.RegistrationExpirationTime, years, now)
			if err != nil {
				return err
			}

			current, err := s.recurrence(ctx, tx, d.AutorenewRecurrenceID)
			if err != nil {
				return err
			}
			token, err := s.resolveToken(ctx, tx, cmd, tld, tokendomain.OperationContext{
				Command:     command.Renew,
				DomainName:  d.Name,
				Tld:         tld.Name,
				RegistrarID: cmd.RegistrarID,
				Now:         now,
			})
			if err != nil {
				return err
			}
			fees, err := s.pricing.ComputeCost(pricing.CostRequest{
				Tld:        tld,
				Command:    command.Renew,
				Label:      e.label,
				Years:      years,
				At:         now,
				Token:      token,
				Recurrence: current,
			})
			if err != nil {
				return err
			}
			if err := s.pricing.CheckDeclaredFee(cmd.DeclaredFee, fees); err != nil {
				return err
			}

			history, err := s.domains.RecordHistory(ctx, tx, d, regdomain.HistoryEntry{
				Type:        regdomain.HistoryRenew,
				RegistrarID: cmd.RegistrarID,
				PeriodYears: years,
				BySuperuser: cmd.Superuser,
				At:          now,
			})
			if err != nil {
				return err
			}
			historyID := history.ID

			event := &billingdomain.BillingEvent{
				Reason:          billingdomain.ReasonRenew,
				DomainID:        d.ID,
				TargetName:      d.Name,
				RegistrarID:     d.RegistrarID,
				Cost:            fees.Total,
				PeriodYears:     years,
				EventTime:       now,
				BillingTime:     now.Add(tld.RenewGracePeriod),
				Flags:           tokenFlags(token),
				AllocationToken: tokenRef(token),
				HistoryID:       &historyID,
			}
			if err := s.billing.RecordEvent(ctx, tx, event); err != nil {
				return err
			}

			successor := &billingdomain.BillingRecurrence{
				DomainID:    d.ID,
				TargetName:  d.Name,
				RegistrarID: d.RegistrarID,
				EventTime:   expires,
				HistoryID:   &historyID,
			}
			inheritRenewal(successor, current)
			applyTokenRenewal(successor, token)
			if current != nil {
				err = s.billing.Supersede(ctx, tx, current, now, successor)
			} else {
				err = s.billing.OpenRecurrence(ctx, tx, successor)
			}
			if err != nil {
				return err
			}

			d.RegistrationExpirationTime = expires
			d.AutorenewRecurrenceID = &successor.ID
			d.AutorenewEndTime = timeline.EndOfTime
			d.GracePeriods = append(d.GracePeriods, regdomain.GracePeriod{
				DomainID:       d.ID,
				Type:           regdomain.GraceRenew,
				ExpirationTime: now.Add(tld.RenewGracePeriod),
				RegistrarID:    d.RegistrarID,
				BillingEventID: &event.ID,
			})
			if err := s.domains.Save(ctx, tx, d); err != nil {
				return err
			}
			if err := s.redeem(ctx, tx, token, history.ID); err != nil {
				return err
			}
			if err := s.domains.PublishChanged(ctx, tx, d, history); err != nil {
				return err
			}

			s.log.Info("domain renewed",
				zap.String("domain", d.Name),
				zap.Int("years", years),
				zap.Time("expiration", expires),
				zap.String("total", fees.Total.String()),
			)
			res = &domain.Result{Command: command.Renew, Domain: domain.NewDomainView(d), Fees: &fees}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}

// inheritRenewal copies the renewal pricing of the recurrence being
// replaced. A missing recurrence leaves DEFAULT pricing.
func inheritRenewal(r *billingdomain.BillingRecurrence, from *billingdomain.BillingRecurrence) {
	r.RenewalPriceBehavior = billingdomain.RenewalDefault
	if from == nil {
		return
	}
	r.RenewalPriceBehavior = from.RenewalPriceBehavior
	if price, ok := from.FixedPrice(); ok {
		r.SetFixedPrice(&price)
	}
}
