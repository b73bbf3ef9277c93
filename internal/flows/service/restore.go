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

// Restore brings a domain back from its redemption grace period. An
// expired registration is renewed for one year as part of the restore.
func (s *Service) Restore(ctx context.Context, cmd domain.Command) (*domain.Result, error) {
	return s.observe(ctx, cmd, func(ctx context.Context) (*domain.Result, error) {
		now := s.now(cmd)

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
			if !d.HasStatus(regdomain.StatusPendingDelete) || d.Grace(regdomain.GraceRedemption, now) == nil {
				return domain.ErrNotInRedemption
			}

			expired := !now.Before(d.RegistrationExpirationTime)
			expires := d.RegistrationExpirationTime
			if expired {
				if expires, err = cappedExpiration(tld, expires, 1, now); err != nil {
					return err
				}
			}

			last, err := s.recurrence(ctx, tx, d.AutorenewRecurrenceID)
			if err != nil {
				return err
			}
			var token *tokendomain.AllocationToken
			if cmd.Token != "" {
				token, err = s.tokens.Validate(ctx, tx, cmd.Token, tokendomain.OperationContext{
					Command:     command.Restore,
					DomainName:  d.Name,
					Tld:         tld.Name,
					RegistrarID: cmd.RegistrarID,
					Now:         now,
				})
				if err != nil {
					return err
				}
			}
			fees, err := s.pricing.ComputeCost(pricing.CostRequest{
				Tld:        tld,
				Command:    command.Restore,
				Label:      e.label,
				At:         now,
				Token:      token,
				Recurrence: last,
				Expired:    expired,
			})
			if err != nil {
				return err
			}
			if err := s.pricing.CheckDeclaredFee(cmd.DeclaredFee, fees); err != nil {
				return err
			}

			history, err := s.domains.RecordHistory(ctx, tx, d, regdomain.HistoryEntry{
				Type:        regdomain.HistoryRestore,
				RegistrarID: cmd.RegistrarID,
				BySuperuser: cmd.Superuser,
				At:          now,
			})
			if err != nil {
				return err
			}
			historyID := history.ID

			if err := s.billing.RecordEvent(ctx, tx, &billingdomain.BillingEvent{
				Reason:          billingdomain.ReasonRestore,
				DomainID:        d.ID,
				TargetName:      d.Name,
				RegistrarID:     d.RegistrarID,
				Cost:            fees.Cost(pricing.FeeRestore),
				EventTime:       now,
				BillingTime:     now,
				Flags:           tokenFlags(token),
				AllocationToken: tokenRef(token),
				HistoryID:       &historyID,
			}); err != nil {
				return err
			}
			if expired {
				if err := s.billing.RecordEvent(ctx, tx, &billingdomain.BillingEvent{
					Reason:      billingdomain.ReasonRenew,
					DomainID:    d.ID,
					TargetName:  d.Name,
					RegistrarID: d.RegistrarID,
					Cost:        fees.Cost(pricing.FeeRenew),
					PeriodYears: 1,
					EventTime:   now,
					BillingTime: now,
					HistoryID:   &historyID,
				}); err != nil {
					return err
				}
			}

			successor := &billingdomain.BillingRecurrence{
				DomainID:    d.ID,
				TargetName:  d.Name,
				RegistrarID: d.RegistrarID,
				EventTime:   expires,
				HistoryID:   &historyID,
			}
			inheritRenewal(successor, last)
			if last != nil && last.SupersededBy == nil {
				err = s.billing.Supersede(ctx, tx, last, now, successor)
			} else {
				err = s.billing.OpenRecurrence(ctx, tx, successor)
			}
			if err != nil {
				return err
			}

			d.RemoveStatus(regdomain.StatusPendingDelete)
			d.DeletionTime = timeline.EndOfTime
			d.RegistrationExpirationTime = expires
			d.AutorenewRecurrenceID = &successor.ID
			d.AutorenewEndTime = timeline.EndOfTime
			d.GracePeriods = nil
			if err := s.domains.Save(ctx, tx, d); err != nil {
				return err
			}
			if err := s.redeem(ctx, tx, token, history.ID); err != nil {
				return err
			}
			if err := s.domains.PublishChanged(ctx, tx, d, history); err != nil {
				return err
			}

			s.log.Info("domain restored",
				zap.String("domain", d.Name),
				zap.Bool("expired", expired),
				zap.String("total", fees.Total.String()),
			)
			res = &domain.Result{Command: command.Restore, Domain: domain.NewDomainView(d), Fees: &fees}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}
