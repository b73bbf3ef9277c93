package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/registry/internal/billing/domain"
	"github.com/smallbiznis/registry/internal/command"
	"github.com/smallbiznis/registry/internal/flows/domain"
	regdomain "github.com/smallbiznis/registry/internal/registration/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Delete removes a registration immediately inside its add grace period.
// Otherwise the domain enters PENDING_DELETE and can be restored until its
// redemption grace period ends.
func (s *Service) Delete(ctx context.Context, cmd domain.Command) (*domain.Result, error) {
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
			if d.HasStatus(regdomain.StatusPendingDelete) ||
				prohibited(cmd, d, regdomain.StatusClientDeleteProhibited, regdomain.StatusServerDeleteProhibited) {
				return domain.ErrStatusProhibits
			}

			history, err := s.domains.RecordHistory(ctx, tx, d, regdomain.HistoryEntry{
				Type:        regdomain.HistoryDelete,
				RegistrarID: cmd.RegistrarID,
				BySuperuser: cmd.Superuser,
				At:          now,
			})
			if err != nil {
				return err
			}
			if err := s.transfers.ServerCancel(ctx, tx, d, now); err != nil {
				return err
			}

			immediate := d.Grace(regdomain.GraceAdd, now) != nil
			autorenewRefunded := false
			for i := range d.GracePeriods {
				g := &d.GracePeriods[i]
				if !g.Type.Refundable() || !g.ActiveAt(now) {
					continue
				}
				if err := s.refundGrace(ctx, tx, g, now, history.ID); err != nil {
					return err
				}
				if g.Type == regdomain.GraceAutoRenew {
					autorenewRefunded = true
				}
			}
			if d.AutorenewRecurrenceID != nil {
				if err := s.billing.SetRecurrenceEnd(ctx, tx, *d.AutorenewRecurrenceID, now); err != nil {
					return err
				}
				d.AutorenewEndTime = now
			}

			if immediate {
				d.DeletionTime = now
				d.GracePeriods = nil
			} else {
				if autorenewRefunded {
					d.RegistrationExpirationTime = d.RegistrationExpirationTime.AddDate(-1, 0, 0)
				}
				redemptionEnd := now.Add(tld.RedemptionGracePeriod)
				d.DeletionTime = redemptionEnd.Add(tld.PendingDeleteLength)
				d.AddStatus(regdomain.StatusPendingDelete)
				d.GracePeriods = []regdomain.GracePeriod{
					{
						DomainID:       d.ID,
						Type:           regdomain.GraceRedemption,
						ExpirationTime: redemptionEnd,
						RegistrarID:    d.RegistrarID,
					},
					{
						DomainID:       d.ID,
						Type:           regdomain.GracePendingDelete,
						ExpirationTime: d.DeletionTime,
						RegistrarID:    d.RegistrarID,
					},
				}
			}

			if err := s.domains.Save(ctx, tx, d); err != nil {
				return err
			}
			if err := s.domains.PublishChanged(ctx, tx, d, history); err != nil {
				return err
			}

			s.log.Info("domain deleted",
				zap.String("domain", d.Name),
				zap.Bool("immediate", immediate),
				zap.Time("deletion_time", d.DeletionTime),
			)
			res = &domain.Result{Command: command.Delete, Domain: domain.NewDomainView(d), Deleted: immediate}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}

// refundGrace cancels the charge a refundable grace period points at.
func (s *Service) refundGrace(ctx context.Context, tx *gorm.DB, g *regdomain.GracePeriod, now time.Time, historyID snowflake.ID) error {
	switch {
	case g.BillingEventID != nil:
		event, err := s.billing.Event(ctx, tx, *g.BillingEventID)
		if err != nil {
			return err
		}
		_, err = s.billing.CancelEvent(ctx, tx, billingdomain.CancelEventRequest{
			Event:     event,
			At:        now,
			HistoryID: &historyID,
		})
		return err
	case g.RecurrenceID != nil && g.RecurrenceEventTime != nil:
		recurrence, err := s.billing.Recurrence(ctx, tx, *g.RecurrenceID)
		if err != nil {
			return err
		}
		_, err = s.billing.CancelOccurrence(ctx, tx, billingdomain.CancelOccurrenceRequest{
			Recurrence:     recurrence,
			OccurrenceTime: *g.RecurrenceEventTime,
			BillingTime:    g.ExpirationTime,
			At:             now,
			HistoryID:      &historyID,
		})
		return err
	default:
		return nil
	}
}
