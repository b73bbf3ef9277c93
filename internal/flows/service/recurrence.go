package service

import (
	"context"

	billingdomain "github.com/smallbiznis/registry/internal/billing/domain"
	"github.com/smallbiznis/registry/internal/command"
	"github.com/smallbiznis/registry/internal/flows/domain"
	regdomain "github.com/smallbiznis/registry/internal/registration/domain"
	"github.com/smallbiznis/registry/internal/timeline"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UpdateRecurrence replaces the renewal pricing of a domain's active
// recurrence. Superuser only.
func (s *Service) UpdateRecurrence(ctx context.Context, cmd domain.Command) (*domain.Result, error) {
	return s.observe(ctx, cmd, func(ctx context.Context) (*domain.Result, error) {
		if !cmd.Superuser {
			return nil, domain.ErrSuperuserRequired
		}
		if !cmd.RenewalPriceBehavior.Valid() {
			return nil, billingdomain.ErrInvalidRenewalBehavior
		}
		now := s.now(cmd)

		var res *domain.Result
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			e, err := s.loadExisting(ctx, tx, cmd, now)
			if err != nil {
				return err
			}
			d := e.domain
			if d.Transfer.Pending() {
				return domain.ErrTransferPending
			}
			if d.HasStatus(regdomain.StatusPendingDelete) {
				return domain.ErrStatusProhibits
			}
			current, err := s.recurrence(ctx, tx, d.AutorenewRecurrenceID)
			if err != nil {
				return err
			}
			if current == nil {
				return billingdomain.ErrRecurrenceNotFound
			}

			history, err := s.domains.RecordHistory(ctx, tx, d, regdomain.HistoryEntry{
				Type:        regdomain.HistoryUpdate,
				RegistrarID: cmd.RegistrarID,
				BySuperuser: true,
				Reason:      cmd.Reason,
				At:          now,
			})
			if err != nil {
				return err
			}
			historyID := history.ID
			successor := &billingdomain.BillingRecurrence{
				DomainID:             d.ID,
				TargetName:           d.Name,
				RegistrarID:          d.RegistrarID,
				EventTime:            d.RegistrationExpirationTime,
				RenewalPriceBehavior: cmd.RenewalPriceBehavior,
				HistoryID:            &historyID,
			}
			successor.SetFixedPrice(cmd.RenewalPrice)
			if err := s.billing.Supersede(ctx, tx, current, now, successor); err != nil {
				return err
			}

			d.AutorenewRecurrenceID = &successor.ID
			d.AutorenewEndTime = timeline.EndOfTime
			if err := s.domains.Save(ctx, tx, d); err != nil {
				return err
			}
			if err := s.domains.PublishChanged(ctx, tx, d, history); err != nil {
				return err
			}

			s.log.Info("renewal pricing updated",
				zap.String("domain", d.Name),
				zap.String("behavior", string(cmd.RenewalPriceBehavior)),
				zap.String("recurrence_id", successor.ID.String()),
			)
			res = &domain.Result{Command: command.Update, Domain: domain.NewDomainView(d)}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}
