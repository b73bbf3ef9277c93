package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registry/internal/billing/domain"
	"github.com/smallbiznis/registry/internal/command"
	"github.com/smallbiznis/registry/internal/domainname"
	"github.com/smallbiznis/registry/internal/pricing"
	tlddomain "github.com/smallbiznis/registry/internal/tld/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ExpanderParam struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Tlds    tlddomain.Store
	Pricing *pricing.Engine
}

// Expander materializes recurrence occurrences as billing events.
type Expander struct {
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	tlds    tlddomain.Store
	pricing *pricing.Engine
}

func NewExpander(p ExpanderParam) *Expander {
	return &Expander{
		log:     p.Log.Named("billing.expansion"),
		genID:   p.GenID,
		repo:    p.Repo,
		tlds:    p.Tlds,
		pricing: p.Pricing,
	}
}

// Expand claims up to limit recurrences and writes one RENEW event per
// occurrence in (lastExpansion, now] before the recurrence end. Occurrences
// already cancelled are skipped. Every claimed recurrence is stamped with now.
func (e *Expander) Expand(ctx context.Context, db *gorm.DB, now time.Time, limit int) (domain.Expansion, error) {
	if limit <= 0 {
		limit = 100
	}
	var out domain.Expansion
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		recurrences, err := e.repo.ClaimRecurrencesForExpansion(ctx, tx, now, limit)
		if err != nil {
			return err
		}
		out.Claimed = len(recurrences)
		for i := range recurrences {
			n, err := e.expandOne(ctx, tx, &recurrences[i], now)
			if err != nil {
				e.log.Warn("recurrence expansion skipped",
					zap.String("recurrence_id", recurrences[i].ID.String()),
					zap.Error(err),
				)
				continue
			}
			out.Written += n
		}
		return nil
	})
	if err != nil {
		return domain.Expansion{}, err
	}
	return out, nil
}

func (e *Expander) expandOne(ctx context.Context, tx *gorm.DB, r *domain.BillingRecurrence, now time.Time) (int, error) {
	label, suffix, err := domainname.Split(r.TargetName)
	if err != nil {
		return 0, err
	}
	tld, err := e.tlds.Get(suffix)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, occurrence := range Occurrences(r, now) {
		cancelled, err := e.repo.FindCancellationForOccurrence(ctx, tx, r.ID, occurrence)
		if err != nil {
			return written, err
		}
		if cancelled != nil && cancelled.StagedTransferID == nil {
			continue
		}

		fees, err := e.pricing.ComputeCost(pricing.CostRequest{
			Tld:        tld,
			Command:    command.Renew,
			Label:      label,
			Years:      1,
			At:         occurrence,
			Recurrence: r,
		})
		if err != nil {
			return written, err
		}

		recurrenceID := r.ID
		event := &domain.BillingEvent{
			ID:           e.genID.Generate(),
			Reason:       domain.ReasonRenew,
			DomainID:     r.DomainID,
			TargetName:   r.TargetName,
			RegistrarID:  r.RegistrarID,
			Cost:         fees.Total,
			PeriodYears:  1,
			EventTime:    occurrence,
			BillingTime:  occurrence.Add(tld.AutoRenewGracePeriod),
			Flags:        datatypes.JSONSlice[string]{string(domain.FlagAutoRenew)},
			RecurrenceID: &recurrenceID,
			CreatedAt:    now,
		}
		inserted, err := e.repo.InsertEventIfAbsent(ctx, tx, event)
		if err != nil {
			return written, err
		}
		if inserted {
			written++
		}
	}
	if err := e.repo.TouchExpansion(ctx, tx, r.ID, now); err != nil {
		return written, err
	}
	return written, nil
}

// Occurrences lists anniversaries of r's event time that fall after its last
// expansion, at or before now and strictly before its end.
func Occurrences(r *domain.BillingRecurrence, now time.Time) []time.Time {
	var out []time.Time
	for k := 0; ; k++ {
		occurrence := r.EventTime.AddDate(k, 0, 0)
		if occurrence.After(now) || !occurrence.Before(r.RecurrenceEndTime) {
			break
		}
		if occurrence.After(r.LastExpansion) {
			out = append(out, occurrence)
		}
	}
	return out
}
