package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/registry/internal/billing/domain"
	"github.com/smallbiznis/registry/internal/money"
	regdomain "github.com/smallbiznis/registry/internal/registration/domain"
	"github.com/smallbiznis/registry/internal/timeline"
	tlddomain "github.com/smallbiznis/registry/internal/tld/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// approvalPlan is the ledger write set of an approved transfer. With stagedID
// set the rows are written as server-approve entities of that transfer.
type approvalPlan struct {
	domain         *regdomain.Domain
	tld            *tlddomain.Tld
	gaining        string
	period         int
	cost           *money.Money
	token          *string
	losing         *billingdomain.BillingRecurrence
	approvalTime   time.Time
	issuedAt       time.Time
	transferredExp time.Time
	subsumed       *regdomain.GracePeriod
	historyID      snowflake.ID
	stagedID       *snowflake.ID
}

type approvalRows struct {
	eventID        *snowflake.ID
	recurrenceID   snowflake.ID
	clearBulkToken bool
}

func (s *Service) writeApproval(ctx context.Context, tx *gorm.DB, p approvalPlan) (approvalRows, error) {
	var rows approvalRows
	d := p.domain
	historyID := p.historyID

	if p.period > 0 && p.cost != nil {
		var flags datatypes.JSONSlice[string]
		if p.token != nil {
			flags = append(flags, string(billingdomain.FlagAllocationToken))
		}
		event := &billingdomain.BillingEvent{
			Reason:           billingdomain.ReasonTransfer,
			DomainID:         d.ID,
			TargetName:       d.Name,
			RegistrarID:      p.gaining,
			Cost:             *p.cost,
			PeriodYears:      p.period,
			EventTime:        p.approvalTime,
			BillingTime:      p.approvalTime.Add(p.tld.TransferGracePeriod),
			Flags:            flags,
			AllocationToken:  p.token,
			HistoryID:        &historyID,
			StagedTransferID: p.stagedID,
		}
		if err := s.billing.RecordEvent(ctx, tx, event); err != nil {
			return rows, err
		}
		rows.eventID = &event.ID
	}

	if p.subsumed != nil && p.losing != nil {
		if _, err := s.billing.CancelOccurrence(ctx, tx, billingdomain.CancelOccurrenceRequest{
			Recurrence:       p.losing,
			OccurrenceTime:   *p.subsumed.RecurrenceEventTime,
			BillingTime:      p.subsumed.ExpirationTime,
			At:               p.issuedAt,
			HistoryID:        &historyID,
			StagedTransferID: p.stagedID,
		}); err != nil {
			return rows, err
		}
	}

	behavior, price, reset := carryOver(p.losing, d)
	successor := &billingdomain.BillingRecurrence{
		DomainID:             d.ID,
		TargetName:           d.Name,
		RegistrarID:          p.gaining,
		EventTime:            p.transferredExp,
		RecurrenceEndTime:    timeline.EndOfTime,
		RenewalPriceBehavior: behavior,
		HistoryID:            &historyID,
		StagedTransferID:     p.stagedID,
	}
	successor.SetFixedPrice(price)
	if err := s.billing.OpenRecurrence(ctx, tx, successor); err != nil {
		return rows, err
	}
	rows.recurrenceID = successor.ID
	rows.clearBulkToken = reset
	return rows, nil
}

// carryOver decides the renewal pricing of the gaining registrar's
// recurrence. It inherits the losing recurrence verbatim, except that a
// bulk pricing token on the domain resets it to DEFAULT and is cleared.
func carryOver(losing *billingdomain.BillingRecurrence, d *regdomain.Domain) (billingdomain.RenewalPriceBehavior, *money.Money, bool) {
	if d.BulkToken != nil {
		return billingdomain.RenewalDefault, nil, true
	}
	if losing == nil {
		return billingdomain.RenewalDefault, nil, false
	}
	if price, ok := losing.FixedPrice(); ok {
		return losing.RenewalPriceBehavior, &price, false
	}
	return losing.RenewalPriceBehavior, nil, false
}
