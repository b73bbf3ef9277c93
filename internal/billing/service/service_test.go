package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registry/internal/billing/domain"
	"github.com/smallbiznis/registry/internal/billing/repository"
	"github.com/smallbiznis/registry/internal/clock"
	"github.com/smallbiznis/registry/internal/config"
	"github.com/smallbiznis/registry/internal/money"
	"github.com/smallbiznis/registry/internal/pricing"
	"github.com/smallbiznis/registry/internal/timeline"
	"github.com/smallbiznis/registry/internal/tld/tldtest"
	"github.com/smallbiznis/registry/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var now = time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	db   *gorm.DB
	svc  domain.Service
	node *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn, err := db.NewTest(&domain.BillingEvent{}, &domain.BillingRecurrence{}, &domain.BillingCancellation{})
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	repo := repository.Provide()
	expander := NewExpander(ExpanderParam{
		Log:     zap.NewNop(),
		GenID:   node,
		Repo:    repo,
		Tlds:    tldtest.Store(),
		Pricing: pricing.NewEngine(config.Config{}),
	})
	svc := NewService(ServiceParam{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.NewFakeClock(now),
		Repo:     repo,
		Expander: expander,
	})
	return &fixture{db: conn, svc: svc, node: node}
}

func (f *fixture) createEvent(t *testing.T, domainID snowflake.ID, billingTime time.Time) *domain.BillingEvent {
	t.Helper()
	event := &domain.BillingEvent{
		Reason:      domain.ReasonCreate,
		DomainID:    domainID,
		TargetName:  "foo.example",
		RegistrarID: "registrar-a",
		Cost:        money.MustParse("USD", "13.00"),
		PeriodYears: 1,
		EventTime:   now.Add(-time.Hour),
		BillingTime: billingTime,
	}
	require.NoError(t, f.svc.RecordEvent(context.Background(), f.db, event))
	require.NotZero(t, event.ID)
	return event
}

func (f *fixture) openRecurrence(t *testing.T, domainID snowflake.ID, eventTime time.Time) *domain.BillingRecurrence {
	t.Helper()
	recurrence := &domain.BillingRecurrence{
		DomainID:    domainID,
		TargetName:  "foo.example",
		RegistrarID: "registrar-a",
		EventTime:   eventTime,
	}
	require.NoError(t, f.svc.OpenRecurrence(context.Background(), f.db, recurrence))
	return recurrence
}

func TestCancelEventBeforeBillingTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	domainID := f.node.Generate()

	event := f.createEvent(t, domainID, now.Add(24*time.Hour))
	first, err := f.svc.CancelEvent(ctx, f.db, domain.CancelEventRequest{Event: event, At: now})
	require.NoError(t, err)
	assert.Equal(t, event.ID, *first.BillingEventID)
	assert.True(t, first.BillingTime.Equal(event.BillingTime))

	again, err := f.svc.CancelEvent(ctx, f.db, domain.CancelEventRequest{Event: event, At: now.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	billed := f.createEvent(t, domainID, now)
	_, err = f.svc.CancelEvent(ctx, f.db, domain.CancelEventRequest{Event: billed, At: now})
	assert.ErrorIs(t, err, domain.ErrCancellationAfterBillingTime)

	ledger, err := f.svc.DomainLedger(ctx, f.db, domainID)
	require.NoError(t, err)
	assert.Len(t, ledger.Events, 2)
	assert.Len(t, ledger.Cancellations, 1)
}

func TestCancelOccurrenceDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	recurrence := f.openRecurrence(t, f.node.Generate(), now.AddDate(0, 0, -10))

	occurrence := recurrence.EventTime
	c, err := f.svc.CancelOccurrence(ctx, f.db, domain.CancelOccurrenceRequest{
		Recurrence:     recurrence,
		OccurrenceTime: occurrence,
		BillingTime:    occurrence.Add(45 * 24 * time.Hour),
		At:             now,
	})
	require.NoError(t, err)
	assert.True(t, c.RecurrenceEventTime.Equal(occurrence))

	_, err = f.svc.CancelOccurrence(ctx, f.db, domain.CancelOccurrenceRequest{
		Recurrence:     recurrence,
		OccurrenceTime: occurrence.AddDate(1, 0, 0),
		BillingTime:    now,
		At:             now,
	})
	assert.ErrorIs(t, err, domain.ErrCancellationAfterBillingTime)
}

func TestOpenRecurrenceValidatesPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	specified := &domain.BillingRecurrence{
		DomainID:             f.node.Generate(),
		TargetName:           "foo.example",
		RegistrarID:          "registrar-a",
		EventTime:            now,
		RenewalPriceBehavior: domain.RenewalSpecified,
	}
	assert.ErrorIs(t, f.svc.OpenRecurrence(ctx, f.db, specified), domain.ErrInvalidRenewalPrice)

	price := money.MustParse("USD", "5.00")
	specified.SetFixedPrice(&price)
	require.NoError(t, f.svc.OpenRecurrence(ctx, f.db, specified))
	assert.True(t, specified.RecurrenceEndTime.Equal(timeline.EndOfTime))

	bogus := &domain.BillingRecurrence{EventTime: now, RenewalPriceBehavior: "SOMETIMES"}
	assert.ErrorIs(t, f.svc.OpenRecurrence(ctx, f.db, bogus), domain.ErrInvalidRenewalBehavior)
}

func TestSupersedeEndsCurrentAndLinksSuccessor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	domainID := f.node.Generate()
	current := f.openRecurrence(t, domainID, now.AddDate(1, 0, 0))

	successor := &domain.BillingRecurrence{
		DomainID:    domainID,
		TargetName:  "foo.example",
		RegistrarID: "registrar-b",
		EventTime:   now.AddDate(1, 0, 0),
	}
	require.NoError(t, f.svc.Supersede(ctx, f.db, current, now, successor))

	stored, err := f.svc.Recurrence(ctx, f.db, current.ID)
	require.NoError(t, err)
	assert.True(t, stored.RecurrenceEndTime.Equal(now))
	require.NotNil(t, stored.SupersededBy)
	assert.Equal(t, successor.ID, *stored.SupersededBy)

	assert.ErrorIs(t, f.svc.Supersede(ctx, f.db, current, now, &domain.BillingRecurrence{EventTime: now}), domain.ErrRecurrenceEnded)

	_, err = f.svc.Recurrence(ctx, f.db, f.node.Generate())
	assert.ErrorIs(t, err, domain.ErrRecurrenceNotFound)
}

func TestStagedEntitiesPromoteAndDiscard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	domainID := f.node.Generate()
	approved := f.node.Generate()
	rejected := f.node.Generate()

	for _, transferID := range []snowflake.ID{approved, rejected} {
		staged := transferID
		require.NoError(t, f.svc.RecordEvent(ctx, f.db, &domain.BillingEvent{
			Reason:           domain.ReasonTransfer,
			DomainID:         domainID,
			TargetName:       "foo.example",
			RegistrarID:      "registrar-b",
			Cost:             money.MustParse("USD", "11.00"),
			PeriodYears:      1,
			EventTime:        now,
			BillingTime:      now.AddDate(0, 0, 5),
			StagedTransferID: &staged,
		}))
		require.NoError(t, f.svc.OpenRecurrence(ctx, f.db, &domain.BillingRecurrence{
			DomainID:         domainID,
			TargetName:       "foo.example",
			RegistrarID:      "registrar-b",
			EventTime:        now.AddDate(1, 0, 0),
			StagedTransferID: &staged,
		}))
	}

	ledger, err := f.svc.DomainLedger(ctx, f.db, domainID)
	require.NoError(t, err)
	assert.Empty(t, ledger.Events)
	assert.Empty(t, ledger.Recurrences)

	set, err := f.svc.PromoteStaged(ctx, f.db, approved)
	require.NoError(t, err)
	assert.Len(t, set.Events, 1)
	assert.Len(t, set.Recurrences, 1)
	require.NoError(t, f.svc.DiscardStaged(ctx, f.db, rejected))

	ledger, err = f.svc.DomainLedger(ctx, f.db, domainID)
	require.NoError(t, err)
	assert.Len(t, ledger.Events, 1)
	assert.Len(t, ledger.Recurrences, 1)

	var remaining int64
	require.NoError(t, f.db.Model(&domain.BillingEvent{}).Where("staged_transfer_id IS NOT NULL").Count(&remaining).Error)
	assert.Zero(t, remaining)
}

func TestExpandRecurrencesIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	domainID := f.node.Generate()
	recurrence := f.openRecurrence(t, domainID, time.Date(2022, time.June, 1, 0, 0, 0, 0, time.UTC))

	_, err := f.svc.CancelOccurrence(ctx, f.db, domain.CancelOccurrenceRequest{
		Recurrence:     recurrence,
		OccurrenceTime: recurrence.EventTime.AddDate(1, 0, 0),
		BillingTime:    recurrence.EventTime.AddDate(1, 0, 45),
		At:             recurrence.EventTime.AddDate(1, 0, 1),
	})
	require.NoError(t, err)

	batch, err := f.svc.ExpandRecurrences(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Claimed)
	assert.Equal(t, 2, batch.Written)

	batch, err = f.svc.ExpandRecurrences(ctx, now, 10)
	require.NoError(t, err)
	assert.Zero(t, batch.Claimed)
	assert.Zero(t, batch.Written)

	ledger, err := f.svc.DomainLedger(ctx, f.db, domainID)
	require.NoError(t, err)
	require.Len(t, ledger.Events, 2)
	for _, event := range ledger.Events {
		assert.Equal(t, domain.ReasonRenew, event.Reason)
		assert.True(t, event.HasFlag(domain.FlagAutoRenew))
		assert.True(t, event.Cost.Equal(money.MustParse("USD", "11.00")), event.Cost.String())
		assert.True(t, event.BillingTime.Equal(event.EventTime.Add(45*24*time.Hour)))
	}
	assert.True(t, ledger.Events[0].EventTime.Equal(recurrence.EventTime))
	assert.True(t, ledger.Events[1].EventTime.Equal(recurrence.EventTime.AddDate(2, 0, 0)))
}

func TestOccurrencesRespectEndAndLastExpansion(t *testing.T) {
	start := time.Date(2020, time.March, 1, 0, 0, 0, 0, time.UTC)
	r := &domain.BillingRecurrence{
		EventTime:         start,
		RecurrenceEndTime: start.AddDate(3, 0, 0),
		LastExpansion:     start.AddDate(0, 6, 0),
	}
	got := Occurrences(r, now)
	require.Len(t, got, 2)
	assert.True(t, got[0].Equal(start.AddDate(1, 0, 0)))
	assert.True(t, got[1].Equal(start.AddDate(2, 0, 0)))
}
