package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/registry/internal/billing/domain"
	"github.com/smallbiznis/registry/internal/command"
	"github.com/smallbiznis/registry/internal/events"
	"github.com/smallbiznis/registry/internal/flows/domain"
	"github.com/smallbiznis/registry/internal/money"
	"github.com/smallbiznis/registry/internal/pricing"
	registrardomain "github.com/smallbiznis/registry/internal/registrar/domain"
	regdomain "github.com/smallbiznis/registry/internal/registration/domain"
	"github.com/smallbiznis/registry/internal/registrytest"
	"github.com/smallbiznis/registry/internal/reservation"
	"github.com/smallbiznis/registry/internal/timeline"
	tlddomain "github.com/smallbiznis/registry/internal/tld/domain"
	tokendomain "github.com/smallbiznis/registry/internal/token/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	day = 24 * time.Hour
)

func usd(amount string) *money.Money {
	m := money.MustParse("USD", amount)
	return &m
}

func createCmd(name string, years int) domain.Command {
	return domain.Command{
		Type:        command.Create,
		DomainNames: []string{name},
		RegistrarID: "losing",
		Years:       years,
		AuthInfo:    registrytest.AuthInfo,
		Now:         now,
	}
}

func onDomain(t command.Type, name, registrarID string, at time.Time) domain.Command {
	return domain.Command{
		Type:        t,
		DomainNames: []string{name},
		RegistrarID: registrarID,
		Now:         at,
	}
}

func outboxCount(t *testing.T, env *registrytest.Env, eventType string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, env.DB.Model(&events.OutboxEvent{}).Where("type = ?", eventType).Count(&n).Error)
	return n
}

func mustCreate(t *testing.T, env *registrytest.Env, cmd domain.Command) *regdomain.Domain {
	t.Helper()
	res, err := env.Flows.Create(context.Background(), cmd)
	require.NoError(t, err)
	d, err := env.Domains.LoadByName(context.Background(), env.DB, res.Domain.Name, cmd.Now)
	require.NoError(t, err)
	return d
}

func TestCreateWritesLedger(t *testing.T) {
	env := registrytest.New(t, now)

	res, err := env.Flows.Create(context.Background(), createCmd("Foo.Example", 2))
	require.NoError(t, err)
	require.NotNil(t, res.Fees)
	assert.True(t, res.Fees.Total.Equal(money.MustParse("USD", "24.00")))
	assert.Equal(t, "foo.example", res.Domain.Name)
	assert.True(t, now.AddDate(2, 0, 0).Equal(res.Domain.ExpirationTime))

	d := env.Reload(t, mustCreate(t, env, createCmd("bar.example", 1)).ID)
	require.Len(t, d.GracePeriods, 1)
	assert.Equal(t, regdomain.GraceAdd, d.GracePeriods[0].Type)
	assert.True(t, now.Add(env.Tld.AddGracePeriod).Equal(d.GracePeriods[0].ExpirationTime))

	ledger := env.Ledger(t, d.ID)
	require.Len(t, ledger.Events, 1)
	event := ledger.Events[0]
	assert.Equal(t, billingdomain.ReasonCreate, event.Reason)
	assert.True(t, event.Cost.Equal(money.MustParse("USD", "13.00")))
	assert.True(t, now.Add(env.Tld.AddGracePeriod).Equal(event.BillingTime))
	assert.Equal(t, event.ID, *d.GracePeriods[0].BillingEventID)

	require.Len(t, ledger.Recurrences, 1)
	assert.Equal(t, *d.AutorenewRecurrenceID, ledger.Recurrences[0].ID)
	assert.True(t, d.RegistrationExpirationTime.Equal(ledger.Recurrences[0].EventTime))
	assert.Equal(t, billingdomain.RenewalDefault, ledger.Recurrences[0].RenewalPriceBehavior)

	history, err := env.Domains.History(context.Background(), env.DB, d.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, regdomain.HistoryCreate, history[0].Type)
	assert.Equal(t, int64(2), outboxCount(t, env, events.EventDomainChanged))
}

func TestCreatePreconditions(t *testing.T) {
	env := registrytest.New(t, now)
	ctx := context.Background()
	_, err := env.Registrars.Create(ctx, registrardomain.CreateRequest{ID: "other", Name: "other", AllowedTlds: []string{"other"}})
	require.NoError(t, err)
	mustCreate(t, env, createCmd("taken.example", 1))

	wrongTld := createCmd("fresh.example", 1)
	wrongTld.RegistrarID = "other"
	mismatch := createCmd("fresh.example", 1)
	mismatch.DeclaredFee = usd("12.00")
	noAuth := createCmd("fresh.example", 1)
	noAuth.AuthInfo = ""

	cases := []struct {
		name string
		cmd  domain.Command
		want error
	}{
		{"registrar not allowed on tld", wrongTld, registrardomain.ErrNotAuthorizedForTld},
		{"invalid name", createCmd("-bad-.example", 1), nil},
		{"existing", createCmd("taken.example", 1), regdomain.ErrDomainAlreadyExists},
		{"reserved", createCmd("reserved.example", 1), reservation.ErrDomainReserved},
		{"blocked", createCmd("blocked.example", 1), reservation.ErrDomainBlocked},
		{"premium without fee", createCmd("rich.example", 1), pricing.ErrFeesRequiredForPremium},
		{"too many years", createCmd("fresh.example", 11), domain.ErrExceedsMaxYears},
		{"fee mismatch", mismatch, pricing.ErrFeesMismatch},
		{"missing auth info", noAuth, domain.ErrInvalidAuthInfo},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Flows.Create(ctx, tc.cmd)
			require.Error(t, err)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}

	exists, err := env.Domains.Exists(ctx, env.DB, "fresh.example", now)
	require.NoError(t, err)
	assert.False(t, exists, "failed creates leave nothing behind")
}

func TestCreatePremiumWithDeclaredFee(t *testing.T) {
	env := registrytest.New(t, now)
	cmd := createCmd("rich.example", 1)
	cmd.DeclaredFee = usd("100.00")

	res, err := env.Flows.Create(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, res.Fees.Premium)
	assert.True(t, res.Fees.Total.Equal(money.MustParse("USD", "100.00")))
}

func TestCreateNameCollisionGetsServerHold(t *testing.T) {
	env := registrytest.New(t, now)
	d := mustCreate(t, env, createCmd("collision.example", 1))
	assert.True(t, d.HasStatus(regdomain.StatusServerHold))
}

func TestCreateOutsideGeneralAvailability(t *testing.T) {
	env := registrytest.New(t, now)
	env.Tld.Phases = timeline.Constant(tlddomain.PhaseStartDateSunrise)

	_, err := env.Flows.Create(context.Background(), createCmd("early.example", 1))
	require.ErrorIs(t, err, domain.ErrTldWrongPhase)

	cmd := createCmd("early.example", 1)
	cmd.Superuser = true
	d := mustCreate(t, env, cmd)
	ledger := env.Ledger(t, d.ID)
	require.Len(t, ledger.Events, 1)
	assert.True(t, ledger.Events[0].HasFlag(billingdomain.FlagSunrise))
}

func TestCreateRedeemsSingleUseToken(t *testing.T) {
	env := registrytest.New(t, now)
	ctx := context.Background()
	_, err := env.Tokens.Create(ctx, tokendomain.CreateRequest{
		Token:            "half-off",
		Type:             tokendomain.TypeSingleUse,
		DiscountFraction: decimal.RequireFromString("0.5"),
	})
	require.NoError(t, err)

	cmd := createCmd("promo.example", 1)
	cmd.Token = "half-off"
	res, err := env.Flows.Create(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, res.Fees.Total.Equal(money.MustParse("USD", "6.50")))

	again := createCmd("promo2.example", 1)
	again.Token = "half-off"
	_, err = env.Flows.Create(ctx, again)
	assert.ErrorIs(t, err, tokendomain.ErrTokenAlreadyRedeemed)
}

func TestCheckReportsPerName(t *testing.T) {
	env := registrytest.New(t, now)
	mustCreate(t, env, createCmd("taken.example", 1))

	res, err := env.Flows.Check(context.Background(), domain.Command{
		Type:        command.Check,
		DomainNames: []string{"free.example", "taken.example", "reserved.example", "rich.example", "a..example"},
		RegistrarID: "losing",
		Now:         now,
	})
	require.NoError(t, err)
	require.Len(t, res.Checks, 5)

	assert.True(t, res.Checks[0].Available)
	assert.Nil(t, res.Checks[0].Fees)
	assert.False(t, res.Checks[1].Available)
	assert.Equal(t, "In use", res.Checks[1].Reason)
	assert.False(t, res.Checks[2].Available)
	assert.Equal(t, "registry use", res.Checks[2].Reason)
	assert.False(t, res.Checks[3].Available)
	assert.Equal(t, "Premium names require EPP ext.", res.Checks[3].Reason)
	assert.False(t, res.Checks[4].Available)
	assert.NotEmpty(t, res.Checks[4].Reason)
}

func TestCheckWithFees(t *testing.T) {
	env := registrytest.New(t, now)

	res, err := env.Flows.Check(context.Background(), domain.Command{
		Type:        command.Check,
		DomainNames: []string{"free.example", "rich.example"},
		RegistrarID: "losing",
		Years:       2,
		IncludeFees: true,
		Now:         now,
	})
	require.NoError(t, err)
	require.Len(t, res.Checks, 2)
	require.NotNil(t, res.Checks[0].Fees)
	assert.True(t, res.Checks[0].Fees.Total.Equal(money.MustParse("USD", "24.00")))
	require.True(t, res.Checks[1].Available)
	assert.True(t, res.Checks[1].Fees.Premium)
	assert.True(t, res.Checks[1].Fees.Total.Equal(money.MustParse("USD", "200.00")))
}

func TestRenewSupersedesRecurrence(t *testing.T) {
	env := registrytest.New(t, now)
	created := time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)
	d := env.SeedDomain(t, "foo.example", "losing", created, 1)
	oldRecurrence := *d.AutorenewRecurrenceID

	cmd := onDomain(command.Renew, "foo.example", "losing", now)
	cmd.Years = 2
	res, err := env.Flows.Renew(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, res.Fees.Total.Equal(money.MustParse("USD", "22.00")))

	stored := env.Reload(t, d.ID)
	assert.True(t, created.AddDate(3, 0, 0).Equal(stored.RegistrationExpirationTime))
	require.NotNil(t, stored.Grace(regdomain.GraceRenew, now))

	ledger := env.Ledger(t, d.ID)
	require.Len(t, ledger.Events, 1)
	assert.Equal(t, billingdomain.ReasonRenew, ledger.Events[0].Reason)
	assert.Equal(t, 2, ledger.Events[0].PeriodYears)
	require.Len(t, ledger.Recurrences, 2)
	for _, r := range ledger.Recurrences {
		if r.ID == oldRecurrence {
			assert.True(t, now.Equal(r.RecurrenceEndTime))
			require.NotNil(t, r.SupersededBy)
			assert.Equal(t, *stored.AutorenewRecurrenceID, *r.SupersededBy)
		} else {
			assert.True(t, stored.RegistrationExpirationTime.Equal(r.EventTime))
		}
	}
}

func TestRenewPreconditions(t *testing.T) {
	env := registrytest.New(t, now)
	created := time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)
	env.SeedDomain(t, "foo.example", "losing", created, 1)
	ctx := context.Background()

	_, err := env.Flows.Renew(ctx, onDomain(command.Renew, "foo.example", "gaining", now))
	assert.ErrorIs(t, err, domain.ErrNotSponsor)

	tooLong := onDomain(command.Renew, "foo.example", "losing", now)
	tooLong.Years = 10
	_, err = env.Flows.Renew(ctx, tooLong)
	assert.ErrorIs(t, err, domain.ErrExceedsMaxYears)

	stale := onDomain(command.Renew, "foo.example", "losing", now)
	wrong := created.AddDate(2, 0, 0)
	stale.CurrentExpiration = &wrong
	_, err = env.Flows.Renew(ctx, stale)
	assert.ErrorIs(t, err, domain.ErrExpirationMismatch)

	_, err = env.Flows.Renew(ctx, onDomain(command.Renew, "missing.example", "losing", now))
	assert.ErrorIs(t, err, regdomain.ErrDomainNotFound)
}

func TestDeleteInsideAddGraceIsImmediate(t *testing.T) {
	env := registrytest.New(t, now)
	d := mustCreate(t, env, createCmd("quick.example", 1))
	at := now.Add(day)

	res, err := env.Flows.Delete(context.Background(), onDomain(command.Delete, "quick.example", "losing", at))
	require.NoError(t, err)
	assert.True(t, res.Deleted)

	ledger := env.Ledger(t, d.ID)
	require.Len(t, ledger.Cancellations, 1)
	assert.Equal(t, ledger.Events[0].ID, *ledger.Cancellations[0].BillingEventID)
	assert.True(t, at.Equal(ledger.Recurrences[0].RecurrenceEndTime))

	exists, err := env.Domains.Exists(context.Background(), env.DB, "quick.example", at)
	require.NoError(t, err)
	assert.False(t, exists)
	mustCreate(t, env, func() domain.Command {
		cmd := createCmd("quick.example", 1)
		cmd.Now = at.Add(time.Hour)
		return cmd
	}())
}

func TestDeleteThenRestore(t *testing.T) {
	env := registrytest.New(t, now)
	created := time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)
	d := env.SeedDomain(t, "foo.example", "losing", created, 1)
	ctx := context.Background()

	res, err := env.Flows.Delete(ctx, onDomain(command.Delete, "foo.example", "losing", now))
	require.NoError(t, err)
	assert.False(t, res.Deleted)

	stored := env.Reload(t, d.ID)
	assert.True(t, stored.HasStatus(regdomain.StatusPendingDelete))
	redemption := stored.Grace(regdomain.GraceRedemption, now)
	require.NotNil(t, redemption)
	assert.True(t, now.Add(env.Tld.RedemptionGracePeriod).Equal(redemption.ExpirationTime))
	assert.True(t, now.Add(env.Tld.RedemptionGracePeriod+env.Tld.PendingDeleteLength).Equal(stored.DeletionTime))
	assert.True(t, now.Equal(env.Ledger(t, d.ID).Recurrences[0].RecurrenceEndTime))

	_, err = env.Flows.Renew(ctx, onDomain(command.Renew, "foo.example", "losing", now.Add(day)))
	assert.ErrorIs(t, err, domain.ErrStatusProhibits)

	restored, err := env.Flows.Restore(ctx, onDomain(command.Restore, "foo.example", "losing", now.Add(day)))
	require.NoError(t, err)
	assert.True(t, restored.Fees.Total.Equal(money.MustParse("USD", "40.00")))

	stored = env.Reload(t, d.ID)
	assert.False(t, stored.HasStatus(regdomain.StatusPendingDelete))
	assert.True(t, stored.Live())
	assert.Empty(t, stored.GracePeriods)
	assert.True(t, created.AddDate(1, 0, 0).Equal(stored.RegistrationExpirationTime))

	ledger := env.Ledger(t, d.ID)
	require.Len(t, ledger.Events, 1)
	assert.Equal(t, billingdomain.ReasonRestore, ledger.Events[0].Reason)
	require.Len(t, ledger.Recurrences, 2)
}

func TestRestoreExpiredAddsRenewYear(t *testing.T) {
	env := registrytest.New(t, now)
	created := time.Date(2023, 3, 10, 0, 0, 0, 0, time.UTC)
	d := env.SeedDomain(t, "foo.example", "losing", created, 1)
	ctx := context.Background()

	_, err := env.Flows.Delete(ctx, onDomain(command.Delete, "foo.example", "losing", now))
	require.NoError(t, err)

	at := now.Add(15 * day)
	res, err := env.Flows.Restore(ctx, onDomain(command.Restore, "foo.example", "losing", at))
	require.NoError(t, err)
	assert.True(t, res.Fees.Total.Equal(money.MustParse("USD", "51.00")))

	stored := env.Reload(t, d.ID)
	assert.True(t, created.AddDate(2, 0, 0).Equal(stored.RegistrationExpirationTime))
	reasons := map[billingdomain.Reason]int{}
	for _, e := range env.Ledger(t, d.ID).Events {
		reasons[e.Reason]++
	}
	assert.Equal(t, map[billingdomain.Reason]int{billingdomain.ReasonRestore: 1, billingdomain.ReasonRenew: 1}, reasons)
}

func TestRestoreRequiresRedemption(t *testing.T) {
	env := registrytest.New(t, now)
	env.SeedDomain(t, "foo.example", "losing", time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC), 1)

	_, err := env.Flows.Restore(context.Background(), onDomain(command.Restore, "foo.example", "losing", now))
	assert.ErrorIs(t, err, domain.ErrNotInRedemption)
}

func TestDeleteInsideAutorenewGraceRefundsOccurrence(t *testing.T) {
	env := registrytest.New(t, now)
	created := time.Date(2023, 2, 20, 0, 0, 0, 0, time.UTC)
	d := env.SeedDomain(t, "foo.example", "losing", created, 1)

	_, err := env.Flows.Delete(context.Background(), onDomain(command.Delete, "foo.example", "losing", now))
	require.NoError(t, err)

	ledger := env.Ledger(t, d.ID)
	require.Len(t, ledger.Cancellations, 1)
	c := ledger.Cancellations[0]
	require.NotNil(t, c.RecurrenceEventTime)
	assert.True(t, created.AddDate(1, 0, 0).Equal(*c.RecurrenceEventTime))

	stored := env.Reload(t, d.ID)
	assert.True(t, created.AddDate(1, 0, 0).Equal(stored.RegistrationExpirationTime), "refunded autorenew year is rolled back")
}

func TestDeleteCancelsPendingTransfer(t *testing.T) {
	env := registrytest.New(t, now)
	d := env.SeedDomain(t, "foo.example", "losing", time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC), 1)
	ctx := context.Background()

	req := onDomain(command.Transfer, "foo.example", "gaining", now)
	req.TransferOp = domain.TransferRequest
	req.AuthInfo = registrytest.AuthInfo
	res, err := env.Flows.Transfer(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, res.Domain.Transfer)
	assert.Equal(t, string(regdomain.TransferPending), res.Domain.Transfer.Status)

	_, err = env.Flows.Delete(ctx, onDomain(command.Delete, "foo.example", "losing", now.Add(day)))
	require.NoError(t, err)

	stored := env.Reload(t, d.ID)
	assert.Equal(t, regdomain.TransferServerCancelled, stored.Transfer.Status)
	assert.False(t, stored.HasStatus(regdomain.StatusPendingTransfer))
	staged, err := env.Billing.Staged(ctx, env.DB, *stored.Transfer.ID)
	require.NoError(t, err)
	assert.Empty(t, staged.Events)
	assert.Empty(t, staged.Recurrences)
}

func TestDeleteProhibitedByStatus(t *testing.T) {
	env := registrytest.New(t, now)
	d := env.SeedDomain(t, "foo.example", "losing", time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC), 1)
	d.AddStatus(regdomain.StatusClientDeleteProhibited)
	require.NoError(t, env.Domains.Save(context.Background(), env.DB, d))

	_, err := env.Flows.Delete(context.Background(), onDomain(command.Delete, "foo.example", "losing", now))
	assert.ErrorIs(t, err, domain.ErrStatusProhibits)

	su := onDomain(command.Delete, "foo.example", "losing", now)
	su.Superuser = true
	_, err = env.Flows.Delete(context.Background(), su)
	assert.NoError(t, err)
}

func TestUpdateRecurrenceChangesRenewalPrice(t *testing.T) {
	env := registrytest.New(t, now)
	d := env.SeedDomain(t, "foo.example", "losing", time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC), 1)
	ctx := context.Background()

	update := onDomain(command.Update, "foo.example", "losing", now)
	update.RenewalPriceBehavior = billingdomain.RenewalSpecified
	update.RenewalPrice = usd("5.00")
	_, err := env.Flows.UpdateRecurrence(ctx, update)
	assert.ErrorIs(t, err, domain.ErrSuperuserRequired)

	update.Superuser = true
	_, err = env.Flows.Execute(ctx, update)
	require.NoError(t, err)

	stored := env.Reload(t, d.ID)
	recurrence, err := env.Billing.Recurrence(ctx, env.DB, *stored.AutorenewRecurrenceID)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.RenewalSpecified, recurrence.RenewalPriceBehavior)

	renew := onDomain(command.Renew, "foo.example", "losing", now.Add(time.Hour))
	res, err := env.Flows.Renew(ctx, renew)
	require.NoError(t, err)
	assert.True(t, res.Fees.Total.Equal(money.MustParse("USD", "5.00")))
}

func TestExecuteRejectsUnknownCommands(t *testing.T) {
	env := registrytest.New(t, now)
	_, err := env.Flows.Execute(context.Background(), domain.Command{Type: "POLL"})
	assert.ErrorIs(t, err, domain.ErrUnknownCommand)

	cmd := onDomain(command.Transfer, "foo.example", "gaining", now)
	cmd.TransferOp = "steal"
	_, err = env.Flows.Execute(context.Background(), cmd)
	assert.ErrorIs(t, err, domain.ErrUnknownTransferOp)
}
