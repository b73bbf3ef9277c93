package service_test

import (
	"context"
	"testing"
	"time"

	billingdomain "github.com/smallbiznis/registry/internal/billing/domain"
	"github.com/smallbiznis/registry/internal/money"
	"github.com/smallbiznis/registry/internal/pricing"
	regdomain "github.com/smallbiznis/registry/internal/registration/domain"
	"github.com/smallbiznis/registry/internal/registrytest"
	"github.com/smallbiznis/registry/internal/task"
	"github.com/smallbiznis/registry/internal/timeline"
	"github.com/smallbiznis/registry/internal/transfer/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const name = "foo.example"

var (
	created = time.Date(2023, 1, 10, 0, 0, 0, 0, time.UTC)
	expires = created.AddDate(1, 0, 0)
	day     = 24 * time.Hour
)

func setup(t *testing.T, now time.Time) (*registrytest.Env, *regdomain.Domain) {
	t.Helper()
	env := registrytest.New(t, now)
	d := env.SeedDomain(t, name, "losing", created, 1)
	return env, d
}

func request(now time.Time) domain.RequestInput {
	return domain.RequestInput{
		DomainName:  name,
		RegistrarID: "gaining",
		AuthInfo:    registrytest.AuthInfo,
		Now:         now,
	}
}

func recurrenceByRegistrar(ledger *billingdomain.Ledger, registrarID string) *billingdomain.BillingRecurrence {
	for i := range ledger.Recurrences {
		if ledger.Recurrences[i].RegistrarID == registrarID {
			return &ledger.Recurrences[i]
		}
	}
	return nil
}

func TestRequestStagesServerApproval(t *testing.T) {
	now := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	env, d := setup(t, now)
	ctx := context.Background()

	out, err := env.Transfers.Request(ctx, request(now))
	require.NoError(t, err)
	assert.Equal(t, regdomain.TransferPending, out.Status)
	require.NotNil(t, out.Fees)
	assert.True(t, out.Fees.Total.Equal(money.MustParse("USD", "11.00")))

	deadline := now.Add(env.Tld.AutomaticTransferLength)
	stored := env.Reload(t, d.ID)
	assert.True(t, stored.HasStatus(regdomain.StatusPendingTransfer))
	assert.True(t, deadline.Equal(*stored.Transfer.PendingExpirationTime))
	assert.True(t, expires.AddDate(1, 0, 0).Equal(*stored.Transfer.TransferredExpirationTime))
	assert.Equal(t, "losing", stored.RegistrarID)

	ledger := env.Ledger(t, d.ID)
	assert.Empty(t, ledger.Events, "transfer charge stays staged")
	losing := recurrenceByRegistrar(ledger, "losing")
	require.NotNil(t, losing)
	assert.True(t, deadline.Equal(losing.RecurrenceEndTime))
	assert.Nil(t, recurrenceByRegistrar(ledger, "gaining"))

	staged, err := env.Billing.Staged(ctx, env.DB, *stored.Transfer.ID)
	require.NoError(t, err)
	require.Len(t, staged.Events, 1)
	assert.Equal(t, billingdomain.ReasonTransfer, staged.Events[0].Reason)
	assert.True(t, deadline.Add(env.Tld.TransferGracePeriod).Equal(staged.Events[0].BillingTime))
	require.Len(t, staged.Recurrences, 1)
	assert.Empty(t, staged.Cancellations)

	polls, err := env.Domains.PollMessages(ctx, env.DB, "losing")
	require.NoError(t, err)
	require.Len(t, polls, 1)
	assert.Equal(t, regdomain.TransferPending, polls[0].TransferStatus)

	var tasks []task.DeferredTask
	require.NoError(t, env.DB.Find(&tasks).Error)
	require.Len(t, tasks, 1)
	assert.True(t, deadline.Equal(tasks[0].RunAt))
}

func TestDeadlineApprovesLazilyAndDurably(t *testing.T) {
	now := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	env, d := setup(t, now)
	ctx := context.Background()

	_, err := env.Transfers.Request(ctx, request(now))
	require.NoError(t, err)
	deadline := now.Add(env.Tld.AutomaticTransferLength)

	for _, at := range []time.Time{deadline, deadline.Add(time.Hour), deadline.Add(40 * day)} {
		view, err := env.Transfers.Query(ctx, domain.ActionInput{DomainName: name, RegistrarID: "gaining", Now: at})
		require.NoError(t, err)
		assert.Equal(t, regdomain.TransferServerApproved, view.Status)
		assert.Equal(t, "gaining", view.Domain.RegistrarID)
	}
	assert.True(t, env.Reload(t, d.ID).Transfer.Pending(), "queries do not write")

	env.Clock.Set(deadline)
	n, err := env.Tasks.RunDue(ctx, deadline, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored := env.Reload(t, d.ID)
	assert.Equal(t, regdomain.TransferServerApproved, stored.Transfer.Status)
	assert.Equal(t, "gaining", stored.RegistrarID)
	assert.True(t, expires.AddDate(1, 0, 0).Equal(stored.RegistrationExpirationTime))
	assert.False(t, stored.HasStatus(regdomain.StatusPendingTransfer))
	require.Len(t, stored.GracePeriods, 1)
	assert.Equal(t, regdomain.GraceTransfer, stored.GracePeriods[0].Type)

	ledger := env.Ledger(t, d.ID)
	require.Len(t, ledger.Events, 1)
	assert.Equal(t, "gaining", ledger.Events[0].RegistrarID)
	gaining := recurrenceByRegistrar(ledger, "gaining")
	require.NotNil(t, gaining)
	assert.Equal(t, *stored.AutorenewRecurrenceID, gaining.ID)

	polls, err := env.Domains.PollMessages(ctx, env.DB, "gaining")
	require.NoError(t, err)
	require.Len(t, polls, 1)
	assert.Equal(t, regdomain.TransferServerApproved, polls[0].TransferStatus)

	approved, err := env.Transfers.ResolveDue(ctx, env.DB, d.ID, deadline.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, approved, "resolving twice is a no-op")
	assert.Len(t, env.Ledger(t, d.ID).Events, 1)
}

func TestSubsumedAutorenew(t *testing.T) {
	now := expires.Add(-2 * day)
	env, d := setup(t, now)
	ctx := context.Background()

	_, err := env.Transfers.Request(ctx, request(now))
	require.NoError(t, err)
	deadline := now.Add(env.Tld.AutomaticTransferLength)
	require.True(t, deadline.After(expires))

	env.Clock.Set(deadline)
	_, err = env.Tasks.RunDue(ctx, deadline, 10)
	require.NoError(t, err)

	stored := env.Reload(t, d.ID)
	assert.Equal(t, regdomain.TransferServerApproved, stored.Transfer.Status)
	assert.True(t, expires.AddDate(1, 0, 0).Equal(stored.RegistrationExpirationTime), "one year, not two")

	ledger := env.Ledger(t, d.ID)
	require.Len(t, ledger.Cancellations, 1)
	c := ledger.Cancellations[0]
	require.NotNil(t, c.RecurrenceID)
	assert.Equal(t, *d.AutorenewRecurrenceID, *c.RecurrenceID)
	assert.True(t, expires.Equal(*c.RecurrenceEventTime))

	batch, err := env.Billing.ExpandRecurrences(ctx, deadline.Add(day), 10)
	require.NoError(t, err)
	assert.Zero(t, batch.Written, "the subsumed occurrence is never billed")
}

func TestRejectRestoresLosingRecurrence(t *testing.T) {
	now := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	env, d := setup(t, now)
	ctx := context.Background()

	requested, err := env.Transfers.Request(ctx, request(now))
	require.NoError(t, err)
	transferID := *requested.Domain.Transfer.ID

	_, err = env.Transfers.Reject(ctx, domain.ActionInput{DomainName: name, RegistrarID: "gaining", Now: now.Add(day)})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	out, err := env.Transfers.Reject(ctx, domain.ActionInput{DomainName: name, RegistrarID: "losing", Now: now.Add(day)})
	require.NoError(t, err)
	assert.Equal(t, regdomain.TransferClientRejected, out.Status)

	stored := env.Reload(t, d.ID)
	assert.Equal(t, "losing", stored.RegistrarID)
	assert.False(t, stored.HasStatus(regdomain.StatusPendingTransfer))
	assert.True(t, timeline.EndOfTime.Equal(stored.AutorenewEndTime))

	staged, err := env.Billing.Staged(ctx, env.DB, transferID)
	require.NoError(t, err)
	assert.Empty(t, staged.Events)
	assert.Empty(t, staged.Recurrences)

	ledger := env.Ledger(t, d.ID)
	require.Len(t, ledger.Recurrences, 1)
	assert.True(t, timeline.EndOfTime.Equal(ledger.Recurrences[0].RecurrenceEndTime))

	polls, err := env.Domains.PollMessages(ctx, env.DB, "gaining")
	require.NoError(t, err)
	require.Len(t, polls, 1)
	assert.Equal(t, regdomain.TransferClientRejected, polls[0].TransferStatus)

	deadline := now.Add(env.Tld.AutomaticTransferLength)
	env.Clock.Set(deadline)
	_, err = env.Tasks.RunDue(ctx, deadline, 10)
	require.NoError(t, err)
	assert.Equal(t, "losing", env.Reload(t, d.ID).RegistrarID)

	_, err = env.Transfers.Approve(ctx, domain.ActionInput{DomainName: name, RegistrarID: "losing", Now: deadline})
	assert.ErrorIs(t, err, domain.ErrNotPending)
}

func TestCancelByGainingRegistrar(t *testing.T) {
	now := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	env, d := setup(t, now)
	ctx := context.Background()

	_, err := env.Transfers.Request(ctx, request(now))
	require.NoError(t, err)

	_, err = env.Transfers.Cancel(ctx, domain.ActionInput{DomainName: name, RegistrarID: "losing", Now: now})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	out, err := env.Transfers.Cancel(ctx, domain.ActionInput{DomainName: name, RegistrarID: "gaining", Now: now.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, regdomain.TransferClientCancelled, out.Status)

	due, err := env.Domains.DueTransfers(ctx, now.Add(30*day), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
	assert.Equal(t, "losing", env.Reload(t, d.ID).RegistrarID)
}

func TestClientApproveRebuildsEntitiesAtApprovalTime(t *testing.T) {
	now := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	env, d := setup(t, now)
	ctx := context.Background()

	_, err := env.Transfers.Request(ctx, request(now))
	require.NoError(t, err)

	approvedAt := now.Add(day)
	out, err := env.Transfers.Approve(ctx, domain.ActionInput{DomainName: name, RegistrarID: "losing", Now: approvedAt})
	require.NoError(t, err)
	assert.Equal(t, regdomain.TransferClientApproved, out.Status)

	stored := env.Reload(t, d.ID)
	assert.Equal(t, "gaining", stored.RegistrarID)
	assert.True(t, expires.AddDate(1, 0, 0).Equal(stored.RegistrationExpirationTime))
	require.Len(t, stored.GracePeriods, 1)
	assert.True(t, approvedAt.Add(env.Tld.TransferGracePeriod).Equal(stored.GracePeriods[0].ExpirationTime))

	ledger := env.Ledger(t, d.ID)
	require.Len(t, ledger.Events, 1)
	assert.True(t, approvedAt.Equal(ledger.Events[0].EventTime))
	assert.True(t, ledger.Events[0].Cost.Equal(money.MustParse("USD", "11.00")))
	assert.True(t, approvedAt.Equal(recurrenceByRegistrar(ledger, "losing").RecurrenceEndTime))
	gaining := recurrenceByRegistrar(ledger, "gaining")
	require.NotNil(t, gaining)
	assert.Equal(t, billingdomain.RenewalDefault, gaining.RenewalPriceBehavior)

	var tasks []task.DeferredTask
	require.NoError(t, env.DB.Find(&tasks).Error)
	env.Clock.Set(tasks[0].RunAt)
	_, err = env.Tasks.RunDue(ctx, tasks[0].RunAt, 10)
	require.NoError(t, err)
	assert.Equal(t, regdomain.TransferClientApproved, env.Reload(t, d.ID).Transfer.Status)
}

func TestZeroWindowApprovesImmediately(t *testing.T) {
	now := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	env, d := setup(t, now)
	ctx := context.Background()

	in := request(now)
	in.ZeroWindow = true
	_, err := env.Transfers.Request(ctx, in)
	assert.ErrorIs(t, err, domain.ErrSuperuserRequired)

	in.Superuser = true
	out, err := env.Transfers.Request(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, regdomain.TransferServerApproved, out.Status)

	stored := env.Reload(t, d.ID)
	assert.Equal(t, "gaining", stored.RegistrarID)
	assert.Len(t, env.Ledger(t, d.ID).Events, 1)
}

func TestZeroPeriodTransfer(t *testing.T) {
	now := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	env, d := setup(t, now)
	ctx := context.Background()

	in := request(now)
	in.Superuser = true
	in.ZeroPeriod = true
	fee := money.MustParse("USD", "11.00")
	in.DeclaredFee = &fee
	_, err := env.Transfers.Request(ctx, in)
	assert.ErrorIs(t, err, domain.ErrFeeOnZeroPeriod)

	in.DeclaredFee = nil
	out, err := env.Transfers.Request(ctx, in)
	require.NoError(t, err)
	assert.Nil(t, out.Fees)

	deadline := now.Add(env.Tld.AutomaticTransferLength)
	env.Clock.Set(deadline)
	_, err = env.Tasks.RunDue(ctx, deadline, 10)
	require.NoError(t, err)

	stored := env.Reload(t, d.ID)
	assert.Equal(t, "gaining", stored.RegistrarID)
	assert.True(t, expires.Equal(stored.RegistrationExpirationTime))
	assert.Empty(t, stored.GracePeriods)
	assert.Empty(t, env.Ledger(t, d.ID).Events)
}

func TestRequestPreconditions(t *testing.T) {
	now := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	env, _ := setup(t, now)
	ctx := context.Background()

	bad := request(now)
	bad.AuthInfo = "wrong-secret"
	_, err := env.Transfers.Request(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrBadAuthInfo)

	self := request(now)
	self.RegistrarID = "losing"
	_, err = env.Transfers.Request(ctx, self)
	assert.ErrorIs(t, err, domain.ErrAlreadySponsor)

	long := request(now)
	long.Years = 2
	_, err = env.Transfers.Request(ctx, long)
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)

	wrongFee := request(now)
	fee := money.MustParse("USD", "10.00")
	wrongFee.DeclaredFee = &fee
	_, err = env.Transfers.Request(ctx, wrongFee)
	assert.ErrorIs(t, err, pricing.ErrFeesMismatch)

	_, err = env.Transfers.Request(ctx, request(now))
	require.NoError(t, err)
	_, err = env.Transfers.Request(ctx, request(now.Add(time.Hour)))
	assert.ErrorIs(t, err, domain.ErrAlreadyPending)

	_, err = env.Transfers.Query(ctx, domain.ActionInput{DomainName: name, RegistrarID: "stranger", Now: now})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}
