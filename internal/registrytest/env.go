// Package registrytest wires the registry services over an in-memory
// database for package tests.
package registrytest

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registry/internal/authinfo"
	billingdomain "github.com/smallbiznis/registry/internal/billing/domain"
	billingrepo "github.com/smallbiznis/registry/internal/billing/repository"
	billingservice "github.com/smallbiznis/registry/internal/billing/service"
	"github.com/smallbiznis/registry/internal/clock"
	"github.com/smallbiznis/registry/internal/config"
	"github.com/smallbiznis/registry/internal/events"
	flowsdomain "github.com/smallbiznis/registry/internal/flows/domain"
	flowsservice "github.com/smallbiznis/registry/internal/flows/service"
	"github.com/smallbiznis/registry/internal/pricing"
	registrardomain "github.com/smallbiznis/registry/internal/registrar/domain"
	registrarrepo "github.com/smallbiznis/registry/internal/registrar/repository"
	registrarservice "github.com/smallbiznis/registry/internal/registrar/service"
	regdomain "github.com/smallbiznis/registry/internal/registration/domain"
	regrepo "github.com/smallbiznis/registry/internal/registration/repository"
	regservice "github.com/smallbiznis/registry/internal/registration/service"
	"github.com/smallbiznis/registry/internal/reservation"
	"github.com/smallbiznis/registry/internal/task"
	"github.com/smallbiznis/registry/internal/timeline"
	tlddomain "github.com/smallbiznis/registry/internal/tld/domain"
	"github.com/smallbiznis/registry/internal/tld/tldtest"
	tokendomain "github.com/smallbiznis/registry/internal/token/domain"
	tokenrepo "github.com/smallbiznis/registry/internal/token/repository"
	tokenservice "github.com/smallbiznis/registry/internal/token/service"
	transferdomain "github.com/smallbiznis/registry/internal/transfer/domain"
	transferservice "github.com/smallbiznis/registry/internal/transfer/service"
	"github.com/smallbiznis/registry/pkg/db"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuthInfo is the transfer secret of every seeded domain.
const AuthInfo = "2fooBAR"

// Models lists every table the registry core persists.
func Models() []any {
	return []any{
		&regdomain.Domain{},
		&regdomain.GracePeriod{},
		&regdomain.DomainHistory{},
		&regdomain.PollMessage{},
		&billingdomain.BillingEvent{},
		&billingdomain.BillingRecurrence{},
		&billingdomain.BillingCancellation{},
		&tokendomain.AllocationToken{},
		&registrardomain.Registrar{},
		&events.OutboxEvent{},
		&task.DeferredTask{},
	}
}

type Env struct {
	DB    *gorm.DB
	Node  *snowflake.Node
	Clock *clock.FakeClock
	Log   *zap.Logger
	Tld   *tlddomain.Tld
	Tlds  tlddomain.Store

	Billing     billingdomain.Service
	Domains     regdomain.Service
	Registrars  registrardomain.Service
	Tokens      tokendomain.Service
	Reservation *reservation.Resolver
	Pricing     *pricing.Engine
	Outbox      *events.Outbox
	Tasks       *task.Queue
	Transfers   transferdomain.Service
	Flows       flowsdomain.Service
}

// New builds an environment whose clock starts at now. Registrars "losing"
// and "gaining" exist and may use the example TLD.
func New(t *testing.T, now time.Time) *Env {
	t.Helper()
	conn, err := db.NewTest(Models()...)
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	e := &Env{
		DB:    conn,
		Node:  node,
		Clock: clock.NewFakeClock(now),
		Log:   zap.NewNop(),
		Tld:   tldtest.Example(),
	}
	e.Tlds = tldtest.Store(e.Tld)
	e.Pricing = pricing.NewEngine(config.Config{})

	billingRepo := billingrepo.Provide()
	expander := billingservice.NewExpander(billingservice.ExpanderParam{
		Log: e.Log, GenID: node, Repo: billingRepo, Tlds: e.Tlds, Pricing: e.Pricing,
	})
	e.Billing = billingservice.NewService(billingservice.ServiceParam{
		DB: conn, Log: e.Log, GenID: node, Clock: e.Clock, Repo: billingRepo, Expander: expander,
	})
	e.Outbox = events.NewOutbox(events.OutboxParam{Log: e.Log, GenID: node, Clock: e.Clock})
	e.Domains = regservice.NewService(regservice.ServiceParam{
		DB: conn, Log: e.Log, GenID: node, Clock: e.Clock, Repo: regrepo.Provide(), Billing: e.Billing, Outbox: e.Outbox,
	})
	e.Registrars = registrarservice.NewService(registrarservice.ServiceParam{
		DB: conn, Log: e.Log, Clock: e.Clock, Repo: registrarrepo.Provide(),
	})
	e.Tokens = tokenservice.NewService(tokenservice.ServiceParam{
		DB: conn, Log: e.Log, Clock: e.Clock, Repo: tokenrepo.Provide(),
	})
	e.Tasks = task.NewQueue(task.QueueParam{DB: conn, Log: e.Log, GenID: node, Clock: e.Clock})
	e.Transfers = transferservice.NewService(transferservice.ServiceParam{
		DB:         conn,
		Log:        e.Log,
		GenID:      node,
		Clock:      e.Clock,
		Tlds:       e.Tlds,
		Registrars: e.Registrars,
		Tokens:     e.Tokens,
		Pricing:    e.Pricing,
		Billing:    e.Billing,
		Domains:    e.Domains,
		Tasks:      e.Tasks,
	})
	transferservice.RegisterTasks(e.Tasks, e.Transfers, e.Clock)
	e.Reservation = reservation.NewResolver(reservation.Param{Tokens: e.Tokens})
	e.Flows = flowsservice.NewService(flowsservice.ServiceParam{
		DB:          conn,
		Log:         e.Log,
		GenID:       node,
		Clock:       e.Clock,
		Tlds:        e.Tlds,
		Registrars:  e.Registrars,
		Tokens:      e.Tokens,
		Reservation: e.Reservation,
		Pricing:     e.Pricing,
		Billing:     e.Billing,
		Domains:     e.Domains,
		Transfers:   e.Transfers,
	})

	ctx := context.Background()
	for _, id := range []string{"losing", "gaining"} {
		_, err := e.Registrars.Create(ctx, registrardomain.CreateRequest{ID: id, Name: id, AllowedTlds: []string{e.Tld.Name}})
		require.NoError(t, err)
	}
	return e
}

// SeedDomain registers name for registrar at created for years, with an
// open DEFAULT recurrence and no grace periods.
func (e *Env) SeedDomain(t *testing.T, name, registrarID string, created time.Time, years int) *regdomain.Domain {
	t.Helper()
	ctx := context.Background()
	hash, err := authinfo.Hash(AuthInfo)
	require.NoError(t, err)

	expires := created.AddDate(years, 0, 0)
	d := &regdomain.Domain{
		ID:                         e.Node.Generate(),
		Name:                       name,
		Tld:                        e.Tld.Name,
		RegistrarID:                registrarID,
		CreatorRegistrarID:         registrarID,
		CreationTime:               created,
		RegistrationExpirationTime: expires,
		DeletionTime:               timeline.EndOfTime,
		AutorenewEndTime:           timeline.EndOfTime,
		AuthInfoHash:               hash,
	}
	err = e.DB.Transaction(func(tx *gorm.DB) error {
		recurrence := &billingdomain.BillingRecurrence{
			DomainID:             d.ID,
			TargetName:           name,
			RegistrarID:          registrarID,
			EventTime:            expires,
			RenewalPriceBehavior: billingdomain.RenewalDefault,
		}
		if err := e.Billing.OpenRecurrence(ctx, tx, recurrence); err != nil {
			return err
		}
		d.AutorenewRecurrenceID = &recurrence.ID
		return e.Domains.Create(ctx, tx, d)
	})
	require.NoError(t, err)
	return d
}

// Ledger returns the live billing rows of a domain.
func (e *Env) Ledger(t *testing.T, domainID snowflake.ID) *billingdomain.Ledger {
	t.Helper()
	ledger, err := e.Billing.DomainLedger(context.Background(), e.DB, domainID)
	require.NoError(t, err)
	return ledger
}

// Reload reads a domain with its grace periods, unprojected.
func (e *Env) Reload(t *testing.T, id snowflake.ID) *regdomain.Domain {
	t.Helper()
	d, err := e.Domains.Load(context.Background(), e.DB, id)
	require.NoError(t, err)
	return d
}
