package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registry/internal/money"
	"github.com/smallbiznis/registry/internal/pricing"
	regdomain "github.com/smallbiznis/registry/internal/registration/domain"
	"gorm.io/gorm"
)

type RequestInput struct {
	DomainName  string
	RegistrarID string
	AuthInfo    string
	// Years is the requested period; zero means one.
	Years       int
	DeclaredFee *money.Money
	Token       string
	Now         time.Time

	Superuser bool
	// ZeroPeriod moves the domain without extending it.
	ZeroPeriod bool
	// ZeroWindow approves the transfer in the requesting transaction.
	ZeroWindow bool
}

type ActionInput struct {
	DomainName  string
	RegistrarID string
	AuthInfo    string
	Superuser   bool
	Now         time.Time
}

type Outcome struct {
	Domain *regdomain.Domain
	Status regdomain.TransferStatus
	Fees   *pricing.Fees
}

// Service drives the transfer state machine. Every mutating call runs in
// its own transaction.
type Service interface {
	Request(ctx context.Context, in RequestInput) (*Outcome, error)
	Approve(ctx context.Context, in ActionInput) (*Outcome, error)
	Reject(ctx context.Context, in ActionInput) (*Outcome, error)
	Cancel(ctx context.Context, in ActionInput) (*Outcome, error)
	Query(ctx context.Context, in ActionInput) (*Outcome, error)
	// ForceResolve ends a pending transfer on a superuser's behalf, approving
	// it or cancelling it as SERVER_CANCELLED.
	ForceResolve(ctx context.Context, domainName string, approve bool, now time.Time) (*Outcome, error)
	// ServerCancel ends a pending transfer of d inside tx; d is updated but
	// not saved.
	ServerCancel(ctx context.Context, tx *gorm.DB, d *regdomain.Domain, at time.Time) error
	// ResolveDue persists an automatic approval that has come due. It is a
	// no-op once the transfer is resolved.
	ResolveDue(ctx context.Context, tx *gorm.DB, domainID snowflake.ID, now time.Time) (bool, error)
}
