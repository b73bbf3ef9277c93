package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/registry/internal/billing/domain"
	"github.com/smallbiznis/registry/internal/money"
	"github.com/smallbiznis/registry/internal/timeline"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, token *AllocationToken) error
	Find(ctx context.Context, db *gorm.DB, token string) (*AllocationToken, error)
	FindMany(ctx context.Context, db *gorm.DB, tokens []string) ([]AllocationToken, error)
	ClaimRedemption(ctx context.Context, db *gorm.DB, token string, historyID snowflake.ID, now time.Time) (bool, error)
	UpdateStatusTransitions(ctx context.Context, db *gorm.DB, token string, transitions timeline.Timeline[TokenStatus], now time.Time) error
}

type CreateRequest struct {
	Token                string
	Type                 TokenType
	DomainName           string
	AllowedRegistrars    []string
	AllowedTlds          []string
	AllowedCommands      []string
	StatusTransitions    []timeline.Entry[TokenStatus]
	DiscountFraction     decimal.Decimal
	DiscountYears        int
	DiscountPremiums     bool
	RenewalPriceBehavior billingdomain.RenewalPriceBehavior
	RenewalPrice         *money.Money
	RegistrationBehavior RegistrationBehavior
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*AllocationToken, error)
	Get(ctx context.Context, token string) (*AllocationToken, error)
	Validate(ctx context.Context, tx *gorm.DB, token string, op OperationContext) (*AllocationToken, error)
	Redeem(ctx context.Context, tx *gorm.DB, token *AllocationToken, historyID snowflake.ID) error
	DefaultPromotion(ctx context.Context, tx *gorm.DB, candidates []string, op OperationContext) (*AllocationToken, error)
	CheckDomains(ctx context.Context, tx *gorm.DB, token string, op OperationContext, domainNames []string) map[string]error
	Cancel(ctx context.Context, token string, at time.Time) error
}
