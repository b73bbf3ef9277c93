package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/registry/internal/billing/domain"
	"github.com/smallbiznis/registry/internal/command"
	"github.com/smallbiznis/registry/internal/money"
	"github.com/smallbiznis/registry/internal/timeline"
	"gorm.io/datatypes"
)

type TokenType string

const (
	TypeSingleUse    TokenType = "SINGLE_USE"
	TypeUnlimitedUse TokenType = "UNLIMITED_USE"
	TypeDefaultPromo TokenType = "DEFAULT_PROMO"
	TypeBulkPricing  TokenType = "BULK_PRICING"
	TypeRegisterBSA  TokenType = "REGISTER_BSA"
)

// OneTimeUse reports whether redemption consumes the token.
func (t TokenType) OneTimeUse() bool {
	return t == TypeSingleUse || strings.HasPrefix(string(t), "REGISTER_")
}

func (t TokenType) Valid() bool {
	switch t {
	case TypeSingleUse, TypeUnlimitedUse, TypeDefaultPromo, TypeBulkPricing:
		return true
	default:
		return strings.HasPrefix(string(t), "REGISTER_") && len(t) > len("REGISTER_")
	}
}

type TokenStatus string

const (
	StatusNotStarted TokenStatus = "NOT_STARTED"
	StatusValid      TokenStatus = "VALID"
	StatusEnded      TokenStatus = "ENDED"
	StatusCancelled  TokenStatus = "CANCELLED"
)

// AllowedTransition is the token status state machine.
func AllowedTransition(from, to TokenStatus) bool {
	switch from {
	case StatusNotStarted:
		return to == StatusValid || to == StatusCancelled
	case StatusValid:
		return to == StatusEnded || to == StatusCancelled
	default:
		return false
	}
}

type RegistrationBehavior string

const (
	RegistrationDefault          RegistrationBehavior = "DEFAULT"
	RegistrationBypassTldState   RegistrationBehavior = "BYPASS_TLD_STATE"
	RegistrationAnchorTenant     RegistrationBehavior = "ANCHOR_TENANT"
	RegistrationNonPremiumCreate RegistrationBehavior = "NONPREMIUM_CREATE"
)

type AllocationToken struct {
	Token                string                             `gorm:"primaryKey;type:varchar(64)"`
	Type                 TokenType                          `gorm:"type:varchar(32);not null"`
	DomainName           *string                            `gorm:"type:varchar(253)"`
	AllowedRegistrars    datatypes.JSONSlice[string]        `gorm:"type:json"`
	AllowedTlds          datatypes.JSONSlice[string]        `gorm:"type:json"`
	AllowedCommands      datatypes.JSONSlice[string]        `gorm:"type:json"`
	StatusTransitions    timeline.Timeline[TokenStatus]     `gorm:"type:json;not null"`
	DiscountFraction     decimal.Decimal                    `gorm:"type:decimal(5,4);not null"`
	DiscountYears        int                                `gorm:"not null"`
	DiscountPremiums     bool                               `gorm:"not null"`
	RenewalPriceBehavior billingdomain.RenewalPriceBehavior `gorm:"type:varchar(16);not null"`
	RenewalPrice         decimal.NullDecimal                `gorm:"type:decimal(19,2)"`
	RenewalCurrency      string                             `gorm:"type:varchar(3)"`
	RegistrationBehavior RegistrationBehavior               `gorm:"type:varchar(32);not null"`
	RedemptionHistoryID  *snowflake.ID
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (AllocationToken) TableName() string { return "allocation_tokens" }

func (t *AllocationToken) StatusAt(at time.Time) TokenStatus {
	if t.StatusTransitions.IsZero() {
		return StatusValid
	}
	return t.StatusTransitions.ValueAt(at)
}

func (t *AllocationToken) Redeemed() bool {
	return t.RedemptionHistoryID != nil
}

func (t *AllocationToken) AllowsCommand(c command.Type) bool {
	return allows(t.AllowedCommands, string(c))
}

func (t *AllocationToken) AllowsTld(tld string) bool {
	return allows(t.AllowedTlds, strings.ToLower(tld))
}

func (t *AllocationToken) AllowsRegistrar(registrarID string) bool {
	return allows(t.AllowedRegistrars, registrarID)
}

// RenewalPriceOverride returns the fixed price carried into recurrences.
func (t *AllocationToken) RenewalPriceOverride() (money.Money, bool) {
	if !t.RenewalPrice.Valid {
		return money.Money{}, false
	}
	return money.Money{Amount: t.RenewalPrice.Decimal, Currency: t.RenewalCurrency}, true
}

// EffectiveDiscountYears is never below one.
func (t *AllocationToken) EffectiveDiscountYears() int {
	if t.DiscountYears < 1 {
		return 1
	}
	return t.DiscountYears
}

func (t *AllocationToken) HasDiscount() bool {
	return t.DiscountFraction.IsPositive()
}

func allows(set []string, value string) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

// OperationContext is what a token is validated against.
type OperationContext struct {
	Command     command.Type
	DomainName  string
	Tld         string
	RegistrarID string
	Now         time.Time
}
