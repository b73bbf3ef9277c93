package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/registry/internal/money"
	"gorm.io/datatypes"
)

type Reason string

const (
	ReasonCreate         Reason = "CREATE"
	ReasonRenew          Reason = "RENEW"
	ReasonTransfer       Reason = "TRANSFER"
	ReasonRestore        Reason = "RESTORE"
	ReasonEarlyAccessFee Reason = "EARLY_ACCESS_FEE"
)

type Flag string

const (
	FlagAnchorTenant    Flag = "ANCHOR_TENANT"
	FlagAutoRenew       Flag = "AUTO_RENEW"
	FlagSunrise         Flag = "SUNRISE"
	FlagReserved        Flag = "RESERVED"
	FlagAllocationToken Flag = "ALLOCATION_TOKEN"
	FlagSynthetic       Flag = "SYNTHETIC"
)

// RenewalPriceBehavior decides how a recurrence prices each renewal.
type RenewalPriceBehavior string

const (
	RenewalDefault    RenewalPriceBehavior = "DEFAULT"
	RenewalSpecified  RenewalPriceBehavior = "SPECIFIED"
	RenewalNonPremium RenewalPriceBehavior = "NONPREMIUM"
)

func (b RenewalPriceBehavior) Valid() bool {
	switch b {
	case RenewalDefault, RenewalSpecified, RenewalNonPremium:
		return true
	default:
		return false
	}
}

// BillingEvent is a one-time charge. It becomes immutable at BillingTime;
// before that it can only be negated by a BillingCancellation.
type BillingEvent struct {
	ID               snowflake.ID                `gorm:"primaryKey"`
	Reason           Reason                      `gorm:"type:varchar(32);not null"`
	DomainID         snowflake.ID                `gorm:"index;not null"`
	TargetName       string                      `gorm:"type:varchar(253);not null"`
	RegistrarID      string                      `gorm:"type:varchar(64);not null"`
	Cost             money.Money                 `gorm:"embedded;embeddedPrefix:cost_"`
	PeriodYears      int                         `gorm:"not null"`
	EventTime        time.Time                   `gorm:"uniqueIndex:ux_billing_events_occurrence,priority:2;not null"`
	BillingTime      time.Time                   `gorm:"not null"`
	Flags            datatypes.JSONSlice[string] `gorm:"type:json"`
	AllocationToken  *string                     `gorm:"type:varchar(64)"`
	HistoryID        *snowflake.ID
	RecurrenceID     *snowflake.ID `gorm:"uniqueIndex:ux_billing_events_occurrence,priority:1"`
	StagedTransferID *snowflake.ID `gorm:"index"`
	CreatedAt        time.Time
}

func (BillingEvent) TableName() string { return "billing_events" }

func (e *BillingEvent) HasFlag(flag Flag) bool {
	for _, f := range e.Flags {
		if f == string(flag) {
			return true
		}
	}
	return false
}

// BillingRecurrence is the standing autorenew obligation for a domain.
// Recurrences are ended and superseded, never repriced in place.
type BillingRecurrence struct {
	ID                   snowflake.ID         `gorm:"primaryKey"`
	DomainID             snowflake.ID         `gorm:"index;not null"`
	TargetName           string               `gorm:"type:varchar(253);not null"`
	RegistrarID          string               `gorm:"type:varchar(64);not null"`
	Reason               Reason               `gorm:"type:varchar(32);not null"`
	EventTime            time.Time            `gorm:"not null"`
	RecurrenceEndTime    time.Time            `gorm:"not null"`
	RenewalPriceBehavior RenewalPriceBehavior `gorm:"type:varchar(16);not null"`
	RenewalPrice         decimal.NullDecimal  `gorm:"type:decimal(19,2)"`
	RenewalCurrency      string               `gorm:"type:varchar(3)"`
	LastExpansion        time.Time            `gorm:"not null"`
	SupersededBy         *snowflake.ID
	Flags                datatypes.JSONSlice[string] `gorm:"type:json"`
	HistoryID            *snowflake.ID
	StagedTransferID     *snowflake.ID `gorm:"index"`
	CreatedAt            time.Time
}

func (BillingRecurrence) TableName() string { return "billing_recurrences" }

// FixedPrice returns the stored renewal price, set only for SPECIFIED.
func (r *BillingRecurrence) FixedPrice() (money.Money, bool) {
	if !r.RenewalPrice.Valid {
		return money.Money{}, false
	}
	return money.Money{Amount: r.RenewalPrice.Decimal, Currency: r.RenewalCurrency}, true
}

func (r *BillingRecurrence) SetFixedPrice(price *money.Money) {
	if price == nil {
		r.RenewalPrice = decimal.NullDecimal{}
		r.RenewalCurrency = ""
		return
	}
	r.RenewalPrice = decimal.NullDecimal{Decimal: price.Amount, Valid: true}
	r.RenewalCurrency = price.Currency
}

// OpenAt reports whether the recurrence still bills occurrences at t.
func (r *BillingRecurrence) OpenAt(t time.Time) bool {
	return t.Before(r.RecurrenceEndTime)
}

// BillingCancellation negates one BillingEvent or one occurrence of a
// BillingRecurrence.
type BillingCancellation struct {
	ID                  snowflake.ID  `gorm:"primaryKey"`
	DomainID            snowflake.ID  `gorm:"index;not null"`
	TargetName          string        `gorm:"type:varchar(253);not null"`
	RegistrarID         string        `gorm:"type:varchar(64);not null"`
	Reason              Reason        `gorm:"type:varchar(32);not null"`
	EventTime           time.Time     `gorm:"not null"`
	BillingTime         time.Time     `gorm:"not null"`
	BillingEventID      *snowflake.ID `gorm:"index"`
	RecurrenceID        *snowflake.ID `gorm:"index"`
	RecurrenceEventTime *time.Time
	HistoryID           *snowflake.ID
	StagedTransferID    *snowflake.ID `gorm:"index"`
	CreatedAt           time.Time
}

func (BillingCancellation) TableName() string { return "billing_cancellations" }

// StagedSet is the write set pre-staged for a transfer's server approval.
type StagedSet struct {
	Events        []BillingEvent
	Recurrences   []BillingRecurrence
	Cancellations []BillingCancellation
}
