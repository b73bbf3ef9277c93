package domain

import (
	"strings"
	"time"

	"github.com/smallbiznis/registry/internal/money"
	"github.com/smallbiznis/registry/internal/timeline"
)

type Phase string

const (
	PhasePredelegation       Phase = "PREDELEGATION"
	PhaseStartDateSunrise    Phase = "START_DATE_SUNRISE"
	PhaseQuietPeriod         Phase = "QUIET_PERIOD"
	PhaseGeneralAvailability Phase = "GENERAL_AVAILABILITY"
	PhasePDT                 Phase = "PDT"
)

// ReservationType is ordered by severity; a higher value wins when several
// lists mention the same label.
type ReservationType int

const (
	ReservationNone ReservationType = iota
	ReservationAllowedInSunrise
	ReservationNameCollision
	ReservationReservedForSpecificUse
	ReservationReservedForAnchorTenant
	ReservationFullyBlocked
)

var reservationNames = map[ReservationType]string{
	ReservationNone:                    "NONE",
	ReservationAllowedInSunrise:        "ALLOWED_IN_SUNRISE",
	ReservationNameCollision:           "NAME_COLLISION",
	ReservationReservedForSpecificUse:  "RESERVED_FOR_SPECIFIC_USE",
	ReservationReservedForAnchorTenant: "RESERVED_FOR_ANCHOR_TENANT",
	ReservationFullyBlocked:            "FULLY_BLOCKED",
}

func (r ReservationType) String() string {
	if name, ok := reservationNames[r]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseReservationType maps a list entry type name to its severity.
func ParseReservationType(raw string) (ReservationType, bool) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	for k, v := range reservationNames {
		if v == raw && k != ReservationNone {
			return k, true
		}
	}
	return ReservationNone, false
}

type ReservedEntry struct {
	Type    ReservationType
	Comment string
}

type ReservedList struct {
	Name    string
	Entries map[string]ReservedEntry
}

// Tld is the read-only configuration of one registry partition.
type Tld struct {
	Name     string
	Currency string

	Phases timeline.Timeline[Phase]

	CreateCost   timeline.Timeline[money.Money]
	RenewCost    timeline.Timeline[money.Money]
	TransferCost timeline.Timeline[money.Money]
	RestoreCost  money.Money
	EAPFee       timeline.Timeline[money.Money]

	PremiumPrices map[string]money.Money
	ReservedLists []ReservedList

	DefaultPromoTokens []string

	AddGracePeriod             time.Duration
	AnchorTenantAddGracePeriod time.Duration
	AutoRenewGracePeriod       time.Duration
	RedemptionGracePeriod      time.Duration
	RenewGracePeriod           time.Duration
	TransferGracePeriod        time.Duration
	AutomaticTransferLength    time.Duration
	PendingDeleteLength        time.Duration

	MaxRegistrationYears int
}

func (t *Tld) PhaseAt(at time.Time) Phase {
	return t.Phases.ValueAt(at)
}

func (t *Tld) CreatePriceAt(at time.Time) money.Money {
	return t.CreateCost.ValueAt(at)
}

func (t *Tld) RenewPriceAt(at time.Time) money.Money {
	return t.RenewCost.ValueAt(at)
}

// TransferPriceAt falls back to the renew tier when no transfer schedule is
// configured.
func (t *Tld) TransferPriceAt(at time.Time) money.Money {
	if t.TransferCost.IsZero() {
		return t.RenewPriceAt(at)
	}
	return t.TransferCost.ValueAt(at)
}

// EAPFeeAt returns the early access surcharge at an instant, zero when none
// is configured.
func (t *Tld) EAPFeeAt(at time.Time) money.Money {
	if t.EAPFee.IsZero() {
		return money.Zero(t.Currency)
	}
	fee := t.EAPFee.ValueAt(at)
	if fee.Currency == "" {
		return money.Zero(t.Currency)
	}
	return fee
}

func (t *Tld) PremiumPrice(label string) (money.Money, bool) {
	price, ok := t.PremiumPrices[strings.ToLower(label)]
	return price, ok
}

// Reservations returns every entry for label across all reserved lists.
func (t *Tld) Reservations(label string) []ReservedEntry {
	label = strings.ToLower(label)
	var out []ReservedEntry
	for _, list := range t.ReservedLists {
		if entry, ok := list.Entries[label]; ok {
			out = append(out, entry)
		}
	}
	return out
}

// MaxRegistrationHorizon is the furthest expiration allowed from an instant.
func (t *Tld) MaxRegistrationHorizon(from time.Time) time.Time {
	years := t.MaxRegistrationYears
	if years <= 0 {
		years = DefaultMaxRegistrationYears
	}
	return from.AddDate(years, 0, 0)
}

const DefaultMaxRegistrationYears = 10
