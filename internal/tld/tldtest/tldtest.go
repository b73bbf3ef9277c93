// Package tldtest builds TLD fixtures for tests.
package tldtest

import (
	"time"

	"github.com/smallbiznis/registry/internal/money"
	"github.com/smallbiznis/registry/internal/timeline"
	"github.com/smallbiznis/registry/internal/tld/domain"
	"github.com/smallbiznis/registry/internal/tld/service"
)

const day = 24 * time.Hour

// Example is a GA TLD priced at 13.00 create and 11.00 renew in USD with
// the usual grace lengths and one reserved list covering every severity.
func Example() *domain.Tld {
	usd := func(amount string) money.Money { return money.MustParse("USD", amount) }
	return &domain.Tld{
		Name:          "example",
		Currency:      "USD",
		Phases:        timeline.Constant(domain.PhaseGeneralAvailability),
		CreateCost:    timeline.Constant(usd("13.00")),
		RenewCost:     timeline.Constant(usd("11.00")),
		RestoreCost:   usd("40.00"),
		PremiumPrices: map[string]money.Money{"rich": usd("100.00")},
		ReservedLists: []domain.ReservedList{{
			Name: "example-reserved",
			Entries: map[string]domain.ReservedEntry{
				"sunrise":   {Type: domain.ReservationAllowedInSunrise},
				"collision": {Type: domain.ReservationNameCollision},
				"reserved":  {Type: domain.ReservationReservedForSpecificUse, Comment: "registry use"},
				"anchor":    {Type: domain.ReservationReservedForAnchorTenant},
				"blocked":   {Type: domain.ReservationFullyBlocked},
			},
		}},
		AddGracePeriod:             5 * day,
		AnchorTenantAddGracePeriod: 30 * day,
		AutoRenewGracePeriod:       45 * day,
		RedemptionGracePeriod:      30 * day,
		RenewGracePeriod:           5 * day,
		TransferGracePeriod:        5 * day,
		AutomaticTransferLength:    5 * day,
		PendingDeleteLength:        5 * day,
		MaxRegistrationYears:       domain.DefaultMaxRegistrationYears,
	}
}

// Store serves the given TLDs, defaulting to Example.
func Store(tlds ...*domain.Tld) domain.Store {
	if len(tlds) == 0 {
		tlds = []*domain.Tld{Example()}
	}
	return service.NewStaticStore(tlds...)
}
