package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/registry/internal/money"
	"github.com/smallbiznis/registry/internal/timeline"
	"github.com/smallbiznis/registry/internal/tld/domain"
)

type fileConfig struct {
	Tlds map[string]rawTld `mapstructure:"tlds"`
}

type rawTld struct {
	Currency             string            `mapstructure:"currency"`
	Phases               []rawEntry        `mapstructure:"phases"`
	Prices               rawPrices         `mapstructure:"prices"`
	Premium              map[string]string `mapstructure:"premium"`
	Reserved             []rawReservedList `mapstructure:"reserved"`
	DefaultPromoTokens   []string          `mapstructure:"defaultPromoTokens"`
	Durations            rawDurations      `mapstructure:"durations"`
	MaxRegistrationYears int               `mapstructure:"maxRegistrationYears"`
}

type rawPrices struct {
	Create   []rawEntry `mapstructure:"create"`
	Renew    []rawEntry `mapstructure:"renew"`
	Transfer []rawEntry `mapstructure:"transfer"`
	Restore  string     `mapstructure:"restore"`
	EAP      []rawEntry `mapstructure:"eap"`
}

type rawEntry struct {
	At    string `mapstructure:"at"`
	Value string `mapstructure:"value"`
}

type rawReservedList struct {
	Name    string                      `mapstructure:"name"`
	Entries map[string]rawReservedEntry `mapstructure:"entries"`
}

type rawReservedEntry struct {
	Type    string `mapstructure:"type"`
	Comment string `mapstructure:"comment"`
}

type rawDurations struct {
	AddGracePeriod             time.Duration  `mapstructure:"addGracePeriod"`
	AnchorTenantAddGracePeriod time.Duration  `mapstructure:"anchorTenantAddGracePeriod"`
	AutoRenewGracePeriod       time.Duration  `mapstructure:"autoRenewGracePeriod"`
	RedemptionGracePeriod      time.Duration  `mapstructure:"redemptionGracePeriod"`
	RenewGracePeriod           time.Duration  `mapstructure:"renewGracePeriod"`
	TransferGracePeriod        time.Duration  `mapstructure:"transferGracePeriod"`
	AutomaticTransferLength    *time.Duration `mapstructure:"automaticTransferLength"`
	PendingDeleteLength        time.Duration  `mapstructure:"pendingDeleteLength"`
}

const day = 24 * time.Hour

func defaultDurations() rawDurations {
	transfer := 5 * day
	return rawDurations{
		AddGracePeriod:             5 * day,
		AnchorTenantAddGracePeriod: 30 * day,
		AutoRenewGracePeriod:       45 * day,
		RedemptionGracePeriod:      30 * day,
		RenewGracePeriod:           5 * day,
		TransferGracePeriod:        5 * day,
		AutomaticTransferLength:    &transfer,
		PendingDeleteLength:        5 * day,
	}
}

func buildTlds(cfg fileConfig) (map[string]*domain.Tld, error) {
	out := make(map[string]*domain.Tld, len(cfg.Tlds))
	for name, raw := range cfg.Tlds {
		tld, err := buildTld(name, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: tld %q: %v", domain.ErrInvalidConfig, name, err)
		}
		out[tld.Name] = tld
	}
	return out, nil
}

func buildTld(name string, raw rawTld) (*domain.Tld, error) {
	currency := strings.ToUpper(strings.TrimSpace(raw.Currency))
	if _, err := money.Scale(currency); err != nil {
		return nil, err
	}

	phases, err := phaseTimeline(raw.Phases)
	if err != nil {
		return nil, fmt.Errorf("phases: %w", err)
	}
	create, err := moneyTimeline(currency, raw.Prices.Create, true)
	if err != nil {
		return nil, fmt.Errorf("create prices: %w", err)
	}
	renew, err := moneyTimeline(currency, raw.Prices.Renew, true)
	if err != nil {
		return nil, fmt.Errorf("renew prices: %w", err)
	}
	transfer, err := moneyTimeline(currency, raw.Prices.Transfer, false)
	if err != nil {
		return nil, fmt.Errorf("transfer prices: %w", err)
	}
	eap, err := moneyTimeline(currency, raw.Prices.EAP, false)
	if err != nil {
		return nil, fmt.Errorf("eap fees: %w", err)
	}
	restore := money.Zero(currency)
	if strings.TrimSpace(raw.Prices.Restore) != "" {
		if restore, err = money.Parse(currency, raw.Prices.Restore); err != nil {
			return nil, fmt.Errorf("restore price: %w", err)
		}
	}

	premium := make(map[string]money.Money, len(raw.Premium))
	for label, price := range raw.Premium {
		parsed, err := money.Parse(currency, price)
		if err != nil {
			return nil, fmt.Errorf("premium %q: %w", label, err)
		}
		premium[strings.ToLower(label)] = parsed
	}

	lists := make([]domain.ReservedList, 0, len(raw.Reserved))
	for _, rl := range raw.Reserved {
		entries := make(map[string]domain.ReservedEntry, len(rl.Entries))
		for label, entry := range rl.Entries {
			kind, ok := domain.ParseReservationType(entry.Type)
			if !ok {
				return nil, fmt.Errorf("reserved list %q: unknown type %q", rl.Name, entry.Type)
			}
			entries[strings.ToLower(label)] = domain.ReservedEntry{Type: kind, Comment: entry.Comment}
		}
		lists = append(lists, domain.ReservedList{Name: rl.Name, Entries: entries})
	}

	d := mergeDurations(raw.Durations)
	return &domain.Tld{
		Name:                       strings.ToLower(strings.TrimSpace(name)),
		Currency:                   currency,
		Phases:                     phases,
		CreateCost:                 create,
		RenewCost:                  renew,
		TransferCost:               transfer,
		RestoreCost:                restore,
		EAPFee:                     eap,
		PremiumPrices:              premium,
		ReservedLists:              lists,
		DefaultPromoTokens:         raw.DefaultPromoTokens,
		AddGracePeriod:             d.AddGracePeriod,
		AnchorTenantAddGracePeriod: d.AnchorTenantAddGracePeriod,
		AutoRenewGracePeriod:       d.AutoRenewGracePeriod,
		RedemptionGracePeriod:      d.RedemptionGracePeriod,
		RenewGracePeriod:           d.RenewGracePeriod,
		TransferGracePeriod:        d.TransferGracePeriod,
		AutomaticTransferLength:    *d.AutomaticTransferLength,
		PendingDeleteLength:        d.PendingDeleteLength,
		MaxRegistrationYears:       raw.MaxRegistrationYears,
	}, nil
}

// mergeDurations fills unset durations with registry defaults. An explicit
// zero automatic transfer length is kept.
func mergeDurations(d rawDurations) rawDurations {
	def := defaultDurations()
	if d.AddGracePeriod <= 0 {
		d.AddGracePeriod = def.AddGracePeriod
	}
	if d.AnchorTenantAddGracePeriod <= 0 {
		d.AnchorTenantAddGracePeriod = def.AnchorTenantAddGracePeriod
	}
	if d.AutoRenewGracePeriod <= 0 {
		d.AutoRenewGracePeriod = def.AutoRenewGracePeriod
	}
	if d.RedemptionGracePeriod <= 0 {
		d.RedemptionGracePeriod = def.RedemptionGracePeriod
	}
	if d.RenewGracePeriod <= 0 {
		d.RenewGracePeriod = def.RenewGracePeriod
	}
	if d.TransferGracePeriod <= 0 {
		d.TransferGracePeriod = def.TransferGracePeriod
	}
	if d.AutomaticTransferLength == nil || *d.AutomaticTransferLength < 0 {
		d.AutomaticTransferLength = def.AutomaticTransferLength
	}
	if d.PendingDeleteLength <= 0 {
		d.PendingDeleteLength = def.PendingDeleteLength
	}
	return d
}

func parseAt(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return timeline.StartOfTime, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func phaseTimeline(raw []rawEntry) (timeline.Timeline[domain.Phase], error) {
	if len(raw) == 0 {
		return timeline.Constant(domain.PhaseGeneralAvailability), nil
	}
	entries := make([]timeline.Entry[domain.Phase], 0, len(raw))
	for _, e := range raw {
		at, err := parseAt(e.At)
		if err != nil {
			return timeline.Timeline[domain.Phase]{}, err
		}
		entries = append(entries, timeline.Entry[domain.Phase]{At: at, Value: domain.Phase(strings.ToUpper(e.Value))})
	}
	return timeline.New(entries)
}

func moneyTimeline(currency string, raw []rawEntry, required bool) (timeline.Timeline[money.Money], error) {
	if len(raw) == 0 {
		if required {
			return timeline.Timeline[money.Money]{}, timeline.ErrEmpty
		}
		return timeline.Timeline[money.Money]{}, nil
	}
	entries := make([]timeline.Entry[money.Money], 0, len(raw))
	for _, e := range raw {
		at, err := parseAt(e.At)
		if err != nil {
			return timeline.Timeline[money.Money]{}, err
		}
		amount, err := money.Parse(currency, e.Value)
		if err != nil {
			return timeline.Timeline[money.Money]{}, err
		}
		if amount.IsNegative() {
			return timeline.Timeline[money.Money]{}, money.ErrInvalidAmount
		}
		entries = append(entries, timeline.Entry[money.Money]{At: at, Value: amount})
	}
	return timeline.New(entries)
}
