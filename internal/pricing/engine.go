// Package pricing computes the authoritative cost of registry commands.
package pricing

import (
	"strings"
	"time"

	billingdomain "github.com/smallbiznis/registry/internal/billing/domain"
	"github.com/smallbiznis/registry/internal/command"
	"github.com/smallbiznis/registry/internal/config"
	"github.com/smallbiznis/registry/internal/money"
	tlddomain "github.com/smallbiznis/registry/internal/tld/domain"
	tokendomain "github.com/smallbiznis/registry/internal/token/domain"
)

type FeeCheckMode string

const (
	FeeCheckExact            FeeCheckMode = "exact"
	FeeCheckDeclaredNotLower FeeCheckMode = "declared_not_lower"
)

// CostRequest describes one priced command. Label is the second-level label
// without the TLD suffix.
type CostRequest struct {
	Tld     *tlddomain.Tld
	Command command.Type
	Label   string
	Years   int
	At      time.Time
	Token   *tokendomain.AllocationToken

	AnchorTenant bool
	// Recurrence prices renewals and transfers by its renewal behavior.
	Recurrence *billingdomain.BillingRecurrence
	// Expired adds one renew year to a RESTORE.
	Expired bool
}

type Engine struct {
	mode FeeCheckMode
}

func NewEngine(cfg config.Config) *Engine {
	mode := FeeCheckMode(strings.ToLower(strings.TrimSpace(cfg.FeeCheckMode)))
	if mode != FeeCheckDeclaredNotLower {
		mode = FeeCheckExact
	}
	return &Engine{mode: mode}
}

func (e *Engine) Mode() FeeCheckMode {
	return e.mode
}

// ComputeCost is a pure function of the request.
func (e *Engine) ComputeCost(req CostRequest) (Fees, error) {
	tld := req.Tld
	fees := Fees{Currency: tld.Currency, Total: money.Zero(tld.Currency)}

	switch req.Command {
	case command.Create:
		if req.Years < 1 {
			return Fees{}, ErrInvalidYears
		}
		if req.AnchorTenant {
			return fees, fees.add(Fee{Type: FeeCreate, Cost: money.Zero(tld.Currency), Years: req.Years})
		}
		line, err := e.yearsCost(req, tld.CreatePriceAt(req.At), FeeCreate)
		if err != nil {
			return Fees{}, err
		}
		if err := fees.add(line); err != nil {
			return Fees{}, err
		}
		if eap := tld.EAPFeeAt(req.At); !eap.IsZero() {
			if err := fees.add(Fee{Type: FeeEAP, Cost: eap}); err != nil {
				return Fees{}, err
			}
		}
		return fees, nil

	case command.Renew:
		if req.Years < 1 {
			return Fees{}, ErrInvalidYears
		}
		line, err := e.yearsCost(req, tld.RenewPriceAt(req.At), FeeRenew)
		if err != nil {
			return Fees{}, err
		}
		return fees, fees.add(line)

	case command.Transfer:
		if req.Years == 0 {
			return fees, fees.add(Fee{Type: FeeTransfer, Cost: money.Zero(tld.Currency)})
		}
		if req.Years < 0 {
			return Fees{}, ErrInvalidYears
		}
		line, err := e.yearsCost(req, tld.TransferPriceAt(req.At), FeeTransfer)
		if err != nil {
			return Fees{}, err
		}
		return fees, fees.add(line)

	case command.Restore:
		if err := fees.add(Fee{Type: FeeRestore, Cost: tld.RestoreCost}); err != nil {
			return Fees{}, err
		}
		if req.Expired {
			renew := req
			renew.Command = command.Renew
			renew.Years = 1
			line, err := e.yearsCost(renew, tld.RenewPriceAt(req.At), FeeRenew)
			if err != nil {
				return Fees{}, err
			}
			if err := fees.add(line); err != nil {
				return Fees{}, err
			}
		}
		return fees, nil
	}
	return Fees{}, ErrUnsupportedCommand
}

// yearsCost prices a multi-year line. firstYear is the command tier; later
// years use the renew tier.
func (e *Engine) yearsCost(req CostRequest, firstYear money.Money, feeType FeeType) (Fee, error) {
	tld := req.Tld
	behavior := billingdomain.RenewalDefault
	if req.Recurrence != nil && req.Command != command.Create {
		behavior = req.Recurrence.RenewalPriceBehavior
	}

	if behavior == billingdomain.RenewalSpecified {
		fixed, ok := req.Recurrence.FixedPrice()
		if !ok {
			return Fee{}, billingdomain.ErrInvalidRenewalPrice
		}
		return Fee{Type: feeType, Cost: fixed.Multiply(req.Years), Years: req.Years}, nil
	}

	premium, isPremium := tld.PremiumPrice(req.Label)
	if behavior == billingdomain.RenewalNonPremium {
		isPremium = false
	}
	if req.Command == command.Create && req.Token != nil && req.Token.RegistrationBehavior == tokendomain.RegistrationNonPremiumCreate {
		isPremium = false
	}

	window := 0
	if req.Token != nil && req.Token.HasDiscount() {
		window = min(req.Years, req.Token.EffectiveDiscountYears())
	}

	total := money.Zero(tld.Currency)
	for year := 0; year < req.Years; year++ {
		price := firstYear
		if year > 0 {
			price = tld.RenewPriceAt(req.At)
		}
		if isPremium {
			price = premium
		}
		if year < window && (!isPremium || req.Token.DiscountPremiums) {
			discounted, err := price.Sub(price.Discount(req.Token.DiscountFraction))
			if err != nil {
				return Fee{}, err
			}
			price = discounted
		}
		next, err := total.Add(price)
		if err != nil {
			return Fee{}, err
		}
		total = next
	}
	return Fee{Type: feeType, Cost: total, Years: req.Years, Premium: isPremium}, nil
}

// CheckDeclaredFee compares a client-declared total with the computed one.
// A nil declaration passes unless the name is premium.
func (e *Engine) CheckDeclaredFee(declared *money.Money, computed Fees) error {
	if declared == nil {
		if computed.Premium {
			return ErrFeesRequiredForPremium
		}
		return nil
	}
	if !strings.EqualFold(declared.Currency, computed.Currency) {
		return ErrCurrencyMismatch
	}
	if _, err := money.New(declared.Amount, declared.Currency); err != nil {
		return ErrCurrencyScale
	}
	cmp := declared.Amount.Cmp(computed.Total.Amount)
	switch e.mode {
	case FeeCheckDeclaredNotLower:
		if cmp < 0 {
			return ErrFeesMismatch
		}
	default:
		if cmp != 0 {
			return ErrFeesMismatch
		}
	}
	return nil
}
