package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrCurrencyMismatch = errors.New("currency_mismatch")
	ErrScaleMismatch    = errors.New("currency_scale_mismatch")
	ErrUnknownCurrency  = errors.New("unknown_currency")
	ErrInvalidAmount    = errors.New("invalid_amount")
)

// scales holds the canonical number of decimal places per ISO-4217 code.
var scales = map[string]int32{
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"CAD": 2,
	"AUD": 2,
	"CHF": 2,
	"JPY": 0,
}

// Money is an exact decimal amount tied to a currency. Amounts never pass
// through float64.
type Money struct {
	Amount   decimal.Decimal `gorm:"column:amount;type:decimal(19,2)"`
	Currency string          `gorm:"column:currency;type:varchar(3)"`
}

// Scale returns the canonical decimal scale of a currency.
func Scale(currency string) (int32, error) {
	scale, ok := scales[normalizeCurrency(currency)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCurrency, currency)
	}
	return scale, nil
}

// New validates that amount fits the currency scale and returns a Money.
func New(amount decimal.Decimal, currency string) (Money, error) {
	currency = normalizeCurrency(currency)
	scale, err := Scale(currency)
	if err != nil {
		return Money{}, err
	}
	if !amount.Round(scale).Equal(amount) {
		return Money{}, fmt.Errorf("%w: %s has more than %d decimals for %s", ErrScaleMismatch, amount.String(), scale, currency)
	}
	return Money{Amount: amount.Round(scale), Currency: currency}, nil
}

// Parse reads a plain decimal string such as "13.00".
func Parse(currency, amount string) (Money, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	return New(value, currency)
}

// MustParse is Parse for constants and tests.
func MustParse(currency, amount string) Money {
	m, err := Parse(currency, amount)
	if err != nil {
		panic(err)
	}
	return m
}

func Zero(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: normalizeCurrency(currency)}
}

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// Multiply scales the amount by a whole number of units (years).
func (m Money) Multiply(n int) Money {
	return Money{Amount: m.Amount.Mul(decimal.NewFromInt(int64(n))), Currency: m.Currency}
}

// Discount returns the amount taken off by fraction, rounded half-even to
// the currency scale.
func (m Money) Discount(fraction decimal.Decimal) Money {
	scale, err := Scale(m.Currency)
	if err != nil {
		scale = 2
	}
	return Money{Amount: m.Amount.Mul(fraction).RoundBank(scale), Currency: m.Currency}
}

func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// Cmp compares amounts of the same currency.
func (m Money) Cmp(other Money) (int, error) {
	if m.Currency != other.Currency {
		return 0, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return m.Amount.Cmp(other.Amount), nil
}

func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

func (m Money) IsNegative() bool {
	return m.Amount.IsNegative()
}

// Fixed renders the amount with the currency scale, e.g. "24.00".
func (m Money) Fixed() string {
	scale, err := Scale(m.Currency)
	if err != nil {
		return m.Amount.String()
	}
	return m.Amount.StringFixed(scale)
}

func (m Money) String() string {
	return m.Currency + " " + m.Fixed()
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.Fixed(), Currency: m.Currency})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := Parse(raw.Currency, raw.Amount)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Sum adds amounts, all of which must be in currency.
func Sum(currency string, values ...Money) (Money, error) {
	total := Zero(currency)
	for _, v := range values {
		next, err := total.Add(v)
		if err != nil {
			return Money{}, err
		}
		total = next
	}
	return total, nil
}

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}
