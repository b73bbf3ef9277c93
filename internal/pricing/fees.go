package pricing

import (
	"github.com/smallbiznis/registry/internal/money"
)

type FeeType string

const (
	FeeCreate   FeeType = "CREATE"
	FeeRenew    FeeType = "RENEW"
	FeeTransfer FeeType = "TRANSFER"
	FeeRestore  FeeType = "RESTORE"
	FeeEAP      FeeType = "EAP"
)

// Fee is one line of a price breakdown.
type Fee struct {
	Type    FeeType     `json:"type"`
	Cost    money.Money `json:"cost"`
	Years   int         `json:"years,omitempty"`
	Premium bool        `json:"premium,omitempty"`
}

// Fees is the authoritative price of a command.
type Fees struct {
	Currency string      `json:"currency"`
	Lines    []Fee       `json:"lines"`
	Total    money.Money `json:"total"`
	Premium  bool        `json:"premium"`
}

// Line returns the first fee of type t and whether it exists.
func (f Fees) Line(t FeeType) (Fee, bool) {
	for _, l := range f.Lines {
		if l.Type == t {
			return l, true
		}
	}
	return Fee{}, false
}

// Cost returns the amount billed for t, zero when absent.
func (f Fees) Cost(t FeeType) money.Money {
	if l, ok := f.Line(t); ok {
		return l.Cost
	}
	return money.Zero(f.Currency)
}

func (f *Fees) add(line Fee) error {
	total, err := f.Total.Add(line.Cost)
	if err != nil {
		return err
	}
	f.Total = total
	f.Lines = append(f.Lines, line)
	if line.Premium {
		f.Premium = true
	}
	return nil
}
