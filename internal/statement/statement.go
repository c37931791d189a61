// Package statement holds the format-neutral model shared by every codec.
package statement

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Direction tells whether an amount increases (credit) or decreases (debit) a balance.
type Direction int

const (
	Credit Direction = iota
	Debit
)

// ParseDirection accepts the short SWIFT letters, the ISO 20022 codes and the spelled-out words.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "C", "CRDT", "CREDIT", "CR":
		return Credit, nil
	case "D", "DBIT", "DEBIT", "DR":
		return Debit, nil
	}
	return Credit, fmt.Errorf("unknown credit/debit indicator %q: %w", s, ErrInvalidFormat)
}

func (d Direction) String() string {
	if d == Debit {
		return "debit"
	}
	return "credit"
}

// Opposite returns the reversed direction.
func (d Direction) Opposite() Direction {
	if d == Debit {
		return Credit
	}
	return Debit
}

// SwiftCode returns the MT940 mark letter.
func (d Direction) SwiftCode() string {
	if d == Debit {
		return "D"
	}
	return "C"
}

// ISOCode returns the ISO 20022 CdtDbtInd value.
func (d Direction) ISOCode() string {
	if d == Debit {
		return "DBIT"
	}
	return "CRDT"
}

// Balance is a signed amount at a given date.
type Balance struct {
	Amount    decimal.Decimal
	Currency  string
	Date      civil.Date
	Direction Direction
}

// Signed returns the amount negated for debit balances.
func (b Balance) Signed() decimal.Decimal {
	if b.Direction == Debit {
		return b.Amount.Neg()
	}
	return b.Amount
}

// Transaction is one booked movement. Amount is always a non-negative magnitude.
type Transaction struct {
	Reference   string
	Amount      decimal.Decimal
	Direction   Direction
	BookingDate civil.Date
	ValueDate   civil.Date
	Description string
	Extra       map[string]string
}

// SetExtra stores a value, allocating the map on first use. Empty values are ignored.
func (t *Transaction) SetExtra(key, value string) {
	if value == "" {
		return
	}
	if t.Extra == nil {
		t.Extra = make(map[string]string)
	}
	t.Extra[key] = value
}

// Signed returns the amount negated for debits.
func (t Transaction) Signed() decimal.Decimal {
	if t.Direction == Debit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Statement is one account's reporting period.
type Statement struct {
	ID             string
	AccountID      string
	SequenceNumber string
	Currency       string
	OpeningBalance *Balance
	ClosingBalance *Balance
	Transactions   []Transaction
}

// ResolvedCurrency returns the statement currency, falling back to the balances.
func (s *Statement) ResolvedCurrency() string {
	if s.Currency != "" {
		return s.Currency
	}
	if s.OpeningBalance != nil && s.OpeningBalance.Currency != "" {
		return s.OpeningBalance.Currency
	}
	if s.ClosingBalance != nil {
		return s.ClosingBalance.Currency
	}
	return ""
}

// Validate checks that the statement does not mix currencies.
func (s *Statement) Validate() error {
	ccy := s.ResolvedCurrency()
	for _, b := range []*Balance{s.OpeningBalance, s.ClosingBalance} {
		if b == nil || b.Currency == "" {
			continue
		}
		if !strings.EqualFold(b.Currency, ccy) {
			return fmt.Errorf("balance currency %s differs from statement currency %s: %w", b.Currency, ccy, ErrCurrencyMismatch)
		}
	}
	for i, t := range s.Transactions {
		if t.Amount.IsNegative() {
			return fmt.Errorf("transaction %d: negative amount %s: %w", i, t.Amount, ErrInvalidAmount)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s *Statement) Clone() *Statement {
	if s == nil {
		return nil
	}
	out := *s
	if s.OpeningBalance != nil {
		b := *s.OpeningBalance
		out.OpeningBalance = &b
	}
	if s.ClosingBalance != nil {
		b := *s.ClosingBalance
		out.ClosingBalance = &b
	}
	if s.Transactions != nil {
		out.Transactions = make([]Transaction, len(s.Transactions))
		for i, t := range s.Transactions {
			if t.Extra != nil {
				extra := make(map[string]string, len(t.Extra))
				for k, v := range t.Extra {
					extra[k] = v
				}
				t.Extra = extra
			}
			out.Transactions[i] = t
		}
	}
	return &out
}
