package convert

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-converter/internal/statement"
)

// limits bound what a format can represent for a single amount. When rendered is
// set, maxLen counts the formatted string including the separator; otherwise it
// counts significant digits.
type limits struct {
	fractionDigits int32
	maxLen         int
	rendered       bool
}

var formatLimits = map[Format]limits{
	MT940:   {fractionDigits: 2, maxLen: 15, rendered: true},
	CAMT053: {fractionDigits: 5, maxLen: 18},
}

// Convert prepares st for serialization as to. The model is shared by every format,
// so the result is a deep copy of st with balances untouched. Target defaults are
// applied by the target serializer; Convert only rejects amounts the target cannot
// represent at all.
func Convert(st *statement.Statement, from, to Format) (*statement.Statement, error) {
	if st == nil {
		return nil, fmt.Errorf("convert %s to %s: nil statement: %w", from, to, statement.ErrConversion)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("convert %s to %s: %w", from, to, err)
	}

	if lim, ok := formatLimits[to]; ok {
		check := func(what string, d decimal.Decimal) error {
			if err := lim.check(d); err != nil {
				return fmt.Errorf("convert %s to %s: %s: %w", from, to, what, err)
			}
			return nil
		}
		if st.OpeningBalance != nil {
			if err := check("opening balance", st.OpeningBalance.Amount); err != nil {
				return nil, err
			}
		}
		if st.ClosingBalance != nil {
			if err := check("closing balance", st.ClosingBalance.Amount); err != nil {
				return nil, err
			}
		}
		for i, tx := range st.Transactions {
			if err := check(fmt.Sprintf("transaction %d", i), tx.Amount); err != nil {
				return nil, err
			}
		}
	}

	return st.Clone(), nil
}

func (l limits) check(d decimal.Decimal) error {
	abs := d.Abs()
	if !abs.Round(l.fractionDigits).Equal(abs) {
		return fmt.Errorf("amount %s has more than %d decimals: %w", d, l.fractionDigits, statement.ErrConversion)
	}
	s := abs.StringFixed(2)
	if -abs.Exponent() > 2 {
		s = abs.String()
	}
	n := len(s)
	if !l.rendered {
		n = len(strings.Replace(strings.TrimLeft(s, "0"), ".", "", 1))
	}
	if n > l.maxLen {
		return fmt.Errorf("amount %s is too long: %w", d, statement.ErrConversion)
	}
	return nil
}
