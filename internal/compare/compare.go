// Package compare reports semantic differences between two statements.
package compare

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/statement-converter/internal/statement"
)

// Field names a compared attribute.
type Field string

const (
	FieldAmount      Field = "amount"
	FieldDirection   Field = "direction"
	FieldBookingDate Field = "booking_date"
	FieldValueDate   Field = "value_date"
	// FieldTransaction marks a transaction with no counterpart on the other side.
	FieldTransaction Field = "transaction"

	FieldOpeningBalance Field = "opening_balance"
	FieldClosingBalance Field = "closing_balance"
)

const (
	Present = "present"
	Missing = "missing"

	// BalanceIndex is the Index of differences that concern a balance.
	BalanceIndex = -1
)

// Difference is one mismatching value. Left comes from the first statement.
type Difference struct {
	Index int    `json:"index"`
	Field Field  `json:"field"`
	Left  string `json:"left"`
	Right string `json:"right"`
}

func (d Difference) String() string {
	if d.Index == BalanceIndex {
		return fmt.Sprintf("%s: %s != %s", d.Field, d.Left, d.Right)
	}
	return fmt.Sprintf("transaction %d: %s: %s != %s", d.Index, d.Field, d.Left, d.Right)
}

// Result holds the differences in report order. No differences means identical.
type Result struct {
	Differences []Difference `json:"differences"`
}

// Identical reports whether no differences were found.
func (r Result) Identical() bool {
	return len(r.Differences) == 0
}

func (r Result) String() string {
	if r.Identical() {
		return "identical"
	}
	lines := make([]string, len(r.Differences))
	for i, d := range r.Differences {
		lines[i] = d.String()
	}
	return strings.Join(lines, "\n")
}

// Compare pairs transactions by position and checks amount, direction and both dates.
// Descriptions and extras are not compared. Balances are compared when both
// statements carry them.
func Compare(a, b *statement.Statement) Result {
	var r Result
	r.balance(FieldOpeningBalance, a.OpeningBalance, b.OpeningBalance)
	r.balance(FieldClosingBalance, a.ClosingBalance, b.ClosingBalance)

	n := max(len(a.Transactions), len(b.Transactions))
	for i := 0; i < n; i++ {
		switch {
		case i >= len(b.Transactions):
			r.add(i, FieldTransaction, Present, Missing)
		case i >= len(a.Transactions):
			r.add(i, FieldTransaction, Missing, Present)
		default:
			r.transaction(i, a.Transactions[i], b.Transactions[i])
		}
	}
	return r
}

func (r *Result) add(index int, field Field, left, right string) {
	r.Differences = append(r.Differences, Difference{Index: index, Field: field, Left: left, Right: right})
}

func (r *Result) transaction(i int, x, y statement.Transaction) {
	if !x.Amount.Equal(y.Amount) {
		r.add(i, FieldAmount, x.Amount.String(), y.Amount.String())
	}
	if x.Direction != y.Direction {
		r.add(i, FieldDirection, x.Direction.String(), y.Direction.String())
	}
	if x.BookingDate != y.BookingDate {
		r.add(i, FieldBookingDate, x.BookingDate.String(), y.BookingDate.String())
	}
	if valueDate(x) != valueDate(y) {
		r.add(i, FieldValueDate, valueDate(x).String(), valueDate(y).String())
	}
}

func (r *Result) balance(field Field, x, y *statement.Balance) {
	if x == nil || y == nil {
		return
	}
	sub := func(name string) Field { return field + "." + Field(name) }
	if !x.Amount.Equal(y.Amount) {
		r.add(BalanceIndex, sub("amount"), x.Amount.String(), y.Amount.String())
	}
	if x.Direction != y.Direction {
		r.add(BalanceIndex, sub("direction"), x.Direction.String(), y.Direction.String())
	}
	if x.Date != y.Date {
		r.add(BalanceIndex, sub("date"), x.Date.String(), y.Date.String())
	}
}

// valueDate treats an unset value date as the booking date, as every codec does on parse.
func valueDate(t statement.Transaction) civil.Date {
	if t.ValueDate.IsValid() {
		return t.ValueDate
	}
	return t.BookingDate
}
