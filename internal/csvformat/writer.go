package csvformat

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/text/encoding"

	"github.com/dvloznov/statement-converter/internal/statement"
)

var outputHeader = []string{"reference", "date", "value_date", "amount", "direction", "currency", "description"}

// Serialize writes one header row and one row per transaction. Balances, statement
// identifiers and extras have no column and are omitted.
func (c *Codec) Serialize(st *statement.Statement, w io.Writer) error {
	opts, err := c.Options.withDefaults()
	if err != nil {
		return err
	}
	enc, err := opts.charset()
	if err != nil {
		return err
	}
	if err := st.Validate(); err != nil {
		return err
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.Comma = opts.Delimiter

	if err := cw.Write(outputHeader); err != nil {
		return err
	}
	ccy := strings.ToUpper(st.ResolvedCurrency())
	for i, tx := range st.Transactions {
		if !tx.BookingDate.IsValid() {
			return fmt.Errorf("transaction %d: booking date %s: %w", i, tx.BookingDate, statement.ErrConversion)
		}
		valueDate := tx.ValueDate
		if !valueDate.IsValid() {
			valueDate = tx.BookingDate
		}
		record := []string{
			tx.Reference,
			tx.BookingDate.In(time.UTC).Format(opts.DateLayout),
			valueDate.In(time.UTC).Format(opts.DateLayout),
			formatAmount(tx, opts.DecimalSeparator),
			tx.Direction.String(),
			ccy,
			tx.Description,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}

	if opts.isUTF8() {
		_, err = w.Write(buf.Bytes())
		return err
	}
	out, err := encoding.ReplaceUnsupported(enc.NewEncoder()).Bytes(buf.Bytes())
	if err != nil {
		return fmt.Errorf("encode %s: %w", opts.Encoding, err)
	}
	_, err = w.Write(out)
	return err
}

// formatAmount renders the magnitude with at least two decimals.
func formatAmount(tx statement.Transaction, sep rune) string {
	places := int32(2)
	if exp := -tx.Amount.Exponent(); exp > places {
		places = exp
	}
	s := tx.Amount.Abs().StringFixed(places)
	if sep == ',' {
		s = strings.Replace(s, ".", ",", 1)
	}
	return s
}
