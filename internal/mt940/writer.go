package mt940

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-converter/internal/statement"
)

const defaultTypeCode = "NMSC"

// Serialize writes st as an MT940 text block. Nothing is written when the statement
// cannot be represented.
func Serialize(st *statement.Statement, w io.Writer) error {
	lines, err := render(st)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	for _, line := range lines {
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func render(st *statement.Statement) ([]string, error) {
	if strings.TrimSpace(st.ID) == "" {
		return nil, fmt.Errorf("statement reference is empty: %w", statement.ErrConversion)
	}
	if strings.TrimSpace(st.AccountID) == "" {
		return nil, fmt.Errorf("account identification is empty: %w", statement.ErrConversion)
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}

	seq := st.SequenceNumber
	if seq == "" {
		seq = "1"
	}
	lines := []string{
		":20:" + st.ID,
		":25:" + st.AccountID,
		":28C:" + seq,
	}

	ccy := st.ResolvedCurrency()
	if st.OpeningBalance != nil {
		line, err := formatBalance("60F", st.OpeningBalance, ccy)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	for i, tx := range st.Transactions {
		txLines, err := formatTransaction(tx)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		lines = append(lines, txLines...)
	}

	if st.ClosingBalance != nil {
		line, err := formatBalance("62F", st.ClosingBalance, ccy)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func formatBalance(tag string, b *statement.Balance, fallbackCcy string) (string, error) {
	ccy := b.Currency
	if ccy == "" {
		ccy = fallbackCcy
	}
	if len(ccy) != 3 {
		return "", fmt.Errorf("balance :%s: currency %q: %w", tag, ccy, statement.ErrConversion)
	}

	dir := b.Direction
	if b.Amount.IsNegative() {
		dir = dir.Opposite()
	}
	date, err := formatDate(b.Date)
	if err != nil {
		return "", err
	}
	amount, err := formatAmount(b.Amount)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(":%s:%s%s%s%s", tag, dir.SwiftCode(), date, strings.ToUpper(ccy), amount), nil
}

// formatTransaction renders the :61: line, its supplementary line and the :86: narrative.
func formatTransaction(tx statement.Transaction) ([]string, error) {
	rest := make(map[string]string, len(tx.Extra))
	for k, v := range tx.Extra {
		rest[k] = v
	}
	take := func(key string) string {
		v := rest[key]
		delete(rest, key)
		return v
	}

	valueDate, err := formatDate(tx.ValueDate)
	if err != nil {
		return nil, err
	}
	booking := tx.BookingDate
	if booking.IsZero() {
		booking = tx.ValueDate
	}
	entry, err := formatDate(booking)
	if err != nil {
		return nil, err
	}
	amount, err := formatAmount(tx.Amount)
	if err != nil {
		return nil, err
	}

	mark := tx.Direction.SwiftCode()
	if rest[statement.ExtraReversal] == "true" {
		take(statement.ExtraReversal)
		mark = "R" + tx.Direction.Opposite().SwiftCode()
	}

	funds := ""
	if v := rest[statement.ExtraFundsCode]; len(v) == 1 && isUpperAlpha(v) {
		funds = take(statement.ExtraFundsCode)
	}

	typeCode := defaultTypeCode
	if v := rest[statement.ExtraTypeCode]; typeCodePattern.MatchString(v) {
		typeCode = take(statement.ExtraTypeCode)
	}

	ref := singleLine(tx.Reference)
	if ref == "" || strings.Contains(ref, "//") {
		if ref != "" {
			rest[referenceKey] = ref
		}
		ref = nonRef
	}

	var b strings.Builder
	b.WriteString(":61:")
	b.WriteString(valueDate)
	b.WriteString(entry[2:])
	b.WriteString(mark)
	b.WriteString(funds)
	b.WriteString(amount)
	b.WriteString(typeCode)
	b.WriteString(ref)
	if bankRef := singleLine(take(statement.ExtraBankReference)); bankRef != "" {
		b.WriteString("//")
		b.WriteString(bankRef)
	}

	lines := []string{b.String()}
	if supp := singleLine(take(statement.ExtraSupplementary)); supp != "" {
		lines = append(lines, supp)
	}

	narrative := narrativeLines(tx.Description, rest)
	if len(narrative) > 0 {
		narrative[0] = ":86:" + narrative[0]
		lines = append(lines, narrative...)
	}
	return lines, nil
}

// narrativeLines returns the description lines followed by one /KEY/value line per extra, sorted by key.
// A description the scanner would not read back verbatim is written as one escaped
// /description/ sub-field instead.
func narrativeLines(description string, extra map[string]string) []string {
	var lines []string
	if description != "" {
		plain := strings.Split(description, "\n")
		if plainNarrative(plain) {
			lines = append(lines, plain...)
		} else {
			lines = append(lines, "/"+descriptionKey+"/"+escapeDescription(description))
		}
	}

	keys := make([]string, 0, len(extra))
	for k, v := range extra {
		if v != "" && subFieldKey(k) != descriptionKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, "/"+subFieldKey(k)+"/"+singleLine(extra[k]))
	}
	return lines
}

// plainNarrative reports whether every line survives scanning unchanged: not blank,
// not a tag, sub-field or envelope marker, and free of carriage returns.
func plainNarrative(lines []string) bool {
	for _, line := range lines {
		if strings.TrimSpace(line) == "" || strings.ContainsRune(line, '\r') {
			return false
		}
		if tagPattern.MatchString(line) || subFieldPattern.MatchString(line) {
			return false
		}
		if out, skip := stripEnvelope(line); skip || out != line {
			return false
		}
	}
	return true
}

func escapeDescription(s string) string {
	return strings.NewReplacer("\\", "\\\\", "\n", "\\n", "\r", "\\r").Replace(s)
}

// subFieldKey maps arbitrary keys onto the [A-Za-z0-9_] alphabet used by sub-fields.
func subFieldKey(k string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, k)
}

func singleLine(s string) string {
	return strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s))
}

func formatDate(d civil.Date) (string, error) {
	if !d.IsValid() || d.Year < 2000 || d.Year > 2099 {
		return "", fmt.Errorf("date %s cannot be written as YYMMDD: %w", d, statement.ErrConversion)
	}
	return fmt.Sprintf("%02d%02d%02d", d.Year%100, int(d.Month), d.Day), nil
}

// formatAmount renders the magnitude with a comma and exactly two decimals.
func formatAmount(d decimal.Decimal) (string, error) {
	abs := d.Abs()
	if !abs.Round(2).Equal(abs) {
		return "", fmt.Errorf("amount %s has more than two decimals: %w", d, statement.ErrConversion)
	}
	s := strings.Replace(abs.StringFixed(2), ".", ",", 1)
	if len(s) > 15 {
		return "", fmt.Errorf("amount %s exceeds 15 characters: %w", d, statement.ErrConversion)
	}
	return s, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isUpperAlpha(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

// atoi converts a string already checked with isDigits.
func atoi(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}

func timeMonth(n int) time.Month { return time.Month(n) }
