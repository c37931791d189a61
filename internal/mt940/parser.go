// Package mt940 reads and writes SWIFT MT940 customer statement messages.
package mt940

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-converter/internal/statement"
)

const (
	nonRef         = "NONREF"
	referenceKey   = "reference"
	descriptionKey = "description"
	maxLineSize    = 1 << 20
)

var (
	tagPattern      = regexp.MustCompile(`^:([0-9]{2}[A-Z]?):(.*)$`)
	subFieldPattern = regexp.MustCompile(`^/([A-Za-z0-9_]+)/(.*)$`)
	typeCodePattern = regexp.MustCompile(`^[NFS][A-Z0-9]{3}$`)
)

var knownTags = map[string]bool{
	"20": true, "21": true, "25": true, "28": true, "28C": true,
	"60F": true, "60M": true, "61": true, "86": true,
	"62F": true, "62M": true, "64": true, "65": true,
}

// section tracks where in the message the scanner is.
type section int

const (
	sectionHeader section = iota
	sectionOpened
	sectionEntry
	sectionNarrated
	sectionClosed
)

// field is one tagged field together with its continuation lines.
type field struct {
	tag   string
	line  int
	lines []string
}

func (f *field) value() string {
	return strings.TrimSpace(strings.Join(f.lines, ""))
}

func (f *field) fail(kind error, format string, args ...interface{}) error {
	return &statement.LineError{
		Line:  f.line,
		Field: f.tag,
		Err:   fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind),
	}
}

type parser struct {
	st         *statement.Statement
	section    section
	hasID      bool
	hasAccount bool
}

// Parse reads one MT940 statement. SWIFT block envelopes around the text block are skipped.
func Parse(r io.Reader) (*statement.Statement, error) {
	p := &parser{st: &statement.Statement{}}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var current *field
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}

		line, skip := stripEnvelope(line)
		if skip || strings.TrimSpace(line) == "" {
			continue
		}

		if m := tagPattern.FindStringSubmatch(line); m != nil {
			if !knownTags[m[1]] {
				return nil, &statement.LineError{
					Line:  lineNo,
					Field: m[1],
					Err:   fmt.Errorf("tag :%s: is not part of MT940: %w", m[1], statement.ErrUnknownField),
				}
			}
			if current != nil {
				if err := p.apply(current); err != nil {
					return nil, err
				}
			}
			current = &field{tag: m[1], line: lineNo, lines: []string{m[2]}}
			continue
		}

		if current == nil {
			return nil, &statement.LineError{
				Line: lineNo,
				Err:  fmt.Errorf("content before the first field: %w", statement.ErrParse),
			}
		}
		current.lines = append(current.lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if current != nil {
		if err := p.apply(current); err != nil {
			return nil, err
		}
	}

	if !p.hasID {
		return nil, fmt.Errorf("transaction reference number (:20:): %w", statement.ErrMissingField)
	}
	if !p.hasAccount {
		return nil, fmt.Errorf("account identification (:25:): %w", statement.ErrMissingField)
	}
	if err := p.st.Validate(); err != nil {
		return nil, err
	}
	return p.st, nil
}

// stripEnvelope removes SWIFT basic/application header blocks and the block 4 trailer.
func stripEnvelope(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "-}" || trimmed == "-" || strings.HasPrefix(trimmed, "-}{") {
		return "", true
	}
	if strings.HasPrefix(trimmed, "{") {
		if i := strings.LastIndex(trimmed, "{4:"); i >= 0 {
			return trimmed[i+3:], false
		}
		return "", true
	}
	return line, false
}

func (p *parser) apply(f *field) error {
	switch f.tag {
	case "20":
		if p.hasID || p.section != sectionHeader {
			return f.fail(statement.ErrOutOfOrder, "second statement reference")
		}
		if f.value() == "" {
			return f.fail(statement.ErrMissingField, "empty statement reference")
		}
		p.st.ID = f.value()
		p.hasID = true

	case "21":
		if p.section != sectionHeader {
			return f.fail(statement.ErrOutOfOrder, "related reference after balances")
		}

	case "25":
		if p.hasAccount || p.section != sectionHeader {
			return f.fail(statement.ErrOutOfOrder, "account identification out of place")
		}
		if f.value() == "" {
			return f.fail(statement.ErrMissingField, "empty account identification")
		}
		p.st.AccountID = f.value()
		p.hasAccount = true

	case "28", "28C":
		if p.section != sectionHeader {
			return f.fail(statement.ErrOutOfOrder, "statement number after balances")
		}
		p.st.SequenceNumber = f.value()

	case "60F", "60M":
		if p.section != sectionHeader {
			return f.fail(statement.ErrOutOfOrder, "opening balance after transactions")
		}
		b, err := parseBalance(f)
		if err != nil {
			return err
		}
		p.st.OpeningBalance = b
		if p.st.Currency == "" {
			p.st.Currency = b.Currency
		}
		p.section = sectionOpened

	case "61":
		if p.section == sectionClosed {
			return f.fail(statement.ErrOutOfOrder, "statement line after closing balance")
		}
		tx, err := parseEntry(f)
		if err != nil {
			return err
		}
		p.st.Transactions = append(p.st.Transactions, tx)
		p.section = sectionEntry

	case "86":
		switch p.section {
		case sectionEntry:
			applyNarrative(&p.st.Transactions[len(p.st.Transactions)-1], f.lines)
			p.section = sectionNarrated
		case sectionClosed:
			// statement-level information has no home in the model
		default:
			return f.fail(statement.ErrOutOfOrder, "information to account owner without a statement line")
		}

	case "62F", "62M":
		if p.section == sectionClosed {
			return f.fail(statement.ErrOutOfOrder, "second closing balance")
		}
		b, err := parseBalance(f)
		if err != nil {
			return err
		}
		p.st.ClosingBalance = b
		if p.st.Currency == "" {
			p.st.Currency = b.Currency
		}
		p.section = sectionClosed

	case "64", "65":
		if p.section != sectionClosed {
			return f.fail(statement.ErrOutOfOrder, "available balance before closing balance")
		}
		if _, err := parseBalance(f); err != nil {
			return err
		}
	}
	return nil
}

// parseBalance reads "C|D" + YYMMDD + currency + amount.
func parseBalance(f *field) (*statement.Balance, error) {
	v := f.value()
	if len(v) < 11 {
		return nil, f.fail(statement.ErrParse, "balance %q too short", v)
	}

	dir, err := statement.ParseDirection(v[:1])
	if err != nil {
		return nil, f.fail(statement.ErrParse, "debit/credit mark %q", v[:1])
	}
	date, err := parseDate(v[1:7])
	if err != nil {
		return nil, f.fail(statement.ErrInvalidDate, "balance date %q", v[1:7])
	}
	ccy := v[7:10]
	if !isUpperAlpha(ccy) {
		return nil, f.fail(statement.ErrParse, "currency %q", ccy)
	}
	amount, err := parseAmount(v[10:])
	if err != nil {
		return nil, f.fail(statement.ErrInvalidAmount, "balance amount %q", v[10:])
	}

	return &statement.Balance{Amount: amount, Currency: ccy, Date: date, Direction: dir}, nil
}

// parseEntry reads a :61: statement line.
func parseEntry(f *field) (statement.Transaction, error) {
	var tx statement.Transaction
	s := strings.TrimSpace(f.lines[0])

	if len(s) < 6 {
		return tx, f.fail(statement.ErrParse, "statement line %q too short", s)
	}
	valueDate, err := parseDate(s[:6])
	if err != nil {
		return tx, f.fail(statement.ErrInvalidDate, "value date %q", s[:6])
	}
	tx.ValueDate = valueDate
	tx.BookingDate = valueDate
	s = s[6:]

	if len(s) >= 4 && isDigits(s[:4]) {
		bookingDate, err := entryDate(valueDate, s[:4])
		if err != nil {
			return tx, f.fail(statement.ErrInvalidDate, "entry date %q", s[:4])
		}
		tx.BookingDate = bookingDate
		s = s[4:]
	}

	switch {
	case strings.HasPrefix(s, "RC"):
		tx.Direction = statement.Debit
		tx.SetExtra(statement.ExtraReversal, "true")
		s = s[2:]
	case strings.HasPrefix(s, "RD"):
		tx.Direction = statement.Credit
		tx.SetExtra(statement.ExtraReversal, "true")
		s = s[2:]
	case strings.HasPrefix(s, "C"):
		tx.Direction = statement.Credit
		s = s[1:]
	case strings.HasPrefix(s, "D"):
		tx.Direction = statement.Debit
		s = s[1:]
	default:
		return tx, f.fail(statement.ErrParse, "missing debit/credit mark in %q", s)
	}

	if len(s) > 0 && isUpperAlpha(s[:1]) {
		tx.SetExtra(statement.ExtraFundsCode, s[:1])
		s = s[1:]
	}

	n := strings.IndexFunc(s, func(r rune) bool { return (r < '0' || r > '9') && r != ',' })
	if n < 0 {
		n = len(s)
	}
	if n == 0 {
		return tx, f.fail(statement.ErrInvalidAmount, "missing amount")
	}
	amount, err := parseAmount(s[:n])
	if err != nil {
		return tx, f.fail(statement.ErrInvalidAmount, "amount %q", s[:n])
	}
	tx.Amount = amount
	s = s[n:]

	if len(s) < 4 || !strings.ContainsRune("NFS", rune(s[0])) {
		return tx, f.fail(statement.ErrParse, "transaction type code in %q", s)
	}
	tx.SetExtra(statement.ExtraTypeCode, s[:4])
	s = s[4:]

	ref, bankRef, _ := strings.Cut(s, "//")
	ref = strings.TrimSpace(ref)
	if ref != nonRef {
		tx.Reference = ref
	}
	tx.SetExtra(statement.ExtraBankReference, strings.TrimSpace(bankRef))

	if len(f.lines) > 1 {
		tx.SetExtra(statement.ExtraSupplementary, strings.TrimSpace(strings.Join(f.lines[1:], "\n")))
	}
	return tx, nil
}

// applyNarrative splits :86: lines into description text and /KEY/value sub-fields.
// Sub-fields are applied after the statement line so they override its values.
// An escaped /description/ sub-field replaces the plain description lines.
func applyNarrative(tx *statement.Transaction, lines []string) {
	var desc []string
	escaped, hasEscaped := "", false
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if m := subFieldPattern.FindStringSubmatch(line); m != nil {
			switch m[1] {
			case referenceKey:
				tx.Reference = m[2]
				continue
			case descriptionKey:
				escaped, hasEscaped = m[2], true
				continue
			}
			if tx.Extra == nil {
				tx.Extra = make(map[string]string)
			}
			tx.Extra[m[1]] = m[2]
			continue
		}
		desc = append(desc, line)
	}
	tx.Description = strings.Join(desc, "\n")
	if hasEscaped {
		tx.Description = unescapeDescription(escaped)
	}
}

// unescapeDescription reverses escapeDescription.
func unescapeDescription(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// parseDate reads YYMMDD. Years are taken as 20YY.
func parseDate(s string) (civil.Date, error) {
	if len(s) != 6 || !isDigits(s) {
		return civil.Date{}, fmt.Errorf("malformed date %q", s)
	}
	d := civil.Date{
		Year:  2000 + atoi(s[0:2]),
		Month: timeMonth(atoi(s[2:4])),
		Day:   atoi(s[4:6]),
	}
	if !d.IsValid() {
		return civil.Date{}, fmt.Errorf("date %q out of range", s)
	}
	return d, nil
}

// entryDate reads MMDD relative to the value date, crossing the year boundary when needed.
func entryDate(valueDate civil.Date, s string) (civil.Date, error) {
	d := civil.Date{Year: valueDate.Year, Month: timeMonth(atoi(s[:2])), Day: atoi(s[2:])}
	switch {
	case valueDate.Month == 12 && d.Month == 1:
		d.Year++
	case valueDate.Month == 1 && d.Month == 12:
		d.Year--
	}
	if !d.IsValid() {
		return civil.Date{}, fmt.Errorf("date %q out of range", s)
	}
	return d, nil
}

// parseAmount reads a SWIFT amount that uses a comma as decimal separator.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.Count(s, ",") > 1 || strings.HasPrefix(s, ",") {
		return decimal.Decimal{}, fmt.Errorf("malformed amount %q", s)
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != ',' {
			return decimal.Decimal{}, fmt.Errorf("malformed amount %q", s)
		}
	}
	s = strings.TrimSuffix(s, ",")
	return decimal.NewFromString(strings.Replace(s, ",", ".", 1))
}
