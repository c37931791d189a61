package csvformat

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/transform"

	"github.com/dvloznov/statement-converter/internal/statement"
)

type column int

const (
	colReference column = iota
	colDate
	colValueDate
	colAmount
	colDirection
	colDescription
	colCurrency
	colAccount
)

// aliases maps normalized header names to columns.
var aliases = map[string]column{
	"reference":      colReference,
	"ref":            colReference,
	"id":             colReference,
	"transaction id": colReference,
	"document no":    colReference,

	"date":             colDate,
	"booking date":     colDate,
	"posting date":     colDate,
	"entry date":       colDate,
	"transaction date": colDate,

	"value date": colValueDate,
	"valuta":     colValueDate,

	"amount": colAmount,
	"sum":    colAmount,
	"value":  colAmount,

	"direction":    colDirection,
	"credit/debit": colDirection,
	"debit/credit": colDirection,
	"d/c":          colDirection,
	"c/d":          colDirection,
	"dc":           colDirection,
	"cdtdbtind":    colDirection,

	"description": colDescription,
	"details":     colDescription,
	"narrative":   colDescription,
	"purpose":     colDescription,
	"memo":        colDescription,

	"currency": colCurrency,
	"ccy":      colCurrency,

	"account": colAccount,
	"iban":    colAccount,
}

// normalizeHeader lower-cases, trims and treats '_' and '-' as spaces.
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer("_", " ", "-", " ").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

// extraKey turns a header into a snake_case Extra key.
func extraKey(h string) string {
	return strings.ReplaceAll(normalizeHeader(h), " ", "_")
}

// layout is the resolved header of one file.
type layout struct {
	index map[column]int
	names map[column]string
	extra map[int]string
}

func newLayout(header []string) (*layout, error) {
	l := &layout{
		index: make(map[column]int),
		names: make(map[column]string),
		extra: make(map[int]string),
	}
	for i, h := range header {
		col, ok := aliases[normalizeHeader(h)]
		if ok {
			if _, dup := l.index[col]; !dup {
				l.index[col] = i
				l.names[col] = strings.TrimSpace(h)
				continue
			}
		}
		if key := extraKey(h); key != "" {
			l.extra[i] = key
		}
	}

	for _, req := range []struct {
		col  column
		name string
	}{{colDate, "date"}, {colAmount, "amount"}} {
		if _, ok := l.index[req.col]; !ok {
			return nil, &statement.RowError{
				Row:    1,
				Column: req.name,
				Err:    fmt.Errorf("required column not found in header: %w", statement.ErrInvalidFormat),
			}
		}
	}
	return l, nil
}

// get returns the trimmed cell for col, or "" when the column is absent or the row short.
func (l *layout) get(record []string, col column) string {
	i, ok := l.index[col]
	if !ok {
		return ""
	}
	return safeGet(record, i)
}

func safeGet(record []string, i int) string {
	if i < len(record) {
		return strings.TrimSpace(record[i])
	}
	return ""
}

// Codec parses and serializes CSV using a fixed set of Options.
type Codec struct {
	Options Options
}

// New returns a Codec for opts.
func New(opts Options) *Codec {
	return &Codec{Options: opts}
}

// Parse reads a statement using DefaultOptions.
func Parse(r io.Reader) (*statement.Statement, error) {
	return New(DefaultOptions()).Parse(r)
}

// Serialize writes a statement using DefaultOptions.
func Serialize(st *statement.Statement, w io.Writer) error {
	return New(DefaultOptions()).Serialize(st, w)
}

// Parse reads a header row followed by one transaction per row. Rows described as
// "Opening balance" or "Closing balance" set the statement balances instead.
func (c *Codec) Parse(r io.Reader) (*statement.Statement, error) {
	opts, err := c.Options.withDefaults()
	if err != nil {
		return nil, err
	}
	enc, err := opts.charset()
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(transform.NewReader(r, enc.NewDecoder()))
	reader.Comma = opts.Delimiter
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &statement.RowError{Row: 1, Err: fmt.Errorf("missing header row: %w", statement.ErrInvalidFormat)}
		}
		return nil, readError(1, err)
	}
	l, err := newLayout(header)
	if err != nil {
		return nil, err
	}

	st := &statement.Statement{}
	var pending []*statement.Balance
	row := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			return nil, readError(row, err)
		}
		if isBlank(record) {
			continue
		}

		if err := l.mergeStatementFields(st, record, row); err != nil {
			return nil, err
		}

		tx, err := l.parseRow(record, row, opts)
		if err != nil {
			return nil, err
		}

		switch strings.ToLower(tx.Description) {
		case openingBalanceMarker:
			st.OpeningBalance = asBalance(tx, l.get(record, colCurrency))
			pending = append(pending, st.OpeningBalance)
		case closingBalanceMarker:
			st.ClosingBalance = asBalance(tx, l.get(record, colCurrency))
			pending = append(pending, st.ClosingBalance)
		default:
			st.Transactions = append(st.Transactions, tx)
		}
	}

	if st.Currency == "" {
		st.Currency = strings.ToUpper(opts.Currency)
	}
	for _, b := range pending {
		if b.Currency == "" {
			b.Currency = st.Currency
		}
	}

	st.ID = opts.StatementID
	if st.ID == "" {
		st.ID = "CSV-" + strings.ToUpper(uuid.NewString()[:8])
	}
	if st.AccountID == "" {
		st.AccountID = opts.AccountID
	}
	if st.AccountID == "" {
		st.AccountID = UnknownAccount
	}

	if err := st.Validate(); err != nil {
		return nil, err
	}
	return st, nil
}

// mergeStatementFields collects the account and currency columns, which must not vary between rows.
func (l *layout) mergeStatementFields(st *statement.Statement, record []string, row int) error {
	if acct := l.get(record, colAccount); acct != "" && st.AccountID == "" {
		st.AccountID = acct
	}
	ccy := strings.ToUpper(l.get(record, colCurrency))
	if ccy == "" {
		return nil
	}
	if st.Currency == "" {
		st.Currency = ccy
		return nil
	}
	if ccy != st.Currency {
		return &statement.RowError{
			Row:    row,
			Column: l.names[colCurrency],
			Err:    fmt.Errorf("%s after %s: %w", ccy, st.Currency, statement.ErrCurrencyMismatch),
		}
	}
	return nil
}

func (l *layout) parseRow(record []string, row int, opts Options) (statement.Transaction, error) {
	tx := statement.Transaction{
		Reference:   l.get(record, colReference),
		Description: l.get(record, colDescription),
	}
	fail := func(col column, kind error, format string, args ...interface{}) error {
		return &statement.RowError{
			Row:    row,
			Column: l.names[col],
			Err:    fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind),
		}
	}

	raw := l.get(record, colAmount)
	amount, err := parseAmount(raw, opts.DecimalSeparator)
	if err != nil {
		return tx, fail(colAmount, statement.ErrInvalidAmount, "%q", raw)
	}
	tx.Amount = amount.Abs()
	tx.Direction = statement.Credit
	if amount.IsNegative() {
		tx.Direction = statement.Debit
	}
	if d := l.get(record, colDirection); d != "" {
		dir, err := statement.ParseDirection(d)
		if err != nil {
			return tx, fail(colDirection, statement.ErrInvalidFormat, "%q", d)
		}
		tx.Direction = dir
	}

	raw = l.get(record, colDate)
	if tx.BookingDate, err = parseDate(raw, opts.DateLayout); err != nil {
		return tx, fail(colDate, statement.ErrInvalidDate, "%q does not match %q", raw, opts.DateLayout)
	}
	tx.ValueDate = tx.BookingDate
	if raw = l.get(record, colValueDate); raw != "" {
		if tx.ValueDate, err = parseDate(raw, opts.DateLayout); err != nil {
			return tx, fail(colValueDate, statement.ErrInvalidDate, "%q does not match %q", raw, opts.DateLayout)
		}
	}

	for i, key := range l.extra {
		tx.SetExtra(key, safeGet(record, i))
	}
	return tx, nil
}

func asBalance(tx statement.Transaction, ccy string) *statement.Balance {
	return &statement.Balance{
		Amount:    tx.Amount,
		Currency:  strings.ToUpper(ccy),
		Date:      tx.BookingDate,
		Direction: tx.Direction,
	}
}

// parseAmount accepts an optional sign and the configured decimal separator only.
func parseAmount(s string, sep rune) (decimal.Decimal, error) {
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Decimal{}, errors.New("empty amount")
	}
	other := ","
	if sep == ',' {
		other = "."
	}
	if strings.Contains(s, other) || strings.ContainsAny(s, "eE") {
		return decimal.Decimal{}, fmt.Errorf("unexpected separator in %q", s)
	}
	if sep == ',' {
		s = strings.Replace(s, ",", ".", 1)
	}
	return decimal.NewFromString(strings.TrimPrefix(s, "+"))
}

func parseDate(s, layout string) (civil.Date, error) {
	t, err := time.Parse(layout, s)
	if err != nil {
		return civil.Date{}, err
	}
	return civil.DateOf(t), nil
}

func readError(row int, err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return &statement.RowError{Row: row, Err: fmt.Errorf("%v: %w", parseErr.Err, statement.ErrInvalidFormat)}
	}
	return err
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
