// Package csvformat reads and writes bank statements as delimited text with a header row.
package csvformat

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/dvloznov/statement-converter/internal/statement"
)

const (
	DefaultDateLayout = "2006-01-02"
	DefaultEncoding   = "utf-8"

	// UnknownAccount is used when neither the file nor the options name the account.
	UnknownAccount = "UNKNOWN"

	openingBalanceMarker = "opening balance"
	closingBalanceMarker = "closing balance"
)

// Options are per-file conventions. They are configuration, never guessed from the data.
type Options struct {
	Delimiter        rune
	DecimalSeparator rune
	// DateLayout is a Go reference-time layout.
	DateLayout string
	// Encoding is an IANA charset name such as "windows-1252".
	Encoding string

	// Statement-level values CSV cannot carry.
	Currency    string
	StatementID string
	AccountID   string
}

// DefaultOptions returns comma-delimited UTF-8 with dot decimals and ISO dates.
func DefaultOptions() Options {
	return Options{
		Delimiter:        ',',
		DecimalSeparator: '.',
		DateLayout:       DefaultDateLayout,
		Encoding:         DefaultEncoding,
	}
}

// withDefaults fills zero fields and rejects contradictory settings.
func (o Options) withDefaults() (Options, error) {
	def := DefaultOptions()
	if o.Delimiter == 0 {
		o.Delimiter = def.Delimiter
	}
	if o.DecimalSeparator == 0 {
		o.DecimalSeparator = def.DecimalSeparator
	}
	if o.DateLayout == "" {
		o.DateLayout = def.DateLayout
	}
	if o.Encoding == "" {
		o.Encoding = def.Encoding
	}

	if o.DecimalSeparator != '.' && o.DecimalSeparator != ',' {
		return o, fmt.Errorf("decimal separator %q: %w", o.DecimalSeparator, statement.ErrInvalidFormat)
	}
	if o.Delimiter == o.DecimalSeparator {
		return o, fmt.Errorf("delimiter and decimal separator are both %q: %w", o.Delimiter, statement.ErrInvalidFormat)
	}
	return o, nil
}

// charset resolves the configured encoding. UTF-8 is returned with BOM handling.
func (o Options) charset() (encoding.Encoding, error) {
	if o.isUTF8() {
		return unicode.UTF8BOM, nil
	}
	enc, err := ianaindex.IANA.Encoding(strings.TrimSpace(o.Encoding))
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unsupported encoding %q: %w", o.Encoding, statement.ErrInvalidFormat)
	}
	return enc, nil
}

func (o Options) isUTF8() bool {
	name := strings.ToLower(strings.TrimSpace(o.Encoding))
	return name == "" || name == "utf-8" || name == "utf8"
}
