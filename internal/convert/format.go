// Package convert moves statements between the supported wire formats.
package convert

import (
	"fmt"
	"strings"

	"github.com/dvloznov/statement-converter/internal/statement"
)

// Format identifies a statement wire format.
type Format int

const (
	MT940 Format = iota + 1
	CAMT053
	CSV
)

// Formats lists every supported format in display order.
var Formats = []Format{MT940, CAMT053, CSV}

var formatAliases = map[string]Format{
	"mt940":    MT940,
	"mt-940":   MT940,
	"swift":    MT940,
	"camt053":  CAMT053,
	"camt.053": CAMT053,
	"camt":     CAMT053,
	"xml":      CAMT053,
	"csv":      CSV,
}

// ParseFormat resolves a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	if f, ok := formatAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return f, nil
	}
	return 0, fmt.Errorf("unknown format %q: %w", s, statement.ErrInvalidFormat)
}

func (f Format) String() string {
	switch f {
	case MT940:
		return "mt940"
	case CAMT053:
		return "camt053"
	case CSV:
		return "csv"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Extension is the file extension conventionally used for the format.
func (f Format) Extension() string {
	switch f {
	case MT940:
		return ".sta"
	case CAMT053:
		return ".xml"
	case CSV:
		return ".csv"
	}
	return ""
}

// ContentType is the media type used when the format is served over HTTP.
func (f Format) ContentType() string {
	switch f {
	case CAMT053:
		return "application/xml"
	case CSV:
		return "text/csv"
	}
	return "text/plain"
}

// MarshalText lets formats appear as strings in JSON.
func (f Format) MarshalText() ([]byte, error) {
	if f < MT940 || f > CSV {
		return nil, fmt.Errorf("unknown format %d: %w", int(f), statement.ErrInvalidFormat)
	}
	return []byte(f.String()), nil
}

func (f *Format) UnmarshalText(b []byte) error {
	parsed, err := ParseFormat(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
