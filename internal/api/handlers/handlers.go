package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-converter/internal/api/middleware"
	"github.com/dvloznov/statement-converter/internal/compare"
	"github.com/dvloznov/statement-converter/internal/config"
	"github.com/dvloznov/statement-converter/internal/convert"
	"github.com/dvloznov/statement-converter/internal/csvformat"
	"github.com/dvloznov/statement-converter/internal/logger"
	"github.com/dvloznov/statement-converter/internal/statement"
)

// TransactionCountHeader reports how many transactions a conversion wrote.
const TransactionCountHeader = "X-Transaction-Count"

// writeFailure maps an error to a status code: malformed input is 422, an
// oversized body 413, anything else 500.
func writeFailure(w http.ResponseWriter, log zerolog.Logger, err error, msg string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
	case statement.IsInputError(err):
		log.Warn().Err(err).Msg(msg)
		middleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, http.StatusInternalServerError, msg)
	}
}

// formatParam reads a required format query parameter.
func formatParam(r *http.Request, name string) (convert.Format, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, errors.New(name + " is required")
	}
	return convert.ParseFormat(v)
}

// HealthHandler handles GET /health.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// FormatInfo describes one supported format.
type FormatInfo struct {
	Name        string `json:"name"`
	Extension   string `json:"extension"`
	ContentType string `json:"content_type"`
}

// ListFormats handles GET /api/formats
func ListFormats(w http.ResponseWriter, r *http.Request) {
	formats := make([]FormatInfo, 0, len(convert.Formats))
	for _, f := range convert.Formats {
		formats = append(formats, FormatInfo{
			Name:        f.String(),
			Extension:   f.Extension(),
			ContentType: f.ContentType(),
		})
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"formats": formats,
		"count":   len(formats),
	})
}

// StatementsHandler converts and compares statements sent in request bodies.
type StatementsHandler struct {
	csv      csvformat.Options
	registry *convert.Registry
}

// NewStatementsHandler creates a handler whose CSV codec defaults to csvOptions.
// Individual requests may override the CSV conventions with query parameters.
func NewStatementsHandler(csvOptions csvformat.Options) *StatementsHandler {
	return &StatementsHandler{
		csv:      csvOptions,
		registry: convert.NewRegistry(csvOptions),
	}
}

// registryFor applies csv_delimiter, csv_decimal, csv_date_format, csv_encoding
// and csv_currency overrides.
func (h *StatementsHandler) registryFor(r *http.Request) (*convert.Registry, error) {
	q := r.URL.Query()
	opts := h.csv
	overridden := false

	for key, dst := range map[string]*rune{
		"csv_delimiter": &opts.Delimiter,
		"csv_decimal":   &opts.DecimalSeparator,
	} {
		if v := q.Get(key); v != "" {
			c, err := config.Rune(key, v)
			if err != nil {
				return nil, err
			}
			*dst = c
			overridden = true
		}
	}
	for key, dst := range map[string]*string{
		"csv_date_format": &opts.DateLayout,
		"csv_encoding":    &opts.Encoding,
		"csv_currency":    &opts.Currency,
	} {
		if v := q.Get(key); v != "" {
			*dst = v
			overridden = true
		}
	}

	if !overridden {
		return h.registry, nil
	}
	return convert.NewRegistry(opts), nil
}

// Convert handles POST /api/convert?from=&to=
// The request body is the input statement; the response body is the converted one.
func (h *StatementsHandler) Convert(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	from, err := formatParam(r, "from")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := formatParam(r, "to")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	registry, err := h.registryFor(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var out bytes.Buffer
	converted, err := registry.Transcode(r.Body, from, &out, to)
	if err != nil {
		writeFailure(w, log, err, "Failed to convert statement")
		return
	}

	log.Info().
		Stringer("from", from).
		Stringer("to", to).
		Str("statement_id", converted.ID).
		Int("transactions", len(converted.Transactions)).
		Msg("Statement converted")

	w.Header().Set("Content-Type", to.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+safeFilename(converted.ID)+to.Extension()+`"`)
	w.Header().Set(TransactionCountHeader, strconv.Itoa(len(converted.Transactions)))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, &out); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

// Document is one statement inside a JSON request.
type Document struct {
	Format  string `json:"format"`
	Content string `json:"content"`
}

// CompareRequest is the body of POST /api/compare.
type CompareRequest struct {
	Left  Document `json:"left"`
	Right Document `json:"right"`
}

// CompareResponse lists the differences found, left against right.
type CompareResponse struct {
	Identical   bool                 `json:"identical"`
	Differences []compare.Difference `json:"differences"`
	Count       int                  `json:"count"`
}

// Compare handles POST /api/compare
func (h *StatementsHandler) Compare(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req CompareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	registry, err := h.registryFor(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var sides [2]*statement.Statement
	for i, doc := range []Document{req.Left, req.Right} {
		name := [2]string{"left", "right"}[i]
		f, err := convert.ParseFormat(doc.Format)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, name+": "+err.Error())
			return
		}
		st, err := registry.Parse(f, strings.NewReader(doc.Content))
		if err != nil {
			writeFailure(w, log, &sideError{side: name, err: err}, "Failed to parse statement")
			return
		}
		sides[i] = st
	}

	result := compare.Compare(sides[0], sides[1])
	differences := result.Differences
	if differences == nil {
		differences = []compare.Difference{}
	}

	log.Info().Int("differences", len(differences)).Msg("Statements compared")
	middleware.WriteJSON(w, http.StatusOK, CompareResponse{
		Identical:   result.Identical(),
		Differences: differences,
		Count:       len(differences),
	})
}

type sideError struct {
	side string
	err  error
}

func (e *sideError) Error() string { return e.side + ": " + e.err.Error() }
func (e *sideError) Unwrap() error { return e.err }

// safeFilename keeps letters, digits, '-', '_' and '.' of a statement ID.
func safeFilename(id string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, id)
	if s == "" {
		return "statement"
	}
	return s
}
