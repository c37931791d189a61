package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/dvloznov/statement-converter/internal/convert"
	"github.com/dvloznov/statement-converter/internal/logger"
	"github.com/dvloznov/statement-converter/internal/objstore"
	"github.com/dvloznov/statement-converter/internal/statement"
)

// PipelineStep represents a single step in the conversion pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *ConversionState) error
}

// ConversionState holds the shared state across all pipeline steps.
type ConversionState struct {
	InputURI  string
	OutputURI string
	From      convert.Format
	To        convert.Format

	Input     []byte
	Parsed    *statement.Statement
	Converted *statement.Statement
	Written   int
}

// OpenInputStep reads the whole input into memory.
type OpenInputStep struct {
	Store objstore.Store
}

func (s *OpenInputStep) Execute(ctx context.Context, state *ConversionState) error {
	rc, err := s.Store.Open(ctx, state.InputURI)
	if err != nil {
		return fmt.Errorf("open %s: %w", state.InputURI, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read %s: %w", state.InputURI, err)
	}
	state.Input = data

	log := logger.FromContext(ctx)
	log.Debug().Str("input", state.InputURI).Int("bytes", len(data)).Msg("Input read")
	return nil
}

// ParseStep decodes the input with the source format's codec.
type ParseStep struct {
	Registry *convert.Registry
}

func (s *ParseStep) Execute(ctx context.Context, state *ConversionState) error {
	st, err := s.Registry.Parse(state.From, bytes.NewReader(state.Input))
	if err != nil {
		return fmt.Errorf("parse %s as %s: %w", state.InputURI, state.From, err)
	}
	state.Parsed = st

	log := logger.FromContext(ctx)
	log.Debug().
		Str("statement_id", st.ID).
		Str("account_id", st.AccountID).
		Int("transactions", len(st.Transactions)).
		Msg("Statement parsed")
	return nil
}

// ConvertStep prepares the parsed statement for the target format.
type ConvertStep struct{}

func (s *ConvertStep) Execute(ctx context.Context, state *ConversionState) error {
	converted, err := convert.Convert(state.Parsed, state.From, state.To)
	if err != nil {
		return err
	}
	state.Converted = converted
	return nil
}

// SerializeStep encodes the converted statement and writes it to the output.
// Encoding finishes before the output is created so a failure leaves no partial file.
type SerializeStep struct {
	Store    objstore.Store
	Registry *convert.Registry
}

func (s *SerializeStep) Execute(ctx context.Context, state *ConversionState) error {
	var buf bytes.Buffer
	if err := s.Registry.Serialize(state.To, state.Converted, &buf); err != nil {
		return fmt.Errorf("serialize %s: %w", state.To, err)
	}

	wc, err := s.Store.Create(ctx, state.OutputURI)
	if err != nil {
		return fmt.Errorf("create %s: %w", state.OutputURI, err)
	}
	n, err := wc.Write(buf.Bytes())
	if err != nil {
		_ = wc.Close()
		return fmt.Errorf("write %s: %w", state.OutputURI, err)
	}
	// Close finalizes Cloud Storage uploads.
	if err := wc.Close(); err != nil {
		return fmt.Errorf("finalize %s: %w", state.OutputURI, err)
	}
	state.Written = n
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *ConversionState) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// NewConversionPipeline creates the standard 4-step pipeline: read, parse, convert, write.
func NewConversionPipeline(deps Dependencies) *Pipeline {
	return NewPipeline(
		&OpenInputStep{Store: deps.Store},
		&ParseStep{Registry: deps.Registry},
		&ConvertStep{},
		&SerializeStep{Store: deps.Store, Registry: deps.Registry},
	)
}

// NewLoadPipeline reads and parses without writing anything.
func NewLoadPipeline(deps Dependencies) *Pipeline {
	return NewPipeline(
		&OpenInputStep{Store: deps.Store},
		&ParseStep{Registry: deps.Registry},
	)
}
