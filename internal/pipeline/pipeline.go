// Package pipeline runs conversions and comparisons between statement URIs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/statement-converter/internal/compare"
	"github.com/dvloznov/statement-converter/internal/convert"
	"github.com/dvloznov/statement-converter/internal/jobs"
	"github.com/dvloznov/statement-converter/internal/logger"
	"github.com/dvloznov/statement-converter/internal/objstore"
	"github.com/dvloznov/statement-converter/internal/statement"
)

// ConvertRequest names one conversion.
type ConvertRequest struct {
	InputURI  string
	OutputURI string
	From      convert.Format
	To        convert.Format
}

// ConvertURI reads InputURI, converts it and writes OutputURI.
func ConvertURI(ctx context.Context, deps Dependencies, req ConvertRequest) (*ConversionState, error) {
	log := logger.FromContext(ctx).With().
		Str("input", req.InputURI).
		Str("output", req.OutputURI).
		Stringer("from", req.From).
		Stringer("to", req.To).
		Logger()
	ctx = logger.WithContext(ctx, log)

	start := time.Now()
	state := &ConversionState{
		InputURI:  req.InputURI,
		OutputURI: req.OutputURI,
		From:      req.From,
		To:        req.To,
	}
	if err := NewConversionPipeline(deps).Execute(ctx, state); err != nil {
		log.Error().Err(err).Msg("Conversion failed")
		return nil, err
	}

	log.Info().
		Int("transactions", len(state.Converted.Transactions)).
		Int("bytes", state.Written).
		Dur("duration", time.Since(start)).
		Msg("Conversion completed")
	return state, nil
}

// LoadStatement reads and parses one statement.
func LoadStatement(ctx context.Context, deps Dependencies, uri string, format convert.Format) (*statement.Statement, error) {
	state := &ConversionState{InputURI: uri, From: format}
	if err := NewLoadPipeline(deps).Execute(ctx, state); err != nil {
		return nil, err
	}
	return state.Parsed, nil
}

// CompareRequest names the two statements to compare.
type CompareRequest struct {
	LeftURI     string
	LeftFormat  convert.Format
	RightURI    string
	RightFormat convert.Format
}

// CompareURIs loads both statements concurrently and compares them.
func CompareURIs(ctx context.Context, deps Dependencies, req CompareRequest) (compare.Result, error) {
	if req.LeftURI == objstore.StdioURI && req.RightURI == objstore.StdioURI {
		return compare.Result{}, fmt.Errorf("only one input can be read from stdin: %w", objstore.ErrInvalidURI)
	}

	var left, right *statement.Statement
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st, err := LoadStatement(gctx, deps, req.LeftURI, req.LeftFormat)
		if err != nil {
			return fmt.Errorf("%s: %w", req.LeftURI, err)
		}
		left = st
		return nil
	})
	g.Go(func() error {
		st, err := LoadStatement(gctx, deps, req.RightURI, req.RightFormat)
		if err != nil {
			return fmt.Errorf("%s: %w", req.RightURI, err)
		}
		right = st
		return nil
	})
	if err := g.Wait(); err != nil {
		return compare.Result{}, err
	}

	result := compare.Compare(left, right)
	log := logger.FromContext(ctx)
	log.Info().
		Str("left", req.LeftURI).
		Str("right", req.RightURI).
		Int("differences", len(result.Differences)).
		Msg("Comparison completed")
	return result, nil
}

// IsPermanent reports whether err will recur on retry: bad input, unknown
// formats, missing files or unsupported target constraints.
func IsPermanent(err error) bool {
	return statement.IsInputError(err) ||
		errors.Is(err, objstore.ErrInvalidURI) ||
		errors.Is(err, os.ErrNotExist)
}

// NewJobHandler returns a handler that runs conversion jobs through ConvertURI.
func NewJobHandler(deps Dependencies) jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		convertJob, ok := job.(*jobs.ConvertJob)
		if !ok {
			return jobs.Permanent(fmt.Errorf("unexpected job type: %T", job))
		}

		from, err := convert.ParseFormat(convertJob.From)
		if err != nil {
			return jobs.Permanent(err)
		}
		to, err := convert.ParseFormat(convertJob.To)
		if err != nil {
			return jobs.Permanent(err)
		}

		log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
			"job_id":      convertJob.JobID,
			"retry_count": convertJob.RetryCount,
		})
		ctx = logger.WithContext(ctx, log)

		state, err := ConvertURI(ctx, deps, ConvertRequest{
			InputURI:  convertJob.InputURI,
			OutputURI: convertJob.OutputURI,
			From:      from,
			To:        to,
		})
		if err != nil {
			if IsPermanent(err) {
				return jobs.Permanent(err)
			}
			return err
		}
		convertJob.Transactions = len(state.Converted.Transactions)
		return nil
	}
}
