package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-converter/internal/config"
	"github.com/dvloznov/statement-converter/internal/convert"
	"github.com/dvloznov/statement-converter/internal/csvformat"
	"github.com/dvloznov/statement-converter/internal/jobs"
	"github.com/dvloznov/statement-converter/internal/jobs/inmemory"
	"github.com/dvloznov/statement-converter/internal/logger"
	"github.com/dvloznov/statement-converter/internal/objstore"
	"github.com/dvloznov/statement-converter/internal/pipeline"
)

// Exit codes. compare follows diff(1): 1 means the statements differ.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
	exitTrouble = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitUsage)
	}

	a := &app{
		cfg:    cfg,
		log:    logger.NewWithLevel(cfg.LogLevel),
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	os.Exit(a.run(ctx, os.Args[1:]))
}

// app carries the process streams so commands can be run from tests.
type app struct {
	cfg    config.Config
	log    zerolog.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func (a *app) run(ctx context.Context, args []string) int {
	if len(args) < 1 {
		a.printUsage()
		return exitUsage
	}
	ctx = logger.WithContext(ctx, a.log)

	switch args[0] {
	case "convert":
		return a.runConvert(ctx, args[1:])
	case "compare":
		return a.runCompare(ctx, args[1:])
	case "batch":
		return a.runBatch(ctx, args[1:])
	case "formats":
		return a.runFormats()
	case "help", "-h", "--help":
		a.printUsage()
		return exitOK
	default:
		fmt.Fprintf(a.stderr, "Unknown command: %s\n\n", args[0])
		a.printUsage()
		return exitUsage
	}
}

func (a *app) printUsage() {
	w := a.stderr
	fmt.Fprintln(w, "Statement Converter CLI")
	fmt.Fprintln(w, "\nUsage:")
	fmt.Fprintln(w, "  cli <command> [options]")
	fmt.Fprintln(w, "\nCommands:")
	fmt.Fprintln(w, "  convert   Convert a statement between MT940, CAMT.053 and CSV")
	fmt.Fprintln(w, "  compare   Compare two statements transaction by transaction")
	fmt.Fprintln(w, "  batch     Run the conversions listed in a manifest")
	fmt.Fprintln(w, "  formats   List supported formats")
	fmt.Fprintln(w, "  help      Show this help message")
	fmt.Fprintln(w, "\nInputs and outputs are local paths, gs://bucket/object URIs or - for stdin/stdout.")
	fmt.Fprintln(w, "Run 'cli <command> -h' for more information on a command.")
}

// newFlagSet returns a flag set that reports errors instead of exiting.
func (a *app) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

// csvFlags registers the CSV convention flags with config values as defaults.
type csvFlags struct {
	delimiter   *string
	decimal     *string
	dateFormat  *string
	encoding    *string
	currency    *string
	account     *string
	statementID *string
}

func (a *app) addCSVFlags(fs *flag.FlagSet) *csvFlags {
	def := a.cfg.CSV
	return &csvFlags{
		delimiter:   fs.String("csv-delimiter", string(def.Delimiter), "CSV field delimiter (\"tab\" for tab)"),
		decimal:     fs.String("csv-decimal", string(def.DecimalSeparator), "CSV decimal separator: . or ,"),
		dateFormat:  fs.String("csv-date-format", def.DateLayout, "CSV date layout in Go reference-time form"),
		encoding:    fs.String("csv-encoding", def.Encoding, "CSV character set, e.g. windows-1252"),
		currency:    fs.String("csv-currency", def.Currency, "Currency for CSV input without a currency column"),
		account:     fs.String("csv-account", def.AccountID, "Account for CSV input without an account column"),
		statementID: fs.String("csv-statement-id", def.StatementID, "Statement ID for CSV input"),
	}
}

func (f *csvFlags) options() (csvformat.Options, error) {
	delim, err := config.Rune("csv-delimiter", *f.delimiter)
	if err != nil {
		return csvformat.Options{}, err
	}
	dec, err := config.Rune("csv-decimal", *f.decimal)
	if err != nil {
		return csvformat.Options{}, err
	}
	return csvformat.Options{
		Delimiter:        delim,
		DecimalSeparator: dec,
		DateLayout:       *f.dateFormat,
		Encoding:         *f.encoding,
		Currency:         *f.currency,
		AccountID:        *f.account,
		StatementID:      *f.statementID,
	}, nil
}

func (a *app) deps(csvOptions csvformat.Options) (pipeline.Dependencies, *objstore.URIStore) {
	store := objstore.NewURIStore()
	store.Stdin = a.stdin
	store.Stdout = a.stdout
	return pipeline.Dependencies{
		Store:    store,
		Registry: convert.NewRegistry(csvOptions),
	}, store
}

// fail prints err with its kind and location and returns code.
func (a *app) fail(code int, err error) int {
	fmt.Fprintf(a.stderr, "Error: %v\n", err)
	return code
}

func (a *app) runConvert(ctx context.Context, args []string) int {
	fs := a.newFlagSet("convert")
	input := fs.String("input", objstore.StdioURI, "Input path, gs:// URI or - for stdin")
	inputFormat := fs.String("input-format", "", "Input format: mt940, camt053 or csv")
	outputFormat := fs.String("output-format", "", "Output format: mt940, camt053 or csv")
	output := fs.String("output", objstore.StdioURI, "Output path, gs:// URI or - for stdout")
	csvf := a.addCSVFlags(fs)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if *inputFormat == "" || *outputFormat == "" {
		return a.fail(exitUsage, errors.New("--input-format and --output-format are required"))
	}
	from, err := convert.ParseFormat(*inputFormat)
	if err != nil {
		return a.fail(exitUsage, err)
	}
	to, err := convert.ParseFormat(*outputFormat)
	if err != nil {
		return a.fail(exitUsage, err)
	}
	opts, err := csvf.options()
	if err != nil {
		return a.fail(exitUsage, err)
	}

	deps, store := a.deps(opts)
	defer store.Close()

	if _, err := pipeline.ConvertURI(ctx, deps, pipeline.ConvertRequest{
		InputURI:  *input,
		OutputURI: *output,
		From:      from,
		To:        to,
	}); err != nil {
		return a.fail(exitFailure, err)
	}
	return exitOK
}

func (a *app) runCompare(ctx context.Context, args []string) int {
	fs := a.newFlagSet("compare")
	file1 := fs.String("file1", "", "First statement path, gs:// URI or -")
	format1 := fs.String("format1", "", "Format of the first statement")
	file2 := fs.String("file2", "", "Second statement path, gs:// URI or -")
	format2 := fs.String("format2", "", "Format of the second statement")
	csvf := a.addCSVFlags(fs)
	if err := fs.Parse(args); err != nil {
		return exitTrouble
	}

	if *file1 == "" || *file2 == "" || *format1 == "" || *format2 == "" {
		return a.fail(exitTrouble, errors.New("--file1, --format1, --file2 and --format2 are required"))
	}
	left, err := convert.ParseFormat(*format1)
	if err != nil {
		return a.fail(exitTrouble, err)
	}
	right, err := convert.ParseFormat(*format2)
	if err != nil {
		return a.fail(exitTrouble, err)
	}
	opts, err := csvf.options()
	if err != nil {
		return a.fail(exitTrouble, err)
	}

	deps, store := a.deps(opts)
	defer store.Close()

	result, err := pipeline.CompareURIs(ctx, deps, pipeline.CompareRequest{
		LeftURI:     *file1,
		LeftFormat:  left,
		RightURI:    *file2,
		RightFormat: right,
	})
	if err != nil {
		return a.fail(exitTrouble, err)
	}

	fmt.Fprintln(a.stdout, result)
	if !result.Identical() {
		return exitFailure
	}
	return exitOK
}

func (a *app) runBatch(ctx context.Context, args []string) int {
	fs := a.newFlagSet("batch")
	manifest := fs.String("manifest", "", "Manifest path, gs:// URI or - for stdin")
	workers := fs.Int("workers", a.cfg.WorkerCount, "Number of concurrent conversions")
	csvf := a.addCSVFlags(fs)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if *manifest == "" {
		return a.fail(exitUsage, errors.New("--manifest is required"))
	}
	opts, err := csvf.options()
	if err != nil {
		return a.fail(exitUsage, err)
	}

	deps, store := a.deps(opts)
	defer store.Close()

	r, err := store.Open(ctx, *manifest)
	if err != nil {
		return a.fail(exitFailure, err)
	}
	list, err := jobs.ParseManifest(r)
	r.Close()
	if err != nil {
		return a.fail(exitUsage, err)
	}
	for _, job := range list {
		if job.OutputURI == objstore.StdioURI {
			return a.fail(exitUsage, fmt.Errorf("%s: batch outputs cannot be written to stdout", job.InputURI))
		}
	}

	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(len(list)+1, *workers, jobStore, a.log)
	if err := queue.Start(ctx, pipeline.NewJobHandler(deps)); err != nil {
		return a.fail(exitFailure, err)
	}
	defer queue.Close()

	for _, job := range list {
		if err := queue.PublishConvert(ctx, job); err != nil {
			return a.fail(exitFailure, err)
		}
	}
	if err := queue.Wait(ctx); err != nil {
		return a.fail(exitFailure, err)
	}

	results, err := jobStore.ListJobs(ctx, jobs.JobFilter{})
	if err != nil {
		return a.fail(exitFailure, err)
	}
	failed := 0
	for _, job := range results {
		switch job.Status {
		case jobs.JobStatusCompleted:
			fmt.Fprintf(a.stdout, "ok\t%s -> %s\t%d transactions\n", job.InputURI, job.OutputURI, job.Transactions)
		default:
			failed++
			fmt.Fprintf(a.stdout, "FAIL\t%s -> %s\t%s\n", job.InputURI, job.OutputURI, job.Error)
		}
	}
	a.log.Info().Int("jobs", len(results)).Int("failed", failed).Msg("Batch completed")
	if failed > 0 {
		return exitFailure
	}
	return exitOK
}

func (a *app) runFormats() int {
	for _, f := range convert.Formats {
		fmt.Fprintf(a.stdout, "%s\t%s\t%s\n", f, f.Extension(), f.ContentType())
	}
	return exitOK
}
