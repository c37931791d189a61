package convert

import (
	"fmt"
	"io"

	"github.com/dvloznov/statement-converter/internal/camt053"
	"github.com/dvloznov/statement-converter/internal/csvformat"
	"github.com/dvloznov/statement-converter/internal/mt940"
	"github.com/dvloznov/statement-converter/internal/statement"
)

// Codec reads and writes one wire format.
type Codec interface {
	Parse(r io.Reader) (*statement.Statement, error)
	Serialize(st *statement.Statement, w io.Writer) error
}

type codecFuncs struct {
	parse     func(io.Reader) (*statement.Statement, error)
	serialize func(*statement.Statement, io.Writer) error
}

func (c codecFuncs) Parse(r io.Reader) (*statement.Statement, error) { return c.parse(r) }

func (c codecFuncs) Serialize(st *statement.Statement, w io.Writer) error { return c.serialize(st, w) }

// Registry maps formats to codecs.
type Registry struct {
	codecs map[Format]Codec
}

// NewRegistry returns a registry with the built-in codecs. CSV uses csvOptions.
func NewRegistry(csvOptions csvformat.Options) *Registry {
	enc := camt053.Encoder{}
	return &Registry{codecs: map[Format]Codec{
		MT940:   codecFuncs{parse: mt940.Parse, serialize: mt940.Serialize},
		CAMT053: codecFuncs{parse: camt053.Parse, serialize: enc.Serialize},
		CSV:     csvformat.New(csvOptions),
	}}
}

// Register replaces the codec for f.
func (r *Registry) Register(f Format, c Codec) {
	r.codecs[f] = c
}

// Codec returns the codec for f.
func (r *Registry) Codec(f Format) (Codec, error) {
	c, ok := r.codecs[f]
	if !ok {
		return nil, fmt.Errorf("no codec for %s: %w", f, statement.ErrInvalidFormat)
	}
	return c, nil
}

// Parse reads a statement in format f.
func (r *Registry) Parse(f Format, in io.Reader) (*statement.Statement, error) {
	c, err := r.Codec(f)
	if err != nil {
		return nil, err
	}
	return c.Parse(in)
}

// Serialize writes st in format f.
func (r *Registry) Serialize(f Format, st *statement.Statement, out io.Writer) error {
	c, err := r.Codec(f)
	if err != nil {
		return err
	}
	return c.Serialize(st, out)
}

// Transcode parses in as from, converts and writes the result to out as to.
func (r *Registry) Transcode(in io.Reader, from Format, out io.Writer, to Format) (*statement.Statement, error) {
	st, err := r.Parse(from, in)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", from, err)
	}
	converted, err := Convert(st, from, to)
	if err != nil {
		return nil, err
	}
	if err := r.Serialize(to, converted, out); err != nil {
		return nil, fmt.Errorf("serialize %s: %w", to, err)
	}
	return converted, nil
}
