// Package objstore opens statement sources and sinks named by URI: "-" for the
// standard streams, gs://bucket/object for Cloud Storage, anything else for local files.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// StdioURI names standard input when opened and standard output when created.
const StdioURI = "-"

// ErrInvalidURI is returned for URIs that cannot name an object.
var ErrInvalidURI = errors.New("invalid URI")

// Store opens readers and writers by URI.
type Store interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
	Create(ctx context.Context, uri string) (io.WriteCloser, error)
}

// URIStore is the Store used by the binaries.
type URIStore struct {
	Stdin  io.Reader
	Stdout io.Writer

	mu        sync.Mutex
	objects   ObjectClient
	newClient func(ctx context.Context) (ObjectClient, error)
}

// NewURIStore returns a store bound to the process streams. The Cloud Storage
// client is created on first use of a gs:// URI.
func NewURIStore() *URIStore {
	return &URIStore{
		Stdin:     os.Stdin,
		Stdout:    os.Stdout,
		newClient: NewGCSClient,
	}
}

// NewURIStoreWithClient returns a store that uses objects for gs:// URIs.
func NewURIStoreWithClient(objects ObjectClient) *URIStore {
	s := NewURIStore()
	s.objects = objects
	return s
}

// Open implements Store.
func (s *URIStore) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	switch {
	case uri == StdioURI:
		return io.NopCloser(s.Stdin), nil
	case IsGCSURI(uri):
		bucket, object, err := ParseGCSURI(uri)
		if err != nil {
			return nil, err
		}
		client, err := s.client(ctx)
		if err != nil {
			return nil, err
		}
		rc, err := client.NewReader(ctx, bucket, object)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", uri, err)
		}
		return rc, nil
	case uri == "":
		return nil, fmt.Errorf("empty input: %w", ErrInvalidURI)
	}
	return os.Open(uri)
}

// Create implements Store. Local parent directories are created as needed.
func (s *URIStore) Create(ctx context.Context, uri string) (io.WriteCloser, error) {
	switch {
	case uri == StdioURI:
		return nopWriteCloser{s.Stdout}, nil
	case IsGCSURI(uri):
		bucket, object, err := ParseGCSURI(uri)
		if err != nil {
			return nil, err
		}
		client, err := s.client(ctx)
		if err != nil {
			return nil, err
		}
		return client.NewWriter(ctx, bucket, object), nil
	case uri == "":
		return nil, fmt.Errorf("empty output: %w", ErrInvalidURI)
	}
	if dir := filepath.Dir(uri); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return os.Create(uri)
}

// Close releases the Cloud Storage client if one was created.
func (s *URIStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		return nil
	}
	err := s.objects.Close()
	s.objects = nil
	return err
}

func (s *URIStore) client(ctx context.Context) (ObjectClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects != nil {
		return s.objects, nil
	}
	if s.newClient == nil {
		return nil, fmt.Errorf("no object storage client configured: %w", ErrInvalidURI)
	}
	c, err := s.newClient(ctx)
	if err != nil {
		return nil, err
	}
	s.objects = c
	return c, nil
}

// Filename returns the last path element of a local path or object URI.
// e.g., "gs://bucket/folder/file.sta" → "file.sta"
func Filename(uri string) string {
	if IsGCSURI(uri) {
		trimmed := strings.TrimPrefix(uri, gcsScheme)
		parts := strings.SplitN(trimmed, "/", 2)
		if len(parts) < 2 {
			return trimmed
		}
		uri = parts[1]
	}
	return filepath.Base(uri)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

var _ Store = (*URIStore)(nil)
