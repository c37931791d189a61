package objstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

const gcsScheme = "gs://"

// ObjectClient reads and writes Cloud Storage objects.
type ObjectClient interface {
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	NewWriter(ctx context.Context, bucket, object string) io.WriteCloser
	Close() error
}

// GCSClient is the ObjectClient backed by cloud.google.com/go/storage.
// It assumes Application Default Credentials are configured (gcloud auth application-default login).
type GCSClient struct {
	client *storage.Client
}

// NewGCSClient creates a storage client.
func NewGCSClient(ctx context.Context) (ObjectClient, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSClient{client: client}, nil
}

// NewReader opens an object for reading.
func (c *GCSClient) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	rc, err := c.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading object %s/%s: %w", bucket, object, err)
	}
	return rc, nil
}

// NewWriter returns a writer whose Close finalizes the upload.
func (c *GCSClient) NewWriter(ctx context.Context, bucket, object string) io.WriteCloser {
	w := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType(object)
	return w
}

func (c *GCSClient) Close() error {
	return c.client.Close()
}

// IsGCSURI reports whether uri uses the gs:// scheme.
func IsGCSURI(uri string) bool {
	return strings.HasPrefix(uri, gcsScheme)
}

// ParseGCSURI splits gs://bucket/path/to/object into bucket and object name.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !IsGCSURI(uri) {
		return "", "", fmt.Errorf("not a GCS URI %q: %w", uri, ErrInvalidURI)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, gcsScheme), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("GCS URI %q has no object path: %w", uri, ErrInvalidURI)
	}
	return parts[0], parts[1], nil
}

func contentType(object string) string {
	switch {
	case strings.HasSuffix(object, ".xml"):
		return "application/xml"
	case strings.HasSuffix(object, ".csv"):
		return "text/csv"
	}
	return "text/plain"
}

var _ ObjectClient = (*GCSClient)(nil)
