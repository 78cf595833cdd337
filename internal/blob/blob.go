// Package blob reads and writes objects addressed by gs:// URLs.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Scheme is the only URL scheme blob stores accept.
const Scheme = "gs://"

var (
	// ErrUnsupportedURL is returned for URLs that are not gs://bucket/object.
	ErrUnsupportedURL = errors.New("unsupported blob url")
	// ErrNotFound is returned when the object does not exist.
	ErrNotFound = errors.New("blob not found")
)

// Store fetches objects by URL and uploads new ones to the configured bucket.
type Store interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	// Open streams the object at url. The caller closes the reader.
	Open(ctx context.Context, url string) (io.ReadCloser, error)
	// Put uploads data to path inside the store's bucket and returns its gs:// URL.
	Put(ctx context.Context, path string, data io.Reader, contentType string) (string, error)
}

// ParseURL splits gs://bucket/object into bucket and object.
func ParseURL(url string) (bucket, object string, err error) {
	if !strings.HasPrefix(url, Scheme) {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedURL, url)
	}
	rest := strings.TrimPrefix(url, Scheme)
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedURL, url)
	}
	return bucket, object, nil
}

// URL builds a gs:// URL.
func URL(bucket, object string) string {
	return Scheme + bucket + "/" + strings.TrimPrefix(object, "/")
}

// BaseName returns the last path segment of an object URL.
func BaseName(url string) string {
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}
