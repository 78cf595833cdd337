package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/option"
)

// GCSStore is a Store backed by Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
	bucket string

	// fetchMaxElapsed bounds retries of a single Fetch.
	fetchMaxElapsed time.Duration
}

var _ Store = (*GCSStore)(nil)

// GCSConfig configures NewGCSStore.
type GCSConfig struct {
	Bucket string
	// Endpoint overrides the API endpoint, e.g. a local emulator. Requests to
	// a custom endpoint are sent unauthenticated.
	Endpoint string
	// CredentialsFile is a service-account JSON key. Empty uses ADC.
	CredentialsFile string
}

// NewGCSStore creates a client for cfg.Bucket.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	} else if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, fetchMaxElapsed: 20 * time.Second}, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) Fetch(ctx context.Context, url string) ([]byte, error) {
	bucket, object, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.fetchMaxElapsed

	var data []byte
	err = backoff.Retry(func() error {
		r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, url))
		}
		if err != nil {
			return err
		}
		defer func() { _ = r.Close() }()
		data, err = io.ReadAll(r)
		return err
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	return data, nil
}

func (s *GCSStore) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	bucket, object, err := ParseURL(url)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", url, err)
	}
	return r, nil
}

func (s *GCSStore) Put(ctx context.Context, path string, data io.Reader, contentType string) (string, error) {
	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	return URL(s.bucket, path), nil
}
