package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/surya-s-1/captain-tool-integrations/internal/archive"
	"github.com/surya-s-1/captain-tool-integrations/internal/blob"
	"github.com/surya-s-1/captain-tool-integrations/internal/config"
	"github.com/surya-s-1/captain-tool-integrations/internal/dispatch"
	"github.com/surya-s-1/captain-tool-integrations/internal/jira"
	"github.com/surya-s-1/captain-tool-integrations/internal/storage"
	"github.com/surya-s-1/captain-tool-integrations/internal/storage/memory"
	"github.com/surya-s-1/captain-tool-integrations/internal/storage/mysql"
	"github.com/surya-s-1/captain-tool-integrations/internal/telemetry"
	"github.com/surya-s-1/captain-tool-integrations/internal/tracker"
)

// app holds the wired service components.
type app struct {
	store      storage.Store
	blobs      blob.Store
	oauth      *jira.OAuth
	creds      *jira.Credentials
	client     *jira.Client
	syncer     *tracker.Syncer
	dispatcher *dispatch.Dispatcher
	archive    *archive.Engine

	closers []func() error
}

// newApp builds every component from s. When background is false no
// dispatcher is created and archive jobs must be executed by the caller.
func newApp(ctx context.Context, s *config.Settings, log *slog.Logger, background bool) (*app, error) {
	a := &app{}
	store, err := openStore(ctx, s)
	if err != nil {
		return nil, err
	}
	a.store = telemetry.WrapStore(store)
	a.closers = append(a.closers, a.store.Close)

	blobs, closeBlobs, err := openBlobs(ctx, s)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.blobs = blobs
	if closeBlobs != nil {
		a.closers = append(a.closers, closeBlobs)
	}

	a.oauth = jira.NewOAuth(jira.OAuthConfig{
		ClientID:     s.Jira.ClientID,
		ClientSecret: s.Jira.ClientSecret,
		RedirectURL:  s.Jira.RedirectURI,
		AuthURL:      s.Jira.AuthURL,
	})
	a.creds = jira.NewCredentials(a.store, a.store, a.oauth)
	a.creds.Logger = log

	a.client = jira.NewClient(s.Jira.APIURL, a.creds)
	a.client.Logger = log
	a.client.PageSize = s.Jira.PageSize

	a.syncer = tracker.NewSyncer(jira.NewTracker(a.client), a.store)
	a.syncer.Logger = log
	a.syncer.Reconciler.Logger = log
	a.syncer.BatchSize = s.Sync.BatchSize
	a.syncer.UpdateDelay = s.Sync.UpdateDelay
	a.syncer.Concurrency = s.Sync.Concurrency

	var runner archive.Runner
	if background {
		a.dispatcher = dispatch.New(s.JobsWorkers, log)
		runner = a.dispatcher
	}
	a.archive = archive.NewEngine(a.store, a.blobs, runner)
	a.archive.Logger = log
	return a, nil
}

func openStore(ctx context.Context, s *config.Settings) (storage.Store, error) {
	switch s.StorageBackend {
	case config.BackendMySQL:
		store, err := mysql.Open(ctx, mysql.Config{DSN: s.StorageDSN})
		if err != nil {
			return nil, fmt.Errorf("open mysql store: %w", err)
		}
		return store, nil
	case config.BackendMemory, "":
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unsupported %s %q", config.KeyStorageBackend, s.StorageBackend)
}

func openBlobs(ctx context.Context, s *config.Settings) (blob.Store, func() error, error) {
	switch s.BlobBackend {
	case config.BackendGCS:
		gcs, err := blob.NewGCSStore(ctx, blob.GCSConfig{
			Bucket:          s.BlobBucket,
			Endpoint:        s.BlobEndpoint,
			CredentialsFile: s.BlobCredentialsFile,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open gcs: %w", err)
		}
		return gcs, gcs.Close, nil
	case config.BackendMemory, "":
		return blob.NewMemoryStore(s.BlobBucket), nil, nil
	}
	return nil, nil, fmt.Errorf("unsupported %s %q", config.KeyBlobBackend, s.BlobBackend)
}

// Close releases everything newApp opened, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
