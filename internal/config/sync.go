package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Backend names a storage implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendMySQL  Backend = "mysql"
	BackendGCS    Backend = "gcs"
)

// Settings is the typed view of every key.
type Settings struct {
	ServerAddr string

	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	Jira JiraSettings

	FrontendRedirectURL string

	StorageBackend Backend
	StorageDSN     string

	BlobBackend         Backend
	BlobBucket          string
	BlobEndpoint        string
	BlobCredentialsFile string

	Sync SyncSettings

	JobsWorkers int
}

// JiraSettings configures the OAuth app and API access.
type JiraSettings struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	APIURL       string
	PageSize     int
}

// SyncSettings tunes the version sync.
type SyncSettings struct {
	BatchSize   int
	UpdateDelay time.Duration
	Concurrency int
}

// Load validates every key and returns the typed settings.
func Load() (*Settings, error) {
	if instance() == nil {
		return nil, errors.New("config not initialized")
	}
	var errs []error
	for _, k := range Keys {
		if err := ValidateKey(k.Name, GetString(k.Name)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	s := &Settings{
		ServerAddr:    GetString(KeyServerAddr),
		LogLevel:      GetString(KeyLogLevel),
		LogFormat:     GetString(KeyLogFormat),
		LogFile:       GetString(KeyLogFile),
		LogMaxSizeMB:  GetInt(KeyLogMaxSizeMB),
		LogMaxBackups: GetInt(KeyLogMaxBackups),
		Jira: JiraSettings{
			ClientID:     GetString(KeyJiraClientID),
			ClientSecret: GetString(KeyJiraClientSecret),
			RedirectURI:  GetString(KeyJiraRedirectURI),
			AuthURL:      GetString(KeyJiraAuthURL),
			APIURL:       GetString(KeyJiraAPIURL),
			PageSize:     GetInt(KeyJiraPageSize),
		},
		FrontendRedirectURL: GetString(KeyFrontendRedirectURL),
		StorageBackend:      GetBackend(KeyStorageBackend),
		StorageDSN:          GetString(KeyStorageDSN),
		BlobBackend:         GetBackend(KeyBlobBackend),
		BlobBucket:          GetString(KeyBlobBucket),
		BlobEndpoint:        GetString(KeyBlobEndpoint),
		BlobCredentialsFile: GetString(KeyBlobCredentialsFile),
		Sync:                GetSyncSettings(),
		JobsWorkers:         GetInt(KeyJobsWorkers),
	}
	if s.StorageBackend == BackendMySQL && s.StorageDSN == "" {
		return nil, fmt.Errorf("%s is required when %s is %s", KeyStorageDSN, KeyStorageBackend, BackendMySQL)
	}
	return s, nil
}

// GetBackend returns the backend named by key, lowercased.
func GetBackend(key string) Backend {
	return Backend(strings.ToLower(GetString(key)))
}

// GetSyncSettings returns the sync tuning. Invalid values fall back to
// the defaults with a warning on stderr.
func GetSyncSettings() SyncSettings {
	s := SyncSettings{
		BatchSize:   GetInt(KeySyncBatchSize),
		UpdateDelay: GetDuration(KeySyncUpdateDelay),
		Concurrency: GetInt(KeySyncConcurrency),
	}
	if s.BatchSize < 1 {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s %d, using default 40\n", KeySyncBatchSize, s.BatchSize)
		s.BatchSize = 40
	}
	if s.UpdateDelay < 0 {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s %s, using default 500ms\n", KeySyncUpdateDelay, s.UpdateDelay)
		s.UpdateDelay = 500 * time.Millisecond
	}
	if s.Concurrency < 1 {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s %d, using default 1\n", KeySyncConcurrency, s.Concurrency)
		s.Concurrency = 1
	}
	return s
}
