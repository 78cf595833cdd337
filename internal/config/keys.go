package config

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Key describes one configuration key.
type Key struct {
	Name        string // dotted key, e.g. "jira.client_id"
	Description string
	Default     string
	Secret      bool // masked by AllSettings
	Validate    func(string) error
}

// Config keys.
const (
	KeyServerAddr = "server.addr"

	KeyLogLevel      = "log.level"
	KeyLogFormat     = "log.format"
	KeyLogFile       = "log.file"
	KeyLogMaxSizeMB  = "log.max_size_mb"
	KeyLogMaxBackups = "log.max_backups"

	KeyJiraClientID     = "jira.client_id"
	KeyJiraClientSecret = "jira.client_secret"
	KeyJiraRedirectURI  = "jira.redirect_uri"
	KeyJiraAuthURL      = "jira.auth_url"
	KeyJiraAPIURL       = "jira.api_url"
	KeyJiraPageSize     = "jira.page_size"

	KeyFrontendRedirectURL = "frontend.redirect_url"

	KeyStorageBackend = "storage.backend"
	KeyStorageDSN     = "storage.dsn"

	KeyBlobBackend         = "blob.backend"
	KeyBlobBucket          = "blob.bucket"
	KeyBlobEndpoint        = "blob.endpoint"
	KeyBlobCredentialsFile = "blob.credentials_file"

	KeySyncBatchSize   = "sync.batch_size"
	KeySyncUpdateDelay = "sync.update_delay"
	KeySyncConcurrency = "sync.concurrency"

	KeyJobsWorkers = "jobs.workers"
)

// Keys lists every configuration key.
var Keys = []Key{
	{Name: KeyServerAddr, Description: "HTTP listen address", Default: ":8080"},

	{Name: KeyLogLevel, Description: "Log level (debug, info, warn, error)", Default: "info", Validate: validateLogLevel},
	{Name: KeyLogFormat, Description: "Log format (json, text)", Default: "json", Validate: oneOf("json", "text")},
	{Name: KeyLogFile, Description: "Log file path; empty logs to stderr"},
	{Name: KeyLogMaxSizeMB, Description: "Rotate the log file at this size", Default: "100", Validate: validatePositiveInt},
	{Name: KeyLogMaxBackups, Description: "Rotated log files to keep", Default: "5", Validate: validateNonNegativeInt},

	{Name: KeyJiraClientID, Description: "Atlassian OAuth client id"},
	{Name: KeyJiraClientSecret, Description: "Atlassian OAuth client secret", Secret: true},
	{Name: KeyJiraRedirectURI, Description: "OAuth callback URL registered with Atlassian", Validate: optionalURL},
	{Name: KeyJiraAuthURL, Description: "Atlassian auth server", Default: "https://auth.atlassian.com", Validate: validateURL},
	{Name: KeyJiraAPIURL, Description: "Atlassian API gateway", Default: "https://api.atlassian.com", Validate: validateURL},
	{Name: KeyJiraPageSize, Description: "Issues per search page", Default: "100", Validate: validatePositiveInt},

	{Name: KeyFrontendRedirectURL, Description: "Where the OAuth callback sends the browser", Validate: optionalURL},

	{Name: KeyStorageBackend, Description: "Document store (memory, mysql)", Default: string(BackendMemory), Validate: oneOf(string(BackendMemory), string(BackendMySQL))},
	{Name: KeyStorageDSN, Description: "MySQL/Dolt DSN", Secret: true},

	{Name: KeyBlobBackend, Description: "Object store (memory, gcs)", Default: string(BackendMemory), Validate: oneOf(string(BackendMemory), string(BackendGCS))},
	{Name: KeyBlobBucket, Description: "Bucket archives are uploaded to", Default: "captain-archives"},
	{Name: KeyBlobEndpoint, Description: "GCS endpoint override (emulators)", Validate: optionalURL},
	{Name: KeyBlobCredentialsFile, Description: "GCS service account key file"},

	{Name: KeySyncBatchSize, Description: "Issues per bulk-create call", Default: "40", Validate: validatePositiveInt},
	{Name: KeySyncUpdateDelay, Description: "Pause between deprecation updates", Default: "500ms", Validate: validateDuration},
	{Name: KeySyncConcurrency, Description: "Bulk-create batches in flight", Default: "1", Validate: validatePositiveInt},

	{Name: KeyJobsWorkers, Description: "Background tasks running at once", Default: "4", Validate: validatePositiveInt},
}

var keyMap map[string]*Key

func init() {
	keyMap = make(map[string]*Key, len(Keys))
	for i := range Keys {
		keyMap[Keys[i].Name] = &Keys[i]
	}
}

// LookupKey returns the definition of key, or nil if it is unknown.
func LookupKey(key string) *Key {
	return keyMap[key]
}

// EnvVar is the environment variable overriding key.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// ValidateKey checks that key is known and value acceptable.
func ValidateKey(key, value string) error {
	k := keyMap[key]
	if k == nil {
		known := make([]string, 0, len(Keys))
		for _, k := range Keys {
			known = append(known, k.Name)
		}
		sort.Strings(known)
		return fmt.Errorf("unknown config key %q; valid keys: %s", key, strings.Join(known, ", "))
	}
	if k.Validate != nil {
		if err := k.Validate(value); err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}
	return nil
}

// Validation helpers

func validateLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("must be one of: debug, info, warn, error; got %q", value)
	}
}

func oneOf(allowed ...string) func(string) error {
	return func(value string) error {
		for _, a := range allowed {
			if strings.EqualFold(value, a) {
				return nil
			}
		}
		return fmt.Errorf("must be one of: %s; got %q", strings.Join(allowed, ", "), value)
	}
}

func validatePositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be a number, got %q", value)
	}
	if n < 1 {
		return fmt.Errorf("must be at least 1, got %d", n)
	}
	return nil
}

func validateNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be a number, got %q", value)
	}
	if n < 0 {
		return fmt.Errorf("must not be negative, got %d", n)
	}
	return nil
}

func validateDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("must be a duration like 500ms, got %q", value)
	}
	if d < 0 {
		return fmt.Errorf("must not be negative, got %s", d)
	}
	return nil
}

func validateURL(value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL, got %q", value)
	}
	return nil
}

func optionalURL(value string) error {
	if value == "" {
		return nil
	}
	return validateURL(value)
}
