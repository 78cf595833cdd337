package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "captain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestInitialize(t *testing.T) {
	t.Cleanup(ResetForTesting)
	require.NoError(t, Initialize(""))
	if instance() == nil {
		t.Fatal("viper instance is nil after Initialize()")
	}
	assert.Empty(t, ConfigFileUsed())
}

func TestDefaults(t *testing.T) {
	t.Cleanup(ResetForTesting)
	require.NoError(t, Initialize(""))

	tests := []struct {
		key      string
		expected interface{}
		getter   func(string) interface{}
	}{
		{KeyServerAddr, ":8080", func(k string) interface{} { return GetString(k) }},
		{KeyLogLevel, "info", func(k string) interface{} { return GetString(k) }},
		{KeyLogFormat, "json", func(k string) interface{} { return GetString(k) }},
		{KeyJiraAuthURL, "https://auth.atlassian.com", func(k string) interface{} { return GetString(k) }},
		{KeyJiraPageSize, 100, func(k string) interface{} { return GetInt(k) }},
		{KeySyncBatchSize, 40, func(k string) interface{} { return GetInt(k) }},
		{KeySyncUpdateDelay, 500 * time.Millisecond, func(k string) interface{} { return GetDuration(k) }},
		{KeySyncConcurrency, 1, func(k string) interface{} { return GetInt(k) }},
		{KeyJobsWorkers, 4, func(k string) interface{} { return GetInt(k) }},
		{KeyStorageBackend, "memory", func(k string) interface{} { return GetString(k) }},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := tt.getter(tt.key)
			if got != tt.expected {
				t.Errorf("Get(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
}

func TestEnvironmentBinding(t *testing.T) {
	t.Cleanup(ResetForTesting)
	t.Setenv("CAPTAIN_JIRA_CLIENT_ID", "client-from-env")
	t.Setenv("CAPTAIN_SYNC_BATCH_SIZE", "25")
	t.Setenv("CAPTAIN_LOG_LEVEL", "debug")

	require.NoError(t, Initialize(""))
	assert.Equal(t, "client-from-env", GetString(KeyJiraClientID))
	assert.Equal(t, 25, GetInt(KeySyncBatchSize))
	assert.Equal(t, "debug", GetString(KeyLogLevel))
}

func TestEnvVar(t *testing.T) {
	assert.Equal(t, "CAPTAIN_JIRA_CLIENT_ID", EnvVar(KeyJiraClientID))
	assert.Equal(t, "CAPTAIN_LOG_MAX_SIZE_MB", EnvVar(KeyLogMaxSizeMB))
}

func TestConfigFile(t *testing.T) {
	t.Cleanup(ResetForTesting)
	path := writeConfig(t, `
server:
  addr: ":9090"
jira:
  client_id: from-file
sync:
  update_delay: 2s
`)
	require.NoError(t, Initialize(path))

	assert.Equal(t, path, ConfigFileUsed())
	assert.Equal(t, ":9090", GetString(KeyServerAddr))
	assert.Equal(t, "from-file", GetString(KeyJiraClientID))
	assert.Equal(t, 2*time.Second, GetDuration(KeySyncUpdateDelay))
	assert.Equal(t, 40, GetInt(KeySyncBatchSize), "unset keys keep defaults")
}

func TestConfigFileDiscovery(t *testing.T) {
	t.Cleanup(ResetForTesting)
	dir := t.TempDir()
	oldWD, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldWD) })

	require.NoError(t, os.WriteFile("captain.yaml", []byte("server:\n  addr: \":7000\"\n"), 0o600))
	require.NoError(t, Initialize(""))
	assert.Equal(t, ":7000", GetString(KeyServerAddr))
}

func TestConfigFileMissing(t *testing.T) {
	t.Cleanup(ResetForTesting)
	err := Initialize(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestConfigPrecedence(t *testing.T) {
	t.Cleanup(ResetForTesting)
	path := writeConfig(t, "jira:\n  client_id: from-file\n  page_size: 10\n")
	t.Setenv("CAPTAIN_JIRA_CLIENT_ID", "from-env")

	require.NoError(t, Initialize(path))
	assert.Equal(t, "from-env", GetString(KeyJiraClientID), "env beats file")
	assert.Equal(t, 10, GetInt(KeyJiraPageSize), "file beats default")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String(FlagName(KeyJiraClientID), "", "")
	flags.String("unrelated", "", "")
	require.NoError(t, BindFlags(flags))
	require.NoError(t, flags.Parse([]string{"--jira-client-id=from-flag"}))
	assert.Equal(t, "from-flag", GetString(KeyJiraClientID), "flag beats env")
}

func TestFlagNames(t *testing.T) {
	assert.Equal(t, "jira-client-id", FlagName(KeyJiraClientID))
	assert.Equal(t, KeyLogMaxSizeMB, FlagKey("log-max-size-mb"))
	assert.Empty(t, FlagKey("verbose"))
}

func TestBindFlagsBeforeInitialize(t *testing.T) {
	ResetForTesting()
	err := BindFlags(pflag.NewFlagSet("test", pflag.ContinueOnError))
	assert.Error(t, err)
}

func TestSetAndGet(t *testing.T) {
	t.Cleanup(ResetForTesting)
	require.NoError(t, Initialize(""))

	Set(KeyBlobBucket, "override")
	assert.Equal(t, "override", GetString(KeyBlobBucket))
}

func TestAllSettings(t *testing.T) {
	t.Cleanup(ResetForTesting)
	t.Setenv("CAPTAIN_JIRA_CLIENT_SECRET", "shh")
	require.NoError(t, Initialize(""))

	all := AllSettings()
	assert.Len(t, all, len(Keys))
	assert.Equal(t, "********", all[KeyJiraClientSecret])
	assert.Equal(t, "", all[KeyStorageDSN], "empty secrets stay empty")
	assert.Equal(t, "info", all[KeyLogLevel])
}

func TestLoad(t *testing.T) {
	t.Cleanup(ResetForTesting)
	path := writeConfig(t, `
jira:
  client_id: cid
  client_secret: secret
  redirect_uri: https://api.example.com/jira/callback
frontend:
  redirect_url: https://app.example.com/integrations
blob:
  backend: gcs
  bucket: archives
sync:
  concurrency: 3
`)
	require.NoError(t, Initialize(path))

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "cid", s.Jira.ClientID)
	assert.Equal(t, "secret", s.Jira.ClientSecret)
	assert.Equal(t, "https://api.atlassian.com", s.Jira.APIURL)
	assert.Equal(t, "https://app.example.com/integrations", s.FrontendRedirectURL)
	assert.Equal(t, BackendMemory, s.StorageBackend)
	assert.Equal(t, BackendGCS, s.BlobBackend)
	assert.Equal(t, "archives", s.BlobBucket)
	assert.Equal(t, SyncSettings{BatchSize: 40, UpdateDelay: 500 * time.Millisecond, Concurrency: 3}, s.Sync)
	assert.Equal(t, 4, s.JobsWorkers)
}

func TestLoadInvalid(t *testing.T) {
	t.Run("bad values are all reported", func(t *testing.T) {
		t.Cleanup(ResetForTesting)
		t.Setenv("CAPTAIN_LOG_LEVEL", "loud")
		t.Setenv("CAPTAIN_STORAGE_BACKEND", "postgres")
		require.NoError(t, Initialize(""))

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), KeyLogLevel)
		assert.Contains(t, err.Error(), KeyStorageBackend)
	})

	t.Run("mysql needs a dsn", func(t *testing.T) {
		t.Cleanup(ResetForTesting)
		t.Setenv("CAPTAIN_STORAGE_BACKEND", "mysql")
		require.NoError(t, Initialize(""))

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), KeyStorageDSN)
	})

	t.Run("not initialized", func(t *testing.T) {
		ResetForTesting()
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestWatch(t *testing.T) {
	t.Cleanup(ResetForTesting)
	path := writeConfig(t, "log:\n  level: info\n")
	require.NoError(t, Initialize(path))

	levels := make(chan string, 8)
	Watch(func(s *Settings) { levels <- s.LogLevel }, nil)

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))

	select {
	case got := <-levels:
		assert.Equal(t, "debug", got)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after config file change")
	}
}

func TestNilViperBehavior(t *testing.T) {
	ResetForTesting()

	// None of these may panic before Initialize.
	assert.Equal(t, "", GetString(KeyServerAddr))
	assert.Equal(t, 0, GetInt(KeySyncBatchSize))
	assert.False(t, GetBool("anything"))
	assert.Equal(t, time.Duration(0), GetDuration(KeySyncUpdateDelay))
	assert.Empty(t, AllSettings())
	assert.Empty(t, ConfigFileUsed())
	Set(KeyServerAddr, ":1")
	Watch(func(*Settings) {}, nil)
}
