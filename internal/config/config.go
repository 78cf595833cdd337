// Package config loads service settings through a viper singleton.
//
// Precedence, highest first: command-line flags bound with BindFlags,
// CAPTAIN_* environment variables, the YAML config file, built-in defaults.
// Every key is declared in Keys.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override: jira.client_id is read
// from CAPTAIN_JIRA_CLIENT_ID.
const EnvPrefix = "CAPTAIN"

var (
	mu sync.RWMutex
	v  *viper.Viper
)

// Initialize sets up the singleton. configFile may be empty, in which case
// ./captain.yaml and then <user config dir>/captain/config.yaml are tried.
func Initialize(configFile string) error {
	nv := viper.New()
	nv.SetConfigType("yaml")
	nv.SetEnvPrefix(EnvPrefix)
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	nv.AutomaticEnv()

	for _, k := range Keys {
		nv.SetDefault(k.Name, k.Default)
	}

	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		nv.SetConfigFile(configFile)
		if err := nv.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	mu.Lock()
	v = nv
	mu.Unlock()
	return nil
}

func findConfigFile() string {
	candidates := []string{"captain.yaml"}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "captain", "config.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ResetForTesting clears the singleton so Initialize can run again.
// Not safe for concurrent use.
func ResetForTesting() {
	mu.Lock()
	v = nil
	mu.Unlock()
}

func instance() *viper.Viper {
	mu.RLock()
	defer mu.RUnlock()
	return v
}

// ConfigFileUsed returns the loaded config file path, or "".
func ConfigFileUsed() string {
	if cur := instance(); cur != nil {
		return cur.ConfigFileUsed()
	}
	return ""
}

// BindFlags binds command-line flags to keys. Flag names use dashes in
// place of dots and underscores: --jira-client-id sets jira.client_id.
func BindFlags(flags *pflag.FlagSet) error {
	cur := instance()
	if cur == nil {
		return fmt.Errorf("config not initialized")
	}
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		key := FlagKey(f.Name)
		if key == "" || err != nil {
			return
		}
		err = cur.BindPFlag(key, f)
	})
	return err
}

// FlagKey maps a flag name to the key it overrides, or "" if none does.
func FlagKey(flag string) string {
	for _, k := range Keys {
		if FlagName(k.Name) == flag {
			return k.Name
		}
	}
	return ""
}

// FlagName is the flag spelling of key.
func FlagName(key string) string {
	return strings.NewReplacer(".", "-", "_", "-").Replace(key)
}

// Watch reloads the config file on change and calls onChange with the new
// settings. Invalid edits are reported through onError and ignored.
func Watch(onChange func(*Settings), onError func(error)) {
	cur := instance()
	if cur == nil || cur.ConfigFileUsed() == "" {
		return
	}
	cur.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		s, err := Load()
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		onChange(s)
	})
	cur.WatchConfig()
}

// GetString returns the value of key, or "" before Initialize.
func GetString(key string) string {
	if cur := instance(); cur != nil {
		return strings.TrimSpace(cur.GetString(key))
	}
	return ""
}

// GetInt returns the value of key, or 0 before Initialize.
func GetInt(key string) int {
	if cur := instance(); cur != nil {
		return cur.GetInt(key)
	}
	return 0
}

// GetBool returns the value of key, or false before Initialize.
func GetBool(key string) bool {
	if cur := instance(); cur != nil {
		return cur.GetBool(key)
	}
	return false
}

// GetDuration returns the value of key, or 0 before Initialize.
func GetDuration(key string) time.Duration {
	if cur := instance(); cur != nil {
		return cur.GetDuration(key)
	}
	return 0
}

// Set overrides key for the life of the process.
func Set(key string, value interface{}) {
	if cur := instance(); cur != nil {
		cur.Set(key, value)
	}
}

// AllSettings returns every key and its effective value. Secret keys are
// masked.
func AllSettings() map[string]string {
	out := make(map[string]string, len(Keys))
	if instance() == nil {
		return out
	}
	for _, k := range Keys {
		val := GetString(k.Name)
		if k.Secret && val != "" {
			val = "********"
		}
		out[k.Name] = val
	}
	return out
}
