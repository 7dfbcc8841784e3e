// Package config handles application configuration.
//
// Settings are layered: defaults, then the .conf file, then PROXYGUARD_*
// environment variables, then command-line flags.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Config holds the runtime configuration of the proxyguard tool.
type Config struct {
	DataDir string `conf:"datadir" env:"DATADIR"`

	// Sidecar REST endpoint
	Sidecar SidecarConfig `envPrefix:"SIDECAR_"`

	// Block polling
	Sync SyncConfig `envPrefix:"SYNC_"`

	// Transaction construction
	Tx TxConfig `envPrefix:"TX_"`

	// Protected account and proxy parameters
	Protocol ProtocolConfig `envPrefix:"PROTOCOL_"`

	// Call store
	Store StoreConfig `envPrefix:"STORE_"`

	// Signing keys
	Keys KeysConfig `envPrefix:"KEYS_"`

	// Prometheus listener
	Metrics MetricsConfig `envPrefix:"METRICS_"`

	// Logging
	Log LogConfig `envPrefix:"LOG_"`
}

// SidecarConfig holds the sidecar client settings.
type SidecarConfig struct {
	URL           string        `conf:"sidecar.url" env:"URL"`
	Timeout       time.Duration `conf:"sidecar.timeout" env:"TIMEOUT"`
	RetryAttempts uint          `conf:"sidecar.retry.attempts" env:"RETRY_ATTEMPTS"`
	RetryBase     time.Duration `conf:"sidecar.retry.base" env:"RETRY_BASE"` // backoff is base×attempt
}

// SyncConfig holds chain polling settings.
type SyncConfig struct {
	PollInterval time.Duration `conf:"sync.poll" env:"POLL"`
}

// TxConfig holds transaction construction settings.
type TxConfig struct {
	EraPeriod uint64 `conf:"tx.era" env:"ERA"`
	Tip       string `conf:"tx.tip" env:"TIP"` // planck, decimal string
}

// ProtocolConfig describes the protected multisig account and its proxy.
type ProtocolConfig struct {
	SS58Prefix  uint16 `conf:"protocol.ss58" env:"SS58"`
	Threshold   int    `conf:"protocol.threshold" env:"THRESHOLD"`
	DelayPeriod uint64 `conf:"protocol.delay" env:"DELAY"`
	ProxyType   string `conf:"protocol.proxytype" env:"PROXY_TYPE"`
	ColdStorage string `conf:"protocol.coldstorage" env:"COLD_STORAGE"` // empty = alice-stash
}

// StoreConfig selects the call store backend.
type StoreConfig struct {
	Backend string `conf:"store.backend" env:"BACKEND"`
	Path    string `conf:"store.path" env:"PATH"` // empty = <datadir>/callstore
}

// KeysConfig selects where signing keys come from. Without a mnemonic or
// keystore the development mnemonic is used.
type KeysConfig struct {
	Mnemonic    string `conf:"keys.mnemonic" env:"MNEMONIC"`
	Keystore    string `conf:"keys.keystore" env:"KEYSTORE"`
	KeystoreDir string `conf:"keys.dir" env:"DIR"` // empty = <datadir>/keystore
}

// MetricsConfig holds the metrics listener settings.
type MetricsConfig struct {
	Addr string `conf:"metrics.addr" env:"ADDR"` // empty = disabled
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level" env:"LEVEL"`
	File  string `conf:"log.file" env:"FILE"`
	JSON  bool   `conf:"log.json" env:"JSON"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.proxyguard
//	macOS:   ~/Library/Application Support/Proxyguard
//	Windows: %APPDATA%\Proxyguard
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".proxyguard"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Proxyguard")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Proxyguard")
		}
		return filepath.Join(home, "AppData", "Roaming", "Proxyguard")
	default:
		return filepath.Join(home, ".proxyguard")
	}
}

// StorePath returns the call store directory.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.DataDir, "callstore")
}

// KeystoreDir returns the keystore directory.
func (c *Config) KeystoreDir() string {
	if c.Keys.KeystoreDir != "" {
		return c.Keys.KeystoreDir
	}
	return filepath.Join(c.DataDir, "keystore")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "proxyguard.conf")
}
