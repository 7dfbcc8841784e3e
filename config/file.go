package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFile loads configuration values from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key. Unknown keys are ignored.
func setConfigValue(cfg *Config, key, value string) error {
	var err error
	switch key {
	case "datadir":
		cfg.DataDir = value

	// Sidecar
	case "sidecar.url", "sidecar":
		cfg.Sidecar.URL = value
	case "sidecar.timeout":
		cfg.Sidecar.Timeout, err = time.ParseDuration(value)
	case "sidecar.retry.attempts":
		var n uint64
		n, err = strconv.ParseUint(value, 10, 32)
		cfg.Sidecar.RetryAttempts = uint(n)
	case "sidecar.retry.base":
		cfg.Sidecar.RetryBase, err = time.ParseDuration(value)

	// Sync
	case "sync.poll":
		cfg.Sync.PollInterval, err = time.ParseDuration(value)

	// Transactions
	case "tx.era":
		cfg.Tx.EraPeriod, err = strconv.ParseUint(value, 10, 64)
	case "tx.tip":
		cfg.Tx.Tip = value

	// Protocol
	case "protocol.ss58":
		var n uint64
		n, err = strconv.ParseUint(value, 10, 16)
		cfg.Protocol.SS58Prefix = uint16(n)
	case "protocol.threshold":
		cfg.Protocol.Threshold, err = strconv.Atoi(value)
	case "protocol.delay":
		cfg.Protocol.DelayPeriod, err = strconv.ParseUint(value, 10, 64)
	case "protocol.proxytype":
		cfg.Protocol.ProxyType = value
	case "protocol.coldstorage":
		cfg.Protocol.ColdStorage = value

	// Store
	case "store.backend":
		cfg.Store.Backend = strings.ToLower(value)
	case "store.path":
		cfg.Store.Path = value

	// Keys
	case "keys.mnemonic":
		cfg.Keys.Mnemonic = value
	case "keys.keystore":
		cfg.Keys.Keystore = value
	case "keys.dir":
		cfg.Keys.KeystoreDir = value

	// Metrics
	case "metrics.addr":
		cfg.Metrics.Addr = value

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)
	}
	return err
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(path string) error {
	content := `# proxyguard configuration
#
# Environment variables (PROXYGUARD_SIDECAR_URL, PROXYGUARD_PROTOCOL_DELAY, ...)
# override this file; command-line flags override both.

# Data directory (default: ~/.proxyguard)
# datadir = ~/.proxyguard

# ============================================================================
# Sidecar
# ============================================================================

sidecar.url = http://127.0.0.1:8080
sidecar.timeout = 30s
# GET requests are retried on transport errors, 429 and 5xx.
# Submissions are never retried.
sidecar.retry.attempts = 4
sidecar.retry.base = 2s

# ============================================================================
# Chain polling and transactions
# ============================================================================

sync.poll = 1s
tx.era = 64
tx.tip = 0

# ============================================================================
# Protected account
# ============================================================================

# Network prefix for printed addresses (0 = Polkadot, 2 = Kusama, 42 = generic)
protocol.ss58 = 0
# Multisig members are alice, bob and dave of the keyring.
protocol.threshold = 2
# Proxy announcement delay in blocks
protocol.delay = 50
protocol.proxytype = Any
# The only destination an announced call may pay (default: alice-stash)
# protocol.coldstorage =

# ============================================================================
# Call store
# ============================================================================

# memory or badger
store.backend = badger
# store.path = ~/.proxyguard/callstore

# ============================================================================
# Keys
# ============================================================================

# Keystore name created with "proxyguard keys create"; the development
# mnemonic is used when neither a keystore nor a mnemonic is set.
# keys.keystore =
# keys.dir = ~/.proxyguard/keystore

# ============================================================================
# Metrics and logging
# ============================================================================

# Prometheus listener, e.g. 127.0.0.1:9615 (disabled when empty)
# metrics.addr =

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
