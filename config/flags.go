package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"
)

// Flags holds parsed global command-line flags. Flags stop at the first
// positional argument, which names the command.
type Flags struct {
	Help    bool
	Version bool

	// Core
	DataDir string
	Config  string

	// Sidecar
	SidecarURL   string
	PollInterval time.Duration

	// Protocol
	SS58Prefix  int
	Threshold   int
	Delay       uint64
	ColdStorage string

	// Store and keys
	StoreBackend string
	Keystore     string

	// Metrics
	MetricsAddr string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Command and its arguments
	Args []string

	// Explicitly-set flags (for zero-value overrides).
	SetSS58    bool
	SetLogJSON bool
}

// ParseFlags parses the global flags in args (without the program name).
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("proxyguard", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")

	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	fs.StringVar(&f.SidecarURL, "sidecar", "", "Sidecar base URL")
	fs.DurationVar(&f.PollInterval, "poll", 0, "Block poll interval")

	fs.IntVar(&f.SS58Prefix, "ss58", 0, "SS58 network prefix for printed addresses")
	fs.IntVar(&f.Threshold, "threshold", 0, "Multisig threshold")
	fs.Uint64Var(&f.Delay, "delay", 0, "Proxy announcement delay in blocks")
	fs.StringVar(&f.ColdStorage, "cold-storage", "", "Cold storage address")

	fs.StringVar(&f.StoreBackend, "store", "", "Call store backend (memory or badger)")
	fs.StringVar(&f.Keystore, "keystore", "", "Keystore name holding the signing keys")

	fs.StringVar(&f.MetricsAddr, "metrics", "", "Prometheus listen address")

	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.SetSS58 = isFlagSet(fs, "ss58")
	f.SetLogJSON = isFlagSet(fs, "log-json")
	f.Args = fs.Args()
	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	if f.SidecarURL != "" {
		cfg.Sidecar.URL = f.SidecarURL
	}
	if f.PollInterval != 0 {
		cfg.Sync.PollInterval = f.PollInterval
	}

	if f.SetSS58 {
		cfg.Protocol.SS58Prefix = uint16(f.SS58Prefix)
	}
	if f.Threshold != 0 {
		cfg.Protocol.Threshold = f.Threshold
	}
	if f.Delay != 0 {
		cfg.Protocol.DelayPeriod = f.Delay
	}
	if f.ColdStorage != "" {
		cfg.Protocol.ColdStorage = f.ColdStorage
	}

	if f.StoreBackend != "" {
		cfg.Store.Backend = f.StoreBackend
	}
	if f.Keystore != "" {
		cfg.Keys.Keystore = f.Keystore
	}
	if f.MetricsAddr != "" {
		cfg.Metrics.Addr = f.MetricsAddr
	}

	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. PROXYGUARD_* environment variables
// 5. Command-line flags
func Load(args []string) (*Config, *Flags, error) {
	flags, err := ParseFlags(args)
	if err != nil {
		return nil, nil, err
	}

	cfg := Default()
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	} else if dir := os.Getenv(EnvPrefix + "DATADIR"); dir != "" {
		cfg.DataDir = dir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}
	if err := ApplyEnv(cfg, nil); err != nil {
		return nil, nil, err
	}

	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. It is idempotent.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.KeystoreDir(),
		cfg.LogsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}
	return nil
}
