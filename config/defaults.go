package config

import (
	"time"

	"github.com/Klingon-tech/proxyguard/internal/storage"
)

// Default returns the default configuration: a local sidecar in front of a
// Polkadot development chain.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Sidecar: SidecarConfig{
			URL:           "http://127.0.0.1:8080",
			Timeout:       30 * time.Second,
			RetryAttempts: 4,
			RetryBase:     2 * time.Second,
		},
		Sync: SyncConfig{
			PollInterval: time.Second,
		},
		Tx: TxConfig{
			EraPeriod: 64,
			Tip:       "0",
		},
		Protocol: ProtocolConfig{
			SS58Prefix:  0,
			Threshold:   2,
			DelayPeriod: 50,
			ProxyType:   "Any",
		},
		Store: StoreConfig{
			Backend: storage.BackendBadger,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}
