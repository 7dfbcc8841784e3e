package config

import (
	"fmt"
	"math/big"
	"net/url"

	"github.com/Klingon-tech/proxyguard/internal/log"
	"github.com/Klingon-tech/proxyguard/internal/storage"
	"github.com/Klingon-tech/proxyguard/pkg/extrinsic"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

// Validate checks the config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	u, err := url.Parse(cfg.Sidecar.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("sidecar.url must be an http(s) URL, got %q", cfg.Sidecar.URL)
	}
	if cfg.Sidecar.Timeout <= 0 {
		return fmt.Errorf("sidecar.timeout must be positive")
	}
	if cfg.Sidecar.RetryAttempts == 0 {
		return fmt.Errorf("sidecar.retry.attempts must be at least 1")
	}
	if cfg.Sidecar.RetryBase < 0 {
		return fmt.Errorf("sidecar.retry.base must not be negative")
	}
	if cfg.Sync.PollInterval <= 0 {
		return fmt.Errorf("sync.poll must be positive")
	}

	if cfg.Tx.EraPeriod == 0 {
		return fmt.Errorf("tx.era must be positive")
	}
	if tip, ok := new(big.Int).SetString(cfg.Tx.Tip, 10); !ok || tip.Sign() < 0 {
		return fmt.Errorf("tx.tip must be a non-negative integer, got %q", cfg.Tx.Tip)
	}

	if cfg.Protocol.SS58Prefix > types.MaxSS58Prefix {
		return fmt.Errorf("protocol.ss58 must be at most %d", types.MaxSS58Prefix)
	}
	if cfg.Protocol.Threshold < 1 {
		return fmt.Errorf("protocol.threshold must be at least 1")
	}
	if cfg.Protocol.DelayPeriod == 0 {
		return fmt.Errorf("protocol.delay must be positive")
	}
	if _, err := extrinsic.ParseProxyType(cfg.Protocol.ProxyType); err != nil {
		return fmt.Errorf("protocol.proxytype: %w", err)
	}
	if cfg.Protocol.ColdStorage != "" {
		if _, err := types.ParseAddress(cfg.Protocol.ColdStorage); err != nil {
			return fmt.Errorf("protocol.coldstorage: %w", err)
		}
	}

	switch cfg.Store.Backend {
	case storage.BackendMemory, storage.BackendBadger:
	default:
		return fmt.Errorf("store.backend must be %q or %q", storage.BackendMemory, storage.BackendBadger)
	}

	if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	if cfg.Keys.Mnemonic != "" && cfg.Keys.Keystore != "" {
		return fmt.Errorf("keys.mnemonic and keys.keystore are mutually exclusive")
	}
	return nil
}
