package config

import (
	"fmt"

	"github.com/caarlos0/env/v6"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv, e.g.
// PROXYGUARD_SIDECAR_URL.
const EnvPrefix = "PROXYGUARD_"

// ApplyEnv overrides cfg with the PROXYGUARD_* variables that are set.
// Unset variables leave the current value. A nil environ reads the process
// environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix, Environment: environ}
	if err := env.Parse(cfg, opts); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	return nil
}
