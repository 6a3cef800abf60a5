package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate checks a loaded configuration for values the daemon cannot run with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}
	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		return fmt.Errorf("config: invalid ListenAddress %q: %w", cfg.ListenAddress, err)
	}
	switch cfg.Backend {
	case BackendLevelDB, BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("config: unsupported Backend %q", cfg.Backend)
	}
	seen := make(map[string]struct{}, len(cfg.Tokens))
	for _, token := range cfg.Tokens {
		if token == "" {
			return fmt.Errorf("config: empty token symbol")
		}
		if _, dup := seen[token]; dup {
			return fmt.Errorf("config: duplicate token %s", token)
		}
		seen[token] = struct{}{}
	}
	if !cfg.RateLimit.Disabled {
		if cfg.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("config: rate_limit.RequestsPerSecond must be positive")
		}
		if cfg.RateLimit.Burst <= 0 {
			return fmt.Errorf("config: rate_limit.Burst must be positive")
		}
	}
	if cfg.Sweeper.Enabled && cfg.Sweeper.IntervalSeconds == 0 {
		return fmt.Errorf("config: sweeper.IntervalSeconds must be positive")
	}
	for _, alloc := range cfg.Allocations {
		parsed, err := alloc.Parse()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if len(seen) > 0 {
			if _, ok := seen[parsed.Token]; !ok {
				return fmt.Errorf("config: allocation token %s is not listed in Tokens", parsed.Token)
			}
		}
	}
	if strings.TrimSpace(cfg.AdminSecret) != "" && len(strings.TrimSpace(cfg.AdminSecret)) < 16 {
		return fmt.Errorf("config: AdminSecret must be at least 16 characters")
	}
	return nil
}
