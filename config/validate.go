package config

import "fmt"

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.P2P.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("p2p.max_connections_per_ip must be positive")
	}
	if cfg.P2P.MaxRequestsPerMinute <= 0 {
		return fmt.Errorf("p2p.max_requests_per_minute must be positive")
	}
	if cfg.CAS.MaxObjectBytes <= 0 {
		return fmt.Errorf("cas.max_object_bytes must be positive")
	}
	if cfg.Sync.Enabled {
		if cfg.Sync.BaseIntervalSecs <= 0 {
			return fmt.Errorf("sync.base_interval_secs must be positive")
		}
		if cfg.Sync.MaxIntervalSecs < cfg.Sync.BaseIntervalSecs {
			return fmt.Errorf("sync.max_interval_secs must be >= sync.base_interval_secs")
		}
	}
	return nil
}
