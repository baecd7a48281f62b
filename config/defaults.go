package config

import (
	"github.com/Klingon-tech/lbm/internal/cas"
	"github.com/Klingon-tech/lbm/internal/ratelimit"
)

// Default returns a node configuration with sane out-of-the-box values.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Keystore: KeystoreConfig{
			Encrypted: false,
		},
		P2P: P2PConfig{
			ListenAddr:           "0.0.0.0",
			Port:                 7733,
			MaxConnectionsPerIP:  ratelimit.DefaultMaxConnectionsPerIP,
			MaxRequestsPerMinute: ratelimit.DefaultMaxRequestsPerWindow,
		},
		CAS: CASConfig{
			MaxObjectBytes: cas.DefaultMaxObjectSize,
		},
		Sync: SyncConfig{
			Enabled:          true,
			BaseIntervalSecs: 30,
			MaxIntervalSecs:  1800,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}
