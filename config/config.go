// Package config handles node runtime configuration: data directories,
// P2P listen settings, rate-limit/CAS bounds, sync-daemon intervals, and
// logging — everything a single LBM node needs to start.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Config holds a node's runtime settings. Unlike the protocol rules of a
// UTXO chain, nothing here is consensus-critical: every group carries its
// own policy on its own chain, so a Config only ever governs
// this one node's local behavior.
type Config struct {
	// Core
	DataDir string `conf:"datadir"`
	NodeID  string `conf:"node_id"` // cosmetic label only, not the crypto identity

	// Keystore
	Keystore KeystoreConfig

	// P2P networking
	P2P P2PConfig

	// Content-addressed storage
	CAS CASConfig

	// Group synchronization
	Sync SyncConfig

	// Logging
	Log LogConfig
}

// KeystoreConfig holds the node identity key-file settings.
type KeystoreConfig struct {
	Encrypted bool `conf:"keystore.encrypted"` // whether signing/encryption keys are password-protected
}

// P2PConfig holds peer-to-peer listen and rate-limit settings.
type P2PConfig struct {
	ListenAddr           string `conf:"p2p.listen"`
	Port                 int    `conf:"p2p.port"`
	MaxConnectionsPerIP  int    `conf:"p2p.max_connections_per_ip"`
	MaxRequestsPerMinute int    `conf:"p2p.max_requests_per_minute"`
}

// CASConfig holds content-addressed store limits.
type CASConfig struct {
	MaxObjectBytes int64 `conf:"cas.max_object_bytes"`
}

// SyncConfig holds group-sync daemon timing and its subscription source
//.
type SyncConfig struct {
	Enabled           bool   `conf:"sync.enabled"`
	SubscriptionsFile string `conf:"sync.subscriptions_file"`
	BaseIntervalSecs  int    `conf:"sync.base_interval_secs"`
	MaxIntervalSecs   int    `conf:"sync.max_interval_secs"`
}

// LogConfig holds logging settings for the console/file/JSON output
// produced by internal/log.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory,
// overridable by the LB_DATA_DIR environment variable.
func DefaultDataDir() string {
	if v := os.Getenv("LB_DATA_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lbm"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "lbm")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "lbm")
		}
		return filepath.Join(home, "AppData", "Roaming", "lbm")
	default:
		return filepath.Join(home, ".lbm")
	}
}

// KeystoreDir returns the directory holding signing.key / encryption.key.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.DataDir, "keys")
}

// GroupsDir returns the directory under which every joined group's chain
// lives, one subdirectory per group id.
func (c *Config) GroupsDir() string {
	return filepath.Join(c.DataDir, "groups")
}

// CASDir returns the content-addressed object store root.
func (c *Config) CASDir() string {
	return filepath.Join(c.DataDir, "cas")
}

// WALDir returns the write-ahead log root.
func (c *Config) WALDir() string {
	return filepath.Join(c.DataDir, "wal")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// SubscriptionsPath returns the resolved path of the sync subscriptions
// file, defaulting to DataDir/subscriptions.json when unset.
func (c *Config) SubscriptionsPath() string {
	if c.Sync.SubscriptionsFile != "" {
		return c.Sync.SubscriptionsFile
	}
	return filepath.Join(c.DataDir, "subscriptions.json")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "lbnode.conf")
}
