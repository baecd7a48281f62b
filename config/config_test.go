package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestValidate_RejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.P2P.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Error("expected error for out-of-range p2p.port")
	}
}

func TestValidate_RejectsZeroCASLimit(t *testing.T) {
	cfg := Default()
	cfg.CAS.MaxObjectBytes = 0
	if err := Validate(cfg); err == nil {
		t.Error("expected error for non-positive cas.max_object_bytes")
	}
}

func TestValidate_RejectsInvertedSyncInterval(t *testing.T) {
	cfg := Default()
	cfg.Sync.BaseIntervalSecs = 100
	cfg.Sync.MaxIntervalSecs = 10
	if err := Validate(cfg); err == nil {
		t.Error("expected error when max_interval_secs < base_interval_secs")
	}
}

func TestLoadFile_MissingFileReturnsEmpty(t *testing.T) {
	values, err := LoadFile(filepath.Join(t.TempDir(), "nope.conf"))
	if err != nil {
		t.Fatalf("missing file should not error, got: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("expected no values, got %d", len(values))
	}
}

func TestWriteDefaultConfig_RoundTripsThroughApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lbnode.conf")
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("write default config: %v", err)
	}

	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}

	cfg := Default()
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("apply file config: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("config built from default file should validate, got: %v", err)
	}
	if cfg.P2P.Port != 7733 {
		t.Errorf("expected p2p.port 7733 from default file, got %d", cfg.P2P.Port)
	}
}

func TestEnsureDataDirs_CreatesSubdirectories(t *testing.T) {
	cfg := Default()
	cfg.DataDir = t.TempDir()

	if err := EnsureDataDirs(cfg); err != nil {
		t.Fatalf("ensure data dirs: %v", err)
	}
	for _, dir := range []string{cfg.KeystoreDir(), cfg.GroupsDir(), cfg.CASDir(), cfg.WALDir(), cfg.LogsDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("expected %s to exist: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("expected %s to be a directory", dir)
		}
	}
	if _, err := os.Stat(cfg.ConfigFile()); err != nil {
		t.Errorf("expected config file to be auto-written: %v", err)
	}
}

func TestDefaultDataDir_HonorsEnvOverride(t *testing.T) {
	t.Setenv("LB_DATA_DIR", "/tmp/lbm-custom-datadir")
	if got := DefaultDataDir(); got != "/tmp/lbm-custom-datadir" {
		t.Errorf("expected env override to win, got %q", got)
	}
}
