package group

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/lbm/internal/cas"
	"github.com/Klingon-tech/lbm/internal/chain"
	"github.com/Klingon-tech/lbm/internal/wal"
	"github.com/Klingon-tech/lbm/pkg/crypto"
)

func nopLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestCreateThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	founder, err := crypto.GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	genesis, err := chain.MakeGenesis("test-group", "CRED", founder, 1_000_000)
	if err != nil {
		t.Fatalf("make genesis: %v", err)
	}

	root := filepath.Join(dir, "groups", genesis.GroupID)
	g, err := Create(root, genesis)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	store, err := cas.Open(filepath.Join(dir, "cas"))
	if err != nil {
		t.Fatalf("open cas: %v", err)
	}

	loaded, err := Load(root, store)
	if err != nil {
		t.Fatalf("load group: %v", err)
	}
	if loaded.GroupID != g.GroupID {
		t.Fatalf("group id mismatch after load: %s != %s", loaded.GroupID, g.GroupID)
	}
}

func TestSaveThroughWALTransactionCommits(t *testing.T) {
	dir := t.TempDir()
	founder, err := crypto.GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	genesis, err := chain.MakeGenesis("test-group", "CRED", founder, 1_000_000)
	if err != nil {
		t.Fatalf("make genesis: %v", err)
	}
	root := filepath.Join(dir, "groups", genesis.GroupID)
	g, err := Create(root, genesis)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	w, err := wal.Open(filepath.Join(dir, "wal"), nopLogger())
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	tx := w.Begin()
	if err := g.Save(tx); err != nil {
		t.Fatalf("stage save: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	store, err := cas.Open(filepath.Join(dir, "cas"))
	if err != nil {
		t.Fatalf("open cas: %v", err)
	}
	if _, err := Load(root, store); err != nil {
		t.Fatalf("load after wal save: %v", err)
	}
}
