package cas

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Klingon-tech/lbm/internal/lberr"
	"github.com/Klingon-tech/lbm/pkg/crypto"
)

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	data := []byte("capture compiler invocation")
	hash, err := store.Put(data, Meta{Visibility: VisibilityPublic, Kind: "claim"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if hash != crypto.SHA256Hex(data) {
		t.Fatalf("put should return the sha256 of the content")
	}

	got, err := store.Get(hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("round-trip mismatch")
	}

	ok, err := store.Verify(hash)
	if err != nil || !ok {
		t.Fatalf("verify should succeed: ok=%v err=%v", ok, err)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err = store.Get("deadbeef")
	if !lberr.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestReconcileDropsStaleIndexEntry(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	hash, err := store.Put([]byte("x"), Meta{Visibility: VisibilityPublic})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	path, _ := store.objectPath(hash)
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove object: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Has(hash) {
		t.Fatal("stale index entry should have been dropped on reconciliation")
	}
}

func TestReconcileAdoptsOrphanObject(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data := []byte("orphaned bytes")
	hash := crypto.SHA256Hex(data)
	path, _ := store.objectPath(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write orphan: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !reopened.Has(hash) {
		t.Fatal("orphan object with matching content should be re-indexed")
	}
}

func TestReconcileDeletesCorruptOrphan(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	fakeHash := "0000000000000000000000000000000000000000000000000000000000ff"
	path, _ := store.objectPath(fakeHash)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("not matching content"), 0644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	if _, err := Open(dir); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("corrupt orphan file should have been deleted during reconciliation")
	}
}

func TestPutRejectsOversizeObject(t *testing.T) {
	store, err := Open(t.TempDir(), WithMaxObjectSize(8))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err = store.Put([]byte("this is definitely more than 8 bytes"), Meta{})
	if err == nil {
		t.Fatal("expected oversize object to be rejected")
	}
}
