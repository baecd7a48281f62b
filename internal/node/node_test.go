package node

import (
	"path/filepath"
	"testing"

	"github.com/Klingon-tech/lbm/config"
	"github.com/Klingon-tech/lbm/internal/cas"
	"github.com/Klingon-tech/lbm/internal/chain"
	klog "github.com/Klingon-tech/lbm/internal/log"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.P2P.Port = 0
	cfg.Sync.Enabled = false
	if err := config.EnsureDataDirs(cfg); err != nil {
		t.Fatalf("ensure data dirs: %v", err)
	}
	return cfg
}

func TestOpenCreatesIdentityAndEmptyGroupSet(t *testing.T) {
	cfg := testConfig(t)
	n, err := Open(cfg, klog.Nop(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer n.Stop()

	if n.Identity() == nil || n.Identity().SignPubB64() == "" {
		t.Fatalf("expected a generated identity")
	}
	if len(n.GroupIDs()) != 0 {
		t.Fatalf("expected no groups on first open")
	}
}

func TestCreateGroupThenSubmitAppendsBlock(t *testing.T) {
	cfg := testConfig(t)
	n, err := Open(cfg, klog.Nop(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer n.Stop()

	g, err := n.CreateGroup("study-group", "CRED")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	memberPub := "b2J2aW91c2x5LWZha2UtMzItYnl0ZS1wdWJrZXktMDAwMDAwMDA="
	_, err = n.Submit(g.GroupID, []chain.Tx{{
		Kind: chain.KindMemberAdd,
		Pub:  memberPub,
		Role: "member",
	}})
	if err != nil {
		t.Fatalf("submit member_add: %v", err)
	}

	reloaded, ok := n.Group(g.GroupID)
	if !ok {
		t.Fatalf("expected group to remain registered")
	}
	if reloaded.Chain.Height() != 1 {
		t.Fatalf("expected height 1 after member_add, got %d", reloaded.Chain.Height())
	}
	if !reloaded.Chain.IsMember(memberPub) {
		t.Fatalf("expected new member to be recorded")
	}
}

func TestOpenReloadsPersistedGroupsAcrossRestarts(t *testing.T) {
	cfg := testConfig(t)
	n1, err := Open(cfg, klog.Nop(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	g, err := n1.CreateGroup("persisted-group", "CRED")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	n1.Stop()

	n2, err := Open(cfg, klog.Nop(), nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer n2.Stop()

	reloaded, ok := n2.Group(g.GroupID)
	if !ok {
		t.Fatalf("expected group %s to be reloaded from disk", g.GroupID)
	}
	if reloaded.Chain.Height() != 0 {
		t.Fatalf("expected reloaded chain at height 0, got %d", reloaded.Chain.Height())
	}
}

func TestPutArtifactRoundTripsThroughCAS(t *testing.T) {
	cfg := testConfig(t)
	n, err := Open(cfg, klog.Nop(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer n.Stop()

	hash, err := n.PutArtifact([]byte("hello artifact"), "claim", cas.VisibilityPublic)
	if err != nil {
		t.Fatalf("put artifact: %v", err)
	}
	if hash == "" {
		t.Fatalf("expected non-empty hash")
	}

	store, err := cas.Open(filepath.Join(cfg.CASDir()))
	if err != nil {
		t.Fatalf("reopen cas: %v", err)
	}
	if !store.Has(hash) {
		t.Fatalf("expected artifact to be present in cas")
	}
}
