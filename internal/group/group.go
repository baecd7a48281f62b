// Package group binds a group's chain and context graph to its on-disk
// representation under a node's data directory.
package group

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Klingon-tech/lbm/internal/cas"
	"github.com/Klingon-tech/lbm/internal/chain"
	"github.com/Klingon-tech/lbm/internal/graph"
	"github.com/Klingon-tech/lbm/internal/wal"
)

// Group is one locally-tracked group: its signed chain plus the
// retrieval graph derived from it.
type Group struct {
	GroupID string
	Root    string
	Chain   *chain.Chain
	Graph   *graph.Graph
}

func chainPath(root string) string { return filepath.Join(root, "chain.json") }

// Create makes a brand-new group directory from a genesis block and
// persists it directly (no existing chain.json to protect via WAL).
func Create(root string, genesis chain.Block) (*Group, error) {
	c, err := chain.InitFromGenesis(genesis)
	if err != nil {
		return nil, fmt.Errorf("init chain from genesis: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create group dir: %w", err)
	}
	g := &Group{
		GroupID: c.GroupID(),
		Root:    root,
		Chain:   c,
		Graph:   graph.New(),
	}
	if err := g.saveDirect(); err != nil {
		return nil, err
	}
	return g, nil
}

// Load reads chain.json from root and rebuilds both the chain (by replay)
// and the context graph (by scanning the replayed chain's claim/retract
// transactions), rebuilt from the chain on every load.
func Load(root string, store *cas.Store) (*Group, error) {
	data, err := os.ReadFile(chainPath(root))
	if err != nil {
		return nil, fmt.Errorf("read chain.json: %w", err)
	}
	var snap chain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode chain.json: %w", err)
	}
	c, err := chain.FromSnapshot(snap)
	if err != nil {
		return nil, fmt.Errorf("replay chain: %w", err)
	}
	g := graph.RebuildFromChain(c.Blocks(), store)
	return &Group{
		GroupID: c.GroupID(),
		Root:    root,
		Chain:   c,
		Graph:   g,
	}, nil
}

// saveDirect writes chain.json without going through a WAL transaction,
// used only at group creation when there is no prior file to protect.
func (g *Group) saveDirect() error {
	data, err := json.MarshalIndent(g.Chain.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal chain snapshot: %w", err)
	}
	return atomicWriteFile(chainPath(g.Root), data)
}

// Save stages chain.json inside tx, so the append that produced the new
// chain state and the durable write of it commit or roll back together
// ("single WAL transaction").
func (g *Group) Save(tx *wal.Tx) error {
	return tx.WriteJSON(chainPath(g.Root), g.Chain.Snapshot())
}

func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
