// Package groupsync implements the per-group synchronization algorithm
//: fetching a peer's chain, deciding how the local chain should
// react to it, fetching any CAS artifacts the new blocks reference, and
// persisting the result as a single WAL transaction.
package groupsync

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/lbm/internal/cas"
	"github.com/Klingon-tech/lbm/internal/chain"
	"github.com/Klingon-tech/lbm/internal/graph"
	"github.com/Klingon-tech/lbm/internal/group"
	"github.com/Klingon-tech/lbm/internal/p2p"
	"github.com/Klingon-tech/lbm/internal/wal"
)

// Outcome classifies how a sync round changed the local chain.
type Outcome string

const (
	OutcomeAdopted    Outcome = "adopted_from_genesis"
	OutcomeNoOp       Outcome = "no_op"
	OutcomeExtended   Outcome = "suffix_extended"
	OutcomeReplaced   Outcome = "full_replace"
)

// Result reports what a sync round did.
type Result struct {
	Outcome    Outcome
	OldHeight  int64
	NewHeight  int64
}

// Sync fetches peer's view of g's chain and reconciles it with the local
// chain, per the following decision tree:
//   - local chain empty: adopt the peer's chain from genesis
//   - peer chain no longer/not ahead: no-op
//   - peer chain is a contiguous extension of local: append the suffix
//   - otherwise (divergence): fully revalidate and replace
//
// On any accepted change, missing CAS artifacts the new blocks reference
// are fetched, the context graph is rebuilt, and the whole update is
// persisted in a single WAL transaction — never partially.
func Sync(peer *p2p.Client, groupID string, local *group.Group, store *cas.Store, w *wal.WAL, logger zerolog.Logger) (Result, *group.Group, error) {
	var peerSnap chain.Snapshot
	if err := peer.Call(p2p.MethodGetChain, map[string]any{"group_id": groupID}, &peerSnap, peerTimeout); err != nil {
		return Result{}, nil, fmt.Errorf("fetch peer chain: %w", err)
	}
	if len(peerSnap.Blocks) == 0 {
		return Result{}, nil, fmt.Errorf("peer returned empty chain for group %s", groupID)
	}

	if local == nil {
		res, g, err := adoptFromGenesis(peerSnap, store, w, peer, groupID, logger)
		return res, g, err
	}

	localBlocks := local.Chain.Blocks()
	oldHeight := int64(localBlocks[len(localBlocks)-1].Height)
	peerHeight := int64(peerSnap.Blocks[len(peerSnap.Blocks)-1].Height)

	if peerHeight <= oldHeight {
		return Result{Outcome: OutcomeNoOp, OldHeight: oldHeight, NewHeight: oldHeight}, local, nil
	}

	if isContiguousExtension(localBlocks, peerSnap.Blocks) {
		res, err := extendSuffix(local, peerSnap.Blocks[len(localBlocks):], store, w, peer, groupID, logger)
		return res, local, err
	}

	res, err := fullReplace(local, peerSnap, store, w, peer, groupID, logger)
	return res, local, err
}

// isContiguousExtension reports whether peerBlocks begins with exactly
// local (byte-for-byte, by block id) and has more blocks after it.
func isContiguousExtension(local, peerBlocks []chain.Block) bool {
	if len(peerBlocks) <= len(local) {
		return false
	}
	for i, b := range local {
		bid, err := b.BlockID()
		if err != nil {
			return false
		}
		pid, err := peerBlocks[i].BlockID()
		if err != nil {
			return false
		}
		if bid != pid {
			return false
		}
	}
	return true
}

func adoptFromGenesis(snap chain.Snapshot, store *cas.Store, w *wal.WAL, peer *p2p.Client, groupID string, logger zerolog.Logger) (Result, *group.Group, error) {
	c, err := chain.FromSnapshot(snap)
	if err != nil {
		return Result{}, nil, fmt.Errorf("replay adopted chain: %w", err)
	}
	if err := fetchMissingArtifacts(peer, groupID, c.Blocks(), store); err != nil {
		return Result{}, nil, err
	}
	g := &group.Group{GroupID: c.GroupID(), Chain: c, Graph: graph.RebuildFromChain(c.Blocks(), store)}
	if err := commit(w, g); err != nil {
		return Result{}, nil, err
	}
	logger.Info().Str("group_id", g.GroupID).Msg("adopted group chain from genesis")
	return Result{Outcome: OutcomeAdopted, OldHeight: -1, NewHeight: int64(c.Head().Height)}, g, nil
}

func extendSuffix(local *group.Group, newBlocks []chain.Block, store *cas.Store, w *wal.WAL, peer *p2p.Client, groupID string, logger zerolog.Logger) (Result, error) {
	oldHeight := int64(local.Chain.Head().Height)
	c, err := chain.FromSnapshot(local.Chain.Snapshot())
	if err != nil {
		return Result{}, fmt.Errorf("copy local chain: %w", err)
	}
	for _, b := range newBlocks {
		if err := c.Append(b); err != nil {
			return Result{}, fmt.Errorf("append synced block %d: %w", b.Height, err)
		}
	}
	if err := fetchMissingArtifacts(peer, groupID, newBlocks, store); err != nil {
		return Result{}, err
	}
	extended := &group.Group{GroupID: local.GroupID, Root: local.Root, Chain: c, Graph: graph.RebuildFromChain(c.Blocks(), store)}
	if err := commit(w, extended); err != nil {
		return Result{}, err
	}
	*local = *extended
	newHeight := int64(local.Chain.Head().Height)
	logger.Info().Str("group_id", local.GroupID).Int64("old_height", oldHeight).Int64("new_height", newHeight).Msg("suffix-extended group chain")
	return Result{Outcome: OutcomeExtended, OldHeight: oldHeight, NewHeight: newHeight}, nil
}

func fullReplace(local *group.Group, snap chain.Snapshot, store *cas.Store, w *wal.WAL, peer *p2p.Client, groupID string, logger zerolog.Logger) (Result, error) {
	oldHeight := int64(local.Chain.Head().Height)
	c, err := chain.FromSnapshot(snap)
	if err != nil {
		return Result{}, fmt.Errorf("revalidate divergent chain: %w", err)
	}
	if err := fetchMissingArtifacts(peer, groupID, c.Blocks(), store); err != nil {
		return Result{}, err
	}
	replaced := &group.Group{GroupID: c.GroupID(), Root: local.Root, Chain: c, Graph: graph.RebuildFromChain(c.Blocks(), store)}
	if err := commit(w, replaced); err != nil {
		return Result{}, err
	}
	*local = *replaced
	newHeight := int64(local.Chain.Head().Height)
	logger.Warn().Str("group_id", local.GroupID).Int64("old_height", oldHeight).Int64("new_height", newHeight).Msg("replaced divergent group chain")
	return Result{Outcome: OutcomeReplaced, OldHeight: oldHeight, NewHeight: newHeight}, nil
}

func commit(w *wal.WAL, g *group.Group) error {
	tx := w.Begin()
	if err := g.Save(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("stage group save: %w", err)
	}
	return tx.Commit()
}

// fetchMissingArtifacts pulls any CAS object referenced by claim/offer
// transactions in blocks that the local store does not yet have.
func fetchMissingArtifacts(peer *p2p.Client, groupID string, blocks []chain.Block, store *cas.Store) error {
	for _, b := range blocks {
		for _, tx := range b.Txs {
			hash := artifactHashOf(tx)
			if hash == "" || store.Has(hash) {
				continue
			}
			var res struct {
				Meta    cas.Meta `json:"meta"`
				DataB64 string   `json:"data_b64"`
			}
			if err := peer.Call(p2p.MethodCASGet, map[string]any{"hash": hash}, &res, peerTimeout); err != nil {
				return fmt.Errorf("fetch cas artifact %s: %w", hash, err)
			}
			data, err := decodeB64(res.DataB64)
			if err != nil {
				return fmt.Errorf("decode cas artifact %s: %w", hash, err)
			}
			if _, err := store.Put(data, res.Meta); err != nil {
				return fmt.Errorf("store synced cas artifact %s: %w", hash, err)
			}
		}
	}
	return nil
}

func artifactHashOf(tx chain.Tx) string {
	switch tx.Kind {
	case chain.KindClaim, chain.KindRetract:
		return tx.ArtifactHash
	case chain.KindOfferCreate:
		return tx.PackageHash
	default:
		return ""
	}
}
