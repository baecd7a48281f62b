// Package node wires together the keystore, content-addressed store,
// write-ahead log, joined groups, P2P server, and sync daemon into a
// single running LBM node ("all mutable
// singletons ... are explicit constructor dependencies owned by Node").
package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/lbm/config"
	"github.com/Klingon-tech/lbm/internal/cas"
	"github.com/Klingon-tech/lbm/internal/chain"
	"github.com/Klingon-tech/lbm/internal/graph"
	"github.com/Klingon-tech/lbm/internal/group"
	"github.com/Klingon-tech/lbm/internal/groupsync"
	"github.com/Klingon-tech/lbm/internal/keystore"
	"github.com/Klingon-tech/lbm/internal/lberr"
	klog "github.com/Klingon-tech/lbm/internal/log"
	"github.com/Klingon-tech/lbm/internal/p2p"
	"github.com/Klingon-tech/lbm/internal/ratelimit"
	"github.com/Klingon-tech/lbm/internal/wal"
)

// Node is a fully-initialized LBM node: one identity, one CAS store, one
// WAL, and a registry of joined groups, each an independent signed chain
//.
type Node struct {
	cfg     *config.Config
	logger  zerolog.Logger
	started time.Time

	identity *keystore.Identity
	store    *cas.Store
	w        *wal.WAL
	limiter  *ratelimit.Limiter

	mu     sync.RWMutex
	groups map[string]*group.Group

	server *p2p.Server
	daemon *groupsync.Daemon

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open initializes a Node from cfg: unlocks (or creates) the node's
// identity, opens the CAS store and WAL, loads every previously-joined
// group from disk, and wires the P2P server and sync daemon. It does not
// start background goroutines — call Start for that.
func Open(cfg *config.Config, logSet klog.Set, password []byte) (*Node, error) {
	logger := logSet.Component("node")

	ks, err := keystore.Open(cfg.KeystoreDir(), passwordOrNil(cfg, password))
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}
	identity, err := ks.LoadOrCreate()
	if err != nil {
		return nil, fmt.Errorf("load node identity: %w", err)
	}
	logger.Info().Str("node_id", identity.NodeID()).Msg("identity loaded")

	store, err := cas.Open(cfg.CASDir(),
		cas.WithMaxObjectSize(cfg.CAS.MaxObjectBytes),
		cas.WithLogger(logSet.Component("cas")))
	if err != nil {
		return nil, fmt.Errorf("open cas store: %w", err)
	}

	w, err := wal.Open(cfg.WALDir(), logSet.Component("wal"))
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}

	groups, err := loadGroups(cfg.GroupsDir(), store)
	if err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}

	limiter := ratelimit.New(cfg.P2P.MaxConnectionsPerIP, cfg.P2P.MaxRequestsPerMinute)

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:      cfg,
		logger:   logger,
		started:  time.Now(),
		identity: identity,
		store:    store,
		w:        w,
		limiter:  limiter,
		groups:   groups,
		ctx:      ctx,
		cancel:   cancel,
	}

	handlers := &p2p.Handlers{
		NodeID:    identity.NodeID(),
		Version:   "lbm/0.1",
		StartedAt: n.started,
		Groups:    n,
		CAS:       store,
	}
	ln, err := listen(cfg.P2P.ListenAddr, cfg.P2P.Port)
	if err != nil {
		return nil, fmt.Errorf("listen on %s:%d: %w", cfg.P2P.ListenAddr, cfg.P2P.Port, err)
	}
	n.server = p2p.NewServer(ln, identity, limiter, handlers, logSet.Component("p2p"))

	if cfg.Sync.Enabled {
		n.daemon = groupsync.NewDaemon(identity, n, store, w, logSet.Component("groupsync"),
			time.Duration(cfg.Sync.BaseIntervalSecs)*time.Second,
			time.Duration(cfg.Sync.MaxIntervalSecs)*time.Second)
	}

	return n, nil
}

func passwordOrNil(cfg *config.Config, password []byte) []byte {
	if !cfg.Keystore.Encrypted {
		return nil
	}
	return password
}

func loadGroups(dir string, store *cas.Store) (map[string]*group.Group, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*group.Group), nil
		}
		return nil, err
	}
	groups := make(map[string]*group.Group, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		root := filepath.Join(dir, e.Name())
		g, err := group.Load(root, store)
		if err != nil {
			return nil, fmt.Errorf("load group at %s: %w", root, err)
		}
		groups[g.GroupID] = g
	}
	return groups, nil
}

// Start begins serving P2P connections and, if enabled, the group sync
// daemon. Both run until Stop is called.
func (n *Node) Start() error {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.server.Serve(); err != nil {
			n.logger.Error().Err(err).Msg("p2p server stopped")
		}
	}()

	if n.daemon != nil {
		subs, err := groupsync.LoadSubscriptions(n.cfg.SubscriptionsPath())
		if err != nil {
			return fmt.Errorf("load subscriptions: %w", err)
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.daemon.Run(n.ctx, subs)
		}()
	}

	n.logger.Info().
		Str("node_id", n.identity.NodeID()).
		Int("groups", len(n.GroupIDs())).
		Msg("node started")
	return nil
}

// Stop performs graceful shutdown: stop accepting new sync work, close
// the listener, and wait for background goroutines to exit.
func (n *Node) Stop() {
	n.cancel()
	if n.server != nil {
		n.server.Close()
	}
	n.wg.Wait()
	n.logger.Info().Msg("node stopped")
}

// Identity returns the node's long-lived signing/key-agreement identity.
func (n *Node) Identity() *keystore.Identity { return n.identity }

// Group returns the joined group with id, satisfying p2p.GroupLookup and
// groupsync.Groups.
func (n *Node) Group(groupID string) (*group.Group, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	g, ok := n.groups[groupID]
	return g, ok
}

// SetGroup registers or replaces the in-memory handle for a group,
// satisfying groupsync.Groups. Called by the sync daemon after it adopts,
// extends, or replaces a group's chain.
func (n *Node) SetGroup(groupID string, g *group.Group) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.groups[groupID] = g
}

// GroupIDs lists every joined group id, satisfying p2p.GroupLookup.
func (n *Node) GroupIDs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]string, 0, len(n.groups))
	for id := range n.groups {
		ids = append(ids, id)
	}
	return ids
}

// CreateGroup mints a brand-new group with this node's identity as its
// sole founding admin and registers it locally.
func (n *Node) CreateGroup(name, currency string) (*group.Group, error) {
	genesis, err := chain.MakeGenesis(name, currency, n.identity.Signing, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("build genesis: %w", err)
	}
	root := filepath.Join(n.cfg.GroupsDir(), genesis.GroupID)
	g, err := group.Create(root, genesis)
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	n.SetGroup(g.GroupID, g)
	return g, nil
}

// Submit builds, signs, and appends a new block carrying txs onto
// groupID's chain as this node's identity, then persists the updated
// group through a single WAL transaction. The node must be
// a current member of the group.
func (n *Node) Submit(groupID string, txs []chain.Tx) (chain.Block, error) {
	g, ok := n.Group(groupID)
	if !ok {
		return chain.Block{}, lberr.ErrNotFound
	}
	pub := n.identity.SignPubB64()
	if !g.Chain.IsMember(pub) {
		return chain.Block{}, lberr.Authorization("node is not a member of this group", nil)
	}

	head := g.Chain.Head()
	prevID, err := head.BlockID()
	if err != nil {
		return chain.Block{}, fmt.Errorf("hash head block: %w", err)
	}
	b := chain.Block{
		GroupID: g.Chain.GroupID(),
		Height:  head.Height + 1,
		Prev:    prevID,
		TsMs:    time.Now().UnixMilli(),
		Author:  pub,
		Txs:     txs,
	}
	if err := b.Sign(n.identity.Signing); err != nil {
		return chain.Block{}, fmt.Errorf("sign block: %w", err)
	}
	if err := g.Chain.Append(b); err != nil {
		return chain.Block{}, err
	}
	g.Graph = graph.RebuildFromChain(g.Chain.Blocks(), n.store)

	tx := n.w.Begin()
	if err := g.Save(tx); err != nil {
		tx.Rollback()
		return chain.Block{}, fmt.Errorf("stage group save: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return chain.Block{}, fmt.Errorf("commit group save: %w", err)
	}
	return b, nil
}

// PutArtifact stores raw artifact bytes (a claim's text, an offer
// package) in the CAS under the given visibility scope, returning its
// content hash for use in a claim/offer_create transaction.
func (n *Node) PutArtifact(data []byte, kind string, visibility cas.Visibility) (string, error) {
	return n.store.Put(data, cas.Meta{Visibility: visibility, Kind: kind, CreatedMs: time.Now().UnixMilli()})
}

// SignPubB64 returns the node's base64 signing public key, the canonical
// identifier used when authoring or authorizing against a group.
func (n *Node) SignPubB64() string { return n.identity.SignPubB64() }
