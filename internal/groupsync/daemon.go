package groupsync

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/lbm/internal/cas"
	"github.com/Klingon-tech/lbm/internal/group"
	"github.com/Klingon-tech/lbm/internal/p2p"
	"github.com/Klingon-tech/lbm/internal/secchan"
	"github.com/Klingon-tech/lbm/internal/wal"
)

const peerTimeout = 30 * time.Second

func decodeB64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// Subscription is one group-at-a-peer sync target.
type Subscription struct {
	GroupID string `json:"group_id"`
	Addr    string `json:"addr"`
}

// LoadSubscriptions reads the subscriptions file at path, a JSON array of
// Subscription. A missing file is treated as an empty subscription list.
func LoadSubscriptions(path string) ([]Subscription, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read subscriptions file: %w", err)
	}
	var subs []Subscription
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, fmt.Errorf("parse subscriptions file: %w", err)
	}
	return subs, nil
}

// Groups is the subset of the node's group registry the daemon mutates.
type Groups interface {
	Group(groupID string) (*group.Group, bool)
	SetGroup(groupID string, g *group.Group)
}

// Daemon periodically syncs every subscribed group against its peer,
// backing off exponentially on repeated failure.
type Daemon struct {
	identity     secchan.Identity
	groups       Groups
	store        *cas.Store
	w            *wal.WAL
	logger       zerolog.Logger
	baseInterval time.Duration
	maxInterval  time.Duration

	mu          sync.Mutex
	failures    map[string]int
	nextAttempt map[string]time.Time
}

// NewDaemon constructs a sync daemon with the given base polling interval.
func NewDaemon(identity secchan.Identity, groups Groups, store *cas.Store, w *wal.WAL, logger zerolog.Logger, baseInterval, maxInterval time.Duration) *Daemon {
	return &Daemon{
		identity:     identity,
		groups:       groups,
		store:        store,
		w:            w,
		logger:       logger,
		baseInterval: baseInterval,
		maxInterval:  maxInterval,
		failures:     make(map[string]int),
		nextAttempt:  make(map[string]time.Time),
	}
}

// Run polls subs forever until ctx is canceled, running one sync pass
// across all subscriptions per tick, spaced out according to per-group
// backoff state.
func (d *Daemon) Run(ctx context.Context, subs []Subscription) {
	ticker := time.NewTicker(d.baseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sub := range subs {
				if d.shouldSkip(sub.GroupID) {
					continue
				}
				d.syncOne(sub)
			}
		}
	}
}

func (d *Daemon) shouldSkip(groupID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Now().Before(d.nextAttempt[groupID])
}

func (d *Daemon) syncOne(sub Subscription) {
	client, err := p2p.Dial(sub.Addr, d.identity)
	if err != nil {
		d.recordFailure(sub.GroupID)
		d.logger.Warn().Err(err).Str("group_id", sub.GroupID).Str("addr", sub.Addr).Msg("sync dial failed")
		return
	}
	defer client.Close()

	local, _ := d.groups.Group(sub.GroupID)
	res, g, err := Sync(client, sub.GroupID, local, d.store, d.w, d.logger)
	if err != nil {
		d.recordFailure(sub.GroupID)
		d.logger.Warn().Err(err).Str("group_id", sub.GroupID).Msg("sync failed")
		return
	}
	d.clearFailure(sub.GroupID)

	if res.Outcome != OutcomeNoOp && g != nil {
		d.groups.SetGroup(sub.GroupID, g)
	}
}

func (d *Daemon) recordFailure(groupID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[groupID]++
	d.nextAttempt[groupID] = time.Now().Add(d.backoffDelay(d.failures[groupID]))
}

func (d *Daemon) clearFailure(groupID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.failures, groupID)
	delete(d.nextAttempt, groupID)
}

// backoffDelay returns the exponential backoff delay for the given
// failure count, capped at maxInterval.
func (d *Daemon) backoffDelay(failures int) time.Duration {
	if failures <= 0 {
		return d.baseInterval
	}
	delay := d.baseInterval * time.Duration(math.Pow(2, float64(failures)))
	if delay > d.maxInterval {
		return d.maxInterval
	}
	return delay
}
