package chain

import (
	"fmt"
	"sync"

	"github.com/Klingon-tech/lbm/internal/lberr"
)

// Chain is a single group's append-only, replayable block log.
// All mutation goes through a single exclusive lock, held per group.
type Chain struct {
	mu      sync.Mutex
	groupID string
	blocks  []Block
	state   State
}

// Snapshot is the serializable form of a Chain, persisted by the group
// package through a single WAL transaction.
type Snapshot struct {
	GroupID string  `json:"group_id"`
	Blocks  []Block `json:"blocks"`
}

// InitFromGenesis builds a new Chain from a validated genesis block.
func InitFromGenesis(genesis Block) (*Chain, error) {
	if genesis.Height != 0 {
		return nil, lberr.Validation("genesis block must have height 0", nil)
	}
	if len(genesis.Txs) != 1 || genesis.Txs[0].Kind != KindGenesis {
		return nil, lberr.Validation("genesis block must contain exactly one genesis tx", nil)
	}
	if !genesis.VerifySignature() {
		return nil, lberr.StateMachine("genesis block signature does not verify", nil)
	}
	// group_id is the hash of the genesis block as MakeGenesis derived it:
	// with group_id and sig both still unset, since both are fields of the
	// block being hashed.
	unhashed := genesis
	unhashed.GroupID = ""
	unhashed.Sig = ""
	groupID, err := unhashed.BlockID()
	if err != nil {
		return nil, err
	}
	if genesis.GroupID != "" && genesis.GroupID != groupID {
		return nil, lberr.Validation("genesis block group_id does not match its own hash", nil)
	}

	shadow, err := validateAndApply(groupID, nil, newEmptyState(), true, genesis, clockNowMs())
	if err != nil {
		return nil, fmt.Errorf("apply genesis: %w", err)
	}

	return &Chain{
		groupID: groupID,
		blocks:  []Block{genesis},
		state:   shadow,
	}, nil
}

// FromSnapshot rebuilds a Chain by replaying every block from height 0,
// re-deriving state rather than trusting any persisted state blob.
func FromSnapshot(snap Snapshot) (*Chain, error) {
	if len(snap.Blocks) == 0 {
		return nil, lberr.Validation("snapshot has no blocks", nil)
	}
	c, err := InitFromGenesis(snap.Blocks[0])
	if err != nil {
		return nil, fmt.Errorf("replay genesis: %w", err)
	}
	if c.groupID != snap.GroupID {
		return nil, lberr.Validation("snapshot group_id does not match genesis-derived group_id", nil)
	}
	for _, b := range snap.Blocks[1:] {
		if err := c.Append(b); err != nil {
			return nil, fmt.Errorf("replay block %d: %w", b.Height, err)
		}
	}
	return c, nil
}

// Append validates b against the current head and, on success, commits it
// and its resulting state atomically.
func (c *Chain) Append(b Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	head := c.blocks[len(c.blocks)-1]
	shadow, err := validateAndApply(c.groupID, &head, c.state, false, b, clockNowMs())
	if err != nil {
		return err
	}
	c.blocks = append(c.blocks, b)
	c.state = shadow
	return nil
}

// GroupID returns the chain's group id.
func (c *Chain) GroupID() string {
	return c.groupID
}

// Height returns the height of the head block.
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[len(c.blocks)-1].Height
}

// Head returns a copy of the current head block.
func (c *Chain) Head() Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[len(c.blocks)-1]
}

// BlockAt returns the block at height, if present.
func (c *Chain) BlockAt(height uint64) (Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if height >= uint64(len(c.blocks)) {
		return Block{}, false
	}
	return c.blocks[height], true
}

// Blocks returns a copy of the full block slice, oldest first.
func (c *Chain) Blocks() []Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Block, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// Snapshot returns a serializable copy of the chain.
func (c *Chain) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	blocks := make([]Block, len(c.blocks))
	copy(blocks, c.blocks)
	return Snapshot{GroupID: c.groupID, Blocks: blocks}
}

// State returns a deep copy of the current derived state, safe for callers
// to read without taking the chain's lock.
func (c *Chain) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// IsMember reports whether pub is a member of the group at the current
// head.
func (c *Chain) IsMember(pub string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Members[pub]
}

// IsAdmin reports whether pub is an admin of the group at the current
// head.
func (c *Chain) IsAdmin(pub string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Admins[pub]
}

// BalanceOf returns pub's balance at the current head.
func (c *Chain) BalanceOf(pub string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.balanceOf(pub)
}

// Policy returns the current policy.
func (c *Chain) Policy() Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Policy
}

// Offer returns the offer with id, if present.
func (c *Chain) Offer(id string) (Offer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.state.Offers[id]
	return o, ok
}

// Offers returns a copy of all offers.
func (c *Chain) Offers() map[string]Offer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Offer, len(c.state.Offers))
	for k, v := range c.state.Offers {
		out[k] = v
	}
	return out
}

// HasGrant reports whether buyer holds a purchase grant for offerID.
func (c *Chain) HasGrant(offerID, buyer string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Grants[grantKey(offerID, buyer)]
}
