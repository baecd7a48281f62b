// Package chain implements the per-group signed chain and its deterministic
// account-based state machine.
package chain

// Kind is the tagged variant discriminator for a transaction. The
// validator and applier dispatch on Kind via an exhaustive switch rather
// than subclass polymorphism ("Dynamic dispatch by transaction kind").
type Kind string

const (
	KindGenesis       Kind = "genesis"
	KindMemberAdd     Kind = "member_add"
	KindMemberRemove  Kind = "member_remove"
	KindMint          Kind = "mint"
	KindTransfer      Kind = "transfer"
	KindPolicyUpdate  Kind = "policy_update"
	KindClaim         Kind = "claim"
	KindRetract       Kind = "retract"
	KindOfferCreate   Kind = "offer_create"
	KindOfferClose    Kind = "offer_close"
	KindOfferPurchase Kind = "offer_purchase"
)

// MaxTokenValue bounds any single mint/faucet/reward/policy amount. Not
// numerically pinned by the source spec; chosen generously above any
// plausible in-group credit balance while still catching overflow-style
// malformed input (documented as an implementation decision in DESIGN.md).
const MaxTokenValue = 1_000_000_000_000

// MaxTxsPerBlock bounds the number of transactions in a single block.
const MaxTxsPerBlock = 100

// MaxBlockBytes bounds the canonical-encoded size of a block.
const MaxBlockBytes = 2 * 1024 * 1024

// MaxTransferFeeBps is the inclusive upper bound on transfer_fee_bps.
const MaxTransferFeeBps = 5000

// Treasury is the sentinel balance key that accumulates transfer fees.
const Treasury = "TREASURY"

// Tx is a single transaction. Only the fields relevant to Kind are
// populated; the rest are zero/omitted so canonical encoding stays
// minimal and deterministic ("Determinism").
type Tx struct {
	Kind Kind `json:"kind"`

	// genesis
	Name       string `json:"name,omitempty"`
	Currency   string `json:"currency,omitempty"`
	CreatorPub string `json:"creator_pub,omitempty"`

	// member_add / member_remove
	Pub  string `json:"pub,omitempty"`
	Role string `json:"role,omitempty"`

	// mint
	To     string `json:"to,omitempty"`
	Amount int64  `json:"amount,omitempty"`

	// transfer
	From string `json:"from,omitempty"`

	// policy_update
	Updates map[string]any `json:"updates,omitempty"`

	// claim / retract
	ArtifactHash string `json:"artifact_hash,omitempty"`

	// offer_create / offer_close / offer_purchase
	OfferID     string   `json:"offer_id,omitempty"`
	Title       string   `json:"title,omitempty"`
	Price       int64    `json:"price,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	PackageHash string   `json:"package_hash,omitempty"`
	Buyer       string   `json:"buyer,omitempty"`
}

// grantKey builds the "offer_id:buyer_pub" grant record key.
func grantKey(offerID, buyer string) string {
	return offerID + ":" + buyer
}
