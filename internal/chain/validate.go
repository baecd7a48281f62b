package chain

import (
	"fmt"
	"time"

	"github.com/Klingon-tech/lbm/internal/lberr"
	"github.com/Klingon-tech/lbm/pkg/crypto"
)

// maxClockDriftMs is the ±5 minute bound on block timestamps.
const maxClockDriftMs = 5 * 60 * 1000

// validateAndApply checks block against the fixed validation order and,
// on success, returns the resulting shadow state. It never mutates cur.
func validateAndApply(groupID string, head *Block, cur State, height0 bool, b Block, nowMs int64) (State, error) {
	// (1) shape
	if !height0 {
		if b.GroupID != groupID {
			return State{}, lberr.Validationf("block group_id %q does not match chain %q", b.GroupID, groupID)
		}
		if b.Height != head.Height+1 {
			return State{}, lberr.Validationf("block height %d does not extend head height %d", b.Height, head.Height)
		}
		headID, err := head.BlockID()
		if err != nil {
			return State{}, err
		}
		if b.Prev != headID {
			return State{}, lberr.Validationf("block prev %q does not match head id %q", b.Prev, headID)
		}
	}

	// (2) block-size bound
	if len(b.Txs) > MaxTxsPerBlock {
		return State{}, lberr.Validationf("block has %d txs, exceeds max %d", len(b.Txs), MaxTxsPerBlock)
	}
	encoded, err := crypto.Canonical(b)
	if err != nil {
		return State{}, lberr.Validation("canonicalize candidate block", err)
	}
	if len(encoded) > MaxBlockBytes {
		return State{}, lberr.Validationf("block encoded size %d exceeds max %d", len(encoded), MaxBlockBytes)
	}

	// (3) signature
	if !b.VerifySignature() {
		return State{}, lberr.StateMachine("block signature does not verify", nil)
	}

	// (4) author is a member (skipped for the genesis block, which
	// installs its own author as the founding member).
	if !height0 && !cur.Members[b.Author] {
		return State{}, lberr.Authorizationf("block author %s is not a member", crypto.NodeID(b.Author))
	}

	// (5) timestamp bounds
	if !height0 && b.TsMs < head.TsMs {
		return State{}, lberr.Validationf("block ts_ms %d is before head ts_ms %d", b.TsMs, head.TsMs)
	}
	if b.TsMs > nowMs+maxClockDriftMs {
		return State{}, lberr.Validationf("block ts_ms %d is too far in the future", b.TsMs)
	}

	// (6) apply each tx against a shadow state
	shadow := cur.clone()
	for i, tx := range b.Txs {
		if err := applyTx(&shadow, b, tx); err != nil {
			return State{}, fmt.Errorf("tx %d (%s): %w", i, tx.Kind, err)
		}
	}

	// Balance conservation and caps, checked once per block as a final
	// guard in addition to the per-tx checks above.
	var sum int64
	for _, bal := range shadow.Balances {
		if bal < 0 {
			return State{}, lberr.StateMachine("negative balance after block application", nil)
		}
		sum += bal
	}
	if sum != shadow.TotalSupply {
		return State{}, lberr.StateMachine("balances do not sum to total_supply after block application", nil)
	}

	return shadow, nil
}

// applyTx dispatches on tx.Kind ("Dynamic dispatch by transaction kind")
// and mutates shadow in place.
func applyTx(shadow *State, b Block, tx Tx) error {
	switch tx.Kind {
	case KindGenesis:
		return applyGenesis(shadow, b, tx)
	case KindMemberAdd:
		return applyMemberAdd(shadow, b, tx)
	case KindMemberRemove:
		return applyMemberRemove(shadow, b, tx)
	case KindMint:
		return applyMint(shadow, b, tx)
	case KindTransfer:
		return applyTransfer(shadow, b, tx)
	case KindPolicyUpdate:
		return applyPolicyUpdate(shadow, b, tx)
	case KindClaim:
		return applyClaim(shadow, b, tx)
	case KindRetract:
		return applyRetract(shadow, b, tx)
	case KindOfferCreate:
		return applyOfferCreate(shadow, b, tx)
	case KindOfferClose:
		return applyOfferClose(shadow, b, tx)
	case KindOfferPurchase:
		return applyOfferPurchase(shadow, b, tx)
	default:
		return lberr.Validationf("unknown transaction kind %q", tx.Kind)
	}
}

func requireAdmin(shadow *State, author string) error {
	if !shadow.Admins[author] {
		return lberr.Authorizationf("author %s is not an admin", crypto.NodeID(author))
	}
	return nil
}

func requireMember(shadow *State, pub string) error {
	if !shadow.Members[pub] {
		return lberr.Authorizationf("%s is not a member", crypto.NodeID(pub))
	}
	return nil
}

func applyGenesis(shadow *State, b Block, tx Tx) error {
	if tx.CreatorPub == "" || tx.CreatorPub != b.Author {
		return lberr.Validation("genesis creator_pub must equal block author", nil)
	}
	*shadow = newEmptyState()
	shadow.Policy = Policy{
		Name:              tx.Name,
		Currency:          tx.Currency,
		FaucetAmount:      0,
		ClaimRewardAmount: 0,
		TransferFeeBps:    0,
	}
	shadow.Members[tx.CreatorPub] = true
	shadow.Admins[tx.CreatorPub] = true
	return nil
}

func applyMemberAdd(shadow *State, b Block, tx Tx) error {
	if err := requireAdmin(shadow, b.Author); err != nil {
		return err
	}
	if tx.Pub == "" {
		return lberr.Validation("member_add requires pub", nil)
	}
	alreadyMember := shadow.Members[tx.Pub]
	shadow.Members[tx.Pub] = true
	if tx.Role == "admin" {
		shadow.Admins[tx.Pub] = true
	}
	if !alreadyMember && shadow.Policy.FaucetAmount > 0 {
		if !shadow.credit(tx.Pub, shadow.Policy.FaucetAmount) {
			return lberr.StateMachine("faucet payment would breach a supply or balance cap", nil)
		}
	}
	return nil
}

func applyMemberRemove(shadow *State, b Block, tx Tx) error {
	if err := requireAdmin(shadow, b.Author); err != nil {
		return err
	}
	if tx.Pub == "" {
		return lberr.Validation("member_remove requires pub", nil)
	}
	delete(shadow.Members, tx.Pub)
	delete(shadow.Admins, tx.Pub)
	return nil
}

func applyMint(shadow *State, b Block, tx Tx) error {
	if err := requireAdmin(shadow, b.Author); err != nil {
		return err
	}
	if tx.Amount <= 0 || tx.Amount > MaxTokenValue {
		return lberr.Validationf("mint amount %d out of range (0, %d]", tx.Amount, MaxTokenValue)
	}
	if tx.To == "" {
		return lberr.Validation("mint requires to", nil)
	}
	if !shadow.credit(tx.To, tx.Amount) {
		return lberr.StateMachine("mint would breach a supply or balance cap", nil)
	}
	return nil
}

func applyTransfer(shadow *State, b Block, tx Tx) error {
	if tx.From != b.Author {
		return lberr.Authorization("transfer from must equal block author", nil)
	}
	if tx.From == tx.To {
		return lberr.Validation("transfer from and to must differ", nil)
	}
	if tx.Amount <= 0 {
		return lberr.Validation("transfer amount must be positive", nil)
	}
	fee := (tx.Amount * shadow.Policy.TransferFeeBps) / 10000
	total := tx.Amount + fee
	if shadow.balanceOf(tx.From) < total {
		return lberr.StateMachinef("sender balance %d insufficient for transfer+fee %d", shadow.balanceOf(tx.From), total)
	}
	shadow.debit(tx.From, total)
	if !shadow.moveCredit(tx.To, tx.Amount) {
		return lberr.StateMachine("transfer recipient would breach account balance cap", nil)
	}
	if fee > 0 {
		// TREASURY is a sentinel accumulator, exempt from the per-account cap.
		shadow.Balances[Treasury] += fee
	}
	return nil
}

func applyPolicyUpdate(shadow *State, b Block, tx Tx) error {
	if err := requireAdmin(shadow, b.Author); err != nil {
		return err
	}
	if len(tx.Updates) == 0 {
		return lberr.Validation("policy_update requires at least one key", nil)
	}
	next := shadow.Policy
	for k, v := range tx.Updates {
		switch k {
		case "faucet_amount":
			n, err := toInt64(v)
			if err != nil || n < 0 || n > MaxTokenValue {
				return lberr.Validationf("invalid faucet_amount %v", v)
			}
			next.FaucetAmount = n
		case "claim_reward_amount":
			n, err := toInt64(v)
			if err != nil || n < 0 || n > MaxTokenValue {
				return lberr.Validationf("invalid claim_reward_amount %v", v)
			}
			next.ClaimRewardAmount = n
		case "transfer_fee_bps":
			n, err := toInt64(v)
			if err != nil || n < 0 || n > MaxTransferFeeBps {
				return lberr.Validationf("invalid transfer_fee_bps %v", v)
			}
			next.TransferFeeBps = n
		case "max_total_supply":
			n, err := toInt64(v)
			if err != nil || n < shadow.TotalSupply {
				return lberr.Validationf("max_total_supply %v must be >= current total supply %d", v, shadow.TotalSupply)
			}
			next.MaxTotalSupply = &n
		case "max_account_balance":
			n, err := toInt64(v)
			if err != nil || n < 0 {
				return lberr.Validationf("invalid max_account_balance %v", v)
			}
			next.MaxAccountBalance = &n
		default:
			return lberr.Validationf("unknown policy key %q", k)
		}
	}
	shadow.Policy = next
	return nil
}

func applyClaim(shadow *State, b Block, tx Tx) error {
	if err := requireMember(shadow, b.Author); err != nil {
		return err
	}
	if tx.ArtifactHash == "" {
		return lberr.Validation("claim requires artifact_hash", nil)
	}
	if shadow.Policy.ClaimRewardAmount > 0 {
		if !shadow.credit(b.Author, shadow.Policy.ClaimRewardAmount) {
			return lberr.StateMachine("claim reward would breach a supply or balance cap", nil)
		}
	}
	return nil
}

func applyRetract(shadow *State, b Block, tx Tx) error {
	if err := requireMember(shadow, b.Author); err != nil {
		return err
	}
	if tx.ArtifactHash == "" {
		return lberr.Validation("retract requires artifact_hash", nil)
	}
	return nil
}

func applyOfferCreate(shadow *State, b Block, tx Tx) error {
	if err := requireMember(shadow, b.Author); err != nil {
		return err
	}
	if tx.OfferID == "" || tx.PackageHash == "" {
		return lberr.Validation("offer_create requires offer_id and package_hash", nil)
	}
	if _, exists := shadow.Offers[tx.OfferID]; exists {
		return lberr.Validationf("offer_id %q already exists", tx.OfferID)
	}
	if tx.Price < 0 {
		return lberr.Validation("offer price must be non-negative", nil)
	}
	shadow.Offers[tx.OfferID] = Offer{
		OfferID:     tx.OfferID,
		Seller:      b.Author,
		Title:       tx.Title,
		Price:       tx.Price,
		Currency:    shadow.Policy.Currency,
		PackageHash: tx.PackageHash,
		Tags:        tx.Tags,
		Active:      true,
	}
	return nil
}

func applyOfferClose(shadow *State, b Block, tx Tx) error {
	offer, ok := shadow.Offers[tx.OfferID]
	if !ok {
		return lberr.Validationf("offer_id %q does not exist", tx.OfferID)
	}
	if b.Author != offer.Seller && !shadow.Admins[b.Author] {
		return lberr.Authorization("only the seller or an admin may close an offer", nil)
	}
	offer.Active = false
	shadow.Offers[tx.OfferID] = offer
	return nil
}

func applyOfferPurchase(shadow *State, b Block, tx Tx) error {
	if err := requireMember(shadow, tx.Buyer); err != nil {
		return err
	}
	offer, ok := shadow.Offers[tx.OfferID]
	if !ok {
		return lberr.Validationf("offer_id %q does not exist", tx.OfferID)
	}
	if !offer.Active {
		return lberr.StateMachinef("offer %q is not active", tx.OfferID)
	}
	fee := (offer.Price * shadow.Policy.TransferFeeBps) / 10000
	total := offer.Price + fee
	if shadow.balanceOf(tx.Buyer) < total {
		return lberr.StateMachinef("buyer balance %d insufficient for price+fee %d", shadow.balanceOf(tx.Buyer), total)
	}
	shadow.debit(tx.Buyer, total)
	if !shadow.moveCredit(offer.Seller, offer.Price) {
		return lberr.StateMachine("purchase would breach seller account balance cap", nil)
	}
	if fee > 0 {
		shadow.Balances[Treasury] += fee
	}
	shadow.Grants[grantKey(tx.OfferID, tx.Buyer)] = true
	return nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("value %v is not a number", v)
	}
}

// clockNowMs is overridable in tests that need deterministic timestamps.
var clockNowMs = func() int64 { return time.Now().UnixMilli() }
