package chain

// Policy holds the per-group tunable parameters.
type Policy struct {
	Name              string `json:"name"`
	Currency          string `json:"currency"`
	FaucetAmount      int64  `json:"faucet_amount"`
	ClaimRewardAmount int64  `json:"claim_reward_amount"`
	TransferFeeBps    int64  `json:"transfer_fee_bps"`
	MaxTotalSupply    *int64 `json:"max_total_supply,omitempty"`
	MaxAccountBalance *int64 `json:"max_account_balance,omitempty"`
}

// Offer is a market offer of an encrypted package for group credit.
type Offer struct {
	OfferID     string   `json:"offer_id"`
	Seller      string   `json:"seller"`
	Title       string   `json:"title"`
	Price       int64    `json:"price"`
	Currency    string   `json:"currency"`
	PackageHash string   `json:"package_hash"`
	Tags        []string `json:"tags,omitempty"`
	Active      bool     `json:"active"`
}

// State is the derived per-group chain state. Map fields are serialized
// in sorted-key order by the canonical encoder; State itself additionally
// gets a stable on-disk JSON shape for free from plain struct tags, since
// Go's encoding/json already sorts map keys.
type State struct {
	Policy      Policy           `json:"policy"`
	Members     map[string]bool  `json:"members"`
	Admins      map[string]bool  `json:"admins"`
	Balances    map[string]int64 `json:"balances"`
	TotalSupply int64            `json:"total_supply"`
	Offers      map[string]Offer `json:"offers"`
	Grants      map[string]bool  `json:"grants"`
}

// newEmptyState returns a State with all maps initialized, ready for
// genesis application.
func newEmptyState() State {
	return State{
		Members:  make(map[string]bool),
		Admins:   make(map[string]bool),
		Balances: make(map[string]int64),
		Offers:   make(map[string]Offer),
		Grants:   make(map[string]bool),
	}
}

// clone returns a deep copy, used to build the shadow state a candidate
// block is validated against.
func (s State) clone() State {
	out := State{
		Policy:      s.Policy,
		TotalSupply: s.TotalSupply,
		Members:     make(map[string]bool, len(s.Members)),
		Admins:      make(map[string]bool, len(s.Admins)),
		Balances:    make(map[string]int64, len(s.Balances)),
		Offers:      make(map[string]Offer, len(s.Offers)),
		Grants:      make(map[string]bool, len(s.Grants)),
	}
	for k, v := range s.Members {
		out.Members[k] = v
	}
	for k, v := range s.Admins {
		out.Admins[k] = v
	}
	for k, v := range s.Balances {
		out.Balances[k] = v
	}
	for k, v := range s.Offers {
		out.Offers[k] = v
	}
	for k, v := range s.Grants {
		out.Grants[k] = v
	}
	if s.Policy.MaxTotalSupply != nil {
		v := *s.Policy.MaxTotalSupply
		out.Policy.MaxTotalSupply = &v
	}
	if s.Policy.MaxAccountBalance != nil {
		v := *s.Policy.MaxAccountBalance
		out.Policy.MaxAccountBalance = &v
	}
	return out
}

// balanceOf returns the balance of pub, defaulting to 0.
func (s State) balanceOf(pub string) int64 {
	return s.Balances[pub]
}

// credit increases pub's balance and total supply by amount, enforcing
// the per-account and total-supply caps. Returns false without
// mutating if a cap would be breached.
func (s *State) credit(pub string, amount int64) bool {
	if amount <= 0 {
		return true
	}
	if s.Policy.MaxAccountBalance != nil && s.Balances[pub]+amount > *s.Policy.MaxAccountBalance {
		return false
	}
	if s.Policy.MaxTotalSupply != nil && s.TotalSupply+amount > *s.Policy.MaxTotalSupply {
		return false
	}
	s.Balances[pub] += amount
	s.TotalSupply += amount
	return true
}

// debit decreases pub's balance by amount without changing total supply
// (used for transfers, which move existing supply rather than mint).
func (s *State) debit(pub string, amount int64) {
	s.Balances[pub] -= amount
}

// moveCredit increases pub's balance without changing total supply
// (recipient side of a transfer), enforcing the account cap.
func (s *State) moveCredit(pub string, amount int64) bool {
	if amount <= 0 {
		return true
	}
	if s.Policy.MaxAccountBalance != nil && s.Balances[pub]+amount > *s.Policy.MaxAccountBalance {
		return false
	}
	s.Balances[pub] += amount
	return true
}
