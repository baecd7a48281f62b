package p2p

import (
	"encoding/json"
	"time"

	"github.com/Klingon-tech/lbm/internal/cas"
	"github.com/Klingon-tech/lbm/internal/chain"
	"github.com/Klingon-tech/lbm/internal/group"
	"github.com/Klingon-tech/lbm/internal/lberr"
	"github.com/Klingon-tech/lbm/pkg/crypto"
)

// GroupLookup is the subset of node.Node's surface the P2P method
// handlers need. Defined here (rather than imported from internal/node)
// to avoid an import cycle, since internal/node wires up the P2P server.
type GroupLookup interface {
	Group(groupID string) (*group.Group, bool)
	GroupIDs() []string
}

// Handlers implements the method surface a node exposes to peers. All handlers are pure request/response: no handler blocks for
// longer than a single request's worth of local work.
type Handlers struct {
	NodeID    string
	Version   string
	StartedAt time.Time
	Groups    GroupLookup
	CAS       *cas.Store
}

// Dispatch routes req to the matching handler and always returns a
// Response (never an error directly), so the caller can seal exactly one
// reply record per request. peerPub is the requester's signing public key
// as established by the secure channel handshake, never a client-supplied
// value, and is what every group-scoped handler checks membership against.
func (h *Handlers) Dispatch(req Request, peerPub string) Response {
	result, err := h.dispatch(req, peerPub)
	if err != nil {
		return Response{ID: req.ID, Error: errInfo(err)}
	}
	raw, merr := json.Marshal(result)
	if merr != nil {
		return Response{ID: req.ID, Error: &ErrorInfo{Code: CodeInternal, Message: merr.Error()}}
	}
	return Response{ID: req.ID, Result: raw}
}

func errInfo(err error) *ErrorInfo {
	return &ErrorInfo{Code: lberr.CodeOf(err), Message: err.Error()}
}

func (h *Handlers) dispatch(req Request, peerPub string) (any, error) {
	switch req.Method {
	case MethodPing:
		return h.ping()
	case MethodHealth:
		return h.health()
	case MethodNodeInfo:
		return h.nodeInfo()
	case MethodListGroups:
		return h.listGroups()
	case MethodGetChain:
		return h.getChain(req.Params, peerPub)
	case MethodGetBlock:
		return h.getBlock(req.Params, peerPub)
	case MethodCASGet:
		return h.casGet(req.Params, peerPub)
	case MethodMarketAnnounceOffers:
		return h.marketAnnounceOffers(req.Params, peerPub)
	case MethodMarketListOffers:
		return h.marketListOffers(req.Params, peerPub)
	case MethodPurchase:
		return h.purchase(req.Params, peerPub)
	case MethodGroupInfo:
		return h.groupInfo(req.Params, peerPub)
	case MethodQueryClaims:
		return h.queryClaims(req.Params, peerPub)
	default:
		return nil, lberr.Validationf("unknown method %q", req.Method)
	}
}

func (h *Handlers) ping() (any, error) {
	return map[string]any{"pong": true}, nil
}

func (h *Handlers) health() (any, error) {
	return map[string]any{
		"ok":          true,
		"uptime_secs": time.Since(h.StartedAt).Seconds(),
		"groups":      len(h.Groups.GroupIDs()),
	}, nil
}

func (h *Handlers) nodeInfo() (any, error) {
	return map[string]any{
		"node_id": h.NodeID,
		"version": h.Version,
	}, nil
}

func (h *Handlers) listGroups() (any, error) {
	return map[string]any{"group_ids": h.Groups.GroupIDs()}, nil
}

type groupIDParams struct {
	GroupID string `json:"group_id"`
}

// resolveGroup looks up the group named in raw and requires peerPub to be
// a current member before returning it.
func (h *Handlers) resolveGroup(raw json.RawMessage, peerPub string) (*group.Group, error) {
	var p groupIDParams
	if err := json.Unmarshal(raw, &p); err != nil || p.GroupID == "" {
		return nil, lberr.Validation("group_id is required", nil)
	}
	g, ok := h.Groups.Group(p.GroupID)
	if !ok {
		return nil, lberr.ErrNotFound
	}
	if !g.Chain.IsMember(peerPub) {
		return nil, lberr.Authorization("peer is not a member of this group", nil)
	}
	return g, nil
}

func (h *Handlers) getChain(raw json.RawMessage, peerPub string) (any, error) {
	g, err := h.resolveGroup(raw, peerPub)
	if err != nil {
		return nil, err
	}
	return g.Chain.Snapshot(), nil
}

type getBlockParams struct {
	GroupID string `json:"group_id"`
	Height  uint64 `json:"height"`
}

func (h *Handlers) getBlock(raw json.RawMessage, peerPub string) (any, error) {
	var p getBlockParams
	if err := json.Unmarshal(raw, &p); err != nil || p.GroupID == "" {
		return nil, lberr.Validation("group_id is required", nil)
	}
	g, ok := h.Groups.Group(p.GroupID)
	if !ok {
		return nil, lberr.ErrNotFound
	}
	if !g.Chain.IsMember(peerPub) {
		return nil, lberr.Authorization("peer is not a member of this group", nil)
	}
	b, ok := g.Chain.BlockAt(p.Height)
	if !ok {
		return nil, lberr.ErrNotFound
	}
	return b, nil
}

type casGetParams struct {
	Hash string `json:"hash"`
}

func (h *Handlers) casGet(raw json.RawMessage, peerPub string) (any, error) {
	var p casGetParams
	if err := json.Unmarshal(raw, &p); err != nil || p.Hash == "" {
		return nil, lberr.Validation("hash is required", nil)
	}
	meta, ok := h.CAS.MetaOf(p.Hash)
	if !ok {
		return nil, lberr.ErrNotFound
	}
	if !meta.VisibleTo(h.memberGroupsOf(peerPub)) {
		return nil, lberr.Authorization("object is not visible to requester", nil)
	}
	data, err := h.CAS.Get(p.Hash)
	if err != nil {
		return nil, err
	}
	return map[string]any{"meta": meta, "data_b64": encodeB64(data)}, nil
}

func (h *Handlers) memberGroupsOf(pub string) map[string]bool {
	out := make(map[string]bool)
	if pub == "" {
		return out
	}
	for _, gid := range h.Groups.GroupIDs() {
		g, ok := h.Groups.Group(gid)
		if ok && g.Chain.IsMember(pub) {
			out[gid] = true
		}
	}
	return out
}

func (h *Handlers) marketAnnounceOffers(raw json.RawMessage, peerPub string) (any, error) {
	g, err := h.resolveGroup(raw, peerPub)
	if err != nil {
		return nil, err
	}
	return map[string]any{"offers": activeOffers(g.Chain)}, nil
}

func (h *Handlers) marketListOffers(raw json.RawMessage, peerPub string) (any, error) {
	return h.marketAnnounceOffers(raw, peerPub)
}

func activeOffers(c *chain.Chain) []chain.Offer {
	all := c.Offers()
	out := make([]chain.Offer, 0, len(all))
	for _, o := range all {
		if o.Active {
			out = append(out, o)
		}
	}
	return out
}

type purchaseParams struct {
	GroupID string `json:"group_id"`
	OfferID string `json:"offer_id"`
	Buyer   string `json:"buyer"`
}

// purchase returns the offer's encrypted package once the chain records a
// grant for (offer_id, buyer) — i.e. the buyer's offer_purchase
// transaction has already been accepted onto the group's chain. This handler never mutates chain state itself.
func (h *Handlers) purchase(raw json.RawMessage, peerPub string) (any, error) {
	var p purchaseParams
	if err := json.Unmarshal(raw, &p); err != nil || p.GroupID == "" || p.OfferID == "" || p.Buyer == "" {
		return nil, lberr.Validation("group_id, offer_id and buyer are required", nil)
	}
	g, ok := h.Groups.Group(p.GroupID)
	if !ok {
		return nil, lberr.ErrNotFound
	}
	if !g.Chain.IsMember(peerPub) {
		return nil, lberr.Authorization("peer is not a member of this group", nil)
	}
	offer, ok := g.Chain.Offer(p.OfferID)
	if !ok {
		return nil, lberr.ErrNotFound
	}
	if !g.Chain.HasGrant(p.OfferID, p.Buyer) {
		return nil, lberr.Authorization("no purchase grant recorded for this buyer", nil)
	}
	data, err := h.CAS.Get(offer.PackageHash)
	if err != nil {
		return nil, err
	}
	return map[string]any{"package_hash": offer.PackageHash, "envelope_b64": encodeB64(data)}, nil
}

func (h *Handlers) groupInfo(raw json.RawMessage, peerPub string) (any, error) {
	g, err := h.resolveGroup(raw, peerPub)
	if err != nil {
		return nil, err
	}
	head := g.Chain.Head()
	return map[string]any{
		"group_id": g.GroupID,
		"height":   head.Height,
		"policy":   g.Chain.Policy(),
		"members":  len(g.Chain.State().Members),
	}, nil
}

type queryClaimsParams struct {
	GroupID          string `json:"group_id"`
	Query            string `json:"query"`
	Limit            int    `json:"limit,omitempty"`
	IncludeRetracted bool   `json:"include_retracted,omitempty"`
}

func (h *Handlers) queryClaims(raw json.RawMessage, peerPub string) (any, error) {
	var p queryClaimsParams
	if err := json.Unmarshal(raw, &p); err != nil || p.GroupID == "" {
		return nil, lberr.Validation("group_id is required", nil)
	}
	g, ok := h.Groups.Group(p.GroupID)
	if !ok {
		return nil, lberr.ErrNotFound
	}
	if !g.Chain.IsMember(peerPub) {
		return nil, lberr.Authorization("peer is not a member of this group", nil)
	}
	results := g.Graph.Query(p.Query, p.Limit, p.IncludeRetracted)
	return map[string]any{"results": results}, nil
}

func encodeB64(data []byte) string {
	return crypto.B64(data)
}
