package graph

import (
	"github.com/Klingon-tech/lbm/internal/cas"
	"github.com/Klingon-tech/lbm/internal/chain"
)

// artifactText is the JSON shape of a claim artifact's content ("claim artifacts are {text, tags[]} JSON").
type artifactText struct {
	Text string   `json:"text"`
	Tags []string `json:"tags"`
}

// RebuildFromChain replays every claim/retract transaction on blocks, in
// order, reconstructing the graph from scratch ("rebuilt from chain
// on load"). store is used to resolve claim artifact bodies for
// embedding; a claim whose artifact is missing from store is indexed with
// an empty-text embedding rather than failing the rebuild, since context
// graph entries are best-effort retrieval aids, not consensus state.
func RebuildFromChain(blocks []chain.Block, store *cas.Store) *Graph {
	g := New()
	for _, b := range blocks {
		for _, tx := range b.Txs {
			switch tx.Kind {
			case chain.KindClaim:
				text, tags := resolveArtifact(store, tx.ArtifactHash)
				g.AddClaim(tx.ArtifactHash, text, tags, b.TsMs)
			case chain.KindRetract:
				g.Retract(tx.ArtifactHash)
			}
		}
	}
	return g
}

func resolveArtifact(store *cas.Store, hash string) (string, []string) {
	if store == nil || hash == "" {
		return "", nil
	}
	var a artifactText
	if err := store.GetJSON(hash, &a); err != nil {
		return "", nil
	}
	return a.Text, a.Tags
}
