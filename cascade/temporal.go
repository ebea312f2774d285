package cascade

import (
	"github.com/dhtmesh/cellcore/dhtdb"
	"github.com/dhtmesh/cellcore/hash"
	"github.com/dhtmesh/cellcore/op"
)

// TemporalReader composes a read as of a given integration cutover,
// grounded in the set/trace pattern of a history-as-of-tx-num reader:
// SetCutover pins the read point once, then repeated ActionsByAuthorUpTo calls reuse
// it instead of re-deriving a cutover per call. Used by app-validation's
// SubChain/Full validation-package assembly (spec.md §4.4 step 4), which
// otherwise re-reads the whole chain once per validated action.
type TemporalReader struct {
	vault   *dhtdb.DB
	cutover int64 // UnixNano; ops authored after this are excluded
}

// NewTemporalReader builds a reader pinned at cutover.
func NewTemporalReader(vault *dhtdb.DB, cutover int64) *TemporalReader {
	return &TemporalReader{vault: vault, cutover: cutover}
}

// SetCutover repins the reader at a new cutover point.
func (t *TemporalReader) SetCutover(cutover int64) {
	t.cutover = cutover
}

// ActionsByAuthorUpTo returns author's RegisterAgentActivity-derived
// actions authored at or before the pinned cutover, in authored-timestamp
// order with the op hash breaking ties — the SubChain validation package
// shape.
func (t *TemporalReader) ActionsByAuthorUpTo(author hash.AgentPubKey, entryType string) ([]op.Op, error) {
	var out []op.Op
	err := t.vault.ScanByStatus(dhtdb.StatusIntegratedValid, func(r dhtdb.Record) (bool, error) {
		if r.Op.Kind != op.TypeRegisterAgentActivity {
			return true, nil
		}
		if r.Op.AuthoredTs > t.cutover {
			return true, nil
		}
		if !r.Op.Action.Action.Author().Equal(author) {
			return true, nil
		}
		// entry-type filtering is left to the app-validation layer, which
		// knows the zome's entry defs; this reader only pins the cutover.
		_ = entryType
		out = append(out, r.Op)
		return true, nil
	})
	return out, err
}
