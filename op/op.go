// Package op implements spec.md §3 "DHT op": the typed derivations of a
// single action that get stored at a basis location on the DHT, plus the
// deterministic op hash and canonical processing order spec.md §3 and §4.2
// require.
package op

import (
	"github.com/dhtmesh/cellcore/action"
	"github.com/dhtmesh/cellcore/entry"
	"github.com/dhtmesh/cellcore/hash"
)

// Type enumerates the op kinds named in spec.md §3. The numeric values
// double as the primary sort key of Order, so their declaration order is
// the canonical processing order, not incidental.
type Type uint8

const (
	TypeStoreRecord Type = iota
	TypeStoreEntry
	TypeRegisterAgentActivity
	TypeRegisterUpdatedContent
	TypeRegisterUpdatedRecord
	TypeRegisterDeletedBy
	TypeRegisterDeletedEntryAction
	TypeRegisterAddLink
	TypeRegisterRemoveLink
)

func (t Type) String() string {
	names := [...]string{
		"StoreRecord", "StoreEntry", "RegisterAgentActivity",
		"RegisterUpdatedContent", "RegisterUpdatedRecord",
		"RegisterDeletedBy", "RegisterDeletedEntryAction",
		"RegisterAddLink", "RegisterRemoveLink",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return "Unknown"
}

// Op is a single DHT op: a typed view derived from one signed action,
// addressed by its own hash and routed by its basis location.
type Op struct {
	Hash        hash.Hash
	Kind        Type
	ActionHash  hash.Hash
	Basis       hash.Hash
	AuthoredTs  int64 // UnixNano, copied from the source action's timestamp
	Action      action.Signed
	Entry       entry.Entry // nil unless this op kind carries entry bytes
	AuxAction   hash.Hash   // original/deleted/create-link action hash, when applicable
	AuxEntry    hash.Hash   // original/deleted entry hash, when applicable
}

func computeHash(kind Type, actionHash hash.Hash, aux ...hash.Hash) hash.Hash {
	b := []byte{byte(kind)}
	b = append(b, actionHash.Bytes()...)
	for _, h := range aux {
		b = append(b, h.Bytes()...)
	}
	return hash.Of(hash.TypeOp, b)
}

func newOp(kind Type, basis hash.Hash, signed action.Signed, e entry.Entry, aux ...hash.Hash) Op {
	actionHash := signed.Hash()
	var auxAction, auxEntry hash.Hash
	if len(aux) > 0 {
		auxAction = aux[0]
	}
	if len(aux) > 1 {
		auxEntry = aux[1]
	}
	return Op{
		Hash:       computeHash(kind, actionHash, aux...),
		Kind:       kind,
		ActionHash: actionHash,
		Basis:      basis,
		AuthoredTs: signed.Action.Timestamp().UnixNano(),
		Action:     signed,
		Entry:      e,
		AuxAction:  auxAction,
		AuxEntry:   auxEntry,
	}
}

// Produce derives the full set of ops for a newly-admitted action, per the
// per-kind table in spec.md §3. e is nil for action kinds that carry no
// entry (CreateLink, DeleteLink, OpenChain, CloseChain, ...); for Create and
// Update it must be the entry the action names.
func Produce(signed action.Signed, e entry.Entry) []Op {
	actionHash := signed.Hash()
	ops := []Op{
		newOp(TypeStoreRecord, actionHash, signed, e),
		newOp(TypeRegisterAgentActivity, signed.Action.Author().Hash(), signed, nil),
	}

	switch a := signed.Action.(type) {
	case action.Create:
		ops = append(ops, newOp(TypeStoreEntry, a.EntryHash, signed, e))

	case action.Update:
		ops = append(ops, newOp(TypeStoreEntry, a.EntryHash, signed, e))
		ops = append(ops, newOp(TypeRegisterUpdatedContent, a.OriginalEntry, signed, nil, a.OriginalAction, a.OriginalEntry))
		ops = append(ops, newOp(TypeRegisterUpdatedRecord, a.OriginalAction, signed, nil, a.OriginalAction, a.OriginalEntry))

	case action.Delete:
		ops = append(ops, newOp(TypeRegisterDeletedBy, a.DeletedAction, signed, nil, a.DeletedAction, a.DeletedEntry))
		ops = append(ops, newOp(TypeRegisterDeletedEntryAction, a.DeletedEntry, signed, nil, a.DeletedAction, a.DeletedEntry))

	case action.CreateLink:
		ops = append(ops, newOp(TypeRegisterAddLink, a.BaseHash, signed, nil))

	case action.DeleteLink:
		ops = append(ops, newOp(TypeRegisterRemoveLink, a.BaseHash, signed, nil, a.CreateLinkHash))
	}

	return ops
}

// Order implements the canonical partial/total processing order of
// spec.md §3: primarily by kind (StoreRecord before RegisterAgentActivity,
// link-adds before link-removes, creates before deletes referencing them —
// all encoded by Type's declaration order), then deterministically by op
// hash so any two conformant implementations agree on a single total order.
func Order(a, b Op) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	return compareBytes(a.Hash.Digest[:], b.Hash.Digest[:])
}

func compareBytes(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// BasisLocation returns the 32-bit circular-space location this op routes
// on, used by the arc-membership checks in publish (H) and gossip (J).
func (o Op) BasisLocation() uint32 {
	return o.Basis.Location()
}
