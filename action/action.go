// Package action implements spec.md §3 "Action (header)": signed,
// hash-linked records with strict linking, sequencing, and signing
// invariants (spec.md §3 invariants 1-6).
package action

import (
	"encoding/binary"
	"time"

	"github.com/dhtmesh/cellcore/hash"
)

// Kind enumerates the action payload shapes spec.md §3 names.
type Kind uint8

const (
	KindDna Kind = iota
	KindAgentValidationPkg
	KindCreate
	KindUpdate
	KindDelete
	KindCreateLink
	KindDeleteLink
	KindOpenChain
	KindCloseChain
	KindInitZomesComplete
)

func (k Kind) String() string {
	names := [...]string{
		"Dna", "AgentValidationPkg", "Create", "Update", "Delete",
		"CreateLink", "DeleteLink", "OpenChain", "CloseChain", "InitZomesComplete",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

// Action is the common contract every action kind satisfies. It never
// includes the signature — that is carried alongside in a Signed value —
// so CanonicalBytes is exactly what gets signed (spec.md §3 invariant 4).
type Action interface {
	Kind() Kind
	Author() hash.AgentPubKey
	Seq() uint32
	Timestamp() time.Time
	// Prev returns the previous action's hash and true, or the zero Hash
	// and false for the genesis Dna action (spec.md §3 invariant 1).
	Prev() (hash.Hash, bool)
	CanonicalBytes() []byte
}

// Common carries the fields every action after genesis shares: author,
// monotonic sequence number, timestamp, and link to its predecessor
// (spec.md §3 "Every action carries...").
type Common struct {
	AuthorKey hash.AgentPubKey
	SeqNum    uint32
	Ts        time.Time
	PrevHash  hash.Hash
	HasPrev   bool
}

func (c Common) Author() hash.AgentPubKey { return c.AuthorKey }
func (c Common) Seq() uint32              { return c.SeqNum }
func (c Common) Timestamp() time.Time     { return c.Ts }
func (c Common) Prev() (hash.Hash, bool)  { return c.PrevHash, c.HasPrev }

func appendCommon(b []byte, kind Kind, c Common) []byte {
	b = append(b, byte(kind))
	b = append(b, c.AuthorKey.Key...)
	var seqBuf [4]byte
	binary.BigEndian.PutUint32(seqBuf[:], c.SeqNum)
	b = append(b, seqBuf[:]...)
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(c.Ts.UnixNano()))
	b = append(b, tsBuf[:]...)
	if c.HasPrev {
		b = append(b, 1)
		b = append(b, c.PrevHash.Bytes()...)
	} else {
		b = append(b, 0)
	}
	return b
}

// Dna is the first action in every chain: sequence 0, no prev (spec.md §3
// invariant 1).
type Dna struct {
	Common
	DnaHash hash.Hash
}

func (a Dna) Kind() Kind { return KindDna }
func (a Dna) CanonicalBytes() []byte {
	b := appendCommon(nil, KindDna, a.Common)
	return append(b, a.DnaHash.Bytes()...)
}

// AgentValidationPkg is the second action; an optional membrane-proof
// authorizes this agent to join the DNA's network (spec.md §3 invariant 2).
type AgentValidationPkg struct {
	Common
	MembraneProof []byte
}

func (a AgentValidationPkg) Kind() Kind { return KindAgentValidationPkg }
func (a AgentValidationPkg) CanonicalBytes() []byte {
	b := appendCommon(nil, KindAgentValidationPkg, a.Common)
	return append(b, a.MembraneProof...)
}

// Create records a new entry's first appearance on the chain.
type Create struct {
	Common
	EntryType string
	EntryHash hash.Hash
}

func (a Create) Kind() Kind { return KindCreate }
func (a Create) CanonicalBytes() []byte {
	b := appendCommon(nil, KindCreate, a.Common)
	b = append(b, []byte(a.EntryType)...)
	return append(b, a.EntryHash.Bytes()...)
}

// Update replaces the content at an existing entry, recording both the
// original action it supersedes and the new entry's hash.
type Update struct {
	Common
	EntryType      string
	EntryHash      hash.Hash
	OriginalAction hash.Hash
	OriginalEntry  hash.Hash
}

func (a Update) Kind() Kind { return KindUpdate }
func (a Update) CanonicalBytes() []byte {
	b := appendCommon(nil, KindUpdate, a.Common)
	b = append(b, []byte(a.EntryType)...)
	b = append(b, a.EntryHash.Bytes()...)
	b = append(b, a.OriginalAction.Bytes()...)
	return append(b, a.OriginalEntry.Bytes()...)
}

// Delete tombstones an existing entry, naming both the action and the
// entry it removes (the DeletionEntry payload shape recovered from
// original_source/crates/types/src/entry/deletion_entry.rs — spec.md's
// prose names the fields without naming a payload type).
type Delete struct {
	Common
	DeletedAction hash.Hash
	DeletedEntry  hash.Hash
}

func (a Delete) Kind() Kind { return KindDelete }
func (a Delete) CanonicalBytes() []byte {
	b := appendCommon(nil, KindDelete, a.Common)
	b = append(b, a.DeletedAction.Bytes()...)
	return append(b, a.DeletedEntry.Bytes()...)
}

// CreateLink adds a typed, directed tag between a base and target entry
// hash, scoped by the zome that defines the link type.
type CreateLink struct {
	Common
	ZomeIndex  uint8
	LinkType   uint8
	BaseHash   hash.Hash
	TargetHash hash.Hash
	Tag        []byte
}

func (a CreateLink) Kind() Kind { return KindCreateLink }
func (a CreateLink) CanonicalBytes() []byte {
	b := appendCommon(nil, KindCreateLink, a.Common)
	b = append(b, a.ZomeIndex, a.LinkType)
	b = append(b, a.BaseHash.Bytes()...)
	b = append(b, a.TargetHash.Bytes()...)
	return append(b, a.Tag...)
}

// DeleteLink removes a previously-created link by referencing its
// CreateLink action hash.
type DeleteLink struct {
	Common
	BaseHash       hash.Hash
	CreateLinkHash hash.Hash
}

func (a DeleteLink) Kind() Kind { return KindDeleteLink }
func (a DeleteLink) CanonicalBytes() []byte {
	b := appendCommon(nil, KindDeleteLink, a.Common)
	b = append(b, a.BaseHash.Bytes()...)
	return append(b, a.CreateLinkHash.Bytes()...)
}

// OpenChain marks a chain as continuing from a prior DNA (cross-DNA
// migration, spec.md §3).
type OpenChain struct {
	Common
	PrevDnaHash hash.Hash
}

func (a OpenChain) Kind() Kind { return KindOpenChain }
func (a OpenChain) CanonicalBytes() []byte {
	b := appendCommon(nil, KindOpenChain, a.Common)
	return append(b, a.PrevDnaHash.Bytes()...)
}

// CloseChain marks a chain as migrating to a new DNA.
type CloseChain struct {
	Common
	NewDnaHash hash.Hash
}

func (a CloseChain) Kind() Kind { return KindCloseChain }
func (a CloseChain) CanonicalBytes() []byte {
	b := appendCommon(nil, KindCloseChain, a.Common)
	return append(b, a.NewDnaHash.Bytes()...)
}

// InitZomesComplete marks the end of per-application init (spec.md §3).
type InitZomesComplete struct {
	Common
}

func (a InitZomesComplete) Kind() Kind { return KindInitZomesComplete }
func (a InitZomesComplete) CanonicalBytes() []byte {
	return appendCommon(nil, KindInitZomesComplete, a.Common)
}

// Signed pairs an Action with the author's signature over its canonical
// bytes (spec.md §3 invariant 4).
type Signed struct {
	Action    Action
	Signature []byte
}

// Hash returns the TypeAction hash addressing this signed action.
func (s Signed) Hash() hash.Hash {
	return hash.Of(hash.TypeAction, s.Action.CanonicalBytes())
}

// VerifySignature checks the signature against the action's declared
// author (spec.md §3 invariant 4, §8.2).
func (s Signed) VerifySignature() bool {
	return hash.Verify(s.Action.Author(), s.Action.CanonicalBytes(), s.Signature)
}

// MultiAuthorRef marks the countersigning extension point named in spec.md
// §9's Open Questions: a session of actions co-signed by multiple agents.
// It is not wired into any validation or gossip path — see
// workflow/countersign for the extension-point note.
type MultiAuthorRef struct {
	SessionID  [16]byte
	CoAuthored []hash.AgentPubKey
}
