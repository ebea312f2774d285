// Package entry implements spec.md §3 "Entry": content-addressed payloads
// referenced by actions, either Public (gossiped) or Private (never leaves
// the authoring chain).
package entry

import (
	"encoding/binary"

	"github.com/dhtmesh/cellcore/hash"
)

// Visibility controls whether an entry's bytes ever leave the authoring
// chain.
type Visibility uint8

const (
	Public Visibility = iota
	Private
)

// Kind distinguishes the entry payload shapes spec.md §3 names.
type Kind uint8

const (
	KindApp Kind = iota
	KindAgentKey
	KindCapGrant
	KindCapClaim
)

// Entry is the common envelope every entry kind satisfies.
type Entry interface {
	Kind() Kind
	Visibility() Visibility
	// CanonicalBytes is the exact byte sequence hashed to address this
	// entry; two semantically-equal entries must produce identical bytes.
	CanonicalBytes() []byte
}

// Hash returns the content hash addressing e.
func Hash(e Entry) hash.Hash {
	return hash.Of(hash.TypeEntry, e.CanonicalBytes())
}

// App is an application-defined entry payload, tagged with its app-level
// entry type name (e.g. "message", "profile") so the app-validation
// workflow can resolve the owning zome and entry definition (spec.md §4.4).
type App struct {
	EntryType string
	Data      []byte
	Vis       Visibility
}

func (a App) Kind() Kind             { return KindApp }
func (a App) Visibility() Visibility { return a.Vis }
func (a App) CanonicalBytes() []byte {
	b := make([]byte, 0, len(a.EntryType)+len(a.Data)+5)
	b = append(b, byte(KindApp))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(a.EntryType)))
	b = append(b, lenBuf[:]...)
	b = append(b, a.EntryType...)
	b = append(b, a.Data...)
	return b
}

// AgentKeyEntry carries the public key that opens a chain (the third
// genesis action, spec.md §3 invariant 2). Always public.
type AgentKeyEntry struct {
	Key hash.AgentPubKey
}

func (a AgentKeyEntry) Kind() Kind             { return KindAgentKey }
func (a AgentKeyEntry) Visibility() Visibility { return Public }
func (a AgentKeyEntry) CanonicalBytes() []byte {
	b := make([]byte, 0, len(a.Key.Key)+1)
	b = append(b, byte(KindAgentKey))
	b = append(b, a.Key.Key...)
	return b
}

// CapGrant grants a capability to call specific zome functions, optionally
// scoped to named assignees.
type CapGrant struct {
	Tag        string
	Functions  []string
	Assignees  []hash.AgentPubKey
	Vis        Visibility
}

func (c CapGrant) Kind() Kind             { return KindCapGrant }
func (c CapGrant) Visibility() Visibility { return c.Vis }
func (c CapGrant) CanonicalBytes() []byte {
	b := []byte{byte(KindCapGrant)}
	b = append(b, []byte(c.Tag)...)
	for _, f := range c.Functions {
		b = append(b, []byte(f)...)
	}
	for _, a := range c.Assignees {
		b = append(b, a.Key...)
	}
	return b
}

// CapClaim is the counterpart an agent stores after being granted a
// capability, referencing the grantor and the granted hash.
type CapClaim struct {
	Tag       string
	Grantor   hash.AgentPubKey
	GrantHash hash.Hash
	Vis       Visibility
}

func (c CapClaim) Kind() Kind             { return KindCapClaim }
func (c CapClaim) Visibility() Visibility { return c.Vis }
func (c CapClaim) CanonicalBytes() []byte {
	b := []byte{byte(KindCapClaim)}
	b = append(b, []byte(c.Tag)...)
	b = append(b, c.Grantor.Key...)
	b = append(b, c.GrantHash.Bytes()...)
	return b
}
