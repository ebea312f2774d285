// Package hash implements the typed content hashes and signatures of
// spec.md §3 "Hash" and "Agent key": every hash carries a type tag so two
// hashes compare equal only when both the tag and the digest match, and
// every hash projects to a 32-bit location on the circular hash space used
// for arc membership.
package hash

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/ed25519"
)

// Type tags the kind of content a Hash addresses.
type Type uint8

const (
	TypeAgent Type = iota
	TypeEntry
	TypeAction
	TypeDna
	TypeOp
	TypeAnyDht // either an Entry or an Action hash, used by cascade lookups
)

func (t Type) String() string {
	switch t {
	case TypeAgent:
		return "agent"
	case TypeEntry:
		return "entry"
	case TypeAction:
		return "action"
	case TypeDna:
		return "dna"
	case TypeOp:
		return "op"
	case TypeAnyDht:
		return "any_dht"
	default:
		return "unknown"
	}
}

// DigestSize is the blake2b-256 digest length in bytes.
const DigestSize = 32

// Hash is a type-tagged content digest. The zero value is not a valid hash.
type Hash struct {
	Type   Type
	Digest [DigestSize]byte
}

// Of computes the canonical hash of kind over canonicalBytes. It never
// touches global state and is required by spec.md §8.3 to be bit-identical
// across independent runs for the same input.
func Of(kind Type, canonicalBytes []byte) Hash {
	d := blake2b.Sum256(canonicalBytes)
	return Hash{Type: kind, Digest: d}
}

// Equal reports whether h and o address the same typed content.
func (h Hash) Equal(o Hash) bool {
	return h.Type == o.Type && h.Digest == o.Digest
}

// IsZero reports whether h is the unset zero value.
func (h Hash) IsZero() bool {
	return h.Digest == [DigestSize]byte{}
}

func (h Hash) String() string {
	return fmt.Sprintf("%s:%x", h.Type, h.Digest[:8])
}

// Bytes returns the raw digest, without the type tag — used when a hash is
// embedded as a field inside another hash's canonical bytes (the type tag
// is contextual in that position, e.g. "action_hash" inside an op hash).
func (h Hash) Bytes() []byte {
	b := make([]byte, DigestSize)
	copy(b, h.Digest[:])
	return b
}

// Location folds the digest into a 32-bit location on the circular hash
// space used for arc membership (spec.md §3 "Hash"). Folding XORs eight
// 4-byte chunks of the digest together rather than truncating, so every
// digest byte influences the location.
func (h Hash) Location() uint32 {
	var loc uint32
	for i := 0; i < DigestSize; i += 4 {
		loc ^= binary.LittleEndian.Uint32(h.Digest[i : i+4])
	}
	return loc
}

// AgentPubKey is an ed25519 public key, also a valid Hash of TypeAgent once
// wrapped — the agent key names both the author of a chain and the content
// hash used to route RegisterAgentActivity ops (spec.md §3).
type AgentPubKey struct {
	Key ed25519.PublicKey
}

// Hash returns the TypeAgent hash addressing this agent key.
func (a AgentPubKey) Hash() Hash {
	return Of(TypeAgent, a.Key)
}

func (a AgentPubKey) Equal(o AgentPubKey) bool {
	if len(a.Key) != len(o.Key) {
		return false
	}
	for i := range a.Key {
		if a.Key[i] != o.Key[i] {
			return false
		}
	}
	return true
}

// KeyPair is an agent's signing identity.
type KeyPair struct {
	Public  AgentPubKey
	private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh ed25519 identity. Production deployments
// source this from an external keystore (spec.md §1 places the keystore
// outside the core); this constructor exists for tests and for embedders
// without a keystore integration yet.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: AgentPubKey{Key: pub}, private: priv}, nil
}

// Sign signs canonicalBytes, the byte form produced by an action's
// CanonicalBytes method (spec.md §3 invariant 4).
func (k KeyPair) Sign(canonicalBytes []byte) []byte {
	return ed25519.Sign(k.private, canonicalBytes)
}

// Verify reports whether sig is a valid signature by pub over
// canonicalBytes. A single-bit flip in canonicalBytes must make this
// return false (spec.md §8.2).
func Verify(pub AgentPubKey, canonicalBytes, sig []byte) bool {
	return ed25519.Verify(pub.Key, canonicalBytes, sig)
}
