package action

import (
	"time"

	"github.com/dhtmesh/cellcore/hash"
)

// ChainHead is the minimal state a Builder needs from the chain it is
// extending: the next sequence number and the hash of the action it will
// link against. Genesis callers pass HasHead=false.
type ChainHead struct {
	NextSeq uint32
	Hash    hash.Hash
	HasHead bool
}

// Builder stamps the bookkeeping fields (author, sequence, timestamp,
// prev) onto an action payload, mirroring the role of
// original_source/crates/zome_types/src/header/builder.rs: callers supply
// only the kind-specific payload and the builder fills in everything a
// valid chain link requires.
type Builder struct {
	Author hash.AgentPubKey
	Head   ChainHead
	// Now is injected so callers (and tests) control the timestamp rather
	// than reaching for wall-clock time inside the builder.
	Now time.Time
}

func (b Builder) common() Common {
	return Common{
		AuthorKey: b.Author,
		SeqNum:    b.Head.NextSeq,
		Ts:        b.Now,
		PrevHash:  b.Head.Hash,
		HasPrev:   b.Head.HasHead,
	}
}

func (b Builder) Dna(dnaHash hash.Hash) Dna {
	return Dna{Common: b.common(), DnaHash: dnaHash}
}

func (b Builder) AgentValidationPkg(membraneProof []byte) AgentValidationPkg {
	return AgentValidationPkg{Common: b.common(), MembraneProof: membraneProof}
}

func (b Builder) Create(entryType string, entryHash hash.Hash) Create {
	return Create{Common: b.common(), EntryType: entryType, EntryHash: entryHash}
}

func (b Builder) Update(entryType string, entryHash, originalAction, originalEntry hash.Hash) Update {
	return Update{
		Common:         b.common(),
		EntryType:      entryType,
		EntryHash:      entryHash,
		OriginalAction: originalAction,
		OriginalEntry:  originalEntry,
	}
}

func (b Builder) Delete(deletedAction, deletedEntry hash.Hash) Delete {
	return Delete{Common: b.common(), DeletedAction: deletedAction, DeletedEntry: deletedEntry}
}

func (b Builder) CreateLink(zomeIndex, linkType uint8, base, target hash.Hash, tag []byte) CreateLink {
	return CreateLink{
		Common:     b.common(),
		ZomeIndex:  zomeIndex,
		LinkType:   linkType,
		BaseHash:   base,
		TargetHash: target,
		Tag:        tag,
	}
}

func (b Builder) DeleteLink(base, createLinkHash hash.Hash) DeleteLink {
	return DeleteLink{Common: b.common(), BaseHash: base, CreateLinkHash: createLinkHash}
}

func (b Builder) OpenChain(prevDnaHash hash.Hash) OpenChain {
	return OpenChain{Common: b.common(), PrevDnaHash: prevDnaHash}
}

func (b Builder) CloseChain(newDnaHash hash.Hash) CloseChain {
	return CloseChain{Common: b.common(), NewDnaHash: newDnaHash}
}

func (b Builder) InitZomesComplete() InitZomesComplete {
	return InitZomesComplete{Common: b.common()}
}

// Sign builds a in Signed form by signing a's canonical bytes with kp. It
// does not check kp's public key against the author this Builder stamps
// onto every action; a signature made with any other key fails
// VerifySignature.
func (b Builder) Sign(kp hash.KeyPair, a Action) Signed {
	return Signed{Action: a, Signature: kp.Sign(a.CanonicalBytes())}
}
