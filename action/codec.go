package action

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dhtmesh/cellcore/hash"
)

func nanoToTime(nano uint64) time.Time {
	return time.Unix(0, int64(nano)).UTC()
}

// Marshal encodes a signed action for storage: a wire-distinct encoding
// from CanonicalBytes (which is the signing payload, not a storage format).
// The layout is kind byte, common fields, kind-specific fields, then a
// length-prefixed signature.
func Marshal(s Signed) []byte {
	b := appendCommon(nil, s.Action.Kind(), commonOf(s.Action))
	b = append(b, kindPayload(s.Action)...)
	b = appendBytes(b, s.Signature)
	return b
}

// Unmarshal decodes bytes produced by Marshal back into a Signed action.
func Unmarshal(b []byte) (Signed, error) {
	if len(b) < 1 {
		return Signed{}, fmt.Errorf("action: empty encoding")
	}
	kind := Kind(b[0])
	r := reader{buf: b[1:]}

	common, err := r.readCommon()
	if err != nil {
		return Signed{}, fmt.Errorf("action: reading common fields: %w", err)
	}

	a, err := readKindPayload(kind, common, &r)
	if err != nil {
		return Signed{}, fmt.Errorf("action: reading %s payload: %w", kind, err)
	}

	sig, err := r.readBytes()
	if err != nil {
		return Signed{}, fmt.Errorf("action: reading signature: %w", err)
	}
	return Signed{Action: a, Signature: sig}, nil
}

func commonOf(a Action) Common {
	prev, hasPrev := a.Prev()
	return Common{
		AuthorKey: a.Author(),
		SeqNum:    a.Seq(),
		Ts:        a.Timestamp(),
		PrevHash:  prev,
		HasPrev:   hasPrev,
	}
}

func kindPayload(a Action) []byte {
	switch v := a.(type) {
	case Dna:
		return v.DnaHash.Bytes()
	case AgentValidationPkg:
		return appendBytes(nil, v.MembraneProof)
	case Create:
		b := appendBytes(nil, []byte(v.EntryType))
		return append(b, v.EntryHash.Bytes()...)
	case Update:
		b := appendBytes(nil, []byte(v.EntryType))
		b = append(b, v.EntryHash.Bytes()...)
		b = append(b, v.OriginalAction.Bytes()...)
		return append(b, v.OriginalEntry.Bytes()...)
	case Delete:
		b := v.DeletedAction.Bytes()
		return append(b, v.DeletedEntry.Bytes()...)
	case CreateLink:
		b := []byte{v.ZomeIndex, v.LinkType}
		b = append(b, v.BaseHash.Bytes()...)
		b = append(b, v.TargetHash.Bytes()...)
		return appendBytes(b, v.Tag)
	case DeleteLink:
		b := v.BaseHash.Bytes()
		return append(b, v.CreateLinkHash.Bytes()...)
	case OpenChain:
		return v.PrevDnaHash.Bytes()
	case CloseChain:
		return v.NewDnaHash.Bytes()
	case InitZomesComplete:
		return nil
	default:
		panic(fmt.Sprintf("action: unknown kind in kindPayload: %T", a))
	}
}

func readKindPayload(kind Kind, c Common, r *reader) (Action, error) {
	switch kind {
	case KindDna:
		h, err := r.readHash()
		return Dna{Common: c, DnaHash: h}, err
	case KindAgentValidationPkg:
		proof, err := r.readBytes()
		return AgentValidationPkg{Common: c, MembraneProof: proof}, err
	case KindCreate:
		et, err := r.readBytes()
		if err != nil {
			return nil, err
		}
		eh, err := r.readHash()
		return Create{Common: c, EntryType: string(et), EntryHash: eh}, err
	case KindUpdate:
		et, err := r.readBytes()
		if err != nil {
			return nil, err
		}
		eh, err := r.readHash()
		if err != nil {
			return nil, err
		}
		oa, err := r.readHash()
		if err != nil {
			return nil, err
		}
		oe, err := r.readHash()
		return Update{Common: c, EntryType: string(et), EntryHash: eh, OriginalAction: oa, OriginalEntry: oe}, err
	case KindDelete:
		da, err := r.readHash()
		if err != nil {
			return nil, err
		}
		de, err := r.readHash()
		return Delete{Common: c, DeletedAction: da, DeletedEntry: de}, err
	case KindCreateLink:
		zomeIdx, err := r.readByte()
		if err != nil {
			return nil, err
		}
		linkType, err := r.readByte()
		if err != nil {
			return nil, err
		}
		base, err := r.readHash()
		if err != nil {
			return nil, err
		}
		target, err := r.readHash()
		if err != nil {
			return nil, err
		}
		tag, err := r.readBytes()
		return CreateLink{Common: c, ZomeIndex: zomeIdx, LinkType: linkType, BaseHash: base, TargetHash: target, Tag: tag}, err
	case KindDeleteLink:
		base, err := r.readHash()
		if err != nil {
			return nil, err
		}
		clh, err := r.readHash()
		return DeleteLink{Common: c, BaseHash: base, CreateLinkHash: clh}, err
	case KindOpenChain:
		h, err := r.readHash()
		return OpenChain{Common: c, PrevDnaHash: h}, err
	case KindCloseChain:
		h, err := r.readHash()
		return CloseChain{Common: c, NewDnaHash: h}, err
	case KindInitZomesComplete:
		return InitZomesComplete{Common: c}, nil
	default:
		return nil, fmt.Errorf("unknown action kind %d", kind)
	}
}

func appendBytes(b, v []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
	b = append(b, lenBuf[:]...)
	return append(b, v...)
}

// reader walks a Marshal-produced buffer; the companion to appendCommon's
// hand-rolled writer side.
type reader struct {
	buf []byte
}

func (r *reader) readByte() (uint8, error) {
	if len(r.buf) < 1 {
		return 0, fmt.Errorf("unexpected end of buffer reading byte")
	}
	v := r.buf[0]
	r.buf = r.buf[1:]
	return v, nil
}

func (r *reader) readUint32() (uint32, error) {
	if len(r.buf) < 4 {
		return 0, fmt.Errorf("unexpected end of buffer reading uint32")
	}
	v := binary.BigEndian.Uint32(r.buf[:4])
	r.buf = r.buf[4:]
	return v, nil
}

func (r *reader) readUint64() (uint64, error) {
	if len(r.buf) < 8 {
		return 0, fmt.Errorf("unexpected end of buffer reading uint64")
	}
	v := binary.BigEndian.Uint64(r.buf[:8])
	r.buf = r.buf[8:]
	return v, nil
}

func (r *reader) readBytes() ([]byte, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if uint32(len(r.buf)) < n {
		return nil, fmt.Errorf("unexpected end of buffer reading %d bytes", n)
	}
	v := r.buf[:n]
	r.buf = r.buf[n:]
	return v, nil
}

func (r *reader) readDigest() ([hash.DigestSize]byte, error) {
	var d [hash.DigestSize]byte
	if len(r.buf) < hash.DigestSize {
		return d, fmt.Errorf("unexpected end of buffer reading digest")
	}
	copy(d[:], r.buf[:hash.DigestSize])
	r.buf = r.buf[hash.DigestSize:]
	return d, nil
}

func (r *reader) readHash() (hash.Hash, error) {
	d, err := r.readDigest()
	if err != nil {
		return hash.Hash{}, err
	}
	// the type tag isn't carried in embedded-hash positions (see
	// Hash.Bytes' doc comment); callers know the expected type contextually.
	return hash.Hash{Digest: d}, nil
}

func (r *reader) readPubKey(size int) ([]byte, error) {
	if len(r.buf) < size {
		return nil, fmt.Errorf("unexpected end of buffer reading pub key")
	}
	v := r.buf[:size]
	r.buf = r.buf[size:]
	return v, nil
}

func (r *reader) readCommon() (Common, error) {
	pub, err := r.readPubKey(32) // ed25519.PublicKeySize
	if err != nil {
		return Common{}, err
	}
	seq, err := r.readUint32()
	if err != nil {
		return Common{}, err
	}
	tsNano, err := r.readUint64()
	if err != nil {
		return Common{}, err
	}
	hasPrev, err := r.readByte()
	if err != nil {
		return Common{}, err
	}
	var prevHash hash.Hash
	if hasPrev == 1 {
		prevHash, err = r.readHash()
		if err != nil {
			return Common{}, err
		}
		prevHash.Type = hash.TypeAction
	}
	return Common{
		AuthorKey: hash.AgentPubKey{Key: append([]byte(nil), pub...)},
		SeqNum:    seq,
		Ts:        nanoToTime(tsNano),
		PrevHash:  prevHash,
		HasPrev:   hasPrev == 1,
	}, nil
}
