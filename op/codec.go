package op

import (
	"encoding/binary"
	"fmt"

	"github.com/dhtmesh/cellcore/action"
	"github.com/dhtmesh/cellcore/entry"
	"github.com/dhtmesh/cellcore/hash"
)

// Marshal encodes o for storage in the validation limbo / integration DB.
// The op hash itself is not stored — Unmarshal recomputes it from the
// decoded kind, action hash and aux fields. Unmarshal does not compare the
// result with any stored hash, so a corrupted record is not detected here.
func Marshal(o Op) []byte {
	b := []byte{byte(o.Kind)}
	b = append(b, byte(o.Basis.Type))
	b = append(b, o.Basis.Bytes()...)

	actionBytes := action.Marshal(o.Action)
	b = appendUint32(b, uint32(len(actionBytes)))
	b = append(b, actionBytes...)

	if o.Entry != nil {
		b = append(b, 1, byte(o.Entry.Visibility()))
		entryBytes := entry.Marshal(o.Entry)
		b = appendUint32(b, uint32(len(entryBytes)))
		b = append(b, entryBytes...)
	} else {
		b = append(b, 0)
	}

	if !o.AuxAction.IsZero() {
		b = append(b, 1)
		b = append(b, o.AuxAction.Bytes()...)
	} else {
		b = append(b, 0)
	}
	if !o.AuxEntry.IsZero() {
		b = append(b, 1)
		b = append(b, o.AuxEntry.Bytes()...)
	} else {
		b = append(b, 0)
	}
	return b
}

// Unmarshal decodes bytes produced by Marshal.
func Unmarshal(b []byte) (Op, error) {
	if len(b) < 2+hash.DigestSize {
		return Op{}, fmt.Errorf("op: encoding too short")
	}
	kind := Type(b[0])
	basisType := hash.Type(b[1])
	pos := 2
	var basisDigest [hash.DigestSize]byte
	copy(basisDigest[:], b[pos:pos+hash.DigestSize])
	pos += hash.DigestSize
	basis := hash.Hash{Type: basisType, Digest: basisDigest}

	actionLen, n, err := readUint32(b[pos:])
	if err != nil {
		return Op{}, err
	}
	pos += n
	if len(b) < pos+int(actionLen) {
		return Op{}, fmt.Errorf("op: truncated action payload")
	}
	signed, err := action.Unmarshal(b[pos : pos+int(actionLen)])
	if err != nil {
		return Op{}, fmt.Errorf("op: decode action: %w", err)
	}
	pos += int(actionLen)

	if pos >= len(b) {
		return Op{}, fmt.Errorf("op: truncated entry presence flag")
	}
	var e entry.Entry
	hasEntry := b[pos]
	pos++
	if hasEntry == 1 {
		if pos >= len(b) {
			return Op{}, fmt.Errorf("op: truncated entry visibility")
		}
		vis := entry.Visibility(b[pos])
		pos++
		entryLen, n, err := readUint32(b[pos:])
		if err != nil {
			return Op{}, err
		}
		pos += n
		if len(b) < pos+int(entryLen) {
			return Op{}, fmt.Errorf("op: truncated entry payload")
		}
		e, err = entry.Unmarshal(b[pos:pos+int(entryLen)], vis)
		if err != nil {
			return Op{}, fmt.Errorf("op: decode entry: %w", err)
		}
		pos += int(entryLen)
	}

	auxAction, pos, err := readOptionalHash(b, pos, hash.TypeAction)
	if err != nil {
		return Op{}, err
	}
	auxEntry, _, err := readOptionalHash(b, pos, hash.TypeEntry)
	if err != nil {
		return Op{}, err
	}

	actionHash := signed.Hash()
	var aux []hash.Hash
	if !auxAction.IsZero() {
		aux = append(aux, auxAction)
	}
	if !auxEntry.IsZero() {
		aux = append(aux, auxEntry)
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
	}, nil
}

func readOptionalHash(b []byte, pos int, t hash.Type) (hash.Hash, int, error) {
	if pos >= len(b) {
		return hash.Hash{}, pos, fmt.Errorf("op: truncated optional hash flag")
	}
	present := b[pos]
	pos++
	if present != 1 {
		return hash.Hash{}, pos, nil
	}
	if len(b) < pos+hash.DigestSize {
		return hash.Hash{}, pos, fmt.Errorf("op: truncated optional hash digest")
	}
	var d [hash.DigestSize]byte
	copy(d[:], b[pos:pos+hash.DigestSize])
	return hash.Hash{Type: t, Digest: d}, pos + hash.DigestSize, nil
}

func appendUint32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

func readUint32(b []byte) (uint32, int, error) {
	if len(b) < 4 {
		return 0, 0, fmt.Errorf("op: truncated uint32")
	}
	return binary.BigEndian.Uint32(b[:4]), 4, nil
}
