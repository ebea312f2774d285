package entry

import (
	"encoding/binary"
	"fmt"

	"github.com/dhtmesh/cellcore/hash"
)

// Marshal encodes e into a storage format distinct from CanonicalBytes:
// every variable-length field is length-prefixed so Unmarshal can recover
// the original struct, which CanonicalBytes (hash input only) does not
// guarantee for the cap-grant/claim kinds.
func Marshal(e Entry) []byte {
	b := []byte{byte(e.Kind())}
	switch v := e.(type) {
	case App:
		b = appendBytes(b, []byte(v.EntryType))
		b = appendBytes(b, v.Data)
	case AgentKeyEntry:
		b = append(b, v.Key.Key...)
	case CapGrant:
		b = appendBytes(b, []byte(v.Tag))
		b = appendUint32(b, uint32(len(v.Functions)))
		for _, f := range v.Functions {
			b = appendBytes(b, []byte(f))
		}
		b = appendUint32(b, uint32(len(v.Assignees)))
		for _, a := range v.Assignees {
			b = append(b, a.Key...)
		}
	case CapClaim:
		b = appendBytes(b, []byte(v.Tag))
		b = append(b, v.Grantor.Key...)
		b = append(b, v.GrantHash.Bytes()...)
	default:
		panic(fmt.Sprintf("entry: unknown kind in Marshal: %T", e))
	}
	return b
}

// Unmarshal decodes bytes produced by Marshal. Visibility is carried
// alongside in storage (the sourcechain.Entries bucket prefixes a
// visibility byte), not inside this encoding, so callers that need it
// reconstruct the struct with the visibility they stored separately.
func Unmarshal(b []byte, vis Visibility) (Entry, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("entry: empty encoding")
	}
	kind := Kind(b[0])
	r := reader{buf: b[1:]}

	switch kind {
	case KindApp:
		et, err := r.readBytes()
		if err != nil {
			return nil, err
		}
		data, err := r.readBytes()
		if err != nil {
			return nil, err
		}
		return App{EntryType: string(et), Data: data, Vis: vis}, nil
	case KindAgentKey:
		key, err := r.readFixed(32)
		if err != nil {
			return nil, err
		}
		return AgentKeyEntry{Key: hash.AgentPubKey{Key: append([]byte(nil), key...)}}, nil
	case KindCapGrant:
		tag, err := r.readBytes()
		if err != nil {
			return nil, err
		}
		nFns, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		functions := make([]string, nFns)
		for i := range functions {
			f, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			functions[i] = string(f)
		}
		nAssignees, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		assignees := make([]hash.AgentPubKey, nAssignees)
		for i := range assignees {
			k, err := r.readFixed(32)
			if err != nil {
				return nil, err
			}
			assignees[i] = hash.AgentPubKey{Key: append([]byte(nil), k...)}
		}
		return CapGrant{Tag: string(tag), Functions: functions, Assignees: assignees, Vis: vis}, nil
	case KindCapClaim:
		tag, err := r.readBytes()
		if err != nil {
			return nil, err
		}
		grantor, err := r.readFixed(32)
		if err != nil {
			return nil, err
		}
		grantHashDigest, err := r.readFixed(hash.DigestSize)
		if err != nil {
			return nil, err
		}
		var d [hash.DigestSize]byte
		copy(d[:], grantHashDigest)
		return CapClaim{
			Tag:       string(tag),
			Grantor:   hash.AgentPubKey{Key: append([]byte(nil), grantor...)},
			GrantHash: hash.Hash{Type: hash.TypeEntry, Digest: d},
			Vis:       vis,
		}, nil
	default:
		return nil, fmt.Errorf("entry: unknown kind %d", kind)
	}
}

func appendBytes(b, v []byte) []byte {
	b = appendUint32(b, uint32(len(v)))
	return append(b, v...)
}

func appendUint32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

type reader struct {
	buf []byte
}

func (r *reader) readUint32() (uint32, error) {
	if len(r.buf) < 4 {
		return 0, fmt.Errorf("unexpected end of buffer reading uint32")
	}
	v := binary.BigEndian.Uint32(r.buf[:4])
	r.buf = r.buf[4:]
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

func (r *reader) readFixed(n int) ([]byte, error) {
	if len(r.buf) < n {
		return nil, fmt.Errorf("unexpected end of buffer reading %d fixed bytes", n)
	}
	v := r.buf[:n]
	r.buf = r.buf[n:]
	return v, nil
}
