// Package wire implements spec.md §6's gossip wire protocol: one-byte
// tagged, length-prefixed frames, optionally snappy-compressed above a
// size threshold.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"

	"github.com/dhtmesh/cellcore/hash"
)

// Tag identifies a gossip message kind, per spec.md §6.
type Tag byte

const (
	TagInitiate          Tag = 0x10
	TagAccept            Tag = 0x20
	TagAgents            Tag = 0x30
	TagMissingAgents     Tag = 0x40
	TagOps               Tag = 0x50
	TagMissingOps        Tag = 0x60
	TagAlreadyInProgress Tag = 0x70
	TagNoAgents          Tag = 0x80
)

func (t Tag) String() string {
	switch t {
	case TagInitiate:
		return "Initiate"
	case TagAccept:
		return "Accept"
	case TagAgents:
		return "Agents"
	case TagMissingAgents:
		return "MissingAgents"
	case TagOps:
		return "Ops"
	case TagMissingOps:
		return "MissingOps"
	case TagAlreadyInProgress:
		return "AlreadyInProgress"
	case TagNoAgents:
		return "NoAgents"
	default:
		return "Unknown"
	}
}

// flagPlain and flagCompressed mark whether a frame body is
// snappy-compressed; the flag byte follows the tag byte so the compression choice never needs its own frame kind.
const (
	flagPlain      byte = 0
	flagCompressed byte = 1
)

// EncodeFrame builds a length-prefixed frame: 4-byte big-endian length,
// tag byte, compression flag byte, body. Bodies at or above threshold are
// snappy-compressed, matching the teacher's own use of snappy for its own
// wire frames above a size cutoff.
func EncodeFrame(tag Tag, body []byte, threshold int) []byte {
	flag := flagPlain
	payload := body
	if len(body) >= threshold {
		payload = snappy.Encode(nil, body)
		flag = flagCompressed
	}

	frame := make([]byte, 0, 4+2+len(payload))
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(2+len(payload)))
	frame = append(frame, lenBuf...)
	frame = append(frame, byte(tag), flag)
	frame = append(frame, payload...)
	return frame
}

// DecodeFrame reads one frame from buf, returning the tag, the decoded
// body, and the number of bytes consumed.
func DecodeFrame(buf []byte) (Tag, []byte, int, error) {
	if len(buf) < 4 {
		return 0, nil, 0, fmt.Errorf("wire: frame too short for length prefix")
	}
	n := binary.BigEndian.Uint32(buf[:4])
	total := 4 + int(n)
	if len(buf) < total {
		return 0, nil, 0, fmt.Errorf("wire: incomplete frame")
	}
	if n < 2 {
		return 0, nil, 0, fmt.Errorf("wire: frame body too short")
	}
	tag := Tag(buf[4])
	flag := buf[5]
	payload := buf[6:total]

	body := payload
	if flag == flagCompressed {
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return 0, nil, 0, fmt.Errorf("wire: snappy decode: %w", err)
		}
		body = decoded
	}
	return tag, body, total, nil
}

// ArcInterval encodes spec.md §6's Empty|Full|Bounded(start,end) sum type.
type ArcInterval struct {
	Kind  ArcIntervalKind
	Start uint32
	End   uint32
}

type ArcIntervalKind byte

const (
	ArcIntervalEmpty ArcIntervalKind = iota
	ArcIntervalFull
	ArcIntervalBounded
)

// Encode writes ai's wire form: kind byte, plus start/end for Bounded.
func (ai ArcInterval) Encode() []byte {
	b := []byte{byte(ai.Kind)}
	if ai.Kind == ArcIntervalBounded {
		var buf [8]byte
		binary.BigEndian.PutUint32(buf[0:4], ai.Start)
		binary.BigEndian.PutUint32(buf[4:8], ai.End)
		b = append(b, buf[:]...)
	}
	return b
}

// DecodeArcInterval reads an ArcInterval written by Encode.
func DecodeArcInterval(b []byte) (ArcInterval, int, error) {
	if len(b) < 1 {
		return ArcInterval{}, 0, fmt.Errorf("wire: empty arc interval")
	}
	kind := ArcIntervalKind(b[0])
	if kind != ArcIntervalBounded {
		return ArcInterval{Kind: kind}, 1, nil
	}
	if len(b) < 9 {
		return ArcInterval{}, 0, fmt.Errorf("wire: truncated bounded arc interval")
	}
	start := binary.BigEndian.Uint32(b[1:5])
	end := binary.BigEndian.Uint32(b[5:9])
	return ArcInterval{Kind: ArcIntervalBounded, Start: start, End: end}, 9, nil
}

// Wraps reports whether a Bounded interval wraps the origin.
func (ai ArcInterval) Wraps() bool {
	return ai.Kind == ArcIntervalBounded && ai.Start > ai.End
}

// EncodeOpEntry is a small helper kept next to the frame encoders:
// MissingOps entries are (OpHash, bytes) pairs, with the bytes
// length-prefixed the same way the rest of this package frames
// variable-length fields.
func EncodeOpEntry(h hash.Hash, body []byte) []byte {
	b := make([]byte, 0, hash.DigestSize+4+len(body))
	b = append(b, h.Bytes()...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	b = append(b, lenBuf[:]...)
	return append(b, body...)
}
