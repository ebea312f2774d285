package gossip

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/dhtmesh/cellcore/arc"
	"github.com/dhtmesh/cellcore/gossip/wire"
	"github.com/dhtmesh/cellcore/hash"
)

// DefaultFrameThreshold is the body size, in bytes, at or above which
// EncodeFrame snappy-compresses a gossip message when the caller passes a
// zero threshold. Callers normally derive the threshold from
// config.Tunables.SnappyThreshold.
const DefaultFrameThreshold = 4 * datasize.KB

func frameThresholdBytes(threshold datasize.ByteSize) int {
	if threshold == 0 {
		threshold = DefaultFrameThreshold
	}
	return int(threshold.Bytes())
}

// toWireInterval converts an arc.Arc to its wire.ArcInterval form, reducing
// a wrapping end bound mod 2^32 as wire.ArcInterval's fixed-width encoding
// requires.
func toWireInterval(a arc.Arc) wire.ArcInterval {
	switch {
	case a.IsEmpty():
		return wire.ArcInterval{Kind: wire.ArcIntervalEmpty}
	case a.IsFull():
		return wire.ArcInterval{Kind: wire.ArcIntervalFull}
	default:
		start, end := a.Bounds()
		return wire.ArcInterval{Kind: wire.ArcIntervalBounded, Start: uint32(start), End: uint32(end)}
	}
}

func fromWireInterval(center uint32, wi wire.ArcInterval) arc.Arc {
	switch wi.Kind {
	case wire.ArcIntervalFull:
		return arc.Full(center)
	case wire.ArcIntervalBounded:
		length := uint64(wi.End) - uint64(wi.Start)
		if wi.Wraps() {
			length = (uint64(1) << 32) - uint64(wi.Start) + uint64(wi.End)
		}
		power, count := quantizeLength(length)
		return arc.Arc{Center: center, Power: power, Count: count}
	default:
		return arc.Empty(center)
	}
}

// quantizeLength returns count 1 with the smallest power of two that is at
// least the requested length, matching arc.Arc's count<<power encoding; a
// length that is not a power of two is rounded up.
func quantizeLength(length uint64) (power uint8, count uint32) {
	if length == 0 {
		return 0, 0
	}
	for power = 0; power < 32; power++ {
		if length <= uint64(1)<<power {
			return power, 1
		}
	}
	return 32, 1
}

// EncodeInitiate serializes req as a Tag-0x10 frame: as-at and local
// timestamps, the topology hash, then each arc interval in req.ArcIntervals
// with its center, per spec.md §6.
func EncodeInitiate(req InitiateRequest, threshold datasize.ByteSize) []byte {
	body := make([]byte, 0, 64)
	body = appendTime(body, req.AsAtTime)
	body = appendTime(body, req.LocalTime)
	body = append(body, req.TopologyHash[:]...)

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(req.ArcIntervals.Arcs)))
	body = append(body, countBuf[:]...)
	for _, a := range req.ArcIntervals.Arcs {
		var centerBuf [4]byte
		binary.BigEndian.PutUint32(centerBuf[:], a.Center)
		body = append(body, centerBuf[:]...)
		body = append(body, toWireInterval(a).Encode()...)
	}
	return wire.EncodeFrame(wire.TagInitiate, body, frameThresholdBytes(threshold))
}

// DecodeInitiate reverses EncodeInitiate, returning the decoded request and
// the byte count wire.DecodeFrame consumed.
func DecodeInitiate(buf []byte) (InitiateRequest, int, error) {
	tag, body, n, err := wire.DecodeFrame(buf)
	if err != nil {
		return InitiateRequest{}, 0, err
	}
	if tag != wire.TagInitiate {
		return InitiateRequest{}, 0, fmt.Errorf("gossip: expected Initiate frame, got %s", tag)
	}
	if len(body) < 8+8+32+4 {
		return InitiateRequest{}, 0, fmt.Errorf("gossip: truncated initiate body")
	}
	req := InitiateRequest{}
	req.AsAtTime, body = readTime(body)
	req.LocalTime, body = readTime(body)
	copy(req.TopologyHash[:], body[:32])
	body = body[32:]

	count := binary.BigEndian.Uint32(body[:4])
	body = body[4:]
	arcs := make([]arc.Arc, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(body) < 4 {
			return InitiateRequest{}, 0, fmt.Errorf("gossip: truncated arc interval")
		}
		center := binary.BigEndian.Uint32(body[:4])
		body = body[4:]
		wi, consumed, err := wire.DecodeArcInterval(body)
		if err != nil {
			return InitiateRequest{}, 0, err
		}
		body = body[consumed:]
		arcs = append(arcs, fromWireInterval(center, wi))
	}
	req.ArcIntervals = arc.Set{Arcs: arcs}
	return req, n, nil
}

// EncodeHashList frames a list of hashes under tag — used for both
// MissingAgents (phase 2) and MissingOps (phase 3) per spec.md §6.
func EncodeHashList(tag wire.Tag, hashes []hash.Hash, threshold datasize.ByteSize) []byte {
	body := make([]byte, 0, len(hashes)*(1+hash.DigestSize))
	for _, h := range hashes {
		body = append(body, byte(h.Type))
		body = append(body, h.Digest[:]...)
	}
	return wire.EncodeFrame(tag, body, frameThresholdBytes(threshold))
}

// DecodeHashList reverses EncodeHashList, checking the frame's tag matches
// want.
func DecodeHashList(buf []byte, want wire.Tag) ([]hash.Hash, int, error) {
	tag, body, n, err := wire.DecodeFrame(buf)
	if err != nil {
		return nil, 0, err
	}
	if tag != want {
		return nil, 0, fmt.Errorf("gossip: expected %s frame, got %s", want, tag)
	}
	stride := 1 + hash.DigestSize
	if len(body)%stride != 0 {
		return nil, 0, fmt.Errorf("gossip: malformed hash list body")
	}
	out := make([]hash.Hash, 0, len(body)/stride)
	for i := 0; i < len(body); i += stride {
		h := hash.Hash{Type: hash.Type(body[i])}
		copy(h.Digest[:], body[i+1:i+stride])
		out = append(out, h)
	}
	return out, n, nil
}

func appendTime(b []byte, t time.Time) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t.UnixNano()))
	return append(b, buf[:]...)
}

func readTime(b []byte) (time.Time, []byte) {
	nanos := binary.BigEndian.Uint64(b[:8])
	return time.Unix(0, int64(nanos)).UTC(), b[8:]
}
