package arc

import (
	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/dhtmesh/cellcore/hash"
)

// Region is a (space-segment, time-segment) summary over the arc-set ×
// time grid, combined by XOR so two regions can be diffed in O(log) by
// comparing digest+count rather than enumerating every op (spec.md §3
// "Region", used by J's historical gossip variant).
type Region struct {
	SpaceSegment Arc
	TimeStart    int64
	TimeEnd      int64
	Digest       [32]byte
	Count        uint32
}

// NewRegion builds an empty region over the given space/time segment.
func NewRegion(space Arc, timeStart, timeEnd int64) Region {
	return Region{SpaceSegment: space, TimeStart: timeStart, TimeEnd: timeEnd}
}

// Add XORs opHash's digest into the region and increments its count —
// order-independent, so two peers that saw the same ops in different
// orders converge on the same digest.
func (r Region) Add(opHash hash.Hash) Region {
	out := r
	for i := range out.Digest {
		out.Digest[i] ^= opHash.Digest[i]
	}
	out.Count++
	return out
}

// Mismatched reports whether r and o summarize different op sets: any
// difference in (digest, count) means at least one op differs.
func (r Region) Mismatched(o Region) bool {
	return r.Digest != o.Digest || r.Count != o.Count
}

// CombinedDigest blake2b-hashes the region's own fields, used when a
// region itself needs to be addressed (e.g. logged or cached by key).
func (r Region) CombinedDigest() [32]byte {
	b := make([]byte, 0, 16+32)
	b = append(b, byte(r.SpaceSegment.Power))
	b = append(b, r.Digest[:]...)
	return blake2b.Sum256(b)
}

// RedundancyHistogram tracks, per sampled location, how many local arcs
// are known to cover it — the sample the §8.7 arc-convergence test reads
// to confirm "observed minimum redundancy at every location is ≥
// min_coverage". Backed by a roaring bitmap per coverage-count bucket so
// the common case (most locations at the same redundancy) stays compact.
type RedundancyHistogram struct {
	buckets map[uint32]*roaring.Bitmap
}

// NewRedundancyHistogram builds an empty histogram.
func NewRedundancyHistogram() *RedundancyHistogram {
	return &RedundancyHistogram{buckets: map[uint32]*roaring.Bitmap{}}
}

// Observe records that loc is covered by one more arc, moving it from its
// current bucket (if any) to count+1.
func (h *RedundancyHistogram) Observe(loc uint32, count uint32) {
	if prev, ok := h.find(loc); ok {
		h.buckets[prev].Remove(loc)
	}
	b, ok := h.buckets[count]
	if !ok {
		b = roaring.New()
		h.buckets[count] = b
	}
	b.Add(loc)
}

func (h *RedundancyHistogram) find(loc uint32) (uint32, bool) {
	for count, b := range h.buckets {
		if b.Contains(loc) {
			return count, true
		}
	}
	return 0, false
}

// Min returns the lowest coverage count with at least one location, or 0
// if the histogram is empty.
func (h *RedundancyHistogram) Min() uint32 {
	var min uint32
	first := true
	for count, b := range h.buckets {
		if b.IsEmpty() {
			continue
		}
		if first || count < min {
			min = count
			first = false
		}
	}
	return min
}
