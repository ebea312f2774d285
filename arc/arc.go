// Package arc implements spec.md §3 "Arc"/"Region" and the §4.7 resize
// algorithm: geometric intervals on the 32-bit circular hash space that
// parameterize what a peer stores, and the feedback loop that keeps every
// location covered by a target redundancy.
package arc

import (
	"math"
)

// spaceSize is the size of the circular hash space (2^32 locations).
const spaceSize = 1 << 32

// Arc is a (center, power, count) interval: length = count << power, taken
// mod 2^32, centered on Center. The empty arc has Count 0; the full arc
// has length >= 2^32.
type Arc struct {
	Center uint32
	Power  uint8
	Count  uint32
}

// Empty is the zero-length arc.
func Empty(center uint32) Arc { return Arc{Center: center} }

// Full is the arc covering the entire space.
func Full(center uint32) Arc { return Arc{Center: center, Power: 32, Count: 1} }

// Length returns the arc's full interval length in locations, saturated at
// the space size.
func (a Arc) Length() uint64 {
	length := uint64(a.Count) << a.Power
	if length > spaceSize {
		return spaceSize
	}
	return length
}

// IsFull reports whether a covers the entire space.
func (a Arc) IsFull() bool {
	return a.Length() >= spaceSize
}

// IsEmpty reports whether a covers nothing.
func (a Arc) IsEmpty() bool {
	return a.Count == 0
}

// Bounds returns the half-open [start, end) interval a covers, measured in
// locations from Center - Length()/2. end may exceed 2^32 to signal that
// the interval wraps the origin; callers serializing to a fixed-width wire
// form should reduce it mod 2^32 themselves.
func (a Arc) Bounds() (start, end uint64) {
	return a.bounds()
}

// bounds returns [start, end) of the half-open interval a covers, measured
// in locations from Center - Length()/2 (modular arithmetic wraps).
func (a Arc) bounds() (start, end uint64) {
	half := a.Length() / 2
	start = (uint64(a.Center) - half + spaceSize) % spaceSize
	end = start + a.Length()
	return start, end
}

// Contains reports whether loc falls within a's interval.
func (a Arc) Contains(loc uint32) bool {
	if a.IsFull() {
		return true
	}
	if a.IsEmpty() {
		return false
	}
	start, end := a.bounds()
	l := uint64(loc)
	if end <= spaceSize {
		return l >= start && l < end
	}
	// wraps around the origin
	return l >= start || l < end%spaceSize
}

// OverlapFraction returns the fraction of a's interval that falls inside
// b's interval, in [0, 1] — used by the coverage estimate in Resize.
func (a Arc) OverlapFraction(b Arc) float64 {
	if a.IsEmpty() {
		return 0
	}
	if b.IsFull() {
		return 1
	}
	if b.IsEmpty() {
		return 0
	}
	aStart, aEnd := a.bounds()
	bStart, bEnd := b.bounds()
	overlap := intervalOverlap(aStart, aEnd, bStart, bEnd)
	return float64(overlap) / float64(a.Length())
}

func intervalOverlap(aStart, aEnd, bStart, bEnd uint64) uint64 {
	// normalize by splitting any wraparound interval into two non-wrapping
	// pieces and summing pairwise overlaps.
	aPieces := splitWrap(aStart, aEnd)
	bPieces := splitWrap(bStart, bEnd)
	var total uint64
	for _, ap := range aPieces {
		for _, bp := range bPieces {
			lo := maxU64(ap[0], bp[0])
			hi := minU64(ap[1], bp[1])
			if hi > lo {
				total += hi - lo
			}
		}
	}
	return total
}

func splitWrap(start, end uint64) [][2]uint64 {
	if end <= spaceSize {
		return [][2]uint64{{start, end}}
	}
	return [][2]uint64{{start, spaceSize}, {0, end - spaceSize}}
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// Quantize rounds a's count to the nearest non-negative integer on its own
// power-of-two grid (power stays fixed; count is an integer by
// construction, so Quantize is idempotent — it exists as an explicit step
// because Resize computes an intermediate floating-point count).
func (a Arc) Quantize(rawCount float64) Arc {
	c := int64(math.Round(rawCount))
	if c < 0 {
		c = 0
	}
	return Arc{Center: a.Center, Power: a.Power, Count: uint32(c)}
}

// Requantize moves a to a new power, preserving its approximate length.
func (a Arc) Requantize(newPower uint8) Arc {
	length := a.Length()
	newCount := length >> newPower
	if newCount == 0 && length > 0 {
		newCount = 1
	}
	return Arc{Center: a.Center, Power: newPower, Count: uint32(newCount)}
}

// Set is a sorted, disjoint collection of arcs quantized to a shared power
// grid — spec.md §3 "arc set".
type Set struct {
	Arcs []Arc
}

// Contains reports whether any arc in s contains loc.
func (s Set) Contains(loc uint32) bool {
	for _, a := range s.Arcs {
		if a.Contains(loc) {
			return true
		}
	}
	return false
}

// Intersect computes the common arc-set between s and o — the set
// intersection spec.md §4.8 computes from both sides' Accept payload.
func Intersect(s, o Set) Set {
	var out []Arc
	for _, a := range s.Arcs {
		for _, b := range o.Arcs {
			if ov := intersectArcs(a, b); !ov.IsEmpty() {
				out = append(out, ov)
			}
		}
	}
	return Set{Arcs: out}
}

func intersectArcs(a, b Arc) Arc {
	aStart, aEnd := a.bounds()
	bStart, bEnd := b.bounds()
	overlap := intervalOverlap(aStart, aEnd, bStart, bEnd)
	if overlap == 0 {
		return Arc{}
	}
	power := a.Power
	if b.Power > power {
		power = b.Power
	}
	count := overlap >> power
	if count == 0 {
		count = 1
	}
	center := a.Center
	return Arc{Center: center, Power: power, Count: uint32(count)}
}
