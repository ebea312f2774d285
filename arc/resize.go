package arc

import (
	"sort"

	"github.com/dhtmesh/cellcore/internal/config"
	"github.com/dhtmesh/cellcore/internal/mathutil"
)

// PeerView is the set of neighbor arcs observed through gossip, used to
// estimate coverage for the resize feedback loop (spec.md §4.7).
type PeerView struct {
	Neighbors []Arc
}

// medianPower returns the median power among the view's neighbors, or
// fallback if there are none.
func (v PeerView) medianPower(fallback uint8) uint8 {
	if len(v.Neighbors) == 0 {
		return fallback
	}
	powers := make([]int, len(v.Neighbors))
	for i, n := range v.Neighbors {
		powers[i] = int(n.Power)
	}
	sort.Ints(powers)
	return uint8(powers[len(powers)/2])
}

// estimateCoverage implements step 1 of spec.md §4.7: extrapolated
// coverage over arc's interval from intersecting neighbors, and the count
// of such neighbors.
func estimateCoverage(self Arc, view PeerView) (coverage float64, k int) {
	for _, n := range view.Neighbors {
		frac := self.OverlapFraction(n)
		if frac > 0 {
			coverage += frac
			k++
		}
	}
	return coverage, k
}

// Resize applies the seven-step algorithm of spec.md §4.7 to current,
// given the observed neighbor view and the operator's Tunables. ok is
// false when the proposed change was aborted (step 4: a shrink would push
// coverage below MinCoverage).
func Resize(current Arc, view PeerView, cfg config.Tunables) (Arc, bool) {
	// Step 1: estimate extrapolated coverage and sample size k.
	observed, k := estimateCoverage(current, view)
	if k == 0 {
		// No neighbor data: hold steady rather than guess.
		return current, true
	}

	// Step 2: r = midline_coverage / observed_coverage, clamped to [0.5, 2.0].
	midline := cfg.MinCoverage
	var r float64
	if observed <= 0 {
		r = 2.0
	} else {
		r = midline / observed
	}
	r = mathutil.Clamp(r, 0.5, 2.0)

	// Step 3: proportional count update: current count times r, rounded
	// to the nearest count by Quantize. The update is not damped by the
	// number k of intersecting neighbors, and it is not forced to move the
	// count by at least one.
	rawCount := float64(current.Count) * r
	proposed := current.Quantize(rawCount)

	// Step 4: abort a shrink that would push coverage below min_coverage.
	if r < 1.0 {
		projectedCoverage := observed * (rawCount / maxFloat(float64(current.Count), 1))
		if projectedCoverage < cfg.MinCoverage {
			return current, false
		}
	}

	medianPower := view.medianPower(current.Power)

	// Step 5: downshift power if count is too small and within bounds.
	if proposed.Count < cfg.MinChunks && current.Power > cfg.MinPower {
		if !tooFarBelowMedian(current.Power-1, medianPower, cfg.MaxPowerDiff) {
			proposed = proposed.Requantize(current.Power - 1)
		}
	}

	// Step 6: upshift power if count is too large, else cap at max_chunks.
	if proposed.Count > cfg.MaxChunks {
		newPower := current.Power + 1
		if newPower <= cfg.MaxPower && !tooFarAboveMedian(newPower, medianPower, cfg.MaxPowerDiff) {
			proposed = proposed.Requantize(newPower)
		} else {
			proposed.Count = cfg.MaxChunks
		}
	}

	// Step 7: snap to Full if the result covers the whole space.
	if proposed.IsFull() {
		return Full(current.Center), true
	}
	return proposed, true
}

func tooFarBelowMedian(power, median, maxDiff uint8) bool {
	if median < power {
		return false
	}
	return mathutil.AbsoluteDifference(uint64(median), uint64(power)) > uint64(maxDiff)
}

func tooFarAboveMedian(power, median, maxDiff uint8) bool {
	if power < median {
		return false
	}
	return mathutil.AbsoluteDifference(uint64(power), uint64(median)) > uint64(maxDiff)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
