package gossip

import (
	"github.com/cespare/xxhash/v2"
	"github.com/holiman/bloomfilter/v2"

	"github.com/dhtmesh/cellcore/hash"
	"github.com/dhtmesh/cellcore/internal/cellerr"
)

// BuildBloom constructs a Bloom filter over items, target false-positive
// rate fpRate (spec.md §4.8 phase 2/3: "target FP = 1%"), keyed by xxhash
// of each item's digest bytes.
func BuildBloom(items []hash.Hash, fpRate float64) (*bloomfilter.Filter, error) {
	n := uint64(len(items))
	if n == 0 {
		n = 1
	}
	f, err := bloomfilter.NewOptimal(n, fpRate)
	if err != nil {
		return nil, cellerr.Wrap(cellerr.Fatal, err, "build bloom filter")
	}
	for _, item := range items {
		f.Add(xxhashOf(item))
	}
	return f, nil
}

// MissingFrom returns the items in candidates the remote's filter does not
// contain — the MissingAgents/MissingOps reply (spec.md §4.8).
func MissingFrom(filter *bloomfilter.Filter, candidates []hash.Hash) []hash.Hash {
	var missing []hash.Hash
	for _, c := range candidates {
		if !filter.Contains(xxhashOf(c)) {
			missing = append(missing, c)
		}
	}
	return missing
}

func xxhashOf(h hash.Hash) *xxhash.Digest {
	d := xxhash.New()
	_, _ = d.Write(h.Digest[:])
	return d
}
