package sourcechain

import (
	"github.com/dhtmesh/cellcore/action"
	"github.com/dhtmesh/cellcore/hash"
)

// Fork describes two actions an author signed for the same sequence
// number — a chain fork.
type Fork struct {
	Seq     uint32
	Actions [2]action.Signed
}

// DetectForks scans a set of RegisterAgentActivity-derived actions for the
// same author and reports every sequence number occupied by more than one
// distinct action hash. Actions must all share the same author (a single
// well-behaved Store journal never forks itself). Nothing in this module
// calls it; the cascade's agent-activity query does not report forks.
func DetectForks(actions []action.Signed) []Fork {
	bySeq := map[uint32][]action.Signed{}
	for _, a := range actions {
		bySeq[a.Action.Seq()] = append(bySeq[a.Action.Seq()], a)
	}

	var forks []Fork
	for seq, group := range bySeq {
		distinct := dedupeByHash(group)
		if len(distinct) > 1 {
			f := Fork{Seq: seq}
			copy(f.Actions[:], distinct[:2])
			forks = append(forks, f)
		}
	}
	return forks
}

func dedupeByHash(actions []action.Signed) []action.Signed {
	seen := map[hash.Hash]bool{}
	var out []action.Signed
	for _, a := range actions {
		h := a.Hash()
		if !seen[h] {
			seen[h] = true
			out = append(out, a)
		}
	}
	return out
}
