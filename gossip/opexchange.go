package gossip

import (
	"time"

	"github.com/dhtmesh/cellcore/arc"
	"github.com/dhtmesh/cellcore/hash"
	"github.com/dhtmesh/cellcore/internal/clog"
	"github.com/dhtmesh/cellcore/op"
)

// MetricsSink is the observability hook spec.md §9 describes as internal
// to the original gossip module even though application-facing metrics
// are a Non-goal: an embedder may attach one to count rounds per phase.
// Gossip itself never reads these counts back.
type MetricsSink interface {
	RoundStarted(remote RemoteCert)
	RoundCompleted(remote RemoteCert, phase Phase)
	OpsTransferred(remote RemoteCert, count int)
}

// NoopMetrics is the default MetricsSink: every call is a no-op.
type NoopMetrics struct{}

func (NoopMetrics) RoundStarted(RemoteCert)             {}
func (NoopMetrics) RoundCompleted(RemoteCert, Phase)    {}
func (NoopMetrics) OpsTransferred(RemoteCert, int)      {}

// RecentWindow selects the ops authored within window of now — the Recent
// op-exchange variant of spec.md §4.8, windowed by Tunables.RecentWindow.
func RecentWindow(ops []op.Op, now time.Time, window time.Duration) []op.Op {
	cutoff := now.Add(-window).UnixNano()
	var out []op.Op
	for _, o := range ops {
		if o.AuthoredTs >= cutoff {
			out = append(out, o)
		}
	}
	return out
}

// HistoricalDiff computes the mismatched regions between local and remote
// region sets over the same space/time grid — ops in mismatched regions
// are the ones spec.md §4.8's Historical variant fetches.
func HistoricalDiff(local, remote []arc.Region) []arc.Region {
	remoteByKey := make(map[[32]byte]arc.Region, len(remote))
	for _, r := range remote {
		remoteByKey[r.CombinedDigest()] = r
	}

	var mismatched []arc.Region
	seen := map[[32]byte]bool{}
	for _, l := range local {
		seen[l.CombinedDigest()] = true
		if r, ok := remoteByKey[l.CombinedDigest()]; !ok || l.Mismatched(r) {
			mismatched = append(mismatched, l)
		}
	}
	for _, r := range remote {
		if !seen[r.CombinedDigest()] {
			mismatched = append(mismatched, r)
		}
	}
	return mismatched
}

// checkIncomingQueueDepth is called by EnqueueIncoming; when depth
// exceeds warnLen, ops are
// still accepted (spec.md §4.8 never says to drop them) but a Warn is
// logged so an operator can see gossip outpacing integration.
func checkIncomingQueueDepth(log clog.Logger, remote RemoteCert, depth, warnLen int) {
	if depth > warnLen {
		log.Warn("gossip incoming queue depth exceeds warning threshold", "remote", remote, "depth", depth, "warn_len", warnLen)
	}
}

// EnqueueIncoming hands received ops to the validation limbo (D) with
// Pending status — spec.md §4.8 phase 4: "no ordering relative to gossip
// required". Enqueue is the caller-supplied function (dhtdb.DB.Insert);
// this just applies the queue-depth warning and op-hash dedup the gossip
// layer owns.
func EnqueueIncoming(log clog.Logger, remote RemoteCert, ops []op.Op, queueDepth, warnLen int, enqueue func(op.Op) (bool, error)) (inserted int, err error) {
	checkIncomingQueueDepth(log, remote, queueDepth+len(ops), warnLen)
	seen := map[hash.Hash]bool{}
	for _, o := range ops {
		if seen[o.Hash] {
			continue
		}
		seen[o.Hash] = true
		ok, err := enqueue(o)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}
