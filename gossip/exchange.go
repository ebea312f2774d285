package gossip

import (
	"time"

	"github.com/holiman/bloomfilter/v2"

	"github.com/dhtmesh/cellcore/arc"
	"github.com/dhtmesh/cellcore/hash"
	"github.com/dhtmesh/cellcore/internal/cellerr"
	"github.com/dhtmesh/cellcore/op"
)

// AgentBloomFP is the target false-positive rate for phase 2 agent-key
// Bloom filters (spec.md §4.8 phase 2: "target FP = 1%").
const AgentBloomFP = 0.01

// OpBloomFP is the target false-positive rate for phase 3 recent-op Bloom
// filters.
const OpBloomFP = 0.01

// BuildAgentBloom constructs this node's phase 2 outgoing filter over
// localAgents exactly as given. It does not filter them by the round's
// common arc-set and does not encode the filter for the wire.
func (sm *StateMachine) BuildAgentBloom(remote RemoteCert, localAgents []hash.Hash) (*bloomfilter.Filter, error) {
	sm.mu.Lock()
	r, ok := sm.rounds[remote]
	sm.mu.Unlock()
	if !ok {
		return nil, cellerr.New(cellerr.ProtocolMismatch, "build agent bloom: no round for remote")
	}
	if r.Phase != PhaseAgents {
		return nil, cellerr.New(cellerr.ProtocolMismatch, "build agent bloom: round not in agents phase")
	}
	return BuildBloom(localAgents, AgentBloomFP)
}

// MissingAgents computes which of localAgents the remote's received filter
// (as decoded from the wire) does not contain, then advances the round to
// the ops phase — spec.md §4.8 phase 2 completion.
func (sm *StateMachine) MissingAgents(remote RemoteCert, remoteFilterAgents []hash.Hash, localAgents []hash.Hash) ([]hash.Hash, error) {
	f, err := BuildBloom(remoteFilterAgents, AgentBloomFP)
	if err != nil {
		return nil, err
	}
	missing := MissingFrom(f, localAgents)
	if err := sm.AdvancePhase(remote, PhaseOps); err != nil {
		return nil, err
	}
	return missing, nil
}

// OpsExchangeResult is what a phase 3 round step produces: the ops missing
// locally (to request) grouped by which exchange variant produced them.
type OpsExchangeResult struct {
	MissingRecent     []hash.Hash
	MismatchedRegions []arc.Region
}

// RunOpsPhase runs spec.md §4.8 phase 3 for one round: the Recent variant
// Bloom-diffs ops authored within recentWindow of now; the Historical
// variant diffs region digests built over the full common arc-set and time
// range. Both variants' missing sets are returned together; the caller
// fetches each hash named and hands the response to EnqueueIncoming.
func (sm *StateMachine) RunOpsPhase(remote RemoteCert, localRecent, remoteRecent []op.Op, localRegions, remoteRegions []arc.Region, now time.Time, recentWindow time.Duration) (OpsExchangeResult, error) {
	sm.mu.Lock()
	r, ok := sm.rounds[remote]
	if ok {
		r.NumOpsBlooms++
	}
	sm.mu.Unlock()
	if !ok {
		return OpsExchangeResult{}, cellerr.New(cellerr.ProtocolMismatch, "run ops phase: no round for remote")
	}

	localWindowed := RecentWindow(localRecent, now, recentWindow)
	remoteWindowed := RecentWindow(remoteRecent, now, recentWindow)
	localHashes := make([]hash.Hash, 0, len(localWindowed))
	for _, o := range localWindowed {
		localHashes = append(localHashes, o.Hash)
	}
	f, err := BuildBloom(localHashes, OpBloomFP)
	if err != nil {
		return OpsExchangeResult{}, err
	}
	remoteHashes := make([]hash.Hash, 0, len(remoteWindowed))
	for _, o := range remoteWindowed {
		remoteHashes = append(remoteHashes, o.Hash)
	}
	missingRecent := MissingFrom(f, remoteHashes)

	mismatched := HistoricalDiff(localRegions, remoteRegions)

	return OpsExchangeResult{MissingRecent: missingRecent, MismatchedRegions: mismatched}, nil
}

// FinishOpsPhase marks this round's ops exchange complete in both
// directions and advances to the integration phase (spec.md §4.8: "round
// terminates when both directions have finished=true").
func (sm *StateMachine) FinishOpsPhase(remote RemoteCert) error {
	sm.mu.Lock()
	r, ok := sm.rounds[remote]
	if ok {
		r.IncrementOpsComplete = true
	}
	sm.mu.Unlock()
	if !ok {
		return cellerr.New(cellerr.ProtocolMismatch, "finish ops phase: no round for remote")
	}
	return sm.AdvancePhase(remote, PhaseIntegration)
}
