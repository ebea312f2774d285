// Package gossip implements spec.md §4.8: the sharded gossip protocol by
// which peers exchange Bloom-filtered summaries of agents and ops over
// their common arc-set and fetch what they lack.
package gossip

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dhtmesh/cellcore/arc"
	"github.com/dhtmesh/cellcore/internal/cellerr"
	"github.com/dhtmesh/cellcore/internal/clog"
)

// RemoteCert identifies a remote peer for round bookkeeping.
type RemoteCert string

// Phase is a round's position in the four-phase protocol of spec.md §4.8.
type Phase int

const (
	PhaseInitiateAccept Phase = iota
	PhaseAgents
	PhaseOps
	PhaseIntegration
)

// RoundState is the per-remote bookkeeping spec.md §4.8 names explicitly.
type RoundState struct {
	RoundID              uuid.UUID
	Remote               RemoteCert
	CommonArcSet         arc.Set
	Phase                Phase
	NumOpsBlooms         int
	IncrementOpsComplete bool
	CreatedAt            time.Time
	RoundTimeout         time.Duration
}

func (r RoundState) expired(now time.Time) bool {
	return now.Sub(r.CreatedAt) > r.RoundTimeout
}

// StateMachine owns the set of in-progress rounds for one local agent.
type StateMachine struct {
	mu     sync.Mutex
	rounds map[RemoteCert]*RoundState
	log    clog.Logger

	localArcs arc.Set
	hasAgents func() bool
}

// NewStateMachine builds an empty state machine. hasAgents reports whether
// the local Cell holds any agents (used by the NoAgents rejection path).
func NewStateMachine(localArcs arc.Set, hasAgents func() bool) *StateMachine {
	return &StateMachine{
		rounds:    map[RemoteCert]*RoundState{},
		log:       clog.Named("gossip"),
		localArcs: localArcs,
		hasAgents: hasAgents,
	}
}

// InitiateRequest is the Phase 1 Initiate payload.
type InitiateRequest struct {
	ArcIntervals arc.Set
	AsAtTime     time.Time
	LocalTime    time.Time
	TopologyHash [32]byte
}

// AcceptParams configures the protocol-mismatch checks of spec.md §4.8.
type AcceptParams struct {
	MaxTimeOffset       time.Duration
	MaxSpacePowerOffset uint8
	RoundTimeout        time.Duration

	// LocalTopologyHash identifies the local network/DNA topology this
	// state machine is gossiping within. A mismatch against the remote's
	// hash means the two sides are not speaking about the same DHT space.
	LocalTopologyHash [32]byte
}

// HandleInitiate processes an incoming Initiate and returns the accepted
// common arc-set, or an error classified per spec.md §7 "Protocol mismatch"
// / "Capacity" taxonomy.
func (sm *StateMachine) HandleInitiate(remote RemoteCert, req InitiateRequest, params AcceptParams, now time.Time) (arc.Set, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.hasAgents != nil && !sm.hasAgents() {
		return arc.Set{}, cellerr.Wrap(cellerr.ProtocolMismatch, cellerr.ErrNoAgents, "gossip initiate")
	}
	if _, exists := sm.rounds[remote]; exists {
		return arc.Set{}, cellerr.Wrap(cellerr.ProtocolMismatch, cellerr.ErrAlreadyInProgress, "gossip initiate")
	}
	skew := req.LocalTime.Sub(req.AsAtTime)
	if skew < 0 {
		skew = -skew
	}
	if skew > params.MaxTimeOffset {
		return arc.Set{}, cellerr.Wrap(cellerr.ProtocolMismatch, cellerr.ErrTimeSkew, "gossip initiate")
	}
	if powerDiffTooLarge(sm.localArcs, req.ArcIntervals, params.MaxSpacePowerOffset) {
		return arc.Set{}, cellerr.Wrap(cellerr.ProtocolMismatch, cellerr.ErrArqPowerDiffTooLarge, "gossip initiate")
	}
	if params.LocalTopologyHash != ([32]byte{}) && req.TopologyHash != ([32]byte{}) && params.LocalTopologyHash != req.TopologyHash {
		return arc.Set{}, cellerr.Wrap(cellerr.ProtocolMismatch, cellerr.ErrTopologyMismatch, "gossip initiate")
	}

	common := arc.Intersect(sm.localArcs, req.ArcIntervals)
	sm.rounds[remote] = &RoundState{
		RoundID:      newRoundID(),
		Remote:       remote,
		CommonArcSet: common,
		Phase:        PhaseAgents,
		CreatedAt:    now,
		RoundTimeout: params.RoundTimeout,
	}
	sm.log.Info("accepted gossip round", "remote", remote, "arcs", len(common.Arcs))
	return common, nil
}

func powerDiffTooLarge(a, b arc.Set, maxDiff uint8) bool {
	if len(a.Arcs) == 0 || len(b.Arcs) == 0 {
		return false
	}
	ap, bp := a.Arcs[0].Power, b.Arcs[0].Power
	var diff uint8
	if ap > bp {
		diff = ap - bp
	} else {
		diff = bp - ap
	}
	return diff > maxDiff
}

var newRoundID = uuid.New

// AdvancePhase moves remote's round to the next phase once its current
// phase's exchange has completed.
func (sm *StateMachine) AdvancePhase(remote RemoteCert, next Phase) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	r, ok := sm.rounds[remote]
	if !ok {
		return cellerr.New(cellerr.ProtocolMismatch, "advance: no round for remote")
	}
	r.Phase = next
	return nil
}

// CompleteRound marks remote's round finished in both directions (spec.md
// §4.8: "terminates when both directions have finished=true and all
// MissingOps have been acknowledged") and removes it from the map.
func (sm *StateMachine) CompleteRound(remote RemoteCert) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.rounds, remote)
}

// ExpireStale removes any round whose age exceeds its RoundTimeout,
// freeing the initiate_tgt slot it held (spec.md §4.8 round-state expiry).
// Call this from a ticker loop; it returns the remotes it expired.
func (sm *StateMachine) ExpireStale(now time.Time) []RemoteCert {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	var expired []RemoteCert
	for remote, r := range sm.rounds {
		if r.expired(now) {
			expired = append(expired, remote)
			delete(sm.rounds, remote)
		}
	}
	if len(expired) > 0 {
		sm.log.Debug("expired stale gossip rounds", "count", len(expired))
	}
	return expired
}

// RoundFor returns a copy of the round state for remote, if any.
func (sm *StateMachine) RoundFor(remote RemoteCert) (RoundState, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	r, ok := sm.rounds[remote]
	if !ok {
		return RoundState{}, false
	}
	return *r, true
}
