package gossip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dhtmesh/cellcore/arc"
	"github.com/dhtmesh/cellcore/hash"
	"github.com/dhtmesh/cellcore/op"
)

func acceptedRound(t *testing.T) *StateMachine {
	t.Helper()
	sm := NewStateMachine(arc.Set{Arcs: []arc.Arc{arc.Full(0)}}, func() bool { return true })
	now := time.Unix(1700000000, 0).UTC()
	req := InitiateRequest{ArcIntervals: arc.Set{Arcs: []arc.Arc{arc.Full(0)}}, AsAtTime: now, LocalTime: now}
	_, err := sm.HandleInitiate("peer1", req, testParams(), now)
	require.NoError(t, err)
	return sm
}

func TestMissingAgentsAdvancesToOpsPhase(t *testing.T) {
	sm := acceptedRound(t)
	local := []hash.Hash{hash.Of(hash.TypeAgent, []byte("a")), hash.Of(hash.TypeAgent, []byte("b"))}
	remote := []hash.Hash{local[0]}

	missing, err := sm.MissingAgents("peer1", remote, local)
	require.NoError(t, err)
	require.Equal(t, []hash.Hash{local[1]}, missing)

	r, ok := sm.RoundFor("peer1")
	require.True(t, ok)
	require.Equal(t, PhaseOps, r.Phase)
}

func TestRunOpsPhaseFindsMissingRecentAndMismatchedRegions(t *testing.T) {
	sm := acceptedRound(t)
	_, err := sm.MissingAgents("peer1", nil, nil)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	localOp := op.Op{Hash: hash.Of(hash.TypeOp, []byte("local")), AuthoredTs: now.UnixNano()}
	remoteOp := op.Op{Hash: hash.Of(hash.TypeOp, []byte("remote")), AuthoredTs: now.UnixNano()}

	localRegion := arc.NewRegion(arc.Full(0), 0, 1).Add(localOp.Hash)
	remoteRegion := arc.NewRegion(arc.Full(0), 0, 1).Add(remoteOp.Hash)

	result, err := sm.RunOpsPhase("peer1", []op.Op{localOp}, []op.Op{remoteOp},
		[]arc.Region{localRegion}, []arc.Region{remoteRegion}, now, time.Hour)
	require.NoError(t, err)
	require.Equal(t, []hash.Hash{remoteOp.Hash}, result.MissingRecent)
	require.Len(t, result.MismatchedRegions, 2)

	require.NoError(t, sm.FinishOpsPhase("peer1"))
	r, ok := sm.RoundFor("peer1")
	require.True(t, ok)
	require.Equal(t, PhaseIntegration, r.Phase)
	require.True(t, r.IncrementOpsComplete)
}
