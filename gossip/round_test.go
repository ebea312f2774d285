package gossip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dhtmesh/cellcore/arc"
)

func testParams() AcceptParams {
	return AcceptParams{
		MaxTimeOffset:       2 * time.Minute,
		MaxSpacePowerOffset: 2,
		RoundTimeout:        60 * time.Second,
	}
}

func TestHandleInitiateRejectsNoAgents(t *testing.T) {
	sm := NewStateMachine(arc.Set{Arcs: []arc.Arc{arc.Full(0)}}, func() bool { return false })
	now := time.Unix(1700000000, 0).UTC()
	_, err := sm.HandleInitiate("peer1", InitiateRequest{
		ArcIntervals: arc.Set{Arcs: []arc.Arc{arc.Full(0)}},
		AsAtTime:     now,
		LocalTime:    now,
	}, testParams(), now)
	require.Error(t, err)
}

func TestHandleInitiateRejectsAlreadyInProgress(t *testing.T) {
	sm := NewStateMachine(arc.Set{Arcs: []arc.Arc{arc.Full(0)}}, func() bool { return true })
	now := time.Unix(1700000000, 0).UTC()
	req := InitiateRequest{ArcIntervals: arc.Set{Arcs: []arc.Arc{arc.Full(0)}}, AsAtTime: now, LocalTime: now}

	_, err := sm.HandleInitiate("peer1", req, testParams(), now)
	require.NoError(t, err)

	_, err = sm.HandleInitiate("peer1", req, testParams(), now)
	require.Error(t, err)
}

func TestHandleInitiateRejectsTimeSkew(t *testing.T) {
	sm := NewStateMachine(arc.Set{Arcs: []arc.Arc{arc.Full(0)}}, func() bool { return true })
	now := time.Unix(1700000000, 0).UTC()
	req := InitiateRequest{
		ArcIntervals: arc.Set{Arcs: []arc.Arc{arc.Full(0)}},
		AsAtTime:     now.Add(-10 * time.Minute),
		LocalTime:    now,
	}
	_, err := sm.HandleInitiate("peer1", req, testParams(), now)
	require.Error(t, err)
}

func TestHandleInitiateRejectsTopologyMismatch(t *testing.T) {
	sm := NewStateMachine(arc.Set{Arcs: []arc.Arc{arc.Full(0)}}, func() bool { return true })
	now := time.Unix(1700000000, 0).UTC()
	params := testParams()
	params.LocalTopologyHash = [32]byte{1}
	req := InitiateRequest{
		ArcIntervals: arc.Set{Arcs: []arc.Arc{arc.Full(0)}},
		AsAtTime:     now,
		LocalTime:    now,
		TopologyHash: [32]byte{2},
	}
	_, err := sm.HandleInitiate("peer1", req, params, now)
	require.Error(t, err)
}

func TestExpireStaleRemovesOldRounds(t *testing.T) {
	sm := NewStateMachine(arc.Set{Arcs: []arc.Arc{arc.Full(0)}}, func() bool { return true })
	now := time.Unix(1700000000, 0).UTC()
	req := InitiateRequest{ArcIntervals: arc.Set{Arcs: []arc.Arc{arc.Full(0)}}, AsAtTime: now, LocalTime: now}
	_, err := sm.HandleInitiate("peer1", req, testParams(), now)
	require.NoError(t, err)

	expired := sm.ExpireStale(now.Add(2 * time.Minute))
	require.Equal(t, []RemoteCert{"peer1"}, expired)

	_, ok := sm.RoundFor("peer1")
	require.False(t, ok)
}
