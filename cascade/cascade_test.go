package cascade

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dhtmesh/cellcore/action"
	"github.com/dhtmesh/cellcore/dhtdb"
	"github.com/dhtmesh/cellcore/entry"
	"github.com/dhtmesh/cellcore/hash"
	"github.com/dhtmesh/cellcore/op"
	"github.com/dhtmesh/cellcore/sourcechain"
)

func testSetup(t *testing.T) (*Cascade, *dhtdb.DB) {
	t.Helper()
	sc, err := sourcechain.Open(filepath.Join(t.TempDir(), "chain.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { sc.Close() })

	vault, err := dhtdb.Open(filepath.Join(t.TempDir(), "dht.bolt"), 5)
	require.NoError(t, err)
	t.Cleanup(func() { vault.Close() })

	c, err := New(sc, vault, 16, nil)
	require.NoError(t, err)
	return c, vault
}

func TestGetFindsIntegratedOp(t *testing.T) {
	c, vault := testSetup(t)

	kp, err := hash.GenerateKeyPair()
	require.NoError(t, err)
	b := action.Builder{Author: kp.Public, Now: time.Unix(1700000000, 0).UTC()}
	e := entry.App{EntryType: "msg", Data: []byte("hi")}
	signed := b.Sign(kp, b.Create("msg", entry.Hash(e)))
	ops := op.Produce(signed, e)

	for _, o := range ops {
		_, err := vault.Insert(o)
		require.NoError(t, err)
		require.NoError(t, vault.Advance(o.Hash, dhtdb.StatusSysValidated, time.Now()))
		require.NoError(t, vault.Advance(o.Hash, dhtdb.StatusIntegrationLimbo, time.Now()))
		require.NoError(t, vault.Advance(o.Hash, dhtdb.StatusIntegratedValid, time.Now()))
	}

	found, ok, err := c.Get(context.Background(), ops[0].Hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, found.Hash.Equal(ops[0].Hash))
}

func TestGetMissesWithoutNetwork(t *testing.T) {
	c, _ := testSetup(t)
	_, ok, err := c.Get(context.Background(), hash.Of(hash.TypeOp, []byte("nowhere")))
	require.NoError(t, err)
	require.False(t, ok)
}

// countingNetwork is a cascade.NetworkCapability that serves exactly one
// fixed op and counts how many times Get is actually dialed out, so a test
// can assert the cache tier shields the network from repeat lookups.
type countingNetwork struct {
	op    op.Op
	calls int
}

func (n *countingNetwork) Get(_ context.Context, h hash.Hash) (op.Op, bool, error) {
	n.calls++
	if h.Equal(n.op.Hash) {
		return n.op, true, nil
	}
	return op.Op{}, false, nil
}

func (n *countingNetwork) GetLinks(context.Context, hash.Hash) ([]op.Op, error) { return nil, nil }

func (n *countingNetwork) GetAgentActivity(context.Context, hash.AgentPubKey) ([]op.Op, error) {
	return nil, nil
}

// TestGetPendingBeatsNetwork covers the cascade-precedence invariant for
// the lower tiers: an op held in the vault at a non-terminal (pending)
// status is served from the pending tier, so Get never falls through to
// the network for it.
func TestGetPendingBeatsNetwork(t *testing.T) {
	sc, err := sourcechain.Open(filepath.Join(t.TempDir(), "chain.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { sc.Close() })
	vault, err := dhtdb.Open(filepath.Join(t.TempDir(), "dht.bolt"), 5)
	require.NoError(t, err)
	t.Cleanup(func() { vault.Close() })

	kp, err := hash.GenerateKeyPair()
	require.NoError(t, err)
	b := action.Builder{Author: kp.Public, Now: time.Unix(1700000000, 0).UTC()}
	e := entry.App{EntryType: "msg", Data: []byte("pending")}
	signed := b.Sign(kp, b.Create("msg", entry.Hash(e)))
	ops := op.Produce(signed, e)
	var storeRecord op.Op
	for _, o := range ops {
		_, err := vault.Insert(o)
		require.NoError(t, err)
		if o.Kind == op.TypeStoreRecord {
			storeRecord = o
		}
	}
	// storeRecord stays at StatusPending: never advanced.

	net := &countingNetwork{op: storeRecord}
	c, err := New(sc, vault, 16, net)
	require.NoError(t, err)

	found, ok, err := c.Get(context.Background(), storeRecord.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, found.Hash.Equal(storeRecord.Hash))
	require.Zero(t, net.calls, "a pending record must be served locally, never falling through to the network")
}

// TestGetFallsBackToNetworkAndCachesTheResponse covers the remaining two
// tiers: when neither the vault nor the cache has an op, Get dials the
// network, and a second Get for the same hash is served from the cache
// without dialing out again.
func TestGetFallsBackToNetworkAndCachesTheResponse(t *testing.T) {
	c, _ := testSetup(t)

	remoteOp := op.Op{Hash: hash.Of(hash.TypeOp, []byte("remote")), AuthoredTs: time.Now().UnixNano()}
	net := &countingNetwork{op: remoteOp}
	c.network = net

	found, ok, err := c.Get(context.Background(), remoteOp.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, found.Hash.Equal(remoteOp.Hash))
	require.Equal(t, 1, net.calls)

	found, ok, err = c.Get(context.Background(), remoteOp.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, found.Hash.Equal(remoteOp.Hash))
	require.Equal(t, 1, net.calls, "second Get for the same hash must be served from cache, not the network")
}
