package integration

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
)

func TestRunOnceIntegratesLimboOpsAndPopulatesIndices(t *testing.T) {
	vault, err := dhtdb.Open(filepath.Join(t.TempDir(), "dht.bolt"), 5)
	require.NoError(t, err)
	t.Cleanup(func() { vault.Close() })

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
	}

	w := NewWorker(vault)
	installed, err := w.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, len(ops), installed)

	for _, o := range ops {
		rec, ok, err := vault.Get(o.Hash)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, dhtdb.StatusIntegratedValid, rec.Status)
	}

	var storeEntryOp op.Op
	for _, o := range ops {
		if o.Kind == op.TypeStoreEntry {
			storeEntryOp = o
		}
	}
	actions, err := vault.EntryActions(storeEntryOp.Basis)
	require.NoError(t, err)
	require.Contains(t, actions, storeEntryOp.ActionHash)
}

func TestRunOnceIsIdempotent(t *testing.T) {
	vault, err := dhtdb.Open(filepath.Join(t.TempDir(), "dht.bolt"), 5)
	require.NoError(t, err)
	t.Cleanup(func() { vault.Close() })

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
	}

	w := NewWorker(vault)
	_, err = w.RunOnce(context.Background(), 0)
	require.NoError(t, err)

	second, err := w.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 0, second)
}
