package appvalidation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dhtmesh/cellcore/action"
	"github.com/dhtmesh/cellcore/cascade"
	"github.com/dhtmesh/cellcore/dhtdb"
	"github.com/dhtmesh/cellcore/entry"
	"github.com/dhtmesh/cellcore/hash"
	"github.com/dhtmesh/cellcore/op"
	"github.com/dhtmesh/cellcore/sourcechain"
)

type fixedDefs struct{ kind PackageKind }

func (f fixedDefs) PackageFor(string) PackageKind { return f.kind }

func sysValidatedOps(t *testing.T, vault *dhtdb.DB) []op.Op {
	t.Helper()
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
	}
	return ops
}

func testWorker(t *testing.T, cb Callback, defs EntryDef) (*Worker, *dhtdb.DB) {
	t.Helper()
	sc, err := sourcechain.Open(filepath.Join(t.TempDir(), "chain.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { sc.Close() })

	vault, err := dhtdb.Open(filepath.Join(t.TempDir(), "dht.bolt"), 5)
	require.NoError(t, err)
	t.Cleanup(func() { vault.Close() })

	c, err := cascade.New(sc, vault, 16, nil)
	require.NoError(t, err)

	w := NewWorker(Deps{
		Vault:    vault,
		Cascade:  c,
		Temporal: cascade.NewTemporalReader(vault, 0),
		Defs:     defs,
		Callback: cb,
	})
	return w, vault
}

func TestRunOnceIntegratesValidOps(t *testing.T) {
	w, vault := testWorker(t, AlwaysValid{}, fixedDefs{kind: PackageElement})
	ops := sysValidatedOps(t, vault)

	advanced, err := w.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, len(ops), advanced)

	for _, o := range ops {
		rec, ok, err := vault.Get(o.Hash)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, dhtdb.StatusIntegrationLimbo, rec.Status)
	}
}

type rejectAll struct{}

func (rejectAll) Validate(context.Context, Element, Package) Outcome {
	return InvalidOutcome("rejected by policy")
}

func TestRunOnceRejectsInvalidOps(t *testing.T) {
	w, vault := testWorker(t, rejectAll{}, fixedDefs{kind: PackageElement})
	ops := sysValidatedOps(t, vault)

	_, err := w.RunOnce(context.Background(), 0)
	require.NoError(t, err)

	found := false
	for _, o := range ops {
		rec, ok, err := vault.Get(o.Hash)
		require.NoError(t, err)
		require.True(t, ok)
		if o.Kind != op.TypeRegisterAgentActivity {
			require.Equal(t, dhtdb.StatusIntegratedRejected, rec.Status)
			found = true
		}
	}
	require.True(t, found)
}

type awaitOnce struct{ dep hash.Hash }

func (a awaitOnce) Validate(context.Context, Element, Package) Outcome {
	return AwaitingOutcome(a.dep)
}

func TestRunOnceParksOpsAwaitingDeps(t *testing.T) {
	dep := hash.Of(hash.TypeAction, []byte("missing"))
	w, vault := testWorker(t, awaitOnce{dep: dep}, fixedDefs{kind: PackageElement})
	ops := sysValidatedOps(t, vault)

	advanced, err := w.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	require.Less(t, advanced, len(ops))

	due, err := vault.DueForRetry(dep)
	require.NoError(t, err)
	require.NotEmpty(t, due)
}
