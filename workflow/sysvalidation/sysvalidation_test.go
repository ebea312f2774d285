package sysvalidation

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

func testWorker(t *testing.T) (*Worker, *dhtdb.DB, hash.KeyPair) {
	t.Helper()
	sc, err := sourcechain.Open(filepath.Join(t.TempDir(), "chain.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { sc.Close() })

	vault, err := dhtdb.Open(filepath.Join(t.TempDir(), "dht.bolt"), 5)
	require.NoError(t, err)
	t.Cleanup(func() { vault.Close() })

	c, err := cascade.New(sc, vault, 16, nil)
	require.NoError(t, err)

	kp, err := hash.GenerateKeyPair()
	require.NoError(t, err)

	return NewWorker(Deps{Vault: vault, Cascade: c}), vault, kp
}

func TestRunOnceAdvancesGenesisCreateToSysValidated(t *testing.T) {
	w, vault, kp := testWorker(t)

	b := action.Builder{Author: kp.Public, Now: time.Unix(1700000000, 0).UTC()}
	e := entry.App{EntryType: "msg", Data: []byte("hi")}
	signed := b.Sign(kp, b.Create("msg", entry.Hash(e)))
	ops := op.Produce(signed, e)
	for _, o := range ops {
		_, err := vault.Insert(o)
		require.NoError(t, err)
	}

	advanced, err := w.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, len(ops), advanced)

	for _, o := range ops {
		rec, ok, err := vault.Get(o.Hash)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, dhtdb.StatusSysValidated, rec.Status)
	}
}

func TestRunOnceRejectsTamperedSignature(t *testing.T) {
	w, vault, kp := testWorker(t)

	b := action.Builder{Author: kp.Public, Now: time.Unix(1700000000, 0).UTC()}
	e := entry.App{EntryType: "msg", Data: []byte("hi")}
	signed := b.Sign(kp, b.Create("msg", entry.Hash(e)))
	signed.Signature[0] ^= 0xFF
	ops := op.Produce(signed, e)
	for _, o := range ops {
		_, err := vault.Insert(o)
		require.NoError(t, err)
	}

	_, err := w.RunOnce(context.Background(), 0)
	require.NoError(t, err)

	rec, ok, err := vault.Get(ops[0].Hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dhtdb.StatusIntegratedRejected, rec.Status)
}

// TestRunOnceRejectsTimestampRegressionOverPrev covers spec.md §8's chain-
// linkage invariant: a non-genesis action whose timestamp precedes its
// prev's timestamp fails sys-validation's header-seq/timestamp monotonic
// check even though its own signature and prev-resolution are both fine.
func TestRunOnceRejectsTimestampRegressionOverPrev(t *testing.T) {
	w, vault, kp := testWorker(t)

	earlier := time.Unix(1700000000, 0).UTC()
	b := action.Builder{Author: kp.Public, Now: earlier}
	e1 := entry.App{EntryType: "msg", Data: []byte("a")}
	first := b.Sign(kp, b.Create("msg", entry.Hash(e1)))
	for _, o := range op.Produce(first, e1) {
		_, err := vault.Insert(o)
		require.NoError(t, err)
	}
	_, err := w.RunOnce(context.Background(), 0)
	require.NoError(t, err)

	b.Head = action.ChainHead{NextSeq: first.Action.Seq() + 1, Hash: first.Hash(), HasHead: true}
	b.Now = earlier.Add(-time.Second) // regresses instead of advancing
	e2 := entry.App{EntryType: "msg", Data: []byte("b")}
	second := b.Sign(kp, b.Create("msg", entry.Hash(e2)))
	secondOps := op.Produce(second, e2)
	for _, o := range secondOps {
		_, err := vault.Insert(o)
		require.NoError(t, err)
	}

	_, err = w.RunOnce(context.Background(), 0)
	require.NoError(t, err)

	var storeRecord op.Op
	for _, o := range secondOps {
		if o.Kind == op.TypeStoreRecord {
			storeRecord = o
		}
	}
	rec, ok, err := vault.Get(storeRecord.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dhtdb.StatusIntegratedRejected, rec.Status)
}

// TestRunOnceParksRemoveLinkOnUnresolvableAddRatherThanRejecting covers the
// out-of-order delivery spec.md §7 names explicitly: a DeleteLink whose own
// chain lineage is fully resolvable but whose CreateLink target (a
// different author's action, arriving over the network) is not yet known
// locally must park AwaitingSysDeps and later clear on retry — never be
// rejected outright.
func TestRunOnceParksRemoveLinkOnUnresolvableAddRatherThanRejecting(t *testing.T) {
	w, vault, _ := testWorker(t)
	now := time.Unix(1700000000, 0).UTC()

	authorKP, err := hash.GenerateKeyPair()
	require.NoError(t, err)
	remoteBuilder := action.Builder{Author: authorKP.Public, Now: now}
	linkEntry := entry.App{EntryType: "msg", Data: []byte("remote")}
	_ = remoteBuilder.Sign(authorKP, remoteBuilder.Create("msg", entry.Hash(linkEntry)))
	link := remoteBuilder.Sign(authorKP, remoteBuilder.CreateLink(0, 0, entry.Hash(linkEntry), entry.Hash(linkEntry), []byte("t")))
	// link's ops are deliberately never inserted: its CreateLink is not yet
	// known locally when the remove arrives.

	removerKP, err := hash.GenerateKeyPair()
	require.NoError(t, err)
	b := action.Builder{Author: removerKP.Public, Now: now}
	ownEntry := entry.App{EntryType: "msg", Data: []byte("own")}
	own := b.Sign(removerKP, b.Create("msg", entry.Hash(ownEntry)))
	for _, o := range op.Produce(own, ownEntry) {
		_, err := vault.Insert(o)
		require.NoError(t, err)
	}

	b.Head = action.ChainHead{NextSeq: own.Action.Seq() + 1, Hash: own.Hash(), HasHead: true}
	unlink := b.Sign(removerKP, b.DeleteLink(entry.Hash(linkEntry), link.Hash()))
	unlinkOps := op.Produce(unlink, nil)
	for _, o := range unlinkOps {
		_, err := vault.Insert(o)
		require.NoError(t, err)
	}

	_, err = w.RunOnce(context.Background(), 0)
	require.NoError(t, err)

	var removeLink op.Op
	for _, o := range unlinkOps {
		if o.Kind == op.TypeRegisterRemoveLink {
			removeLink = o
		}
	}
	rec, ok, err := vault.Get(removeLink.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dhtdb.StatusAwaitingSysDeps, rec.Status, "must park, not reject, while the add it references is unresolved")

	for _, o := range op.Produce(link, linkEntry) {
		_, err := vault.Insert(o)
		require.NoError(t, err)
	}
	require.NoError(t, w.Retry(link.Hash()))

	rec, ok, err = vault.Get(removeLink.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dhtdb.StatusSysValidated, rec.Status)
}
