package opproduction

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dhtmesh/cellcore/action"
	"github.com/dhtmesh/cellcore/dhtdb"
	"github.com/dhtmesh/cellcore/entry"
	"github.com/dhtmesh/cellcore/hash"
)

func TestProduceIsIdempotentAcrossCalls(t *testing.T) {
	vault, err := dhtdb.Open(filepath.Join(t.TempDir(), "dht.bolt"), 5)
	require.NoError(t, err)
	t.Cleanup(func() { vault.Close() })

	kp, err := hash.GenerateKeyPair()
	require.NoError(t, err)
	b := action.Builder{Author: kp.Public, Now: time.Unix(1700000000, 0).UTC()}
	e := entry.App{EntryType: "msg", Data: []byte("hi")}
	signed := b.Sign(kp, b.Create("msg", entry.Hash(e)))

	w := NewWorker(vault)
	first, err := w.Produce(signed, e)
	require.NoError(t, err)
	require.Greater(t, first, 0)

	second, err := w.Produce(signed, e)
	require.NoError(t, err)
	require.Equal(t, 0, second)
}
