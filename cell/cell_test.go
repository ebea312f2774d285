package cell

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dhtmesh/cellcore/action"
	"github.com/dhtmesh/cellcore/cascade"
	"github.com/dhtmesh/cellcore/entry"
	"github.com/dhtmesh/cellcore/hash"
	"github.com/dhtmesh/cellcore/internal/config"
	"github.com/dhtmesh/cellcore/internal/testutil"
	"github.com/dhtmesh/cellcore/op"
	"github.com/dhtmesh/cellcore/workflow/appvalidation"
	"github.com/dhtmesh/cellcore/workflow/publish"
)

type noPeers struct{}

func (noPeers) PeersCovering(uint32) []publish.Peer { return nil }

type noTransport struct{}

func (noTransport) SendOp(context.Context, publish.Peer, op.Op) error { return nil }

func TestCreateFailsWithoutGenesis(t *testing.T) {
	chain := testutil.OpenChain(t)
	vault := testutil.OpenVault(t, 5)
	c, err := cascade.New(chain, vault, 16, testutil.NoNetwork{})
	require.NoError(t, err)

	handles := Handles{
		Chain:       chain,
		Vault:       vault,
		Cascade:     c,
		Directory:   noPeers{},
		Transport:   noTransport{},
		AppCallback: appvalidation.AlwaysValid{},
	}
	_, err = Create(context.Background(), "cell1", filepath.Join(t.TempDir(), "cell"), handles, config.DefaultTunables(), nil)
	require.Error(t, err)
}

func TestCreateSucceedsAfterGenesisThenShutsDownCleanly(t *testing.T) {
	chain := testutil.OpenChain(t)
	vault := testutil.OpenVault(t, 5)
	c, err := cascade.New(chain, vault, 16, testutil.NoNetwork{})
	require.NoError(t, err)

	kp := testutil.KeyPair(t)
	now := time.Unix(1700000000, 0).UTC()
	b := action.Builder{Author: kp.Public, Now: now}
	dna := b.Sign(kp, b.Dna(hash.Of(hash.TypeDna, []byte("dna"))))
	b.Head = action.ChainHead{NextSeq: 1, Hash: dna.Hash(), HasHead: true}
	avp := b.Sign(kp, b.AgentValidationPkg(nil))
	b.Head = action.ChainHead{NextSeq: 2, Hash: avp.Hash(), HasHead: true}
	agentEntry := entry.AgentKeyEntry{Key: kp.Public}
	create := b.Sign(kp, b.Create("agent_key", entry.Hash(agentEntry)))
	require.NoError(t, chain.Genesis(dna, avp, create, agentEntry))

	handles := Handles{
		Chain:       chain,
		Vault:       vault,
		Cascade:     c,
		Directory:   noPeers{},
		Transport:   noTransport{},
		AppCallback: appvalidation.AlwaysValid{},
	}
	cl, err := Create(context.Background(), "cell1", filepath.Join(t.TempDir(), "cell"), handles, config.DefaultTunables(), nil)
	require.NoError(t, err)
	require.NoError(t, cl.Shutdown())
}

// TestEnsureInitRunsCallbackExactlyOnceUnderConcurrency is spec.md §8's
// init-serialization invariant: two concurrent callers on a fresh Cell
// trigger exactly one execution of the init callback; the second waits
// and proceeds after the first's success rather than re-running it.
func TestEnsureInitRunsCallbackExactlyOnceUnderConcurrency(t *testing.T) {
	chain := testutil.OpenChain(t)
	vault := testutil.OpenVault(t, 5)
	c, err := cascade.New(chain, vault, 16, testutil.NoNetwork{})
	require.NoError(t, err)

	kp := testutil.KeyPair(t)
	now := time.Unix(1700000000, 0).UTC()
	b := action.Builder{Author: kp.Public, Now: now}
	dna := b.Sign(kp, b.Dna(hash.Of(hash.TypeDna, []byte("dna"))))
	b.Head = action.ChainHead{NextSeq: 1, Hash: dna.Hash(), HasHead: true}
	avp := b.Sign(kp, b.AgentValidationPkg(nil))
	b.Head = action.ChainHead{NextSeq: 2, Hash: avp.Hash(), HasHead: true}
	agentEntry := entry.AgentKeyEntry{Key: kp.Public}
	create := b.Sign(kp, b.Create("agent_key", entry.Hash(agentEntry)))
	require.NoError(t, chain.Genesis(dna, avp, create, agentEntry))

	handles := Handles{
		Chain:       chain,
		Vault:       vault,
		Cascade:     c,
		Directory:   noPeers{},
		Transport:   noTransport{},
		AppCallback: appvalidation.AlwaysValid{},
	}
	cl, err := Create(context.Background(), "cell2", filepath.Join(t.TempDir(), "cell"), handles, config.DefaultTunables(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cl.Shutdown() })

	var runs int32
	initFn := func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		time.Sleep(20 * time.Millisecond)
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			errs[idx] = cl.EnsureInit(context.Background(), initFn)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, int32(1), atomic.LoadInt32(&runs))
}
