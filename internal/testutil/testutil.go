// Package testutil collects the small setup helpers every package's tests
// otherwise hand-roll: a temp-dir bbolt-backed chain/vault pair, a
// deterministic keypair, and a no-op network capability.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dhtmesh/cellcore/dhtdb"
	"github.com/dhtmesh/cellcore/hash"
	"github.com/dhtmesh/cellcore/op"
	"github.com/dhtmesh/cellcore/sourcechain"
)

// OpenChain opens a source-chain store in a fresh temp directory, closed
// automatically at test cleanup.
func OpenChain(t *testing.T) *sourcechain.Store {
	t.Helper()
	s, err := sourcechain.Open(filepath.Join(t.TempDir(), "chain.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// OpenVault opens a dhtdb in a fresh temp directory, closed automatically
// at test cleanup.
func OpenVault(t *testing.T, requiredValidations uint32) *dhtdb.DB {
	t.Helper()
	d, err := dhtdb.Open(filepath.Join(t.TempDir(), "dht.bolt"), requiredValidations)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

// KeyPair generates a fresh ed25519 keypair, failing the test on error.
func KeyPair(t *testing.T) hash.KeyPair {
	t.Helper()
	kp, err := hash.GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

// NoNetwork is a cascade.NetworkCapability that never finds anything —
// the default test double for tests that only exercise local layers.
type NoNetwork struct{}

func (NoNetwork) Get(context.Context, hash.Hash) (op.Op, bool, error) {
	return op.Op{}, false, nil
}

func (NoNetwork) GetLinks(context.Context, hash.Hash) ([]op.Op, error) {
	return nil, nil
}

func (NoNetwork) GetAgentActivity(context.Context, hash.AgentPubKey) ([]op.Op, error) {
	return nil, nil
}
