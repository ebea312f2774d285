package sourcechain

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dhtmesh/cellcore/action"
	"github.com/dhtmesh/cellcore/entry"
	"github.com/dhtmesh/cellcore/hash"
)

func openTestStore(t *testing.T) (*Store, hash.KeyPair) {
	t.Helper()
	kp, err := hash.GenerateKeyPair()
	require.NoError(t, err)
	s, err := Open(filepath.Join(t.TempDir(), "chain.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, kp
}

func genesis(t *testing.T, s *Store, kp hash.KeyPair, now time.Time) {
	t.Helper()
	b := action.Builder{Author: kp.Public, Now: now}
	dna := b.Sign(kp, b.Dna(hash.Of(hash.TypeDna, []byte("dna"))))

	b.Head = ChainHeadOf(dna)
	avp := b.Sign(kp, b.AgentValidationPkg(nil))

	b.Head = ChainHeadOf(avp)
	agentEntry := entry.AgentKeyEntry{Key: kp.Public}
	create := b.Sign(kp, b.Create("agent_key", entry.Hash(agentEntry)))

	require.NoError(t, s.Genesis(dna, avp, create, agentEntry))
}

// ChainHeadOf is a small test helper mirroring what a real caller computes
// from a Store's Head() between successive builder calls within one
// Flush batch.
func ChainHeadOf(s action.Signed) action.ChainHead {
	return action.ChainHead{NextSeq: s.Action.Seq() + 1, Hash: s.Hash(), HasHead: true}
}

func TestGenesisThenHead(t *testing.T) {
	s, kp := openTestStore(t)
	now := time.Unix(1700000000, 0).UTC()
	genesis(t, s, kp, now)

	head := s.Head()
	require.True(t, head.HasHead)
	require.Equal(t, uint32(3), head.NextSeq)
}

func TestGenesisIterBackOrderMatchesCreateThenAVPThenDna(t *testing.T) {
	s, kp := openTestStore(t)
	genesis(t, s, kp, time.Unix(1700000000, 0).UTC())

	var kinds []action.Kind
	err := s.IterBack(ReadOptions{AllowPrivate: true}, func(r Record) (bool, error) {
		kinds = append(kinds, r.Signed.Action.Kind())
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, []action.Kind{action.KindCreate, action.KindAgentValidationPkg, action.KindDna}, kinds)
	require.Equal(t, uint32(3), s.Head().NextSeq)
}

func TestPutRejectsOutOfOrderSeq(t *testing.T) {
	s, kp := openTestStore(t)
	genesis(t, s, kp, time.Unix(1700000000, 0).UTC())

	b := action.Builder{Author: kp.Public, Head: action.ChainHead{NextSeq: 9, HasHead: false}, Now: time.Unix(1700000001, 0).UTC()}
	badCreate := b.Create("msg", hash.Of(hash.TypeEntry, []byte("x")))
	signed := b.Sign(kp, badCreate)

	err := s.Put(signed, entry.App{EntryType: "msg", Data: []byte("x")})
	require.Error(t, err)
}

func TestPutThenFlushThenQuery(t *testing.T) {
	s, kp := openTestStore(t)
	genesis(t, s, kp, time.Unix(1700000000, 0).UTC())

	head := s.Head()
	b := action.Builder{Author: kp.Public, Head: action.ChainHead{NextSeq: head.NextSeq, Hash: head.Hash, HasHead: head.HasHead}, Now: time.Unix(1700000001, 0).UTC()}
	e := entry.App{EntryType: "msg", Data: []byte("hello")}
	create := b.Sign(kp, b.Create("msg", entry.Hash(e)))

	require.NoError(t, s.Put(create, e))
	require.NoError(t, s.Flush())

	rec, err := s.Query(ReadOptions{}, 3)
	require.NoError(t, err)
	require.Equal(t, entry.KindApp, rec.Entry.Kind())
}

func TestIterBackRedactsPrivateEntriesByDefault(t *testing.T) {
	s, kp := openTestStore(t)
	genesis(t, s, kp, time.Unix(1700000000, 0).UTC())

	head := s.Head()
	b := action.Builder{Author: kp.Public, Head: action.ChainHead{NextSeq: head.NextSeq, Hash: head.Hash, HasHead: head.HasHead}, Now: time.Unix(1700000001, 0).UTC()}
	e := entry.App{EntryType: "secret", Data: []byte("shh"), Vis: entry.Private}
	create := b.Sign(kp, b.Create("secret", entry.Hash(e)))
	require.NoError(t, s.Put(create, e))
	require.NoError(t, s.Flush())

	var sawRedacted bool
	require.NoError(t, s.IterBack(ReadOptions{AllowPrivate: false}, func(rec Record) (bool, error) {
		if rec.Signed.Action.Seq() == 3 {
			sawRedacted = rec.Entry == nil
		}
		return true, nil
	}))
	require.True(t, sawRedacted)

	var sawPlain bool
	require.NoError(t, s.IterBack(ReadOptions{AllowPrivate: true}, func(rec Record) (bool, error) {
		if rec.Signed.Action.Seq() == 3 {
			sawPlain = rec.Entry != nil
		}
		return true, nil
	}))
	require.True(t, sawPlain)
}
