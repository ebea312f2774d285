package action

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dhtmesh/cellcore/hash"
)

func testCommon(t *testing.T, seq uint32, prev hash.Hash, hasPrev bool) (Common, hash.KeyPair) {
	t.Helper()
	kp, err := hash.GenerateKeyPair()
	require.NoError(t, err)
	return Common{
		AuthorKey: kp.Public,
		SeqNum:    seq,
		Ts:        time.Unix(1700000000, 0).UTC(),
		PrevHash:  prev,
		HasPrev:   hasPrev,
	}, kp
}

func TestDnaHasNoPrev(t *testing.T) {
	c, _ := testCommon(t, 0, hash.Hash{}, false)
	a := Dna{Common: c, DnaHash: hash.Of(hash.TypeDna, []byte("dna"))}

	_, ok := a.Prev()
	require.False(t, ok)
	require.Equal(t, KindDna, a.Kind())
}

func TestCanonicalBytesDeterministic(t *testing.T) {
	c, _ := testCommon(t, 1, hash.Of(hash.TypeAction, []byte("prev")), true)
	a := Create{
		Common:    c,
		EntryType: "message",
		EntryHash: hash.Of(hash.TypeEntry, []byte("hi")),
	}
	require.Equal(t, a.CanonicalBytes(), a.CanonicalBytes())
}

func TestCanonicalBytesDistinguishesKinds(t *testing.T) {
	c, _ := testCommon(t, 1, hash.Of(hash.TypeAction, []byte("prev")), true)
	entryHash := hash.Of(hash.TypeEntry, []byte("payload"))

	create := Create{Common: c, EntryType: "message", EntryHash: entryHash}
	update := Update{Common: c, EntryType: "message", EntryHash: entryHash,
		OriginalAction: hash.Of(hash.TypeAction, []byte("orig-a")),
		OriginalEntry:  hash.Of(hash.TypeEntry, []byte("orig-e"))}

	require.NotEqual(t, create.CanonicalBytes(), update.CanonicalBytes())
}

func TestSignedVerifySignatureRoundTrip(t *testing.T) {
	c, kp := testCommon(t, 2, hash.Of(hash.TypeAction, []byte("prev")), true)
	a := CreateLink{
		Common:     c,
		ZomeIndex:  0,
		LinkType:   1,
		BaseHash:   hash.Of(hash.TypeEntry, []byte("base")),
		TargetHash: hash.Of(hash.TypeEntry, []byte("target")),
		Tag:        []byte("tag"),
	}
	sig := kp.Sign(a.CanonicalBytes())
	signed := Signed{Action: a, Signature: sig}
	require.True(t, signed.VerifySignature())
}

func TestSignedVerifySignatureRejectsTamperedAction(t *testing.T) {
	c, kp := testCommon(t, 2, hash.Of(hash.TypeAction, []byte("prev")), true)
	a := DeleteLink{
		Common:         c,
		BaseHash:       hash.Of(hash.TypeEntry, []byte("base")),
		CreateLinkHash: hash.Of(hash.TypeAction, []byte("link")),
	}
	sig := kp.Sign(a.CanonicalBytes())
	a.BaseHash = hash.Of(hash.TypeEntry, []byte("tampered"))
	signed := Signed{Action: a, Signature: sig}
	require.False(t, signed.VerifySignature())
}

func TestKindStringUnknown(t *testing.T) {
	require.Equal(t, "Unknown", Kind(255).String())
}
