// Package sourcechain implements spec.md §4.1: the per-agent, hash-linked,
// append-only journal of signed actions and the entries they reference.
package sourcechain

import (
	"encoding/binary"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dhtmesh/cellcore/action"
	"github.com/dhtmesh/cellcore/entry"
	"github.com/dhtmesh/cellcore/hash"
	"github.com/dhtmesh/cellcore/internal/cellerr"
	"github.com/dhtmesh/cellcore/internal/clog"
	"github.com/dhtmesh/cellcore/internal/store"
)

var headKey = []byte("head")

// Head identifies the tip of the chain: the next free sequence number and
// the hash of the action presently occupying seq-1.
type Head struct {
	NextSeq uint32
	Hash    hash.Hash
	HasHead bool
}

// Record is a committed (action, entry) pair as returned by Query/IterBack.
type Record struct {
	Signed action.Signed
	Entry  entry.Entry // nil if the action names no entry, or redacted by ReadOptions
}

// ReadOptions controls visibility-sensitive reads.
type ReadOptions struct {
	AllowPrivate bool
}

// Store is one bbolt-backed journal, one file per Cell.
type Store struct {
	db  *bolt.DB
	log clog.Logger

	mu     sync.Mutex
	staged []stagedRecord
	head   Head // observed head at the time staging began
}

type stagedRecord struct {
	signed action.Signed
	entry  entry.Entry
}

// Open creates or opens the bbolt file at path and ensures its buckets
// exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, cellerr.Wrap(cellerr.Fatal, err, "open source chain store")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{store.BucketActions, store.BucketEntries, store.BucketHeads} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, cellerr.Wrap(cellerr.Fatal, err, "create source chain buckets")
	}
	s := &Store{db: db, log: clog.Named("sourcechain")}
	head, err := s.readHead()
	if err != nil {
		db.Close()
		return nil, err
	}
	s.head = head
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) readHead() (Head, error) {
	var h Head
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(store.BucketHeads))
		v := b.Get(headKey)
		if v == nil {
			h = Head{NextSeq: 0, HasHead: false}
			return nil
		}
		if len(v) < 4+hash.DigestSize {
			return cellerr.New(cellerr.Fatal, "corrupt head record")
		}
		seq := binary.BigEndian.Uint32(v[:4])
		var d [hash.DigestSize]byte
		copy(d[:], v[4:4+hash.DigestSize])
		h = Head{NextSeq: seq + 1, Hash: hash.Hash{Type: hash.TypeAction, Digest: d}, HasHead: true}
		return nil
	})
	return h, err
}

// Head returns the chain's current tip.
func (s *Store) Head() Head {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

// Genesis writes the three genesis actions (Dna, AgentValidationPkg, the
// agent-key Create) in a single flush, matching spec.md §3 invariant 2.
func (s *Store) Genesis(dna, avp, agentKeyCreate action.Signed, agentKeyEntry entry.Entry) error {
	s.mu.Lock()
	if s.head.HasHead {
		s.mu.Unlock()
		return cellerr.Wrap(cellerr.Integrity, cellerr.ErrAlreadyInitialized, "genesis")
	}
	s.staged = append(s.staged,
		stagedRecord{signed: dna},
		stagedRecord{signed: avp},
		stagedRecord{signed: agentKeyCreate, entry: agentKeyEntry},
	)
	s.mu.Unlock()
	return s.Flush()
}

// Put stages a new action (and its entry, if any) for the next Flush. It
// validates seq/prev linkage against the in-memory head plus anything
// already staged this round, but does not touch bbolt.
func (s *Store) Put(signed action.Signed, e entry.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wantSeq := s.head.NextSeq + uint32(len(s.staged))
	wantPrev := s.head.Hash
	hasPrev := s.head.HasHead || len(s.staged) > 0
	if len(s.staged) > 0 {
		last := s.staged[len(s.staged)-1]
		wantPrev = last.signed.Hash()
	}

	if signed.Action.Seq() != wantSeq {
		return cellerr.New(cellerr.Integrity, "action sequence out of order")
	}
	prev, gotHasPrev := signed.Action.Prev()
	if gotHasPrev != hasPrev {
		return cellerr.New(cellerr.Integrity, "action prev-presence mismatch")
	}
	if hasPrev && !prev.Equal(wantPrev) {
		return cellerr.New(cellerr.Integrity, "action does not link to observed head")
	}
	if !signed.VerifySignature() {
		return cellerr.New(cellerr.Integrity, "action signature invalid")
	}

	s.staged = append(s.staged, stagedRecord{signed: signed, entry: e})
	return nil
}

// Flush opens one bbolt write transaction, re-checks the observed head
// against the staged records' expectations (catching a concurrent writer),
// writes every staged record, advances Heads, and commits — spec.md §5's
// "at most one write transaction active, fully rolled back on failure"
// guarantee, given for free by bbolt's single-writer transactions.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.staged) == 0 {
		return nil
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		actions := tx.Bucket([]byte(store.BucketActions))
		entries := tx.Bucket([]byte(store.BucketEntries))
		heads := tx.Bucket([]byte(store.BucketHeads))

		onDiskHead, err := headFromBucket(heads)
		if err != nil {
			return err
		}
		if onDiskHead.HasHead != s.head.HasHead ||
			(onDiskHead.HasHead && !onDiskHead.Hash.Equal(s.head.Hash)) {
			return cellerr.Wrap(cellerr.Capacity, cellerr.ErrHeadMoved, "flush")
		}

		var lastHash hash.Hash
		lastSeq := s.head.NextSeq
		for _, rec := range s.staged {
			seqBuf := make([]byte, 4)
			binary.BigEndian.PutUint32(seqBuf, rec.signed.Action.Seq())
			if err := actions.Put(seqBuf, action.Marshal(rec.signed)); err != nil {
				return err
			}
			if rec.entry != nil {
				eh := entry.Hash(rec.entry)
				visAndBody := append([]byte{byte(rec.entry.Visibility())}, entry.Marshal(rec.entry)...)
				if err := entries.Put(eh.Bytes(), visAndBody); err != nil {
					return err
				}
			}
			lastHash = rec.signed.Hash()
			lastSeq = rec.signed.Action.Seq()
		}

		headVal := make([]byte, 4+hash.DigestSize)
		binary.BigEndian.PutUint32(headVal[:4], lastSeq)
		copy(headVal[4:], lastHash.Digest[:])
		return heads.Put(headKey, headVal)
	})
	if err != nil {
		return cellerr.Wrap(cellerr.Capacity, err, "flush source chain")
	}

	s.head = Head{
		NextSeq: s.staged[len(s.staged)-1].signed.Action.Seq() + 1,
		Hash:    s.staged[len(s.staged)-1].signed.Hash(),
		HasHead: true,
	}
	s.log.Debug("flushed source chain", "records", len(s.staged), "new_seq", s.head.NextSeq)
	s.staged = nil
	return nil
}

func headFromBucket(b *bolt.Bucket) (Head, error) {
	v := b.Get(headKey)
	if v == nil {
		return Head{HasHead: false}, nil
	}
	if len(v) < 4+hash.DigestSize {
		return Head{}, cellerr.New(cellerr.Fatal, "corrupt head record")
	}
	seq := binary.BigEndian.Uint32(v[:4])
	var d [hash.DigestSize]byte
	copy(d[:], v[4:4+hash.DigestSize])
	return Head{NextSeq: seq + 1, Hash: hash.Hash{Type: hash.TypeAction, Digest: d}, HasHead: true}, nil
}

// Query returns the record at seq, or an error if no action occupies it.
func (s *Store) Query(opts ReadOptions, seq uint32) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		actions := tx.Bucket([]byte(store.BucketActions))
		entries := tx.Bucket([]byte(store.BucketEntries))
		seqBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(seqBuf, seq)
		v := actions.Get(seqBuf)
		if v == nil {
			return cellerr.New(cellerr.Integrity, "no action at requested sequence")
		}
		signed, err := action.Unmarshal(v)
		if err != nil {
			return cellerr.Wrap(cellerr.Fatal, err, "decode action")
		}
		rec.Signed = signed
		rec.Entry = lookupEntry(entries, signed, opts)
		return nil
	})
	return rec, err
}

// IterBack walks the chain from the tip backward, calling fn for each
// record until fn returns false or the genesis action is reached.
func (s *Store) IterBack(opts ReadOptions, fn func(Record) (bool, error)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		actions := tx.Bucket([]byte(store.BucketActions))
		entries := tx.Bucket([]byte(store.BucketEntries))
		c := actions.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			signed, err := action.Unmarshal(v)
			if err != nil {
				return cellerr.Wrap(cellerr.Fatal, err, "decode action")
			}
			rec := Record{Signed: signed, Entry: lookupEntry(entries, signed, opts)}
			keepGoing, err := fn(rec)
			if err != nil {
				return err
			}
			if !keepGoing {
				return nil
			}
		}
		return nil
	})
}

func lookupEntry(entries *bolt.Bucket, signed action.Signed, opts ReadOptions) entry.Entry {
	eh, ok := entryHashOf(signed.Action)
	if !ok {
		return nil
	}
	v := entries.Get(eh.Bytes())
	if v == nil {
		return nil
	}
	vis := entry.Visibility(v[0])
	if vis == entry.Private && !opts.AllowPrivate {
		return nil // redacted: hash is still known via the action, bytes are not
	}
	e, err := entry.Unmarshal(v[1:], vis)
	if err != nil {
		return nil
	}
	return e
}

func entryHashOf(a action.Action) (hash.Hash, bool) {
	switch v := a.(type) {
	case action.Create:
		return v.EntryHash, true
	case action.Update:
		return v.EntryHash, true
	default:
		return hash.Hash{}, false
	}
}
