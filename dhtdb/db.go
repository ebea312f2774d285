package dhtdb

import (
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dhtmesh/cellcore/hash"
	"github.com/dhtmesh/cellcore/internal/cellerr"
	"github.com/dhtmesh/cellcore/internal/clog"
	"github.com/dhtmesh/cellcore/internal/store"
	"github.com/dhtmesh/cellcore/op"
)

// Record is one op's limbo/integration bookkeeping row.
type Record struct {
	Op               op.Op
	Status           Status
	NumTries         uint32
	LastTry          time.Time
	RequireReceipt   bool
	ReceiptCount     uint32
	ReceiptsComplete bool
}

// DB is the bbolt-backed validation limbo and integration database of
// spec.md §4.6, covering one Cell.
type DB struct {
	db                  *bolt.DB
	log                 clog.Logger
	requiredValidations uint32
}

// Open creates or opens the bbolt file at path.
func Open(path string, requiredValidations uint32) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, cellerr.Wrap(cellerr.Fatal, err, "open dht db")
	}
	buckets := []string{
		store.BucketOps, store.BucketOpsByStatus, store.BucketDepsIndex,
		store.BucketReceipts, store.BucketScheduledFns,
		store.BucketMetaEntryActions, store.BucketMetaActionDeletes,
		store.BucketMetaBaseLinks, store.BucketMetaLinkRemoves,
	}
	err = bdb.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, cellerr.Wrap(cellerr.Fatal, err, "create dht db buckets")
	}
	return &DB{db: bdb, log: clog.Named("dhtdb"), requiredValidations: requiredValidations}, nil
}

func (d *DB) Close() error { return d.db.Close() }

func statusKey(status Status, authoredTs int64, opHash hash.Hash) []byte {
	k := make([]byte, 1+8+hash.DigestSize)
	k[0] = byte(status)
	binary.BigEndian.PutUint64(k[1:9], uint64(authoredTs))
	copy(k[9:], opHash.Digest[:])
	return k
}

func encodeRecord(r Record) []byte {
	b := make([]byte, 0, 64)
	b = append(b, byte(r.Status))
	var numTries [4]byte
	binary.BigEndian.PutUint32(numTries[:], r.NumTries)
	b = append(b, numTries[:]...)
	var lastTry [8]byte
	binary.BigEndian.PutUint64(lastTry[:], uint64(r.LastTry.UnixNano()))
	b = append(b, lastTry[:]...)
	requireReceipt := byte(0)
	if r.RequireReceipt {
		requireReceipt = 1
	}
	b = append(b, requireReceipt)
	var receiptCount [4]byte
	binary.BigEndian.PutUint32(receiptCount[:], r.ReceiptCount)
	b = append(b, receiptCount[:]...)
	complete := byte(0)
	if r.ReceiptsComplete {
		complete = 1
	}
	b = append(b, complete)
	b = append(b, op.Marshal(r.Op)...)
	return b
}

func decodeRecord(b []byte) (Record, error) {
	if len(b) < 18 {
		return Record{}, cellerr.New(cellerr.Fatal, "corrupt dhtdb record")
	}
	r := Record{
		Status:           Status(b[0]),
		NumTries:         binary.BigEndian.Uint32(b[1:5]),
		LastTry:          time.Unix(0, int64(binary.BigEndian.Uint64(b[5:13]))).UTC(),
		RequireReceipt:   b[13] == 1,
		ReceiptCount:     binary.BigEndian.Uint32(b[14:18]),
		ReceiptsComplete: b[18] == 1,
	}
	o, err := op.Unmarshal(b[19:])
	if err != nil {
		return Record{}, err
	}
	r.Op = o
	return r, nil
}

// Insert adds o with status Pending if it is not already present
// (idempotent on op hash, per spec.md §4.2/§8.4: re-enqueue is a no-op).
func (d *DB) Insert(o op.Op) (inserted bool, err error) {
	err = d.db.Update(func(tx *bolt.Tx) error {
		ops := tx.Bucket([]byte(store.BucketOps))
		if ops.Get(o.Hash.Bytes()) != nil {
			inserted = false
			return nil
		}
		r := Record{Op: o, Status: StatusPending, RequireReceipt: true}
		if err := ops.Put(o.Hash.Bytes(), encodeRecord(r)); err != nil {
			return err
		}
		byStatus := tx.Bucket([]byte(store.BucketOpsByStatus))
		if err := byStatus.Put(statusKey(StatusPending, o.AuthoredTs, o.Hash), nil); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// Get returns the current record for opHash.
func (d *DB) Get(opHash hash.Hash) (Record, bool, error) {
	var rec Record
	var found bool
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(store.BucketOps)).Get(opHash.Bytes())
		if v == nil {
			return nil
		}
		r, err := decodeRecord(v)
		if err != nil {
			return err
		}
		rec, found = r, true
		return nil
	})
	return rec, found, err
}

// Advance moves opHash to newStatus, enforcing the DAG of spec.md §3 and
// bumping num_tries/last_try.
func (d *DB) Advance(opHash hash.Hash, newStatus Status, now time.Time) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		ops := tx.Bucket([]byte(store.BucketOps))
		v := ops.Get(opHash.Bytes())
		if v == nil {
			return cellerr.New(cellerr.Integrity, "advance: unknown op")
		}
		rec, err := decodeRecord(v)
		if err != nil {
			return err
		}
		if !CanAdvance(rec.Status, newStatus) {
			return cellerr.New(cellerr.Integrity, "illegal status transition: "+rec.Status.String()+" -> "+newStatus.String())
		}

		byStatus := tx.Bucket([]byte(store.BucketOpsByStatus))
		if err := byStatus.Delete(statusKey(rec.Status, rec.Op.AuthoredTs, opHash)); err != nil {
			return err
		}
		rec.Status = newStatus
		rec.NumTries++
		rec.LastTry = now
		if err := byStatus.Put(statusKey(newStatus, rec.Op.AuthoredTs, opHash), nil); err != nil {
			return err
		}
		return ops.Put(opHash.Bytes(), encodeRecord(rec))
	})
}

// RegisterDependency indexes opHash under dep so DueForRetry can find it
// in O(1) when dep arrives, rather than a full AwaitingSysDeps/AwaitingAppDeps scan.
func (d *DB) RegisterDependency(dep, opHash hash.Hash) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(store.BucketDepsIndex))
		key := append(dep.Bytes(), opHash.Bytes()...)
		return b.Put(key, nil)
	})
}

// DueForRetry returns the op hashes registered as waiting on dep.
func (d *DB) DueForRetry(dep hash.Hash) ([]hash.Hash, error) {
	var out []hash.Hash
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(store.BucketDepsIndex))
		c := b.Cursor()
		prefix := dep.Bytes()
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			var d [hash.DigestSize]byte
			copy(d[:], k[len(prefix):])
			out = append(out, hash.Hash{Type: hash.TypeOp, Digest: d})
		}
		return nil
	})
	return out, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// ScanByStatus walks every op in a given status, in DHT order (authored-ts
// then op hash), calling fn until it returns false.
func (d *DB) ScanByStatus(status Status, fn func(Record) (bool, error)) error {
	return d.db.View(func(tx *bolt.Tx) error {
		byStatus := tx.Bucket([]byte(store.BucketOpsByStatus))
		ops := tx.Bucket([]byte(store.BucketOps))
		c := byStatus.Cursor()
		prefix := []byte{byte(status)}
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			opHash := k[9:]
			v := ops.Get(opHash)
			if v == nil {
				continue
			}
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
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

// RecordReceipt inserts a unique (opHash, validator) receipt, recomputes
// the count, and flips ReceiptsComplete once it reaches the required
// validations threshold (spec.md §4.6 H).
func (d *DB) RecordReceipt(opHash hash.Hash, validator hash.AgentPubKey, now time.Time) (complete bool, err error) {
	err = d.db.Update(func(tx *bolt.Tx) error {
		receipts := tx.Bucket([]byte(store.BucketReceipts))
		key := append(opHash.Bytes(), validator.Key...)
		if receipts.Get(key) == nil {
			var tsBuf [8]byte
			binary.BigEndian.PutUint64(tsBuf[:], uint64(now.UnixNano()))
			if err := receipts.Put(key, tsBuf[:]); err != nil {
				return err
			}
		}

		count := countReceipts(receipts, opHash)

		ops := tx.Bucket([]byte(store.BucketOps))
		v := ops.Get(opHash.Bytes())
		if v == nil {
			return cellerr.New(cellerr.Integrity, "receipt for unknown op")
		}
		rec, err := decodeRecord(v)
		if err != nil {
			return err
		}
		rec.ReceiptCount = count
		rec.ReceiptsComplete = count >= d.requiredValidations
		complete = rec.ReceiptsComplete
		return ops.Put(opHash.Bytes(), encodeRecord(rec))
	})
	return complete, err
}

func countReceipts(receipts *bolt.Bucket, opHash hash.Hash) uint32 {
	var n uint32
	c := receipts.Cursor()
	prefix := opHash.Bytes()
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		n++
	}
	return n
}
