package dhtdb

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dhtmesh/cellcore/hash"
	"github.com/dhtmesh/cellcore/internal/cellerr"
	"github.com/dhtmesh/cellcore/internal/store"
	"github.com/dhtmesh/cellcore/op"
)

func cellerrOpNotFound(opHash hash.Hash) error {
	return cellerr.New(cellerr.Integrity, fmt.Sprintf("integrate: op %s not found", opHash.String()))
}

func cellerrBadTransition(from, to Status) error {
	return cellerr.New(cellerr.Fatal, fmt.Sprintf("integrate: illegal transition %s -> %s", from, to))
}

// Integrate implements spec.md §4.6: moves an op that cleared app-
// validation (IntegrationLimbo) into the integrated set, updating the four
// metadata indices its kind participates in. Idempotent on op-hash: if the
// op is already Terminal, Integrate returns nil without touching the
// indices again.
func (d *DB) Integrate(opHash hash.Hash, now time.Time) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		ops := tx.Bucket([]byte(store.BucketOps))
		raw := ops.Get(opHash.Bytes())
		if raw == nil {
			return cellerrOpNotFound(opHash)
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		if rec.Status.Terminal() {
			return nil
		}
		if !CanAdvance(rec.Status, StatusIntegratedValid) {
			return cellerrBadTransition(rec.Status, StatusIntegratedValid)
		}

		if err := writeMetaIndices(tx, rec.Op); err != nil {
			return err
		}

		byStatus := tx.Bucket([]byte(store.BucketOpsByStatus))
		if err := byStatus.Delete(statusKey(rec.Status, rec.Op.AuthoredTs, opHash)); err != nil {
			return err
		}
		rec.Status = StatusIntegratedValid
		rec.LastTry = now
		if err := byStatus.Put(statusKey(rec.Status, rec.Op.AuthoredTs, opHash), nil); err != nil {
			return err
		}
		return ops.Put(opHash.Bytes(), encodeRecord(rec))
	})
}

// writeMetaIndices populates whichever of the four Meta* buckets o's kind
// participates in (spec.md §4.6: "entry→actions, action→deletes,
// base→link-adds, link-add→link-removes").
func writeMetaIndices(tx *bolt.Tx, o op.Op) error {
	switch o.Kind {
	case op.TypeStoreEntry:
		b := tx.Bucket([]byte(store.BucketMetaEntryActions))
		key := append(o.Basis.Bytes(), o.ActionHash.Bytes()...)
		return b.Put(key, nil)
	case op.TypeRegisterDeletedBy:
		b := tx.Bucket([]byte(store.BucketMetaActionDeletes))
		key := append(o.Basis.Bytes(), o.ActionHash.Bytes()...)
		return b.Put(key, nil)
	case op.TypeRegisterAddLink:
		b := tx.Bucket([]byte(store.BucketMetaBaseLinks))
		key := append(o.Basis.Bytes(), o.ActionHash.Bytes()...)
		return b.Put(key, nil)
	case op.TypeRegisterRemoveLink:
		b := tx.Bucket([]byte(store.BucketMetaLinkRemoves))
		key := append(o.AuxAction.Bytes(), o.ActionHash.Bytes()...)
		return b.Put(key, nil)
	default:
		return nil
	}
}

// EntryActions returns the action hashes the MetaEntryActions index has
// recorded for entryHash, in insertion order.
func (d *DB) EntryActions(entryHash hash.Hash) ([]hash.Hash, error) {
	return scanPrefixedPairs(d.db, store.BucketMetaEntryActions, entryHash)
}

// ActionDeletes returns the Delete action hashes recorded against
// actionHash.
func (d *DB) ActionDeletes(actionHash hash.Hash) ([]hash.Hash, error) {
	return scanPrefixedPairs(d.db, store.BucketMetaActionDeletes, actionHash)
}

// BaseLinks returns the CreateLink action hashes recorded against base.
func (d *DB) BaseLinks(base hash.Hash) ([]hash.Hash, error) {
	return scanPrefixedPairs(d.db, store.BucketMetaBaseLinks, base)
}

// LinkRemoves returns the DeleteLink action hashes recorded against a
// CreateLink action hash.
func (d *DB) LinkRemoves(createLinkAction hash.Hash) ([]hash.Hash, error) {
	return scanPrefixedPairs(d.db, store.BucketMetaLinkRemoves, createLinkAction)
}

func scanPrefixedPairs(db *bolt.DB, bucket string, prefixHash hash.Hash) ([]hash.Hash, error) {
	var out []hash.Hash
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		c := b.Cursor()
		prefix := prefixHash.Bytes()
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			var digest [hash.DigestSize]byte
			copy(digest[:], k[len(prefix):])
			out = append(out, hash.Hash{Type: hash.TypeAction, Digest: digest})
		}
		return nil
	})
	return out, err
}
