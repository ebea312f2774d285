// Package store names the bbolt bucket layout shared by the source-chain
// journal and the validation/integration DB. Bucket names are documented
// here, next to their key/value shape, rather than scattered across the
// packages that open them.
package store

const (
	// BucketActions
	// key   - big-endian uint32 sequence number
	// value - action.Marshal encoding: kind byte, common fields, kind-specific fields, length-prefixed signature
	BucketActions = "Actions"

	// BucketEntries
	// key   - entry hash digest (32 bytes)
	// value - visibility byte + entry CanonicalBytes
	BucketEntries = "Entries"

	// BucketHeads
	// key   - constant singleton key "head"
	// value - big-endian uint32 seq + action hash digest
	BucketHeads = "Heads"
)

const (
	// BucketOps
	// key   - op hash digest (32 bytes)
	// value - status + num_tries + last_try + require_receipt + receipt_count + receipts_complete, then the op.Marshal encoding
	BucketOps = "Ops"

	// BucketOpsByStatus
	// key   - status byte + authored_ts (big-endian int64) + op hash digest
	// value - empty; an index only, scanned in key order for "ops by status in DHT order"
	BucketOpsByStatus = "OpsByStatus"

	// BucketDepsIndex
	// key   - dependency hash digest + op hash digest
	// value - empty; scanned by dependency-hash prefix to find ops awaiting it
	BucketDepsIndex = "DepsIndex"

	// BucketReceipts
	// key   - op hash digest + validator agent key
	// value - receipt timestamp (big-endian int64)
	BucketReceipts = "Receipts"

	// BucketScheduledFns
	// key   - big-endian int64 due-at unix nano + function id
	// value - function payload bytes + ephemeral flag byte
	BucketScheduledFns = "ScheduledFns"
)

const (
	// BucketMetaEntryActions indexes an entry hash to the actions that
	// created or updated it (cascade's entry->actions index).
	BucketMetaEntryActions = "MetaEntryActions"

	// BucketMetaActionDeletes indexes a deleted action hash to the Delete
	// actions that removed it.
	BucketMetaActionDeletes = "MetaActionDeletes"

	// BucketMetaBaseLinks indexes a link base hash to CreateLink action hashes.
	BucketMetaBaseLinks = "MetaBaseLinks"

	// BucketMetaLinkRemoves indexes a CreateLink action hash to the
	// DeleteLink action hashes that removed it.
	BucketMetaLinkRemoves = "MetaLinkRemoves"
)
