// Package sysvalidation implements spec.md §4.3: the first validation pass
// an op sees before it is trusted enough to run application callbacks
// against. It checks what can be checked without any zome-specific logic.
package sysvalidation

import (
	"context"
	"sort"
	"time"

	"github.com/dhtmesh/cellcore/action"
	"github.com/dhtmesh/cellcore/cascade"
	"github.com/dhtmesh/cellcore/dhtdb"
	"github.com/dhtmesh/cellcore/entry"
	"github.com/dhtmesh/cellcore/hash"
	"github.com/dhtmesh/cellcore/internal/clog"
	"github.com/dhtmesh/cellcore/op"
)

// Deps are the collaborators a Worker needs: the limbo database it drains
// and the cascade it resolves `prev` and referenced-action dependencies
// through (spec.md §4.3 step 2 routes through the cascade, not directly
// through the source chain or vault).
type Deps struct {
	Vault   *dhtdb.DB
	Cascade *cascade.Cascade
}

// Worker drains Pending and AwaitingSysDeps ops in DHT op order and applies
// the five checks of spec.md §4.3.
type Worker struct {
	deps Deps
	log  clog.Logger
}

// NewWorker builds a sys-validation worker over deps.
func NewWorker(deps Deps) *Worker {
	return &Worker{deps: deps, log: clog.Named("sysvalidation")}
}

// RunOnce drains at most batch ops from Pending and AwaitingSysDeps,
// ordered per op.Order, and validates each. It returns the number of ops
// it processed: those advanced to SysValidated or Integrated(Rejected) and
// those parked AwaitingSysDeps alike.
func (w *Worker) RunOnce(ctx context.Context, batch int) (int, error) {
	candidates, err := w.collect(batch)
	if err != nil {
		return 0, err
	}
	sort.Slice(candidates, func(i, j int) bool { return op.Order(candidates[i].Op, candidates[j].Op) < 0 })

	advanced := 0
	for _, rec := range candidates {
		if err := ctx.Err(); err != nil {
			return advanced, err
		}
		if err := w.validateOne(rec); err != nil {
			return advanced, err
		}
		advanced++
	}
	return advanced, nil
}

func (w *Worker) collect(batch int) ([]dhtdb.Record, error) {
	var out []dhtdb.Record
	collect := func(status dhtdb.Status) error {
		return w.deps.Vault.ScanByStatus(status, func(r dhtdb.Record) (bool, error) {
			out = append(out, r)
			return batch <= 0 || len(out) < batch, nil
		})
	}
	if err := collect(dhtdb.StatusPending); err != nil {
		return nil, err
	}
	if batch <= 0 || len(out) < batch {
		if err := collect(dhtdb.StatusAwaitingSysDeps); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// validateOne runs the five checks of spec.md §4.3 against one op and
// advances its limbo status accordingly.
func (w *Worker) validateOne(rec dhtdb.Record) error {
	o := rec.Op
	now := time.Now()

	if reason, ok := structuralFailure(o); ok {
		return w.reject(o, reason, now)
	}

	prevHash, hasPrev := o.Action.Action.Prev()
	var prevAction action.Signed
	if hasPrev {
		var resolved bool
		prevAction, resolved = w.deps.Cascade.ResolveBasisAction(prevHash)
		if !resolved {
			return w.awaitDep(o, prevHash, now)
		}
	}

	if reason, ok := sequencingFailure(o, hasPrev, prevAction); ok {
		return w.reject(o, reason, now)
	}

	if dep, ok := kindSpecificMissingDep(w.deps.Cascade, o); ok {
		return w.awaitDep(o, dep, now)
	}

	return w.deps.Vault.Advance(o.Hash, dhtdb.StatusSysValidated, now)
}

func (w *Worker) reject(o op.Op, reason string, now time.Time) error {
	w.log.Info("op rejected in sys-validation", "op", o.Hash.String(), "reason", reason)
	return w.deps.Vault.Advance(o.Hash, dhtdb.StatusIntegratedRejected, now)
}

func (w *Worker) awaitDep(o op.Op, dep hash.Hash, now time.Time) error {
	if err := w.deps.Vault.RegisterDependency(dep, o.Hash); err != nil {
		return err
	}
	return w.deps.Vault.Advance(o.Hash, dhtdb.StatusAwaitingSysDeps, now)
}

// Retry re-examines every op parked on dep now that it has arrived
// (spec.md §4.3: "re-tried when the missing hash arrives").
func (w *Worker) Retry(dep hash.Hash) error {
	pending, err := w.deps.Vault.DueForRetry(dep)
	if err != nil {
		return err
	}
	for _, opHash := range pending {
		rec, ok, err := w.deps.Vault.Get(opHash)
		if err != nil {
			return err
		}
		if !ok || rec.Status.Terminal() {
			continue
		}
		if err := w.validateOne(rec); err != nil {
			return err
		}
	}
	return nil
}

// structuralFailure implements spec.md §4.3 step 1: required fields
// present, entry hash matches entry bytes when present, signature verifies.
func structuralFailure(o op.Op) (string, bool) {
	if !o.Action.VerifySignature() {
		return "signature does not verify against author", true
	}
	if entryHash, has := entryHashOf(o.Action.Action); has {
		if o.Entry == nil {
			return "action references an entry hash but no entry is attached", true
		}
		if got := entry.Hash(o.Entry); !got.Equal(entryHash) {
			return "entry hash does not match entry bytes", true
		}
	}
	return "", false
}

func entryHashOf(a action.Action) (hash.Hash, bool) {
	switch act := a.(type) {
	case action.Create:
		return act.EntryHash, true
	case action.Update:
		return act.EntryHash, true
	}
	return hash.Hash{}, false
}

// sequencingFailure implements spec.md §4.3 step 3: header seq and
// timestamp must be monotonic over prev. validateOne has already resolved
// prevAction (or confirmed there is none) before calling this.
func sequencingFailure(o op.Op, hasPrev bool, prevAction action.Signed) (string, bool) {
	if o.Action.Action.Seq() == 0 {
		if hasPrev {
			return "genesis action must not declare a prev", true
		}
		return "", false
	}
	if !hasPrev {
		return "non-genesis action must declare a prev", true
	}
	if o.Action.Action.Seq() != prevAction.Action.Seq()+1 {
		return "header seq is not prev seq + 1", true
	}
	if o.Action.Action.Timestamp().Before(prevAction.Action.Timestamp()) {
		return "timestamp is not monotonic over prev", true
	}
	return "", false
}

// kindSpecificMissingDep implements spec.md §4.3 step 4: updates, deletes,
// and link removals reference a prior action that may simply not have
// arrived yet — an out-of-order delivery, not a deterministic failure
// (spec.md §7: a missing-dep await, never a rejection). It reports the
// unresolved hash to await so the caller can park the op and retry it once
// that hash shows up, mirroring how the prev-resolution check in
// validateOne parks rather than rejects.
func kindSpecificMissingDep(c *cascade.Cascade, o op.Op) (hash.Hash, bool) {
	switch o.Kind {
	case op.TypeRegisterUpdatedContent, op.TypeRegisterUpdatedRecord,
		op.TypeRegisterDeletedBy, op.TypeRegisterDeletedEntryAction:
		if !c.ResolveBasis(o.Basis) {
			return o.Basis, true
		}
	case op.TypeRegisterRemoveLink:
		if !c.ResolveBasis(o.AuxAction) {
			return o.AuxAction, true
		}
	}
	return hash.Hash{}, false
}
