// Package appvalidation implements spec.md §4.4: the zome-level validation
// pass that runs once an op has cleared sys-validation, resolving a
// validation package and invoking the application callback.
package appvalidation

import (
	"container/heap"
	"context"
	"time"

	"github.com/dhtmesh/cellcore/cascade"
	"github.com/dhtmesh/cellcore/dhtdb"
	"github.com/dhtmesh/cellcore/entry"
	"github.com/dhtmesh/cellcore/hash"
	"github.com/dhtmesh/cellcore/internal/clog"
	"github.com/dhtmesh/cellcore/op"
)

// PackageKind is the validation-package shape an entry definition can
// require, per spec.md §4.4 step 4.
type PackageKind int

const (
	PackageElement PackageKind = iota
	PackageSubChain
	PackageFull
)

// Element is the signed action plus optional entry the callback validates
// against, per spec.md §4.4 step 1.
type Element struct {
	Op op.Op
}

// Package is the fetched validation-dependency bundle for one Element.
type Package struct {
	Kind  PackageKind
	Chain []op.Op // SubChain/Full: prior RegisterAgentActivity-derived ops, in authored-timestamp order
}

// Outcome is the sum type an application validation callback returns,
// never an error (spec.md §4.4 step 5).
type Outcome struct {
	Valid       bool
	Invalid     bool
	Reason      string
	AwaitingDeps []hash.Hash
}

var ValidOutcome = Outcome{Valid: true}

func InvalidOutcome(reason string) Outcome { return Outcome{Invalid: true, Reason: reason} }

func AwaitingOutcome(deps ...hash.Hash) Outcome { return Outcome{AwaitingDeps: deps} }

// EntryDef resolves an entry type's owning zome and required package
// shape — a narrow interface so callers can wire a real zome registry or a
// fixed test double.
type EntryDef interface {
	PackageFor(entryType string) PackageKind
}

// Callback is the application validation function of spec.md §4.4 step 5.
type Callback interface {
	Validate(ctx context.Context, el Element, pkg Package) Outcome
}

// AlwaysValid is the default test double named in spec.md's test tooling:
// every element validates unconditionally.
type AlwaysValid struct{}

func (AlwaysValid) Validate(context.Context, Element, Package) Outcome { return ValidOutcome }

// Deps are the collaborators a Worker needs.
type Deps struct {
	Vault    *dhtdb.DB
	Cascade  *cascade.Cascade
	Temporal *cascade.TemporalReader
	Defs     EntryDef
	Callback Callback
}

// Worker drains SysValidated and AwaitingAppDeps ops through a min-heap
// keyed (kind_order, op_hash) — spec.md §4.4's ordering requirement,
// including its tie-break rule.
type Worker struct {
	deps Deps
	log  clog.Logger
}

func NewWorker(deps Deps) *Worker {
	return &Worker{deps: deps, log: clog.Named("appvalidation")}
}

// RunOnce drains at most batch ops and returns how many it advanced out of
// limbo (Valid/Rejected) — ops parked AwaitingAppDeps do not count.
func (w *Worker) RunOnce(ctx context.Context, batch int) (int, error) {
	h := &opHeap{}
	collect := func(status dhtdb.Status) error {
		return w.deps.Vault.ScanByStatus(status, func(r dhtdb.Record) (bool, error) {
			heap.Push(h, r.Op)
			return batch <= 0 || h.Len() < batch, nil
		})
	}
	if err := collect(dhtdb.StatusSysValidated); err != nil {
		return 0, err
	}
	if batch <= 0 || h.Len() < batch {
		if err := collect(dhtdb.StatusAwaitingAppDeps); err != nil {
			return 0, err
		}
	}

	advanced := 0
	for h.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return advanced, err
		}
		o := heap.Pop(h).(op.Op)
		did, err := w.validateOne(ctx, o)
		if err != nil {
			return advanced, err
		}
		if did {
			advanced++
		}
	}
	return advanced, nil
}

func (w *Worker) validateOne(ctx context.Context, o op.Op) (bool, error) {
	now := time.Now()

	// spec.md §4.4 step 2: non-application kinds are accepted unconditionally.
	if isNonApplicationKind(o.Kind) {
		return true, w.deps.Vault.Advance(o.Hash, dhtdb.StatusIntegrationLimbo, now)
	}

	pkg, err := w.buildPackage(o)
	if err != nil {
		return false, err
	}

	outcome := w.deps.Callback.Validate(ctx, Element{Op: o}, pkg)
	switch {
	case outcome.Invalid:
		w.log.Info("op rejected in app-validation", "op", o.Hash.String(), "reason", outcome.Reason)
		return true, w.deps.Vault.Advance(o.Hash, dhtdb.StatusIntegratedRejected, now)
	case len(outcome.AwaitingDeps) > 0:
		for _, dep := range outcome.AwaitingDeps {
			if err := w.deps.Vault.RegisterDependency(dep, o.Hash); err != nil {
				return false, err
			}
		}
		return false, w.deps.Vault.Advance(o.Hash, dhtdb.StatusAwaitingAppDeps, now)
	default:
		return true, w.deps.Vault.Advance(o.Hash, dhtdb.StatusIntegrationLimbo, now)
	}
}

func isNonApplicationKind(k op.Type) bool {
	return k == op.TypeRegisterAgentActivity
}

// buildPackage resolves the required validation package per spec.md §4.4
// step 4: Element needs nothing further; SubChain/Full are assembled from
// the TemporalReader pinned at this op's authored time, falling back to
// RegisterAgentActivity-derived history when no richer source is wired.
func (w *Worker) buildPackage(o op.Op) (Package, error) {
	kind := PackageElement
	if w.deps.Defs != nil {
		if et, ok := entryTypeOf(o); ok {
			kind = w.deps.Defs.PackageFor(et)
		}
	}
	if kind == PackageElement {
		return Package{Kind: PackageElement}, nil
	}

	w.deps.Temporal.SetCutover(o.AuthoredTs)
	chain, err := w.deps.Temporal.ActionsByAuthorUpTo(o.Action.Action.Author(), entryTypeOrEmpty(o))
	if err != nil {
		return Package{}, err
	}
	return Package{Kind: kind, Chain: chain}, nil
}

func entryTypeOf(o op.Op) (string, bool) {
	if app, ok := o.Entry.(entry.App); ok {
		return app.EntryType, true
	}
	return "", false
}

func entryTypeOrEmpty(o op.Op) string {
	et, _ := entryTypeOf(o)
	return et
}

// Retry re-examines every op parked on dep now that it has arrived.
func (w *Worker) Retry(ctx context.Context, dep hash.Hash) error {
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
		if _, err := w.validateOne(ctx, rec.Op); err != nil {
			return err
		}
	}
	return nil
}

// opHeap is a container/heap min-heap keyed (kind_order, op_hash), the
// ordering spec.md §4.4 names explicitly including its tie-break rule.
type opHeap []op.Op

func (h opHeap) Len() int      { return len(h) }
func (h opHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h opHeap) Less(i, j int) bool {
	return op.Order(h[i], h[j]) < 0
}
func (h *opHeap) Push(x interface{}) { *h = append(*h, x.(op.Op)) }
func (h *opHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
