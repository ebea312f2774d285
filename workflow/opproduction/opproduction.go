// Package opproduction implements spec.md §4.2: deriving the full set of
// DHT ops from a newly admitted action and enqueueing them, idempotently,
// for sys-validation.
package opproduction

import (
	"github.com/dhtmesh/cellcore/action"
	"github.com/dhtmesh/cellcore/dhtdb"
	"github.com/dhtmesh/cellcore/entry"
	"github.com/dhtmesh/cellcore/internal/clog"
	"github.com/dhtmesh/cellcore/op"
)

// Worker wraps op.Produce with idempotent enqueue into the limbo database.
type Worker struct {
	vault *dhtdb.DB
	log   clog.Logger
}

func NewWorker(vault *dhtdb.DB) *Worker {
	return &Worker{vault: vault, log: clog.Named("opproduction")}
}

// Produce derives every op for signed and enqueues each with status
// Pending, skipping any already present (spec.md §4.2: "re-enqueue is a
// no-op"). It returns how many ops were newly inserted.
func (w *Worker) Produce(signed action.Signed, e entry.Entry) (int, error) {
	ops := op.Produce(signed, e)
	inserted := 0
	for _, o := range ops {
		did, err := w.vault.Insert(o)
		if err != nil {
			return inserted, err
		}
		if did {
			inserted++
		}
	}
	w.log.Debug("produced ops for action", "action", signed.Hash().String(), "count", len(ops), "new", inserted)
	return inserted, nil
}
