// Package integration implements spec.md §4.6's final step: moving ops
// that cleared app-validation out of limbo and into the integrated set.
package integration

import (
	"context"
	"time"

	"github.com/dhtmesh/cellcore/dhtdb"
	"github.com/dhtmesh/cellcore/internal/clog"
	"github.com/dhtmesh/cellcore/op"
)

// Worker drains IntegrationLimbo ops and installs them via dhtdb.DB.Integrate,
// which is idempotent on op-hash by construction (spec.md §4.6: "double-
// delivery produces no new state").
type Worker struct {
	vault *dhtdb.DB
	log   clog.Logger
}

func NewWorker(vault *dhtdb.DB) *Worker {
	return &Worker{vault: vault, log: clog.Named("integration")}
}

// RunOnce integrates at most batch ops sitting in IntegrationLimbo and
// returns how many it installed.
func (w *Worker) RunOnce(ctx context.Context, batch int) (int, error) {
	installed, err := w.Installed(ctx, batch)
	return len(installed), err
}

// Installed integrates at most batch ops sitting in IntegrationLimbo and
// returns the ops it installed, so a caller can retry anything parked on
// one of their bases (spec.md §4.4's AwaitingAppDeps dependents).
func (w *Worker) Installed(ctx context.Context, batch int) ([]op.Op, error) {
	var hashes []dhtdb.Record
	err := w.vault.ScanByStatus(dhtdb.StatusIntegrationLimbo, func(r dhtdb.Record) (bool, error) {
		hashes = append(hashes, r)
		return batch <= 0 || len(hashes) < batch, nil
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var installed []op.Op
	for _, r := range hashes {
		if err := ctx.Err(); err != nil {
			return installed, err
		}
		if err := w.vault.Integrate(r.Op.Hash, now); err != nil {
			return installed, err
		}
		installed = append(installed, r.Op)
	}
	if len(installed) > 0 {
		w.log.Debug("integrated ops", "count", len(installed))
	}
	return installed, nil
}
