// Package cell implements spec.md §4.9: the Cell controller that owns a
// single agent's store/cache/network handles, serializes init through a
// timed mutex, and supervises the long-running queue-consumer tasks.
package cell

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/dhtmesh/cellcore/action"
	"github.com/dhtmesh/cellcore/cascade"
	"github.com/dhtmesh/cellcore/dhtdb"
	"github.com/dhtmesh/cellcore/entry"
	"github.com/dhtmesh/cellcore/internal/cellerr"
	"github.com/dhtmesh/cellcore/internal/clog"
	"github.com/dhtmesh/cellcore/internal/config"
	"github.com/dhtmesh/cellcore/op"
	"github.com/dhtmesh/cellcore/sourcechain"
	"github.com/dhtmesh/cellcore/workflow/appvalidation"
	"github.com/dhtmesh/cellcore/workflow/integration"
	"github.com/dhtmesh/cellcore/workflow/opproduction"
	"github.com/dhtmesh/cellcore/workflow/publish"
	"github.com/dhtmesh/cellcore/workflow/sysvalidation"
)

// ID identifies a Cell: a (DNA hash, agent pub key) pair in spec.md's
// vocabulary, opaque to this package beyond directory naming.
type ID string

// Handles are the store/cache/network collaborators create wires together.
// All are owned by the Cell for its lifetime.
type Handles struct {
	Chain       *sourcechain.Store
	Vault       *dhtdb.DB
	Cascade     *cascade.Cascade
	Directory   publish.PeerDirectory
	Transport   publish.Transport
	AppCallback appvalidation.Callback
	EntryDefs   appvalidation.EntryDef
}

// Cell is the running controller for one agent's local copy of a DNA.
type Cell struct {
	id      ID
	dir     string
	lock    *flock.Flock
	cfg     config.Tunables
	log     clog.Logger
	handles Handles

	initMu chan struct{} // 1-buffered semaphore, spec.md §4.9 "init_mutex"

	sysWorker   *sysvalidation.Worker
	appWorker   *appvalidation.Worker
	intWorker   *integration.Worker
	opsWorker   *opproduction.Worker
	pubWorker   *publish.Worker

	group  *errgroup.Group
	cancel context.CancelFunc

	mu          sync.Mutex
	hasInit     bool
	scheduledFn ScheduledFnRunner
}

// ScheduledFnRunner invokes a due scheduled function by id; it returns the
// time of its next run and whether it is to be rescheduled at all.
type ScheduledFnRunner interface {
	Run(ctx context.Context, fnID string, payload []byte) (next time.Time, reschedule bool, err error)
}

// Create implements spec.md §4.9 `create`: fails with CellWithoutGenesis if
// the chain has no genesis actions, otherwise spawns the queue-consumer
// tasks and returns a running Cell.
func Create(ctx context.Context, id ID, dir string, handles Handles, cfg config.Tunables, runner ScheduledFnRunner) (*Cell, error) {
	if !handles.Chain.Head().HasHead {
		return nil, cellerr.Wrap(cellerr.Fatal, cellerr.ErrCellWithoutGenesis, "cell create")
	}

	lock := flock.New(dir + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, cellerr.Wrap(cellerr.Capacity, err, "cell create: acquire directory lock")
	}
	if !locked {
		return nil, cellerr.New(cellerr.Capacity, "cell create: directory already locked by another process")
	}

	c := &Cell{
		id:          id,
		dir:         dir,
		lock:        lock,
		cfg:         cfg,
		log:         clog.Named("cell"),
		handles:     handles,
		initMu:      make(chan struct{}, 1),
		sysWorker:   sysvalidation.NewWorker(sysvalidation.Deps{Vault: handles.Vault, Cascade: handles.Cascade}),
		appWorker:   appvalidation.NewWorker(appvalidation.Deps{Vault: handles.Vault, Cascade: handles.Cascade, Temporal: cascade.NewTemporalReader(handles.Vault, 0), Defs: handles.EntryDefs, Callback: handles.AppCallback}),
		intWorker:   integration.NewWorker(handles.Vault),
		opsWorker:   opproduction.NewWorker(handles.Vault),
		pubWorker:   publish.NewWorker(handles.Vault, handles.Directory, handles.Transport, cfg),
		scheduledFn: runner,
	}
	c.initMu <- struct{}{}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	c.group = g

	g.Go(func() error { return c.runQueueConsumer(gctx, "sysvalidation", c.drainSysValidation) })
	g.Go(func() error { return c.runQueueConsumer(gctx, "appvalidation", c.drainAppValidation) })
	g.Go(func() error { return c.runQueueConsumer(gctx, "integration", c.drainIntegration) })

	c.log.Info("cell created", "id", string(id))
	return c, nil
}

// runQueueConsumer is the cooperative-task loop shape shared by every
// queue consumer: poll, drain a batch, sleep briefly, repeat until
// cancellation (spec.md §5's shutdown-channel drain/flush/exit contract).
func (c *Cell) runQueueConsumer(ctx context.Context, name string, drain func(context.Context) (int, error)) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.log.Debug("queue consumer exiting", "consumer", name)
			return nil
		case <-ticker.C:
			if _, err := drain(ctx); err != nil && ctx.Err() == nil {
				c.log.Error("queue consumer step failed", "consumer", name, "error", err.Error())
			}
		}
	}
}

func (c *Cell) drainSysValidation(ctx context.Context) (int, error) { return c.sysWorker.RunOnce(ctx, 64) }
func (c *Cell) drainAppValidation(ctx context.Context) (int, error) { return c.appWorker.RunOnce(ctx, 64) }

// drainIntegration installs limbo ops, then retries anything parked
// awaiting one of them — app-validation dependents name arbitrary hashes
// (op, action, or entry), so all three are retried per installed op.
func (c *Cell) drainIntegration(ctx context.Context) (int, error) {
	installed, err := c.intWorker.Installed(ctx, 64)
	if err != nil {
		return len(installed), err
	}
	for _, o := range installed {
		if err := c.appWorker.Retry(ctx, o.Hash); err != nil {
			return len(installed), err
		}
		if err := c.appWorker.Retry(ctx, o.ActionHash); err != nil {
			return len(installed), err
		}
		if err := c.appWorker.Retry(ctx, o.Basis); err != nil {
			return len(installed), err
		}
	}
	return len(installed), nil
}

// EnsureInit serializes the init check through init_mutex with a 30-second
// timeout, per spec.md §4.9. initFn runs the init-zomes workflow exactly
// once; subsequent calls are no-ops.
func (c *Cell) EnsureInit(ctx context.Context, initFn func(context.Context) error) error {
	c.mu.Lock()
	if c.hasInit {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	timeout := c.cfg.InitTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-c.initMu:
	case <-ctx.Done():
		return cellerr.Wrap(cellerr.Capacity, cellerr.ErrInitTimeout, "cell ensure init")
	}
	defer func() { c.initMu <- struct{}{} }()

	c.mu.Lock()
	already := c.hasInit
	c.mu.Unlock()
	if already {
		return nil
	}
	if err := initFn(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.hasInit = true
	c.mu.Unlock()
	return nil
}

// ProduceOps derives and enqueues the DHT ops for a newly committed
// action, delegating to the opproduction workflow this Cell owns, then
// retries any op parked on one of this action's bases — spec.md §4.3's
// "re-tried when the missing hash arrives" applied to a hash that just
// arrived via local commit rather than over the network.
func (c *Cell) ProduceOps(signed action.Signed, e entry.Entry) (int, error) {
	n, err := c.opsWorker.Produce(signed, e)
	if err != nil {
		return n, err
	}
	for _, produced := range op.Produce(signed, e) {
		if err := c.sysWorker.Retry(produced.Basis); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Shutdown implements spec.md §5's cancellation contract: queue consumers
// observe ctx cancellation, finish their current drain step, and exit; this
// call blocks until they have.
func (c *Cell) Shutdown() error {
	c.cancel()
	return c.group.Wait()
}

// Destroy implements spec.md §4.9 `destroy`: cleanup (network leave is the
// embedder's responsibility via Handles.Transport), releasing the store
// directory's lock, then removing the store directory itself.
func (c *Cell) Destroy() error {
	if err := c.Shutdown(); err != nil {
		return err
	}
	if err := c.handles.Chain.Close(); err != nil {
		return err
	}
	if err := c.handles.Vault.Close(); err != nil {
		return err
	}
	if err := c.lock.Unlock(); err != nil {
		return err
	}
	return os.RemoveAll(c.dir)
}
