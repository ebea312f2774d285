// Package publish implements spec.md §4.6's publishing half: draining
// authored ops not yet receipt-complete, routing them to the peers whose
// arc covers the basis location, and backing off exponentially between
// attempts until enough receipts arrive.
package publish

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dhtmesh/cellcore/arc"
	"github.com/dhtmesh/cellcore/dhtdb"
	"github.com/dhtmesh/cellcore/hash"
	"github.com/dhtmesh/cellcore/internal/clog"
	"github.com/dhtmesh/cellcore/internal/config"
	"github.com/dhtmesh/cellcore/op"
)

// Peer is the routing-relevant slice of a known peer: its agent arc and
// the address a Transport uses to reach it.
type Peer struct {
	Cert hash.AgentPubKey
	Arc  arc.Arc
}

// PeerDirectory resolves which peers currently cover a basis location.
type PeerDirectory interface {
	PeersCovering(loc uint32) []Peer
}

// Transport sends one op to one peer. Errors are treated as transient
// (spec.md §7 TransientNetwork): the op stays queued and is retried on the
// next backoff tick.
type Transport interface {
	SendOp(ctx context.Context, peer Peer, o op.Op) error
}

// Worker drains the authored-ops queue and publishes each to the peers
// that cover its basis, tracking per-op backoff state.
type Worker struct {
	vault     *dhtdb.DB
	directory PeerDirectory
	transport Transport
	cfg       config.Tunables
	log       clog.Logger

	mu       sync.Mutex
	backoffs map[hash.Hash]*backoff.ExponentialBackOff
	nextTry  map[hash.Hash]time.Time
}

func NewWorker(vault *dhtdb.DB, directory PeerDirectory, transport Transport, cfg config.Tunables) *Worker {
	return &Worker{
		vault:     vault,
		directory: directory,
		transport: transport,
		cfg:       cfg,
		log:       clog.Named("publish"),
		backoffs:  map[hash.Hash]*backoff.ExponentialBackOff{},
		nextTry:   map[hash.Hash]time.Time{},
	}
}

// RunOnce publishes every integrated, not-yet-receipt-complete op whose
// backoff has elapsed. It returns how many sends to covering peers
// succeeded.
func (w *Worker) RunOnce(ctx context.Context, now time.Time) (int, error) {
	attempts := 0
	err := w.vault.ScanByStatus(dhtdb.StatusIntegratedValid, func(r dhtdb.Record) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if r.ReceiptsComplete {
			w.clearBackoff(r.Op.Hash)
			return true, nil
		}
		if !w.due(r.Op.Hash, now) {
			return true, nil
		}
		n, err := w.publishOne(ctx, r.Op)
		attempts += n
		return true, err
	})
	return attempts, err
}

func (w *Worker) publishOne(ctx context.Context, o op.Op) (int, error) {
	peers := w.directory.PeersCovering(o.BasisLocation())
	sent := 0
	var lastErr error
	for _, p := range peers {
		if err := w.transport.SendOp(ctx, p, o); err != nil {
			lastErr = err
			continue
		}
		sent++
	}
	w.scheduleNext(o.Hash)
	if sent == 0 && lastErr != nil {
		w.log.Info("publish attempt found no reachable peer", "op", o.Hash.String())
	}
	return sent, nil
}

// RecordReceipt forwards to the vault and resets this op's publish backoff
// to minimum on every new receipt, complete or not (spec.md §4.6/§8's
// receipt-accrual invariant: "publishing back-off resets on each new
// receipt").
func (w *Worker) RecordReceipt(opHash hash.Hash, validator hash.AgentPubKey, now time.Time) (bool, error) {
	complete, err := w.vault.RecordReceipt(opHash, validator, now)
	if err != nil {
		return false, err
	}
	w.clearBackoff(opHash)
	return complete, nil
}

func (w *Worker) due(opHash hash.Hash, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	next, ok := w.nextTry[opHash]
	return !ok || !now.Before(next)
}

func (w *Worker) scheduleNext(opHash hash.Hash) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.backoffs[opHash]
	if !ok {
		b = backoff.NewExponentialBackOff()
		b.InitialInterval = w.cfg.PublishBackoffMin
		b.MaxInterval = w.cfg.PublishBackoffMax
		b.MaxElapsedTime = 0 // never stop retrying while unconfirmed
		w.backoffs[opHash] = b
	}
	w.nextTry[opHash] = time.Now().Add(b.NextBackOff())
}

func (w *Worker) clearBackoff(opHash hash.Hash) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.backoffs, opHash)
	delete(w.nextTry, opHash)
}
