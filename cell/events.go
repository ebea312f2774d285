package cell

import (
	"context"
	"time"

	"github.com/dhtmesh/cellcore/hash"
	"github.com/dhtmesh/cellcore/internal/cellerr"
	"github.com/dhtmesh/cellcore/op"
)

// NetworkEventKind enumerates the ten event kinds spec.md §4.9 names for
// handle_network_event.
type NetworkEventKind int

const (
	EventRemoteCall NetworkEventKind = iota
	EventPublish
	EventGet
	EventGetMeta
	EventGetLinks
	EventGetAgentActivity
	EventFetchOpData
	EventValidationReceipt
	EventCountersigningAuthorityResponse
	EventSignNetworkData
)

// NetworkEvent is the dispatch envelope; only the fields relevant to Kind
// are populated by the caller.
type NetworkEvent struct {
	Kind      NetworkEventKind
	Hash      hash.Hash
	Ops       []op.Op
	Validator hash.AgentPubKey
	RawData   []byte
}

// NetworkEventResult is the dispatch outcome; exactly one field is set
// depending on Kind.
type NetworkEventResult struct {
	Ops     []op.Op
	RawData []byte
}

// HandleNetworkEvent implements spec.md §4.9: dispatches to the correct
// per-kind handler. Publish and receipt events drive queue triggers;
// ValidationReceiptReceived resets this Cell's publish back-off.
func (c *Cell) HandleNetworkEvent(ctx context.Context, ev NetworkEvent) (NetworkEventResult, error) {
	switch ev.Kind {
	case EventPublish:
		for _, o := range ev.Ops {
			if _, err := c.handles.Vault.Insert(o); err != nil {
				return NetworkEventResult{}, err
			}
			if err := c.sysWorker.Retry(o.Basis); err != nil {
				return NetworkEventResult{}, err
			}
		}
		return NetworkEventResult{}, nil

	case EventGet:
		o, found, err := c.handles.Cascade.Get(ctx, ev.Hash)
		if err != nil {
			return NetworkEventResult{}, err
		}
		if !found {
			return NetworkEventResult{}, nil
		}
		return NetworkEventResult{Ops: []op.Op{o}}, nil

	case EventGetLinks:
		ops, err := c.handles.Cascade.GetLinks(ctx, ev.Hash)
		return NetworkEventResult{Ops: ops}, err

	case EventGetAgentActivity:
		ops, _, err := c.handles.Cascade.GetAgentActivity(ctx, hash.AgentPubKey{Key: ev.Hash.Bytes()})
		return NetworkEventResult{Ops: ops}, err

	case EventFetchOpData:
		rec, found, err := c.handles.Vault.Get(ev.Hash)
		if err != nil {
			return NetworkEventResult{}, err
		}
		if !found {
			return NetworkEventResult{}, nil
		}
		return NetworkEventResult{Ops: []op.Op{rec.Op}}, nil

	case EventValidationReceipt:
		_, err := c.pubWorker.RecordReceipt(ev.Hash, ev.Validator, time.Now())
		return NetworkEventResult{}, err

	case EventGetMeta, EventRemoteCall, EventCountersigningAuthorityResponse, EventSignNetworkData:
		// These require zome-call dispatch, a countersigning session, or a
		// signing capability this package does not own; the embedder wires
		// its own handler and calls the narrower Cascade/Vault methods
		// directly rather than routing through this dispatcher.
		return NetworkEventResult{}, cellerr.New(cellerr.ProtocolMismatch, "network event kind not handled by cell controller")

	default:
		return NetworkEventResult{}, cellerr.New(cellerr.ProtocolMismatch, "unknown network event kind")
	}
}

// DispatchScheduledFns runs each due call it is given through the Cell's
// ScheduledFnRunner, in order. One call's failure is logged and does not
// prevent the others from running. It does not read or delete rows of the
// ScheduledFns bucket, and it stores no next run: the runner's returned
// schedule is discarded.
func (c *Cell) DispatchScheduledFns(ctx context.Context, due []ScheduledCall) {
	if c.scheduledFn == nil {
		return
	}
	for _, sc := range due {
		next, reschedule, err := c.scheduledFn.Run(ctx, sc.FnID, sc.Payload)
		if err != nil {
			c.log.Error("scheduled fn failed", "fn", sc.FnID, "error", err.Error())
			continue
		}
		if !reschedule || sc.Ephemeral {
			continue
		}
		_ = next // the store-backed reschedule write is the embedder's ScheduledFnRunner's responsibility
	}
}

// ScheduledCall is one due scheduled call, as handed to
// DispatchScheduledFns by its caller.
type ScheduledCall struct {
	FnID      string
	Payload   []byte
	Ephemeral bool
	DueAt     time.Time
}
