// Package cascade implements spec.md §4.5: layered reads that compose an
// agent's authored chain, the integrated vault, pending-judged ops, a
// bounded cache, and the network into one `retrieve` call.
package cascade

import (
	"context"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/dhtmesh/cellcore/action"
	"github.com/dhtmesh/cellcore/dhtdb"
	"github.com/dhtmesh/cellcore/hash"
	"github.com/dhtmesh/cellcore/internal/cellerr"
	"github.com/dhtmesh/cellcore/internal/clog"
	"github.com/dhtmesh/cellcore/op"
	"github.com/dhtmesh/cellcore/sourcechain"
)

// NetworkCapability is the small surface a real transport plugs into
// (spec.md §1 places transport outside the core).
type NetworkCapability interface {
	Get(ctx context.Context, h hash.Hash) (op.Op, bool, error)
	GetLinks(ctx context.Context, base hash.Hash) ([]op.Op, error)
	GetAgentActivity(ctx context.Context, author hash.AgentPubKey) ([]op.Op, error)
}

// Cascade composes the authored chain, integration DB, and network into
// one retrieval path, in the precedence order spec.md §4.5 names.
type Cascade struct {
	authored *sourcechain.Store
	vault    *dhtdb.DB
	cache    *lru.Cache[hash.Hash, op.Op]
	network  NetworkCapability
	sf       singleflight.Group
	log      clog.Logger
}

// New builds a Cascade over the given tiers. network may be nil for a
// fully-local Cell (tests, or a Cell not yet joined to any peers).
func New(authored *sourcechain.Store, vault *dhtdb.DB, cacheSize int, network NetworkCapability) (*Cascade, error) {
	cache, err := lru.New[hash.Hash, op.Op](cacheSize)
	if err != nil {
		return nil, cellerr.Wrap(cellerr.Fatal, err, "create cascade cache")
	}
	return &Cascade{
		authored: authored,
		vault:    vault,
		cache:    cache,
		network:  network,
		log:      clog.Named("cascade"),
	}, nil
}

// Get retrieves the op addressed by h, checking authored, integrated,
// pending-judged, cache, then network tiers in order, stopping at the
// first hit. A single in-flight network request per hash is shared across
// concurrent callers via singleflight.
func (c *Cascade) Get(ctx context.Context, h hash.Hash) (op.Op, bool, error) {
	if o, ok := c.getAuthored(h); ok {
		return o, true, nil
	}
	if o, ok := c.getIntegrated(h); ok {
		return o, true, nil
	}
	if o, ok := c.getPending(h); ok {
		return o, true, nil
	}
	if o, ok := c.cache.Get(h); ok {
		return o, true, nil
	}
	if c.network == nil {
		return op.Op{}, false, nil
	}

	v, err, _ := c.sf.Do(h.String(), func() (any, error) {
		o, found, err := c.network.Get(ctx, h)
		if err != nil {
			return nil, cellerr.Wrap(cellerr.TransientNetwork, err, "cascade network get")
		}
		if found {
			c.cache.Add(h, o)
		}
		return struct {
			op    op.Op
			found bool
		}{o, found}, nil
	})
	if err != nil {
		return op.Op{}, false, err
	}
	result := v.(struct {
		op    op.Op
		found bool
	})
	return result.op, result.found, nil
}

// getAuthored scans this agent's own chain for the op that resolves to h,
// re-deriving each record's ops the same way Produce first made them. An
// agent always trusts its own not-yet-published actions, private entries
// included — the authored tier is the one place AllowPrivate is set.
func (c *Cascade) getAuthored(h hash.Hash) (op.Op, bool) {
	if c.authored == nil {
		return op.Op{}, false
	}
	var found op.Op
	ok := false
	_ = c.authored.IterBack(sourcechain.ReadOptions{AllowPrivate: true}, func(rec sourcechain.Record) (bool, error) {
		for _, o := range op.Produce(rec.Signed, rec.Entry) {
			if o.Hash.Equal(h) {
				found = o
				ok = true
				return false, nil
			}
		}
		return true, nil
	})
	return found, ok
}

func (c *Cascade) getIntegrated(h hash.Hash) (op.Op, bool) {
	rec, found, err := c.vault.Get(h)
	if err != nil || !found {
		return op.Op{}, false
	}
	if rec.Status == dhtdb.StatusIntegratedValid {
		return rec.Op, true
	}
	return op.Op{}, false
}

func (c *Cascade) getPending(h hash.Hash) (op.Op, bool) {
	rec, found, err := c.vault.Get(h)
	if err != nil || !found {
		return op.Op{}, false
	}
	if !rec.Status.Terminal() {
		return rec.Op, true
	}
	return op.Op{}, false
}

// GetLinks unions RegisterAddLink ops for base from the integrated vault
// tier and the network, then drops every add whose CreateLink action hash
// is named by a RegisterRemoveLink op among them (spec.md §3/§8.5's
// link-cycle scenario).
func (c *Cascade) GetLinks(ctx context.Context, base hash.Hash) ([]op.Op, error) {
	adds := map[hash.Hash]op.Op{}
	removed := map[hash.Hash]bool{}

	collect := func(ops []op.Op) {
		for _, o := range ops {
			switch o.Kind {
			case op.TypeRegisterAddLink:
				adds[o.ActionHash] = o
			case op.TypeRegisterRemoveLink:
				removed[o.AuxAction] = true
			}
		}
	}

	var local []op.Op
	_ = c.vault.ScanByStatus(dhtdb.StatusIntegratedValid, func(r dhtdb.Record) (bool, error) {
		if r.Op.Basis.Equal(base) {
			local = append(local, r.Op)
		}
		return true, nil
	})
	collect(local)

	if c.network != nil {
		remote, err := c.network.GetLinks(ctx, base)
		if err != nil {
			return nil, cellerr.Wrap(cellerr.TransientNetwork, err, "cascade network get_links")
		}
		collect(remote)
	}

	var out []op.Op
	for actionHash, o := range adds {
		if !removed[actionHash] {
			out = append(out, o)
		}
	}
	return out, nil
}

// statusesToScan covers every limbo status plus the integrated tier, for
// local-only existence checks that must see an op regardless of how far
// along validation it has gotten.
var statusesToScan = []dhtdb.Status{
	dhtdb.StatusIntegratedValid,
	dhtdb.StatusPending,
	dhtdb.StatusAwaitingSysDeps,
	dhtdb.StatusSysValidated,
	dhtdb.StatusAwaitingAppDeps,
	dhtdb.StatusIntegrationLimbo,
}

// ResolveBasis reports whether a StoreRecord op (an action's own existence)
// or StoreEntry op (an entry's existence) routed at basis is known locally,
// at any validation status. Sys-validation's sequencing and kind-specific
// checks resolve a prior action or entry this way: their DHT op hash is
// derived from the action hash plus op kind, so it never equals the action
// or entry hash itself — only Basis does, for these two op kinds.
func (c *Cascade) ResolveBasis(basis hash.Hash) bool {
	_, ok := c.resolveBasisOp(basis)
	return ok
}

// ResolveBasisAction returns the signed action of the StoreRecord op
// resolving basis (an action hash), for sys-validation's header-seq and
// timestamp monotonicity check, which needs more than existence — it
// needs the prior action's own Seq/Timestamp to compare against.
func (c *Cascade) ResolveBasisAction(basis hash.Hash) (action.Signed, bool) {
	o, ok := c.resolveBasisOp(basis)
	if !ok {
		return action.Signed{}, false
	}
	return o.Action, true
}

func (c *Cascade) resolveBasisOp(basis hash.Hash) (op.Op, bool) {
	for _, status := range statusesToScan {
		var found op.Op
		ok := false
		_ = c.vault.ScanByStatus(status, func(r dhtdb.Record) (bool, error) {
			if (r.Op.Kind == op.TypeStoreRecord || r.Op.Kind == op.TypeStoreEntry) && r.Op.Basis.Equal(basis) {
				found = r.Op
				ok = true
				return false, nil
			}
			return true, nil
		})
		if ok {
			return found, true
		}
	}
	return op.Op{}, false
}

// LinkDetail pairs one RegisterAddLink op with every RegisterRemoveLink op
// that names it, live or not (spec.md §8.5's "get_link_details" scenario:
// unlike GetLinks this never filters out removed links).
type LinkDetail struct {
	Add     op.Op
	Removes []op.Op
}

// GetLinkDetails returns every link add under base paired with its removes,
// local tier only — link-detail queries are a debugging/introspection
// surface spec.md does not require the network tier to serve.
func (c *Cascade) GetLinkDetails(base hash.Hash) ([]LinkDetail, error) {
	adds := map[hash.Hash]op.Op{}
	var removesByTarget []op.Op

	err := c.vault.ScanByStatus(dhtdb.StatusIntegratedValid, func(r dhtdb.Record) (bool, error) {
		switch {
		case r.Op.Kind == op.TypeRegisterAddLink && r.Op.Basis.Equal(base):
			adds[r.Op.ActionHash] = r.Op
		case r.Op.Kind == op.TypeRegisterRemoveLink:
			removesByTarget = append(removesByTarget, r.Op)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	details := make([]LinkDetail, 0, len(adds))
	for _, add := range adds {
		var removes []op.Op
		for _, rm := range removesByTarget {
			if rm.AuxAction.Equal(add.ActionHash) {
				removes = append(removes, rm)
			}
		}
		details = append(details, LinkDetail{Add: add, Removes: removes})
	}
	return details, nil
}

// GetAgentActivity returns author's RegisterAgentActivity ops from the
// integrated vault tier together with whatever the network reports, sorted
// by action sequence number, plus the action hash of each op in the same
// order. The authored chain is not read, an op reported by both sources
// appears twice, and forks are not detected.
func (c *Cascade) GetAgentActivity(ctx context.Context, author hash.AgentPubKey) ([]op.Op, []hash.Hash, error) {
	var all []op.Op
	_ = c.vault.ScanByStatus(dhtdb.StatusIntegratedValid, func(r dhtdb.Record) (bool, error) {
		if r.Op.Kind == op.TypeRegisterAgentActivity && r.Op.Action.Action.Author().Equal(author) {
			all = append(all, r.Op)
		}
		return true, nil
	})

	if c.network != nil {
		remote, err := c.network.GetAgentActivity(ctx, author)
		if err != nil {
			return nil, nil, cellerr.Wrap(cellerr.TransientNetwork, err, "cascade network get_agent_activity")
		}
		all = append(all, remote...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Action.Action.Seq() < all[j].Action.Action.Seq()
	})

	var actions []hash.Hash
	for _, o := range all {
		actions = append(actions, o.ActionHash)
	}
	return all, actions, nil
}
