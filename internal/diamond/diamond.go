// Package diamond implements a diamond: one addressable contract that routes
// every call by its 4-byte selector to a swappable facet, with all facets
// sharing the diamond's storage.
//
// The route registry is mutated only through ApplyCut, which validates and
// applies a batch of Add/Replace/Remove cuts, optionally runs an
// initializer, and either commits everything or nothing. Call forwards a
// call to its facet and relays the result byte for byte. The loupe methods
// (Facets, FacetAddresses, FacetFunctionSelectors, FacetAddress) derive
// read-only views from the registry on demand.
//
// A diamond runs one top-level invocation at a time. Facet code may call back
// into the same diamond through the context it was handed; such nested calls
// join the running invocation instead of waiting for it, and must stay on the
// invoking goroutine.
package diamond

import (
	"context"
	"fmt"
	"sync"

	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/diamond_layer/internal/diamond/events"
	"github.com/R3E-Network/diamond_layer/internal/diamond/metrics"
	"github.com/R3E-Network/diamond_layer/internal/diamond/routes"
	"github.com/R3E-Network/diamond_layer/internal/logging"
	"github.com/R3E-Network/diamond_layer/internal/selector"
	"github.com/R3E-Network/diamond_layer/internal/storage"
)

// Namespace is the storage namespace of the diamond's own state.
const Namespace = "diamond.standard.diamond.storage"

var (
	routesSlot     = storage.SlotFor(Namespace)
	interfacesSlot = routesSlot.Offset(1)
)

// ImmutableFunction is a function the diamond implements itself. Its route
// points at the diamond's own handle and can never be replaced or removed.
type ImmutableFunction struct {
	Selector selector.Selector
	Module   Module
}

// Config configures a Diamond.
type Config struct {
	// Required fields
	Address util.Uint160
	Env     Environment

	// Optional fields (have sensible defaults)
	Owner      util.Uint160
	Backend    storage.Backend    // default: in-memory
	Authorizer Authorizer         // default: OwnerAuthorizer{Owner}
	Events     events.EventLogger // default: 1000-event ring buffer
	Metrics    *metrics.Collector // nil disables metrics
	Logger     *logging.Logger    // default: discard
	Immutable  []ImmutableFunction
}

// Diamond is the routing proxy. Create it with New.
type Diamond struct {
	self       util.Uint160
	owner      util.Uint160
	label      string
	env        Environment
	root       *storage.Root
	auth       Authorizer
	audit      events.EventLogger
	metrics    *metrics.Collector
	log        *logging.Logger
	namespaces *storage.Namespaces
	builtins   map[selector.Selector]Module
	immutable  []selector.Selector // builtins in declaration order

	mu    sync.Mutex
	table *routes.Table
}

// New deploys a diamond at cfg.Address. When the backend already holds a
// registry for that address it is restored; otherwise the diamond starts with
// only its immutable functions routed and the ERC-165, cut and loupe
// interfaces marked as supported.
func New(ctx context.Context, cfg Config) (*Diamond, error) {
	if cfg.Address == (util.Uint160{}) {
		return nil, fmt.Errorf("diamond: address is required")
	}
	if cfg.Env == nil {
		return nil, fmt.Errorf("diamond: environment is required")
	}
	if cfg.Backend == nil {
		cfg.Backend = storage.NewMemory()
	}
	if cfg.Authorizer == nil {
		cfg.Authorizer = OwnerAuthorizer{Owner: cfg.Owner}
	}
	if cfg.Events == nil {
		cfg.Events = events.NewRingBuffer(1000)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	d := &Diamond{
		self:       cfg.Address,
		owner:      cfg.Owner,
		label:      "0x" + cfg.Address.StringLE(),
		env:        cfg.Env,
		root:       storage.NewRoot(cfg.Backend, cfg.Address),
		auth:       cfg.Authorizer,
		audit:      cfg.Events,
		metrics:    cfg.Metrics,
		namespaces: storage.NewNamespaces(),
		builtins:   make(map[selector.Selector]Module),
		table:      routes.New(),
	}
	d.log = cfg.Logger.WithField("diamond", d.label)

	if _, err := d.namespaces.Claim(Namespace, "diamond"); err != nil {
		return nil, err
	}

	d.builtins[SelectorSupportsInterface] = ModuleFunc(d.supportsInterface)
	d.immutable = append(d.immutable, SelectorSupportsInterface)
	for _, fn := range cfg.Immutable {
		if fn.Module == nil {
			return nil, fmt.Errorf("diamond: immutable function %s has no module", fn.Selector)
		}
		if _, dup := d.builtins[fn.Selector]; dup {
			return nil, fmt.Errorf("diamond: immutable function %s declared twice", fn.Selector)
		}
		d.builtins[fn.Selector] = fn.Module
		d.immutable = append(d.immutable, fn.Selector)
	}

	if err := cfg.Env.DeployAt(d.self, ModuleFunc(d.invokeBuiltin)); err != nil {
		return nil, fmt.Errorf("diamond: deploy core: %w", err)
	}

	if err := d.bootstrap(ctx); err != nil {
		return nil, err
	}

	d.publishSize()
	d.audit.LogWithContext(ctx, events.Event{
		Type:     events.EventDiamondDeployed,
		Diamond:  d.self,
		Sender:   SenderFrom(ctx),
		Message:  "diamond deployed",
		Metadata: map[string]string{"routes": fmt.Sprint(d.table.Len())},
	})
	d.log.WithField("routes", d.table.Len()).Info("diamond deployed")
	return d, nil
}

// bootstrap restores the persisted registry, routes any immutable function
// missing from it and, for a fresh diamond, registers the default interfaces.
func (d *Diamond) bootstrap(ctx context.Context) error {
	snapshot, err := d.root.Get(ctx, routesSlot)
	if err != nil {
		return fmt.Errorf("diamond: load registry: %w", err)
	}
	fresh := snapshot == nil
	if !fresh {
		if err := d.table.UnmarshalBinary(snapshot); err != nil {
			return fmt.Errorf("diamond: restore registry: %w", err)
		}
	}

	journal := storage.NewJournal(d.root)
	changed := fresh
	for _, sel := range d.immutable {
		r := d.table.Lookup(sel)
		switch {
		case !r.Routed():
			if err := d.table.Insert(sel, d.self); err != nil {
				return fmt.Errorf("diamond: route immutable %s: %w", sel, err)
			}
			changed = true
		case r.Module != d.self:
			return fmt.Errorf("diamond: immutable function %s is routed to facet 0x%s", sel, r.Module.StringLE())
		}
	}
	if fresh {
		for _, id := range []selector.Selector{InterfaceERC165, InterfaceDiamondCut, InterfaceDiamondLoupe} {
			if err := journal.Put(ctx, InterfaceSlot(id), []byte{1}); err != nil {
				return err
			}
		}
	}
	if !changed {
		return nil
	}
	if err := d.saveRoutes(ctx, journal, d.table); err != nil {
		return err
	}
	if err := journal.Commit(ctx); err != nil {
		return fmt.Errorf("diamond: persist registry: %w", err)
	}
	return nil
}

// Address returns the diamond's own handle.
func (d *Diamond) Address() util.Uint160 {
	return d.self
}

// Owner returns the configured owner account.
func (d *Diamond) Owner() util.Uint160 {
	return d.owner
}

// Events returns the audit log the diamond publishes to.
func (d *Diamond) Events() events.EventLogger {
	return d.audit
}

// ClaimNamespace reserves a storage namespace inside this diamond for owner
// and returns its base slot. Facets sharing the diamond's storage must claim
// distinct namespaces.
func (d *Diamond) ClaimNamespace(namespace, owner string) (storage.Slot, error) {
	return d.namespaces.Claim(namespace, owner)
}

// Validate checks the registry's internal consistency.
func (d *Diamond) Validate(ctx context.Context) error {
	_, f, _, release := d.enter(ctx)
	defer release()
	return d.view(f).Validate()
}

func (d *Diamond) saveRoutes(ctx context.Context, s storage.Store, t *routes.Table) error {
	snapshot, err := t.MarshalBinary()
	if err != nil {
		return fmt.Errorf("diamond: encode registry: %w", err)
	}
	if err := s.Put(ctx, routesSlot, snapshot); err != nil {
		return fmt.Errorf("diamond: write registry: %w", err)
	}
	return nil
}

// invokeBuiltin serves every route pointing at the diamond itself.
func (d *Diamond) invokeBuiltin(ctx context.Context, call *Call) ([]byte, error) {
	sel, ok := selector.FromCalldata(call.Input)
	if !ok {
		return nil, &UnknownOperationError{Selector: sel}
	}
	fn, ok := d.builtins[sel]
	if !ok {
		return nil, &UnknownOperationError{Selector: sel}
	}
	return fn.Invoke(ctx, call)
}

// frame is the state of the invocation currently running on a diamond.
// store is the innermost storage context; nested calls layer journals on it.
// routes is the registry as changed by cuts the invocation has not yet
// committed, nil when there are none. events holds the innermost level's
// unpublished events.
type frame struct {
	store   storage.Store
	routes  *routes.Table
	events  *events.Buffer
	cutting bool
}

type frameKey struct {
	d *Diamond
}

// enter joins the invocation carried by ctx or starts a new one, waiting for
// any other top-level invocation to finish. nested reports which.
func (d *Diamond) enter(ctx context.Context) (context.Context, *frame, bool, func()) {
	if f, ok := ctx.Value(frameKey{d}).(*frame); ok {
		return ctx, f, true, func() {}
	}
	d.mu.Lock()
	f := &frame{store: d.root}
	return context.WithValue(ctx, frameKey{d}, f), f, false, d.mu.Unlock
}

// view is the registry visible to the running invocation.
func (d *Diamond) view(f *frame) *routes.Table {
	if f.routes != nil {
		return f.routes
	}
	return d.table
}

// settle hands what an invocation level produced to the level enclosing it.
// At top level the staged registry becomes the diamond's and the events are
// published.
func (d *Diamond) settle(ctx context.Context, f *frame, nested bool, parent, pending *events.Buffer) {
	if nested {
		pending.Flush(ctx, parent)
		return
	}
	if f.routes != nil {
		d.table = f.routes
		f.routes = nil
		d.publishSize()
	}
	pending.Flush(ctx, d.audit)
}

func (d *Diamond) publishSize() {
	if d.metrics == nil {
		return
	}
	d.metrics.SetRegistrySize(d.label, d.table.Len(), len(facetAddresses(d.table)))
}
