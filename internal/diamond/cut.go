package diamond

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/diamond_layer/internal/diamond/events"
	"github.com/R3E-Network/diamond_layer/internal/diamond/routes"
	"github.com/R3E-Network/diamond_layer/internal/selector"
	"github.com/R3E-Network/diamond_layer/internal/storage"
)

// Action is what a cut does to its selectors.
type Action uint8

const (
	Add Action = iota
	Replace
	Remove
)

var actionNames = [...]string{"add", "replace", "remove"}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// MarshalText encodes the action by name.
func (a Action) MarshalText() ([]byte, error) {
	if int(a) >= len(actionNames) {
		return nil, &UnknownActionError{Action: a}
	}
	return []byte(actionNames[a]), nil
}

// UnmarshalText accepts an action name, case-insensitively.
func (a *Action) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for i, n := range actionNames {
		if n == name {
			*a = Action(i)
			return nil
		}
	}
	return fmt.Errorf("diamond: unknown cut action %q", name)
}

// Cut is one unit of a batch mutation.
type Cut struct {
	Facet     util.Uint160
	Action    Action
	Selectors []selector.Selector
}

// ApplyCut applies cuts in order, then runs init with initData when init is
// non-zero. Either every change lands, including the initializer's storage
// writes and the DiamondCut event, or none does.
//
// The sender is taken from ctx (see WithSender) and must pass the diamond's
// Authorizer. Facet code reached through Call may apply a cut with the
// context it was handed: the cut is staged on the call and lands only when
// the top-level call commits. A cut applied while another cut is running,
// for example from its initializer, fails with ErrReentrantCut.
func (d *Diamond) ApplyCut(ctx context.Context, cuts []Cut, init util.Uint160, initData []byte) (err error) {
	start := time.Now()
	ctx, f, nested, release := d.enter(ctx)
	defer release()

	sender := SenderFrom(ctx)
	log := d.log.WithFields(map[string]interface{}{
		"sender": "0x" + sender.StringLE(),
		"cuts":   len(cuts),
		"nested": nested,
	})
	defer func() {
		if err != nil {
			d.metrics.RecordCutError(d.label, Kind(err), time.Since(start))
			log.WithError(err).WithField("kind", Kind(err)).Warn("diamond cut rejected")
		}
	}()

	if f.cutting {
		return fmt.Errorf("diamond: %w", ErrReentrantCut)
	}

	if err := d.auth.Authorize(ctx, sender); err != nil {
		log.LogSecurityEvent(ctx, "unauthorized_cut", map[string]interface{}{"reason": err.Error()})
		if !errors.Is(err, ErrUnauthorized) {
			err = &UnauthorizedError{Sender: sender, Reason: err.Error()}
		}
		return err
	}

	staged := d.view(f).Clone()
	journal := storage.NewJournal(f.store)
	parentStore, parentRoutes, parentEvents := f.store, f.routes, f.events
	var pending events.Buffer
	f.store, f.routes, f.events, f.cutting = journal, staged, &pending, true
	defer func() {
		f.store, f.events, f.cutting = parentStore, parentEvents, false
		if err != nil {
			f.routes = parentRoutes
		}
		journal.Discard()
	}()

	touched := 0
	for _, c := range cuts {
		if err := d.applyOne(staged, c); err != nil {
			return err
		}
		touched += len(c.Selectors)
	}
	if err := d.saveRoutes(ctx, journal, staged); err != nil {
		return err
	}

	pending.Add(events.Event{
		Type:    events.EventDiamondCut,
		Diamond: d.self,
		Sender:  sender,
		Message: fmt.Sprintf("diamond cut: %d cuts, %d selectors", len(cuts), touched),
		Cut:     cutRecord(cuts, init, initData),
	})

	if init == (util.Uint160{}) {
		if len(initData) > 0 {
			log.WithField("calldata_len", len(initData)).Debug("calldata ignored: no initializer")
		}
	} else if err := d.initialize(ctx, journal, sender, init, initData); err != nil {
		return err
	}

	writes := journal.Len()
	if err := journal.Commit(ctx); err != nil {
		return fmt.Errorf("diamond: commit cut: %w", err)
	}
	d.settle(ctx, f, nested, parentEvents, &pending)

	d.metrics.RecordCut(d.label, touched, time.Since(start))
	log = log.WithFields(map[string]interface{}{
		"selectors": touched,
		"routes":    staged.Len(),
		"writes":    writes,
	})
	if nested {
		log.Info("diamond cut staged")
	} else {
		log.Info("diamond cut applied")
	}
	return nil
}

func (d *Diamond) applyOne(t *routes.Table, c Cut) error {
	if len(c.Selectors) == 0 {
		return &EmptyIdentifierSetError{Facet: c.Facet}
	}

	switch c.Action {
	case Add:
		if !d.env.HasCode(c.Facet) {
			return &NoCodeAtHandleError{Handle: c.Facet, Context: "add"}
		}
		for _, sel := range c.Selectors {
			if t.Lookup(sel).Routed() {
				return &DuplicateRouteError{Selector: sel}
			}
			if err := t.Insert(sel, c.Facet); err != nil {
				return fmt.Errorf("diamond: add %s: %w", sel, err)
			}
		}

	case Replace:
		if !d.env.HasCode(c.Facet) {
			return &NoCodeAtHandleError{Handle: c.Facet, Context: "replace"}
		}
		for _, sel := range c.Selectors {
			r := t.Lookup(sel)
			switch {
			case !r.Routed():
				return &RouteNotFoundError{Selector: sel}
			case r.Module == d.self:
				return &ImmutableRouteError{Selector: sel}
			case r.Module == c.Facet:
				return &NoOpReplaceError{Selector: sel}
			}
			if err := t.Repoint(sel, c.Facet); err != nil {
				return fmt.Errorf("diamond: replace %s: %w", sel, err)
			}
		}

	case Remove:
		if c.Facet != (util.Uint160{}) {
			return &RemoveModuleMustBeZeroError{Facet: c.Facet}
		}
		for _, sel := range c.Selectors {
			r := t.Lookup(sel)
			switch {
			case !r.Routed():
				return &RouteNotFoundError{Selector: sel}
			case r.Module == d.self:
				return &ImmutableRouteError{Selector: sel}
			}
			if err := t.Remove(sel); err != nil {
				return fmt.Errorf("diamond: remove %s: %w", sel, err)
			}
		}

	default:
		return &UnknownActionError{Action: c.Action}
	}
	return nil
}

// initialize runs the initializer once against the cut's storage journal.
// A revert with a payload is returned as is; any other failure is wrapped.
func (d *Diamond) initialize(ctx context.Context, s storage.Store, sender, init util.Uint160, data []byte) error {
	m, ok := d.env.Module(init)
	if !ok {
		return &NoCodeAtHandleError{Handle: init, Context: "_init"}
	}
	_, err := m.Invoke(ctx, &Call{
		Diamond: d.self,
		Sender:  sender,
		Input:   data,
		Storage: s,
	})
	if err == nil {
		return nil
	}
	var rev *RevertError
	if errors.As(err, &rev) && len(rev.Data) > 0 {
		return err
	}
	return &InitializationFailedError{Init: init, Data: append([]byte(nil), data...), Cause: err}
}

func cutRecord(cuts []Cut, init util.Uint160, initData []byte) *events.CutRecord {
	rec := &events.CutRecord{
		Cuts:     make([]events.FacetCut, len(cuts)),
		Init:     init,
		InitData: append([]byte(nil), initData...),
	}
	for i, c := range cuts {
		rec.Cuts[i] = events.FacetCut{
			Facet:     c.Facet,
			Action:    c.Action.String(),
			Selectors: append([]selector.Selector(nil), c.Selectors...),
		}
	}
	return rec
}
