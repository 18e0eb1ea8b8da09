// Package routes implements the diamond's route registry: a map from
// selector to {module, position} plus the dense, insertion-ordered list of
// every routed selector.
//
// The two structures are kept in bidirectional agreement: the selector at
// list index p has Route.Position == p, and every routed selector appears in
// the list exactly once at its position. Removal swaps the last selector into
// the vacated index so every operation is O(1).
package routes

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/diamond_layer/internal/selector"
)

var (
	// ErrDuplicate is returned by Insert for a selector that is already routed.
	ErrDuplicate = errors.New("routes: selector already routed")
	// ErrNotFound is returned by Repoint and Remove for an unrouted selector.
	ErrNotFound = errors.New("routes: selector not routed")
	// ErrZeroModule is returned when routing to the zero handle.
	ErrZeroModule = errors.New("routes: zero module handle")
)

// Route is where a selector is served from and where it sits in the list.
type Route struct {
	Module   util.Uint160
	Position int
}

// Routed reports whether the route points at a module.
func (r Route) Routed() bool {
	return r.Module != (util.Uint160{})
}

// Table is the route registry. The zero value is not usable; call New.
type Table struct {
	routes    map[selector.Selector]Route
	selectors []selector.Selector
}

// New creates an empty table.
func New() *Table {
	return &Table{routes: make(map[selector.Selector]Route)}
}

// Lookup returns the route of sel, or the zero Route when unrouted.
func (t *Table) Lookup(sel selector.Selector) Route {
	return t.routes[sel]
}

// Insert appends sel to the list and routes it to module.
func (t *Table) Insert(sel selector.Selector, module util.Uint160) error {
	if module == (util.Uint160{}) {
		return ErrZeroModule
	}
	if t.routes[sel].Routed() {
		return fmt.Errorf("%w: %s", ErrDuplicate, sel)
	}
	t.routes[sel] = Route{Module: module, Position: len(t.selectors)}
	t.selectors = append(t.selectors, sel)
	return nil
}

// Repoint routes an existing selector to module, keeping its position.
func (t *Table) Repoint(sel selector.Selector, module util.Uint160) error {
	if module == (util.Uint160{}) {
		return ErrZeroModule
	}
	r, ok := t.routes[sel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sel)
	}
	r.Module = module
	t.routes[sel] = r
	return nil
}

// Remove unroutes sel. The last selector of the list moves into the freed
// position, so only that one selector's position changes.
func (t *Table) Remove(sel selector.Selector) error {
	r, ok := t.routes[sel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sel)
	}
	last := len(t.selectors) - 1
	if r.Position != last {
		moved := t.selectors[last]
		t.selectors[r.Position] = moved
		mr := t.routes[moved]
		mr.Position = r.Position
		t.routes[moved] = mr
	}
	t.selectors = t.selectors[:last]
	delete(t.routes, sel)
	return nil
}

// Len returns the number of routed selectors.
func (t *Table) Len() int {
	return len(t.selectors)
}

// At returns the selector at list index i.
func (t *Table) At(i int) selector.Selector {
	return t.selectors[i]
}

// Selectors returns a copy of the ordered list.
func (t *Table) Selectors() []selector.Selector {
	out := make([]selector.Selector, len(t.selectors))
	copy(out, t.selectors)
	return out
}

// Each calls fn for every routed selector in list order.
func (t *Table) Each(fn func(sel selector.Selector, module util.Uint160)) {
	for _, sel := range t.selectors {
		fn(sel, t.routes[sel].Module)
	}
}

// Clone returns an independent copy used to stage a batch of mutations.
func (t *Table) Clone() *Table {
	c := &Table{
		routes:    make(map[selector.Selector]Route, len(t.routes)),
		selectors: make([]selector.Selector, len(t.selectors), cap(t.selectors)),
	}
	copy(c.selectors, t.selectors)
	for sel, r := range t.routes {
		c.routes[sel] = r
	}
	return c
}

// Validate checks the bidirectional consistency between the route map and
// the ordered list.
func (t *Table) Validate() error {
	if len(t.routes) != len(t.selectors) {
		return fmt.Errorf("routes: %d routes but %d listed selectors", len(t.routes), len(t.selectors))
	}
	for p, sel := range t.selectors {
		r, ok := t.routes[sel]
		if !ok {
			return fmt.Errorf("routes: listed selector %s at %d has no route", sel, p)
		}
		if !r.Routed() {
			return fmt.Errorf("routes: selector %s at %d routes to the zero module", sel, p)
		}
		if r.Position != p {
			return fmt.Errorf("routes: selector %s listed at %d but route says %d", sel, p, r.Position)
		}
	}
	return nil
}

const entrySize = selector.Size + util.Uint160Size

// MarshalBinary encodes the table as a big-endian uint32 count followed by
// selector||module entries in list order.
func (t *Table) MarshalBinary() ([]byte, error) {
	out := make([]byte, 4, 4+len(t.selectors)*entrySize)
	binary.BigEndian.PutUint32(out, uint32(len(t.selectors)))
	for _, sel := range t.selectors {
		out = append(out, sel[:]...)
		out = append(out, t.routes[sel].Module.BytesBE()...)
	}
	return out, nil
}

// UnmarshalBinary replaces the table contents with a MarshalBinary encoding.
// Positions are rebuilt from the encoded order.
func (t *Table) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("routes: snapshot too short (%d bytes)", len(data))
	}
	n := int(binary.BigEndian.Uint32(data))
	body := data[4:]
	if len(body) != n*entrySize {
		return fmt.Errorf("routes: snapshot declares %d entries but holds %d bytes", n, len(body))
	}

	fresh := New()
	for i := 0; i < n; i++ {
		entry := body[i*entrySize : (i+1)*entrySize]
		var sel selector.Selector
		copy(sel[:], entry[:selector.Size])
		module, err := util.Uint160DecodeBytesBE(entry[selector.Size:])
		if err != nil {
			return fmt.Errorf("routes: entry %d: %w", i, err)
		}
		if err := fresh.Insert(sel, module); err != nil {
			return fmt.Errorf("routes: entry %d: %w", i, err)
		}
	}
	*t = *fresh
	return nil
}
