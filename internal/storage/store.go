package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/nspcc-dev/neo-go/pkg/util"
)

// ErrCommitted is returned when a journal is used after Commit or Discard.
var ErrCommitted = errors.New("storage: journal already closed")

// Store is the keyed storage context a module call executes against.
// A missing cell reads as nil.
type Store interface {
	Get(ctx context.Context, slot Slot) ([]byte, error)
	Put(ctx context.Context, slot Slot, value []byte) error
	Delete(ctx context.Context, slot Slot) error
}

// Write is one buffered mutation. Delete removes the cell and ignores Value.
type Write struct {
	Slot   Slot
	Value  []byte
	Delete bool
}

// Backend persists the storage of many diamonds, each keyed by its handle.
// Apply must be all-or-nothing.
type Backend interface {
	Load(ctx context.Context, owner util.Uint160, slot Slot) ([]byte, error)
	Apply(ctx context.Context, owner util.Uint160, writes []Write) error
}

// batchWriter accepts the writes of a committing child journal.
type batchWriter interface {
	writeBatch(ctx context.Context, writes []Write) error
}

// Root is the committed storage of one diamond.
type Root struct {
	backend Backend
	owner   util.Uint160
}

// NewRoot binds backend to the storage of owner.
func NewRoot(backend Backend, owner util.Uint160) *Root {
	return &Root{backend: backend, owner: owner}
}

// Get reads a committed cell.
func (r *Root) Get(ctx context.Context, slot Slot) ([]byte, error) {
	return r.backend.Load(ctx, r.owner, slot)
}

// Put writes a single cell straight to the backend.
func (r *Root) Put(ctx context.Context, slot Slot, value []byte) error {
	return r.writeBatch(ctx, []Write{{Slot: slot, Value: value}})
}

// Delete removes a single cell straight from the backend.
func (r *Root) Delete(ctx context.Context, slot Slot) error {
	return r.writeBatch(ctx, []Write{{Slot: slot, Delete: true}})
}

func (r *Root) writeBatch(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	if err := r.backend.Apply(ctx, r.owner, writes); err != nil {
		return fmt.Errorf("storage: apply %d writes: %w", len(writes), err)
	}
	return nil
}

type pending struct {
	value   []byte
	deleted bool
}

// Journal buffers writes over a parent Store. Commit folds them into the
// parent in one batch; Discard drops them. Journals nest: a journal over a
// journal commits into its parent's buffer, and only the outermost commit
// reaches the backend.
type Journal struct {
	parent Store
	writes map[Slot]pending
	order  []Slot
	closed bool
}

// NewJournal opens a write buffer over parent.
func NewJournal(parent Store) *Journal {
	return &Journal{parent: parent, writes: make(map[Slot]pending)}
}

// Get returns the buffered value when present, else the parent's.
func (j *Journal) Get(ctx context.Context, slot Slot) ([]byte, error) {
	if j.closed {
		return nil, ErrCommitted
	}
	if p, ok := j.writes[slot]; ok {
		if p.deleted {
			return nil, nil
		}
		return clone(p.value), nil
	}
	return j.parent.Get(ctx, slot)
}

// Put buffers a write.
func (j *Journal) Put(_ context.Context, slot Slot, value []byte) error {
	if j.closed {
		return ErrCommitted
	}
	j.record(slot, pending{value: clone(value)})
	return nil
}

// Delete buffers a removal.
func (j *Journal) Delete(_ context.Context, slot Slot) error {
	if j.closed {
		return ErrCommitted
	}
	j.record(slot, pending{deleted: true})
	return nil
}

// Len reports the number of distinct buffered cells.
func (j *Journal) Len() int {
	return len(j.order)
}

// Commit publishes the buffered writes to the parent.
func (j *Journal) Commit(ctx context.Context) error {
	if j.closed {
		return ErrCommitted
	}
	writes := make([]Write, 0, len(j.order))
	for _, slot := range j.order {
		p := j.writes[slot]
		writes = append(writes, Write{Slot: slot, Value: p.value, Delete: p.deleted})
	}

	var err error
	if bw, ok := j.parent.(batchWriter); ok {
		err = bw.writeBatch(ctx, writes)
	} else {
		err = applyOneByOne(ctx, j.parent, writes)
	}
	if err != nil {
		return err
	}
	j.Discard()
	return nil
}

// Discard drops every buffered write and closes the journal.
func (j *Journal) Discard() {
	j.writes = nil
	j.order = nil
	j.closed = true
}

func (j *Journal) writeBatch(_ context.Context, writes []Write) error {
	if j.closed {
		return ErrCommitted
	}
	for _, w := range writes {
		j.record(w.Slot, pending{value: w.Value, deleted: w.Delete})
	}
	return nil
}

func (j *Journal) record(slot Slot, p pending) {
	if _, seen := j.writes[slot]; !seen {
		j.order = append(j.order, slot)
	}
	j.writes[slot] = p
}

func applyOneByOne(ctx context.Context, s Store, writes []Write) error {
	for _, w := range writes {
		var err error
		if w.Delete {
			err = s.Delete(ctx, w.Slot)
		} else {
			err = s.Put(ctx, w.Slot, w.Value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
