package diamond

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/diamond_layer/internal/diamond/events"
	"github.com/R3E-Network/diamond_layer/internal/selector"
	"github.com/R3E-Network/diamond_layer/internal/storage"
)

// Call routes input to the facet serving its selector and returns the
// facet's output. A facet error is returned as the same value, so a
// *RevertError reaches the caller with its payload untouched.
//
// The facet runs against the diamond's storage through a journal: its
// writes land only if it succeeds. The same holds for cuts the facet applies
// through the diamond; their routes take effect for the rest of the call and
// are installed when the top-level call commits.
func (d *Diamond) Call(ctx context.Context, input []byte) (out []byte, err error) {
	start := time.Now()
	ctx, f, nested, release := d.enter(ctx)
	defer release()
	defer func() {
		d.metrics.RecordDispatch(d.label, err == nil, time.Since(start))
	}()

	sel, ok := selector.FromCalldata(input)
	if !ok {
		return nil, &UnknownOperationError{Selector: sel}
	}
	r := d.view(f).Lookup(sel)
	if !r.Routed() {
		return nil, &UnknownOperationError{Selector: sel}
	}
	m, ok := d.env.Module(r.Module)
	if !ok {
		return nil, &NoCodeAtHandleError{Handle: r.Module, Context: "call"}
	}

	journal := storage.NewJournal(f.store)
	parentStore, parentRoutes, parentEvents := f.store, f.routes, f.events
	var pending events.Buffer
	f.store, f.events = journal, &pending
	defer func() {
		f.store, f.events = parentStore, parentEvents
		if err != nil {
			f.routes = parentRoutes
		}
	}()

	out, err = m.Invoke(ctx, &Call{
		Diamond: d.self,
		Sender:  SenderFrom(ctx),
		Input:   input,
		Storage: journal,
	})
	if err != nil {
		journal.Discard()
		d.log.WithField("selector", sel.String()).WithError(err).Debug("call failed")
		return nil, err
	}
	writes := journal.Len()
	if err := journal.Commit(ctx); err != nil {
		return nil, fmt.Errorf("diamond: commit call %s: %w", sel, err)
	}
	d.settle(ctx, f, nested, parentEvents, &pending)
	d.log.WithFields(map[string]interface{}{
		"selector": sel.String(),
		"writes":   writes,
	}).Debug("call dispatched")
	return out, nil
}
