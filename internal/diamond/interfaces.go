package diamond

import (
	"context"
	"errors"
	"fmt"

	"github.com/R3E-Network/diamond_layer/internal/diamond/events"
	"github.com/R3E-Network/diamond_layer/internal/selector"
	"github.com/R3E-Network/diamond_layer/internal/storage"
)

// ERC-165 interface IDs registered on every new diamond.
var (
	InterfaceERC165       = selector.MustParse("0x01ffc9a7")
	InterfaceDiamondCut   = selector.MustParse("0x1f931c1c")
	InterfaceDiamondLoupe = selector.MustParse("0x48e2b093")
)

// SelectorSupportsInterface is the built-in supportsInterface(bytes4).
var SelectorSupportsInterface = selector.FromSignature("supportsInterface(bytes4)")

// InterfaceSlot is the storage cell holding the support flag of id.
func InterfaceSlot(id selector.Selector) storage.Slot {
	return interfacesSlot.Mapping(id[:])
}

// SupportsInterface reports whether id is marked as supported.
func (d *Diamond) SupportsInterface(ctx context.Context, id selector.Selector) (bool, error) {
	_, f, _, release := d.enter(ctx)
	defer release()
	return interfaceFlag(ctx, f.store, id)
}

// SetSupportedInterface marks id as supported or not. It is subject to the
// same authorization as ApplyCut and cannot be called from facet code.
func (d *Diamond) SetSupportedInterface(ctx context.Context, id selector.Selector, supported bool) error {
	ctx, f, nested, release := d.enter(ctx)
	defer release()
	if nested {
		return fmt.Errorf("diamond: %w", ErrReentrantCut)
	}

	sender := SenderFrom(ctx)
	if err := d.auth.Authorize(ctx, sender); err != nil {
		d.log.LogSecurityEvent(ctx, "unauthorized_interface_change", map[string]interface{}{
			"sender":    "0x" + sender.StringLE(),
			"interface": id.String(),
		})
		if !errors.Is(err, ErrUnauthorized) {
			err = &UnauthorizedError{Sender: sender, Reason: err.Error()}
		}
		return err
	}

	journal := storage.NewJournal(f.store)
	var err error
	if supported {
		err = journal.Put(ctx, InterfaceSlot(id), []byte{1})
	} else {
		err = journal.Delete(ctx, InterfaceSlot(id))
	}
	if err == nil {
		err = journal.Commit(ctx)
	}
	if err != nil {
		journal.Discard()
		return fmt.Errorf("diamond: set interface %s: %w", id, err)
	}

	d.audit.LogWithContext(ctx, events.Event{
		Type:     events.EventInterfaceChanged,
		Diamond:  d.self,
		Sender:   sender,
		Message:  "interface support changed",
		Metadata: map[string]string{"interface": id.String(), "supported": fmt.Sprint(supported)},
	})
	d.log.WithFields(map[string]interface{}{
		"interface": id.String(),
		"supported": supported,
	}).Info("interface support changed")
	return nil
}

// supportsInterface serves supportsInterface(bytes4). The argument is one
// ABI word with the interface ID left-aligned; the result is one ABI word
// holding 0 or 1.
func (d *Diamond) supportsInterface(ctx context.Context, call *Call) ([]byte, error) {
	if len(call.Input) < selector.Size+32 {
		return nil, Revert(nil)
	}
	var id selector.Selector
	copy(id[:], call.Input[selector.Size:])
	ok, err := interfaceFlag(ctx, call.Storage, id)
	if err != nil {
		return nil, err
	}
	word := make([]byte, 32)
	if ok {
		word[31] = 1
	}
	return word, nil
}

func interfaceFlag(ctx context.Context, s storage.Store, id selector.Selector) (bool, error) {
	v, err := s.Get(ctx, InterfaceSlot(id))
	if err != nil {
		return false, fmt.Errorf("diamond: read interface %s: %w", id, err)
	}
	return len(v) > 0 && v[0] != 0, nil
}
