package storage

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNamespaceCollision means two different namespace strings hash to the
	// same base slot.
	ErrNamespaceCollision = errors.New("storage: namespace collision")
	// ErrNamespaceClaimed means the namespace already belongs to another owner.
	ErrNamespaceClaimed = errors.New("storage: namespace already claimed")
)

type claim struct {
	namespace string
	owner     string
}

// Namespaces records which owner holds which storage namespace so unrelated
// modules never alias each other's state.
type Namespaces struct {
	mu     sync.Mutex
	claims map[Slot]claim
}

// NewNamespaces creates an empty claim table.
func NewNamespaces() *Namespaces {
	return &Namespaces{claims: make(map[Slot]claim)}
}

// Claim reserves namespace for owner and returns its base slot. Claiming a
// namespace the owner already holds is a no-op.
func (n *Namespaces) Claim(namespace, owner string) (Slot, error) {
	if namespace == "" {
		return Slot{}, fmt.Errorf("storage: empty namespace")
	}
	slot := SlotFor(namespace)

	n.mu.Lock()
	defer n.mu.Unlock()

	existing, ok := n.claims[slot]
	switch {
	case !ok:
		n.claims[slot] = claim{namespace: namespace, owner: owner}
		return slot, nil
	case existing.namespace != namespace:
		return Slot{}, fmt.Errorf("%w: %q and %q share %s", ErrNamespaceCollision, existing.namespace, namespace, slot)
	case existing.owner != owner:
		return Slot{}, fmt.Errorf("%w: %q is held by %s", ErrNamespaceClaimed, namespace, existing.owner)
	default:
		return slot, nil
	}
}
