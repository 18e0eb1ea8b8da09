// Package storage implements the keyed state every diamond module shares:
// namespace-derived slot addressing, nested write journals that commit or
// discard atomically, and the backends the committed state lives in.
//
// Layout contract: a module keeps its private state under
// SlotFor(namespace). A namespace string must never change once deployed and
// two unrelated namespaces must never share a base slot; Namespaces enforces
// the latter for everything deployed on one host.
package storage

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/R3E-Network/diamond_layer/internal/crypto"
)

// Slot addresses one storage cell.
type Slot [32]byte

// SlotFor derives the base slot of a storage namespace.
func SlotFor(namespace string) Slot {
	return Slot(crypto.Keccak256([]byte(namespace)))
}

// Offset returns the slot n cells after s, wrapping modulo 2^256. It is how
// consecutive fields of one state block are addressed.
func (s Slot) Offset(n uint64) Slot {
	out := s
	carry := n
	for i := len(out) - 8; i >= 0 && carry != 0; i -= 8 {
		word := binary.BigEndian.Uint64(out[i : i+8])
		sum := word + carry
		binary.BigEndian.PutUint64(out[i:i+8], sum)
		if sum < word {
			carry = 1
		} else {
			carry = 0
		}
	}
	return out
}

// Mapping returns the slot of key inside the mapping rooted at s.
func (s Slot) Mapping(key []byte) Slot {
	return Slot(crypto.Keccak256(key, s[:]))
}

// String returns the 0x-prefixed hex form.
func (s Slot) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// ParseSlot parses 64 hex digits with an optional 0x prefix.
func ParseSlot(text string) (Slot, error) {
	var s Slot
	raw := strings.TrimPrefix(strings.TrimSpace(text), "0x")
	if len(raw) != 64 {
		return s, fmt.Errorf("storage: slot %q must be 64 hex digits", text)
	}
	if _, err := hex.Decode(s[:], []byte(raw)); err != nil {
		return s, fmt.Errorf("storage: slot %q: %w", text, err)
	}
	return s, nil
}
