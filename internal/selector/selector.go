// Package selector derives, parses and formats 4-byte function selectors,
// the keys the diamond routes calls by.
package selector

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/R3E-Network/diamond_layer/internal/crypto"
)

// Size is the byte width of a selector.
const Size = 4

// Selector identifies a function: the first four bytes of the Keccak-256
// hash of its canonical signature.
type Selector [Size]byte

// FromSignature derives the selector of a canonical function signature such
// as "transfer(address,uint256)". Whitespace is stripped first.
func FromSignature(signature string) Selector {
	sig := strings.Join(strings.Fields(signature), "")
	digest := crypto.Keccak256([]byte(sig))
	var s Selector
	copy(s[:], digest[:Size])
	return s
}

// FromCalldata returns the selector heading calldata. ok is false when the
// input is shorter than a selector.
func FromCalldata(input []byte) (s Selector, ok bool) {
	if len(input) < Size {
		return s, false
	}
	copy(s[:], input[:Size])
	return s, true
}

// Parse accepts 8 hex digits with an optional 0x prefix.
func Parse(text string) (Selector, error) {
	var s Selector
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(text), "0x"), "0X")
	if len(raw) != Size*2 {
		return s, fmt.Errorf("selector: %q must be %d hex digits", text, Size*2)
	}
	if _, err := hex.Decode(s[:], []byte(raw)); err != nil {
		return s, fmt.Errorf("selector: %q: %w", text, err)
	}
	return s, nil
}

// MustParse is Parse that panics on malformed input. Intended for constants.
func MustParse(text string) Selector {
	s, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return s
}

// Resolve interprets text either as a literal selector ("0x" followed by
// eight hex digits) or as a function signature.
func Resolve(text string) (Selector, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Selector{}, fmt.Errorf("selector: empty function reference")
	}
	if strings.Contains(text, "(") {
		return FromSignature(text), nil
	}
	return Parse(text)
}

// InterfaceID computes the ERC-165 interface identifier of a set of
// functions: the XOR of their selectors.
func InterfaceID(selectors ...Selector) Selector {
	var id Selector
	for _, s := range selectors {
		for i := range id {
			id[i] ^= s[i]
		}
	}
	return id
}

// String returns the 0x-prefixed hex form.
func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// MarshalText implements encoding.TextMarshaler.
func (s Selector) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Selector) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
