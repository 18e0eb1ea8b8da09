// Package hexutil encodes byte strings as 0x-prefixed hex for JSON, YAML and
// the HTTP API.
package hexutil

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Bytes marshals as a 0x-prefixed lowercase hex string.
type Bytes []byte

// Encode returns b as 0x-prefixed hex.
func Encode(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// Decode parses hex with or without the 0x prefix. The empty string and a
// bare "0x" decode to an empty slice.
func Decode(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("hexutil: odd length hex string %q", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("hexutil: %w", err)
	}
	return b, nil
}

// String implements fmt.Stringer.
func (b Bytes) String() string {
	return Encode(b)
}

// MarshalText implements encoding.TextMarshaler.
func (b Bytes) MarshalText() ([]byte, error) {
	return []byte(Encode(b)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Bytes) UnmarshalText(text []byte) error {
	dec, err := Decode(string(text))
	if err != nil {
		return err
	}
	*b = dec
	return nil
}
