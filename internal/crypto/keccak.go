// Package crypto holds the hashing primitives shared by selectors and the
// storage addressing scheme.
package crypto

import "golang.org/x/crypto/sha3"

// Keccak256 returns the legacy (pre-NIST) Keccak-256 digest of the
// concatenation of data.
func Keccak256(data ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}
