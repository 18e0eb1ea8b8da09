package crypto

import (
	"encoding/hex"
	"testing"
)

func TestKeccak256(t *testing.T) {
	// Well-known digest of the empty string.
	got := Keccak256()
	want := "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"
	if hex.EncodeToString(got[:]) != want {
		t.Errorf("Keccak256() = %x, want %s", got, want)
	}

	split := Keccak256([]byte("trans"), []byte("fer(address,uint256)"))
	whole := Keccak256([]byte("transfer(address,uint256)"))
	if split != whole {
		t.Error("split input should hash like the concatenation")
	}
}
