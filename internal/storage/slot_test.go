package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotFor(t *testing.T) {
	a := SlotFor("diamond.standard.diamond.storage")
	b := SlotFor("diamond.standard.diamond.storage")
	c := SlotFor("diamond.standard.ownership.storage")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	// keccak256("diamond.standard.diamond.storage")
	assert.Equal(t, "0xc8fcad8db84d3cc18b4c41d551ea0ee66dd599cde068d998e57d5e09332c131c", a.String())
}

func TestSlotOffset(t *testing.T) {
	var s Slot
	assert.Equal(t, byte(1), s.Offset(1)[31])

	var edge Slot
	for i := 24; i < 32; i++ {
		edge[i] = 0xff
	}
	next := edge.Offset(1)
	assert.Equal(t, byte(1), next[23], "carry must propagate into the next word")
	assert.Equal(t, byte(0), next[31])

	var max Slot
	for i := range max {
		max[i] = 0xff
	}
	assert.Equal(t, Slot{}, max.Offset(1), "offset wraps modulo 2^256")
}

func TestSlotMapping(t *testing.T) {
	base := SlotFor("example")
	assert.NotEqual(t, base.Mapping([]byte{1}), base.Mapping([]byte{2}))
	assert.Equal(t, base.Mapping([]byte{1}), base.Mapping([]byte{1}))
}

func TestParseSlot(t *testing.T) {
	s := SlotFor("x")
	parsed, err := ParseSlot(s.String())
	require.NoError(t, err)
	assert.Equal(t, s, parsed)

	_, err = ParseSlot("0x1234")
	assert.Error(t, err)
}

func TestNamespaces(t *testing.T) {
	ns := NewNamespaces()

	slot, err := ns.Claim("erc20.storage", "token")
	require.NoError(t, err)
	assert.Equal(t, SlotFor("erc20.storage"), slot)

	_, err = ns.Claim("erc20.storage", "token")
	require.NoError(t, err, "re-claim by the same owner is idempotent")

	_, err = ns.Claim("erc20.storage", "staking")
	assert.ErrorIs(t, err, ErrNamespaceClaimed)
	assert.Contains(t, err.Error(), "token")

	_, err = ns.Claim("", "x")
	assert.Error(t, err)
}

func TestNamespaces_Collision(t *testing.T) {
	ns := NewNamespaces()
	// Force a collision by planting a claim under another namespace's slot.
	ns.claims[SlotFor("b")] = claim{namespace: "a", owner: "x"}

	_, err := ns.Claim("b", "y")
	assert.ErrorIs(t, err, ErrNamespaceCollision)
}
