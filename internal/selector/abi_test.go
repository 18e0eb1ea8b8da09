package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cutABI = `[
  {"type":"event","name":"DiamondCut","inputs":[]},
  {"type":"function","name":"diamondCut","inputs":[
    {"name":"_diamondCut","type":"tuple[]","components":[
      {"name":"facetAddress","type":"address"},
      {"name":"action","type":"uint8"},
      {"name":"functionSelectors","type":"bytes4[]"}
    ]},
    {"name":"_init","type":"address"},
    {"name":"_calldata","type":"bytes"}
  ]},
  {"type":"function","name":"facets","inputs":[]}
]`

func TestFromABI(t *testing.T) {
	fns, err := FromABI([]byte(cutABI))
	require.NoError(t, err)
	require.Len(t, fns, 2)

	assert.Equal(t, "diamondCut((address,uint8,bytes4[])[],address,bytes)", fns[0].Signature)
	assert.Equal(t, "0x1f931c1c", fns[0].Selector.String())
	assert.Equal(t, "facets()", fns[1].Signature)
}

func TestFromABI_Artifact(t *testing.T) {
	artifact := `{"contractName":"Loupe","abi":[{"type":"function","name":"facetAddresses","inputs":[]}]}`
	fns, err := FromABI([]byte(artifact))
	require.NoError(t, err)
	require.Len(t, fns, 1)
	assert.Equal(t, "0x52ef6b2c", fns[0].Selector.String())
}

func TestFromABI_Invalid(t *testing.T) {
	_, err := FromABI([]byte(`{not json`))
	assert.Error(t, err)

	_, err = FromABI([]byte(`{"abi":"nope"}`))
	assert.Error(t, err)

	_, err = FromABI([]byte(`[{"type":"function","inputs":[]}]`))
	assert.Error(t, err)
}
