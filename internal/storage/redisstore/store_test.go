package redisstore

import (
	"context"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/diamond_layer/internal/storage"
)

func TestKey(t *testing.T) {
	s := New(nil, "")
	owner := util.Uint160{0xaa}
	slot := storage.SlotFor("x")

	key := s.Key(owner, slot)
	assert.Equal(t, "diamond:"+owner.StringLE()+":"+slot.String(), key)

	custom := New(nil, "test")
	assert.Equal(t, "test:"+owner.StringLE()+":"+slot.String(), custom.Key(owner, slot))
}

func TestStoreIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	s := New(client, "diamond-test")
	owner := util.Uint160{0x01}
	slot := storage.SlotFor("integration")

	require.NoError(t, s.Apply(ctx, owner, []storage.Write{{Slot: slot, Value: []byte("v1")}}))
	got, err := s.Load(ctx, owner, slot)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, s.Apply(ctx, owner, []storage.Write{{Slot: slot, Delete: true}}))
	got, err = s.Load(ctx, owner, slot)
	require.NoError(t, err)
	assert.Nil(t, got)
}
