// Package redisstore persists diamond storage in Redis. Every cell is one
// string key; a batch of writes is applied inside MULTI/EXEC.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/diamond_layer/internal/storage"
)

// DefaultPrefix namespaces the keys written by this backend.
const DefaultPrefix = "diamond"

// Store implements storage.Backend on a Redis client.
type Store struct {
	client redis.Cmdable
	prefix string
}

var _ storage.Backend = (*Store)(nil)

// New wraps client. An empty prefix selects DefaultPrefix.
func New(client redis.Cmdable, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Key returns the Redis key holding slot of owner.
func (s *Store) Key(owner util.Uint160, slot storage.Slot) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, owner.StringLE(), slot)
}

// Load reads one cell; a missing key reads as nil.
func (s *Store) Load(ctx context.Context, owner util.Uint160, slot storage.Slot) ([]byte, error) {
	val, err := s.client.Get(ctx, s.Key(owner, slot)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get: %w", err)
	}
	return val, nil
}

// Apply writes the batch in one transaction.
func (s *Store) Apply(ctx context.Context, owner util.Uint160, writes []storage.Write) error {
	if len(writes) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, w := range writes {
			key := s.Key(owner, w.Slot)
			if w.Delete {
				pipe.Del(ctx, key)
				continue
			}
			pipe.Set(ctx, key, w.Value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: exec: %w", err)
	}
	return nil
}
