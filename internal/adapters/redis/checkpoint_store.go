// Package redis persists checkpoints in a Redis hash.
//
// Each stream is one hash field "<group>\x00<stream>" whose value is a
// msgpack-encoded entry. The hash lives under "<prefix>:tokens".
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/bft-labs/logship/internal/domain"
)

// DefaultPrefix namespaces the keys written by the store.
const DefaultPrefix = "logship"

const fieldSep = "\x00"

type entry struct {
	Token   string `msgpack:"token"`
	SavedAt int64  `msgpack:"saved_at"`
}

// CheckpointStore implements ports.CheckpointRepository on Redis.
type CheckpointStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewCheckpointStore creates a store on an existing client.
func NewCheckpointStore(rdb redis.UniversalClient, prefix string) *CheckpointStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &CheckpointStore{rdb: rdb, prefix: prefix}
}

// Dial parses a redis:// URL and creates a store.
func Dial(url, prefix string) (*CheckpointStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewCheckpointStore(redis.NewClient(opt), prefix), nil
}

// Key returns the hash key holding the tokens.
func (s *CheckpointStore) Key() string {
	return s.prefix + ":tokens"
}

// Load implements ports.CheckpointRepository.
func (s *CheckpointStore) Load(ctx context.Context) (domain.Checkpoint, error) {
	fields, err := s.rdb.HGetAll(ctx, s.Key()).Result()
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}

	cp := domain.Checkpoint{Tokens: make(map[domain.Target]string, len(fields))}
	for field, raw := range fields {
		group, stream, ok := strings.Cut(field, fieldSep)
		if !ok {
			continue
		}
		var e entry
		if err := msgpack.Unmarshal([]byte(raw), &e); err != nil {
			return domain.Checkpoint{}, fmt.Errorf("decode checkpoint entry %q: %w", group+"/"+stream, err)
		}
		cp.Tokens[domain.Target{Group: group, Stream: stream}] = e.Token
		if at := time.UnixMilli(e.SavedAt); at.After(cp.SavedAt) {
			cp.SavedAt = at
		}
	}
	return cp, nil
}

// Save implements ports.CheckpointRepository. The hash is replaced in one
// transaction.
func (s *CheckpointStore) Save(ctx context.Context, cp domain.Checkpoint) error {
	values := make(map[string]interface{}, len(cp.Tokens))
	for t, token := range cp.Tokens {
		b, err := msgpack.Marshal(&entry{Token: token, SavedAt: cp.SavedAt.UnixMilli()})
		if err != nil {
			return fmt.Errorf("encode checkpoint entry: %w", err)
		}
		values[t.Group+fieldSep+t.Stream] = b
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.Key())
		if len(values) > 0 {
			pipe.HSet(ctx, s.Key(), values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *CheckpointStore) Close() error {
	return s.rdb.Close()
}
