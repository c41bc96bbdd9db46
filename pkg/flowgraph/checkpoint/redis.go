package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces checkpoint keys.
const DefaultRedisPrefix = "paperflow:checkpoint"

// RedisStore persists checkpoints in Redis so several processes can share
// threads. Each thread uses three keys:
//
//	<prefix>:<thread>:seq      INCR counter
//	<prefix>:<thread>:index    sorted set of checkpoint IDs scored by sequence
//	<prefix>:<thread>:cp:<id>  JSON-encoded Checkpoint
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	owned  bool

	mu     sync.RWMutex
	closed bool
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix overrides DefaultRedisPrefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithOwnedClient makes Close also close the Redis client.
func WithOwnedClient() RedisOption {
	return func(s *RedisStore) { s.owned = true }
}

// NewRedisStore wraps an existing client. The caller keeps ownership of the
// client unless WithOwnedClient is given.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: DefaultRedisPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DialRedis connects to addr, verifies the connection and returns a store
// that owns the client.
func DialRedis(ctx context.Context, addr, password string, db int, opts ...RedisOption) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStore(client, append(opts, WithOwnedClient())...), nil
}

func (s *RedisStore) seqKey(thread string) string   { return s.prefix + ":" + thread + ":seq" }
func (s *RedisStore) indexKey(thread string) string { return s.prefix + ":" + thread + ":index" }
func (s *RedisStore) cpKey(thread, id string) string {
	return s.prefix + ":" + thread + ":cp:" + id
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, threadID string, state json.RawMessage, meta Metadata, parentID string) (string, error) {
	if threadID == "" {
		return "", ErrThreadIDRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	if parentID != "" {
		n, err := s.client.Exists(ctx, s.cpKey(threadID, parentID)).Result()
		if err != nil {
			return "", fmt.Errorf("lookup parent: %w", err)
		}
		if n == 0 {
			return "", ErrParentNotFound
		}
	}

	seq, err := s.client.Incr(ctx, s.seqKey(threadID)).Result()
	if err != nil {
		return "", fmt.Errorf("next sequence: %w", err)
	}

	cp := newCheckpoint(threadID, seq, state, meta, parentID)
	data, err := cp.Marshal()
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.cpKey(threadID, cp.CheckpointID), data, 0)
		pipe.ZAdd(ctx, s.indexKey(threadID), redis.Z{Score: float64(seq), Member: cp.CheckpointID})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("save checkpoint: %w", err)
	}
	return cp.CheckpointID, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, threadID, checkpointID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	if checkpointID == "" {
		ids, err := s.client.ZRevRange(ctx, s.indexKey(threadID), 0, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("latest checkpoint: %w", err)
		}
		if len(ids) == 0 {
			return nil, ErrNotFound
		}
		checkpointID = ids[0]
	}

	data, err := s.client.Get(ctx, s.cpKey(threadID, checkpointID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	cp, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, threadID string, opts ListOptions) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	start := int64(max(opts.Offset, 0))
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = start + int64(opts.Limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(threadID), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	out := make([]*Checkpoint, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.cpKey(threadID, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load checkpoints: %w", err)
	}
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue // pruned between the two reads
		}
		cp, err := Unmarshal([]byte(str))
		if err != nil {
			return nil, fmt.Errorf("decode checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, nil
}

// DeleteThread implements Store.
func (s *RedisStore) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	ids, err := s.client.ZRange(ctx, s.indexKey(threadID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("list thread checkpoints: %w", err)
	}
	keys := []string{s.indexKey(threadID), s.seqKey(threadID)}
	for _, id := range ids {
		keys = append(keys, s.cpKey(threadID, id))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	return nil
}

// Prune implements Store.
func (s *RedisStore) Prune(ctx context.Context, threadID string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	old, err := s.client.ZRevRange(ctx, s.indexKey(threadID), int64(keep), -1).Result()
	if err != nil {
		return 0, fmt.Errorf("list old checkpoints: %w", err)
	}
	if len(old) == 0 {
		return 0, nil
	}

	members := make([]any, len(old))
	keys := make([]string, len(old))
	for i, id := range old {
		members[i] = id
		keys[i] = s.cpKey(threadID, id)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.indexKey(threadID), members...)
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	return len(old), nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.owned {
		return s.client.Close()
	}
	return nil
}
