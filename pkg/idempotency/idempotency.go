// Package idempotency remembers responses to client-keyed requests so retries replay the first
// outcome instead of repeating side effects.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ErrInFlight is returned by Begin when another request holding the same key has not finished.
var ErrInFlight = errors.New("idempotency: request with this key is in flight")

const pendingMarker = "pending"

// Response is the stored outcome of a completed request.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Store reserves keys and records the responses produced under them.
type Store interface {
	// Begin reserves key. It returns the stored response when the key already completed,
	// ErrInFlight when it is reserved but not completed, and (nil, nil) when the caller now
	// owns the key.
	Begin(ctx context.Context, key string) (*Response, error)
	Complete(ctx context.Context, key string, resp Response) error
	// Abort releases a reservation so the request can be retried.
	Abort(ctx context.Context, key string) error
}

// RedisStore keeps keys in Redis with a TTL.
type RedisStore struct {
	cli    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis builds a RedisStore from a redis:// URL.
func NewRedis(url, prefix string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "gamerent:idem:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{cli: redis.NewClient(opt), prefix: prefix, ttl: ttl}, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error { return s.cli.Ping(ctx).Err() }

// Close releases the client.
func (s *RedisStore) Close() error { return s.cli.Close() }

func (s *RedisStore) Begin(ctx context.Context, key string) (*Response, error) {
	ok, err := s.cli.SetNX(ctx, s.prefix+key, pendingMarker, s.ttl).Result()
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}

	raw, err := s.cli.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return s.Begin(ctx, key)
	}
	if err != nil {
		return nil, err
	}
	if raw == pendingMarker {
		return nil, ErrInFlight
	}

	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, resp Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.cli.Set(ctx, s.prefix+key, string(b), s.ttl).Err()
}

func (s *RedisStore) Abort(ctx context.Context, key string) error {
	return s.cli.Del(ctx, s.prefix+key).Err()
}

type memoryEntry struct {
	resp    *Response
	expires time.Time
}

// MemoryStore is a process-local Store for single instance deployments and tests.
type MemoryStore struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemory returns an empty MemoryStore.
func NewMemory(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Begin(_ context.Context, key string) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, k)
		}
	}

	if e, ok := s.entries[key]; ok {
		if e.resp == nil {
			return nil, ErrInFlight
		}
		resp := *e.resp
		return &resp, nil
	}

	s.entries[key] = memoryEntry{expires: now.Add(s.ttl)}
	return nil, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, resp Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{resp: &resp, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Abort(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
