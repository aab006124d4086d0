package token

import (
	"context"
	"hash/maphash"
	"sync"
	"time"
)

const defaultShardCount = 16

// MemoryStore keeps tokens in a sharded in-process map. It is safe for
// concurrent use and primarily intended for single-instance deployments.
//
// With a zero TTL tokens never expire and abandoned issuances accumulate
// until the process exits.
type MemoryStore struct {
	shards []*memoryShard
	mask   uint64
	seed   maphash.Seed
	ttl    time.Duration
	now    func() time.Time
}

type memoryShard struct {
	mu     sync.Mutex
	issued map[string]time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithTTL makes tokens older than ttl behave as if they were never issued.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithShards sets the shard count. Values that are not a power of two fall
// back to the default.
func WithShards(count int) MemoryOption {
	return func(s *MemoryStore) {
		if count > 0 && count&(count-1) == 0 {
			s.shards = make([]*memoryShard, count)
		}
	}
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		shards: make([]*memoryShard, defaultShardCount),
		seed:   maphash.MakeSeed(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = &memoryShard{issued: make(map[string]time.Time)}
	}
	s.mask = uint64(len(s.shards) - 1)
	return s
}

func (s *MemoryStore) shardFor(token string) *memoryShard {
	return s.shards[maphash.String(s.seed, token)&s.mask]
}

// Issue records token as unused.
func (s *MemoryStore) Issue(_ context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	shard := s.shardFor(token)
	shard.mu.Lock()
	shard.issued[token] = s.now()
	shard.mu.Unlock()
	return nil
}

// Take removes token and reports whether it was present and unexpired.
func (s *MemoryStore) Take(_ context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	shard := s.shardFor(token)
	shard.mu.Lock()
	issuedAt, ok := shard.issued[token]
	delete(shard.issued, token)
	shard.mu.Unlock()
	if !ok {
		return false, nil
	}
	return !s.expired(issuedAt, s.now()), nil
}

// Len reports the number of outstanding tokens, including expired ones that
// have not been purged yet.
func (s *MemoryStore) Len() int {
	count := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		count += len(shard.issued)
		shard.mu.Unlock()
	}
	return count
}

// PurgeExpired removes expired tokens. It is a no-op without a TTL.
func (s *MemoryStore) PurgeExpired() error {
	if s.ttl <= 0 {
		return nil
	}
	now := s.now()
	for _, shard := range s.shards {
		shard.mu.Lock()
		for token, issuedAt := range shard.issued {
			if s.expired(issuedAt, now) {
				delete(shard.issued, token)
			}
		}
		shard.mu.Unlock()
	}
	return nil
}

// Close releases nothing; the store lives for the process lifetime.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) expired(issuedAt, now time.Time) bool {
	return s.ttl > 0 && now.Sub(issuedAt) >= s.ttl
}
