package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationStore is the append-only set of revoked token hashes. It is
// consulted before any cache lookup or cryptographic work; a revoked hash
// always fails validation, regardless of cache state.
type RevocationStore interface {
	// Revoke adds a token hash to the set.
	Revoke(ctx context.Context, hash string) error

	// IsRevoked checks membership.
	IsRevoked(ctx context.Context, hash string) (bool, error)

	// Close releases store resources.
	Close() error
}

// memoryRevocations is the default in-process store.
type memoryRevocations struct {
	mu     sync.RWMutex
	hashes map[string]struct{}
}

// NewMemoryRevocations creates an in-memory revocation store.
func NewMemoryRevocations() RevocationStore {
	return &memoryRevocations{hashes: make(map[string]struct{})}
}

func (s *memoryRevocations) Revoke(_ context.Context, hash string) error {
	s.mu.Lock()
	s.hashes[hash] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *memoryRevocations) IsRevoked(_ context.Context, hash string) (bool, error) {
	s.mu.RLock()
	_, ok := s.hashes[hash]
	s.mu.RUnlock()
	return ok, nil
}

func (s *memoryRevocations) Close() error { return nil }

// revocationKeyPrefix namespaces revocation keys in Redis.
const revocationKeyPrefix = "gw:revoked:"

// redisRevocations shares revocations across gateway replicas. Entries
// carry a TTL equal to the maximum token age: past that point the token is
// rejected by the age check anyway, so the set stays bounded.
type redisRevocations struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRevocations creates a Redis-backed revocation store.
func NewRedisRevocations(client *redis.Client, ttl time.Duration) RevocationStore {
	return &redisRevocations{client: client, ttl: ttl}
}

func (s *redisRevocations) Revoke(ctx context.Context, hash string) error {
	if err := s.client.Set(ctx, revocationKeyPrefix+hash, "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("redis revoke: %w", err)
	}
	return nil
}

func (s *redisRevocations) IsRevoked(ctx context.Context, hash string) (bool, error) {
	n, err := s.client.Exists(ctx, revocationKeyPrefix+hash).Result()
	if err != nil {
		return false, fmt.Errorf("redis revocation lookup: %w", err)
	}
	return n > 0, nil
}

func (s *redisRevocations) Close() error {
	return s.client.Close()
}
