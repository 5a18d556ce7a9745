package repository

import (
	"context"
	"sync"
	"time"

	"github.com/spec-kit/teams-ticket-relay/internal/persistence"
)

// TicketClaimRepository grants one in-flight ticket creation per external key.
type TicketClaimRepository interface {
	// Claim returns false when another caller already holds the key.
	Claim(ctx context.Context, externalKey string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, externalKey string) error
}

type memoryTicketClaimRepository struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

// NewMemoryTicketClaimRepository keeps claims in process memory.
func NewMemoryTicketClaimRepository() TicketClaimRepository {
	return &memoryTicketClaimRepository{claims: make(map[string]time.Time), now: time.Now}
}

func (r *memoryTicketClaimRepository) Claim(_ context.Context, externalKey string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for key, expires := range r.claims {
		if !now.Before(expires) {
			delete(r.claims, key)
		}
	}
	if _, held := r.claims[externalKey]; held {
		return false, nil
	}
	r.claims[externalKey] = now.Add(ttl)
	return true, nil
}

func (r *memoryTicketClaimRepository) Release(_ context.Context, externalKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, externalKey)
	return nil
}

type redisTicketClaimRepository struct {
	redis *persistence.Redis
}

// NewRedisTicketClaimRepository claims keys with SET NX and a TTL, shared across replicas.
func NewRedisTicketClaimRepository(r *persistence.Redis) TicketClaimRepository {
	return &redisTicketClaimRepository{redis: r}
}

func (r *redisTicketClaimRepository) Claim(ctx context.Context, externalKey string, ttl time.Duration) (bool, error) {
	return r.redis.Client.SetNX(ctx, r.redis.Key("claim", externalKey), time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

func (r *redisTicketClaimRepository) Release(ctx context.Context, externalKey string) error {
	return r.redis.Client.Del(ctx, r.redis.Key("claim", externalKey)).Err()
}
