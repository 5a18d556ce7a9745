package repository

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/spec-kit/teams-ticket-relay/internal/domain"
	"github.com/spec-kit/teams-ticket-relay/internal/persistence"
)

// TrackedMessageRepository holds messages seen via notification that still await an approval reaction.
type TrackedMessageRepository interface {
	Track(ctx context.Context, key domain.MessageKey, seenAt time.Time) error
	Remove(ctx context.Context, key domain.MessageKey) error
	Contains(ctx context.Context, key domain.MessageKey) (bool, error)
	Snapshot(ctx context.Context) ([]domain.TrackedMessage, error)
	Count(ctx context.Context) (int, error)
}

type memoryTrackedMessageRepository struct {
	mu       sync.Mutex
	messages map[domain.MessageKey]time.Time
}

// NewMemoryTrackedMessageRepository keeps the pending set in process memory.
func NewMemoryTrackedMessageRepository() TrackedMessageRepository {
	return &memoryTrackedMessageRepository{messages: make(map[domain.MessageKey]time.Time)}
}

func (r *memoryTrackedMessageRepository) Track(_ context.Context, key domain.MessageKey, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[key] = seenAt
	return nil
}

func (r *memoryTrackedMessageRepository) Remove(_ context.Context, key domain.MessageKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, key)
	return nil
}

func (r *memoryTrackedMessageRepository) Contains(_ context.Context, key domain.MessageKey) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.messages[key]
	return ok, nil
}

func (r *memoryTrackedMessageRepository) Snapshot(_ context.Context) ([]domain.TrackedMessage, error) {
	r.mu.Lock()
	out := make([]domain.TrackedMessage, 0, len(r.messages))
	for key, seen := range r.messages {
		out = append(out, domain.TrackedMessage{Key: key, FirstSeen: seen})
	}
	r.mu.Unlock()
	sortTracked(out)
	return out, nil
}

func (r *memoryTrackedMessageRepository) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages), nil
}

type redisTrackedMessageRepository struct {
	redis *persistence.Redis
	key   string
}

// NewRedisTrackedMessageRepository stores the pending set in a Redis hash of key -> unix millis,
// so a restarted process resumes polling.
func NewRedisTrackedMessageRepository(r *persistence.Redis) TrackedMessageRepository {
	return &redisTrackedMessageRepository{redis: r, key: r.Key("tracked")}
}

func (r *redisTrackedMessageRepository) Track(ctx context.Context, key domain.MessageKey, seenAt time.Time) error {
	return r.redis.Client.HSet(ctx, r.key, key.String(), seenAt.UnixMilli()).Err()
}

func (r *redisTrackedMessageRepository) Remove(ctx context.Context, key domain.MessageKey) error {
	return r.redis.Client.HDel(ctx, r.key, key.String()).Err()
}

func (r *redisTrackedMessageRepository) Contains(ctx context.Context, key domain.MessageKey) (bool, error) {
	return r.redis.Client.HExists(ctx, r.key, key.String()).Result()
}

func (r *redisTrackedMessageRepository) Snapshot(ctx context.Context) ([]domain.TrackedMessage, error) {
	entries, err := r.redis.Client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.TrackedMessage, 0, len(entries))
	var corrupt []string
	for raw, millis := range entries {
		key, ok := domain.ParseMessageKey(raw)
		ms, err := strconv.ParseInt(millis, 10, 64)
		if !ok || err != nil {
			corrupt = append(corrupt, raw)
			continue
		}
		out = append(out, domain.TrackedMessage{Key: key, FirstSeen: time.UnixMilli(ms)})
	}
	if len(corrupt) > 0 {
		_ = r.redis.Client.HDel(ctx, r.key, corrupt...).Err()
	}
	sortTracked(out)
	return out, nil
}

func (r *redisTrackedMessageRepository) Count(ctx context.Context) (int, error) {
	n, err := r.redis.Client.HLen(ctx, r.key).Result()
	return int(n), err
}

func sortTracked(msgs []domain.TrackedMessage) {
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].FirstSeen.Before(msgs[j].FirstSeen)
	})
}
