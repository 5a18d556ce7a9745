package repository_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/teams-ticket-relay/internal/config"
	"github.com/spec-kit/teams-ticket-relay/internal/domain"
	"github.com/spec-kit/teams-ticket-relay/internal/persistence"
	"github.com/spec-kit/teams-ticket-relay/internal/repository"
)

func newRedis(t *testing.T) (*persistence.Redis, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	r := persistence.NewRedis(config.RedisConfig{Addr: s.Addr(), KeyPrefix: "test"}, zap.NewNop())
	t.Cleanup(r.Close)
	return r, s
}

func trackedRepos(t *testing.T) map[string]repository.TrackedMessageRepository {
	r, _ := newRedis(t)
	return map[string]repository.TrackedMessageRepository{
		"memory": repository.NewMemoryTrackedMessageRepository(),
		"redis":  repository.NewRedisTrackedMessageRepository(r),
	}
}

func TestTrackedMessageRepository(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	k1 := domain.MessageKey{TeamID: "T1", ChannelID: "19:c1@thread.tacv2", MessageID: "M1"}
	k2 := domain.MessageKey{TeamID: "T1", ChannelID: "19:c1@thread.tacv2", MessageID: "M2"}

	for name, repo := range trackedRepos(t) {
		t.Run(name, func(t *testing.T) {
			if err := repo.Track(ctx, k2, base.Add(time.Minute)); err != nil {
				t.Fatalf("track: %v", err)
			}
			if err := repo.Track(ctx, k1, base); err != nil {
				t.Fatalf("track: %v", err)
			}

			snap, err := repo.Snapshot(ctx)
			if err != nil {
				t.Fatalf("snapshot: %v", err)
			}
			if len(snap) != 2 || snap[0].Key != k1 || snap[1].Key != k2 {
				t.Fatalf("unexpected snapshot %+v", snap)
			}
			if !snap[0].FirstSeen.Equal(base) {
				t.Fatalf("expected first seen %s, got %s", base, snap[0].FirstSeen)
			}

			if ok, _ := repo.Contains(ctx, k1); !ok {
				t.Fatal("expected k1 to be tracked")
			}
			if err := repo.Remove(ctx, k1); err != nil {
				t.Fatalf("remove: %v", err)
			}
			if ok, _ := repo.Contains(ctx, k1); ok {
				t.Fatal("expected k1 to be removed")
			}
			if n, _ := repo.Count(ctx); n != 1 {
				t.Fatalf("expected one tracked message, got %d", n)
			}
		})
	}
}

func TestRedisTrackedMessagesSurviveReconnect(t *testing.T) {
	ctx := context.Background()
	r, s := newRedis(t)
	key := domain.MessageKey{TeamID: "T", ChannelID: "C", MessageID: "M"}
	if err := repository.NewRedisTrackedMessageRepository(r).Track(ctx, key, time.Now()); err != nil {
		t.Fatalf("track: %v", err)
	}

	other := persistence.NewRedis(config.RedisConfig{Addr: s.Addr(), KeyPrefix: "test"}, zap.NewNop())
	defer other.Close()
	snap, err := repository.NewRedisTrackedMessageRepository(other).Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap) != 1 || snap[0].Key != key {
		t.Fatalf("expected message to survive, got %+v", snap)
	}
}

func TestRedisTrackedMessagesDropCorruptEntries(t *testing.T) {
	ctx := context.Background()
	r, s := newRedis(t)
	s.HSet("test:tracked", "not-a-key", "123")
	s.HSet("test:tracked", "T|C|M", "1700000000000")

	snap, err := repository.NewRedisTrackedMessageRepository(r).Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap) != 1 {
		t.Fatalf("expected one valid entry, got %+v", snap)
	}
	if s.HGet("test:tracked", "not-a-key") != "" {
		t.Fatal("expected corrupt entry to be removed")
	}
}

func TestTicketClaimRepository(t *testing.T) {
	ctx := context.Background()
	r, s := newRedis(t)
	repos := map[string]repository.TicketClaimRepository{
		"memory": repository.NewMemoryTicketClaimRepository(),
		"redis":  repository.NewRedisTicketClaimRepository(r),
	}

	for name, repo := range repos {
		t.Run(name, func(t *testing.T) {
			var won atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := repo.Claim(ctx, "M1", time.Minute)
					if err != nil {
						t.Errorf("claim: %v", err)
					}
					if ok {
						won.Add(1)
					}
				}()
			}
			wg.Wait()
			if won.Load() != 1 {
				t.Fatalf("expected exactly one winner, got %d", won.Load())
			}

			if err := repo.Release(ctx, "M1"); err != nil {
				t.Fatalf("release: %v", err)
			}
			if ok, _ := repo.Claim(ctx, "M1", time.Minute); !ok {
				t.Fatal("expected claim after release")
			}
		})
	}

	if ttl := s.TTL("test:claim:M1"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected claim ttl, got %s", ttl)
	}
}
