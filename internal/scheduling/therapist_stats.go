package scheduling

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TherapistCounters are the lifetime tallies kept per therapist.
type TherapistCounters struct {
	SessionsCompleted int `json:"sessions_completed"`
	MinutesDelivered  int `json:"minutes_delivered"`
	SessionsCancelled int `json:"sessions_cancelled"`
	NoShows           int `json:"no_shows"`
}

// TherapistStats accumulates per-therapist counters.
type TherapistStats interface {
	RecordCompleted(ctx context.Context, therapistID uuid.UUID, minutes int) error
	RecordCancelled(ctx context.Context, therapistID uuid.UUID) error
	RecordNoShow(ctx context.Context, therapistID uuid.UUID) error
	Counters(ctx context.Context, therapistID uuid.UUID) (TherapistCounters, error)
}

const (
	fieldCompleted = "sessions_completed"
	fieldMinutes   = "minutes_delivered"
	fieldCancelled = "sessions_cancelled"
	fieldNoShows   = "no_shows"
)

// RedisTherapistStats keeps counters in one hash per therapist so every
// replica sees the same totals.
type RedisTherapistStats struct {
	client *redis.Client
	prefix string
}

func NewRedisTherapistStats(client *redis.Client) *RedisTherapistStats {
	return &RedisTherapistStats{client: client, prefix: "teletherapy:therapist_stats:"}
}

func (s *RedisTherapistStats) key(id uuid.UUID) string { return s.prefix + id.String() }

func (s *RedisTherapistStats) RecordCompleted(ctx context.Context, therapistID uuid.UUID, minutes int) error {
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, s.key(therapistID), fieldCompleted, 1)
	pipe.HIncrBy(ctx, s.key(therapistID), fieldMinutes, int64(minutes))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("scheduling: record completed: %w", err)
	}
	return nil
}

func (s *RedisTherapistStats) RecordCancelled(ctx context.Context, therapistID uuid.UUID) error {
	if err := s.client.HIncrBy(ctx, s.key(therapistID), fieldCancelled, 1).Err(); err != nil {
		return fmt.Errorf("scheduling: record cancelled: %w", err)
	}
	return nil
}

func (s *RedisTherapistStats) RecordNoShow(ctx context.Context, therapistID uuid.UUID) error {
	if err := s.client.HIncrBy(ctx, s.key(therapistID), fieldNoShows, 1).Err(); err != nil {
		return fmt.Errorf("scheduling: record no-show: %w", err)
	}
	return nil
}

func (s *RedisTherapistStats) Counters(ctx context.Context, therapistID uuid.UUID) (TherapistCounters, error) {
	vals, err := s.client.HGetAll(ctx, s.key(therapistID)).Result()
	if err != nil {
		return TherapistCounters{}, fmt.Errorf("scheduling: read therapist stats: %w", err)
	}
	atoi := func(k string) int {
		n, _ := strconv.Atoi(vals[k])
		return n
	}
	return TherapistCounters{
		SessionsCompleted: atoi(fieldCompleted),
		MinutesDelivered:  atoi(fieldMinutes),
		SessionsCancelled: atoi(fieldCancelled),
		NoShows:           atoi(fieldNoShows),
	}, nil
}

// MemoryTherapistStats is the single-process counterpart.
type MemoryTherapistStats struct {
	mu       sync.Mutex
	counters map[uuid.UUID]TherapistCounters
}

func NewMemoryTherapistStats() *MemoryTherapistStats {
	return &MemoryTherapistStats{counters: make(map[uuid.UUID]TherapistCounters)}
}

func (s *MemoryTherapistStats) update(id uuid.UUID, fn func(*TherapistCounters)) {
	s.mu.Lock()
	c := s.counters[id]
	fn(&c)
	s.counters[id] = c
	s.mu.Unlock()
}

func (s *MemoryTherapistStats) RecordCompleted(_ context.Context, therapistID uuid.UUID, minutes int) error {
	s.update(therapistID, func(c *TherapistCounters) {
		c.SessionsCompleted++
		c.MinutesDelivered += minutes
	})
	return nil
}

func (s *MemoryTherapistStats) RecordCancelled(_ context.Context, therapistID uuid.UUID) error {
	s.update(therapistID, func(c *TherapistCounters) { c.SessionsCancelled++ })
	return nil
}

func (s *MemoryTherapistStats) RecordNoShow(_ context.Context, therapistID uuid.UUID) error {
	s.update(therapistID, func(c *TherapistCounters) { c.NoShows++ })
	return nil
}

func (s *MemoryTherapistStats) Counters(_ context.Context, therapistID uuid.UUID) (TherapistCounters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[therapistID], nil
}

var (
	_ TherapistStats = (*RedisTherapistStats)(nil)
	_ TherapistStats = (*MemoryTherapistStats)(nil)
)
