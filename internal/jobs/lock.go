package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/teletherapy-scheduler/pkg/logging"
)

// Locker grants exclusive, expiring ownership of a named job tick across
// replicas. release is nil when ok is false.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(context.Context), ok bool, err error)
}

// releaseScript deletes the key only while it still holds our token, so a
// tick that overran its TTL cannot drop a lock another replica now owns.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client *redis.Client
	prefix string
	logger *logging.Logger
}

func NewRedisLocker(client *redis.Client, logger *logging.Logger) *RedisLocker {
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisLocker{client: client, prefix: "teletherapy:jobs:lock:", logger: logger}
}

func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context), bool, error) {
	key := l.prefix + name
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("jobs: acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) {
		// The key expires on its own, so a failed release only delays the next tick.
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Debug("job lock release failed", "error", err, "key", key)
		}
	}, true, nil
}

// LocalLocker serializes ticks inside one process. It is used when no Redis
// is configured.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), now: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, name string, ttl time.Duration) (func(context.Context), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if until, ok := l.held[name]; ok && now.Before(until) {
		return nil, false, nil
	}
	l.held[name] = now.Add(ttl)
	return func(context.Context) {
		l.mu.Lock()
		delete(l.held, name)
		l.mu.Unlock()
	}, true, nil
}

var (
	_ Locker = (*RedisLocker)(nil)
	_ Locker = (*LocalLocker)(nil)
)
