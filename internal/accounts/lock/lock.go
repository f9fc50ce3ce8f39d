// Package lock serializes mutations on a single person-organisation
// connection.
//
// The account graph has no optimistic-concurrency token on enrolment rows, so
// two actors racing on the same connection (simultaneous nomination and
// removal, say) could otherwise interleave their read-check-write sequences.
// Mutating services take a short-TTL lock keyed by connection id before
// re-checking authorization; a lost race surfaces as sentinel.ErrLocked and
// is reported to the caller as a conflict, never as partial state.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	id "packreg/pkg/domain"
	"packreg/pkg/platform/sentinel"
)

// DefaultTTL bounds how long a crashed holder can block a connection.
const DefaultTTL = 10 * time.Second

// ConnectionLock guards mutations on one connection at a time.
type ConnectionLock interface {
	// Acquire takes the lock for the connection, returning a release
	// function, or sentinel.ErrLocked when another mutation holds it.
	Acquire(ctx context.Context, connID id.ConnectionID) (func(), error)
}

// InMemory is a process-local lock for tests and single-instance deployments.
type InMemory struct {
	mu   sync.Mutex
	held map[id.ConnectionID]time.Time
	ttl  time.Duration
}

// NewInMemory constructs a process-local connection lock.
func NewInMemory() *InMemory {
	return &InMemory{held: map[id.ConnectionID]time.Time{}, ttl: DefaultTTL}
}

func (l *InMemory) Acquire(_ context.Context, connID id.ConnectionID) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if expiry, ok := l.held[connID]; ok && time.Now().Before(expiry) {
		return nil, sentinel.ErrLocked
	}
	l.held[connID] = time.Now().Add(l.ttl)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, connID)
	}, nil
}

// Redis implements the lock with SET NX EX, so it holds across instances.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis constructs a redis-backed connection lock.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, ttl: DefaultTTL}
}

func lockKey(connID id.ConnectionID) string {
	return "packreg:connlock:" + connID.String()
}

func (l *Redis) Acquire(ctx context.Context, connID id.ConnectionID) (func(), error) {
	key := lockKey(connID)
	ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, sentinel.ErrLocked
	}
	return func() {
		// Release is best-effort; the TTL cleans up after a crash.
		_ = l.client.Del(context.WithoutCancel(ctx), key).Err()
	}, nil
}
