// Per-session quotas for capped tools.
//
// Information Hiding:
// - Counter storage (process memory or Redis) hidden behind Quota
// - Session scoping carried in the context

package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultQuotaTTL bounds how long a session's counters are kept.
const DefaultQuotaTTL = 24 * time.Hour

// Quota counts capped tool uses per session.
type Quota interface {
	// Incr records one use of name in session and returns the new count.
	Incr(ctx context.Context, session, name string) (int64, error)
	// Count returns the current count without changing it.
	Count(ctx context.Context, session, name string) (int64, error)
}

type sessionKey struct{}

// WithSession scopes tool quotas in ctx to session.
func WithSession(ctx context.Context, session string) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFrom returns the session id carried by ctx.
func SessionFrom(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(sessionKey{}).(string)
	return s, ok && s != ""
}

// MemoryQuota keeps counters in process memory. Entries expire after ttl.
type MemoryQuota struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*quotaEntry
}

type quotaEntry struct {
	count   int64
	expires time.Time
}

// NewMemoryQuota creates an in-process quota store.
func NewMemoryQuota(ttl time.Duration) *MemoryQuota {
	if ttl <= 0 {
		ttl = DefaultQuotaTTL
	}
	return &MemoryQuota{ttl: ttl, now: time.Now, entries: make(map[string]*quotaEntry)}
}

// Incr records one use.
func (q *MemoryQuota) Incr(_ context.Context, session, name string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.pruneLocked(now)
	key := quotaKey(session, name)
	e, ok := q.entries[key]
	if !ok {
		e = &quotaEntry{expires: now.Add(q.ttl)}
		q.entries[key] = e
	}
	e.count++
	return e.count, nil
}

// Count returns the current count.
func (q *MemoryQuota) Count(_ context.Context, session, name string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[quotaKey(session, name)]
	if !ok || !q.now().Before(e.expires) {
		return 0, nil
	}
	return e.count, nil
}

func (q *MemoryQuota) pruneLocked(now time.Time) {
	for k, e := range q.entries {
		if !now.Before(e.expires) {
			delete(q.entries, k)
		}
	}
}

// RedisQuota shares counters across replicas using INCR with a TTL.
type RedisQuota struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisQuota wraps an existing client.
func NewRedisQuota(client *redis.Client, ttl time.Duration) *RedisQuota {
	if ttl <= 0 {
		ttl = DefaultQuotaTTL
	}
	return &RedisQuota{client: client, ttl: ttl}
}

// OpenRedisQuota connects to redisURL (redis://host:port/db) and pings it.
func OpenRedisQuota(ctx context.Context, redisURL string, ttl time.Duration) (*RedisQuota, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisQuota(client, ttl), nil
}

// Incr records one use. The TTL is set atomically with the increment.
func (q *RedisQuota) Incr(ctx context.Context, session, name string) (int64, error) {
	key := quotaKey(session, name)
	pipe := q.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, q.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("quota increment failed: %w", err)
	}
	return incr.Val(), nil
}

// Count returns the current count.
func (q *RedisQuota) Count(ctx context.Context, session, name string) (int64, error) {
	n, err := q.client.Get(ctx, quotaKey(session, name)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota read failed: %w", err)
	}
	return n, nil
}

// Close releases the Redis connection pool.
func (q *RedisQuota) Close() error {
	return q.client.Close()
}

func quotaKey(session, name string) string {
	return fmt.Sprintf("vdirector:quota:%s:%s", session, name)
}

// capped applies a per-session cap to one tool use. It returns the new
// count, or a limit-reached result when the cap is exceeded.
func capped(ctx context.Context, q Quota, name string, limit int) (int64, Result, error) {
	session, ok := SessionFrom(ctx)
	if !ok {
		return 0, nil, Errorf(CategoryInternal, "%s requires a session scope", name)
	}
	n, err := q.Incr(ctx, session, name)
	if err != nil {
		return 0, nil, err
	}
	if n > int64(limit) {
		return n, Result{
			KeyError:        fmt.Sprintf("%s limit reached (%d per session)", name, limit),
			"limit_reached": true,
		}, nil
	}
	return n, nil, nil
}
