package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tendant/adminportal/pkg/domain"
)

const permitKeyPrefix = "adminportal:reset_permit:"

// RedisPermits stores password reset permits in Redis with a TTL.
// Consumption uses GETDEL so a permit can be taken exactly once even across
// processes.
type RedisPermits struct {
	client *redis.Client
}

// NewRedisPermits creates a Redis-backed permit store.
func NewRedisPermits(client *redis.Client) *RedisPermits {
	return &RedisPermits{client: client}
}

// NewRedisClient parses url, connects and pings before returning.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}

func (p *RedisPermits) Grant(ctx context.Context, id, email string, ttl time.Duration) error {
	ok, err := p.client.SetNX(ctx, permitKeyPrefix+id, email, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("reset permit %s already exists", id)
	}
	return nil
}

func (p *RedisPermits) Peek(ctx context.Context, id string) (string, error) {
	email, err := p.client.Get(ctx, permitKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrMissingResetContext
	}
	return email, err
}

func (p *RedisPermits) Consume(ctx context.Context, id string) (string, error) {
	email, err := p.client.GetDel(ctx, permitKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrMissingResetContext
	}
	return email, err
}

// MemoryPermits is an in-process PermitStore.
type MemoryPermits struct {
	mu      sync.Mutex
	permits map[string]memoryPermit
	now     func() time.Time
}

type memoryPermit struct {
	email     string
	expiresAt time.Time
}

// NewMemoryPermits creates an empty in-memory permit store.
func NewMemoryPermits() *MemoryPermits {
	return &MemoryPermits{
		permits: make(map[string]memoryPermit),
		now:     time.Now,
	}
}

// WithClock replaces the time source used for expiry.
func (m *MemoryPermits) WithClock(now func() time.Time) *MemoryPermits {
	m.now = now
	return m
}

func (m *MemoryPermits) Grant(_ context.Context, id, email string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.permits[id]; ok && m.now().Before(p.expiresAt) {
		return fmt.Errorf("reset permit %s already exists", id)
	}
	m.permits[id] = memoryPermit{email: email, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryPermits) Peek(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.live(id)
	if !ok {
		return "", domain.ErrMissingResetContext
	}
	return p.email, nil
}

func (m *MemoryPermits) Consume(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.live(id)
	delete(m.permits, id)
	if !ok {
		return "", domain.ErrMissingResetContext
	}
	return p.email, nil
}

func (m *MemoryPermits) live(id string) (memoryPermit, bool) {
	p, ok := m.permits[id]
	if !ok {
		return memoryPermit{}, false
	}
	if !m.now().Before(p.expiresAt) {
		delete(m.permits, id)
		return memoryPermit{}, false
	}
	return p, true
}
