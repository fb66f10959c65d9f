package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/s35241607/ticket-system/internal/domain"
	"github.com/s35241607/ticket-system/internal/pkg/logger"
)

const keyPrefix = "approvals:directory:"

// Cache stores opaque values with a TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache implements Cache on go-redis.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache wraps client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// Get returns the value under key; a miss is not an error.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set stores value under key for ttl.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// CachedDirectory memoises directory lookups. Cache failures degrade to
// direct lookups.
type CachedDirectory struct {
	next  Directory
	cache Cache
	ttl   time.Duration
}

// NewCachedDirectory wraps next with cache.
func NewCachedDirectory(next Directory, cache Cache, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{next: next, cache: cache, ttl: ttl}
}

type managerEntry struct {
	ID    uuid.UUID `json:"id"`
	Found bool      `json:"found"`
}

// UsersWithRoles implements Directory.
func (d *CachedDirectory) UsersWithRoles(ctx context.Context, roles []string) ([]uuid.UUID, error) {
	key := keyPrefix + "roles:" + sortedKey(roles)
	return cachedIDs(ctx, d, key, func() ([]uuid.UUID, error) {
		return d.next.UsersWithRoles(ctx, roles)
	})
}

// UsersInDepartments implements Directory.
func (d *CachedDirectory) UsersInDepartments(ctx context.Context, departmentIDs []uuid.UUID) ([]uuid.UUID, error) {
	parts := make([]string, len(departmentIDs))
	for i, id := range departmentIDs {
		parts[i] = id.String()
	}
	key := keyPrefix + "departments:" + sortedKey(parts)
	return cachedIDs(ctx, d, key, func() ([]uuid.UUID, error) {
		return d.next.UsersInDepartments(ctx, departmentIDs)
	})
}

// ManagerOf implements Directory. Missing managers are cached too.
func (d *CachedDirectory) ManagerOf(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	key := keyPrefix + "manager:" + userID.String()
	if raw, ok := d.load(ctx, key); ok {
		var e managerEntry
		if err := json.Unmarshal(raw, &e); err == nil {
			if !e.Found {
				return uuid.Nil, fmt.Errorf("manager of %s: %w", userID, domain.ErrNotFound)
			}
			return e.ID, nil
		}
	}

	id, err := d.next.ManagerOf(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		d.store(ctx, key, managerEntry{})
		return uuid.Nil, err
	case err != nil:
		return uuid.Nil, err
	}
	d.store(ctx, key, managerEntry{ID: id, Found: true})
	return id, nil
}

func cachedIDs(ctx context.Context, d *CachedDirectory, key string, load func() ([]uuid.UUID, error)) ([]uuid.UUID, error) {
	if raw, ok := d.load(ctx, key); ok {
		var ids []uuid.UUID
		if err := json.Unmarshal(raw, &ids); err == nil {
			return ids, nil
		}
	}
	ids, err := load()
	if err != nil {
		return nil, err
	}
	d.store(ctx, key, ids)
	return ids, nil
}

func (d *CachedDirectory) load(ctx context.Context, key string) ([]byte, bool) {
	raw, ok, err := d.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("directory cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return raw, ok
}

func (d *CachedDirectory) store(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, key, raw, d.ttl); err != nil {
		logger.Warn("directory cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func sortedKey(values []string) string {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

var _ Directory = (*CachedDirectory)(nil)
