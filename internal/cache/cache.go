package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"cea/internal/monitor"
)

// Cache 是 Redis 之上的弱一致性缓存封装。
// 所有操作都是尽力而为：存储层故障被吸收并记录日志，
// 调用方只会看到 false/0/nil（等同于 cache miss），绝不会收到 error。
type Cache struct {
	client redis.Cmdable
	prefix string
	logger *slog.Logger
}

func New(client redis.Cmdable, prefix string, logger *slog.Logger) *Cache {
	return &Cache{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "cache"),
	}
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

// Set serializes value as JSON and writes it under the prefixed key.
// A ttl <= 0 means the key does not expire.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("Failed to marshal cache value", "key", key, "error", err)
		monitor.CacheErrors.Inc()
		return false
	}

	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		c.logger.Warn("Cache set failed", "key", key, "error", err)
		monitor.CacheErrors.Inc()
		return false
	}
	return true
}

// Get reads the key and unmarshals it into dest. A missing key, a store
// failure, or a payload that no longer deserializes all report false --
// 反序列化失败视为缺失，避免把半截数据交给调用方。
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Cache get failed", "key", key, "error", err)
			monitor.CacheErrors.Inc()
		}
		monitor.CacheMisses.Inc()
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Warn("Failed to unmarshal cache value, treating as absent", "key", key, "error", err)
		monitor.CacheMisses.Inc()
		return false
	}

	monitor.CacheHits.Inc()
	return true
}

// Delete removes the key. Returns true only if a key actually existed.
func (c *Cache) Delete(ctx context.Context, key string) bool {
	n, err := c.client.Del(ctx, c.key(key)).Result()
	if err != nil {
		c.logger.Warn("Cache delete failed", "key", key, "error", err)
		monitor.CacheErrors.Inc()
		return false
	}
	return n > 0
}

// ListPush appends item to the list at key and refreshes the list TTL.
// Returns the resulting length so callers can enforce size caps, 0 on failure.
func (c *Cache) ListPush(ctx context.Context, key string, item any, ttl time.Duration) int64 {
	data, err := json.Marshal(item)
	if err != nil {
		c.logger.Warn("Failed to marshal list item", "key", key, "error", err)
		monitor.CacheErrors.Inc()
		return 0
	}

	length, err := c.client.RPush(ctx, c.key(key), data).Result()
	if err != nil {
		c.logger.Warn("Cache list push failed", "key", key, "error", err)
		monitor.CacheErrors.Inc()
		return 0
	}

	if ttl > 0 {
		if err := c.client.Expire(ctx, c.key(key), ttl).Err(); err != nil {
			c.logger.Warn("Cache expire failed", "key", key, "error", err)
		}
	}
	return length
}

// ListRange returns the raw JSON payloads in [start, stop]; stop = -1 reads
// to the end of the list. Returns nil on failure.
func (c *Cache) ListRange(ctx context.Context, key string, start, stop int64) []string {
	items, err := c.client.LRange(ctx, c.key(key), start, stop).Result()
	if err != nil {
		c.logger.Warn("Cache list range failed", "key", key, "error", err)
		monitor.CacheErrors.Inc()
		return nil
	}
	return items
}

// Increment atomically adds by to the counter at key. A previously absent key
// is initialized to by and given the ttl; 一个窗口内的后续自增不会重置 TTL。
func (c *Cache) Increment(ctx context.Context, key string, by int64, ttl time.Duration) int64 {
	val, err := c.client.IncrBy(ctx, c.key(key), by).Result()
	if err != nil {
		c.logger.Warn("Cache increment failed", "key", key, "error", err)
		monitor.CacheErrors.Inc()
		return 0
	}

	// 结果等于增量说明是新键，为这个窗口设置过期时间
	if val == by && ttl > 0 {
		if err := c.client.Expire(ctx, c.key(key), ttl).Err(); err != nil {
			c.logger.Warn("Cache expire failed", "key", key, "error", err)
		}
	}
	return val
}

// SetAdd adds member to the set at key and refreshes the set TTL.
func (c *Cache) SetAdd(ctx context.Context, key, member string, ttl time.Duration) bool {
	if err := c.client.SAdd(ctx, c.key(key), member).Err(); err != nil {
		c.logger.Warn("Cache set add failed", "key", key, "error", err)
		monitor.CacheErrors.Inc()
		return false
	}
	if ttl > 0 {
		if err := c.client.Expire(ctx, c.key(key), ttl).Err(); err != nil {
			c.logger.Warn("Cache expire failed", "key", key, "error", err)
		}
	}
	return true
}

// SetMembers returns all members of the set at key, nil on failure.
func (c *Cache) SetMembers(ctx context.Context, key string) []string {
	members, err := c.client.SMembers(ctx, c.key(key)).Result()
	if err != nil {
		c.logger.Warn("Cache set members failed", "key", key, "error", err)
		monitor.CacheErrors.Inc()
		return nil
	}
	return members
}

// SetRemove removes members from the set at key.
func (c *Cache) SetRemove(ctx context.Context, key string, members ...string) bool {
	if len(members) == 0 {
		return true
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := c.client.SRem(ctx, c.key(key), args...).Err(); err != nil {
		c.logger.Warn("Cache set remove failed", "key", key, "error", err)
		monitor.CacheErrors.Inc()
		return false
	}
	return true
}

// Exists reports whether the key is currently present.
func (c *Cache) Exists(ctx context.Context, key string) bool {
	n, err := c.client.Exists(ctx, c.key(key)).Result()
	if err != nil {
		c.logger.Warn("Cache exists failed", "key", key, "error", err)
		monitor.CacheErrors.Inc()
		return false
	}
	return n > 0
}
