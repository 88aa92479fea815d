package session

import (
	"context"
	"time"
)

// Cache 是 Manager 需要的存储原语，由 internal/cache 实现。
// 所有操作失败时退化为 miss，不返回 error。
type Cache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) bool
	Get(ctx context.Context, key string, dest any) bool
	Delete(ctx context.Context, key string) bool
	ListPush(ctx context.Context, key string, item any, ttl time.Duration) int64
	ListRange(ctx context.Context, key string, start, stop int64) []string
	Increment(ctx context.Context, key string, by int64, ttl time.Duration) int64
	SetAdd(ctx context.Context, key, member string, ttl time.Duration) bool
	SetMembers(ctx context.Context, key string) []string
	SetRemove(ctx context.Context, key string, members ...string) bool
	Exists(ctx context.Context, key string) bool
}
