package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"cea/internal/session"
)

// CacheTaskWorker 处理缓存维护类后台任务。
type CacheTaskWorker struct {
	cache  session.Cache
	logger *slog.Logger
}

func NewCacheTaskWorker(cache session.Cache, logger *slog.Logger) *CacheTaskWorker {
	return &CacheTaskWorker{
		cache:  cache,
		logger: logger.With("component", "cache-worker"),
	}
}

// HandleSweepSearchIndex removes index members whose search cache keys have
// already expired. The index set itself carries a TTL, so this only trims
// members that went stale while the set stayed alive.
func (w *CacheTaskWorker) HandleSweepSearchIndex(ctx context.Context, task *asynq.Task) error {
	var payload session.SweepSearchIndexPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		w.logger.Error("Failed to unmarshal sweep payload", "error", err)
		return fmt.Errorf("json unmarshal error: %w", err)
	}

	indexKey := session.SearchIndexKey(payload.UserID)
	members := w.cache.SetMembers(ctx, indexKey)
	if len(members) == 0 {
		return nil
	}

	var dead []string
	for _, key := range members {
		if !w.cache.Exists(ctx, session.SearchKey(payload.UserID, key)) {
			dead = append(dead, key)
		}
	}

	if len(dead) > 0 {
		w.cache.SetRemove(ctx, indexKey, dead...)
		w.logger.Info("Swept stale search index members",
			"user_id", payload.UserID,
			"removed", len(dead),
			"remaining", len(members)-len(dead))
	}

	// 全部成员都失效时把索引集合本身也删掉
	if len(dead) == len(members) {
		w.cache.Delete(ctx, indexKey)
	}
	return nil
}
