package worker_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cea/internal/session"
	"cea/internal/session/worker"
)

// sweepCache 只实现清理任务用到的那部分 session.Cache。
type sweepCache struct {
	session.Cache

	keys map[string]bool
	sets map[string]map[string]bool
}

func (c *sweepCache) Exists(_ context.Context, key string) bool { return c.keys[key] }

func (c *sweepCache) SetMembers(_ context.Context, key string) []string {
	members := make([]string, 0, len(c.sets[key]))
	for m := range c.sets[key] {
		members = append(members, m)
	}
	return members
}

func (c *sweepCache) SetRemove(_ context.Context, key string, members ...string) bool {
	for _, m := range members {
		delete(c.sets[key], m)
	}
	return true
}

func (c *sweepCache) Delete(_ context.Context, key string) bool {
	_, ok := c.sets[key]
	delete(c.sets, key)
	delete(c.keys, key)
	return ok
}

func TestSweepRemovesStaleIndexMembers(t *testing.T) {
	cache := &sweepCache{
		keys: map[string]bool{
			session.SearchKey("u1", "alive"): true,
		},
		sets: map[string]map[string]bool{
			session.SearchIndexKey("u1"): {"alive": true, "stale-1": true, "stale-2": true},
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := worker.NewCacheTaskWorker(cache, logger)

	payload, _ := json.Marshal(session.SweepSearchIndexPayload{UserID: "u1"})
	task := asynq.NewTask(session.SweepSearchIndexTask, payload)

	require.NoError(t, w.HandleSweepSearchIndex(context.Background(), task))

	assert.ElementsMatch(t, []string{"alive"},
		cache.SetMembers(context.Background(), session.SearchIndexKey("u1")))
}

func TestSweepDropsEmptyIndex(t *testing.T) {
	cache := &sweepCache{
		keys: map[string]bool{},
		sets: map[string]map[string]bool{
			session.SearchIndexKey("u1"): {"dead": true},
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := worker.NewCacheTaskWorker(cache, logger)

	payload, _ := json.Marshal(session.SweepSearchIndexPayload{UserID: "u1"})
	require.NoError(t, w.HandleSweepSearchIndex(context.Background(), asynq.NewTask(session.SweepSearchIndexTask, payload)))

	_, remains := cache.sets[session.SearchIndexKey("u1")]
	assert.False(t, remains)
}

func TestSweepRejectsBadPayload(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := worker.NewCacheTaskWorker(&sweepCache{}, logger)

	task := asynq.NewTask(session.SweepSearchIndexTask, []byte("not-json"))
	assert.Error(t, w.HandleSweepSearchIndex(context.Background(), task))
}
