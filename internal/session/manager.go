package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/hibiken/asynq"

	"cea/internal/monitor"
)

// Manager 在裸缓存之上实施每类记录的 TTL 策略和大小上限。
// 所有方法都不返回 error：缓存故障退化为"无会话/无记录"，
// 绝不能因为状态记账失败而中断一次聊天请求。
type Manager struct {
	cache  Cache
	queue  *asynq.Client // 可为 nil（测试场景），入队是尽力而为
	logger *slog.Logger
}

func NewManager(cache Cache, queue *asynq.Client, logger *slog.Logger) *Manager {
	return &Manager{
		cache:  cache,
		queue:  queue,
		logger: logger.With("component", "session-manager"),
	}
}

// SetUserSession writes the full session record for userID, overwriting any
// prior record. Callers wanting a partial update must read-then-write.
func (m *Manager) SetUserSession(ctx context.Context, userID string, data SessionData) bool {
	record := SessionRecord{
		UserID:       userID,
		Email:        data.Email,
		LastActivity: time.Now(),
		IPAddress:    data.IPAddress,
		UserAgent:    data.UserAgent,
		Preferences:  data.Preferences,
	}
	return m.cache.Set(ctx, sessionKey(userID), record, SessionTTL)
}

func (m *Manager) GetUserSession(ctx context.Context, userID string) (*SessionRecord, bool) {
	var record SessionRecord
	if !m.cache.Get(ctx, sessionKey(userID), &record) {
		return nil, false
	}
	return &record, true
}

// UpdateSessionActivity refreshes LastActivity on an existing session.
// 会话不存在时返回 false —— 不能通过 touch 凭空创建会话。
func (m *Manager) UpdateSessionActivity(ctx context.Context, userID string) bool {
	var record SessionRecord
	if !m.cache.Get(ctx, sessionKey(userID), &record) {
		return false
	}
	record.LastActivity = time.Now()
	return m.cache.Set(ctx, sessionKey(userID), record, SessionTTL)
}

// AddChatMessage appends msg to the session's history. When the list grows
// past MaxChatHistory the manager compacts it down to the most recent
// MaxChatHistory entries, preserving order. The compaction
// (read-delete-rewrite) is not atomic; a concurrent writer can at worst
// duplicate or drop a couple of the oldest retained messages.
func (m *Manager) AddChatMessage(ctx context.Context, sessionID string, msg ChatMessage) bool {
	key := chatKey(sessionID)
	length := m.cache.ListPush(ctx, key, msg, ChatHistoryTTL)
	if length == 0 {
		return false
	}

	if length > MaxChatHistory {
		m.compactChatHistory(ctx, key)
	}
	return true
}

func (m *Manager) compactChatHistory(ctx context.Context, key string) {
	recent := m.cache.ListRange(ctx, key, -MaxChatHistory, -1)
	if len(recent) == 0 {
		return
	}

	m.cache.Delete(ctx, key)
	for _, raw := range recent {
		// raw 已经是序列化好的 JSON，用 RawMessage 原样写回
		m.cache.ListPush(ctx, key, json.RawMessage(raw), ChatHistoryTTL)
	}

	monitor.ChatCompactions.Inc()
	m.logger.Debug("Chat history compacted", "key", key, "retained", len(recent))
}

// GetChatHistory returns up to limit most recent messages in original order.
// limit <= 0 returns the full retained history.
func (m *Manager) GetChatHistory(ctx context.Context, sessionID string, limit int) []ChatMessage {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}

	raw := m.cache.ListRange(ctx, chatKey(sessionID), start, -1)
	messages := make([]ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			m.logger.Warn("Skipping undecodable chat message", "session_id", sessionID, "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

func (m *Manager) ClearChatHistory(ctx context.Context, sessionID string) bool {
	return m.cache.Delete(ctx, chatKey(sessionID))
}

// CacheJobSearch memoizes a search result and records the key in the user's
// search index set so ClearUserData can tear it down without pattern scans.
func (m *Manager) CacheJobSearch(ctx context.Context, userID, key string, entry JobSearchEntry) bool {
	entry.CachedAt = time.Now()
	if !m.cache.Set(ctx, SearchKey(userID, key), entry, SearchCacheTTL) {
		return false
	}
	m.cache.SetAdd(ctx, SearchIndexKey(userID), key, SearchCacheTTL+10*time.Minute)
	m.enqueueIndexSweep(userID)
	return true
}

func (m *Manager) GetCachedJobSearch(ctx context.Context, userID, key string) (*JobSearchEntry, bool) {
	var entry JobSearchEntry
	if !m.cache.Get(ctx, SearchKey(userID, key), &entry) {
		return nil, false
	}
	return &entry, true
}

func (m *Manager) SetUserPreferences(ctx context.Context, userID string, prefs map[string]any) bool {
	return m.cache.Set(ctx, prefsKey(userID), prefs, SessionTTL)
}

func (m *Manager) GetUserPreferences(ctx context.Context, userID string) (map[string]any, bool) {
	var prefs map[string]any
	if !m.cache.Get(ctx, prefsKey(userID), &prefs) {
		return nil, false
	}
	return prefs, true
}

func (m *Manager) SetJobMatches(ctx context.Context, userID string, matches []any) bool {
	return m.cache.Set(ctx, matchesKey(userID), matches, JobMatchesTTL)
}

func (m *Manager) GetJobMatches(ctx context.Context, userID string) ([]any, bool) {
	var matches []any
	if !m.cache.Get(ctx, matchesKey(userID), &matches) {
		return nil, false
	}
	return matches, true
}

func (m *Manager) SaveFormData(ctx context.Context, userID, formID string, data map[string]any) bool {
	return m.cache.Set(ctx, formKey(userID, formID), data, FormDataTTL)
}

func (m *Manager) GetFormData(ctx context.Context, userID, formID string) (map[string]any, bool) {
	var data map[string]any
	if !m.cache.Get(ctx, formKey(userID, formID), &data) {
		return nil, false
	}
	return data, true
}

// SetUploadProgress overwrites the progress entry for uploadID.
func (m *Manager) SetUploadProgress(ctx context.Context, uploadID string, progress int) bool {
	return m.cache.Set(ctx, uploadKey(uploadID), UploadProgress{
		Progress:  progress,
		Timestamp: time.Now(),
	}, UploadProgressTTL)
}

func (m *Manager) GetUploadProgress(ctx context.Context, uploadID string) (*UploadProgress, bool) {
	var p UploadProgress
	if !m.cache.Get(ctx, uploadKey(uploadID), &p) {
		return nil, false
	}
	return &p, true
}

// IncrementRateLimit bumps the window counter for identifier. The TTL is the
// window rounded up to whole seconds; the counter resets only by key expiry.
// Returns the new count, 0 when the store is unavailable (调用方按放行处理).
func (m *Manager) IncrementRateLimit(ctx context.Context, identifier string, window time.Duration) int64 {
	ttl := time.Duration(math.Ceil(window.Seconds())) * time.Second
	return m.cache.Increment(ctx, rateLimitKey(identifier), 1, ttl)
}

// CheckRateLimit is a read-only peek: it never creates a counter and returns
// 0 when none exists. The allow/deny decision belongs to the caller.
func (m *Manager) CheckRateLimit(ctx context.Context, identifier string) int64 {
	var count int64
	if !m.cache.Get(ctx, rateLimitKey(identifier), &count) {
		return 0
	}
	return count
}

// ClearUserData tears down session, preferences and job matches directly,
// and search cache entries through the explicit index set.
func (m *Manager) ClearUserData(ctx context.Context, userID string) bool {
	m.cache.Delete(ctx, sessionKey(userID))
	m.cache.Delete(ctx, prefsKey(userID))
	m.cache.Delete(ctx, matchesKey(userID))

	for _, key := range m.cache.SetMembers(ctx, SearchIndexKey(userID)) {
		m.cache.Delete(ctx, SearchKey(userID, key))
	}
	m.cache.Delete(ctx, SearchIndexKey(userID))

	m.logger.Info("User ephemeral data cleared", "user_id", userID)
	return true
}

// enqueueIndexSweep schedules a delayed sweep of the user's search index.
// TaskID 去重：同一用户已有待处理的清理任务时直接跳过。
func (m *Manager) enqueueIndexSweep(userID string) {
	if m.queue == nil {
		return
	}

	payload, _ := json.Marshal(SweepSearchIndexPayload{UserID: userID})
	task := asynq.NewTask(SweepSearchIndexTask, payload)

	_, err := m.queue.Enqueue(task,
		asynq.TaskID("sweep:"+userID),
		asynq.ProcessIn(SearchCacheTTL+5*time.Minute),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		m.logger.Warn("Failed to enqueue index sweep", "user_id", userID, "error", err)
	}
}
