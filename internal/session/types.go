package session

import "time"

// 每类记录独立的 TTL 策略。会话是账号级的，聊天记录是对话级的，
// 搜索缓存只是 memoization，过期时间依次递减。
const (
	SessionTTL        = 24 * time.Hour
	ChatHistoryTTL    = 1 * time.Hour
	SearchCacheTTL    = 30 * time.Minute
	JobMatchesTTL     = 2 * time.Hour
	FormDataTTL       = 30 * time.Minute
	UploadProgressTTL = 1 * time.Hour
)

// MaxChatHistory 是单个会话保留的最大消息数，超出后触发 compaction。
const MaxChatHistory = 50

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// SessionRecord 是一个用户的当前会话状态，整体覆写，不做字段级合并。
type SessionRecord struct {
	UserID       string         `json:"user_id"`
	Email        string         `json:"email,omitempty"`
	LastActivity time.Time      `json:"last_activity"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Preferences  map[string]any `json:"preferences,omitempty"`
}

// SessionData carries the caller-supplied part of a session write;
// the manager fills in LastActivity itself.
type SessionData struct {
	Email       string         `json:"email,omitempty"`
	IPAddress   string         `json:"ip_address,omitempty"`
	UserAgent   string         `json:"user_agent,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
}

type ChatMessage struct {
	ID        string         `json:"id"`
	Role      MessageRole    `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// JobSearchEntry 是一次职位搜索的 memoization 结果，永远不是数据源。
type JobSearchEntry struct {
	Query      string         `json:"query"`
	Filters    map[string]any `json:"filters,omitempty"`
	Results    []any          `json:"results"`
	TotalCount int            `json:"total_count"`
	CachedAt   time.Time      `json:"cached_at"`
}

type UploadProgress struct {
	Progress  int       `json:"progress"`
	Timestamp time.Time `json:"timestamp"`
}

// Cache key layout: <kind>:<id>[:<subkey>], prefixed by the cache itself.
func sessionKey(userID string) string { return "session:" + userID }
func chatKey(sessionID string) string { return "chat:" + sessionID }
func prefsKey(userID string) string   { return "prefs:" + userID }
func matchesKey(userID string) string { return "matches:" + userID }

// SearchKey and SearchIndexKey are shared with the sweep worker.
func SearchKey(userID, key string) string { return "search:" + userID + ":" + key }
func SearchIndexKey(userID string) string { return "searchindex:" + userID }
func formKey(userID, formID string) string {
	return "form:" + userID + ":" + formID
}
func uploadKey(uploadID string) string      { return "upload:" + uploadID }
func rateLimitKey(identifier string) string { return "ratelimit:" + identifier }

// SweepSearchIndexTask asks the worker to drop index members whose search
// cache keys have already expired.
const SweepSearchIndexTask = "cache:sweep_search_index"

type SweepSearchIndexPayload struct {
	UserID string `json:"user_id"`
}
