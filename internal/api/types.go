package api

import "time"

type ChatRequest struct {
	Message        string   `json:"message" binding:"required"`
	ConversationID string   `json:"conversation_id"`
	Files          []string `json:"files"`
	// Stream 缺省为 true
	Stream *bool `json:"stream"`
}

type ChatResponse struct {
	Content          string         `json:"content"`
	Role             string         `json:"role"`
	ConversationID   string         `json:"conversation_id"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

type UpdateSessionRequest struct {
	Email       string         `json:"email"`
	Preferences map[string]any `json:"preferences"`
}

type SessionResponse struct {
	UserID       string         `json:"user_id"`
	Email        string         `json:"email,omitempty"`
	LastActivity string         `json:"last_activity"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Preferences  map[string]any `json:"preferences,omitempty"`
}

type ChatHistoryResponse struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []ChatMessage `json:"messages"`
}

type ChatMessage struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type CacheSearchRequest struct {
	SearchKey  string         `json:"search_key" binding:"required"`
	Query      string         `json:"query"`
	Filters    map[string]any `json:"filters"`
	Results    []any          `json:"results"`
	TotalCount int            `json:"total_count"`
}

type JobMatchesRequest struct {
	Matches []any `json:"matches" binding:"required"`
}

type UploadProgressRequest struct {
	Progress *int `json:"progress" binding:"required,min=0,max=100"`
}

type UploadProgressResponse struct {
	UploadID  string `json:"upload_id"`
	Progress  int    `json:"progress"`
	Timestamp string `json:"timestamp"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
