package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cea/internal/config"
	"cea/internal/monitor"
	"cea/internal/relay"
	"cea/internal/session"
)

type ChatHandler struct {
	backend   *relay.Backend
	sessions  *session.Manager
	rateLimit config.RateLimitConfig
}

func NewChatHandler(backend *relay.Backend, sessions *session.Manager, rateLimit config.RateLimitConfig) *ChatHandler {
	return &ChatHandler{
		backend:   backend,
		sessions:  sessions,
		rateLimit: rateLimit,
	}
}

// Chat POST /api/v1/chat
// 校验并限流后把消息转发给 agent 后端，按请求选择 SSE 或缓冲响应。
func (h *ChatHandler) Chat(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidRequest, err.Error())
		return
	}

	// 空消息快速失败，不触发任何后端调用
	message := strings.TrimSpace(req.Message)
	if message == "" {
		respondError(c, http.StatusBadRequest, ErrEmptyMessage)
		return
	}

	ctx := c.Request.Context()

	count := h.sessions.IncrementRateLimit(ctx, userID, h.rateLimit.Window)
	if count > h.rateLimit.MaxRequests {
		monitor.RateLimitedTotal.Inc()
		respondError(c, http.StatusTooManyRequests, ErrRateLimited)
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = userID
	}

	// 记账都是尽力而为：缓存不可用不妨碍聊天本身
	h.sessions.AddChatMessage(ctx, conversationID, session.ChatMessage{
		ID:        uuid.NewString(),
		Role:      session.RoleUser,
		Content:   message,
		Timestamp: time.Now(),
	})
	h.sessions.UpdateSessionActivity(ctx, userID)

	backendReq := relay.ChatRequest{
		Message:        message,
		UserID:         userID,
		ConversationID: conversationID,
	}
	if len(req.Files) > 0 {
		backendReq.Metadata = map[string]any{"files": req.Files}
	}

	stream := true
	if req.Stream != nil {
		stream = *req.Stream
	}

	if stream {
		h.streamChat(c, backendReq)
	} else {
		h.bufferedChat(c, backendReq)
	}
}

func (h *ChatHandler) streamChat(c *gin.Context, req relay.ChatRequest) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	// 长连接要禁用服务器级 WriteTimeout，否则传输中途会被强行断开
	rc := http.NewResponseController(c.Writer)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.Warn("Failed to disable write deadline for SSE", "error", err)
	}

	sink := func(frame []byte) error {
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", frame); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	}

	result, err := h.backend.StreamChat(c.Request.Context(), req, sink)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// 客户端断连，上游连接已随 context 取消释放
			return
		}
		h.writeErrorFrame(c, err)
		return
	}

	if result.Completed && result.Content != "" {
		h.sessions.AddChatMessage(c.Request.Context(), req.ConversationID, session.ChatMessage{
			ID:        uuid.NewString(),
			Role:      session.RoleAssistant,
			Content:   result.Content,
			Timestamp: time.Now(),
		})
	}
}

// writeErrorFrame 把 relay 故障转成单个格式良好的终止事件，
// 客户端收到的永远是可解析的帧而不是半截响应。
func (h *ChatHandler) writeErrorFrame(c *gin.Context, err error) {
	status, message := mapRelayError(err)

	reason := "internal"
	var relayErr *relay.Error
	if errors.As(err, &relayErr) {
		reason = relayErr.Label()
	}
	monitor.RelayErrorsTotal.WithLabelValues(reason).Inc()
	slog.Warn("Relay stream failed", "reason", reason, "status", status, "error", err)

	frame, _ := json.Marshal(map[string]any{
		"type": "error",
		"data": map[string]any{
			"message": message,
			"reason":  reason,
		},
		"timestamp":       time.Now().Format(time.RFC3339Nano),
		"frontend_action": "show_error",
	})
	fmt.Fprintf(c.Writer, "data: %s\n\n", frame)
	c.Writer.Flush()
}

func (h *ChatHandler) bufferedChat(c *gin.Context, req relay.ChatRequest) {
	result, err := h.backend.Chat(c.Request.Context(), req)
	if err != nil {
		status, message := mapRelayError(err)

		reason := "internal"
		var relayErr *relay.Error
		if errors.As(err, &relayErr) {
			reason = relayErr.Label()
		}
		monitor.RelayErrorsTotal.WithLabelValues(reason).Inc()

		c.JSON(status, ErrorResponse{Error: message, Code: status})
		return
	}

	h.sessions.AddChatMessage(c.Request.Context(), req.ConversationID, session.ChatMessage{
		ID:        uuid.NewString(),
		Role:      session.RoleAssistant,
		Content:   result.Content,
		Timestamp: time.Now(),
	})

	c.JSON(http.StatusOK, ChatResponse{
		Content:          result.Content,
		Role:             string(session.RoleAssistant),
		ConversationID:   result.ConversationID,
		ProcessingTimeMs: result.ProcessingTime.Milliseconds(),
		Metadata:         result.Metadata,
	})
}

// GetHistory GET /api/v1/chat/history
func (h *ChatHandler) GetHistory(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	conversationID := c.Query("conversation_id")
	if conversationID == "" {
		conversationID = userID
	}

	limit := session.MaxChatHistory
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	history := h.sessions.GetChatHistory(c.Request.Context(), conversationID, limit)
	messages := make([]ChatMessage, 0, len(history))
	for _, msg := range history {
		messages = append(messages, ChatMessage{
			ID:        msg.ID,
			Role:      string(msg.Role),
			Content:   msg.Content,
			Timestamp: formatTime(msg.Timestamp),
			Metadata:  msg.Metadata,
		})
	}

	c.JSON(http.StatusOK, ChatHistoryResponse{
		ConversationID: conversationID,
		Messages:       messages,
	})
}

// ClearHistory DELETE /api/v1/chat/history
func (h *ChatHandler) ClearHistory(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	conversationID := c.Query("conversation_id")
	if conversationID == "" {
		conversationID = userID
	}

	h.sessions.ClearChatHistory(c.Request.Context(), conversationID)
	c.JSON(http.StatusOK, StatusResponse{Status: "cleared"})
}
