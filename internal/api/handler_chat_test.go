package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cea/internal/api"
	"cea/internal/config"
	"cea/internal/relay"
	"cea/internal/session"
)

// stubCache 是 session.Cache 的最小内存替身，handler 测试不需要模拟时钟。
type stubCache struct {
	values map[string][]byte
	lists  map[string][][]byte
	sets   map[string]map[string]bool
}

var _ session.Cache = (*stubCache)(nil)

func newStubCache() *stubCache {
	return &stubCache{
		values: make(map[string][]byte),
		lists:  make(map[string][][]byte),
		sets:   make(map[string]map[string]bool),
	}
}

func (s *stubCache) Set(_ context.Context, key string, value any, _ time.Duration) bool {
	data, err := json.Marshal(value)
	if err != nil {
		return false
	}
	s.values[key] = data
	return true
}

func (s *stubCache) Get(_ context.Context, key string, dest any) bool {
	data, ok := s.values[key]
	if !ok {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}

func (s *stubCache) Delete(_ context.Context, key string) bool {
	_, v := s.values[key]
	_, l := s.lists[key]
	delete(s.values, key)
	delete(s.lists, key)
	delete(s.sets, key)
	return v || l
}

func (s *stubCache) ListPush(_ context.Context, key string, item any, _ time.Duration) int64 {
	data, err := json.Marshal(item)
	if err != nil {
		return 0
	}
	s.lists[key] = append(s.lists[key], data)
	return int64(len(s.lists[key]))
}

func (s *stubCache) ListRange(_ context.Context, key string, start, stop int64) []string {
	list := s.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return nil
	}
	out := make([]string, 0, stop-start+1)
	for _, item := range list[start : stop+1] {
		out = append(out, string(item))
	}
	return out
}

func (s *stubCache) Increment(_ context.Context, key string, by int64, _ time.Duration) int64 {
	var current int64
	if data, ok := s.values[key]; ok {
		json.Unmarshal(data, &current)
	}
	current += by
	s.values[key] = []byte(fmt.Sprint(current))
	return current
}

func (s *stubCache) SetAdd(_ context.Context, key, member string, _ time.Duration) bool {
	if s.sets[key] == nil {
		s.sets[key] = make(map[string]bool)
	}
	s.sets[key][member] = true
	return true
}

func (s *stubCache) SetMembers(_ context.Context, key string) []string {
	members := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		members = append(members, m)
	}
	return members
}

func (s *stubCache) SetRemove(_ context.Context, key string, members ...string) bool {
	for _, m := range members {
		delete(s.sets[key], m)
	}
	return true
}

func (s *stubCache) Exists(_ context.Context, key string) bool {
	_, v := s.values[key]
	_, l := s.lists[key]
	return v || l
}

type testEnv struct {
	router   *gin.Engine
	sessions *session.Manager
	hits     *atomic.Int64
}

func newTestEnv(t *testing.T, upstream http.HandlerFunc, maxRequests int64) *testEnv {
	t.Helper()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		upstream(w, r)
	}))
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.NewManager(newStubCache(), nil, logger)
	backend := relay.NewBackend(srv.URL, 300*time.Millisecond, 300*time.Millisecond, logger)

	router := api.NewRouter(backend, sessions, config.RateLimitConfig{
		Window:      time.Minute,
		MaxRequests: maxRequests,
	})

	return &testEnv{router: router, sessions: sessions, hits: &hits}
}

func (e *testEnv) do(method, path, userID string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func jsonUpstream(payload map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(payload)
	}
}

func TestChatRequiresIdentity(t *testing.T) {
	env := newTestEnv(t, jsonUpstream(map[string]any{"response": "hi"}), 10)

	w := env.do(http.MethodPost, "/api/v1/chat", "", map[string]any{"message": "hello"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, env.hits.Load())
}

func TestChatEmptyMessageNeverReachesUpstream(t *testing.T) {
	env := newTestEnv(t, jsonUpstream(map[string]any{"response": "hi"}), 10)

	// 纯空白消息
	w := env.do(http.MethodPost, "/api/v1/chat", "u1", map[string]any{"message": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 缺失消息
	w = env.do(http.MethodPost, "/api/v1/chat", "u1", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Zero(t, env.hits.Load(), "validation failures must not trigger a backend call")
}

func TestChatBuffered(t *testing.T) {
	env := newTestEnv(t, jsonUpstream(map[string]any{"answer": "Try the solar fellowship."}), 10)

	w := env.do(http.MethodPost, "/api/v1/chat", "u1", map[string]any{
		"message": "any programs for me?",
		"stream":  false,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Try the solar fellowship.", resp.Content)
	assert.Equal(t, "assistant", resp.Role)
	assert.Equal(t, "u1", resp.ConversationID)

	// 用户和助手消息都进了历史
	history := env.sessions.GetChatHistory(context.Background(), "u1", 0)
	require.Len(t, history, 2)
	assert.Equal(t, session.RoleUser, history[0].Role)
	assert.Equal(t, session.RoleAssistant, history[1].Role)
	assert.Equal(t, "Try the solar fellowship.", history[1].Content)
}

func TestChatStreaming(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range []string{
			`{"type":"start"}`,
			`{"type":"content","data":{"content":"Wind jobs"}}`,
			`{"type":"completion"}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		}
	}, 10)

	w := env.do(http.MethodPost, "/api/v1/chat", "u1", map[string]any{"message": "wind jobs?"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	frames := parseSSEFrames(t, w.Body.String())
	require.Len(t, frames, 3)
	assert.Equal(t, "start", frames[0]["type"])
	assert.Equal(t, "completion", frames[2]["type"])
	for _, frame := range frames {
		assert.NotEmpty(t, frame["timestamp"])
		assert.NotEmpty(t, frame["frontend_action"])
	}

	// 流式完成后助手回复也写入历史
	history := env.sessions.GetChatHistory(context.Background(), "u1", 0)
	require.Len(t, history, 2)
	assert.Equal(t, "Wind jobs", history[1].Content)
}

func TestChatStreamingUpstreamTimeout(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}, 10)

	w := env.do(http.MethodPost, "/api/v1/chat", "u1", map[string]any{"message": "hello"})

	frames := parseSSEFrames(t, w.Body.String())
	require.Len(t, frames, 1, "timeout must produce exactly one synthetic error event")
	assert.Equal(t, "error", frames[0]["type"])

	data := frames[0]["data"].(map[string]any)
	assert.Equal(t, "timeout", data["reason"])
	assert.Contains(t, data["message"], "try again", "user gets a retry suggestion, not an error code")
}

func TestChatBufferedUpstreamErrors(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
			// Drain the body so the server can detect the client's disconnect
			// and cancel the request context; otherwise srv.Close deadlocks.
			io.Copy(io.Discard, r.Body)
			<-r.Context().Done()
		}, 10)

		w := env.do(http.MethodPost, "/api/v1/chat", "u1", map[string]any{"message": "hello", "stream": false})
		assert.Equal(t, http.StatusGatewayTimeout, w.Code)

		var resp api.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Contains(t, resp.Error, "try again")
	})

	t.Run("upstream status forwarded", func(t *testing.T) {
		env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusServiceUnavailable)
		}, 10)

		w := env.do(http.MethodPost, "/api/v1/chat", "u1", map[string]any{"message": "hello", "stream": false})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestChatRateLimited(t *testing.T) {
	env := newTestEnv(t, jsonUpstream(map[string]any{"response": "ok"}), 2)

	for i := 0; i < 2; i++ {
		w := env.do(http.MethodPost, "/api/v1/chat", "u1", map[string]any{"message": "hello", "stream": false})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := env.do(http.MethodPost, "/api/v1/chat", "u1", map[string]any{"message": "hello", "stream": false})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, int64(2), env.hits.Load(), "rate-limited request must not reach the backend")

	// 其他用户不受影响
	w = env.do(http.MethodPost, "/api/v1/chat", "u2", map[string]any{"message": "hello", "stream": false})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChatHistoryEndpoints(t *testing.T) {
	env := newTestEnv(t, jsonUpstream(map[string]any{"response": "ok"}), 100)

	for i := 0; i < 3; i++ {
		env.do(http.MethodPost, "/api/v1/chat", "u1", map[string]any{"message": fmt.Sprintf("q%d", i), "stream": false})
	}

	w := env.do(http.MethodGet, "/api/v1/chat/history?limit=4", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.ChatHistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "u1", resp.ConversationID)
	assert.Len(t, resp.Messages, 4)

	w = env.do(http.MethodDelete, "/api/v1/chat/history", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/v1/chat/history", "u1", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Messages)
}

func parseSSEFrames(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
		frames = append(frames, frame)
	}
	return frames
}
