package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cea/internal/monitor"
)

const (
	// 缓冲模式响应体上限
	maxBufferedBody = 4 << 20
	// 单个 SSE 帧上限
	maxEventSize = 1 << 20
)

// Backend relays chat requests to the external agent service. It holds no
// per-request state; every call is an independent pipeline governed by one
// timeout derived from the caller's context.
type Backend struct {
	baseURL       string
	client        *http.Client
	chatTimeout   time.Duration
	streamTimeout time.Duration
	logger        *slog.Logger
}

func NewBackend(baseURL string, chatTimeout, streamTimeout time.Duration, logger *slog.Logger) *Backend {
	return &Backend{
		baseURL:       strings.TrimRight(baseURL, "/"),
		client:        &http.Client{}, // 超时由每个请求的 context 控制
		chatTimeout:   chatTimeout,
		streamTimeout: streamTimeout,
		logger:        logger.With("component", "relay"),
	}
}

// ChatRequest is the outbound message to the agent backend.
type ChatRequest struct {
	Message        string
	UserID         string
	ConversationID string
	Metadata       map[string]any
}

// Result summarizes one relayed exchange. For the streaming path Content is
// the accumulated text of content events so the caller can persist the
// assistant turn.
type Result struct {
	Content        string
	ConversationID string
	Events         int
	Completed      bool
	ProcessingTime time.Duration
	Metadata       map[string]any
}

// Sink receives each re-encoded frame. A sink error aborts the relay loop
// (client disconnected or cannot keep up).
type Sink func(frame []byte) error

func (b *Backend) post(ctx context.Context, req ChatRequest, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(map[string]any{
		"message":         req.Message,
		"user_id":         req.UserID,
		"conversation_id": req.ConversationID,
		"stream":          stream,
		"metadata":        req.Metadata,
	})
	if err != nil {
		return nil, &Error{Reason: ReasonInternal, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Reason: ReasonInternal, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, classify(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &Error{Reason: ReasonUpstream, Status: resp.StatusCode}
	}
	return resp, nil
}

// Chat is the buffered path: one deadline around the whole call, the full
// backend response translated into a single Result.
func (b *Backend) Chat(ctx context.Context, req ChatRequest) (*Result, error) {
	monitor.RelayRequestsTotal.Inc()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, b.chatTimeout)
	defer cancel()

	resp, err := b.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBufferedBody)).Decode(&payload); err != nil {
		return nil, &Error{Reason: ReasonInternal, Err: fmt.Errorf("decode backend response: %w", err)}
	}

	monitor.RelayUpstreamLatency.Observe(time.Since(start).Seconds())
	return b.translate(req, payload, start)
}

// translate maps a buffered backend payload onto the caller-facing shape,
// tolerating the several field names the backend uses for the response text.
func (b *Backend) translate(req ChatRequest, payload map[string]any, start time.Time) (*Result, error) {
	content, ok := extractContent(payload)
	if !ok {
		return nil, &Error{Reason: ReasonInternal, Err: errors.New("backend response carries no recognizable content field")}
	}

	conversationID := req.ConversationID
	if s, ok := payload["conversation_id"].(string); ok && s != "" {
		conversationID = s
	}
	metadata, _ := payload["metadata"].(map[string]any)

	return &Result{
		Content:        content,
		ConversationID: conversationID,
		Completed:      true,
		ProcessingTime: time.Since(start),
		Metadata:       metadata,
	}, nil
}

// StreamChat is the streaming path: each upstream SSE frame is decoded,
// enriched with a timestamp and a frontend_action hint, re-encoded and handed
// to sink immediately. The loop stops at the first terminal event without
// waiting for upstream EOF. 单帧解析失败不致命：该帧原样转发，流继续。
func (b *Backend) StreamChat(ctx context.Context, req ChatRequest, sink Sink) (*Result, error) {
	monitor.RelayRequestsTotal.Inc()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, b.streamTimeout)
	defer cancel()

	resp, err := b.post(ctx, req, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// 后端没有按 SSE 响应时退化为缓冲翻译，向客户端合成单个 completion 帧
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		var payload map[string]any
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBufferedBody)).Decode(&payload); err != nil {
			return nil, &Error{Reason: ReasonInternal, Err: fmt.Errorf("decode backend response: %w", err)}
		}
		result, err := b.translate(req, payload, start)
		if err != nil {
			return nil, err
		}

		frame, _ := json.Marshal(map[string]any{
			"type":            EventCompletion,
			"data":            map[string]any{"content": result.Content},
			"timestamp":       time.Now().Format(time.RFC3339Nano),
			"frontend_action": "finalize",
		})
		if err := sink(frame); err != nil {
			return result, err
		}
		result.Events = 1
		monitor.RelayEventsForwarded.Inc()
		return result, nil
	}

	monitor.RelayActiveStreams.Inc()
	defer monitor.RelayActiveStreams.Dec()

	result := &Result{ConversationID: req.ConversationID}
	var content strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var event map[string]any
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			b.logger.Warn("Forwarding unparseable frame verbatim", "error", err)
			if err := sink([]byte(payload)); err != nil {
				return result, err
			}
			result.Events++
			monitor.RelayEventsForwarded.Inc()
			continue
		}

		eventType, _ := event["type"].(string)
		event["timestamp"] = time.Now().Format(time.RFC3339Nano)
		if action, ok := frontendAction(eventType); ok {
			event["frontend_action"] = action
		}

		frame, err := json.Marshal(event)
		if err != nil {
			frame = []byte(payload)
		}
		if err := sink(frame); err != nil {
			return result, err
		}
		result.Events++
		monitor.RelayEventsForwarded.Inc()

		switch eventType {
		case EventContent, EventContentDelta:
			if s, ok := eventText(event); ok {
				content.WriteString(s)
			}
		case EventCompletion:
			// 完整文本只在 completion 事件里出现的后端
			if content.Len() == 0 {
				if s, ok := eventText(event); ok {
					content.WriteString(s)
				}
			}
		}

		if isTerminal(eventType) {
			result.Completed = eventType == EventCompletion
			result.Content = content.String()
			result.ProcessingTime = time.Since(start)
			return result, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return result, classify(err)
	}

	// 上游在终止事件之前正常结束了流
	result.Content = content.String()
	result.ProcessingTime = time.Since(start)
	return result, nil
}
