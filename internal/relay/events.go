package relay

// Stream event types emitted by the agent backend.
const (
	EventStart            = "start"
	EventContent          = "content"
	EventContentDelta     = "content_delta"
	EventMilestone        = "milestone"
	EventSpecialistUpdate = "specialist_update"
	EventUserInputNeeded  = "user_input_needed"
	EventCompletion       = "completion"
	EventError            = "error"
)

// isTerminal reports whether no further events will follow. The relay closes
// the upstream connection as soon as it sees one of these.
func isTerminal(eventType string) bool {
	return eventType == EventCompletion || eventType == EventError
}

// frontendAction maps an event type to the UI hint attached to each forwarded
// frame. Unknown types are forwarded without a hint.
func frontendAction(eventType string) (string, bool) {
	switch eventType {
	case EventStart:
		return "show_typing", true
	case EventContent, EventContentDelta:
		return "append_content", true
	case EventMilestone:
		return "update_progress", true
	case EventSpecialistUpdate:
		return "update_specialist", true
	case EventUserInputNeeded:
		return "request_input", true
	case EventCompletion:
		return "finalize", true
	case EventError:
		return "show_error", true
	default:
		return "", false
	}
}

// contentFields is the ordered fallback list of backend field names that can
// carry the response text. 后端的不同 agent 返回的字段名并不统一。
var contentFields = []string{"response", "content", "message", "text", "answer", "output"}

// extractContent pulls the response text out of a backend payload, trying
// each accepted field name in priority order.
func extractContent(payload map[string]any) (string, bool) {
	for _, field := range contentFields {
		if v, ok := payload[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// eventText extracts the text carried by a content-bearing event, looking in
// the nested data object first and the event envelope second.
func eventText(event map[string]any) (string, bool) {
	if data, ok := event["data"].(map[string]any); ok {
		if s, ok := extractContent(data); ok {
			return s, true
		}
	}
	return extractContent(event)
}
