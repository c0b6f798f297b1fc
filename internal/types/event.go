package types

import "time"

// EventType names a unified stream event. It doubles as the SSE event name.
type EventType string

const (
	EventStart   EventType = "start"
	EventContent EventType = "content"
	EventUsage   EventType = "usage"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// StreamEvent is the single caller-facing streaming event. It holds no
// provider-specific data.
type StreamEvent struct {
	Type    EventType      `json:"type"`
	Created *time.Time     `json:"created,omitempty"`
	Content []ContentBlock `json:"content,omitempty"`
	Usage   *CombinedUsage `json:"usage,omitempty"`
	Message string         `json:"message,omitempty"`
	Code    int            `json:"code,omitempty"`
}

func StartEvent(created time.Time) StreamEvent {
	return StreamEvent{Type: EventStart, Created: &created}
}

func ContentEvent(blocks ...ContentBlock) StreamEvent {
	return StreamEvent{Type: EventContent, Content: blocks}
}

func UsageEvent(usage CombinedUsage) StreamEvent {
	return StreamEvent{Type: EventUsage, Usage: &usage}
}

func DoneEvent() StreamEvent {
	return StreamEvent{Type: EventDone}
}

func ErrorEvent(message string, code int) StreamEvent {
	return StreamEvent{Type: EventError, Message: message, Code: code}
}
