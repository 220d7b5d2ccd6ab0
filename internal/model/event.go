package model

// Stream event names shared by the WebSocket and SSE transports. A frame
// with no event name carries a plain text delta.
const (
	EventDone       = "done"
	EventGuardrails = "guardrails"
	EventError      = "error"
)

// DeltaEvent is the data payload of an unnamed stream event.
type DeltaEvent struct {
	Delta string `json:"delta"`
}

// ErrorEvent is the data payload of an "error" stream event.
type ErrorEvent struct {
	Message string `json:"message"`
}
