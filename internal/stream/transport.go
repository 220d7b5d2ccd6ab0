// Package stream implements the live response channels for a chat turn: a
// bidirectional WebSocket primary and a Server-Sent Events fallback. Both
// deliver incremental text deltas and end with a terminal event carrying
// the authoritative conversation id and message list.
package stream

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/eloquent-ai/operator-client/internal/api"
	"github.com/eloquent-ai/operator-client/internal/model"
)

// Request describes one chat turn on the wire. An empty ConversationID
// addresses a new conversation. TurnID lets the backend deduplicate a turn
// retried on the fallback transport.
type Request struct {
	ConversationID string
	Message        string
	UserID         string
	TurnID         string
	Token          string
}

// Result is a turn's terminal payload.
type Result struct {
	ConversationID string
	Messages       []model.Message
}

// Transport runs one turn to its terminal event, invoking onDelta for each
// incremental fragment. Delivery is serialized: onDelta is never called
// concurrently and never after Run returns.
type Transport interface {
	Name() string
	Run(ctx context.Context, req Request, onDelta func(delta string)) (*Result, error)
}

// ErrChannelClosed reports a channel that failed or closed before any
// terminal event, distinct from an explicit backend error event.
var ErrChannelClosed = errors.New("channel closed before terminal event")

// BackendError is an explicit "error" event from the backend. It is a
// terminal outcome: the backend saw the turn, so the fallback transport
// must not retry it.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	return e.Message
}

// frame is a decoded structured event from either transport.
type frame struct {
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Delta   string          `json:"delta"`
}

// decodeFrame attempts to read a payload as a structured event. Anything
// that is not a JSON object is a plain text delta.
func decodeFrame(payload []byte) (frame, bool) {
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return frame{}, false
	}
	return f, true
}

// resolveDone extracts the terminal result from a done/guardrails frame,
// whose payload may sit under data or inline in the frame itself.
func resolveDone(f frame, payload []byte) *Result {
	body := payload
	if len(f.Data) > 0 {
		body = f.Data
	}
	convID, messages := api.DecodeChatResponse(body)
	return &Result{ConversationID: convID, Messages: messages}
}

// resolveError extracts the carried message from an error frame.
func resolveError(f frame) *BackendError {
	msg := f.Message
	if len(f.Data) > 0 {
		var ev model.ErrorEvent
		if err := json.Unmarshal(f.Data, &ev); err == nil && ev.Message != "" {
			msg = ev.Message
		} else if msg == "" {
			// Plain string data is also accepted.
			var s string
			if err := json.Unmarshal(f.Data, &s); err == nil {
				msg = s
			}
		}
	}
	if msg == "" {
		msg = "The assistant reported an error."
	}
	return &BackendError{Message: msg}
}
