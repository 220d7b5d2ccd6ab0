package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/eloquent-ai/operator-client/internal/api"
	"github.com/eloquent-ai/operator-client/internal/model"
	"github.com/eloquent-ai/operator-client/pkg/logger"
	"github.com/eloquent-ai/operator-client/pkg/metrics"
)

// SSETransport is the fallback turn transport: one HTTP POST answered with
// a text/event-stream body, or a single JSON body when the backend
// degrades to non-streaming.
type SSETransport struct {
	chatBase string
	http     *http.Client
	log      *logger.Logger
}

// NewSSETransport creates the SSE transport for a chat API base URL. The
// client must not carry a fixed timeout; the per-turn context bounds the
// stream instead.
func NewSSETransport(chatBase string, httpClient *http.Client, log *logger.Logger) *SSETransport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &SSETransport{chatBase: chatBase, http: httpClient, log: log}
}

// Name implements Transport.
func (t *SSETransport) Name() string { return "sse" }

type ssePayload struct {
	ConversationID *string `json:"conversation_id"`
	Message        string  `json:"message"`
	UserID         *string `json:"user_id,omitempty"`
	TurnID         string  `json:"turn_id,omitempty"`
}

// Run implements Transport.
func (t *SSETransport) Run(ctx context.Context, req Request, onDelta func(string)) (*Result, error) {
	payload := ssePayload{Message: req.Message, TurnID: req.TurnID}
	if req.ConversationID != "" {
		payload.ConversationID = &req.ConversationID
	}
	if req.UserID != "" {
		payload.UserID = &req.UserID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode stream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.chatBase+"/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	resp, err := t.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("stream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("stream request: status %d", resp.StatusCode)
	}

	metrics.IncrementStreams()
	defer metrics.DecrementStreams()

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		// Degraded non-streaming response: the whole turn in one body.
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		convID, messages := api.DecodeChatResponse(raw)
		return &Result{ConversationID: convID, Messages: messages}, nil
	}

	return t.consume(resp.Body, req, onDelta)
}

// consume reads the event-stream body incrementally: bytes are buffered,
// line endings normalized, and blocks split on blank lines. A stream that
// ends without a terminal event resolves with the originally-known
// conversation id and no messages, keeping partially streamed content
// instead of failing the turn.
func (t *SSETransport) consume(body io.Reader, req Request, onDelta func(string)) (*Result, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 4096)
	pendingCR := false

	for {
		n, err := body.Read(chunk)
		if n > 0 {
			data := chunk[:n]
			if pendingCR {
				data = append([]byte{'\r'}, data...)
				pendingCR = false
			}
			// A CRLF split across two reads must not survive
			// normalization; hold a trailing CR until its pair arrives.
			if data[len(data)-1] == '\r' {
				pendingCR = true
				data = data[:len(data)-1]
			}
			buf.Write(bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n")))

			for {
				data := buf.Bytes()
				idx := bytes.Index(data, []byte("\n\n"))
				if idx < 0 {
					break
				}
				block := string(data[:idx])
				buf.Next(idx + 2)

				result, terminalErr, terminal := t.handleBlock(block, onDelta)
				if terminal {
					return result, terminalErr
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.log.Debug("event stream read ended", zap.Error(err))
			}
			return &Result{ConversationID: req.ConversationID}, nil
		}
	}
}

// handleBlock processes one event block. terminal is true when the block
// ends the turn, with either a result or an error.
func (t *SSETransport) handleBlock(block string, onDelta func(string)) (*Result, error, bool) {
	event, data := parseBlock(block)
	switch event {
	case "":
		if data == "" {
			return nil, nil, false
		}
		var delta model.DeltaEvent
		if err := json.Unmarshal([]byte(data), &delta); err == nil && delta.Delta != "" {
			onDelta(delta.Delta)
		} else {
			// Malformed delta payloads degrade to plain text.
			onDelta(data)
		}
		metrics.StreamDeltasTotal.Inc()
		return nil, nil, false

	case model.EventDone, model.EventGuardrails:
		convID, messages := api.DecodeChatResponse([]byte(data))
		return &Result{ConversationID: convID, Messages: messages}, nil, true

	case model.EventError:
		var ev model.ErrorEvent
		msg := "The assistant reported an error."
		if err := json.Unmarshal([]byte(data), &ev); err == nil && ev.Message != "" {
			msg = ev.Message
		}
		return nil, &BackendError{Message: msg}, true

	default:
		// Unknown named events (heartbeats and the like) are skipped.
		return nil, nil, false
	}
}

// parseBlock splits an event block into its optional event name and the
// joined data payload.
func parseBlock(block string) (event, data string) {
	var dataLines []string
	for _, line := range strings.Split(block, "\n") {
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return event, strings.Join(dataLines, "\n")
}
