package stream

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eloquent-ai/operator-client/internal/model"
	"github.com/eloquent-ai/operator-client/pkg/logger"
	"github.com/eloquent-ai/operator-client/pkg/metrics"
)

// WSTransport is the primary turn transport: a conversation-scoped
// WebSocket. New conversations address the sentinel id "0". The client
// sends the outgoing message once on open; the server answers with raw
// text deltas and a final JSON frame.
type WSTransport struct {
	wsBase string
	dialer *websocket.Dialer
	log    *logger.Logger
}

// NewWSTransport creates the WebSocket transport for a ws(s) base URL.
func NewWSTransport(wsBase string, log *logger.Logger) *WSTransport {
	return &WSTransport{
		wsBase: wsBase,
		dialer: websocket.DefaultDialer,
		log:    log,
	}
}

// Name implements Transport.
func (t *WSTransport) Name() string { return "websocket" }

// Run implements Transport.
func (t *WSTransport) Run(ctx context.Context, req Request, onDelta func(string)) (*Result, error) {
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = "0"
	}
	endpoint := fmt.Sprintf("%s/chat/ws/%s", t.wsBase, url.PathEscape(conversationID))
	if req.Token != "" {
		endpoint += "?token=" + url.QueryEscape(req.Token)
	}

	conn, resp, err := t.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	metrics.IncrementStreams()
	defer metrics.DecrementStreams()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	hello := map[string]string{"message": req.Message}
	if req.TurnID != "" {
		hello["turn_id"] = req.TurnID
	}
	if err := conn.WriteJSON(hello); err != nil {
		return nil, fmt.Errorf("websocket send: %w", err)
	}

	// Frames are processed strictly in arrival order; content mutation
	// through onDelta is race-free for the single in-flight turn.
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.log.Debug("websocket closed abnormally", zap.Error(err))
			}
			return nil, fmt.Errorf("%w: %w", ErrChannelClosed, err)
		}

		f, ok := decodeFrame(payload)
		if !ok {
			onDelta(string(payload))
			metrics.StreamDeltasTotal.Inc()
			continue
		}

		switch f.Event {
		case model.EventDone, model.EventGuardrails:
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return resolveDone(f, payload), nil
		case model.EventError:
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil, resolveError(f)
		default:
			// A JSON frame without a recognized event is still delta
			// content as far as this client is concerned.
			if f.Delta != "" {
				onDelta(f.Delta)
			} else {
				onDelta(string(payload))
			}
			metrics.StreamDeltasTotal.Inc()
		}
	}
}
