package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eloquent-ai/operator-client/pkg/logger"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsServer scripts the handler side of one turn: read the hello, then run
// the supplied exchange against the open connection.
func wsServer(t *testing.T, exchange func(t *testing.T, r *http.Request, conn *websocket.Conn, hello map[string]string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var hello map[string]string
		require.NoError(t, conn.ReadJSON(&hello))
		exchange(t, r, conn, hello)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsTransportFor(srv *httptest.Server) *WSTransport {
	return NewWSTransport("ws"+strings.TrimPrefix(srv.URL, "http"), logger.NewNop())
}

func TestWSDeltasThenDone(t *testing.T) {
	srv := wsServer(t, func(t *testing.T, r *http.Request, conn *websocket.Conn, hello map[string]string) {
		assert.Equal(t, "/chat/ws/c1", r.URL.Path)
		assert.Equal(t, "hi", hello["message"])
		assert.Equal(t, "t-1", hello["turn_id"])

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("Hel")))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("lo")))
		require.NoError(t, conn.WriteJSON(map[string]any{
			"event": "done",
			"data": map[string]any{
				"conversation_id": "c1",
				"messages": []map[string]any{
					{"id": "m", "role": "assistant", "content": "Hello"},
				},
			},
		}))
	})

	var deltas []string
	result, err := wsTransportFor(srv).Run(context.Background(),
		Request{ConversationID: "c1", Message: "hi", TurnID: "t-1"},
		func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, "c1", result.ConversationID)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "Hello", result.Messages[0].Content)
}

func TestWSNewConversationUsesSentinelPath(t *testing.T) {
	srv := wsServer(t, func(t *testing.T, r *http.Request, conn *websocket.Conn, hello map[string]string) {
		assert.Equal(t, "/chat/ws/0", r.URL.Path)
		assert.Equal(t, "tok", r.URL.Query().Get("token"))
		require.NoError(t, conn.WriteJSON(map[string]any{
			"event": "done",
			"data":  map[string]any{"conversation_id": "fresh"},
		}))
	})

	result, err := wsTransportFor(srv).Run(context.Background(),
		Request{Message: "hi", Token: "tok"}, func(string) {})
	require.NoError(t, err)
	assert.Equal(t, "fresh", result.ConversationID)
}

func TestWSGuardrailsIsTerminal(t *testing.T) {
	srv := wsServer(t, func(t *testing.T, r *http.Request, conn *websocket.Conn, hello map[string]string) {
		require.NoError(t, conn.WriteJSON(map[string]any{
			"event": "guardrails",
			"data": map[string]any{
				"conversation_id": "c1",
				"messages": []map[string]any{
					{"id": "m", "role": "assistant", "content": "I can't share that."},
				},
			},
		}))
	})

	result, err := wsTransportFor(srv).Run(context.Background(),
		Request{ConversationID: "c1", Message: "secret"}, func(string) {})
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "I can't share that.", result.Messages[0].Content)
}

func TestWSErrorEvent(t *testing.T) {
	srv := wsServer(t, func(t *testing.T, r *http.Request, conn *websocket.Conn, hello map[string]string) {
		require.NoError(t, conn.WriteJSON(map[string]any{
			"event": "error",
			"data":  map[string]any{"message": "backend exploded"},
		}))
	})

	_, err := wsTransportFor(srv).Run(context.Background(),
		Request{ConversationID: "c1", Message: "hi"}, func(string) {})
	var backendErr *BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, "backend exploded", backendErr.Message)
}

func TestWSCloseBeforeTerminal(t *testing.T) {
	srv := wsServer(t, func(t *testing.T, r *http.Request, conn *websocket.Conn, hello map[string]string) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("partial")))
		// Drop the connection without a terminal event.
		conn.Close()
	})

	var deltas []string
	_, err := wsTransportFor(srv).Run(context.Background(),
		Request{ConversationID: "c1", Message: "hi"},
		func(d string) { deltas = append(deltas, d) })
	require.ErrorIs(t, err, ErrChannelClosed)
	assert.Equal(t, []string{"partial"}, deltas)
}

func TestWSDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	tr := NewWSTransport("ws"+strings.TrimPrefix(srv.URL, "http"), logger.NewNop())
	_, err := tr.Run(context.Background(), Request{Message: "hi"}, func(string) {})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrChannelClosed)
}

func TestWSContextDeadlineBoundsRead(t *testing.T) {
	srv := wsServer(t, func(t *testing.T, r *http.Request, conn *websocket.Conn, hello map[string]string) {
		// Never answer; the client deadline must fire.
		time.Sleep(2 * time.Second)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := wsTransportFor(srv).Run(ctx, Request{ConversationID: "c1", Message: "hi"}, func(string) {})
	require.ErrorIs(t, err, ErrChannelClosed)
}

func TestDecodeFrame(t *testing.T) {
	t.Run("plain text is not a frame", func(t *testing.T) {
		_, ok := decodeFrame([]byte("Hello there"))
		assert.False(t, ok)
	})

	t.Run("json object decodes", func(t *testing.T) {
		f, ok := decodeFrame([]byte(`{"event":"done","data":{"conversation_id":"c"}}`))
		require.True(t, ok)
		assert.Equal(t, "done", f.Event)
	})
}

func TestResolveErrorFallbacks(t *testing.T) {
	t.Run("message field", func(t *testing.T) {
		f, _ := decodeFrame([]byte(`{"event":"error","message":"boom"}`))
		assert.Equal(t, "boom", resolveError(f).Message)
	})

	t.Run("string data", func(t *testing.T) {
		f, _ := decodeFrame([]byte(`{"event":"error","data":"boom"}`))
		assert.Equal(t, "boom", resolveError(f).Message)
	})

	t.Run("empty gets default", func(t *testing.T) {
		f, _ := decodeFrame([]byte(`{"event":"error"}`))
		assert.NotEmpty(t, resolveError(f).Message)
	})
}
