package devserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eloquent-ai/operator-client/internal/model"
)

// wsHello is the single frame the client sends after connecting.
type wsHello struct {
	Message string `json:"message"`
	TurnID  string `json:"turn_id"`
}

// handleWebSocket serves GET /chat/ws/{id}. The conversation id "0"
// addresses a new conversation. Deltas go out as raw text frames; the
// terminal event is a JSON frame.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	var userID string
	if token := r.URL.Query().Get("token"); token != "" {
		claims, err := s.parseToken(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		userID = claims.Subject
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))

	var hello wsHello
	if err := conn.ReadJSON(&hello); err != nil {
		s.log.Debug("websocket hello read failed", zap.Error(err))
		return
	}
	if hello.Message == "" {
		s.writeWSError(conn, "message is required")
		return
	}

	req := &chatTurnRequest{Message: hello.Message, TurnID: hello.TurnID}
	if conversationID != "" && conversationID != "0" {
		req.ConversationID = &conversationID
	}
	if userID != "" {
		req.UserID = &userID
	}

	emit := func(delta string) error {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, []byte(delta))
	}

	result, guarded, err := s.runTurn(r.Context(), req, emit)
	if err != nil {
		s.log.Warn("websocket turn failed", zap.Error(err))
		s.writeWSError(conn, "The assistant could not complete the response.")
		return
	}

	terminal := model.EventDone
	if guarded {
		terminal = model.EventGuardrails
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(map[string]interface{}{
		"event": terminal,
		"data": map[string]interface{}{
			"conversation_id": result.ConversationID,
			"messages":        toWire(result.Messages),
		},
	}); err != nil {
		s.log.Debug("websocket terminal write failed", zap.Error(err))
		return
	}

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *Server) writeWSError(conn *websocket.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	conn.WriteJSON(map[string]interface{}{
		"event": model.EventError,
		"data":  model.ErrorEvent{Message: message},
	})
}
