package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eloquent-ai/operator-client/internal/model"
	"github.com/eloquent-ai/operator-client/internal/summary"
)

// wireMessage is the backend's message serialization, which differs from
// the client-side shape in its timestamp field name.
type wireMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at,omitempty"`
}

func toWire(msgs []model.Message) []wireMessage {
	out := make([]wireMessage, len(msgs))
	for i, m := range msgs {
		out[i] = wireMessage{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
	}
	return out
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if creds.Email == "" || creds.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	a, created := s.state.upsertAccount(creds.Name, creds.Email, creds.Password)
	if !created {
		writeError(w, http.StatusConflict, "An account with this email already exists")
		return
	}
	s.respondAuth(w, a)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	a, ok := s.state.authenticate(creds.Email, creds.Password)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	s.respondAuth(w, a)
}

func (s *Server) respondAuth(w http.ResponseWriter, a *account) {
	token, err := s.mintToken(a)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"access_token": token,
			"user": map[string]interface{}{
				"id":   a.ID,
				"name": a.Name,
			},
		},
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.bearerClaims(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": claims.Subject,
		"user": map[string]interface{}{
			"id":   claims.Subject,
			"name": claims.Name,
		},
	})
}

func (s *Server) bearerClaims(r *http.Request) (*authClaims, bool) {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, false
	}
	claims, err := s.parseToken(parts[1])
	if err != nil {
		return nil, false
	}
	return claims, true
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")

	items := make([]map[string]interface{}, 0)
	for _, c := range s.state.listFor(userID) {
		sum := summary.Build(visibleMessages(s.state.snapshot(c)), c.ID)
		items = append(items, map[string]interface{}{
			"id":          c.ID,
			"short_name":  sum.Title,
			"description": sum.LastMessagePreview,
			"created_at":  c.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{"items": items},
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	c, ok := s.state.lookup(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	// The system message is included on purpose; clients filter it.
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{"messages": toWire(s.state.snapshot(c))},
	})
}

type chatTurnRequest struct {
	ConversationID *string `json:"conversation_id"`
	Message        string  `json:"message"`
	UserID         *string `json:"user_id"`
	TurnID         string  `json:"turn_id"`
}

func (req *chatTurnRequest) conversationID() string {
	if req.ConversationID == nil {
		return ""
	}
	return *req.ConversationID
}

func (req *chatTurnRequest) userID() string {
	if req.UserID == nil {
		return ""
	}
	return *req.UserID
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req chatTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	result, _, err := s.runTurn(r.Context(), &req, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate response")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"conversation_id": result.ConversationID,
			"messages":        toWire(result.Messages),
		},
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.state.remove(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	c, ok := s.state.lookup(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	msgs := visibleMessages(s.state.snapshot(c))
	sum := summary.Build(msgs, c.ID)
	text := fmt.Sprintf("**%s**\n\n%d messages. Latest: %s", sum.Title, len(msgs), sum.LastMessagePreview)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{"summary": text},
	})
}

// handleStream answers a turn over SSE, or with a single JSON body when
// the caller does not accept an event stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req chatTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.handleCreateFromStream(w, r, &req)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emit := func(delta string) error {
		return sendSSEEvent(w, flusher, "", model.DeltaEvent{Delta: delta})
	}

	result, guarded, err := s.runTurn(r.Context(), &req, emit)
	if err != nil {
		s.log.Warn("turn failed", zap.Error(err))
		sendSSEEvent(w, flusher, model.EventError, model.ErrorEvent{
			Message: "The assistant could not complete the response.",
		})
		return
	}

	terminal := model.EventDone
	if guarded {
		terminal = model.EventGuardrails
	}
	sendSSEEvent(w, flusher, terminal, map[string]interface{}{
		"conversation_id": result.ConversationID,
		"messages":        toWire(result.Messages),
	})
}

// handleCreateFromStream is the degraded non-streaming reply to /stream.
func (s *Server) handleCreateFromStream(w http.ResponseWriter, r *http.Request, req *chatTurnRequest) {
	result, _, err := s.runTurn(r.Context(), req, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate response")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": result.ConversationID,
		"messages":        toWire(result.Messages),
	})
}

// runTurn executes one turn against the store and the responder. emit may
// be nil for non-streaming callers. The second return reports a
// guardrails outcome.
func (s *Server) runTurn(ctx context.Context, req *chatTurnRequest, emit func(string) error) (turnResult, bool, error) {
	if cached, ok := s.state.replayTurn(req.TurnID); ok {
		return cached, false, nil
	}

	c := s.state.getOrCreateConversation(req.conversationID(), req.userID())
	now := time.Now().UTC().Format(time.RFC3339)

	userMsg := model.Message{
		ID:        uuid.NewString(),
		Role:      model.RoleUser,
		Content:   req.Message,
		CreatedAt: now,
	}

	if hitsGuardrails(req.Message) {
		refusal := model.Message{
			ID:        uuid.NewString(),
			Role:      model.RoleAssistant,
			Content:   "I can't help with that request.",
			CreatedAt: now,
		}
		s.state.appendMessages(c, userMsg, refusal)
		result := turnResult{ConversationID: c.ID, Messages: s.state.snapshot(c)}
		s.state.recordTurn(req.TurnID, result)
		return result, true, nil
	}

	history := s.state.snapshot(c)
	onToken := func(token string) error {
		if emit == nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return emit(token)
	}

	reply, err := s.responder.Respond(ctx, history, req.Message, onToken)
	if err != nil {
		return turnResult{}, false, err
	}

	assistantMsg := model.Message{
		ID:        uuid.NewString(),
		Role:      model.RoleAssistant,
		Content:   reply,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	s.state.appendMessages(c, userMsg, assistantMsg)

	result := turnResult{ConversationID: c.ID, Messages: s.state.snapshot(c)}
	s.state.recordTurn(req.TurnID, result)
	return result, false, nil
}

// visibleMessages drops system entries, matching what clients display.
func visibleMessages(msgs []model.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != model.RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
	return nil
}
