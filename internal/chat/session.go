// Package chat drives chat turns: optimistic message state, live delta
// accumulation over the streaming transports, and reconciliation with the
// backend's authoritative message list.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/eloquent-ai/operator-client/internal/api"
	"github.com/eloquent-ai/operator-client/internal/auth"
	"github.com/eloquent-ai/operator-client/internal/model"
	"github.com/eloquent-ai/operator-client/internal/store"
	"github.com/eloquent-ai/operator-client/internal/stream"
	"github.com/eloquent-ai/operator-client/internal/summary"
	"github.com/eloquent-ai/operator-client/pkg/logger"
	"github.com/eloquent-ai/operator-client/pkg/metrics"
)

// ErrTurnInFlight is returned by Send while a previous turn has not
// settled. The design supports exactly one outstanding turn.
var ErrTurnInFlight = errors.New("a chat turn is already in flight")

// failureText is the fixed assistant-role message shown when a turn fails
// without an explicit backend error message.
const failureText = "Sorry, something went wrong while getting the response."

// Session owns the transient in-memory message list of the active
// conversation and the cached conversation summaries.
type Session struct {
	api      *api.Client
	auth     *auth.Session
	primary  stream.Transport
	fallback stream.Transport
	log      *logger.Logger
	tracer   trace.Tracer

	turnTimeout time.Duration

	currentID *store.Binding[string]
	summaries *store.Binding[[]model.ConversationSummary]

	mu       sync.Mutex
	messages []model.Message
	inFlight bool
	closed   bool

	deltaListener func(delta string)
}

// NewSession wires a chat session over the cache, the request/response
// client, and the two streaming transports.
func NewSession(
	s store.Store,
	client *api.Client,
	authSession *auth.Session,
	primary, fallback stream.Transport,
	turnTimeout time.Duration,
	log *logger.Logger,
) *Session {
	return &Session{
		api:         client,
		auth:        authSession,
		primary:     primary,
		fallback:    fallback,
		log:         log,
		tracer:      otel.Tracer("chat"),
		turnTimeout: turnTimeout,
		currentID:   store.Bind(s, store.KeyCurrentConversation, ""),
		summaries:   store.Bind(s, store.KeySummaries, []model.ConversationSummary(nil)),
	}
}

// OnDelta registers a listener invoked for every streamed fragment, after
// the in-memory message state has been updated. Must be set before Send.
func (s *Session) OnDelta(fn func(delta string)) {
	s.deltaListener = fn
}

// CurrentConversationID returns the persisted conversation pointer, or
// empty for a new, not-yet-created conversation.
func (s *Session) CurrentConversationID() string {
	return s.currentID.Load()
}

// Summaries returns the cached conversation summaries, most recent first.
func (s *Session) Summaries() []model.ConversationSummary {
	return s.summaries.Load()
}

// Messages returns a snapshot of the in-memory message list.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Send executes one chat turn with live incremental delivery: the user
// message and a streaming placeholder are appended optimistically, the
// WebSocket channel is tried first, and the SSE stream is the exclusive
// fallback. The returned list is the message state after the turn settled,
// also available through Messages.
func (s *Session) Send(ctx context.Context, text string) ([]model.Message, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	s.inFlight = true

	startedConvID := s.currentID.Load()
	now := time.Now().UTC().Format(time.RFC3339)
	userMsg := model.Message{
		ID:        "local-" + uuid.NewString(),
		Role:      model.RoleUser,
		Content:   text,
		CreatedAt: now,
	}
	placeholder := model.Message{
		ID:          "local-" + uuid.NewString(),
		Role:        model.RoleAssistant,
		Content:     model.StreamingPlaceholder,
		IsStreaming: true,
	}
	s.messages = append(s.messages, userMsg, placeholder)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, s.turnTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "chat.turn",
		trace.WithAttributes(attribute.String("conversation.id", startedConvID)),
	)
	defer span.End()

	req := stream.Request{
		ConversationID: startedConvID,
		Message:        text,
		UserID:         s.auth.UserID(),
		TurnID:         uuid.NewString(),
		Token:          s.auth.Token(),
	}

	// The accumulator carries every delta of this turn; the placeholder's
	// content mirrors it, clearing the sentinel on the first fragment.
	var accumulated strings.Builder
	onDelta := func(delta string) {
		accumulated.WriteString(delta)
		s.setContent(placeholder.ID, accumulated.String())
		if s.deltaListener != nil {
			s.deltaListener(delta)
		}
	}

	start := time.Now()
	transport := s.primary.Name()
	result, err := s.primary.Run(ctx, req, onDelta)

	var backendErr *stream.BackendError
	if err != nil && !errors.As(err, &backendErr) {
		// Connectivity-class failure: fall back, exactly once, never
		// concurrently. An explicit backend error event is terminal and
		// is not retried.
		s.log.Warn("primary transport failed, falling back",
			zap.String("transport", transport),
			zap.Error(err),
		)
		metrics.TransportFallbacksTotal.Inc()
		span.AddEvent("transport.fallback")

		transport = s.fallback.Name()
		result, err = s.fallback.Run(ctx, req, onDelta)
	}

	span.SetAttributes(attribute.String("chat.transport", transport))

	if err != nil {
		span.RecordError(err)
		metrics.RecordTurn(transport, "error", time.Since(start).Seconds())
		s.appendFailure(err)
		return s.Messages(), err
	}

	s.finalize(startedConvID, placeholder.ID, result)
	metrics.RecordTurn(transport, "ok", time.Since(start).Seconds())
	return s.Messages(), nil
}

// setContent mutates a message's content in place by id, keeping its
// streaming mark.
func (s *Session) setContent(id, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Content = content
			return
		}
	}
}

// finalize reconciles the turn result: a non-empty backend list replaces
// the in-memory messages wholesale (it already includes the optimistic
// entries), a newly assigned conversation id is persisted, and the summary
// cache is upserted for the resolved conversation.
func (s *Session) finalize(startedConvID, placeholderID string, result *stream.Result) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(result.Messages) > 0 {
		s.messages = result.Messages
	} else {
		for i := range s.messages {
			if s.messages[i].ID == placeholderID {
				s.messages[i].IsStreaming = false
			}
		}
	}
	snapshot := make([]model.Message, len(s.messages))
	copy(snapshot, s.messages)
	s.mu.Unlock()

	resolvedID := result.ConversationID
	if resolvedID == "" {
		resolvedID = startedConvID
	}
	if startedConvID == "" && result.ConversationID != "" {
		s.currentID.Store(result.ConversationID)
	}
	if resolvedID == "" {
		return
	}

	next := summary.Build(snapshot, resolvedID)
	s.summaries.Store(summary.Upsert(s.summaries.Load(), next))
}

// appendFailure appends the visible assistant-role failure message, so the
// user is never left without feedback. An explicit backend error surfaces
// its own message.
func (s *Session) appendFailure(err error) {
	text := failureText
	var backendErr *stream.BackendError
	if errors.As(err, &backendErr) && backendErr.Message != "" {
		text = backendErr.Message
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for i := range s.messages {
		s.messages[i].IsStreaming = false
	}
	s.messages = append(s.messages, model.Message{
		ID:      "err-" + uuid.NewString(),
		Role:    model.RoleAssistant,
		Content: text,
	})
}

// SelectConversation switches the current conversation and loads its
// history.
func (s *Session) SelectConversation(ctx context.Context, id string) ([]model.Message, error) {
	s.currentID.Store(id)
	history, err := s.api.Messages(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.messages = history
	s.mu.Unlock()
	return history, nil
}

// NewChat clears the conversation pointer and the in-memory messages.
func (s *Session) NewChat() {
	s.currentID.Store("")
	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()
}

// DeleteConversation removes the summary immediately, resets the pointer
// when the deleted conversation was current, and deletes on the backend
// best effort.
func (s *Session) DeleteConversation(ctx context.Context, id string) {
	list := s.summaries.Load()
	kept := make([]model.ConversationSummary, 0, len(list))
	for _, c := range list {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	s.summaries.Store(kept)

	if s.currentID.Load() == id {
		s.NewChat()
	}

	if err := s.api.DeleteConversation(ctx, id); err != nil {
		s.log.Warn("backend delete failed", zap.String("conversation_id", id), zap.Error(err))
	}
}

// Summarize fetches the backend's summary text for a conversation.
func (s *Session) Summarize(ctx context.Context, id string) (string, error) {
	return s.api.Summarize(ctx, id)
}

// RefreshConversations reloads the summary cache from the backend. A fetch
// failure keeps the cached list and reports the error.
func (s *Session) RefreshConversations(ctx context.Context) ([]model.ConversationSummary, error) {
	items, err := s.api.ListConversations(ctx, s.auth.UserID())
	if err != nil {
		return s.summaries.Load(), err
	}
	s.summaries.Store(items)
	return items, nil
}

// Close marks the session closed; completions of any still-running network
// work no longer commit state.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.currentID.Close()
	s.summaries.Close()
}
