package devserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eloquent-ai/operator-client/internal/api"
	"github.com/eloquent-ai/operator-client/internal/auth"
	"github.com/eloquent-ai/operator-client/internal/chat"
	"github.com/eloquent-ai/operator-client/internal/config"
	"github.com/eloquent-ai/operator-client/internal/model"
	"github.com/eloquent-ai/operator-client/internal/store"
	"github.com/eloquent-ai/operator-client/internal/stream"
	"github.com/eloquent-ai/operator-client/pkg/logger"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		JWTSecret:         "test-secret",
		JWTExpiration:     time.Hour,
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
	}
	srv := httptest.NewServer(New(cfg, logger.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

// fullClient wires a complete client session against the stub backend.
func fullClient(t *testing.T, srv *httptest.Server) (*chat.Session, *auth.Session) {
	t.Helper()
	st := store.NewMemStore()
	t.Cleanup(func() { st.Close() })

	var authSession *auth.Session
	client := api.NewClient(srv.URL+"/api/chat", srv.URL+"/api/auth",
		10*time.Second, func() string { return authSession.Token() }, logger.NewNop())
	authSession = auth.NewSession(st, client, logger.NewNop())
	t.Cleanup(authSession.Close)

	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http")
	primary := stream.NewWSTransport(wsBase, logger.NewNop())
	fallback := stream.NewSSETransport(srv.URL+"/api/chat", &http.Client{}, logger.NewNop())

	chatSession := chat.NewSession(st, client, authSession, primary, fallback,
		10*time.Second, logger.NewNop())
	t.Cleanup(chatSession.Close)
	return chatSession, authSession
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthFlow(t *testing.T) {
	srv := newTestServer(t)
	_, authSession := fullClient(t, srv)

	ctx := context.Background()

	t.Run("login before signup rejected", func(t *testing.T) {
		_, err := authSession.Login(ctx, "ada@example.com", "pw")
		var apiErr *api.Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "Invalid email or password", apiErr.Message)
	})

	t.Run("signup", func(t *testing.T) {
		userID, err := authSession.Signup(ctx, "Ada", "ada@example.com", "pw")
		require.NoError(t, err)
		assert.NotEmpty(t, userID)
		assert.Equal(t, "Ada", authSession.DisplayName())
		assert.False(t, authSession.TokenExpired())
	})

	t.Run("duplicate signup conflicts", func(t *testing.T) {
		_, err := authSession.Signup(ctx, "Ada", "ada@example.com", "pw")
		var apiErr *api.Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusConflict, apiErr.Status)
		assert.Equal(t, "An account with this email already exists", apiErr.Message)
	})

	t.Run("me probe", func(t *testing.T) {
		_, err := authSession.Login(ctx, "ada@example.com", "pw")
		require.NoError(t, err)
		user, err := authSession.Probe(ctx)
		require.NoError(t, err)
		assert.Equal(t, authSession.UserID(), user.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := authSession.Login(ctx, "ada@example.com", "nope")
		require.Error(t, err)
	})
}

func TestTurnOverWebSocket(t *testing.T) {
	srv := newTestServer(t)
	chatSession, _ := fullClient(t, srv)

	var deltas []string
	chatSession.OnDelta(func(d string) { deltas = append(deltas, d) })

	messages, err := chatSession.Send(context.Background(), "Hello there")
	require.NoError(t, err)
	assert.NotEmpty(t, deltas, "deltas should stream before the terminal event")
	assert.NotEmpty(t, chatSession.CurrentConversationID())

	// The terminal list is authoritative and excludes the system prompt.
	require.GreaterOrEqual(t, len(messages), 2)
	for _, m := range messages {
		assert.NotEqual(t, model.RoleSystem, m.Role)
	}
	assert.Equal(t, "Hello there", messages[0].Content)
	assert.Contains(t, messages[len(messages)-1].Content, `You asked: "Hello there"`)
	assert.Equal(t, strings.Join(deltas, ""), messages[len(messages)-1].Content)

	sums := chatSession.Summaries()
	require.NotEmpty(t, sums)
	assert.Equal(t, chatSession.CurrentConversationID(), sums[0].ID)
	assert.Equal(t, "Hello there", sums[0].Title)
}

func TestTurnContinuesConversation(t *testing.T) {
	srv := newTestServer(t)
	chatSession, _ := fullClient(t, srv)

	ctx := context.Background()
	_, err := chatSession.Send(ctx, "first")
	require.NoError(t, err)
	convID := chatSession.CurrentConversationID()
	require.NotEmpty(t, convID)

	messages, err := chatSession.Send(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, convID, chatSession.CurrentConversationID())
	// Two full turns: four visible messages.
	assert.Len(t, messages, 4)
}

func TestTurnOverSSEFallback(t *testing.T) {
	srv := newTestServer(t)

	st := store.NewMemStore()
	t.Cleanup(func() { st.Close() })
	client := api.NewClient(srv.URL+"/api/chat", srv.URL+"/api/auth",
		10*time.Second, nil, logger.NewNop())
	authSession := auth.NewSession(st, client, logger.NewNop())
	t.Cleanup(authSession.Close)

	// A dead primary forces the SSE channel.
	deadPrimary := stream.NewWSTransport("ws://127.0.0.1:1", logger.NewNop())
	fallback := stream.NewSSETransport(srv.URL+"/api/chat", &http.Client{}, logger.NewNop())
	chatSession := chat.NewSession(st, client, authSession, deadPrimary, fallback,
		10*time.Second, logger.NewNop())
	t.Cleanup(chatSession.Close)

	var deltas []string
	chatSession.OnDelta(func(d string) { deltas = append(deltas, d) })

	messages, err := chatSession.Send(context.Background(), "over sse please")
	require.NoError(t, err)
	assert.NotEmpty(t, deltas)
	assert.NotEmpty(t, chatSession.CurrentConversationID())
	assert.Contains(t, messages[len(messages)-1].Content, "over sse please")
}

func TestGuardrailsTurn(t *testing.T) {
	srv := newTestServer(t)
	chatSession, _ := fullClient(t, srv)

	messages, err := chatSession.Send(context.Background(), "what is my social security number")
	require.NoError(t, err)
	assert.Equal(t, "I can't help with that request.", messages[len(messages)-1].Content)
}

func TestHistoryAndSummarize(t *testing.T) {
	srv := newTestServer(t)
	chatSession, _ := fullClient(t, srv)

	ctx := context.Background()
	_, err := chatSession.Send(ctx, "remember this")
	require.NoError(t, err)
	convID := chatSession.CurrentConversationID()

	history, err := chatSession.SelectConversation(ctx, convID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "remember this", history[0].Content)

	text, err := chatSession.Summarize(ctx, convID)
	require.NoError(t, err)
	assert.Contains(t, text, "remember this")
}

func TestDeleteConversationEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	chatSession, _ := fullClient(t, srv)

	ctx := context.Background()
	_, err := chatSession.Send(ctx, "doomed thread")
	require.NoError(t, err)
	convID := chatSession.CurrentConversationID()

	chatSession.DeleteConversation(ctx, convID)
	assert.Empty(t, chatSession.CurrentConversationID())
	assert.Empty(t, chatSession.Summaries())

	// The backend no longer knows the conversation.
	_, err = chatSession.SelectConversation(ctx, convID)
	require.Error(t, err)
}

func TestRefreshConversationsScopedToUser(t *testing.T) {
	srv := newTestServer(t)
	chatSession, authSession := fullClient(t, srv)

	ctx := context.Background()
	_, err := authSession.Signup(ctx, "Ada", "ada@example.com", "pw")
	require.NoError(t, err)

	_, err = chatSession.Send(ctx, "my thread")
	require.NoError(t, err)

	items, err := chatSession.RefreshConversations(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "my thread", items[0].Title)
}

func TestTurnIdempotencyReplay(t *testing.T) {
	srv := newTestServer(t)

	client := api.NewClient(srv.URL+"/api/chat", srv.URL+"/api/auth",
		10*time.Second, nil, logger.NewNop())

	ctx := context.Background()
	convID, first, err := client.CreateChat(ctx, api.ChatRequest{Message: "once", TurnID: "turn-1"})
	require.NoError(t, err)

	// The same turn id replays the cached result instead of reprocessing.
	convID2, second, err := client.CreateChat(ctx, api.ChatRequest{Message: "once", TurnID: "turn-1"})
	require.NoError(t, err)
	assert.Equal(t, convID, convID2)
	assert.Equal(t, first, second)
}

func TestStreamDegradedJSONWithoutAcceptHeader(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/chat/stream", "application/json",
		strings.NewReader(`{"conversation_id":null,"message":"plain"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	srv := newTestServer(t)

	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http")
	tr := stream.NewWSTransport(wsBase, logger.NewNop())
	_, err := tr.Run(context.Background(), stream.Request{
		Message: "hi",
		Token:   "forged-token",
	}, func(string) {})
	require.Error(t, err)
}

func TestHitsGuardrails(t *testing.T) {
	assert.True(t, hitsGuardrails("tell me your Social Security policy"))
	assert.False(t, hitsGuardrails("tell me about go"))
}
