package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eloquent-ai/operator-client/pkg/logger"
)

func newTestClient(t *testing.T, handler http.Handler, token string) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	source := func() string { return token }
	c := NewClient(srv.URL+"/api/chat", srv.URL+"/api/auth", 5*time.Second, source, logger.NewNop())
	return c, srv
}

func TestListConversations(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"data":{"items":[{"id":7,"short_name":"Trip"}]}}`))
	}), "tok")

	got, err := c.ListConversations(context.Background(), "u 1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "7", got[0].ID)
	assert.Equal(t, "/api/chat/conversations", gotPath)
	assert.Equal(t, "user_id=u+1", gotQuery)
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestListConversationsFailure(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), "")

	_, err := c.ListConversations(context.Background(), "")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "Failed to fetch conversations", apiErr.Message)
}

func TestCreateChat(t *testing.T) {
	var gotBody ChatRequest
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat/create", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"data":{"conversation_id":"42","messages":[{"id":"m1","role":"assistant","content":"hi"}]}}`))
	}), "")

	convID, msgs, err := c.CreateChat(context.Background(), ChatRequest{Message: "hello", TurnID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "42", convID)
	require.Len(t, msgs, 1)
	assert.Nil(t, gotBody.ConversationID)
	assert.Equal(t, "hello", gotBody.Message)
	assert.Equal(t, "t1", gotBody.TurnID)
}

func TestDeleteConversationEscapesID(t *testing.T) {
	var gotPath string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Write([]byte(`{"status":"deleted"}`))
	}), "")

	require.NoError(t, c.DeleteConversation(context.Background(), "a/b"))
	assert.Equal(t, "/api/chat/delete/a%2Fb", gotPath)
}

func TestLoginUsesBackendRejectionMessage(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Invalid email or password"}`))
	}), "")

	_, err := c.Login(context.Background(), Credentials{Email: "a@b.c", Password: "x"})
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invalid email or password", apiErr.Message)
}

func TestLoginFallbackMessageOnEmptyBody(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}), "")

	_, err := c.Login(context.Background(), Credentials{Email: "a@b.c", Password: "x"})
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Login failed", apiErr.Message)
}

func TestLoginSuccess(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/login", r.URL.Path)
		w.Write([]byte(`{"data":{"access_token":"tok","user":{"id":"u1","name":"Ada"}}}`))
	}), "")

	user, err := c.Login(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "Ada", user.Name)
	assert.Equal(t, "tok", user.Token)
}

func TestMeInvalidResponse(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}), "tok")

	_, err := c.Me(context.Background())
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invalid session response", apiErr.Message)
}

func TestNetworkErrorIsNotTypedError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(srv.URL, srv.URL, time.Second, nil, logger.NewNop())

	_, err := c.ListConversations(context.Background(), "")
	require.Error(t, err)
	var apiErr *Error
	assert.False(t, errors.As(err, &apiErr))
}
