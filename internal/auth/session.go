// Package auth holds the client's authentication session state: user
// identity, guest mode, and the cached bearer token.
package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/eloquent-ai/operator-client/internal/api"
	"github.com/eloquent-ai/operator-client/internal/model"
	"github.com/eloquent-ai/operator-client/internal/store"
	"github.com/eloquent-ai/operator-client/pkg/logger"
)

// Session manages the persisted identity. Guest and authenticated states
// are mutually exclusive; any identity change resets the whole cache
// (token, profile, summaries, current conversation).
type Session struct {
	api *api.Client
	log *logger.Logger

	userID    *store.Binding[string]
	guest     *store.Binding[bool]
	profile   *store.Binding[*model.Profile]
	token     *store.Binding[string]
	summaries *store.Binding[[]model.ConversationSummary]
	currentID *store.Binding[string]
}

// NewSession binds the session to the cache. The api client must be
// constructed with this session's Token as its TokenSource.
func NewSession(s store.Store, client *api.Client, log *logger.Logger) *Session {
	return &Session{
		api:       client,
		log:       log,
		userID:    store.Bind(s, store.KeyUserID, ""),
		guest:     store.Bind(s, store.KeyGuestMode, false),
		profile:   store.Bind[*model.Profile](s, store.KeyUserProfile, nil),
		token:     store.Bind(s, store.KeyAuthToken, ""),
		summaries: store.Bind(s, store.KeySummaries, []model.ConversationSummary(nil)),
		currentID: store.Bind(s, store.KeyCurrentConversation, ""),
	}
}

// UserID returns the signed-in user id, or empty.
func (s *Session) UserID() string { return s.userID.Load() }

// Guest reports whether the session is in guest mode.
func (s *Session) Guest() bool { return s.guest.Load() }

// Token returns the cached bearer token, or empty.
func (s *Session) Token() string { return s.token.Load() }

// DisplayName returns the cached profile name, or empty.
func (s *Session) DisplayName() string {
	if p := s.profile.Load(); p != nil {
		return p.Name
	}
	return ""
}

// Login authenticates, persists the identity, and refreshes the
// conversation list best effort. A failed list fetch resets the summaries
// to empty rather than failing the login.
func (s *Session) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.api.Login(ctx, api.Credentials{Email: email, Password: password})
	if err != nil {
		return "", err
	}
	s.persistIdentity(ctx, user)
	return user.ID, nil
}

// Signup registers, persists the identity, and refreshes the conversation
// list best effort. The submitted name is kept when the backend returns
// none.
func (s *Session) Signup(ctx context.Context, name, email, password string) (string, error) {
	user, err := s.api.Signup(ctx, api.Credentials{Email: email, Password: password, Name: name})
	if err != nil {
		return "", err
	}
	if user.Name == "" {
		user.Name = name
	}
	s.persistIdentity(ctx, user)
	return user.ID, nil
}

// LoginAsGuest switches to an anonymous session with the guest flag set.
func (s *Session) LoginAsGuest() {
	s.reset()
	s.guest.Store(true)
}

// Logout clears the identity and the guest flag.
func (s *Session) Logout() {
	s.reset()
	s.guest.Store(false)
}

// Probe checks the cached session against the backend.
func (s *Session) Probe(ctx context.Context) (api.AuthUser, error) {
	return s.api.Me(ctx)
}

// TokenExpired inspects the cached token's exp claim without verifying the
// signature. An absent or unparseable token counts as expired.
func (s *Session) TokenExpired() bool {
	token := s.token.Load()
	if token == "" {
		return true
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Before(time.Now())
}

func (s *Session) persistIdentity(ctx context.Context, user api.AuthUser) {
	s.userID.Store(user.ID)
	s.profile.Store(&model.Profile{Name: user.Name})
	s.guest.Store(false)
	s.token.Store(user.Token)

	items, err := s.api.ListConversations(ctx, user.ID)
	if err != nil {
		s.log.Warn("conversation list refresh failed after login", zap.Error(err))
		items = nil
	}
	s.summaries.Store(items)
}

// reset clears every persisted identity-scoped value.
func (s *Session) reset() {
	s.userID.Store("")
	s.profile.Store(nil)
	s.token.Store("")
	s.summaries.Store(nil)
	s.currentID.Store("")
}

// Close releases the session's cache bindings.
func (s *Session) Close() {
	s.userID.Close()
	s.guest.Close()
	s.profile.Close()
	s.token.Close()
	s.summaries.Close()
	s.currentID.Close()
}
