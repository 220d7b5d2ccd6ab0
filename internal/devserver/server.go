// Package devserver is a local stub of the chat/auth backend. It speaks
// the same HTTP, SSE, and WebSocket contract the production backend does,
// so the client can be developed and integration-tested against it.
package devserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eloquent-ai/operator-client/internal/config"
	"github.com/eloquent-ai/operator-client/pkg/logger"
)

// Server is the stub backend.
type Server struct {
	log       *logger.Logger
	state     *state
	responder Responder
	jwtSecret []byte
	jwtTTL    time.Duration

	rateLimit  int
	rateWindow time.Duration

	upgrader websocket.Upgrader
}

// New creates a stub server from configuration.
func New(cfg *config.Config, log *logger.Logger) *Server {
	return &Server{
		log:        log,
		state:      newState(),
		responder:  NewResponder(cfg.OpenAIAPIKey),
		jwtSecret:  []byte(cfg.JWTSecret),
		jwtTTL:     cfg.JWTExpiration,
		rateLimit:  cfg.RateLimitRequests,
		rateWindow: cfg.RateLimitWindow,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local development server: any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.Limit(
			s.rateLimit,
			s.rateWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", s.handleLogin)
			r.Post("/signup", s.handleSignup)
			r.Get("/me", s.handleMe)
		})

		r.Route("/chat", func(r chi.Router) {
			r.Get("/conversations", s.handleListConversations)
			r.Get("/messages/{id}", s.handleMessages)
			r.Post("/create", s.handleCreate)
			r.Post("/delete/{id}", s.handleDelete)
			r.Post("/summarize/{id}", s.handleSummarize)
			r.Post("/stream", s.handleStream)
		})
	})

	r.Get("/chat/ws/{id}", s.handleWebSocket)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// logging records method, path, status, and duration for each request.
func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type authClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
}

func (s *Server) mintToken(a *account) (string, error) {
	now := time.Now()
	claims := authClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtTTL)),
		},
		Name: a.Name,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func (s *Server) parseToken(tokenString string) (*authClaims, error) {
	claims := &authClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	return claims, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"message": message,
	})
}
