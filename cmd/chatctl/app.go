package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eloquent-ai/operator-client/internal/api"
	"github.com/eloquent-ai/operator-client/internal/auth"
	"github.com/eloquent-ai/operator-client/internal/chat"
	"github.com/eloquent-ai/operator-client/internal/config"
	"github.com/eloquent-ai/operator-client/internal/store"
	"github.com/eloquent-ai/operator-client/internal/stream"
	"github.com/eloquent-ai/operator-client/pkg/logger"
	"github.com/eloquent-ai/operator-client/pkg/tracing"
)

// app wires the client stack: config, logger, cache, transports, and the
// auth and chat sessions.
type app struct {
	cfg  *config.Config
	log  *logger.Logger
	st   store.Store
	api  *api.Client
	auth *auth.Session
	chat *chat.Session

	shutdownTracing func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	logger.SetGlobal(log)

	a := &app{cfg: cfg, log: log}

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "operator-client", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			a.shutdownTracing = func() { tracing.Shutdown(context.Background(), tp) }
		}
	}

	st, err := store.NewFileStore(cfg.StateDir, log)
	if err != nil {
		// Persistence is best effort: run from memory if the state dir is
		// unusable.
		log.Warn("state dir unavailable, using in-memory cache", zap.Error(err))
		a.st = store.NewMemStore()
	} else {
		a.st = st
	}

	var session *auth.Session
	client := api.NewClient(cfg.ChatBase, cfg.AuthBase, cfg.HTTPTimeout, func() string {
		if session == nil {
			return ""
		}
		return session.Token()
	}, log)
	session = auth.NewSession(a.st, client, log)

	primary := stream.NewWSTransport(cfg.WSBase, log)
	fallback := stream.NewSSETransport(cfg.ChatBase, &http.Client{}, log)

	a.api = client
	a.auth = session
	a.chat = chat.NewSession(a.st, client, session, primary, fallback, cfg.TurnTimeout, log)

	if cfg.MetricsAddr != "" {
		go a.serveMetrics(cfg.MetricsAddr)
	}

	return a, nil
}

func (a *app) close() {
	a.chat.Close()
	a.auth.Close()
	a.st.Close()
	if a.shutdownTracing != nil {
		a.shutdownTracing()
	}
	a.log.Sync()
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.log.Info("metrics listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		a.log.Warn("metrics server stopped", zap.Error(err))
	}
}
