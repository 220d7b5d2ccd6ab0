package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eloquent-ai/operator-client/internal/config"
	"github.com/eloquent-ai/operator-client/internal/devserver"
	"github.com/eloquent-ai/operator-client/pkg/logger"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local development backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			log, err := logger.New(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			defer log.Sync()
			logger.SetGlobal(log)

			srv := &http.Server{
				Addr:         ":" + cfg.ServerPort,
				Handler:      devserver.New(cfg, log).Handler(),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 0, // streaming responses stay open
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("development server listening", zap.String("port", cfg.ServerPort))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return fmt.Errorf("server error: %w", err)
			case sig := <-quit:
				log.Info("shutting down", zap.String("signal", sig.String()))
			case <-cmd.Context().Done():
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("forced shutdown: %w", err)
			}
			log.Info("server stopped")
			return nil
		},
	}
}
