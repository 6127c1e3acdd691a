package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"coursepay/internal/auth"
	"coursepay/internal/database"
	"coursepay/internal/handler/http/payments"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the payments HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			if migrate {
				if err := database.Migrate(ctx, a.db.DB(), a.logger.With(zap.String("component", "Migrations"))); err != nil {
					return err
				}
			}

			if !opts.debug {
				gin.SetMode(gin.ReleaseMode)
			}

			svc, _, _ := a.orderService(a.gateway())
			router := payments.NewRouter(payments.RouterConfig{
				CORSOrigins: a.cfg.CORSOrigins,
				Tokens:      auth.NewTokens(a.cfg.JWTSecret, 24*time.Hour),
				Health:      a.db,
			}, svc, a.logger)

			server := &http.Server{
				Addr:         a.cfg.HTTPAddress,
				Handler:      router,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  120 * time.Second,
			}

			serverErr := make(chan error, 1)
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()
			a.logger.Info("payments API started", zap.String("address", a.cfg.HTTPAddress))

			select {
			case err := <-serverErr:
				a.logger.Error("HTTP server failed", zap.Error(err))
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down payments API")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("graceful shutdown failed", zap.Error(err))
				return err
			}
			a.logger.Info("payments API stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}
