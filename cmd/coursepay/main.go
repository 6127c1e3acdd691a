package main

import (
	"context"
	"fmt"
	"os"

	"coursepay/internal/config"
	"coursepay/internal/database"
	"coursepay/internal/infrastructure/payment"
	"coursepay/internal/logging"
	"coursepay/internal/repo"
	"coursepay/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

type rootOptions struct {
	envFile string
	debug   bool
}

func main() {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "coursepay",
		Short:         "Course purchase orders and payment verification",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional dotenv file loaded before the environment")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "debug logging")

	rootCmd.AddCommand(serveCmd(opts))
	rootCmd.AddCommand(migrateCmd(opts))
	rootCmd.AddCommand(reconcileCmd(opts))
	rootCmd.AddCommand(simulateCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds what every subcommand needs: config, logger and an open pool.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     database.Service
}

func bootstrap(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}

	logger, err := logging.New(opts.debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create zap logger: %w", err)
	}

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL, logger.With(zap.String("component", "Database")))
	if err != nil {
		logger.Error("database unavailable", zap.Error(err))
		_ = logger.Sync()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, db: db}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("error closing database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func (a *app) gateway() payment.PaymentGateway {
	if a.cfg.Gateway.Mode == config.GatewayMock {
		a.logger.Warn("using in-process mock payment gateway")
		return payment.NewMockGateway(a.cfg.Gateway.KeySecret)
	}
	return payment.NewRazorpayGateway(a.cfg.Gateway.KeyID, a.cfg.Gateway.KeySecret, a.logger.With(zap.String("component", "RazorpayGateway")))
}

func (a *app) orderService(gw payment.PaymentGateway) (service.OrderService, repo.OrderRepo, repo.CourseRepo) {
	orderRepo := repo.NewOrderRepo(a.db.DB())
	courseRepo := repo.NewCourseRepo(a.db.DB())
	svc := service.NewOrderService(
		a.db.DB(),
		orderRepo,
		courseRepo,
		gw,
		a.cfg.Gateway,
		a.logger.With(zap.String("component", "OrderService")),
	)
	return svc, orderRepo, courseRepo
}
