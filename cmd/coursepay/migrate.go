package main

import (
	"coursepay/internal/database"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func migrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			if err := database.Migrate(cmd.Context(), a.db.DB(), a.logger.With(zap.String("component", "Migrations"))); err != nil {
				return err
			}
			a.logger.Info("database migrations completed")
			return nil
		},
	}
}
