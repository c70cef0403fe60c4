package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"luadrop/pkg/blob"
	"luadrop/pkg/db"
	"luadrop/services/sweeper"
)

func main() {
	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "dropctl").Logger()

	root := &cobra.Command{
		Use:           "dropctl",
		Short:         "Operational tooling for the deployment stores",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(migrateCmd(log))
	root.AddCommand(sweepCmd(log))

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func migrateCmd(log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			pool, err := db.Open(ctx, os.Getenv("DB_DSN"))
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
			log.Info().Msg("migrations applied")
			return nil
		},
	}
}

func sweepCmd(log zerolog.Logger) *cobra.Command {
	var (
		grace  time.Duration
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove blobs no deployment references",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()

			pool, err := db.Open(ctx, os.Getenv("DB_DSN"))
			if err != nil {
				return err
			}
			defer pool.Close()

			store, err := blob.NewClientFromEnv()
			if err != nil {
				return err
			}

			removed, err := sweeper.New(pool, store, grace, dryRun, log).Sweep(ctx)
			if err != nil {
				return err
			}
			log.Info().Int("removed", removed).Bool("dry_run", dryRun).Msg("sweep finished")
			return nil
		},
	}

	cmd.Flags().DurationVar(&grace, "grace", sweeper.DefaultGrace, "leave orphans younger than this alone")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report orphans without deleting them")
	return cmd
}
