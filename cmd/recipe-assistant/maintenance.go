package main

import (
	"context"
	"fmt"
	"time"

	"recipe-assistant/internal/config"
	"recipe-assistant/internal/database"
	"recipe-assistant/internal/metrics"
	"recipe-assistant/internal/server"
	"recipe-assistant/internal/telegram"

	"github.com/spf13/cobra"
)

func metricsCleanupCMD(envFile *string) *cobra.Command {
	var days int
	cleanup := &cobra.Command{
		Use:   "metrics-cleanup",
		Short: "Delete old execution metrics and expired chat sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			db, err := database.NewDB(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := context.Background()
			affected, err := metrics.NewStore(db.SQL).Cleanup(ctx, days)
			if err != nil {
				return fmt.Errorf("cleanup failed: %w", err)
			}
			sessions, err := telegram.NewSessionRepository(db.SQL, 0).CleanupExpired(ctx)
			if err != nil {
				return fmt.Errorf("cleanup failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully removed %d old metric records and %d expired sessions.\n", affected, sessions)
			return nil
		},
	}
	cleanup.Flags().IntVar(&days, "days", 30, "keep records for the last N days")
	return cleanup
}

func tokenCMD(envFile *string) *cobra.Command {
	var subject string
	var ttl time.Duration
	token := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			if cfg.APIJWTSecret == "" {
				return fmt.Errorf("API_JWT_SECRET environment variable not set")
			}
			tok, err := server.SignToken(subject, []byte(cfg.APIJWTSecret), ttl)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	token.Flags().StringVar(&subject, "subject", "owner", "token subject")
	token.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return token
}
