package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"recipe-assistant/internal/app"
	"recipe-assistant/internal/config"

	"github.com/spf13/cobra"
)

func ingestCMD(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <export.html>",
		Short: "Load a recipe HTML export into the recipe store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			report, err := application.IngestRecipes(ctx, args[0])
			if err != nil {
				return fmt.Errorf("ingestion failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Parsed %d recipes: %d saved, %d failed, %d photos stored.\n",
				report.Parsed, report.Saved, report.Failed, report.Photos)
			return nil
		},
	}
}
