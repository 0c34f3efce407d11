package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"recipe-assistant/internal/app"
	"recipe-assistant/internal/config"

	"github.com/spf13/cobra"
)

func serveCMD(envFile *string) *cobra.Command {
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.HTTPAddr
			}

			ctx := context.Background()
			application, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			e := application.HTTPServer()
			go func() {
				log.Printf("HTTP server listening on %s", addr)
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatalf("Server failed: %v", err)
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit
			log.Println("Shutting down server...")

			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default HTTP_ADDR)")
	return serve
}
