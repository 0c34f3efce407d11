package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var envFile string
	root := &cobra.Command{
		Use:          "recipe-assistant",
		Short:        "Personal recipe assistant",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env", ".env", "optional .env file")

	root.AddCommand(
		serveCMD(&envFile),
		ingestCMD(&envFile),
		chatCMD(&envFile),
		metricsCleanupCMD(&envFile),
		tokenCMD(&envFile),
	)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
