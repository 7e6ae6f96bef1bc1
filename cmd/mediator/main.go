// Command mediator serves the AI provider mediator over gRPC and offers a few
// offline helpers. See pkg/config for the environment variables it reads.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/abdhe/llm-mediator/pkg/config"
)

var (
	version = "0.1.0"
	envFile string
	cfg     config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mediator",
		Short: "AI provider mediator: retry, fallback, racing and caching across LLM vendors",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnv(envFile); err != nil {
				return err
			}
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment from this file (default: .env if present)")

	rootCmd.AddCommand(
		serveCmd(),
		estimateCmd(),
		providersCmd(),
		askCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadEnv loads path, or .env when path is empty and the file exists.
// Variables already set in the process environment win.
func loadEnv(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "mediator", version)
		},
	}
}
