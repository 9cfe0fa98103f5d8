// Package main is the entry point for the pricestream service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fd1az/pricestream/internal/config"
	"github.com/fd1az/pricestream/internal/logger"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "pricestream",
		Short:        "On-chain spot prices over HTTP and WebSocket",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "config file path")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the price stream",
		RunE:  runServe,
	})

	root.AddCommand(&cobra.Command{
		Use:   "quote <token>",
		Short: "Print every venue price for a token",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuote,
	})

	pairCmd := &cobra.Command{
		Use:   "pair <tokenA> <tokenB>",
		Short: "Print the deepest pool pricing tokenA in tokenB",
		Args:  cobra.ExactArgs(2),
		RunE:  runPair,
	}
	root.AddCommand(pairCmd)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pricestream %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(os.Stderr, logger.ParseLevel(cfg.App.LogLevel), cfg.App.Name, nil)
	return cfg, log, nil
}
