package main

import (
	"encoding/json"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/debtbook/internal/app"
)

var rootCmd = &cobra.Command{
	Use:           "debtbookctl",
	Short:         "Operate a debtbook deployment",
	Long:          `Operational helpers for debtbook: schema migration, job triggers, queue inspection and ledger reconciliation.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// loadConfig reads the same environment as the server so the CLI talks to
// the same database and Redis.
func loadConfig() (*app.Config, *slog.Logger, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	return cfg, app.NewLogger(cfg), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
