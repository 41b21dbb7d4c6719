package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/debtbook/internal/app"
	jobmetrics "github.com/odyssey-erp/debtbook/internal/jobs"
	"github.com/odyssey-erp/debtbook/internal/platform/db"
	"github.com/odyssey-erp/debtbook/jobs"
)

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().Int64("customer", 0, "Only check this customer")
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare stored customer debt with their orders now",
	Long: `Runs the ledger reconciliation in-process against Postgres and prints the
drifts found. Nothing is modified; exits non-zero when drift exists.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		customerID, _ := cmd.Flags().GetInt64("customer")

		pool, err := db.New(cmd.Context(), cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pool.Close()

		backend := app.PostgresBackend(pool)
		job := jobs.NewLedgerReconcileJob(backend.Customers, backend.Store.Orders(), logger, jobmetrics.NewMetrics(prometheus.NewRegistry()))
		job.Snapshot = backend.Snapshot
		report, err := job.Run(cmd.Context(), customerID)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if len(report.Drifts) > 0 {
			return fmt.Errorf("%d of %d customers drifted", len(report.Drifts), report.Customers)
		}
		return nil
	},
}
