package main

import (
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"backoffice/internal/jobs"

	"github.com/spf13/cobra"
)

var jobName string

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Run the maintenance scheduler or a single job by name",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if jobName != "" {
			return jobs.RunOnce(cmd.Context(), a.jobs(), jobName)
		}

		scheduler, err := jobs.Start(a.jobs(), a.cfg.Location(), a.log)
		if err != nil {
			return err
		}
		a.log.Info("Cron scheduler started. Press Ctrl+C to exit.")

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		<-scheduler.Stop().Done()
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Check customer balances and stock counters once and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		report, err := a.ledger.Reconcile(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
		if !report.Clean() {
			return errors.New("reconciliation found drift")
		}
		return nil
	},
}

func init() {
	jobsCmd.Flags().StringVarP(&jobName, "job", "j", "", "Run a single job by name and exit ("+jobs.JobReconcile+", "+jobs.JobCloseSessions+")")
	rootCmd.AddCommand(jobsCmd, reconcileCmd)
}

func (a *app) jobs() map[string]jobs.Job {
	return jobs.Jobs(a.ledger, a.cash, a.cfg.ReconcileSchedule, a.cfg.StaleSessionSchedule, a.log)
}

