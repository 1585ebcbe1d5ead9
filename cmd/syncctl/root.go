package main

import (
	"github.com/spf13/cobra"
)

var (
	serverURL string
	outputFmt string
)

var rootCmd = &cobra.Command{
	Use:   "syncctl",
	Short: "CLI for the artifact synchronization daemon",
	Long: `syncctl inspects and controls a running synchronization daemon.

It reads the version ledger, the audit trail, and the branch registry over
the daemon's HTTP API, and can trigger an on-demand synchronization for a
single branch.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Synchronization daemon URL")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")

	rootCmd.AddCommand(branchesCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(healthCmd)
}
