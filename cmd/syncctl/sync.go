package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync <branch-id>",
	Short: "Trigger an on-demand synchronization for one branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var entry ledgerEntry
		if err := newClient().postJSON("/api/v1/branches/"+args[0]+"/sync", &entry); err != nil {
			return err
		}

		if outputFmt != "table" {
			return printOutput(entry)
		}

		fmt.Printf("Branch %d: %s (build %s)\n", entry.BranchID, entry.LastStatus, entry.LatestBuild)
		if entry.LastError != "" {
			fmt.Printf("Error: %s\n", entry.LastError)
		}
		return nil
	},
}
