package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger [branch-id]",
	Short: "Show the version ledger",
	Long:  "Without arguments, lists all ledger entries. With a branch ID, shows that branch's entry.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		if len(args) == 1 {
			var entry ledgerEntry
			if err := client.getJSON("/api/v1/ledger/"+args[0], &entry); err != nil {
				return err
			}
			if outputFmt != "table" {
				return printOutput(entry)
			}
			printTable(ledgerHeaders, [][]string{ledgerRow(entry)})
			return nil
		}

		var list ledgerList
		if err := client.getJSON("/api/v1/ledger", &list); err != nil {
			return err
		}
		if outputFmt != "table" {
			return printOutput(list)
		}
		rows := make([][]string, 0, len(list.Items))
		for _, e := range list.Items {
			rows = append(rows, ledgerRow(e))
		}
		printTable(ledgerHeaders, rows)
		return nil
	},
}

var ledgerHeaders = []string{"branch", "build", "status", "checked", "last success", "error"}

func ledgerRow(e ledgerEntry) []string {
	return []string{
		fmt.Sprint(e.BranchID),
		e.LatestBuild,
		e.LastStatus,
		formatTime(e.LastCheckedTime),
		formatTime(e.LastSuccessTime),
		truncate(e.LastError, 60),
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
