package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var branchesCmd = &cobra.Command{
	Use:   "branches",
	Short: "List registered component branches",
	RunE: func(cmd *cobra.Command, args []string) error {
		var list branchList
		if err := newClient().getJSON("/api/v1/branches", &list); err != nil {
			return err
		}

		if outputFmt != "table" {
			return printOutput(list)
		}

		rows := make([][]string, 0, len(list.Items))
		for _, b := range list.Items {
			rows = append(rows, []string{
				fmt.Sprint(b.ID),
				b.ProjectKey,
				b.ComponentKey,
				b.Name,
				b.Status,
				b.Version,
				b.AutoIncrement,
			})
		}
		printTable([]string{"id", "project", "component", "branch", "status", "version", "policy"}, rows)
		return nil
	},
}
