package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

var (
	auditBranchID string
	auditSeverity string
	auditCategory string
	auditPageSize int
	auditToken    string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List audit events, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if auditBranchID != "" {
			q.Set("branchId", auditBranchID)
		}
		if auditSeverity != "" {
			q.Set("severity", auditSeverity)
		}
		if auditCategory != "" {
			q.Set("category", auditCategory)
		}
		if auditPageSize > 0 {
			q.Set("pageSize", fmt.Sprint(auditPageSize))
		}
		if auditToken != "" {
			q.Set("nextPageToken", auditToken)
		}

		path := "/api/v1/audit/events"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var list auditEventList
		if err := newClient().getJSON(path, &list); err != nil {
			return err
		}

		if outputFmt != "table" {
			return printOutput(list)
		}

		rows := make([][]string, 0, len(list.Items))
		for _, e := range list.Items {
			branch := "-"
			if e.BranchID != nil {
				branch = fmt.Sprint(*e.BranchID)
			}
			rows = append(rows, []string{
				e.CreatedAt.Local().Format(time.RFC3339),
				branch,
				e.Severity,
				e.Category,
				truncate(e.Detail, 80),
			})
		}
		printTable([]string{"time", "branch", "severity", "category", "detail"}, rows)
		if list.NextPageToken != "" {
			fmt.Printf("\nNext page: --page-token %s\n", list.NextPageToken)
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditBranchID, "branch", "", "Filter by branch ID")
	auditCmd.Flags().StringVar(&auditSeverity, "severity", "", "Filter by severity (info, warning, error)")
	auditCmd.Flags().StringVar(&auditCategory, "category", "", "Filter by category (detect, download, extract, cleanup, error)")
	auditCmd.Flags().IntVar(&auditPageSize, "page-size", 0, "Events per page (default 20, max 100)")
	auditCmd.Flags().StringVar(&auditToken, "page-token", "", "Continuation token from a previous page")
}
