package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check daemon liveness and readiness",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var live map[string]string
		if err := client.getJSON("/healthz", &live); err != nil {
			return fmt.Errorf("liveness: %w", err)
		}
		var ready map[string]string
		if err := client.getJSON("/readyz", &ready); err != nil {
			return fmt.Errorf("readiness: %w", err)
		}

		if outputFmt != "table" {
			return printOutput(map[string]any{"healthz": live, "readyz": ready})
		}

		fmt.Printf("healthz: %s\n", live["status"])
		fmt.Printf("readyz:  %s\n", ready["status"])
		return nil
	},
}
