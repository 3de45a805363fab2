package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result map[string]any
		if err := newClient().getJSON("/api/v1/healthz", &result); err != nil {
			return err
		}
		fmt.Printf("Server %s: %s\n", serverURL, str(result["status"]))
		return nil
	},
}
