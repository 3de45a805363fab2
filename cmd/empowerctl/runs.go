package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect dispatched runs by run tag",
}

var runsConfirmCmd = &cobra.Command{
	Use:   "confirm <run-tag>",
	Short: "Confirm a merged run as finished",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result map[string]any
		if err := newClient().postJSON("/api/v1/runs/"+args[0]+":confirm", nil, &result); err != nil {
			return err
		}
		if outputFmt != "table" {
			return printOutput(result)
		}
		fmt.Printf("Run %s confirmed: %s\n", args[0], str(result["status"]))
		return nil
	},
}

var runsResultsCmd = &cobra.Command{
	Use:   "results <run-tag>",
	Short: "Show cross-trial statistics for a finished run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result struct {
			RunTag  string           `json:"run_tag"`
			Metrics []map[string]any `json:"metrics"`
		}
		if err := newClient().getJSON("/api/v1/runs/"+args[0]+"/results", &result); err != nil {
			return err
		}
		if outputFmt != "table" {
			return printOutput(result)
		}
		rows := make([][]string, len(result.Metrics))
		for i, m := range result.Metrics {
			rows[i] = []string{
				str(m["metric"]), str(m["mean"]), str(m["std_dev"]),
				str(m["p10"]), str(m["p50"]), str(m["p90"]),
			}
		}
		printTable([]string{"metric", "mean", "stddev", "p10", "p50", "p90"}, rows)
		return nil
	},
}

func init() {
	runsCmd.AddCommand(runsConfirmCmd)
	runsCmd.AddCommand(runsResultsCmd)
}
