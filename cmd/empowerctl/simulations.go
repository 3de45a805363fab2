package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var simulationsCmd = &cobra.Command{
	Use:   "simulations",
	Short: "Manage simulation runs",
}

var simulationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List simulations",
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		path := "/api/v1/simulations"
		if project != "" {
			path += "?project=" + project
		}
		var result struct {
			Simulations []map[string]any `json:"simulations"`
		}
		if err := newClient().getJSON(path, &result); err != nil {
			return err
		}
		if outputFmt != "table" {
			return printOutput(result)
		}
		rows := make([][]string, len(result.Simulations))
		for i, s := range result.Simulations {
			rows[i] = []string{
				str(s["id"]), str(s["name"]), str(s["project"]),
				str(s["run_no"]), str(s["start_date"]), str(s["end_date"]),
				str(s["status"]),
			}
		}
		printTable([]string{"id", "name", "project", "trials", "start", "end", "status"}, rows)
		return nil
	},
}

var simulationsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a simulation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		fileID, _ := cmd.Flags().GetUint("assumption-file")
		runNo, _ := cmd.Flags().GetInt("trials")
		start, _ := cmd.Flags().GetString("start")
		end, _ := cmd.Flags().GetString("end")
		requestedBy, _ := cmd.Flags().GetString("requested-by")

		var result map[string]any
		err := newClient().postJSON("/api/v1/simulations", map[string]any{
			"name":               args[0],
			"project":            project,
			"requested_by":       requestedBy,
			"assumption_file_id": fileID,
			"run_no":             runNo,
			"start_date":         start,
			"end_date":           end,
		}, &result)
		if err != nil {
			return err
		}
		if outputFmt != "table" {
			return printOutput(result)
		}
		fmt.Printf("Created simulation %s (run tag %s)\n", str(result["id"]), str(result["run_tag"]))
		return nil
	},
}

var simulationsStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Queue a simulation start",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result map[string]any
		if err := newClient().postJSON("/api/v1/simulations/"+args[0]+":start", nil, &result); err != nil {
			return err
		}
		if outputFmt != "table" {
			return printOutput(result)
		}
		fmt.Printf("Start queued for simulation %s (status %s)\n", str(result["id"]), str(result["status"]))
		return nil
	},
}

var simulationsStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show one simulation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result map[string]any
		if err := newClient().getJSON("/api/v1/simulations/"+args[0], &result); err != nil {
			return err
		}
		if outputFmt != "table" {
			return printOutput(result)
		}
		fmt.Printf("%s\t%s\t%s\n", str(result["name"]), str(result["status"]), str(result["status_detail"]))
		return nil
	},
}

func init() {
	simulationsListCmd.Flags().String("project", "", "Filter by project")
	simulationsCreateCmd.Flags().String("project", "", "Project name")
	simulationsCreateCmd.Flags().Uint("assumption-file", 0, "Assumption file ID")
	simulationsCreateCmd.Flags().Int("trials", 1, "Number of Monte Carlo trials")
	simulationsCreateCmd.Flags().String("start", "", "Simulation start date (YYYY-MM-DD)")
	simulationsCreateCmd.Flags().String("end", "", "Simulation end date (YYYY-MM-DD)")
	simulationsCreateCmd.Flags().String("requested-by", "", "Requesting user email")

	simulationsCmd.AddCommand(simulationsListCmd)
	simulationsCmd.AddCommand(simulationsCreateCmd)
	simulationsCmd.AddCommand(simulationsStartCmd)
	simulationsCmd.AddCommand(simulationsStatusCmd)
}
