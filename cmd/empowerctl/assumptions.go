package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var assumptionsCmd = &cobra.Command{
	Use:   "assumptions",
	Short: "Manage assumption workbooks",
}

var assumptionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded assumption workbooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result struct {
			Files []map[string]any `json:"files"`
		}
		if err := newClient().getJSON("/api/v1/assumptions", &result); err != nil {
			return err
		}
		if outputFmt != "table" {
			return printOutput(result)
		}
		rows := make([][]string, len(result.Files))
		for i, f := range result.Files {
			rows[i] = []string{
				str(f["id"]), str(f["name"]), str(f["status"]), str(f["status_detail"]),
			}
		}
		printTable([]string{"id", "name", "status", "detail"}, rows)
		return nil
	},
}

var assumptionsUploadCmd = &cobra.Command{
	Use:   "upload <workbook.xlsx>",
	Short: "Upload an assumption workbook and queue it for processing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result map[string]any
		if err := newClient().uploadFile(args[0], "/api/v1/assumptions", nil, &result); err != nil {
			return err
		}
		if outputFmt != "table" {
			return printOutput(result)
		}
		fmt.Printf("Uploaded %s (file %s, status %s)\n",
			str(result["name"]), str(result["id"]), str(result["status"]))
		return nil
	},
}

var uploadScenario string

var assumptionsUploadScenarioCmd = &cobra.Command{
	Use:   "upload-scenario <category> <workbook.xlsx>",
	Short: "Upload a standalone category workbook under a scenario name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields := map[string]string{"scenario": uploadScenario}
		var result map[string]any
		if err := newClient().uploadFile(args[1], "/api/v1/assumptions/"+args[0], fields, &result); err != nil {
			return err
		}
		if outputFmt != "table" {
			return printOutput(result)
		}
		fmt.Printf("Uploaded %s scenario %s (file %s, status %s)\n",
			args[0], uploadScenario, str(result["id"]), str(result["status"]))
		return nil
	},
}

var assumptionsVersionsCmd = &cobra.Command{
	Use:   "versions <category>",
	Short: "List saved versions of an assumption category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result struct {
			Versions []map[string]any `json:"versions"`
		}
		path := "/api/v1/assumptions/" + args[0] + "/versions"
		if err := newClient().getJSON(path, &result); err != nil {
			return err
		}
		if outputFmt != "table" {
			return printOutput(result)
		}
		rows := make([][]string, len(result.Versions))
		for i, v := range result.Versions {
			rows[i] = []string{
				str(v["ID"]), str(v["Note"]), str(v["Scenario"]), str(v["RowCount"]),
			}
		}
		printTable([]string{"version", "note", "scenario", "rows"}, rows)
		return nil
	},
}

func init() {
	assumptionsUploadScenarioCmd.Flags().StringVar(&uploadScenario, "scenario", "", "scenario name for the upload")
	_ = assumptionsUploadScenarioCmd.MarkFlagRequired("scenario")

	assumptionsCmd.AddCommand(assumptionsListCmd)
	assumptionsCmd.AddCommand(assumptionsUploadCmd)
	assumptionsCmd.AddCommand(assumptionsUploadScenarioCmd)
	assumptionsCmd.AddCommand(assumptionsVersionsCmd)
}
