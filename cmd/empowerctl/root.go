package main

import (
	"github.com/spf13/cobra"
)

var (
	serverURL string
	outputFmt string
)

var rootCmd = &cobra.Command{
	Use:   "empowerctl",
	Short: "CLI for the empower simulation server",
	Long: `empowerctl manages assumption workbooks and simulation runs against a
running empower server: upload and inspect assumption data, create and start
runs, and check merge progress and results.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8088", "Empower server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")

	rootCmd.AddCommand(assumptionsCmd)
	rootCmd.AddCommand(simulationsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(healthCmd)
}
