package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "meshops-sim",
	Short: "Mesh fleet simulation toolkit",
	Long:  "meshops-sim simulates field units relaying through a mesh network and replays, drills and charts the telemetry.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(drillCmd)
	rootCmd.AddCommand(dashboardCmd)
}
