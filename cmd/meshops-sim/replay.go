package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"meshops-sim/internal/logging"
	"meshops-sim/internal/sim"
)

var (
	replayInput     string
	replaySpeed     float64
	replayPrintOnly bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a unit telemetry log file",
	Long:  "replay feeds unit rows from a JSONL log (optionally gzipped) back into the configured databases or STDOUT.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return fmt.Errorf("input file required")
		}
		log := logging.New("info")
		writer, cleanup, err := newUnitWriter(replayPrintOnly, log)
		if err != nil {
			return err
		}
		defer cleanup()
		return sim.ReplayLogFile(replayInput, writer, replaySpeed)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to unit telemetry log file")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier, 0 for no delay")
	replayCmd.Flags().BoolVar(&replayPrintOnly, "print-only", false, "Print telemetry to STDOUT instead of writing to DB")
	replayCmd.MarkFlagRequired("input")
}
