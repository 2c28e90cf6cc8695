package main

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/term"

	"meshops-sim/internal/config"
	"meshops-sim/internal/sim"
)

// Output modes for STDOUT.
const (
	outputAuto  = "auto"
	outputJSON  = "json"
	outputColor = "color"
	outputTUI   = "tui"
)

// newWriters sets up the unit, message, event and state sinks based on flags
// and env vars. It returns the writer and a cleanup function that closes
// every sink.
func newWriters(cfg *config.SimulationConfig, printOnly bool, output, logFile string, log *slog.Logger) (*sim.MultiWriter, func(), error) {
	base, err := baseWriters(cfg, printOnly, output, log)
	if err != nil {
		return nil, nil, err
	}
	mw := sim.NewMultiWriter(base...)
	if logFile != "" {
		fw, err := sim.NewFileWriter(sim.FilePaths{
			Units:    logFile,
			Messages: logFile + ".messages",
			Events:   logFile + ".events",
			State:    logFile + ".state",
		})
		if err != nil {
			mw.Close()
			return nil, nil, err
		}
		mw.Add(fw)
	}
	cleanup := func() {
		if err := mw.Close(); err != nil {
			log.Warn("closing writers", "err", err)
		}
	}
	return mw, cleanup, nil
}

// baseWriters chooses the database sinks from env vars, falling back to
// STDOUT when printOnly is set or no database is configured.
func baseWriters(cfg *config.SimulationConfig, printOnly bool, output string, log *slog.Logger) ([]sim.TelemetryWriter, error) {
	if printOnly {
		w, err := stdoutWriter(cfg, output)
		if err != nil {
			return nil, err
		}
		return []sim.TelemetryWriter{w}, nil
	}

	var ws []sim.TelemetryWriter
	if endpoint := os.Getenv("GREPTIMEDB_ENDPOINT"); endpoint != "" {
		db := os.Getenv("GREPTIMEDB_DATABASE")
		if db == "" {
			db = "public"
		}
		w, err := sim.NewGreptimeDBWriter(endpoint, db)
		if err != nil {
			return nil, err
		}
		w.SetTables(
			os.Getenv("GREPTIMEDB_TABLE"),
			os.Getenv("GREPTIMEDB_MESSAGE_TABLE"),
			os.Getenv("GREPTIMEDB_EVENT_TABLE"),
			os.Getenv("GREPTIMEDB_STATE_TABLE"),
		)
		log.Info("writing to GreptimeDB", "endpoint", endpoint, "database", db)
		ws = append(ws, w)
	}
	if url := os.Getenv("INFLUX_URL"); url != "" {
		org, bucket := os.Getenv("INFLUX_ORG"), os.Getenv("INFLUX_BUCKET")
		if org == "" || bucket == "" {
			return nil, fmt.Errorf("INFLUX_URL requires INFLUX_ORG and INFLUX_BUCKET")
		}
		log.Info("writing to InfluxDB", "url", url, "bucket", bucket)
		ws = append(ws, sim.NewInfluxWriter(url, os.Getenv("INFLUX_TOKEN"), org, bucket, log))
	}
	if len(ws) == 0 {
		log.Info("no database configured, printing to STDOUT")
		w, err := stdoutWriter(cfg, output)
		if err != nil {
			return nil, err
		}
		ws = append(ws, w)
	}
	return ws, nil
}

// stdoutWriter picks the STDOUT rendition. auto means the TUI on a
// terminal and JSON lines otherwise.
func stdoutWriter(cfg *config.SimulationConfig, output string) (sim.TelemetryWriter, error) {
	switch resolveOutput(output, term.IsTerminal(int(os.Stdout.Fd()))) {
	case outputJSON:
		return sim.NewJSONStdoutWriter(), nil
	case outputColor:
		return sim.NewColorStdoutWriter(cfg), nil
	case outputTUI:
		return sim.NewTUIWriter(cfg), nil
	default:
		return nil, fmt.Errorf("unknown output %q (want auto, json, color or tui)", output)
	}
}

func resolveOutput(output string, tty bool) string {
	if output != outputAuto {
		return output
	}
	if tty {
		return outputTUI
	}
	return outputJSON
}

// newUnitWriter creates a writer for replayed unit rows.
func newUnitWriter(printOnly bool, log *slog.Logger) (*sim.MultiWriter, func(), error) {
	return newWriters(&config.SimulationConfig{}, printOnly, outputJSON, "", log)
}
