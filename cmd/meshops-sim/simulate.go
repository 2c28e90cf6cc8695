package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"meshops-sim/internal/admin"
	"meshops-sim/internal/advisory"
	"meshops-sim/internal/command"
	"meshops-sim/internal/config"
	"meshops-sim/internal/logging"
	"meshops-sim/internal/registry"
	"meshops-sim/internal/scenario"
	"meshops-sim/internal/sim"
)

var (
	simPrintOnly  bool
	simConfigPath string
	simSchemaPath string
	simTick       time.Duration
	simLogFile    string
	simOutput     string
	simAdminAddr  string
	simRegistry   string
	simAdvisorURL string
	simLogOutput  string
	simDrill      string
	simDrillVars  map[string]string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the real-time mesh simulator",
	Long:  "simulate advances the configured fleets once per tick and streams unit, message, mesh event and topology rows to the configured sinks.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(simConfigPath, simSchemaPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("tick") {
			cfg.TickInterval = simTick
		}

		logOut, closeLog, err := logDestination(simLogOutput, usesTUI())
		if err != nil {
			return err
		}
		defer closeLog()
		log := logging.NewWriter(logOut, cfg.LogLevel)
		slog.SetDefault(log)

		ctx, cancel := context.WithCancel(logging.NewContext(context.Background(), log))
		defer cancel()

		reg, err := registry.Open(simRegistry, log)
		if err != nil {
			return err
		}
		defer reg.Close()
		if err := reg.Seed(ctx, cfg.TypeNames, cfg.StatusNames); err != nil {
			return err
		}

		writer, cleanup, err := newWriters(cfg, simPrintOnly, simOutput, simLogFile, log)
		if err != nil {
			return err
		}
		defer cleanup()
		hub := admin.NewHub(log)
		writer.Add(hub)

		simulator, err := sim.NewSimulator(cfg, writer, sim.WithMappings(reg))
		if err != nil {
			return err
		}
		reg.SetUsage(simulator)

		dispatcher := command.NewDispatcher(simulator)
		for _, w := range writer.Writers() {
			if tw, ok := w.(*sim.TUIWriter); ok {
				tw.SetCommandHandler(dispatcher.Func(ctx))
			}
		}

		var advisor advisory.Advisor = advisory.NewRules()
		if simAdvisorURL != "" {
			advisor = advisory.Fallback{Primary: advisory.NewRemote(simAdvisorURL), Secondary: advisor}
		}
		if simAdminAddr != "" {
			srv := admin.NewServer(simulator, log,
				admin.WithHub(hub),
				admin.WithMappings(reg),
				admin.WithAdvisor(advisor),
			)
			go func() {
				if err := srv.Start(ctx, simAdminAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("admin server failed", "err", err)
					cancel()
				}
			}()
		}

		if simDrill != "" {
			d, err := loadDrill(simDrill, simDrillVars)
			if err != nil {
				return err
			}
			go func() {
				if _, err := scenario.NewRunner(dispatcher).Run(ctx, d); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("drill failed", "err", err)
				}
			}()
		}

		go func() {
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sigs:
				cancel()
			case <-ctx.Done():
			}
		}()

		log.Info("mesh simulation started", "cluster", simulator.ClusterID(), "tick", simulator.TickInterval())
		simulator.Run(ctx)
		log.Info("mesh simulation stopped")
		return nil
	},
}

// usesTUI reports whether STDOUT will carry the TUI, in which case log
// lines must not go there.
func usesTUI() bool {
	stdout := simPrintOnly || (os.Getenv("GREPTIMEDB_ENDPOINT") == "" && os.Getenv("INFLUX_URL") == "")
	return stdout && resolveOutput(simOutput, term.IsTerminal(int(os.Stdout.Fd()))) == outputTUI
}

// logDestination opens path for log lines. With no path logs go to STDOUT,
// or nowhere while the TUI owns the screen.
func logDestination(path string, tui bool) (io.Writer, func(), error) {
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { f.Close() }, nil
	}
	if tui {
		return io.Discard, func() {}, nil
	}
	return os.Stdout, func() {}, nil
}

func init() {
	simulateCmd.Flags().BoolVar(&simPrintOnly, "print-only", false, "Print telemetry to STDOUT instead of writing to DB")
	simulateCmd.Flags().StringVar(&simConfigPath, "config", "config/simulation.yaml", "Path to simulation configuration YAML")
	simulateCmd.Flags().StringVar(&simSchemaPath, "schema", "schemas/simulation.cue", "Path to CUE schema file")
	simulateCmd.Flags().DurationVar(&simTick, "tick", time.Second, "Tick interval, overrides the config (e.g. 500ms, 2s)")
	simulateCmd.Flags().StringVar(&simLogFile, "log-file", "", "Path to export unit rows as JSONL (.gz to compress); messages, events and state go to sibling files")
	simulateCmd.Flags().StringVar(&simOutput, "output", outputAuto, "STDOUT rendition: auto, json, color or tui")
	simulateCmd.Flags().StringVar(&simAdminAddr, "admin", ":8080", "Admin server listen address, empty to disable")
	simulateCmd.Flags().StringVar(&simRegistry, "registry", "", "SQLite file for type and status names, empty for in-memory")
	simulateCmd.Flags().StringVar(&simAdvisorURL, "advisor-url", os.Getenv("ADVISOR_URL"), "Remote advisory endpoint, rule based when empty")
	simulateCmd.Flags().StringVar(&simLogOutput, "log-output", "", "Write log lines to this file instead of STDOUT")
	simulateCmd.Flags().StringVar(&simDrill, "drill", "", "Run a built-in drill name or drill YAML file alongside the simulation")
	simulateCmd.Flags().StringToStringVar(&simDrillVars, "drill-var", nil, "Drill placeholder values (e.g. unit=alpha-1,group=alpha)")
}
