package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"meshops-sim/internal/logging"
	"meshops-sim/internal/scenario"
)

var (
	drillAdminURL    string
	drillVars        map[string]string
	drillStopOnError bool
	drillList        bool
	drillLogLevel    string
)

var drillCmd = &cobra.Command{
	Use:   "drill [name|file.yaml]",
	Short: "Play a timed drill against a running simulator",
	Long:  "drill sends the commands of a built-in or YAML drill to the admin server of a running simulate process.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if drillList || len(args) == 0 {
			builtIn := scenario.BuiltIn()
			for _, name := range scenario.BuiltInNames() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s %s\n", name, builtIn[name].Description)
			}
			return nil
		}
		d, err := loadDrill(args[0], drillVars)
		if err != nil {
			return err
		}

		log := logging.New(drillLogLevel)
		ctx, cancel := signal.NotifyContext(logging.NewContext(context.Background(), log), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		var opts []scenario.Option
		if drillStopOnError {
			opts = append(opts, scenario.StopOnError())
		}
		rep, err := scenario.NewRunner(newHTTPExecutor(drillAdminURL), opts...).Run(ctx, d)
		fmt.Fprintf(cmd.OutOrStdout(), "phases=%d executed=%d failed=%d\n", rep.Phases, rep.Executed, rep.Failed)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// loadDrill resolves ref as a built-in drill name or a YAML file, binds
// vars and validates the result.
func loadDrill(ref string, vars map[string]string) (*scenario.Drill, error) {
	var d scenario.Drill
	if b, ok := scenario.BuiltIn()[ref]; ok {
		d = b
	} else {
		b, err := os.ReadFile(ref)
		if err != nil {
			return nil, fmt.Errorf("drill %q is neither built in (%s) nor readable: %w", ref, strings.Join(scenario.BuiltInNames(), ", "), err)
		}
		p, err := scenario.Decode(b)
		if err != nil {
			return nil, err
		}
		d = *p
	}
	d = d.Bind(vars)
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// httpExecutor posts command lines to an admin server.
type httpExecutor struct {
	url    string
	client *http.Client
}

func newHTTPExecutor(base string) *httpExecutor {
	return &httpExecutor{
		url:    strings.TrimSuffix(base, "/") + "/command",
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Execute implements scenario.Executor.
func (e *httpExecutor) Execute(ctx context.Context, line string) (string, error) {
	body, err := json.Marshal(map[string]string{"command": line})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}
	var out struct {
		Result string `json:"result"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("admin %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("admin %s: %s", resp.Status, out.Error)
	}
	return out.Result, nil
}

func init() {
	drillCmd.Flags().StringVar(&drillAdminURL, "admin-url", "http://localhost:8080", "Base URL of the simulator admin server")
	drillCmd.Flags().StringToStringVar(&drillVars, "var", nil, "Placeholder values (e.g. unit=alpha-1,group=alpha,lat=53.2,lng=10.4)")
	drillCmd.Flags().BoolVar(&drillStopOnError, "stop-on-error", false, "Abort at the first failing command")
	drillCmd.Flags().BoolVar(&drillList, "list", false, "List built-in drills")
	drillCmd.Flags().StringVar(&drillLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}
