// Package dashboard renders Grafana dashboards for the mesh telemetry sinks.
package dashboard

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"meshops-sim/internal/sim"
	"meshops-sim/internal/telemetry"
)

//go:embed templates/*.json.tmpl
var templates embed.FS

var templateFiles = []string{
	"mesh-greptime.json.tmpl",
	"mesh-influx.json.tmpl",
}

// Tables names the sink tables the dashboards query.
type Tables struct {
	Unit    string
	Message string
	Event   string
	State   string
	// Influx measurements
	UnitMeasurement  string
	EventMeasurement string
	StateMeasurement string
}

// DefaultTables matches the writers' defaults.
func DefaultTables() Tables {
	return Tables{
		Unit:             telemetry.UnitTableName,
		Message:          sim.DefaultMessageTable,
		Event:            sim.DefaultEventTable,
		State:            sim.DefaultStateTable,
		UnitMeasurement:  sim.InfluxUnitMeasurement,
		EventMeasurement: sim.InfluxEventMeasurement,
		StateMeasurement: sim.InfluxStateMeasurement,
	}
}

// Render parses the dashboard templates and writes rendered dashboards to
// outDir. Datasource uids come from GREPTIMEDB_DATASOURCE_UID and
// INFLUX_DATASOURCE_UID.
func Render(outDir string, tables Tables) error {
	funcMap := template.FuncMap{
		"env": func(key string) (string, error) {
			v := os.Getenv(key)
			if v == "" {
				return "", fmt.Errorf("environment variable %s not set", key)
			}
			return v, nil
		},
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for _, name := range templateFiles {
		t, err := template.New(name).Funcs(funcMap).ParseFS(templates, "templates/"+name)
		if err != nil {
			return err
		}
		outPath := filepath.Join(outDir, strings.TrimSuffix(name, ".tmpl"))
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		if err := t.Execute(f, tables); err != nil {
			f.Close()
			return fmt.Errorf("render %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
