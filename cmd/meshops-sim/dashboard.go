package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"meshops-sim/internal/dashboard"
)

var (
	dashOut    string
	dashTables dashboard.Tables
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Render Grafana dashboards",
	Long:  "dashboard renders GreptimeDB and InfluxDB dashboards. Datasource uids come from GREPTIMEDB_DATASOURCE_UID and INFLUX_DATASOURCE_UID.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := dashboard.Render(dashOut, dashTables); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "dashboards written to %s\n", dashOut)
		return nil
	},
}

func init() {
	def := dashboard.DefaultTables()
	f := dashboardCmd.Flags()
	f.StringVar(&dashOut, "out", "build", "Output directory")
	f.StringVar(&dashTables.Unit, "unit-table", def.Unit, "GreptimeDB unit table")
	f.StringVar(&dashTables.Message, "message-table", def.Message, "GreptimeDB message table")
	f.StringVar(&dashTables.Event, "event-table", def.Event, "GreptimeDB mesh event table")
	f.StringVar(&dashTables.State, "state-table", def.State, "GreptimeDB topology state table")
	f.StringVar(&dashTables.UnitMeasurement, "unit-measurement", def.UnitMeasurement, "InfluxDB unit measurement")
	f.StringVar(&dashTables.EventMeasurement, "event-measurement", def.EventMeasurement, "InfluxDB mesh event measurement")
	f.StringVar(&dashTables.StateMeasurement, "state-measurement", def.StateMeasurement, "InfluxDB topology state measurement")
}
