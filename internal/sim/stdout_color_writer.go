// ColorStdoutWriter prints human-friendly, colorized telemetry to STDOUT.
package sim

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"meshops-sim/internal/config"
	"meshops-sim/internal/telemetry"
)

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorWhite   = "\x1b[37m"
	colorGray    = "\x1b[90m"
)

var groupPalette = []string{colorRed, colorGreen, colorYellow, colorBlue, colorMagenta, colorCyan}

// statusColor picks the color a status is printed in.
func statusColor(s telemetry.Status) string {
	switch s {
	case telemetry.StatusAlarm:
		return colorRed
	case telemetry.StatusOffline, telemetry.StatusMaintenance:
		return colorYellow
	case telemetry.StatusMoving:
		return colorCyan
	default:
		return colorGreen
	}
}

// groupColors hands out a stable palette color per group id.
type groupColors struct {
	colors map[string]string
	next   int
}

func (g *groupColors) get(id string) string {
	if id == "" {
		return colorGray
	}
	if g.colors == nil {
		g.colors = make(map[string]string)
	}
	if c, ok := g.colors[id]; ok {
		return c
	}
	c := groupPalette[g.next%len(groupPalette)]
	g.colors[id] = c
	g.next++
	return c
}

// ColorStdoutWriter prints telemetry rows using ANSI colors.
type ColorStdoutWriter struct {
	cfg    *config.SimulationConfig
	out    io.Writer
	once   sync.Once
	groups groupColors
	mu     sync.Mutex
}

// NewColorStdoutWriter creates a ColorStdoutWriter writing to os.Stdout.
func NewColorStdoutWriter(cfg *config.SimulationConfig) *ColorStdoutWriter {
	return &ColorStdoutWriter{cfg: cfg, out: os.Stdout}
}

func (w *ColorStdoutWriter) printOverview() {
	if w.cfg == nil {
		return
	}

	fmt.Fprintln(w.out, "Simulation Configuration:")
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Cluster:\t%s\n", w.cfg.ClusterID)
	fmt.Fprintf(tw, "Tick Interval:\t%s\n", w.cfg.TickInterval)
	fmt.Fprintf(tw, "Max Range (km):\t%.1f\n", w.cfg.MaxRangeKm)
	if w.cfg.Gateway != nil {
		fmt.Fprintf(tw, "Gateway:\t%.5f,%.5f\n", w.cfg.Gateway.Lat, w.cfg.Gateway.Lng)
	} else {
		fmt.Fprintf(tw, "Gateway:\tnone\n")
	}
	fmt.Fprintf(tw, "Rally:\t%t\n", w.cfg.Rally)
	tw.Flush()

	fmt.Fprintln(w.out, "\nFleets:")
	tw = tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Name\tType\tCount\tGroup\n")
	fleets := append([]config.Fleet(nil), w.cfg.Fleets...)
	sort.SliceStable(fleets, func(i, j int) bool { return fleets[i].Group < fleets[j].Group })
	for _, f := range fleets {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", f.Name, f.Type, f.Count, f.Group)
	}
	tw.Flush()
	fmt.Fprintln(w.out)
}

// Write outputs a single unit row in colorized format.
func (w *ColorStdoutWriter) Write(row telemetry.UnitRow) error {
	w.once.Do(w.printOverview)
	w.mu.Lock()
	defer w.mu.Unlock()

	fmt.Fprintf(w.out, "%s[%s]%s ", colorGray, row.Timestamp.Format(time.RFC3339), colorReset)
	fmt.Fprintf(w.out, "%scluster=%s%s ", colorBlue, row.ClusterID, colorReset)
	fmt.Fprintf(w.out, "%sunit=%s%s ", w.groups.get(row.GroupID), row.Name, colorReset)
	fmt.Fprintf(w.out, "%stype=%s%s ", colorWhite, row.Type, colorReset)
	fmt.Fprintf(w.out, "%slat=%.5f%s ", colorGreen, row.Lat, colorReset)
	fmt.Fprintf(w.out, "%slng=%.5f%s ", colorYellow, row.Lng, colorReset)
	fmt.Fprintf(w.out, "%sspd=%.1f%s ", colorYellow, row.Speed, colorReset)
	fmt.Fprintf(w.out, "%shdg=%.0f%s ", colorCyan, row.Heading, colorReset)
	fmt.Fprintf(w.out, "%sbatt=%.1f%s ", colorCyan, row.Battery, colorReset)
	fmt.Fprintf(w.out, "%shop=%d sig=%d%s ", colorMagenta, row.HopCount, row.SignalStrength, colorReset)
	fmt.Fprintf(w.out, "%sdo=%s%s ", colorBlue, row.Directive, colorReset)
	fmt.Fprintf(w.out, "%sstatus=%s%s", statusColor(row.Status), row.Status, colorReset)
	fmt.Fprintln(w.out)
	return nil
}

// WriteBatch outputs multiple unit rows.
func (w *ColorStdoutWriter) WriteBatch(rows []telemetry.UnitRow) error {
	for _, r := range rows {
		_ = w.Write(r)
	}
	return nil
}

// WriteMessage prints a chatter or operator line.
func (w *ColorStdoutWriter) WriteMessage(m telemetry.MessageRow) error {
	w.once.Do(w.printOverview)
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "%s[%s]%s %sMSG%s %s (%s): %s\n",
		colorGray, m.Timestamp.Format(time.RFC3339), colorReset,
		colorMagenta, colorReset, m.UnitName, m.Source, m.Text)
	return nil
}

// WriteMeshEvent prints a mesh membership event.
func (w *ColorStdoutWriter) WriteMeshEvent(e telemetry.MeshEventRow) error {
	w.once.Do(w.printOverview)
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "%s[%s]%s %sMESH%s type=%s units=%v",
		colorGray, e.Timestamp.Format(time.RFC3339), colorReset,
		colorRed, colorReset, e.EventType, e.UnitIDs)
	if e.SubjectID != "" {
		fmt.Fprintf(w.out, " subject=%s", e.SubjectID)
	}
	fmt.Fprintln(w.out)
	return nil
}

// WriteState prints the topology summary.
func (w *ColorStdoutWriter) WriteState(row telemetry.TopologyStateRow) error {
	w.once.Do(w.printOverview)
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "%s[%s]%s %sMESH-STATE%s units=%d online=%d offline=%d alarm=%d max_hop=%d mean_sig=%.1f passes=%d rally=%t\n",
		colorGray, row.Timestamp.Format(time.RFC3339), colorReset,
		colorBlue, colorReset, row.Units, row.Online, row.Offline, row.Alarm,
		row.MaxHop, row.MeanSignal, row.RelayPasses, row.Rally)
	return nil
}
