package sim

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"meshops-sim/internal/config"
	"meshops-sim/internal/telemetry"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// CommandFunc executes one operator command line and returns its reply.
type CommandFunc func(line string) (string, error)

// logMsg carries a log line for the viewport.
type logMsg struct{ line string }

// unitMsg carries the latest row of one unit for the table.
type unitMsg struct{ telemetry.UnitRow }

// eventMsg carries a mesh event line.
type eventMsg struct{ line string }

// stateMsg carries a topology state update.
type stateMsg struct{ telemetry.TopologyStateRow }

// setCommandMsg installs the command handler.
type setCommandMsg struct{ fn CommandFunc }

// commandResultMsg reports the outcome of a command.
type commandResultMsg struct{ line string }

const (
	maxLogLines         = 500
	maxSectionHeightPct = 0.2
)

// TUIWriter renders telemetry using a bubbletea TUI.
type TUIWriter struct {
	program    teaProgram
	mu         sync.Mutex
	groups     groupColors
	done       chan struct{}
	sendSignal atomic.Bool
}

// NewTUIWriter starts a bubbletea program and returns a TUIWriter.
// Quitting the TUI interrupts the process.
func NewTUIWriter(cfg *config.SimulationConfig) *TUIWriter {
	w := &TUIWriter{done: make(chan struct{})}
	w.sendSignal.Store(true)
	p := tea.NewProgram(newTUIModel(cfg), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

// SetCommandHandler wires the ':' prompt to fn.
func (w *TUIWriter) SetCommandHandler(fn CommandFunc) {
	w.program.Send(setCommandMsg{fn: fn})
}

// Write implements TelemetryWriter.
func (w *TUIWriter) Write(row telemetry.UnitRow) error {
	w.mu.Lock()
	gc := w.groups.get(row.GroupID)
	w.mu.Unlock()
	line := fmt.Sprintf("%s[%s]%s %s%s%s %s%s%s %slat=%.5f lng=%.5f%s %sspd=%.1f%s %sbatt=%.1f%s %shop=%d sig=%d%s %s%s%s",
		colorGray, row.Timestamp.Format(time.RFC3339), colorReset,
		gc, row.Name, colorReset,
		colorWhite, row.Type, colorReset,
		colorGreen, row.Lat, row.Lng, colorReset,
		colorYellow, row.Speed, colorReset,
		colorCyan, row.Battery, colorReset,
		colorMagenta, row.HopCount, row.SignalStrength, colorReset,
		statusColor(row.Status), row.Status, colorReset,
	)
	w.program.Send(logMsg{line: line})
	w.program.Send(unitMsg{row})
	return nil
}

// WriteBatch implements the batch writer.
func (w *TUIWriter) WriteBatch(rows []telemetry.UnitRow) error {
	for _, r := range rows {
		_ = w.Write(r)
	}
	return nil
}

// WriteMessage implements MessageWriter.
func (w *TUIWriter) WriteMessage(m telemetry.MessageRow) error {
	line := fmt.Sprintf("%s[%s]%s %sMSG%s %s (%s): %s",
		colorGray, m.Timestamp.Format(time.RFC3339), colorReset,
		colorMagenta, colorReset, m.UnitName, m.Source, m.Text)
	w.program.Send(logMsg{line: line})
	return nil
}

// WriteMeshEvent implements MeshEventWriter.
func (w *TUIWriter) WriteMeshEvent(e telemetry.MeshEventRow) error {
	line := fmt.Sprintf("%s[%s]%s %s%s%s units=%s",
		colorGray, e.Timestamp.Format(time.RFC3339), colorReset,
		colorRed, e.EventType, colorReset, strings.Join(e.UnitIDs, ","))
	if e.SubjectID != "" {
		line += " subject=" + e.SubjectID
	}
	w.program.Send(eventMsg{line: line})
	return nil
}

// WriteState implements StateWriter.
func (w *TUIWriter) WriteState(row telemetry.TopologyStateRow) error {
	w.program.Send(stateMsg{row})
	return nil
}

// Close shuts down the TUI program and waits for cleanup.
func (w *TUIWriter) Close() error {
	w.sendSignal.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

type tuiModel struct {
	cfg        *config.SimulationConfig
	table      table.Model
	vp         viewport.Model
	eventVP    viewport.Model
	input      textinput.Model
	prompt     bool
	run        CommandFunc
	logs       []string
	events     []string
	units      map[string]telemetry.UnitRow
	state      telemetry.TopologyStateRow
	haveState  bool
	wrap       bool
	autoscroll bool
	help       bool
	width      int
	height     int
}

func newTUIModel(cfg *config.SimulationConfig) tuiModel {
	cols := []table.Column{
		{Title: "Unit", Width: 16},
		{Title: "Type", Width: 10},
		{Title: "Status", Width: 11},
		{Title: "Batt", Width: 6},
		{Title: "Hop", Width: 4},
		{Title: "Sig", Width: 5},
		{Title: "Doing", Width: 10},
	}
	in := textinput.New()
	in.Placeholder = "rally on | status car-1 alarm | charge medic-2"
	in.Prompt = ": "
	return tuiModel{
		cfg:        cfg,
		table:      table.New(table.WithColumns(cols), table.WithHeight(6)),
		vp:         viewport.New(0, 0),
		eventVP:    viewport.New(0, 0),
		input:      in,
		units:      make(map[string]telemetry.UnitRow),
		autoscroll: true,
	}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.eventVP.Width = msg.Width
		m.layout()
		m.refreshViewport()
		m.refreshEvents()
	case tea.KeyMsg:
		if m.prompt {
			return m.updatePrompt(msg)
		}
		if m.help {
			switch msg.String() {
			case "?", "esc", "q":
				m.help = false
			}
			return m, nil
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
			}
		case "?":
			m.help = true
		case ":":
			m.prompt = true
			m.input.Reset()
			m.input.Focus()
			return m, textinput.Blink
		default:
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			return m, cmd
		}
	case logMsg:
		m.logs = appendCapped(m.logs, msg.line)
		m.refreshViewport()
	case unitMsg:
		m.units[msg.UnitID] = msg.UnitRow
		m.refreshTable()
	case eventMsg:
		m.events = appendCapped(m.events, msg.line)
		m.layout()
		m.refreshEvents()
	case stateMsg:
		m.state = msg.TopologyStateRow
		m.haveState = true
	case setCommandMsg:
		m.run = msg.fn
	case commandResultMsg:
		m.logs = appendCapped(m.logs, msg.line)
		m.refreshViewport()
	}
	return m, nil
}

func (m tuiModel) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		line := strings.TrimSpace(m.input.Value())
		m.prompt = false
		m.input.Blur()
		if line == "" {
			return m, nil
		}
		if m.run == nil {
			m.logs = appendCapped(m.logs, colorYellow+"commands unavailable"+colorReset)
			m.refreshViewport()
			return m, nil
		}
		run := m.run
		return m, func() tea.Msg {
			out, err := run(line)
			if err != nil {
				return commandResultMsg{line: fmt.Sprintf("%s> %s: %v%s", colorRed, line, err, colorReset)}
			}
			return commandResultMsg{line: fmt.Sprintf("%s> %s: %s%s", colorGreen, line, out, colorReset)}
		}
	case tea.KeyEsc:
		m.prompt = false
		m.input.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func appendCapped(lines []string, line string) []string {
	lines = append(lines, line)
	if over := len(lines) - maxLogLines; over > 0 {
		lines = append([]string(nil), lines[over:]...)
	}
	return lines
}

func (m *tuiModel) layout() {
	maxLines := int(float64(m.height) * maxSectionHeightPct)
	if maxLines < 1 {
		maxLines = 1
	}
	tableLines := len(m.units) + 1
	if tableLines > maxLines*2 {
		tableLines = maxLines * 2
	}
	if tableLines < 2 {
		tableLines = 2
	}
	m.table.SetHeight(tableLines)

	eventLines := len(m.events)
	if eventLines == 0 {
		eventLines = 1
	}
	if eventLines > maxLines {
		eventLines = maxLines
	}
	m.eventVP.Height = eventLines

	bottom := lipgloss.Height(m.renderBottom())
	h := m.height - lipgloss.Height(m.table.View()) - (1 + m.eventVP.Height) - bottom - 3
	if h < 0 {
		h = 0
	}
	m.vp.Height = h
	if m.autoscroll {
		m.vp.GotoBottom()
		m.eventVP.GotoBottom()
	}
}

func (m *tuiModel) refreshTable() {
	ids := make([]string, 0, len(m.units))
	for id := range m.units {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return m.units[ids[i]].Name < m.units[ids[j]].Name })
	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		u := m.units[id]
		rows = append(rows, table.Row{
			u.Name,
			string(u.Type),
			string(u.Status),
			fmt.Sprintf("%.0f%%", u.Battery),
			fmt.Sprintf("%d", u.HopCount),
			fmt.Sprintf("%d", u.SignalStrength),
			u.Directive,
		})
	}
	m.table.SetRows(rows)
	m.layout()
}

func (m *tuiModel) refreshViewport() {
	var lines []string
	for _, l := range m.logs {
		if m.wrap && m.vp.Width > 0 {
			lines = append(lines, wordwrap.String(l, m.vp.Width))
		} else {
			lines = append(lines, l)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshEvents() {
	content := "none"
	if len(m.events) > 0 {
		content = strings.Join(m.events, "\n")
	}
	m.eventVP.SetContent(content)
	if m.autoscroll {
		m.eventVP.GotoBottom()
	}
}

func (m tuiModel) View() string {
	if m.help {
		return m.renderHelp()
	}
	divider := strings.Repeat("─", m.width)
	return strings.Join([]string{
		m.table.View(),
		divider,
		m.vp.View(),
		divider,
		"Mesh Events:",
		m.eventVP.View(),
		divider,
		m.renderBottom(),
	}, "\n")
}

func (m tuiModel) renderBottom() string {
	if m.prompt {
		return m.input.View()
	}
	style := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	status := "waiting for first tick"
	if m.haveState {
		gw := "no gateway"
		if m.state.GatewaySet {
			gw = "gateway"
		}
		status = fmt.Sprintf("units %d  online %d  offline %d  alarm %d  max hop %d  mean sig %.0f  %s",
			m.state.Units, m.state.Online, m.state.Offline, m.state.Alarm, m.state.MaxHop, m.state.MeanSignal, gw)
		if m.state.Rally {
			status += "  " + lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true).Render("RALLY")
		}
	}
	flags := fmt.Sprintf("wrap:%t scroll:%t", m.wrap, m.autoscroll)
	return status + "\n" + style.Render(flags+"  [:] command  [?] help  [q] quit")
}

func (m tuiModel) renderHelp() string {
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render("Keys") + "\n")
	b.WriteString("  :      enter a command\n")
	b.WriteString("  w      toggle line wrap\n")
	b.WriteString("  s      toggle autoscroll\n")
	b.WriteString("  ?      toggle this help\n")
	b.WriteString("  q      quit\n\n")
	b.WriteString(lipgloss.NewStyle().Bold(true).Render("Commands") + "\n")
	b.WriteString("  status <unit> <status>        message <unit> <text>\n")
	b.WriteString("  move <unit> <lat> <lng>       charge <unit> [level]\n")
	b.WriteString("  patrol <group> <lat> <lng> <radius_km>\n")
	b.WriteString("  pendulum <group> <lat,lng> <lat,lng> ...\n")
	b.WriteString("  unassign <group>              rally on|off\n")
	b.WriteString("  add-unit <name> <type> <lat> <lng> [group]\n")
	b.WriteString("  remove-unit <unit>            add-group <name>\n")
	b.WriteString("  remove-group <group>          gateway <lat> <lng>|off\n")
	return b.String()
}
