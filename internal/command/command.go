// Package command parses operator command lines and applies them to a
// running simulation.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"meshops-sim/internal/sim"
	"meshops-sim/internal/telemetry"
)

var (
	// ErrUnknownCommand is returned for a verb that is not recognised.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrBadArgs is returned when arguments are missing or malformed.
	ErrBadArgs = errors.New("bad arguments")
)

// Engine is the part of the simulator commands act on.
type Engine interface {
	ResolveUnit(ref string) (telemetry.Unit, error)
	ResolveGroup(ref string) (telemetry.Group, error)
	SetStatus(ctx context.Context, id string, status telemetry.Status) error
	SendMessage(ctx context.Context, id, text string) (telemetry.Message, error)
	MoveUnit(ctx context.Context, id string, pos telemetry.Position) error
	SetPatrol(ctx context.Context, groupID string, target telemetry.Position, radiusKm float64) error
	SetPendulum(ctx context.Context, groupID string, points []telemetry.Position) error
	RemoveAssignment(ctx context.Context, groupID string) error
	AddUnit(ctx context.Context, spec sim.UnitSpec) (telemetry.Unit, error)
	RemoveUnit(ctx context.Context, id string) error
	ChargeUnit(ctx context.Context, id string, level float64) error
	SetExternalPower(ctx context.Context, id string, on bool) error
	AddGroup(ctx context.Context, name string) (telemetry.Group, error)
	RemoveGroup(ctx context.Context, id string) error
	SetUnitGroup(ctx context.Context, unitID, groupID string) error
	SetRally(ctx context.Context, on bool) error
	SetGateway(ctx context.Context, pos *telemetry.Position) error
}

// Command is one parsed line.
type Command struct {
	Verb string
	Args []string
	Raw  string
}

// Parse splits a line into verb and arguments. The verb is case-insensitive.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty command", ErrBadArgs)
	}
	verb := strings.ToLower(fields[0])
	h, ok := handlers[verb]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
	}
	c := Command{Verb: verb, Args: fields[1:], Raw: strings.TrimSpace(line)}
	if len(c.Args) < h.minArgs || (h.maxArgs >= 0 && len(c.Args) > h.maxArgs) {
		return Command{}, fmt.Errorf("%w: usage: %s", ErrBadArgs, h.usage)
	}
	return c, nil
}

// rest returns the raw text following the first n arguments.
func (c Command) rest(n int) string {
	s := strings.TrimSpace(c.Raw)
	for i := 0; i <= n; i++ {
		s = strings.TrimLeft(s, " \t")
		j := strings.IndexAny(s, " \t")
		if j < 0 {
			return ""
		}
		s = s[j:]
	}
	return strings.TrimSpace(s)
}

type handler struct {
	usage   string
	minArgs int
	maxArgs int
	run     func(ctx context.Context, e Engine, c Command) (string, error)
}

var handlers map[string]handler

func init() {
	handlers = map[string]handler{
		"status":       {"status <unit> <status>", 2, 2, runStatus},
		"message":      {"message <unit> <text>", 2, -1, runMessage},
		"move":         {"move <unit> <lat> <lng>", 3, 3, runMove},
		"patrol":       {"patrol <group> <lat> <lng> <radius_km>", 4, 4, runPatrol},
		"pendulum":     {"pendulum <group> <lat,lng> [<lat,lng> ...]", 2, -1, runPendulum},
		"unassign":     {"unassign <group>", 1, 1, runUnassign},
		"add-unit":     {"add-unit <name> <type> <lat> <lng> [group]", 4, 5, runAddUnit},
		"remove-unit":  {"remove-unit <unit>", 1, 1, runRemoveUnit},
		"charge":       {"charge <unit> [level]", 1, 2, runCharge},
		"power":        {"power <unit> on|off", 2, 2, runPower},
		"join":         {"join <unit> <group>|none", 2, 2, runJoin},
		"add-group":    {"add-group <name>", 1, 1, runAddGroup},
		"remove-group": {"remove-group <group>", 1, 1, runRemoveGroup},
		"rally":        {"rally on|off", 1, 1, runRally},
		"gateway":      {"gateway <lat> <lng> | gateway off", 1, 2, runGateway},
		"help":         {"help", 0, 0, runHelp},
	}
}

// Usage lists every command's syntax in alphabetical order.
func Usage() []string {
	out := make([]string, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, h.usage)
	}
	sort.Strings(out)
	return out
}

// Dispatcher runs commands against an engine.
type Dispatcher struct {
	engine Engine
}

// NewDispatcher returns a dispatcher bound to e.
func NewDispatcher(e Engine) *Dispatcher {
	return &Dispatcher{engine: e}
}

// Execute parses and runs one line, returning a short human reply.
func (d *Dispatcher) Execute(ctx context.Context, line string) (string, error) {
	c, err := Parse(line)
	if err != nil {
		return "", err
	}
	return d.Run(ctx, c)
}

// Run applies an already parsed command.
func (d *Dispatcher) Run(ctx context.Context, c Command) (string, error) {
	h, ok := handlers[c.Verb]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, c.Verb)
	}
	return h.run(ctx, d.engine, c)
}

// Func adapts the dispatcher to a context-free callback, as used by the TUI.
func (d *Dispatcher) Func(ctx context.Context) func(string) (string, error) {
	return func(line string) (string, error) { return d.Execute(ctx, line) }
}

func parseFloat(s, what string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not a number", ErrBadArgs, what, s)
	}
	return v, nil
}

func parsePosition(lat, lng string) (telemetry.Position, error) {
	la, err := parseFloat(lat, "lat")
	if err != nil {
		return telemetry.Position{}, err
	}
	ln, err := parseFloat(lng, "lng")
	if err != nil {
		return telemetry.Position{}, err
	}
	return telemetry.Position{Lat: la, Lng: ln}, nil
}

func parsePair(s string) (telemetry.Position, error) {
	lat, lng, ok := strings.Cut(s, ",")
	if !ok {
		return telemetry.Position{}, fmt.Errorf("%w: point %q must be lat,lng", ErrBadArgs, s)
	}
	return parsePosition(lat, lng)
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: expected on or off, got %q", ErrBadArgs, s)
}

func runStatus(ctx context.Context, e Engine, c Command) (string, error) {
	u, err := e.ResolveUnit(c.Args[0])
	if err != nil {
		return "", err
	}
	status := telemetry.Status(strings.ToLower(c.Args[1]))
	if err := e.SetStatus(ctx, u.ID, status); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s is %s", u.Name, status), nil
}

func runMessage(ctx context.Context, e Engine, c Command) (string, error) {
	u, err := e.ResolveUnit(c.Args[0])
	if err != nil {
		return "", err
	}
	text := c.rest(1)
	if text == "" {
		return "", fmt.Errorf("%w: empty message", ErrBadArgs)
	}
	if _, err := e.SendMessage(ctx, u.ID, text); err != nil {
		return "", err
	}
	return fmt.Sprintf("message sent to %s", u.Name), nil
}

func runMove(ctx context.Context, e Engine, c Command) (string, error) {
	u, err := e.ResolveUnit(c.Args[0])
	if err != nil {
		return "", err
	}
	pos, err := parsePosition(c.Args[1], c.Args[2])
	if err != nil {
		return "", err
	}
	if err := e.MoveUnit(ctx, u.ID, pos); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s moved to %.5f,%.5f", u.Name, pos.Lat, pos.Lng), nil
}

func runPatrol(ctx context.Context, e Engine, c Command) (string, error) {
	g, err := e.ResolveGroup(c.Args[0])
	if err != nil {
		return "", err
	}
	target, err := parsePosition(c.Args[1], c.Args[2])
	if err != nil {
		return "", err
	}
	radius, err := parseFloat(c.Args[3], "radius")
	if err != nil {
		return "", err
	}
	if err := e.SetPatrol(ctx, g.ID, target, radius); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s patrolling %.1f km around %.5f,%.5f", g.Name, radius, target.Lat, target.Lng), nil
}

func runPendulum(ctx context.Context, e Engine, c Command) (string, error) {
	g, err := e.ResolveGroup(c.Args[0])
	if err != nil {
		return "", err
	}
	points := make([]telemetry.Position, 0, len(c.Args)-1)
	for _, a := range c.Args[1:] {
		p, err := parsePair(a)
		if err != nil {
			return "", err
		}
		points = append(points, p)
	}
	if err := e.SetPendulum(ctx, g.ID, points); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s cycling %d points", g.Name, len(points)), nil
}

func runUnassign(ctx context.Context, e Engine, c Command) (string, error) {
	g, err := e.ResolveGroup(c.Args[0])
	if err != nil {
		return "", err
	}
	if err := e.RemoveAssignment(ctx, g.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s unassigned", g.Name), nil
}

func runAddUnit(ctx context.Context, e Engine, c Command) (string, error) {
	pos, err := parsePosition(c.Args[2], c.Args[3])
	if err != nil {
		return "", err
	}
	spec := sim.DefaultUnitSpec(c.Args[0], telemetry.UnitType(strings.ToLower(c.Args[1])), pos)
	if len(c.Args) == 5 {
		g, err := e.ResolveGroup(c.Args[4])
		if err != nil {
			return "", err
		}
		spec.GroupID = g.ID
	}
	u, err := e.AddUnit(ctx, spec)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s added (%s)", u.Name, u.ID), nil
}

func runRemoveUnit(ctx context.Context, e Engine, c Command) (string, error) {
	u, err := e.ResolveUnit(c.Args[0])
	if err != nil {
		return "", err
	}
	if err := e.RemoveUnit(ctx, u.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s removed", u.Name), nil
}

func runCharge(ctx context.Context, e Engine, c Command) (string, error) {
	u, err := e.ResolveUnit(c.Args[0])
	if err != nil {
		return "", err
	}
	level := 100.0
	if len(c.Args) == 2 {
		if level, err = parseFloat(c.Args[1], "level"); err != nil {
			return "", err
		}
	}
	if err := e.ChargeUnit(ctx, u.ID, level); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s charged to %.0f%%", u.Name, level), nil
}

func runPower(ctx context.Context, e Engine, c Command) (string, error) {
	u, err := e.ResolveUnit(c.Args[0])
	if err != nil {
		return "", err
	}
	on, err := parseSwitch(c.Args[1])
	if err != nil {
		return "", err
	}
	if err := e.SetExternalPower(ctx, u.ID, on); err != nil {
		return "", err
	}
	if on {
		return fmt.Sprintf("%s on external power", u.Name), nil
	}
	return fmt.Sprintf("%s on battery", u.Name), nil
}

func runJoin(ctx context.Context, e Engine, c Command) (string, error) {
	u, err := e.ResolveUnit(c.Args[0])
	if err != nil {
		return "", err
	}
	if strings.EqualFold(c.Args[1], "none") {
		if err := e.SetUnitGroup(ctx, u.ID, ""); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s left its group", u.Name), nil
	}
	g, err := e.ResolveGroup(c.Args[1])
	if err != nil {
		return "", err
	}
	if err := e.SetUnitGroup(ctx, u.ID, g.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s joined %s", u.Name, g.Name), nil
}

func runAddGroup(ctx context.Context, e Engine, c Command) (string, error) {
	g, err := e.AddGroup(ctx, c.Args[0])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("group %s added (%s)", g.Name, g.ID), nil
}

func runRemoveGroup(ctx context.Context, e Engine, c Command) (string, error) {
	g, err := e.ResolveGroup(c.Args[0])
	if err != nil {
		return "", err
	}
	if err := e.RemoveGroup(ctx, g.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("group %s removed", g.Name), nil
}

func runRally(ctx context.Context, e Engine, c Command) (string, error) {
	on, err := parseSwitch(c.Args[0])
	if err != nil {
		return "", err
	}
	if err := e.SetRally(ctx, on); err != nil {
		return "", err
	}
	if on {
		return "rally started", nil
	}
	return "rally ended", nil
}

func runGateway(ctx context.Context, e Engine, c Command) (string, error) {
	if len(c.Args) == 1 {
		if !strings.EqualFold(c.Args[0], "off") {
			return "", fmt.Errorf("%w: usage: %s", ErrBadArgs, handlers["gateway"].usage)
		}
		if err := e.SetGateway(ctx, nil); err != nil {
			return "", err
		}
		return "gateway removed", nil
	}
	pos, err := parsePosition(c.Args[0], c.Args[1])
	if err != nil {
		return "", err
	}
	if err := e.SetGateway(ctx, &pos); err != nil {
		return "", err
	}
	return fmt.Sprintf("gateway at %.5f,%.5f", pos.Lat, pos.Lng), nil
}

func runHelp(context.Context, Engine, Command) (string, error) {
	return strings.Join(Usage(), "; "), nil
}
