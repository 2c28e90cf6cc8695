// Package advisory turns a unit snapshot into operator advice.
package advisory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"meshops-sim/internal/telemetry"
)

// Severity orders findings; higher is more urgent.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// MarshalText renders the severity by name.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "critical":
		*s = SeverityCritical
	case "warning":
		*s = SeverityWarning
	case "info", "":
		*s = SeverityInfo
	default:
		return fmt.Errorf("unknown severity %q", b)
	}
	return nil
}

// Finding kinds.
const (
	KindAlarm      = "alarm"
	KindStranded   = "stranded"
	KindDepleted   = "depleted"
	KindLowBattery = "low_battery"
	KindDeepHop    = "deep_hop"
)

// Names carries the display tables used to phrase findings.
type Names struct {
	Types    map[string]string `json:"types"`
	Statuses map[string]string `json:"statuses"`
}

func (n Names) typeName(t telemetry.UnitType) string {
	if name, ok := n.Types[string(t)]; ok {
		return name
	}
	return string(t)
}

// Finding is one observation about one unit.
type Finding struct {
	Severity Severity `json:"severity"`
	Kind     string   `json:"kind"`
	UnitID   string   `json:"unit_id"`
	UnitName string   `json:"unit_name"`
	Text     string   `json:"text"`
}

// Advice is the result of one analysis.
type Advice struct {
	Summary     string    `json:"summary"`
	Findings    []Finding `json:"findings"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Advisor analyses a snapshot of units.
type Advisor interface {
	Analyze(ctx context.Context, units []telemetry.Unit, names Names) (Advice, error)
}

// Defaults for the rule based advisor.
const (
	DefaultLowBattery = 20.0
	DefaultDeepHop    = 3
)

// Rules is a local advisor built from fixed thresholds.
type Rules struct {
	LowBattery float64
	DeepHop    int
	now        func() time.Time
}

// NewRules returns a rule advisor with the default thresholds.
func NewRules() *Rules {
	return &Rules{LowBattery: DefaultLowBattery, DeepHop: DefaultDeepHop, now: time.Now}
}

// Analyze implements Advisor.
func (r *Rules) Analyze(ctx context.Context, units []telemetry.Unit, names Names) (Advice, error) {
	if err := ctx.Err(); err != nil {
		return Advice{}, err
	}
	var out []Finding
	for _, u := range units {
		out = append(out, r.inspect(u, names)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity > out[j].Severity
		}
		return out[i].UnitName < out[j].UnitName
	})
	return Advice{Summary: summarize(len(units), out), Findings: out, GeneratedAt: r.now().UTC()}, nil
}

func (r *Rules) inspect(u telemetry.Unit, names Names) []Finding {
	label := fmt.Sprintf("%s %s", names.typeName(u.Type), u.Name)
	f := func(sev Severity, kind, format string, args ...any) Finding {
		return Finding{Severity: sev, Kind: kind, UnitID: u.ID, UnitName: u.Name, Text: label + " " + fmt.Sprintf(format, args...)}
	}
	var out []Finding
	if u.Status == telemetry.StatusAlarm {
		out = append(out, f(SeverityCritical, KindAlarm, "raised an alarm"))
	}
	switch {
	case !u.Active && u.Battery <= 0 && !u.ExternallyPowered:
		out = append(out, f(SeverityCritical, KindDepleted, "is offline with a depleted battery"))
	case !u.Active:
		out = append(out, f(SeverityWarning, KindStranded, "is out of mesh range"))
	case !u.ExternallyPowered && u.Battery < r.LowBattery:
		out = append(out, f(SeverityWarning, KindLowBattery, "is at %.0f%% battery", u.Battery))
	}
	if u.Active && r.DeepHop > 0 && u.HopCount >= r.DeepHop {
		out = append(out, f(SeverityInfo, KindDeepHop, "is %d hops from the gateway", u.HopCount))
	}
	return out
}

func summarize(units int, findings []Finding) string {
	if len(findings) == 0 {
		return fmt.Sprintf("%d units, nothing to report", units)
	}
	var counts [3]int
	for _, f := range findings {
		counts[f.Severity]++
	}
	var parts []string
	for sev := SeverityCritical; sev >= SeverityInfo; sev-- {
		if counts[sev] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[sev], sev))
		}
	}
	return fmt.Sprintf("%d units, %d findings (%s)", units, len(findings), strings.Join(parts, ", "))
}
