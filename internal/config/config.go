// YAML config loader with CUE validation integration
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"meshops-sim/internal/geo"

	"gopkg.in/yaml.v3"
)

// Point is a lat/lng pair in degrees.
type Point = geo.Point

// Fleet spawns Count units of one type around Center.
type Fleet struct {
	Name              string   `yaml:"name"`
	Type              string   `yaml:"type"`
	Count             int      `yaml:"count"`
	Group             string   `yaml:"group"`
	Center            Point    `yaml:"center"`
	SpreadKm          float64  `yaml:"spread_km"`
	Battery           *float64 `yaml:"battery"`
	ExternallyPowered bool     `yaml:"externally_powered"`
	SendIntervalS     float64  `yaml:"send_interval_s"`
}

// Patrol keeps a group inside a disc.
type Patrol struct {
	Target   Point   `yaml:"target"`
	RadiusKm float64 `yaml:"radius_km"`
}

// Pendulum cycles a group through waypoints.
type Pendulum struct {
	Points []Point `yaml:"points"`
}

// Assignment is a standing order for a named group. Exactly one of Patrol
// or Pendulum is set.
type Assignment struct {
	Group    string    `yaml:"group"`
	Patrol   *Patrol   `yaml:"patrol"`
	Pendulum *Pendulum `yaml:"pendulum"`
}

// SimulationConfig is the root configuration for the mesh, its groups and fleets.
type SimulationConfig struct {
	ClusterID      string            `yaml:"cluster_id"`
	TickInterval   time.Duration     `yaml:"tick_interval"`
	MaxRangeKm     float64           `yaml:"max_range_km"`
	Seed           int64             `yaml:"seed"`
	LogLevel       string            `yaml:"log_level"`
	Gateway        *Point            `yaml:"gateway"`
	Rally          bool              `yaml:"rally"`
	TypeNames      map[string]string `yaml:"type_names"`
	StatusNames    map[string]string `yaml:"status_names"`
	ChatterPhrases []string          `yaml:"chatter_phrases"`
	Groups         []string          `yaml:"groups"`
	Fleets         []Fleet           `yaml:"fleets"`
	Assignments    []Assignment      `yaml:"assignments"`
}

// Defaults applied when the YAML leaves a field empty.
const (
	DefaultClusterID     = "mesh-local"
	DefaultTickInterval  = time.Second
	DefaultMaxRangeKm    = 3.0
	DefaultSendIntervalS = 5.0
	DefaultSpreadKm      = 1.0
	DefaultBattery       = 100.0
)

// DefaultTypeNames are the display names of the built-in unit types.
var DefaultTypeNames = map[string]string{
	"vehicle":   "Vehicle",
	"personnel": "Personnel",
	"support":   "Support",
	"military":  "Military",
	"police":    "Police",
	"air":       "Air",
}

// DefaultStatusNames are the display names of the built-in statuses.
var DefaultStatusNames = map[string]string{
	"online":      "Online",
	"moving":      "Moving",
	"idle":        "Idle",
	"alarm":       "Alarm",
	"offline":     "Offline",
	"maintenance": "Maintenance",
}

// Load loads YAML config and validates it against a CUE schema
func Load(configPath, cueSchemaPath string) (*SimulationConfig, error) {
	if err := ValidateWithCue(configPath, cueSchemaPath); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML without schema validation, applies defaults and
// environment overrides, and checks cross references.
func Parse(data []byte) (*SimulationConfig, error) {
	var cfg SimulationConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *SimulationConfig) applyDefaults() {
	if c.ClusterID == "" {
		c.ClusterID = DefaultClusterID
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.MaxRangeKm <= 0 {
		c.MaxRangeKm = DefaultMaxRangeKm
	}
	c.TypeNames = withDefaults(c.TypeNames, DefaultTypeNames)
	c.StatusNames = withDefaults(c.StatusNames, DefaultStatusNames)
	for i := range c.Fleets {
		f := &c.Fleets[i]
		if f.SendIntervalS <= 0 {
			f.SendIntervalS = DefaultSendIntervalS
		}
		if f.SpreadKm <= 0 {
			f.SpreadKm = DefaultSpreadKm
		}
		if f.Battery == nil {
			b := DefaultBattery
			f.Battery = &b
		}
	}
}

func withDefaults(m, defaults map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(m))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (c *SimulationConfig) applyEnv() error {
	if env := os.Getenv("CLUSTER_ID"); env != "" {
		c.ClusterID = env
	}
	if env := os.Getenv("TICK_INTERVAL"); env != "" {
		d, err := time.ParseDuration(env)
		if err != nil {
			return fmt.Errorf("TICK_INTERVAL: %w", err)
		}
		c.TickInterval = d
	}
	return nil
}

// Check verifies references between fleets, groups and assignments.
func (c *SimulationConfig) Check() error {
	groups := make(map[string]bool, len(c.Groups))
	for _, g := range c.Groups {
		if groups[g] {
			return fmt.Errorf("group %q declared twice", g)
		}
		groups[g] = true
	}
	var errs []error
	for _, f := range c.Fleets {
		if f.Group != "" && !groups[f.Group] {
			errs = append(errs, fmt.Errorf("fleet %q: unknown group %q", f.Name, f.Group))
		}
		if _, ok := c.TypeNames[f.Type]; !ok {
			errs = append(errs, fmt.Errorf("fleet %q: unknown type %q", f.Name, f.Type))
		}
	}
	seen := make(map[string]bool)
	for _, a := range c.Assignments {
		if !groups[a.Group] {
			errs = append(errs, fmt.Errorf("assignment: unknown group %q", a.Group))
		}
		if seen[a.Group] {
			errs = append(errs, fmt.Errorf("assignment: group %q assigned twice", a.Group))
		}
		seen[a.Group] = true
		if (a.Patrol == nil) == (a.Pendulum == nil) {
			errs = append(errs, fmt.Errorf("assignment %q: set exactly one of patrol or pendulum", a.Group))
		}
		if a.Pendulum != nil && len(a.Pendulum.Points) == 0 {
			errs = append(errs, fmt.Errorf("assignment %q: pendulum needs points", a.Group))
		}
	}
	return errors.Join(errs...)
}
