// Package scenario loads and runs drills: timed command scripts played
// against a running simulation.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"meshops-sim/internal/command"
	"meshops-sim/internal/logging"
)

// Drill is an ordered list of phases.
type Drill struct {
	Name        string  `yaml:"name,omitempty"`
	Description string  `yaml:"description,omitempty"`
	Phases      []Phase `yaml:"phases"`
}

// Phase runs its commands once At has elapsed since the drill started.
type Phase struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	At          time.Duration `yaml:"at"`
	Commands    []string      `yaml:"commands"`
}

// Executor runs one command line.
type Executor interface {
	Execute(ctx context.Context, line string) (string, error)
}

// Load reads a YAML drill from disk and validates it.
func Load(path string) (*Drill, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read drill: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a YAML drill.
func Parse(b []byte) (*Drill, error) {
	d, err := Decode(b)
	if err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Decode reads a YAML drill without validating it, so placeholders can be
// bound first.
func Decode(b []byte) (*Drill, error) {
	var d Drill
	if err := yaml.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("parse drill: %w", err)
	}
	return &d, nil
}

// Validate checks phase timing and that every command parses.
func (d *Drill) Validate() error {
	if len(d.Phases) == 0 {
		return errors.New("drill has no phases")
	}
	var errs []error
	for i, p := range d.Phases {
		if p.At < 0 {
			errs = append(errs, fmt.Errorf("phase %s: negative offset", p.Name))
		}
		if i > 0 && p.At < d.Phases[i-1].At {
			errs = append(errs, fmt.Errorf("phase %s: starts before %s", p.Name, d.Phases[i-1].Name))
		}
		for _, line := range p.Commands {
			if strings.Contains(line, "{") {
				errs = append(errs, fmt.Errorf("phase %s: unbound placeholder in %q", p.Name, line))
				continue
			}
			if _, err := command.Parse(line); err != nil {
				errs = append(errs, fmt.Errorf("phase %s: %q: %w", p.Name, line, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Duration is the offset of the last phase.
func (d *Drill) Duration() time.Duration {
	if len(d.Phases) == 0 {
		return 0
	}
	return d.Phases[len(d.Phases)-1].At
}

// Bind returns a copy with {key} placeholders in commands replaced.
func (d Drill) Bind(vars map[string]string) Drill {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := d
	out.Phases = make([]Phase, len(d.Phases))
	for i, p := range d.Phases {
		p.Commands = append([]string(nil), p.Commands...)
		for j, line := range p.Commands {
			for _, k := range keys {
				line = strings.ReplaceAll(line, "{"+k+"}", vars[k])
			}
			p.Commands[j] = line
		}
		out.Phases[i] = p
	}
	return out
}

// Report summarises a drill run.
type Report struct {
	Phases   int
	Executed int
	Failed   int
}

// Runner plays drills against an executor.
type Runner struct {
	exec        Executor
	stopOnError bool
	after       func(time.Duration) <-chan time.Time
	now         func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// StopOnError aborts the drill at the first failing command.
func StopOnError() Option { return func(r *Runner) { r.stopOnError = true } }

// NewRunner returns a runner that executes commands through exec.
func NewRunner(exec Executor, opts ...Option) *Runner {
	r := &Runner{exec: exec, after: time.After, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run plays d to the end or until ctx is done. Failing commands are logged
// and counted unless StopOnError is set.
func (r *Runner) Run(ctx context.Context, d *Drill) (Report, error) {
	log := logging.FromContext(ctx).With("drill", d.Name)
	var rep Report
	start := r.now()
	log.Info("drill started", "phases", len(d.Phases), "duration", d.Duration())
	for _, p := range d.Phases {
		if wait := p.At - r.now().Sub(start); wait > 0 {
			select {
			case <-ctx.Done():
				log.Info("drill cancelled", "phase", p.Name)
				return rep, ctx.Err()
			case <-r.after(wait):
			}
		}
		rep.Phases++
		log.Info("phase", "phase", p.Name, "description", p.Description)
		if err := r.runPhase(ctx, log, p, &rep); err != nil {
			return rep, err
		}
	}
	log.Info("drill finished", "executed", rep.Executed, "failed", rep.Failed)
	return rep, nil
}

func (r *Runner) runPhase(ctx context.Context, log *slog.Logger, p Phase, rep *Report) error {
	for _, line := range p.Commands {
		out, err := r.exec.Execute(ctx, line)
		rep.Executed++
		if err != nil {
			rep.Failed++
			log.Warn("drill command failed", "phase", p.Name, "command", line, "err", err)
			if r.stopOnError {
				return fmt.Errorf("phase %s: %q: %w", p.Name, line, err)
			}
			continue
		}
		log.Info("drill command", "phase", p.Name, "command", line, "result", out)
	}
	return nil
}
