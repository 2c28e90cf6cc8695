package scenario

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeExec struct {
	lines []string
	fail  map[string]bool
}

func (f *fakeExec) Execute(_ context.Context, line string) (string, error) {
	f.lines = append(f.lines, line)
	if f.fail[line] {
		return "", errors.New("rejected")
	}
	return "ok", nil
}

// instant makes every wait return immediately and records the requested delays.
func instant(r *Runner, waits *[]time.Duration) {
	r.after = func(d time.Duration) <-chan time.Time {
		*waits = append(*waits, d)
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	start := time.Unix(0, 0)
	r.now = func() time.Time { return start }
}

func TestLoadDrill(t *testing.T) {
	d, err := Load("testdata/drill.yaml")
	if err != nil {
		t.Fatalf("load drill: %v", err)
	}
	if d.Name != "example" || d.Description != "basic test drill" {
		t.Fatalf("unexpected header %+v", d)
	}
	if len(d.Phases) != 2 || d.Phases[1].At != 90*time.Second {
		t.Fatalf("unexpected phases %+v", d.Phases)
	}
	if d.Duration() != 90*time.Second {
		t.Fatalf("unexpected duration %v", d.Duration())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "name: x\n", "no phases"},
		{"order", "phases:\n- {name: a, at: 10s}\n- {name: b, at: 5s}\n", "starts before"},
		{"unknown command", "phases:\n- {name: a, commands: [fly car-1]}\n", "unknown command"},
		{"bad args", "phases:\n- {name: a, commands: [move car-1]}\n", "bad arguments"},
		{"placeholder", "phases:\n- {name: a, commands: ['status {unit} alarm']}\n", "placeholder"},
	}
	for _, tt := range tests {
		_, err := Parse([]byte(tt.yaml))
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: expected error containing %q, got %v", tt.name, tt.want, err)
		}
	}
}

func TestDecodeThenBind(t *testing.T) {
	d, err := Decode([]byte("name: x\nphases:\n- {name: a, commands: ['status {unit} alarm']}\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	bound := d.Bind(map[string]string{"unit": "car-1"})
	if err := bound.Validate(); err != nil {
		t.Fatalf("bound drill invalid: %v", err)
	}
	if got := bound.Phases[0].Commands[0]; got != "status car-1 alarm" {
		t.Fatalf("unexpected command %q", got)
	}
}

func TestBuiltInDrillsBindAndValidate(t *testing.T) {
	vars := map[string]string{"unit": "car-1", "group": "alpha", "lat": "53.2", "lng": "10.4"}
	want := []string{"alarm-drill", "patrol-sweep", "rally-drill"}
	names := BuiltInNames()
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected built-ins %v", names)
	}
	for _, n := range names {
		d := BuiltIn()[n]
		if d.Description == "" {
			t.Errorf("%s: missing description", n)
		}
		if err := d.Validate(); err == nil && n != "rally-drill" {
			t.Errorf("%s: unbound drill should not validate", n)
		}
		bound := d.Bind(vars)
		if err := bound.Validate(); err != nil {
			t.Errorf("%s: %v", n, err)
		}
	}
	// binding must not touch the original
	if !strings.Contains(BuiltIn()["alarm-drill"].Phases[0].Commands[0], "{unit}") {
		t.Fatalf("built-in template modified")
	}
}

func TestRunnerPlaysPhasesInOrder(t *testing.T) {
	d := BuiltIn()["alarm-drill"].Bind(map[string]string{"unit": "car-1"})
	exec := &fakeExec{}
	r := NewRunner(exec)
	var waits []time.Duration
	instant(r, &waits)

	rep, err := r.Run(context.Background(), &d)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{
		"status car-1 alarm",
		"message car-1 requesting assistance",
		"message car-1 responders inbound",
		"status car-1 online",
	}
	if strings.Join(exec.lines, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected commands %v", exec.lines)
	}
	if rep.Phases != 3 || rep.Executed != 4 || rep.Failed != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if len(waits) != 2 || waits[0] != time.Minute || waits[1] != 3*time.Minute {
		t.Fatalf("unexpected waits %v", waits)
	}
}

func TestRunnerContinuesOrStopsOnError(t *testing.T) {
	d := Drill{Name: "t", Phases: []Phase{
		{Name: "a", Commands: []string{"rally on", "rally off"}},
		{Name: "b", Commands: []string{"rally on"}},
	}}
	exec := &fakeExec{fail: map[string]bool{"rally on": true}}
	var waits []time.Duration

	r := NewRunner(exec)
	instant(r, &waits)
	rep, err := r.Run(context.Background(), &d)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Executed != 3 || rep.Failed != 2 {
		t.Fatalf("unexpected report %+v", rep)
	}

	exec.lines = nil
	r = NewRunner(exec, StopOnError())
	instant(r, &waits)
	rep, err = r.Run(context.Background(), &d)
	if err == nil || rep.Executed != 1 {
		t.Fatalf("expected stop after first failure, got %+v %v", rep, err)
	}
}

func TestRunnerCancel(t *testing.T) {
	d := Drill{Name: "t", Phases: []Phase{
		{Name: "a", Commands: []string{"rally on"}},
		{Name: "b", At: time.Hour, Commands: []string{"rally off"}},
	}}
	exec := &fakeExec{}
	r := NewRunner(exec)
	ctx, cancel := context.WithCancel(context.Background())
	r.after = func(time.Duration) <-chan time.Time {
		cancel()
		return make(chan time.Time)
	}
	rep, err := r.Run(ctx, &d)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if rep.Phases != 1 || len(exec.lines) != 1 {
		t.Fatalf("second phase must not run: %+v %v", rep, exec.lines)
	}
}
