package scenario

import (
	"sort"
	"time"
)

// BuiltIn returns the predefined drills. Commands use {unit}, {group},
// {lat} and {lng} placeholders that must be bound before running.
func BuiltIn() map[string]Drill {
	return map[string]Drill{
		"rally-drill": {
			Name:        "Rally Drill",
			Description: "All units return to the control center and are released again.",
			Phases: []Phase{
				{Name: "recall", At: 0, Description: "Rally is called.", Commands: []string{"rally on"}},
				{Name: "release", At: 2 * time.Minute, Description: "Units resume their assignments.", Commands: []string{"rally off"}},
			},
		},
		"alarm-drill": {
			Name:        "Alarm Drill",
			Description: "One unit raises an alarm and the nearest units respond.",
			Phases: []Phase{
				{
					Name:        "alarm",
					Description: "Unit signals distress.",
					Commands:    []string{"status {unit} alarm", "message {unit} requesting assistance"},
				},
				{
					Name:        "response",
					At:          time.Minute,
					Description: "Operator confirms responders are inbound.",
					Commands:    []string{"message {unit} responders inbound"},
				},
				{
					Name:        "stand-down",
					At:          3 * time.Minute,
					Description: "Alarm cleared.",
					Commands:    []string{"status {unit} online"},
				},
			},
		},
		"patrol-sweep": {
			Name:        "Patrol Sweep",
			Description: "A group sweeps a disc around a point, widens it, then stands down.",
			Phases: []Phase{
				{Name: "inner", Description: "Tight patrol.", Commands: []string{"patrol {group} {lat} {lng} 0.5"}},
				{Name: "outer", At: 2 * time.Minute, Description: "Sweep widens.", Commands: []string{"patrol {group} {lat} {lng} 2"}},
				{Name: "stand-down", At: 5 * time.Minute, Description: "Group released.", Commands: []string{"unassign {group}"}},
			},
		},
	}
}

// BuiltInNames lists the predefined drills alphabetically.
func BuiltInNames() []string {
	var names []string
	for n := range BuiltIn() {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
