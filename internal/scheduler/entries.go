package scheduler

import (
	"fmt"
	"strings"
)

// Disabled is the schedule value that turns an entry off.
const Disabled = "off"

// Spec describes an entry in configuration form.
type Spec struct {
	Name     string
	TaskName string
	Expr     string
	Args     []any
	Kwargs   map[string]any
}

// Build parses specs into entries, skipping disabled ones.
func Build(specs []Spec) ([]Entry, error) {
	entries := make([]Entry, 0, len(specs))
	for _, sp := range specs {
		expr := strings.TrimSpace(sp.Expr)
		if expr == "" || strings.EqualFold(expr, Disabled) {
			continue
		}
		trig, err := ParseTrigger(expr)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", sp.Name, err)
		}
		task := sp.TaskName
		if task == "" {
			task = sp.Name
		}
		entries = append(entries, Entry{
			Name:     sp.Name,
			TaskName: task,
			Trigger:  trig,
			Args:     sp.Args,
			Kwargs:   sp.Kwargs,
		})
	}
	return entries, nil
}
