// Package reports writes generated reports as JSON files.
package reports

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrEmptyName = errors.New("report name is required")

const timestampLayout = "20060102_150405"

type Sink struct {
	dir string
	now func() time.Time
}

func NewSink(dir string) *Sink {
	if dir == "" {
		dir = "reports"
	}
	return &Sink{dir: dir, now: time.Now}
}

func (s *Sink) Dir() string { return s.dir }

// Write stores v as {name}_{subject}_{rng}_{timestamp}.json and returns the
// file path. Empty parts are left out of the file name.
func (s *Sink) Write(name, subject, rng string, v any) (string, error) {
	if name == "" {
		return "", ErrEmptyName
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}

	parts := []string{sanitize(name)}
	for _, p := range []string{subject, rng} {
		if p = sanitize(p); p != "" {
			parts = append(parts, p)
		}
	}
	parts = append(parts, s.now().UTC().Format(timestampLayout))
	path := filepath.Join(s.dir, strings.Join(parts, "_")+".json")

	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ', r == '/', r == '.', r == ':':
			return '-'
		default:
			return -1
		}
	}, strings.TrimSpace(s))
}
