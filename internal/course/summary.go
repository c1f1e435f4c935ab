// internal/course/summary.go
package course

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PassResult is the outcome of one traversal of the outline.
type PassResult struct {
	Name         string `json:"name"`
	Verification bool   `json:"verification"`
	Sections     int    `json:"sections"`
	// Attempted counts topics that were clicked and handed to the watcher,
	// whatever the watcher's outcome.
	Attempted int           `json:"attempted"`
	Watched   int           `json:"watched"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Reloads   int           `json:"reloads"`
	Duration  time.Duration `json:"duration_ns"`
}

// SectionInfo describes one section as seen by a dry run.
type SectionInfo struct {
	Index    int    `json:"index"`
	Title    string `json:"title"`
	Complete bool   `json:"complete"`
	Skipped  bool   `json:"skipped"`
	// Topics is the number of topics currently rendered, which is zero for collapsed sections.
	Topics int `json:"topics"`
}

// Summary aggregates a whole run.
type Summary struct {
	RunID      string        `json:"run_id"`
	Driver     string        `json:"driver"`
	Endpoint   string        `json:"endpoint"`
	Target     string        `json:"target,omitempty"`
	DryRun     bool          `json:"dry_run,omitempty"`
	Passes     []PassResult  `json:"passes"`
	Outline    []SectionInfo `json:"outline,omitempty"`
	Attempted  int           `json:"attempted"`
	Watched    int           `json:"watched"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Error      string        `json:"error,omitempty"`
}

func (s *Summary) add(p PassResult) {
	s.Passes = append(s.Passes, p)
	s.Attempted += p.Attempted
	s.Watched += p.Watched
}

// WriteReport writes the summary as indented JSON, creating parent directories.
func WriteReport(path string, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (Summary, error) {
	var s Summary
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read report: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode report: %w", err)
	}
	return s, nil
}
