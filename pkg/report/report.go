// Package report accumulates per-item import outcomes into the run's final
// artifact: a mapping from identity to status code.
package report

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome status codes.
const (
	StatusImported       = 200 // import and version metadata update succeeded
	StatusImportFailed   = 400 // import failed after retries, or the spec was unusable
	StatusMetadataFailed = 500 // import succeeded, version metadata update failed
)

// Outcome is the terminal result of one item's pipeline. Exactly one Outcome
// is produced per candidate item; it is never mutated after creation.
type Outcome struct {
	Identity       string        `json:"identity"`
	SourceLocation string        `json:"source_location"`
	StatusCode     int           `json:"status_code"`
	Attempts       int           `json:"attempts"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// Run is the shared accumulator for a single import run. Record is the only
// write path and is safe for concurrent workers.
type Run struct {
	ID        string
	StartedAt time.Time

	mu       sync.Mutex
	outcomes map[string]Outcome
}

// NewRun creates an empty run report.
func NewRun() *Run {
	return &Run{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
		outcomes:  make(map[string]Outcome),
	}
}

// Record stores one item's outcome. A duplicate identity is stored under a
// source-qualified key so no outcome is ever dropped.
func (r *Run) Record(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := o.Identity
	if _, exists := r.outcomes[key]; exists {
		key = o.Identity + "#" + o.SourceLocation
	}

	r.outcomes[key] = o
}

// Len returns the number of recorded outcomes.
func (r *Run) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.outcomes)
}

// Outcomes returns a copy of the recorded outcomes.
func (r *Run) Outcomes() map[string]Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Outcome, len(r.outcomes))
	for k, v := range r.outcomes {
		out[k] = v
	}

	return out
}

// Summary is the rendered run report consumed by CI tooling.
type Summary struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Total      int            `json:"total"`
	Imported   int            `json:"imported"`
	Failed     int            `json:"failed"`
	Degraded   bool           `json:"degraded"`
	Statuses   map[string]int `json:"statuses"`
	Outcomes   []Outcome      `json:"outcomes"`
}

// Summarize renders the accumulated outcomes. Pure aggregation: the report is
// the run itself, rendered identity -> status code.
func (r *Run) Summarize() *Summary {
	outcomes := r.Outcomes()

	s := &Summary{
		RunID:      r.ID,
		StartedAt:  r.StartedAt,
		FinishedAt: time.Now(),
		Total:      len(outcomes),
		Statuses:   make(map[string]int, len(outcomes)),
		Outcomes:   make([]Outcome, 0, len(outcomes)),
	}

	for key, o := range outcomes {
		s.Statuses[key] = o.StatusCode
		s.Outcomes = append(s.Outcomes, o)

		if o.StatusCode == StatusImported {
			s.Imported++
		} else {
			s.Failed++
			s.Degraded = true
		}
	}

	return s
}

// JSON renders the summary as indented JSON.
func (s *Summary) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
