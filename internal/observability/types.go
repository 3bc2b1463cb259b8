package observability

import "time"

// Entry status values.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// RunLogEntry records one finished analysis of an experiment run.
type RunLogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"run_id"`
	Experiment string    `json:"experiment"`
	Analysis   string    `json:"analysis"`
	Status     string    `json:"status"`
	Computed   int       `json:"computed"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}
