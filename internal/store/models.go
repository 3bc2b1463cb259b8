// Package store persists analysis results.
//
// Results are addressed by slash-separated keys such as
// "<run-id>/model_performance". Backends store opaque documents; Service
// encodes tensors and run records on top of them.
package store

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// RunRecord describes one experiment run.
type RunRecord struct {
	ID          string           `json:"id"`
	Experiment  string           `json:"experiment"`
	Fingerprint string           `json:"fingerprint"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	Analyses    []AnalysisRecord `json:"analyses"`
}

// AnalysisRecord describes one analysis of a run.
type AnalysisRecord struct {
	Name     string        `json:"name"`
	Kind     string        `json:"kind"`
	Key      string        `json:"key,omitempty"`
	Shape    []int         `json:"shape,omitempty"`
	Computed int           `json:"computed"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Failed returns the number of analyses that ended with an error.
func (r *RunRecord) Failed() int {
	n := 0
	for _, a := range r.Analyses {
		if a.Error != "" {
			n++
		}
	}
	return n
}

// runRecordName is the last key segment of a run record.
const runRecordName = "_run"

// TensorKey returns the key of an analysis result within a run.
func TensorKey(runID, analysis string) string {
	return runID + "/" + analysis
}

// RunKey returns the key of a run record.
func RunKey(runID string) string {
	return runID + "/" + runRecordName
}

// IsRunKey reports whether key addresses a run record.
func IsRunKey(key string) bool {
	return strings.HasSuffix(key, "/"+runRecordName)
}

var (
	// keySegmentRegex validates one key segment.
	keySegmentRegex = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._-]*$`)

	// MaxKeyLength is the maximum length of a key.
	MaxKeyLength = 256
)

// ValidateKey checks that key is a non-empty sequence of safe segments.
// Keys double as relative file paths in the file backend.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("key cannot exceed %d characters", MaxKeyLength)
	}
	for _, seg := range strings.Split(key, "/") {
		if !keySegmentRegex.MatchString(seg) {
			return fmt.Errorf("key %q: segment %q must be alphanumeric with '.', '_' or '-'", key, seg)
		}
	}
	return nil
}
