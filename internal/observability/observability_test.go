package observability

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankeval/rankeval/internal/analysis"
	"github.com/rankeval/rankeval/internal/bus"
)

var (
	_ analysis.Recorder    = (*Collector)(nil)
	_ bus.MetricsRecorder = (*Collector)(nil)
)

func TestCollector_Scoring(t *testing.T) {
	c := NewCollector()

	c.RecordScoringPass("gbrt", false, time.Millisecond, nil)
	c.RecordScoringPass("gbrt", true, time.Millisecond, nil)
	c.RecordScoringPass("gbrt", true, time.Millisecond, errors.New("boom"))
	c.RecordScoreCacheHit("gbrt")
	c.RecordScoreCacheHit("gbrt")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.ScoringPasses.WithLabelValues("gbrt", "predicted", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ScoringPasses.WithLabelValues("gbrt", "detailed", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ScoringPasses.WithLabelValues("gbrt", "detailed", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.ScoreCacheHits.WithLabelValues("gbrt")))
}

func TestCollector_Analysis(t *testing.T) {
	c := NewCollector()

	c.RecordAnalysis("model_performance", 20*time.Millisecond, nil)
	c.RecordAnalysis("model_performance", 10*time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1, testutil.CollectAndCount(c.AnalysisDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.AnalysisFailures.WithLabelValues("model_performance")))
}

func TestCollector_Bus(t *testing.T) {
	c := NewCollector()

	c.RecordBusPublish("analysis.completed", time.Millisecond, nil)
	c.RecordBusPublish("analysis.completed", time.Millisecond, errors.New("broker down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.BusPublish.WithLabelValues("analysis.completed", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.BusPublish.WithLabelValues("analysis.completed", "error")))
}

func TestCollector_WriteTextfile(t *testing.T) {
	c := NewCollector()
	c.RecordScoreCacheHit("gbrt")

	path := filepath.Join(t.TempDir(), "rankeval.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `rankeval_score_cache_hits_total{model="gbrt"} 1`))
}

func TestRunLog(t *testing.T) {
	log := NewRunLog(10)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := range 12 {
		run := "r1"
		if i%2 == 1 {
			run = "r2"
		}
		log.Add(RunLogEntry{
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			RunID:      run,
			Experiment: "exp",
			Analysis:   "model_performance",
			Status:     StatusOK,
		})
	}

	// 12 entries into a log of 10 drops the two oldest.
	assert.Equal(t, 10, log.Len())
	assert.Len(t, log.Run("r1"), 5)
	assert.Len(t, log.Run("r2"), 5)
	assert.Empty(t, log.Run("missing"))

	got := log.InRange("exp", base.Add(2*time.Minute), base.Add(4*time.Minute))
	assert.Len(t, got, 3)
	assert.Empty(t, log.InRange("other", base, base.Add(time.Hour)))
}

func TestRunLog_DefaultSize(t *testing.T) {
	log := NewRunLog(0)
	log.Add(RunLogEntry{RunID: "r"})

	entries := log.Run("r")
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Timestamp.IsZero())
}
