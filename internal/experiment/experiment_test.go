package experiment

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankeval/rankeval/internal/analysis"
	"github.com/rankeval/rankeval/internal/bus"
	"github.com/rankeval/rankeval/internal/config"
	"github.com/rankeval/rankeval/internal/observability"
	"github.com/rankeval/rankeval/internal/pkg/errors"
	"github.com/rankeval/rankeval/internal/store"
)

const fullManifest = `
name: toy
datasets:
  - name: test
    path: test.json
models:
  - name: gbrt
    n_trees: 2
    contributions:
      test: gbrt.test.json
metrics: [ndcg@10, map]
query_classes:
  default: small
  rules:
    - class: large
      expr: q.size >= 3
analyses:
  - kind: model_performance
  - kind: tree_wise_performance
    step: 1
  - kind: tree_wise_average_contribution
  - kind: query_wise_performance
  - kind: document_graded_relevance
    bins: 4
  - kind: query_class_performance
  - kind: rank_confusion_matrix
  - name: confusion_distinct
    kind: rank_confusion_matrix
    skip_same_label: true
`

// writeFixture lays out a manifest with one two-query dataset and one
// two-tree model.
func writeFixture(t *testing.T, manifest string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"manifest.yaml": manifest,
		"test.json": `{"labels": [2, 1, 0, 0, 1],
			"query_ids": ["q1", "q1", "q1", "q2", "q2"]}`,
		"gbrt.test.json": `[[0.125, 0], [0.5, 0.375], [0.25, 0.25], [0.375, -0.125], [0.125, 0.25]]`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return filepath.Join(dir, "manifest.yaml")
}

type eventSink struct {
	mu     sync.Mutex
	events map[string][]bus.Event
}

func subscribeAll(t *testing.T, b bus.Bus) *eventSink {
	t.Helper()
	sink := &eventSink{events: make(map[string][]bus.Event)}
	for _, topic := range []string{bus.TopicAnalysisCompleted, bus.TopicAnalysisFailed, bus.TopicRunCompleted} {
		require.NoError(t, b.Subscribe(context.Background(), topic, func(_ context.Context, e bus.Event) error {
			sink.mu.Lock()
			defer sink.mu.Unlock()
			sink.events[topic] = append(sink.events[topic], e)
			return nil
		}))
	}
	return sink
}

func (s *eventSink) count(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events[topic])
}

type harness struct {
	runner    *Runner
	results   *store.Service
	bus       *bus.MemoryBus
	sink      *eventSink
	runs      *observability.RunLog
	collector *observability.Collector
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	collector := observability.NewCollector()
	mem := bus.NewMemoryBus(nil)
	t.Cleanup(func() { mem.Close() })

	h := &harness{
		results:   store.NewService(store.NewMemoryStorage(), nil),
		bus:       mem,
		sink:      subscribeAll(t, mem),
		runs:      observability.NewRunLog(100),
		collector: collector,
	}
	engine := analysis.NewEngine(analysis.WithWorkers(2), analysis.WithRecorder(collector))
	h.runner = NewRunner(engine, h.results,
		WithBus(bus.NewInstrumentedBus(mem, collector)),
		WithRunLog(h.runs),
		WithDefaults(config.AnalysisConfig{TreeStep: 1, GradedRelevanceBins: 100}),
	)
	return h
}

func TestRun_AllAnalyses(t *testing.T) {
	m, err := LoadManifest(writeFixture(t, fullManifest))
	require.NoError(t, err)

	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.runner.Run(ctx, m)
	require.NoError(t, err)
	require.True(t, h.bus.Drain(time.Second))

	assert.Equal(t, "toy", rec.Experiment)
	assert.Equal(t, 0, rec.Failed())
	require.Len(t, rec.Analyses, 8)
	for _, a := range rec.Analyses {
		assert.Equal(t, store.TensorKey(rec.ID, a.Name), a.Key, a.Name)
		assert.Positive(t, a.Computed, a.Name)
	}

	perf, err := h.results.LoadTensor(ctx, store.TensorKey(rec.ID, KindModelPerformance))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 2}, perf.Shape())

	contrib, err := h.results.LoadTensor(ctx, store.TensorKey(rec.ID, KindTreeWiseAverageContribution))
	require.NoError(t, err)
	assert.InDelta(t, 1.375/5, contrib.Value(0, 0, 0), 1e-9)
	assert.InDelta(t, 1.0/5, contrib.Value(0, 0, 1), 1e-9)

	classes, err := h.results.LoadTensor(ctx, store.TensorKey(rec.ID, KindQueryClassPerformance))
	require.NoError(t, err)
	axis, _ := classes.Axis(analysis.DimClass)
	assert.Equal(t, []string{"large", "small"}, axis.Labels)

	saved, err := h.results.LoadRun(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Fingerprint, saved.Fingerprint)
	assert.Len(t, saved.Analyses, 8)

	assert.Equal(t, 8, h.sink.count(bus.TopicAnalysisCompleted))
	assert.Equal(t, 0, h.sink.count(bus.TopicAnalysisFailed))
	assert.Equal(t, 1, h.sink.count(bus.TopicRunCompleted))
	assert.Len(t, h.runs.Run(rec.ID), 8)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.collector.BusPublish.WithLabelValues(bus.TopicRunCompleted, "success")))
	assert.Equal(t, 8.0, testutil.ToFloat64(h.collector.BusPublish.WithLabelValues(bus.TopicAnalysisCompleted, "success")))
}

func TestRun_SVMLightDatasetWithClassFile(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"manifest.yaml": `
name: letor
datasets:
  - name: test
    path: test.txt
    n_features: 2
models:
  - name: gbrt
    n_trees: 2
    contributions:
      test: gbrt.test.json
metrics: [ndcg@10]
query_classes:
  files:
    test: test.intent.txt
analyses:
  - kind: query_class_performance
`,
		"test.txt": `# label qid features
2 qid:1 1:0.5 2:0.1
1 qid:1 1:0.2
0 qid:1 2:0.3
0 qid:2 1:0.9
1 qid:2 1:0.4 2:0.4
`,
		"test.intent.txt": "navigational\ninformational\n",
		"gbrt.test.json":  `[[0.125, 0], [0.5, 0.375], [0.25, 0.25], [0.375, -0.125], [0.125, 0.25]]`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	m, err := LoadManifest(filepath.Join(dir, "manifest.yaml"))
	require.NoError(t, err)
	assert.Equal(t, FormatSVMLight, m.Datasets[0].Format)

	h := newHarness(t)
	ctx := context.Background()
	rec, err := h.runner.Run(ctx, m)
	require.NoError(t, err)
	require.Equal(t, 0, rec.Failed())

	classes, err := h.results.LoadTensor(ctx, store.TensorKey(rec.ID, KindQueryClassPerformance))
	require.NoError(t, err)
	axis, _ := classes.Axis(analysis.DimClass)
	assert.Equal(t, []string{"informational", "navigational"}, axis.Labels)
}

func TestRun_ClassFileLengthMismatch(t *testing.T) {
	path := writeFixture(t, `
name: toy
datasets:
  - name: test
    path: test.json
models:
  - name: gbrt
    n_trees: 2
    contributions:
      test: gbrt.test.json
query_classes:
  files:
    test: classes.txt
analyses:
  - kind: query_class_performance
`)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "classes.txt"), []byte("only-one\n"), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)

	_, err = newHarness(t).runner.Run(context.Background(), m)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestRun_FailedAnalysesAreRecorded(t *testing.T) {
	// gbrt has no contributions for the dataset, so every analysis fails
	// while scoring.
	path := writeFixture(t, `
name: broken
datasets:
  - name: test
    path: test.json
models:
  - name: gbrt
    n_trees: 2
metrics: [ndcg]
analyses:
  - kind: model_performance
  - kind: rank_confusion_matrix
`)
	m, err := LoadManifest(path)
	require.NoError(t, err)

	h := newHarness(t)
	rec, err := h.runner.Run(context.Background(), m)
	require.NoError(t, err)
	require.True(t, h.bus.Drain(time.Second))

	assert.Equal(t, 2, rec.Failed())
	for _, a := range rec.Analyses {
		assert.Empty(t, a.Key)
		assert.Contains(t, a.Error, "not found")
	}
	assert.Equal(t, 2, h.sink.count(bus.TopicAnalysisFailed))
	assert.Equal(t, 1, h.sink.count(bus.TopicRunCompleted))

	_, err = h.results.LoadTensor(context.Background(), store.TensorKey(rec.ID, KindModelPerformance))
	assert.True(t, errors.IsNotFound(err))

	for _, e := range h.runs.Run(rec.ID) {
		assert.Equal(t, observability.StatusFailed, e.Status)
	}
}

func TestRun_RepeatedRunsShareFingerprint(t *testing.T) {
	m, err := LoadManifest(writeFixture(t, fullManifest))
	require.NoError(t, err)
	h := newHarness(t)

	first, err := h.runner.Run(context.Background(), m)
	require.NoError(t, err)
	second, err := h.runner.Run(context.Background(), m)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)

	runs, err := h.results.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRun_CancelledContext(t *testing.T) {
	m, err := LoadManifest(writeFixture(t, fullManifest))
	require.NoError(t, err)
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.runner.Run(ctx, m)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_MissingDatasetFile(t *testing.T) {
	path := writeFixture(t, `
name: missing
datasets:
  - name: other
    path: nope.json
metrics: [ndcg]
`)
	m, err := LoadManifest(path)
	require.NoError(t, err)

	_, err = newHarness(t).runner.Run(context.Background(), m)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestParseManifest_Defaults(t *testing.T) {
	m, err := ParseManifest([]byte(`
name: defaults
models:
  - name: remote
    type: rpc
    endpoint: http://localhost:9000/score
    n_trees: 10
    timeout: 5s
  - name: local
    n_trees: 3
analyses:
  - kind: model_performance
`), "/data")
	require.NoError(t, err)

	assert.Equal(t, KindModelPerformance, m.Analyses[0].Name)
	assert.Equal(t, ModelPrecomputed, m.Models[1].Type)
	assert.Equal(t, FormatJSON, formatOf("data/test.JSON"))
	assert.Equal(t, FormatSVMLight, formatOf("data/MSLR/Fold1/test.txt"))
	assert.Equal(t, 5*time.Second, m.Models[0].Timeout)
	assert.Equal(t, filepath.Join("/data", "x.json"), m.path("x.json"))
	assert.Equal(t, "/abs/x.json", m.path("/abs/x.json"))
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		wantErr  string
	}{
		{"no name", `analyses: []`, "name is required"},
		{"unknown kind", "name: x\nanalyses:\n  - kind: bogus\n", `unknown kind "bogus"`},
		{"duplicate analysis", "name: x\nanalyses:\n  - kind: model_performance\n  - kind: model_performance\n", "duplicate name"},
		{"bad analysis name", "name: x\nanalyses:\n  - name: a/b\n    kind: model_performance\n", "invalid name"},
		{"reserved analysis name", "name: x\nanalyses:\n  - name: _run\n    kind: model_performance\n", "invalid name"},
		{"negative step", "name: x\nanalyses:\n  - kind: tree_wise_performance\n    step: -1\n", "step must not be negative"},
		{"classes required", "name: x\nanalyses:\n  - kind: query_class_performance\n", "query_classes are required"},
		{"unknown metric", "name: x\nmetrics: [err@10]\n", "unknown metric"},
		{"model trees", "name: x\nmodels:\n  - name: m\n", "n_trees must be positive"},
		{"rpc endpoint", "name: x\nmodels:\n  - name: m\n    type: rpc\n    n_trees: 1\n", "endpoint is required"},
		{"unknown dataset", "name: x\nmodels:\n  - name: m\n    n_trees: 1\n    contributions:\n      nope: a.json\n", "unknown dataset"},
		{"unknown format", "name: x\ndatasets:\n  - name: d\n    path: d.csv\n    format: csv\n", `unknown format "csv"`},
		{"negative n_features", "name: x\ndatasets:\n  - name: d\n    path: d.txt\n    n_features: -1\n", "n_features must not be negative"},
		{"class file dataset", "name: x\nquery_classes:\n  files:\n    nope: c.txt\n", `file for unknown dataset "nope"`},
		{"bad yaml", "name: [", "parse manifest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.manifest), "")
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadManifest_NotFound(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsNotFound(err))
}

func TestLoadDataset_Offsets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"labels": [1, 0, 2], "offsets": [0, 2, 3]}`), 0o644))

	ds, err := LoadDataset("ds", path)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.NQueries())
	assert.Equal(t, 3, ds.NInstances())
}
