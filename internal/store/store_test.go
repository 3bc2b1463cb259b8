package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rankeval/rankeval/internal/config"
	"github.com/rankeval/rankeval/internal/pkg/errors"
	"github.com/rankeval/rankeval/internal/tensor"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"run-1/model_performance", true},
		{"6f1c2a/_run", true},
		{"a", true},
		{"a.b/c-d", true},
		{"", false},
		{"/abs", false},
		{"a//b", false},
		{"a/../b", false},
		{"a/./b", false},
		{"a b", false},
		{"trailing/", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.valid && err != nil {
				t.Errorf("expected %q to be valid, got error: %v", tt.key, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("expected %q to be invalid, got no error", tt.key)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	if got := TensorKey("r1", "tree_wise"); got != "r1/tree_wise" {
		t.Errorf("TensorKey() = %s", got)
	}
	if !IsRunKey(RunKey("r1")) {
		t.Error("IsRunKey(RunKey()) = false")
	}
	if IsRunKey(TensorKey("r1", "x")) {
		t.Error("IsRunKey(TensorKey()) = true")
	}
}

// testStorage exercises the Storage contract.
func testStorage(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	if err := s.Put(ctx, "r1/a", []byte(`{"x":1}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Put(ctx, "r1/b", []byte(`{"x":2}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Put(ctx, "r2/a", []byte(`{"x":3}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	data, err := s.Get(ctx, "r1/b")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != `{"x":2}` {
		t.Errorf("Get() = %s", data)
	}

	// overwrite
	if err := s.Put(ctx, "r1/b", []byte(`{"x":4}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	data, _ = s.Get(ctx, "r1/b")
	if string(data) != `{"x":4}` {
		t.Errorf("Get() after overwrite = %s", data)
	}

	keys, err := s.List(ctx, "r1/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 2 || keys[0] != "r1/a" || keys[1] != "r1/b" {
		t.Errorf("List(r1/) = %v", keys)
	}

	all, _ := s.List(ctx, "")
	if len(all) != 3 {
		t.Errorf("List() = %v, want 3 keys", all)
	}

	if err := s.Delete(ctx, "r1/a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, "r1/a"); err != nil {
		t.Fatalf("Delete() of missing key error = %v", err)
	}
	if _, err := s.Get(ctx, "r1/a"); !errors.IsNotFound(err) {
		t.Errorf("Get() after Delete() error = %v, want not found", err)
	}

	if err := s.Put(ctx, "../escape", []byte("x")); !errors.IsValidation(err) {
		t.Errorf("Put() with unsafe key error = %v, want validation error", err)
	}
}

func TestMemoryStorage(t *testing.T) {
	testStorage(t, NewMemoryStorage())
}

func TestMemoryStorage_CopiesData(t *testing.T) {
	s := NewMemoryStorage()
	buf := []byte("abc")
	s.Put(context.Background(), "k", buf)
	buf[0] = 'x'

	data, _ := s.Get(context.Background(), "k")
	if string(data) != "abc" {
		t.Errorf("stored data changed with caller buffer: %s", data)
	}
}

func TestFileStorage(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStorage(dir)
	testStorage(t, s)

	if _, err := os.Stat(filepath.Join(dir, "r2", "a.json")); err != nil {
		t.Errorf("expected r2/a.json on disk: %v", err)
	}
}

func TestFileStorage_MissingDir(t *testing.T) {
	s := NewFileStorage(filepath.Join(t.TempDir(), "none"))
	keys, err := s.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("List() = %v, want empty", keys)
	}
}

func TestNewRedisStorage_InvalidURL(t *testing.T) {
	_, err := NewRedisStorage("invalid://url", "test:", 0)
	if err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestNewRedisStorage_ConnectionFailure(t *testing.T) {
	_, err := NewRedisStorage("redis://localhost:9999", "test:", 0)
	if err == nil {
		t.Fatal("expected error for connection failure")
	}
}

func TestRedisStorage(t *testing.T) {
	// Skip if Redis not available
	prefix := "rankeval-test:" + time.Now().Format("150405.000000") + ":"
	s, err := NewRedisStorage("redis://localhost:6379/15", prefix, time.Minute)
	if err != nil {
		t.Skip("Redis not available:", err)
	}
	defer s.Close()

	ctx := context.Background()
	defer func() {
		keys, _ := s.List(ctx, "")
		for _, k := range keys {
			s.Delete(ctx, k)
		}
	}()

	testStorage(t, s)
}

func TestNew(t *testing.T) {
	s, err := New(config.StoreConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("New(memory) error = %v", err)
	}
	if _, ok := s.(*MemoryStorage); !ok {
		t.Errorf("New(memory) = %T", s)
	}

	s, err = New(config.StoreConfig{Type: "file", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New(file) error = %v", err)
	}
	if _, ok := s.(*FileStorage); !ok {
		t.Errorf("New(file) = %T", s)
	}

	if _, err := New(config.StoreConfig{Type: "s3"}); !errors.IsValidation(err) {
		t.Errorf("New(s3) error = %v, want validation error", err)
	}
}

func sampleTensor() *tensor.Tensor {
	out := tensor.New("Model Performance",
		tensor.StringAxis("dataset", []string{"train", "test"}),
		tensor.StringAxis("metric", []string{"NDCG@10"}))
	out.Set(0.75, 0, 0)
	return out
}

func TestService_Tensors(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStorage(), nil)
	defer svc.Close()

	key := TensorKey("run-1", "model_performance")
	if err := svc.SaveTensor(ctx, key, sampleTensor()); err != nil {
		t.Fatalf("SaveTensor() error = %v", err)
	}

	got, err := svc.LoadTensor(ctx, key)
	if err != nil {
		t.Fatalf("LoadTensor() error = %v", err)
	}
	if got.Name != "Model Performance" {
		t.Errorf("Name = %s", got.Name)
	}
	if v, ok := got.At(0, 0); !ok || v != 0.75 {
		t.Errorf("At(0,0) = %v, %v", v, ok)
	}
	if _, ok := got.At(1, 0); ok {
		t.Error("missing cell came back valid")
	}

	if _, err := svc.LoadTensor(ctx, "run-1/absent"); !errors.IsNotFound(err) {
		t.Errorf("LoadTensor(absent) error = %v, want not found", err)
	}
}

func TestService_Runs(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStorage(), nil)

	run := &RunRecord{
		ID:         "run-1",
		Experiment: "baseline",
		StartedAt:  time.Now(),
		Analyses: []AnalysisRecord{
			{Name: "perf", Kind: "model_performance", Key: TensorKey("run-1", "perf")},
			{Name: "bad", Kind: "rank_confusion_matrix", Error: "boom"},
		},
	}
	if err := svc.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if err := svc.SaveTensor(ctx, TensorKey("run-1", "perf"), sampleTensor()); err != nil {
		t.Fatalf("SaveTensor() error = %v", err)
	}

	got, err := svc.LoadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadRun() error = %v", err)
	}
	if got.Experiment != "baseline" || len(got.Analyses) != 2 || got.Failed() != 1 {
		t.Errorf("LoadRun() = %+v", got)
	}

	ids, _ := svc.ListRuns(ctx)
	if len(ids) != 1 || ids[0] != "run-1" {
		t.Errorf("ListRuns() = %v", ids)
	}

	results, _ := svc.ListResults(ctx, "run-1/")
	if len(results) != 1 || results[0] != "run-1/perf" {
		t.Errorf("ListResults() = %v", results)
	}

	if _, err := svc.LoadTensor(ctx, RunKey("run-1")); !errors.IsValidation(err) {
		t.Errorf("LoadTensor(run key) error = %v, want validation error", err)
	}

	if err := svc.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun() error = %v", err)
	}
	if err := svc.DeleteRun(ctx, "run-1"); !errors.IsNotFound(err) {
		t.Errorf("second DeleteRun() error = %v, want not found", err)
	}
}
