package experiment

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rankeval/rankeval/internal/analysis"
	"github.com/rankeval/rankeval/internal/classify"
	"github.com/rankeval/rankeval/internal/config"
	"github.com/rankeval/rankeval/internal/dataset"
	"github.com/rankeval/rankeval/internal/metric"
	"github.com/rankeval/rankeval/internal/pkg/errors"
	"github.com/rankeval/rankeval/internal/scoring"
)

// datasetFile is the on-disk form of a dataset. Queries are given either by
// a per-row query id column or by offsets.
type datasetFile struct {
	Labels   []float64   `json:"labels"`
	QueryIDs []string    `json:"query_ids,omitempty"`
	Offsets  []int       `json:"offsets,omitempty"`
	Features [][]float64 `json:"features,omitempty"`
}

// LoadDataset reads a dataset in the JSON layout.
func LoadDataset(name, path string) (*dataset.Dataset, error) {
	var f datasetFile
	if err := readJSON(path, &f); err != nil {
		return nil, err
	}
	if f.QueryIDs != nil {
		return dataset.FromQueryIDs(name, f.Labels, f.QueryIDs, f.Features)
	}
	return dataset.New(name, f.Labels, f.Offsets, f.Features)
}

// LoadContributions reads an instance x tree contribution matrix.
func LoadContributions(path string) ([][]float64, error) {
	var partial [][]float64
	if err := readJSON(path, &partial); err != nil {
		return nil, err
	}
	return partial, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NotFoundError(fmt.Sprintf("file %s", path))
		}
		return errors.Wrap(errors.CodeInternal, "read "+path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(errors.CodeValidation, "decode "+path, err)
	}
	return nil
}

func (m *Manifest) loadDataset(spec DatasetSpec) (*dataset.Dataset, error) {
	format := spec.Format
	if format == "" {
		format = formatOf(spec.Path)
	}
	if format == FormatJSON {
		return LoadDataset(spec.Name, m.path(spec.Path))
	}
	return dataset.LoadSVMLight(spec.Name, m.path(spec.Path), spec.NFeatures)
}

// build loads the datasets and models of a manifest and compiles its
// metrics and query classes. The class assignment is nil when the manifest
// has no query classes.
func (m *Manifest) build(sc config.ScoringConfig) (analysis.Input, *classify.Assignment, error) {
	var in analysis.Input

	for _, spec := range m.Datasets {
		ds, err := m.loadDataset(spec)
		if err != nil {
			return in, nil, err
		}
		in.Datasets = append(in.Datasets, ds)
	}

	for _, spec := range m.Models {
		model, err := m.buildModel(spec, sc)
		if err != nil {
			return in, nil, err
		}
		in.Models = append(in.Models, model)
	}

	metrics, err := metric.ParseAll(m.Metrics)
	if err != nil {
		return in, nil, err
	}
	in.Metrics = metrics

	if m.QueryClasses == nil {
		return in, nil, nil
	}
	classifier, err := classify.New(m.QueryClasses.Rules, m.QueryClasses.Default)
	if err != nil {
		return in, nil, err
	}
	classes := classify.NewAssignment(classifier)
	for _, ds := range in.Datasets {
		path, ok := m.QueryClasses.Files[ds.Name()]
		if !ok {
			continue
		}
		assigned, err := classify.LoadFile(ds, m.path(path), m.QueryClasses.Default)
		if err != nil {
			return in, nil, err
		}
		classes.Set(ds.Name(), assigned)
	}
	return in, classes, nil
}

func (m *Manifest) buildModel(spec ModelSpec, sc config.ScoringConfig) (scoring.Model, error) {
	switch spec.Type {
	case ModelRPC:
		timeout := spec.Timeout
		if timeout == 0 {
			timeout = sc.Timeout
		}
		return scoring.NewRPCModel(scoring.RPCConfig{
			Name:      spec.Name,
			Endpoint:  spec.Endpoint,
			NTrees:    spec.NTrees,
			Timeout:   timeout,
			BatchSize: sc.BatchSize,
			RateLimit: sc.RateLimit,
			Burst:     sc.Burst,
		})

	default:
		model := scoring.NewPrecomputed(spec.Name, spec.NTrees)
		for ds, path := range spec.Contributions {
			partial, err := LoadContributions(m.path(path))
			if err != nil {
				return nil, err
			}
			if err := model.Add(ds, partial); err != nil {
				return nil, err
			}
		}
		return model, nil
	}
}
