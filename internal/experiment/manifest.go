// Package experiment loads experiment manifests and runs their analyses,
// storing every result tensor and announcing progress on the event bus.
package experiment

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rankeval/rankeval/internal/classify"
	"github.com/rankeval/rankeval/internal/metric"
	"github.com/rankeval/rankeval/internal/pkg/errors"
	"github.com/rankeval/rankeval/internal/store"
)

// Analysis kinds.
const (
	KindModelPerformance            = "model_performance"
	KindTreeWisePerformance         = "tree_wise_performance"
	KindTreeWiseAverageContribution = "tree_wise_average_contribution"
	KindQueryWisePerformance        = "query_wise_performance"
	KindDocumentGradedRelevance     = "document_graded_relevance"
	KindQueryClassPerformance       = "query_class_performance"
	KindRankConfusionMatrix         = "rank_confusion_matrix"
)

var kinds = map[string]bool{
	KindModelPerformance:            true,
	KindTreeWisePerformance:         true,
	KindTreeWiseAverageContribution: true,
	KindQueryWisePerformance:        true,
	KindDocumentGradedRelevance:     true,
	KindQueryClassPerformance:       true,
	KindRankConfusionMatrix:         true,
}

// Model types.
const (
	ModelPrecomputed = "precomputed"
	ModelRPC         = "rpc"
)

// Manifest describes an experiment.
//
//	name: msn-baseline
//	datasets:
//	  - name: test
//	    path: data/test.txt # svmlight with qid
//	models:
//	  - name: lambdamart
//	    type: precomputed
//	    n_trees: 500
//	    contributions:
//	      test: data/lambdamart.test.json
//	metrics: [ndcg@10, map]
//	query_classes:
//	  default: other
//	  rules:
//	    - class: short
//	      expr: q.size < 10
//	  files:
//	    test: data/test.intent.txt
//	analyses:
//	  - kind: tree_wise_performance
//	    step: 10
type Manifest struct {
	Name         string         `yaml:"name"`
	Datasets     []DatasetSpec  `yaml:"datasets"`
	Models       []ModelSpec    `yaml:"models"`
	Metrics      []string       `yaml:"metrics"`
	QueryClasses *ClassesSpec   `yaml:"query_classes"`
	Analyses     []AnalysisSpec `yaml:"analyses"`

	raw []byte // file contents, for fingerprinting
	dir string // relative paths resolve against this
}

// Dataset file formats.
const (
	FormatJSON     = "json"
	FormatSVMLight = "svmlight"
)

// DatasetSpec points to a dataset file. Format defaults from the file
// extension: .json is FormatJSON, anything else FormatSVMLight. NFeatures
// fixes the feature width of svmlight files.
type DatasetSpec struct {
	Name      string `yaml:"name"`
	Path      string `yaml:"path"`
	Format    string `yaml:"format"`
	NFeatures int    `yaml:"n_features"`
}

// ModelSpec describes a model. Precomputed models read per-tree
// contributions for each dataset from Contributions; rpc models call
// Endpoint.
type ModelSpec struct {
	Name          string            `yaml:"name"`
	Type          string            `yaml:"type"`
	NTrees        int               `yaml:"n_trees"`
	Contributions map[string]string `yaml:"contributions"`
	Endpoint      string            `yaml:"endpoint"`
	Timeout       time.Duration     `yaml:"timeout"`
}

// ClassesSpec configures query classification. Files maps a dataset name
// to a file of externally assigned classes (see classify.LoadFile); the
// remaining datasets are classified by Rules.
type ClassesSpec struct {
	Default string            `yaml:"default"`
	Rules   []classify.Rule   `yaml:"rules"`
	Files   map[string]string `yaml:"files"`
}

// AnalysisSpec selects an analysis and its parameters. Name defaults to
// Kind and must be unique within the manifest.
type AnalysisSpec struct {
	Name          string   `yaml:"name"`
	Kind          string   `yaml:"kind"`
	Step          int      `yaml:"step"`
	Bins          int      `yaml:"bins"`
	Start         *float64 `yaml:"start"`
	End           *float64 `yaml:"end"`
	SkipSameLabel bool     `yaml:"skip_same_label"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundError(fmt.Sprintf("manifest %s", path))
		}
		return nil, errors.Wrap(errors.CodeInternal, "read manifest", err)
	}
	return ParseManifest(data, filepath.Dir(path))
}

// ParseManifest parses and validates a manifest. Relative file paths are
// resolved against dir.
func ParseManifest(data []byte, dir string) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "parse manifest", err)
	}
	m.raw = data
	m.dir = dir

	for i := range m.Analyses {
		if m.Analyses[i].Name == "" {
			m.Analyses[i].Name = m.Analyses[i].Kind
		}
	}
	for i := range m.Datasets {
		if m.Datasets[i].Format == "" {
			m.Datasets[i].Format = formatOf(m.Datasets[i].Path)
		}
	}
	for i := range m.Models {
		if m.Models[i].Type == "" {
			m.Models[i].Type = ModelPrecomputed
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest and reports every problem found.
func (m *Manifest) Validate() error {
	var errs []string

	if m.Name == "" {
		errs = append(errs, "name is required")
	}

	datasets := make(map[string]bool)
	for i, d := range m.Datasets {
		switch {
		case d.Name == "":
			errs = append(errs, fmt.Sprintf("datasets[%d]: name is required", i))
		case datasets[d.Name]:
			errs = append(errs, fmt.Sprintf("datasets[%d]: duplicate name %q", i, d.Name))
		}
		datasets[d.Name] = true
		if d.Path == "" {
			errs = append(errs, fmt.Sprintf("datasets[%d]: path is required", i))
		}
		if d.Format != "" && d.Format != FormatJSON && d.Format != FormatSVMLight {
			errs = append(errs, fmt.Sprintf("datasets[%d]: unknown format %q", i, d.Format))
		}
		if d.NFeatures < 0 {
			errs = append(errs, fmt.Sprintf("datasets[%d]: n_features must not be negative", i))
		}
	}

	models := make(map[string]bool)
	for i, md := range m.Models {
		switch {
		case md.Name == "":
			errs = append(errs, fmt.Sprintf("models[%d]: name is required", i))
		case models[md.Name]:
			errs = append(errs, fmt.Sprintf("models[%d]: duplicate name %q", i, md.Name))
		}
		models[md.Name] = true
		if md.NTrees < 1 {
			errs = append(errs, fmt.Sprintf("models[%d]: n_trees must be positive", i))
		}
		switch md.Type {
		case ModelPrecomputed:
			for ds := range md.Contributions {
				if !datasets[ds] {
					errs = append(errs, fmt.Sprintf("models[%d]: contributions for unknown dataset %q", i, ds))
				}
			}
		case ModelRPC:
			if md.Endpoint == "" {
				errs = append(errs, fmt.Sprintf("models[%d]: endpoint is required", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("models[%d]: unknown type %q", i, md.Type))
		}
	}

	if _, err := metric.ParseAll(m.Metrics); err != nil {
		errs = append(errs, err.Error())
	}

	if m.QueryClasses != nil {
		for ds := range m.QueryClasses.Files {
			if !datasets[ds] {
				errs = append(errs, fmt.Sprintf("query_classes: file for unknown dataset %q", ds))
			}
		}
	}

	names := make(map[string]bool)
	for i, a := range m.Analyses {
		if !kinds[a.Kind] {
			errs = append(errs, fmt.Sprintf("analyses[%d]: unknown kind %q", i, a.Kind))
		}
		// names become the last key segment; "_" is reserved for run records
		if err := store.ValidateKey(a.Name); err != nil || strings.ContainsAny(a.Name, "/") || strings.HasPrefix(a.Name, "_") {
			errs = append(errs, fmt.Sprintf("analyses[%d]: invalid name %q", i, a.Name))
		} else if names[a.Name] {
			errs = append(errs, fmt.Sprintf("analyses[%d]: duplicate name %q", i, a.Name))
		}
		names[a.Name] = true
		if a.Step < 0 {
			errs = append(errs, fmt.Sprintf("analyses[%d]: step must not be negative", i))
		}
		if a.Bins < 0 {
			errs = append(errs, fmt.Sprintf("analyses[%d]: bins must not be negative", i))
		}
		if a.Kind == KindQueryClassPerformance && m.QueryClasses == nil {
			errs = append(errs, fmt.Sprintf("analyses[%d]: query_classes are required", i))
		}
	}

	if len(errs) > 0 {
		return errors.ValidationError("invalid manifest: " + strings.Join(errs, "; "))
	}
	return nil
}

// formatOf picks a dataset format from the file extension.
func formatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatSVMLight
}

// path resolves p against the manifest directory.
func (m *Manifest) path(p string) string {
	if filepath.IsAbs(p) || m.dir == "" {
		return p
	}
	return filepath.Join(m.dir, p)
}
