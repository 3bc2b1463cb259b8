package scoring

import (
	"context"
	"fmt"
	"sync"

	"github.com/rankeval/rankeval/internal/dataset"
	"github.com/rankeval/rankeval/internal/pkg/errors"
)

// PrecomputedModel serves per-tree contributions that were computed
// elsewhere, e.g. dumped by the training framework.
type PrecomputedModel struct {
	name   string
	nTrees int

	mu      sync.RWMutex
	partial map[string][][]float64 // dataset name -> instance x tree
}

// NewPrecomputed creates an empty precomputed model with nTrees trees.
func NewPrecomputed(name string, nTrees int) *PrecomputedModel {
	return &PrecomputedModel{
		name:    name,
		nTrees:  nTrees,
		partial: make(map[string][][]float64),
	}
}

// Add registers the contributions for a dataset.
func (m *PrecomputedModel) Add(datasetName string, partial [][]float64) error {
	for i, row := range partial {
		if len(row) != m.nTrees {
			return errors.ValidationError(fmt.Sprintf("model %s: row %d of %s has %d contributions, want %d",
				m.name, i, datasetName, len(row), m.nTrees))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partial[datasetName] = partial
	return nil
}

// Name implements Model.
func (m *PrecomputedModel) Name() string { return m.name }

// String implements fmt.Stringer.
func (m *PrecomputedModel) String() string { return m.name }

// NTrees implements Model.
func (m *PrecomputedModel) NTrees() int { return m.nTrees }

// Score implements Model.
func (m *PrecomputedModel) Score(_ context.Context, ds *dataset.Dataset, detailed bool) (*Scores, error) {
	m.mu.RLock()
	partial, ok := m.partial[ds.Name()]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.NotFoundError(fmt.Sprintf("contributions of model %s for dataset %s", m.name, ds.Name()))
	}

	scores := NewDetailed(partial)
	if !detailed {
		scores.Partial = nil
	}
	return scores, nil
}
