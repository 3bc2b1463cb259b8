package classify

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rankeval/rankeval/internal/dataset"
	"github.com/rankeval/rankeval/internal/pkg/errors"
)

// LoadFile reads externally assigned query classes for ds.
//
// A .json file holds either an array with one class per query, in query
// order, or an object keyed by query id; queries missing from the object
// get fallback (DefaultClass when empty). Any other file holds one class
// per line in query order; blank lines and lines starting with '#' are
// skipped.
func LoadFile(ds *dataset.Dataset, path, fallback string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundError(fmt.Sprintf("class file %s", path))
		}
		return nil, errors.Wrap(errors.CodeInternal, "read "+path, err)
	}
	if fallback == "" {
		fallback = DefaultClass
	}

	var classes []string
	if strings.EqualFold(filepath.Ext(path), ".json") {
		classes, err = decodeJSON(ds, data, fallback)
		if err != nil {
			return nil, errors.Wrap(errors.CodeValidation, "decode "+path, err)
		}
	} else {
		sc := bufio.NewScanner(strings.NewReader(string(data)))
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			classes = append(classes, line)
		}
		if err := sc.Err(); err != nil {
			return nil, errors.Wrap(errors.CodeValidation, "read "+path, err)
		}
	}

	if len(classes) != ds.NQueries() {
		return nil, errors.ValidationError(
			fmt.Sprintf("class file %s has %d classes, dataset %s has %d queries",
				path, len(classes), ds.Name(), ds.NQueries()))
	}
	return classes, nil
}

func decodeJSON(ds *dataset.Dataset, data []byte, fallback string) ([]string, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var classes []string
		if err := json.Unmarshal(data, &classes); err != nil {
			return nil, err
		}
		return classes, nil
	}

	var byID map[string]string
	if err := json.Unmarshal(data, &byID); err != nil {
		return nil, err
	}
	classes := make([]string, ds.NQueries())
	for q := range classes {
		class, ok := byID[ds.QueryID(q)]
		if !ok || class == "" {
			class = fallback
		}
		classes[q] = class
	}
	return classes, nil
}

// Assignment produces the per-query classes of several datasets. Datasets
// with a fixed assignment use it as is; the others go through the
// classifier.
type Assignment struct {
	classifier *Classifier
	fixed      map[string][]string
}

// NewAssignment creates an assignment backed by c.
func NewAssignment(c *Classifier) *Assignment {
	return &Assignment{classifier: c, fixed: make(map[string][]string)}
}

// Set fixes the classes of the named dataset.
func (a *Assignment) Set(datasetName string, classes []string) {
	a.fixed[datasetName] = classes
}

// Assign returns one class array per dataset, in order.
func (a *Assignment) Assign(datasets []*dataset.Dataset) ([][]string, error) {
	out := make([][]string, len(datasets))
	for i, ds := range datasets {
		if classes, ok := a.fixed[ds.Name()]; ok {
			out[i] = classes
			continue
		}
		classes, err := a.classifier.Classify(ds)
		if err != nil {
			return nil, err
		}
		out[i] = classes
	}
	return out, nil
}
