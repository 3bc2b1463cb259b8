package metric

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rankeval/rankeval/internal/pkg/errors"
)

// Parse builds a metric from its textual form:
//
//	ndcg, ndcg@10, ndcg@10:exp, dcg@5, p@10 (or precision@10), mrr, map
//
// Precision, MRR and MAP count labels >= 1 as relevant.
func Parse(spec string) (Metric, error) {
	s := strings.ToLower(strings.TrimSpace(spec))

	gain := GainFlat
	if base, ok := strings.CutSuffix(s, ":exp"); ok {
		s, gain = base, GainExp
	}

	name, cutoffStr, hasCutoff := strings.Cut(s, "@")
	cutoff := 0
	if hasCutoff {
		n, err := strconv.Atoi(cutoffStr)
		if err != nil || n < 1 {
			return nil, errors.ValidationError(fmt.Sprintf("metric %q: cutoff must be a positive integer", spec))
		}
		cutoff = n
	}

	switch name {
	case "dcg":
		return DCG{Cutoff: cutoff, Gain: gain}, nil
	case "ndcg":
		return NDCG{Cutoff: cutoff, Gain: gain}, nil
	}

	if gain == GainExp {
		return nil, errors.ValidationError(fmt.Sprintf("metric %q: gain only applies to dcg and ndcg", spec))
	}

	switch name {
	case "p", "precision":
		if cutoff == 0 {
			return nil, errors.ValidationError(fmt.Sprintf("metric %q: precision needs a cutoff", spec))
		}
		return Precision{Cutoff: cutoff, Threshold: 1}, nil
	case "mrr":
		return MRR{Threshold: 1}, nil
	case "map", "ap":
		return AP{Threshold: 1}, nil
	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown metric %q", spec))
	}
}

// ParseAll parses a list of metric specs.
func ParseAll(specs []string) ([]Metric, error) {
	out := make([]Metric, 0, len(specs))
	for _, s := range specs {
		m, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
