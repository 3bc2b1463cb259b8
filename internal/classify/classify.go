// Package classify assigns query classes from rules written in CEL.
//
// Each rule is a boolean expression over the variable q, which describes one
// query:
//
//	q.id          string  external query id
//	q.size        int     number of documents
//	q.relevant    int     documents with label >= 1
//	q.max_label   double  highest label
//	q.mean_label  double  mean label
//
// Rules are tried in order; the first that matches names the class.
// Queries matching no rule get the default class.
package classify

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rankeval/rankeval/internal/dataset"
	"github.com/rankeval/rankeval/internal/pkg/errors"
)

// DefaultClass is used when no rule matches and none was configured.
const DefaultClass = "default"

var (
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

func env() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("q", cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return celEnv, celEnvErr
}

// Rule maps queries matching Expr to Class.
type Rule struct {
	Class string `yaml:"class" json:"class"`
	Expr  string `yaml:"expr" json:"expr"`
}

type compiled struct {
	class string
	prg   cel.Program
}

// Classifier evaluates compiled rules. It is safe for concurrent use.
type Classifier struct {
	rules    []compiled
	fallback string
}

// New compiles rules. fallback may be empty to use DefaultClass.
func New(rules []Rule, fallback string) (*Classifier, error) {
	e, err := env()
	if err != nil {
		return nil, errors.InternalError("create CEL environment", err)
	}
	if fallback == "" {
		fallback = DefaultClass
	}

	c := &Classifier{fallback: fallback, rules: make([]compiled, 0, len(rules))}
	for i, r := range rules {
		if r.Class == "" {
			return nil, errors.ValidationError(fmt.Sprintf("rule %d: class is required", i))
		}
		ast, issues := e.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, errors.ValidationError(fmt.Sprintf("rule %q: %v", r.Class, issues.Err()))
		}
		if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
			return nil, errors.ValidationError(
				fmt.Sprintf("rule %q: expression must be boolean, got %s", r.Class, ast.OutputType()))
		}
		prg, err := e.Program(ast)
		if err != nil {
			return nil, errors.ValidationError(fmt.Sprintf("rule %q: %v", r.Class, err))
		}
		c.rules = append(c.rules, compiled{class: r.Class, prg: prg})
	}
	return c, nil
}

// Classify returns one class per query of ds, in query order.
func (c *Classifier) Classify(ds *dataset.Dataset) ([]string, error) {
	out := make([]string, ds.NQueries())
	for q := range out {
		class, err := c.classify(facts(ds, q))
		if err != nil {
			return nil, errors.ValidationError(
				fmt.Sprintf("classify query %s of %s: %v", ds.QueryID(q), ds.Name(), err))
		}
		out[q] = class
	}
	return out, nil
}

// ClassifyAll classifies every dataset, in order.
func (c *Classifier) ClassifyAll(datasets []*dataset.Dataset) ([][]string, error) {
	out := make([][]string, len(datasets))
	for i, ds := range datasets {
		classes, err := c.Classify(ds)
		if err != nil {
			return nil, err
		}
		out[i] = classes
	}
	return out, nil
}

func (c *Classifier) classify(q map[string]any) (string, error) {
	input := map[string]any{"q": q}
	for _, r := range c.rules {
		val, _, err := r.prg.Eval(input)
		if err != nil {
			return "", err
		}
		match, ok := val.Value().(bool)
		if !ok {
			return "", fmt.Errorf("rule %q returned %T, want bool", r.class, val.Value())
		}
		if match {
			return r.class, nil
		}
	}
	return c.fallback, nil
}

func facts(ds *dataset.Dataset, q int) map[string]any {
	labels := ds.QueryLabels(q)
	var sum, maxLabel float64
	relevant := 0
	for i, l := range labels {
		sum += l
		if i == 0 || l > maxLabel {
			maxLabel = l
		}
		if l >= 1 {
			relevant++
		}
	}
	mean := 0.0
	if len(labels) > 0 {
		mean = sum / float64(len(labels))
	}
	return map[string]any{
		"id":         ds.QueryID(q),
		"size":       int64(len(labels)),
		"relevant":   int64(relevant),
		"max_label":  maxLabel,
		"mean_label": mean,
	}
}
