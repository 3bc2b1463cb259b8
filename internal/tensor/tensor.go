// Package tensor implements the labeled dense array returned by every analysis.
//
// A Tensor has an ordered list of named axes, each with its own coordinate
// labels, and a row-major value array sized to the product of the axis
// lengths. Cells that were never written are "missing": a parallel validity
// mask keeps them apart from computed values, including a computed NaN.
//
// Indexing outside the declared shape is a programming error and panics.
// Writes to distinct cells may happen from different goroutines without
// locking; the shape is fixed at construction.
package tensor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Axis is one named dimension with its ordered coordinates.
type Axis struct {
	Name   string    `json:"name"`
	Labels []string  `json:"labels"`
	Values []float64 `json:"values,omitempty"` // numeric coordinates, nil for categorical axes
}

// Len returns the number of coordinates on the axis.
func (a Axis) Len() int { return len(a.Labels) }

// Index returns the position of label on the axis, or -1.
func (a Axis) Index(label string) int {
	for i, l := range a.Labels {
		if l == label {
			return i
		}
	}
	return -1
}

// Numeric reports whether the axis carries numeric coordinates.
func (a Axis) Numeric() bool { return a.Values != nil }

// StringAxis builds a categorical axis.
func StringAxis(name string, labels []string) Axis {
	return Axis{Name: name, Labels: append([]string{}, labels...)}
}

// NumericAxis builds an axis whose coordinates are numbers.
func NumericAxis(name string, values []float64) Axis {
	labels := make([]string, len(values))
	for i, v := range values {
		labels[i] = strconv.FormatFloat(v, 'g', 6, 64)
	}
	return Axis{Name: name, Labels: labels, Values: append([]float64{}, values...)}
}

// IntAxis builds a numeric axis from integer coordinates.
func IntAxis(name string, values []int) Axis {
	fv := make([]float64, len(values))
	for i, v := range values {
		fv[i] = float64(v)
	}
	a := NumericAxis(name, fv)
	for i, v := range values {
		a.Labels[i] = strconv.Itoa(v)
	}
	return a
}

// Tensor is a labeled dense array with a validity mask.
type Tensor struct {
	Name string

	axes    []Axis
	strides []int
	data    []float64
	valid   []bool
}

// New allocates a tensor with every cell missing.
func New(name string, axes ...Axis) *Tensor {
	t := &Tensor{
		Name:    name,
		axes:    append([]Axis{}, axes...),
		strides: make([]int, len(axes)),
	}
	size := 1
	for i := len(axes) - 1; i >= 0; i-- {
		t.strides[i] = size
		size *= axes[i].Len()
	}
	if len(axes) == 0 {
		size = 0
	}
	t.data = make([]float64, size)
	t.valid = make([]bool, size)
	return t
}

// Axes returns the tensor axes in declaration order.
func (t *Tensor) Axes() []Axis { return t.axes }

// Axis returns the axis called name and its position, or -1.
func (t *Tensor) Axis(name string) (Axis, int) {
	for i, a := range t.axes {
		if a.Name == name {
			return a, i
		}
	}
	return Axis{}, -1
}

// Dims returns the axis names.
func (t *Tensor) Dims() []string {
	dims := make([]string, len(t.axes))
	for i, a := range t.axes {
		dims[i] = a.Name
	}
	return dims
}

// Shape returns the length of every axis.
func (t *Tensor) Shape() []int {
	shape := make([]int, len(t.axes))
	for i, a := range t.axes {
		shape[i] = a.Len()
	}
	return shape
}

// Size returns the number of cells.
func (t *Tensor) Size() int { return len(t.data) }

// ValidCount returns the number of cells holding a computed value.
func (t *Tensor) ValidCount() int {
	n := 0
	for _, ok := range t.valid {
		if ok {
			n++
		}
	}
	return n
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.axes) {
		panic(fmt.Sprintf("tensor %q: got %d indices for %d axes", t.Name, len(idx), len(t.axes)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.axes[i].Len() {
			panic(fmt.Sprintf("tensor %q: index %d out of range [0,%d) on axis %q",
				t.Name, v, t.axes[i].Len(), t.axes[i].Name))
		}
		off += v * t.strides[i]
	}
	return off
}

// Set writes v at idx and marks the cell valid.
func (t *Tensor) Set(v float64, idx ...int) {
	off := t.offset(idx)
	t.data[off] = v
	t.valid[off] = true
}

// Add increments the cell at idx by delta. A missing cell counts as zero.
func (t *Tensor) Add(delta float64, idx ...int) {
	off := t.offset(idx)
	if !t.valid[off] {
		t.data[off] = 0
		t.valid[off] = true
	}
	t.data[off] += delta
}

// At returns the value at idx and whether it was ever computed.
func (t *Tensor) At(idx ...int) (float64, bool) {
	off := t.offset(idx)
	return t.data[off], t.valid[off]
}

// Value returns the value at idx, or NaN when missing. Convenient for
// plotting code that treats NaN as a gap.
func (t *Tensor) Value(idx ...int) float64 {
	v, ok := t.At(idx...)
	if !ok {
		return math.NaN()
	}
	return v
}

// SetRow writes values along the last axis, starting at prefix.
func (t *Tensor) SetRow(values []float64, prefix ...int) {
	if len(t.axes) == 0 || len(prefix) != len(t.axes)-1 {
		panic(fmt.Sprintf("tensor %q: row prefix needs %d indices, got %d", t.Name, len(t.axes)-1, len(prefix)))
	}
	last := t.axes[len(t.axes)-1].Len()
	if len(values) != last {
		panic(fmt.Sprintf("tensor %q: row of length %d, last axis has %d", t.Name, len(values), last))
	}
	if last == 0 {
		return
	}
	start := t.offset(append(append([]int{}, prefix...), 0))
	copy(t.data[start:start+last], values)
	for i := 0; i < last; i++ {
		t.valid[start+i] = true
	}
}

// Row returns a copy of the last-axis row at prefix together with its
// validity mask.
func (t *Tensor) Row(prefix ...int) ([]float64, []bool) {
	if len(t.axes) == 0 || len(prefix) != len(t.axes)-1 {
		panic(fmt.Sprintf("tensor %q: row prefix needs %d indices, got %d", t.Name, len(t.axes)-1, len(prefix)))
	}
	last := t.axes[len(t.axes)-1].Len()
	if last == 0 {
		return []float64{}, []bool{}
	}
	start := t.offset(append(append([]int{}, prefix...), 0))
	return append([]float64{}, t.data[start:start+last]...), append([]bool{}, t.valid[start:start+last]...)
}

// Lookup reads a cell by coordinate labels, one per axis. ok is false when a
// label is unknown or the cell is missing.
func (t *Tensor) Lookup(labels ...string) (float64, bool) {
	if len(labels) != len(t.axes) {
		return 0, false
	}
	idx := make([]int, len(labels))
	for i, l := range labels {
		idx[i] = t.axes[i].Index(l)
		if idx[i] < 0 {
			return 0, false
		}
	}
	return t.At(idx...)
}

// Sel fixes axis to the coordinate label and returns the remaining
// sub-tensor as a copy.
func (t *Tensor) Sel(axis, label string) (*Tensor, error) {
	a, pos := t.Axis(axis)
	if pos < 0 {
		return nil, fmt.Errorf("tensor %q has no axis %q", t.Name, axis)
	}
	at := a.Index(label)
	if at < 0 {
		return nil, fmt.Errorf("axis %q has no coordinate %q", axis, label)
	}

	rest := make([]Axis, 0, len(t.axes)-1)
	rest = append(rest, t.axes[:pos]...)
	rest = append(rest, t.axes[pos+1:]...)
	out := New(t.Name, rest...)
	if len(rest) == 0 {
		// Selecting the only axis yields a scalar; keep it as a one-cell tensor.
		out = New(t.Name, StringAxis(axis, []string{label}))
	}

	t.Each(func(idx []int, v float64, ok bool) {
		if idx[pos] != at || !ok {
			return
		}
		sub := make([]int, 0, len(idx)-1)
		sub = append(sub, idx[:pos]...)
		sub = append(sub, idx[pos+1:]...)
		if len(sub) == 0 {
			sub = []int{0}
		}
		out.Set(v, sub...)
	})
	return out, nil
}

// Each visits every cell in row-major order.
func (t *Tensor) Each(fn func(idx []int, v float64, ok bool)) {
	idx := make([]int, len(t.axes))
	for off := range t.data {
		rem := off
		for i, s := range t.strides {
			idx[i] = rem / s
			rem %= s
		}
		fn(idx, t.data[off], t.valid[off])
	}
}

// String renders the header of the tensor, e.g.
// "Model Performance (dataset: 2, model: 3, metric: 1)".
func (t *Tensor) String() string {
	parts := make([]string, len(t.axes))
	for i, a := range t.axes {
		parts[i] = fmt.Sprintf("%s: %d", a.Name, a.Len())
	}
	return fmt.Sprintf("%s (%s)", t.Name, strings.Join(parts, ", "))
}
