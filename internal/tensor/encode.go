package tensor

import (
	"encoding/json"
	"fmt"
)

// wireTensor is the JSON form of a Tensor: values are flattened row-major and
// missing cells are null.
type wireTensor struct {
	Name   string     `json:"name"`
	Axes   []Axis     `json:"axes"`
	Values []*float64 `json:"values"`
}

// MarshalJSON implements json.Marshaler.
func (t *Tensor) MarshalJSON() ([]byte, error) {
	w := wireTensor{
		Name:   t.Name,
		Axes:   t.axes,
		Values: make([]*float64, len(t.data)),
	}
	if w.Axes == nil {
		w.Axes = []Axis{}
	}
	for i := range t.data {
		if t.valid[i] {
			v := t.data[i]
			w.Values[i] = &v
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tensor) UnmarshalJSON(data []byte) error {
	var w wireTensor
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	decoded := New(w.Name, w.Axes...)
	if len(w.Values) != decoded.Size() {
		return fmt.Errorf("tensor %q: %d values for shape %v", w.Name, len(w.Values), decoded.Shape())
	}
	for i, v := range w.Values {
		if v != nil {
			decoded.data[i] = *v
			decoded.valid[i] = true
		}
	}
	*t = *decoded
	return nil
}
