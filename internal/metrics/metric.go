// Package metrics summarizes a run: in-process observers over the reported
// properties and a prometheus collector for live monitoring.
package metrics

import "github.com/san-kum/pimd/internal/properties"

// Metric folds the per-step property values into a single number.
type Metric interface {
	Name() string
	Observe(step int, v properties.Values)
	Value() float64
	Reset()
}

// Summarize returns the value of every metric keyed by name.
func Summarize(ms []Metric) map[string]float64 {
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		out[m.Name()] = m.Value()
	}
	return out
}
