// Package properties names the quantities a run can report and computes
// them from the ring-polymer state.
package properties
