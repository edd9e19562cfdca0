// Package engine owns live scans: their tick loop, the per-tick pipeline
// from coordinator fetch through chain filtering, spread generation,
// scoring, diffing, and subscriber fan-out.
package engine

import (
	"time"

	"github.com/optionscan/engine/internal/filters"
	"github.com/optionscan/engine/internal/models"
)

// ScanSpec is the user-supplied configuration for a scan. It is immutable
// after StartScan except through UpdateFilters, which the engine applies
// between ticks only.
type ScanSpec struct {
	Symbols  []string
	Filters  filters.FilterConfig
	Interval time.Duration
	MaxResults int
	SortKey   models.SortKey
	SortDir   models.SortDirection
}

// Validate enforces the structural invariants a ScanSpec must satisfy
// before a scan can be started: a non-empty symbol set and a scan interval
// of at least one second.
func (s ScanSpec) Validate() error {
	if len(s.Symbols) == 0 {
		return ErrInvalidSpec{Reason: "symbols must be non-empty"}
	}
	if s.Interval < time.Second {
		return ErrInvalidSpec{Reason: "interval must be at least 1s"}
	}
	if s.MaxResults <= 0 {
		return ErrInvalidSpec{Reason: "max_results must be positive"}
	}
	return nil
}

// ErrInvalidSpec is returned by Validate/StartScan for a structurally
// invalid ScanSpec.
type ErrInvalidSpec struct {
	Reason string
}

func (e ErrInvalidSpec) Error() string {
	return "invalid scan spec: " + e.Reason
}
