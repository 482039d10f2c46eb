package feasibility

import (
	"context"
	"sync"
	"time"
)

// Window is the time span a constraint check covers, normally the schedule
// horizon.
type Window struct {
	Start time.Time
	End   time.Time
}

// AvailabilityResult reports what a target can supply inside a window.
// CapacityHours applies to resources, LotQuantity to materials.
type AvailabilityResult struct {
	TargetID      string
	CapacityHours float64
	LotQuantity   float64
}

// AvailabilitySource answers capacity and material availability questions.
// Implementations may call out to external systems; the context carries the
// caller's deadline.
type AvailabilitySource interface {
	Available(ctx context.Context, targetID string, window Window) (AvailabilityResult, error)
}

// StaticSource is an in-memory AvailabilitySource for tests and deployments
// without an external calendar. Unknown targets report zero availability,
// which evaluates as a hard violation for any nonzero demand.
type StaticSource struct {
	mu      sync.RWMutex
	results map[string]AvailabilityResult
}

// NewStaticSource creates an empty StaticSource.
func NewStaticSource() *StaticSource {
	return &StaticSource{results: make(map[string]AvailabilityResult)}
}

// Set registers or replaces availability for one target.
func (s *StaticSource) Set(r AvailabilityResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.TargetID] = r
}

// Available implements AvailabilitySource.
func (s *StaticSource) Available(_ context.Context, targetID string, _ Window) (AvailabilityResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.results[targetID]; ok {
		return r, nil
	}
	return AvailabilityResult{TargetID: targetID}, nil
}
