package daemon

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/flowchat-ai/flowd/internal/domain"
	"github.com/flowchat-ai/flowd/internal/errors"
)

// HealthTracker records the latest health check result per MCP server.
// Servers are tracked lazily via Track as the registry adds and removes them.
// NewHealthTracker should be used to create instances of HealthTracker.
// It is safe for concurrent use by multiple goroutines.
type HealthTracker struct {
	mu       sync.RWMutex
	statuses map[string]domain.ServerHealth
}

// NewHealthTracker creates a tracker seeded with the given server names,
// all starting as unknown.
func NewHealthTracker(serverNames []string) *HealthTracker {
	statuses := make(map[string]domain.ServerHealth, len(serverNames))
	for _, name := range serverNames {
		statuses[name] = domain.ServerHealth{Name: name, Status: domain.HealthStatusUnknown}
	}

	return &HealthTracker{
		statuses: statuses,
	}
}

// Track ensures a record exists for the named server. Already tracked servers
// keep their current state.
func (h *HealthTracker) Track(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.statuses[name]; !ok {
		h.statuses[name] = domain.ServerHealth{Name: name, Status: domain.HealthStatusUnknown}
	}
}

// Untrack drops the record for the named server.
func (h *HealthTracker) Untrack(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.statuses, name)
}

// Status returns the health status for a single tracked server.
func (h *HealthTracker) Status(name string) (domain.ServerHealth, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if health, ok := h.statuses[name]; ok {
		return health, nil
	}

	return domain.ServerHealth{}, fmt.Errorf("%w: %s", errors.ErrHealthNotTracked, name)
}

// List returns a copy of all known server health records, sorted by name.
func (h *HealthTracker) List() []domain.ServerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	records := slices.Collect(maps.Values(h.statuses))
	slices.SortFunc(records, func(a, b domain.ServerHealth) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})

	return records
}

// Update records a health check for a tracked server.
// The current time is recorded as LastChecked, and LastSuccessful is updated
// only when the status is ok. Latency can be nil if the ping failed or was
// not measured.
func (h *HealthTracker) Update(name string, status domain.HealthStatus, latency *time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now().UTC()

	prev, exists := h.statuses[name]
	if !exists {
		return fmt.Errorf("%w: %s", errors.ErrHealthNotTracked, name)
	}

	lastSuccessful := prev.LastSuccessful
	if status == domain.HealthStatusOK {
		lastSuccessful = &now
	}

	h.statuses[name] = domain.ServerHealth{
		Name:           name,
		Status:         status,
		Latency:        latency,
		LastChecked:    &now,
		LastSuccessful: lastSuccessful,
	}

	return nil
}
