// Package health tracks the state of the long-running parts of the capture
// service (the frame pump and the stream server) for the /health endpoint
// and for logging.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/breeze-rmm/loopback/internal/logging"
)

var log = logging.L("health")

// Component names used across the service.
const (
	Capture = "capture"
	Stream  = "stream"
)

// Status is the health of one component.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
	Unknown   Status = "unknown"
)

// IsValid reports whether s is one of the defined statuses.
func (s Status) IsValid() bool {
	switch s {
	case Healthy, Degraded, Unhealthy, Unknown:
		return true
	}
	return false
}

// Check is the latest result reported for a component.
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Snapshot is a consistent view of every check at one instant.
type Snapshot struct {
	Status Status  `json:"status"`
	Checks []Check `json:"checks"`
}

// Monitor records component health. The zero value is not usable; call
// NewMonitor.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
	now    func() time.Time
}

func NewMonitor() *Monitor {
	return &Monitor{
		checks: make(map[string]Check),
		now:    time.Now,
	}
}

// Update records status for name. Unknown values are stored as Unhealthy.
// Transitions are logged; repeated reports of the same status are not.
func (m *Monitor) Update(name string, status Status, message string) {
	if !status.IsValid() {
		status = Unhealthy
	}

	m.mu.Lock()
	prev, existed := m.checks[name]
	m.checks[name] = Check{
		Name:      name,
		Status:    status,
		Message:   message,
		UpdatedAt: m.now(),
	}
	m.mu.Unlock()

	if existed && prev.Status == status {
		return
	}
	switch status {
	case Healthy:
		if existed {
			log.Info("component recovered", logging.KeyComponent, name)
		}
	default:
		log.Warn("component health changed", logging.KeyComponent, name, "status", string(status), "message", message)
	}
}

// Report is Update driven by an error: nil is Healthy, anything else is
// recorded with status and the error text.
func (m *Monitor) Report(name string, err error, status Status) {
	if err == nil {
		m.Update(name, Healthy, "")
		return
	}
	m.Update(name, status, err.Error())
}

// Remove forgets name, for components that stopped on purpose.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, name)
}

func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Overall returns the worst status across all checks, or Unknown when
// nothing has reported yet.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overallLocked()
}

func (m *Monitor) overallLocked() Status {
	if len(m.checks) == 0 {
		return Unknown
	}
	worst := Healthy
	for _, c := range m.checks {
		if rank(c.Status) > rank(worst) {
			worst = c.Status
		}
	}
	return worst
}

// All returns the checks sorted by name.
func (m *Monitor) All() []Check {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allLocked()
}

func (m *Monitor) allLocked() []Check {
	checks := make([]Check, 0, len(m.checks))
	for _, c := range m.checks {
		checks = append(checks, c)
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })
	return checks
}

// Snapshot returns the overall status and checks under one lock.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{Status: m.overallLocked(), Checks: m.allLocked()}
}

// Summary flattens Snapshot into component -> status.
func (m *Monitor) Summary() map[string]any {
	snap := m.Snapshot()
	components := make(map[string]string, len(snap.Checks))
	for _, c := range snap.Checks {
		components[c.Name] = string(c.Status)
	}
	return map[string]any{
		"status":     string(snap.Status),
		"components": components,
	}
}

func rank(s Status) int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	case Unknown:
		return 3
	}
	return 2
}
