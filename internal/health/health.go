// Package health backs the /healthz and /readyz probes. Liveness only
// proves the process runs; readiness verifies registered dependencies
// and reports which optional features are active.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status classifies the probe outcome.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Probe checks one dependency. Returning an error marks it down.
type Probe func(ctx context.Context) error

type check struct {
	name     string
	probe    Probe
	critical bool
}

// Manager collects dependency probes and feature flags.
type Manager struct {
	mu       sync.RWMutex
	version  string
	checks   []check
	features map[string]bool
}

func NewManager(version string) *Manager {
	return &Manager{version: version, features: map[string]bool{}}
}

// RegisterCheck adds a readiness probe. Critical failures flip the
// probe to 503; non-critical ones only degrade the reported status.
func (m *Manager) RegisterCheck(name string, critical bool, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks = append(m.checks, check{name: name, probe: probe, critical: critical})
}

// SetFeature records whether an optional feature (secure proxy, ad
// slots, redis cache) is active. Shown in probe responses.
func (m *Manager) SetFeature(name string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.features[name] = enabled
}

type probeResponse struct {
	Status    Status            `json:"status"`
	Version   string            `json:"version,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
	Features  map[string]bool   `json:"features,omitempty"`
}

// Healthz is the liveness probe: 200 as long as the process serves.
func (m *Manager) Healthz(w http.ResponseWriter, _ *http.Request) {
	m.mu.RLock()
	resp := probeResponse{
		Status:    StatusOK,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
	}
	m.mu.RUnlock()
	writeProbe(w, http.StatusOK, resp)
}

// Readyz runs every registered probe with a shared deadline.
func (m *Manager) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	m.mu.RLock()
	checks := make([]check, len(m.checks))
	copy(checks, m.checks)
	features := make(map[string]bool, len(m.features))
	for k, v := range m.features {
		features[k] = v
	}
	version := m.version
	m.mu.RUnlock()

	resp := probeResponse{
		Status:    StatusOK,
		Version:   version,
		Timestamp: time.Now().UTC(),
		Checks:    map[string]string{},
		Features:  features,
	}

	code := http.StatusOK
	for _, c := range checks {
		if err := c.probe(ctx); err != nil {
			resp.Checks[c.name] = err.Error()
			if c.critical {
				resp.Status = StatusDown
				code = http.StatusServiceUnavailable
			} else if resp.Status == StatusOK {
				resp.Status = StatusDegraded
			}
			continue
		}
		resp.Checks[c.name] = string(StatusOK)
	}
	writeProbe(w, code, resp)
}

func writeProbe(w http.ResponseWriter, code int, resp probeResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
