// Package testutil provides testing utilities for the MaStR fetch tool.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockRegistry is a configurable mock MaStR API server for testing.
type MockRegistry struct {
	server *httptest.Server

	mu       sync.Mutex
	units    map[string]map[string]any
	failures map[string][]int
	listing  []map[string]any
	delay    time.Duration

	// Tracking
	RequestCount int
	UnitCalls    map[string]int
	LastAPIKey   string
	LastActor    string
}

// NewMockRegistry creates a started mock registry server.
func NewMockRegistry() *MockRegistry {
	mock := &MockRegistry{
		units:     make(map[string]map[string]any),
		failures:  make(map[string][]int),
		UnitCalls: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/GetEinheitSolar", mock.handleGetUnit)
	mux.HandleFunc("/GetListeAlleEinheiten", mock.handleListUnits)
	mock.server = httptest.NewServer(mux)

	return mock
}

// URL returns the base URL of the mock server.
func (m *MockRegistry) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockRegistry) Close() {
	m.server.Close()
}

// AddUnit registers a unit record served for the given identifier.
func (m *MockRegistry) AddUnit(id string, rec map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.units[id] = rec
}

// FailWith queues HTTP statuses returned for the identifier before any
// registered record is served. Each status is consumed by one request.
func (m *MockRegistry) FailWith(id string, statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[id] = append(m.failures[id], statuses...)
}

// SetListing sets the flat unit listing served page-wise by
// GetListeAlleEinheiten.
func (m *MockRegistry) SetListing(units []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listing = units
}

// SetDelay makes every request block for d before responding.
func (m *MockRegistry) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Requests returns the total request count.
func (m *MockRegistry) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

// UnitRequests returns how often the given identifier was requested.
func (m *MockRegistry) UnitRequests(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.UnitCalls[id]
}

func (m *MockRegistry) track(r *http.Request) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount++
	m.LastAPIKey = r.URL.Query().Get("apiKey")
	m.LastActor = r.URL.Query().Get("marktakteurMastrNummer")
	return m.delay
}

func (m *MockRegistry) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	delay := m.track(r)
	if delay > 0 {
		time.Sleep(delay)
	}

	id := r.URL.Query().Get("einheitMastrNummer")

	m.mu.Lock()
	m.UnitCalls[id]++

	if queue := m.failures[id]; len(queue) > 0 {
		status := queue[0]
		m.failures[id] = queue[1:]
		m.mu.Unlock()
		http.Error(w, http.StatusText(status), status)
		return
	}

	rec, ok := m.units[id]
	m.mu.Unlock()

	if !ok {
		http.Error(w, "unit not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (m *MockRegistry) handleListUnits(w http.ResponseWriter, r *http.Request) {
	delay := m.track(r)
	if delay > 0 {
		time.Sleep(delay)
	}

	start, _ := strconv.Atoi(r.URL.Query().Get("startAb"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	m.mu.Lock()
	listing := m.listing
	m.mu.Unlock()

	// Past the end the real registry replies with a fault.
	if start >= len(listing) {
		http.Error(w, "no entries beyond offset", http.StatusNotFound)
		return
	}

	end := start + limit
	if limit <= 0 || end > len(listing) {
		end = len(listing)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"Einheiten": listing[start:end]})
}
