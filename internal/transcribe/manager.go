package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/meetscribe/internal/device"
	"github.com/chaz8081/meetscribe/internal/models"
)

// State is the lifecycle state of the model slot.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateLoaded
	StateUnloading
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateUnloading:
		return "unloading"
	default:
		return "unloaded"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "unloaded":
		*s = StateUnloaded
	case "loading":
		*s = StateLoading
	case "loaded":
		*s = StateLoaded
	case "unloading":
		*s = StateUnloading
	default:
		return fmt.Errorf("transcribe: unknown state %q", text)
	}
	return nil
}

// Status is a snapshot of the manager.
type Status struct {
	Device device.Device `json:"device"`
	Active string        `json:"active_model"`
	Loaded string        `json:"loaded_model,omitempty"`
	State  State         `json:"state"`
	Loads  int           `json:"loads"`
}

// handle is a resident model. refs counts outstanding leases.
type handle struct {
	id      string
	model   Model
	refs    int
	retired bool
}

// Manager owns the active-model preference and the single resident model.
//
// A switch or delete retires the resident model immediately; it is closed once
// the last Lease on it is released. A new load waits for retired models to be
// closed, so at most one model is ever resident.
type Manager struct {
	registry *models.Registry
	pref     *models.Preference
	loader   Loader
	device   device.Device

	mu       sync.Mutex
	cond     *sync.Cond
	active   string
	loaded   *handle
	loading  bool
	deleting bool
	retiring int
	loads    int
}

// NewManager creates a manager bound to dev. The active model is read from pref.
func NewManager(registry *models.Registry, pref *models.Preference, loader Loader, dev device.Device) *Manager {
	m := &Manager{
		registry: registry,
		pref:     pref,
		loader:   loader,
		device:   dev,
		active:   pref.Active(),
	}
	m.cond = sync.NewCond(&m.mu)
	slog.Info("Model manager ready", "device", dev.Kind, "active_model", m.active)
	return m
}

// Device returns the device fixed at construction.
func (m *Manager) Device() device.Device {
	return m.device
}

// Active returns the active model identifier.
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Status returns a snapshot of the model slot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{Device: m.device, Active: m.active, Loads: m.loads}
	if m.loaded != nil {
		s.Loaded = m.loaded.id
	}
	switch {
	case m.retiring > 0:
		s.State = StateUnloading
	case m.loading:
		s.State = StateLoading
	case m.loaded != nil:
		s.State = StateLoaded
	default:
		s.State = StateUnloaded
	}
	return s
}

// Models reports availability for every catalog entry.
func (m *Manager) Models() []models.Availability {
	s := m.Status()
	return m.registry.Availability(s.Active, s.Loaded)
}

// Switch makes id the active model and persists the choice. A different
// resident model is unloaded; the new one is loaded lazily.
func (m *Manager) Switch(id string) error {
	if _, ok := models.Lookup(id); !ok {
		return fmt.Errorf("transcribe: switch to %q: %w", id, ErrUnknownModel)
	}

	m.mu.Lock()
	if err := m.pref.SetActive(id); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("transcribe: switch to %q: %w", id, err)
	}
	m.active = id

	var stale *handle
	if m.loaded != nil && m.loaded.id != id {
		slog.Info("Unloading model", "model", m.loaded.id, "reason", "switch")
		stale = m.retireLocked()
	}
	m.mu.Unlock()

	if stale != nil {
		m.closeHandle(stale)
	}
	return nil
}

// Delete removes the weights for id, unloading it first if it is resident.
// Loads are held off until the files are gone.
func (m *Manager) Delete(id string) error {
	if _, ok := models.Lookup(id); !ok {
		return fmt.Errorf("transcribe: delete %q: %w", id, ErrUnknownModel)
	}

	m.mu.Lock()
	for m.loading || m.deleting {
		m.cond.Wait()
	}
	m.deleting = true
	var stale *handle
	if m.loaded != nil && m.loaded.id == id {
		slog.Info("Unloading model", "model", id, "reason", "delete")
		stale = m.retireLocked()
	}
	m.mu.Unlock()

	if stale != nil {
		m.closeHandle(stale)
	}
	err := m.registry.Delete(id)

	m.mu.Lock()
	m.deleting = false
	m.cond.Broadcast()
	m.mu.Unlock()
	return err
}

// Download fetches the weights for id. The resident model is not touched.
func (m *Manager) Download(ctx context.Context, id string) error {
	return m.registry.Download(ctx, id)
}

// EnsureLoaded makes the active model resident. It is a no-op when it
// already is. Failures are returned as *ModelLoadError and are not retried.
func (m *Manager) EnsureLoaded() error {
	lease, err := m.Acquire()
	if err != nil {
		return err
	}
	lease.Release()
	return nil
}

// Acquire loads the active model if needed and pins it until Release.
func (m *Manager) Acquire() (*Lease, error) {
	m.mu.Lock()
	for {
		if m.loaded != nil && m.loaded.id == m.active {
			h := m.loaded
			h.refs++
			m.mu.Unlock()
			return &Lease{m: m, h: h}, nil
		}
		if m.loading || m.deleting || m.retiring > 0 {
			m.cond.Wait()
			continue
		}
		if m.loaded != nil {
			if stale := m.retireLocked(); stale != nil {
				m.mu.Unlock()
				m.closeHandle(stale)
				m.mu.Lock()
			}
			continue
		}

		id := m.active
		m.loading = true
		m.mu.Unlock()

		model, err := m.load(id)

		m.mu.Lock()
		m.loading = false
		if err != nil {
			m.cond.Broadcast()
			m.mu.Unlock()
			slog.Error("Failed to load model", "model", id, "error", err)
			return nil, &ModelLoadError{Model: id, Err: err}
		}
		m.loads++

		if id != m.active {
			// Switched away while loading.
			stale := &handle{id: id, model: model, retired: true}
			m.retiring++
			m.mu.Unlock()
			m.closeHandle(stale)
			m.mu.Lock()
			continue
		}

		m.loaded = &handle{id: id, model: model}
		m.cond.Broadcast()
	}
}

// Close unloads the resident model and waits for outstanding leases.
func (m *Manager) Close() {
	m.mu.Lock()
	for m.loading {
		m.cond.Wait()
	}
	var stale *handle
	if m.loaded != nil {
		stale = m.retireLocked()
	}
	m.mu.Unlock()

	if stale != nil {
		m.closeHandle(stale)
	}

	m.mu.Lock()
	for m.retiring > 0 {
		m.cond.Wait()
	}
	m.mu.Unlock()
}

func (m *Manager) load(id string) (Model, error) {
	if !m.registry.Downloaded(id) {
		return nil, models.ErrNotDownloaded
	}
	path, err := m.registry.Path(id)
	if err != nil {
		return nil, err
	}

	slog.Info("Loading model", "model", id, "device", m.device.Kind)
	start := time.Now()
	model, err := m.loader.Load(path, m.device)
	if err != nil {
		return nil, err
	}
	slog.Info("Model loaded", "model", id, "elapsed", time.Since(start).Round(time.Millisecond))
	return model, nil
}

// retireLocked detaches the resident model. It returns the handle if it has
// no leases and must be closed by the caller after unlocking.
func (m *Manager) retireLocked() *handle {
	h := m.loaded
	m.loaded = nil
	h.retired = true
	m.retiring++
	if h.refs == 0 {
		return h
	}
	return nil
}

func (m *Manager) closeHandle(h *handle) {
	if err := h.model.Close(); err != nil {
		slog.Warn("Error closing model", "model", h.id, "error", err)
	}
	m.mu.Lock()
	m.retiring--
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Lease pins a resident model for the duration of one inference.
type Lease struct {
	m    *Manager
	h    *handle
	once sync.Once
}

// ID returns the model identifier.
func (l *Lease) ID() string {
	return l.h.id
}

// Model returns the pinned model.
func (l *Lease) Model() Model {
	return l.h.model
}

// Release unpins the model. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		m := l.m
		m.mu.Lock()
		l.h.refs--
		closeNow := l.h.retired && l.h.refs == 0
		m.mu.Unlock()
		if closeNow {
			m.closeHandle(l.h)
		}
	})
}
