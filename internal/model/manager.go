package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the manager's lifecycle position.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateLoaded   State = "loaded"
)

// DefaultIdleDelay matches the original deployment's auto-unload window.
const DefaultIdleDelay = 5 * time.Minute

// Handle is a loaded capability bound to a device. Handles are owned by the
// Manager; conversion jobs borrow one through a Lease for the duration of a
// single request and must not retain it afterwards.
type Handle struct {
	Device   string
	LoadedAt time.Time
	cap      Capability
}

// Capability exposes the borrowed transform capability.
func (h *Handle) Capability() Capability { return h.cap }

// Status is a point-in-time snapshot of the manager.
type Status struct {
	State            State
	Device           string
	AvailableDevices []string
	LoadedAt         time.Time
	LastUsed         time.Time
}

// Manager serializes load/unload/ensure transitions behind one lock while
// letting any number of borrowers use a stable loaded handle concurrently.
// Eviction and explicit unload wait for in-flight borrows to drain, so no
// conversion ever observes its handle being torn down mid-use.
type Manager struct {
	loader    Loader
	devices   []string
	idleDelay time.Duration
	log       *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	state    State
	handle   *Handle
	lastUsed time.Time
	inflight int
	timer    *time.Timer
	timerGen int
}

// NewManager builds a manager over the given loader. The first device in the
// list is the default; an empty list means CPU only.
func NewManager(loader Loader, devices []string, idleDelay time.Duration, log *slog.Logger) *Manager {
	if len(devices) == 0 {
		devices = []string{"cpu"}
	}
	if idleDelay <= 0 {
		idleDelay = DefaultIdleDelay
	}
	m := &Manager{
		loader:    loader,
		devices:   devices,
		idleDelay: idleDelay,
		state:     StateUnloaded,
		log:       log.With(slog.String("component", "model-manager")),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Devices returns the configured device inventory.
func (m *Manager) Devices() []string {
	out := make([]string, len(m.devices))
	copy(out, m.devices)
	return out
}

// DefaultDevice returns the preferred device.
func (m *Manager) DefaultDevice() string { return m.devices[0] }

// Lease is a borrowed handle. Release must be called exactly once when the
// borrowing request finishes; it is safe to call more than once.
type Lease struct {
	m    *Manager
	h    *Handle
	once sync.Once
}

// Handle returns the borrowed handle.
func (l *Lease) Handle() *Handle { return l.h }

// Release returns the borrow to the manager and refreshes last-use.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.m.mu.Lock()
		l.m.inflight--
		l.m.lastUsed = time.Now()
		l.m.cond.Broadcast()
		l.m.mu.Unlock()
	})
}

// Ensure returns a lease on a capability loaded for the requested device,
// loading it first if necessary. An empty device selects the default. While
// a load is in flight, concurrent Ensure calls wait for it rather than
// triggering a second load. If a different device is currently loaded, the
// old handle is unloaded first (at most one device holds the model), after
// any in-flight borrows drain.
func (m *Manager) Ensure(ctx context.Context, device string) (*Lease, error) {
	if device == "" {
		device = m.DefaultDevice()
	}
	if !m.knownDevice(device) {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownDevice, device, m.devices)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch m.state {
		case StateLoaded:
			if m.handle.Device == device {
				m.lastUsed = time.Now()
				m.inflight++
				return &Lease{m: m, h: m.handle}, nil
			}
			if m.inflight > 0 {
				m.cond.Wait()
				continue
			}
			m.unloadLocked()
		case StateLoading:
			m.cond.Wait()
		case StateUnloaded:
			return m.loadLocked(ctx, device)
		}
	}
}

// loadLocked transitions Unloaded -> Loading -> Loaded, dropping the lock for
// the slow load itself. Callers hold m.mu; it is held again on return.
func (m *Manager) loadLocked(ctx context.Context, device string) (*Lease, error) {
	m.state = StateLoading
	m.mu.Unlock()

	started := time.Now()
	cap, err := m.loader(ctx, device)

	m.mu.Lock()
	if err != nil {
		m.state = StateUnloaded
		m.cond.Broadcast()
		if errors.Is(err, ErrModelLoad) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: device %s: %v", ErrModelLoad, device, err)
	}

	now := time.Now()
	m.handle = &Handle{Device: device, LoadedAt: now, cap: cap}
	m.state = StateLoaded
	m.lastUsed = now
	m.inflight++
	m.cond.Broadcast()
	m.log.Info("model loaded",
		slog.String("device", device),
		slog.Duration("took", now.Sub(started)))
	return &Lease{m: m, h: m.handle}, nil
}

// Unload releases the capability explicitly. It waits for any in-flight
// borrows and pending load to finish, and is a no-op when already unloaded.
func (m *Manager) Unload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.state == StateLoading || m.inflight > 0 {
		m.cond.Wait()
	}
	if m.state == StateLoaded {
		m.unloadLocked()
	}
}

// unloadLocked closes the capability synchronously and resets state. Device
// memory must be free when this returns, not when a collector gets around to
// it. Caller holds m.mu.
func (m *Manager) unloadLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerGen++
	device := m.handle.Device
	if err := m.handle.cap.Close(); err != nil {
		m.log.Warn("capability close reported error",
			slog.String("device", device),
			slog.String("error", err.Error()))
	}
	m.handle = nil
	m.state = StateUnloaded
	m.cond.Broadcast()
	m.log.Info("model unloaded", slog.String("device", device))
}

// ScheduleIdleEviction arms a one-shot idle timer. When it fires, the model
// is unloaded only if no Ensure call refreshed last-use for the full delay
// and nothing is borrowed. Re-arming replaces the previous timer; timers
// never stack. A non-positive delay uses the configured default.
func (m *Manager) ScheduleIdleEviction(delay time.Duration) {
	if delay <= 0 {
		delay = m.idleDelay
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timerGen++
	gen := m.timerGen
	m.timer = time.AfterFunc(delay, func() { m.evictIfIdle(gen, delay) })
}

func (m *Manager) evictIfIdle(gen int, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.timerGen {
		return // superseded by a newer timer or an unload
	}
	if m.state != StateLoaded || m.inflight > 0 {
		return
	}
	if time.Since(m.lastUsed) < delay {
		return
	}
	m.log.Info("evicting idle model", slog.Duration("idle_delay", delay))
	m.unloadLocked()
}

// Status reports the current lifecycle snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{
		State:            m.state,
		AvailableDevices: m.Devices(),
		LastUsed:         m.lastUsed,
	}
	if m.handle != nil {
		s.Device = m.handle.Device
		s.LoadedAt = m.handle.LoadedAt
	}
	return s
}

func (m *Manager) knownDevice(device string) bool {
	for _, d := range m.devices {
		if d == device {
			return true
		}
	}
	return false
}
