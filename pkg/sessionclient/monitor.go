// Package sessionclient is the cooperative half of the idle timeout: a
// countdown that warns before the server-side limit and logs out when it is
// reached. The server remains the only judge of whether a session is alive.
package sessionclient

import (
	"context"
	"errors"
	"sync"
	"time"
)

const DefaultThrottle = time.Second

var ErrStopped = errors.New("sessionclient: monitor stopped")

type Config struct {
	IdleTimeout   time.Duration
	WarningWindow time.Duration
	// Throttle collapses bursts of Activity calls. Zero means DefaultThrottle.
	Throttle time.Duration
}

// Transport carries the monitor's intents to the server.
type Transport interface {
	Extend(ctx context.Context) error
	Logout(ctx context.Context) error
}

type timer interface {
	Stop() bool
}

type Monitor struct {
	cfg       Config
	transport Transport

	OnWarning func(remaining time.Duration)
	OnExpire  func(err error)

	mu          sync.Mutex
	deadline    time.Time
	lastReset   time.Time
	warnTimer   timer
	expireTimer timer
	// generation increments on every arming; callbacks from older armings
	// are ignored since Stop cannot recall one that already started.
	generation uint64
	warning    bool
	expired    bool
	stopped    bool

	now       func() time.Time
	afterFunc func(time.Duration, func()) timer
}

func NewMonitor(cfg Config, transport Transport) *Monitor {
	if cfg.Throttle <= 0 {
		cfg.Throttle = DefaultThrottle
	}
	if cfg.WarningWindow >= cfg.IdleTimeout {
		cfg.WarningWindow = 0
	}
	return &Monitor{
		cfg:       cfg,
		transport: transport,
		now:       time.Now,
		afterFunc: func(d time.Duration, f func()) timer { return time.AfterFunc(d, f) },
	}
}

// Start arms both timers from now.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = false
	m.expired = false
	m.resetLocked()
}

// Activity restarts the countdown, at most once per throttle interval.
func (m *Monitor) Activity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.expired {
		return
	}
	if m.now().Sub(m.lastReset) < m.cfg.Throttle {
		return
	}
	m.resetLocked()
}

// Extend asks the server to refresh the session, then restarts the timers.
// A rejected extend means the server already considers the session gone.
func (m *Monitor) Extend(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped || m.expired {
		m.mu.Unlock()
		return ErrStopped
	}
	m.mu.Unlock()

	if err := m.transport.Extend(ctx); err != nil {
		if errors.Is(err, ErrSessionExpired) {
			m.markExpired(err)
		}
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped && !m.expired {
		m.resetLocked()
	}
	return nil
}

// Remaining is the time left before the client logs out, never negative.
func (m *Monitor) Remaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired || m.deadline.IsZero() {
		return 0
	}
	left := m.deadline.Sub(m.now())
	if left < 0 {
		return 0
	}
	return left
}

func (m *Monitor) Warning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warning
}

func (m *Monitor) Expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expired
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.stopTimersLocked()
}

func (m *Monitor) resetLocked() {
	m.stopTimersLocked()

	now := m.now()
	m.lastReset = now
	m.deadline = now.Add(m.cfg.IdleTimeout)
	m.warning = false
	m.generation++
	gen := m.generation

	if m.cfg.WarningWindow > 0 {
		m.warnTimer = m.afterFunc(m.cfg.IdleTimeout-m.cfg.WarningWindow, func() { m.fireWarning(gen) })
	}
	m.expireTimer = m.afterFunc(m.cfg.IdleTimeout, func() { m.fireExpire(gen) })
}

func (m *Monitor) stopTimersLocked() {
	if m.warnTimer != nil {
		m.warnTimer.Stop()
		m.warnTimer = nil
	}
	if m.expireTimer != nil {
		m.expireTimer.Stop()
		m.expireTimer = nil
	}
}

func (m *Monitor) fireWarning(gen uint64) {
	m.mu.Lock()
	if m.stopped || m.expired || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.warning = true
	left := m.deadline.Sub(m.now())
	cb := m.OnWarning
	m.mu.Unlock()

	if cb != nil {
		cb(left)
	}
}

func (m *Monitor) fireExpire(gen uint64) {
	m.mu.Lock()
	if m.stopped || m.expired || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m.markExpired(m.transport.Logout(ctx))
}

func (m *Monitor) markExpired(err error) {
	m.mu.Lock()
	if m.expired {
		m.mu.Unlock()
		return
	}
	m.expired = true
	m.warning = false
	m.stopTimersLocked()
	cb := m.OnExpire
	m.mu.Unlock()

	if cb != nil {
		cb(err)
	}
}
