package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SweepObserver receives every snapshot the monitor takes and every
// liveness transition it detects. Telemetry implements it to publish gauges.
type SweepObserver interface {
	ObserveSweep(snap Snapshot)
	ObserveTransition(group string, alive bool)
}

// Monitor periodically sweeps the registry and reports clients whose
// liveness changed since the previous sweep.
// It never mutates the registry; liveness itself is always derived on read.
// Thread-safe: All methods are safe for concurrent access.
type Monitor struct {
	reg      *Registry
	observer SweepObserver
	onStale  func(ClientView)
	logger   *zap.Logger

	alive map[Token]bool // alive flag per token as of the last sweep

	// mu also orders Start's wg.Add against Stop's cancel.

	ctx    context.Context
	cancel context.CancelFunc

	interval time.Duration
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithObserver attaches a SweepObserver.
func WithObserver(o SweepObserver) MonitorOption {
	return func(m *Monitor) { m.observer = o }
}

// WithOnStale sets a callback invoked, on its own goroutine, each time a
// client that was alive at the previous sweep is found stale.
func WithOnStale(f func(ClientView)) MonitorOption {
	return func(m *Monitor) { m.onStale = f }
}

// WithMonitorLogger sets the monitor's logger.
func WithMonitorLogger(l *zap.Logger) MonitorOption {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l.Named("monitor")
		}
	}
}

// NewMonitor creates a monitor that sweeps reg every interval.
//
// Example:
//
//	monitor := registry.NewMonitor(reg, 5*time.Second, registry.WithObserver(metrics))
//	go monitor.Start(ctx)
//	defer monitor.Stop()
func NewMonitor(reg *Registry, interval time.Duration, opts ...MonitorOption) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		reg:      reg,
		interval: interval,
		alive:    make(map[Token]bool),
		logger:   zap.NewNop(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start sweeps immediately and then on every tick until ctx is done or Stop
// is called. It blocks; run it on its own goroutine. Start after Stop returns
// at once without sweeping.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	if ctx == nil {
		ctx = m.ctx
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("liveness monitor started", zap.Duration("interval", m.interval))

	m.Sweep()
	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			m.logger.Info("liveness monitor stopping", zap.Error(ctx.Err()))
			return
		case <-m.ctx.Done():
			m.logger.Info("liveness monitor stopped")
			return
		}
	}
}

// Stop cancels Start and waits for it to return. A Start that has not yet
// begun when Stop is called will not run.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
}

// Sweep takes one snapshot, records transitions and forgets clients that are
// no longer registered. Start calls it on every tick; tests call it directly.
func (m *Monitor) Sweep() Snapshot {
	snap := m.reg.Snapshot()

	current := make(map[Token]bool)

	m.mu.Lock()
	for _, g := range snap.Groups {
		for _, c := range g.Clients {
			current[c.Token] = true
			was, seen := m.alive[c.Token]
			m.alive[c.Token] = c.Alive

			switch {
			case seen && was && !c.Alive:
				m.logger.Warn("client went stale",
					zap.String("group", c.Group),
					zap.String("name", c.Name),
					zap.String("last_seen", c.TimeAgo),
				)
				m.transition(c, false)
				if m.onStale != nil {
					go m.onStale(c)
				}
			case c.Alive && !was:
				m.logger.Info("client alive",
					zap.String("group", c.Group),
					zap.String("name", c.Name),
				)
				m.transition(c, true)
			}
		}
	}
	for token := range m.alive {
		if !current[token] {
			delete(m.alive, token)
		}
	}
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.ObserveSweep(snap)
	}
	return snap
}

func (m *Monitor) transition(c ClientView, alive bool) {
	if m.observer != nil {
		m.observer.ObserveTransition(c.Group, alive)
	}
}

// Status returns the alive flag recorded for token at the last sweep.
// known is false if the token was not registered at that sweep.
func (m *Monitor) Status(token Token) (alive, known bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alive, known = m.alive[token]
	return alive, known
}
