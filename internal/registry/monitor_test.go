package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu          sync.Mutex
	sweeps      int
	transitions []bool
}

func (o *recordingObserver) ObserveSweep(Snapshot) {
	o.mu.Lock()
	o.sweeps++
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveTransition(_ string, alive bool) {
	o.mu.Lock()
	o.transitions = append(o.transitions, alive)
	o.mu.Unlock()
}

func (o *recordingObserver) counts() (int, []bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sweeps, append([]bool(nil), o.transitions...)
}

func TestNewMonitor(t *testing.T) {
	reg, _ := newTestRegistry(t)
	monitor := NewMonitor(reg, 5*time.Second)
	defer monitor.Stop()

	assert.Equal(t, 5*time.Second, monitor.interval)
	assert.NotNil(t, monitor.alive)
	assert.NotNil(t, monitor.logger)
	assert.NotNil(t, monitor.ctx)
	assert.NotNil(t, monitor.cancel)
}

func TestMonitorDetectsTransitions(t *testing.T) {
	reg, clock := newTestRegistry(t)
	observer := &recordingObserver{}

	staleCh := make(chan ClientView, 1)
	monitor := NewMonitor(reg, time.Hour,
		WithObserver(observer),
		WithOnStale(func(c ClientView) { staleCh <- c }),
	)

	token, err := reg.Register("Group-1", "Client-1", nil)
	require.NoError(t, err)

	// registered but silent: known, not alive, no transition
	monitor.Sweep()
	alive, known := monitor.Status(token)
	assert.True(t, known)
	assert.False(t, alive)

	require.NoError(t, reg.RecordHeartbeat(token, nil))
	monitor.Sweep()
	alive, _ = monitor.Status(token)
	assert.True(t, alive)

	clock.Advance(50 * time.Second)
	monitor.Sweep()
	alive, _ = monitor.Status(token)
	assert.False(t, alive)

	select {
	case c := <-staleCh:
		assert.Equal(t, token, c.Token)
		assert.Equal(t, "Client-1", c.Name)
	case <-time.After(time.Second):
		t.Fatal("OnStale was not called")
	}

	sweeps, transitions := observer.counts()
	assert.Equal(t, 3, sweeps)
	assert.Equal(t, []bool{true, false}, transitions)
}

func TestMonitorForgetsClearedClients(t *testing.T) {
	reg, _ := newTestRegistry(t)
	monitor := NewMonitor(reg, time.Hour)

	token, err := reg.Register("Group-1", "Client-1", nil)
	require.NoError(t, err)
	require.NoError(t, reg.RecordHeartbeat(token, nil))
	monitor.Sweep()
	_, known := monitor.Status(token)
	require.True(t, known)

	reg.Clear()
	snap := monitor.Sweep()
	assert.Empty(t, snap.Groups)
	_, known = monitor.Status(token)
	assert.False(t, known)
}

func TestMonitorStartStop(t *testing.T) {
	reg, _ := newTestRegistry(t)
	observer := &recordingObserver{}
	monitor := NewMonitor(reg, 20*time.Millisecond, WithObserver(observer))

	done := make(chan struct{})
	go func() {
		monitor.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		sweeps, _ := observer.counts()
		return sweeps >= 3
	}, 2*time.Second, 10*time.Millisecond)

	monitor.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestMonitorStopsOnContextCancel(t *testing.T) {
	reg, _ := newTestRegistry(t)
	monitor := NewMonitor(reg, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitor.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}

func TestMonitorStartAfterStop(t *testing.T) {
	reg, _ := newTestRegistry(t)
	observer := &recordingObserver{}
	monitor := NewMonitor(reg, time.Millisecond, WithObserver(observer))

	monitor.Stop()

	done := make(chan struct{})
	go func() {
		monitor.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start ran after Stop")
	}
	sweeps, _ := observer.counts()
	assert.Zero(t, sweeps)
}

func TestMonitorStopRacingStart(t *testing.T) {
	for i := 0; i < 50; i++ {
		reg, _ := newTestRegistry(t)
		observer := &recordingObserver{}
		monitor := NewMonitor(reg, time.Millisecond, WithObserver(observer))

		go monitor.Start(context.Background())
		monitor.Stop()

		// once Stop returns, no sweep may still be in flight
		after, _ := observer.counts()
		time.Sleep(5 * time.Millisecond)
		sweeps, _ := observer.counts()
		assert.Equal(t, after, sweeps, "iteration %d", i)
	}
}
