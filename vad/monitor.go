package vad

import (
	"log/slog"
	"sync"
	"time"
)

// EventKind identifies a monitor event.
type EventKind int

const (
	// EventVoiceStart means speech was confirmed; capture should begin.
	EventVoiceStart EventKind = iota
	// EventVoiceStop means a scheduled stop fired and passed epoch
	// validation; capture should end and the clip be transcribed.
	EventVoiceStop
)

// Event is one executed decision delivered to the lifecycle orchestrator.
type Event struct {
	Kind  EventKind
	Epoch uint64
}

// FrameSource delivers live PCM frames. The returned cancel function
// removes the subscription and must be safe to call more than once.
type FrameSource interface {
	OnFrame(fn func(samples []float32)) (cancel func())
}

// stopTimer abstracts time.AfterFunc so tests can fire stops synchronously.
type stopTimer interface {
	Stop() bool
}

// Monitor drives the meter and detector at frame cadence and owns the
// single pending stop timer. It holds no audio resources of its own beyond
// the frame subscription, which is released exactly once on Close.
type Monitor struct {
	det    *Detector
	meter  *Meter
	events chan Event

	now      func() time.Time
	newTimer func(d time.Duration, fn func()) stopTimer

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	cancel    func()
	timer     stopTimer
}

// NewMonitor attaches a monitor to the given frame source. Decisions are
// delivered on Events until Close.
func NewMonitor(det *Detector, src FrameSource) *Monitor {
	m := &Monitor{
		det:    det,
		meter:  NewMeter(det.cfg.Smoothing),
		events: make(chan Event, 16),
		now:    time.Now,
		newTimer: func(d time.Duration, fn func()) stopTimer {
			return time.AfterFunc(d, fn)
		},
	}
	m.cancel = src.OnFrame(m.handleFrame)
	return m
}

// Events returns the decision stream. It is never closed; consumers should
// select against their own shutdown signal.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Close releases the frame subscription and cancels any pending stop timer.
// No event is delivered after Close returns. Idempotent.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
		cancel := m.cancel
		m.mu.Unlock()

		if cancel != nil {
			cancel()
		}
	})
}

func (m *Monitor) handleFrame(samples []float32) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	level := m.meter.Level(samples)
	dec := m.det.Process(level, m.now())

	if dec.CancelStop && m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if dec.ScheduleStop {
		if m.timer != nil {
			// The detector guarantees a single pending stop; a live timer
			// here means it already fired and lost the epoch race.
			m.timer.Stop()
		}
		epoch := dec.Epoch
		m.timer = m.newTimer(dec.StopAfter, func() { m.fireStop(epoch) })
	}
	m.mu.Unlock()

	if dec.Start {
		slog.Debug("voice confirmed", "epoch", m.det.Epoch(), "level_db", level)
		m.emit(Event{Kind: EventVoiceStart, Epoch: m.det.Epoch()})
	}
}

func (m *Monitor) fireStop(epoch uint64) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	if !m.det.ConsumeStop(epoch) {
		slog.Debug("stale stop timer discarded", "epoch", epoch)
		return
	}
	m.emit(Event{Kind: EventVoiceStop, Epoch: epoch})
}

// emit delivers a decision unless the monitor closed since the decision was
// made. The closed re-check under the mutex is what makes the Close contract
// hold: Close flips the flag before returning, so a frame or timer callback
// that raced past its own closed check still cannot deliver afterwards.
func (m *Monitor) emit(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.events <- ev:
	default:
		slog.Debug("decision dropped; event buffer full", "kind", ev.Kind)
	}
}
