package observe

import (
	"sync"
	"sync/atomic"
	"time"
)

// Sample is one tool execution measurement. A fallback execution produces
// two samples: one for the failed modular attempt and one for the legacy
// retry.
type Sample struct {
	// Tool is the invoked tool name.
	Tool string

	// Path names the execution path ("legacy" or "modular").
	Path string

	// LatencyMs is the execution latency in milliseconds.
	LatencyMs float64

	// Success reports whether the execution produced a non-error result.
	Success bool

	// Timestamp is when the execution finished.
	Timestamp time.Time
}

// PathStats aggregates samples for one execution path over a window.
type PathStats struct {
	// Count is the number of samples in the window.
	Count int

	// AvgLatencyMs is the mean latency, 0 when Count is 0.
	AvgLatencyMs float64

	// ErrorRate is the fraction of failed executions, 0 when Count is 0.
	ErrorRate float64
}

// Comparison contrasts the two execution paths over one window. It is the
// signal an operator reads before deciding to promote or roll back.
type Comparison struct {
	Legacy  PathStats
	Modular PathStats
}

// monitorCapacity is the default number of samples the monitor retains.
const monitorCapacity = 4096

// subscriberBuffer is the channel depth given to each subscriber. A
// subscriber that falls further behind loses samples rather than slowing
// the recording side.
const subscriberBuffer = 256

// Monitor retains recent execution samples and compares the two paths.
//
// Record never blocks: retention is a fixed-size ring and the subscriber
// fan-out drops samples for slow consumers. All methods are safe for
// concurrent use.
type Monitor struct {
	mu      sync.Mutex
	ring    []Sample
	next    int
	filled  bool
	subs    map[int]chan Sample
	nextSub int

	dropped atomic.Uint64

	nowFunc func() time.Time
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorCapacity sets how many samples are retained. Values below 1
// fall back to the default.
func WithMonitorCapacity(n int) MonitorOption {
	return func(m *Monitor) {
		if n > 0 {
			m.ring = make([]Sample, n)
		}
	}
}

// NewMonitor creates a Monitor.
func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{
		ring:    make([]Sample, monitorCapacity),
		subs:    make(map[int]chan Sample),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record appends a sample. A zero Timestamp is filled with the current
// time. The call is a short critical section plus non-blocking channel
// sends; it never waits on consumers.
func (m *Monitor) Record(s Sample) {
	if s.Timestamp.IsZero() {
		s.Timestamp = m.nowFunc()
	}

	m.mu.Lock()
	m.ring[m.next] = s
	m.next++
	if m.next == len(m.ring) {
		m.next = 0
		m.filled = true
	}
	for _, ch := range m.subs {
		select {
		case ch <- s:
		default:
			m.dropped.Add(1)
		}
	}
	m.mu.Unlock()
}

// Compare aggregates the retained samples newer than window into per-path
// statistics. A zero window considers every retained sample.
func (m *Monitor) Compare(window time.Duration) Comparison {
	var cutoff time.Time
	if window > 0 {
		cutoff = m.nowFunc().Add(-window)
	}

	var (
		legacySum, modularSum   float64
		legacyErrs, modularErrs int
		legacyN, modularN       int
	)

	m.mu.Lock()
	n := m.next
	if m.filled {
		n = len(m.ring)
	}
	for i := 0; i < n; i++ {
		s := m.ring[i]
		if !cutoff.IsZero() && s.Timestamp.Before(cutoff) {
			continue
		}
		switch s.Path {
		case "legacy":
			legacyN++
			legacySum += s.LatencyMs
			if !s.Success {
				legacyErrs++
			}
		case "modular":
			modularN++
			modularSum += s.LatencyMs
			if !s.Success {
				modularErrs++
			}
		}
	}
	m.mu.Unlock()

	return Comparison{
		Legacy:  pathStats(legacyN, legacySum, legacyErrs),
		Modular: pathStats(modularN, modularSum, modularErrs),
	}
}

// Subscribe returns a channel receiving every sample recorded after the
// call, plus a cancel function that closes the channel. Slow subscribers
// lose samples; see Dropped.
func (m *Monitor) Subscribe() (<-chan Sample, func()) {
	ch := make(chan Sample, subscriberBuffer)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

// Dropped reports how many samples were not delivered to subscribers
// because their channels were full.
func (m *Monitor) Dropped() uint64 {
	return m.dropped.Load()
}

func pathStats(n int, sum float64, errs int) PathStats {
	if n == 0 {
		return PathStats{}
	}
	return PathStats{
		Count:        n,
		AvgLatencyMs: sum / float64(n),
		ErrorRate:    float64(errs) / float64(n),
	}
}
