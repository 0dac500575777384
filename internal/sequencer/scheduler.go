package sequencer

import (
	"sort"
	"time"
)

// Scheduler runs fn once after d has elapsed. Implementations must invoke
// every fn on the same control thread that calls the Sequencer methods.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func())
}

type pendingCall struct {
	at  time.Duration
	seq int
	fn  func()
}

// ManualScheduler is a Scheduler driven by an explicit clock. Nothing fires
// until Advance or RunNext is called, which makes it suitable for tests and
// for hosts that poll the sequencer from their own loop.
type ManualScheduler struct {
	now     time.Duration
	seq     int
	pending []pendingCall
}

// NewManualScheduler creates a ManualScheduler with its clock at zero.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// AfterFunc queues fn to fire d after the current manual time.
func (m *ManualScheduler) AfterFunc(d time.Duration, fn func()) {
	if d < 0 {
		d = 0
	}
	m.seq++
	m.pending = append(m.pending, pendingCall{at: m.now + d, seq: m.seq, fn: fn})
}

// Now returns the elapsed manual time.
func (m *ManualScheduler) Now() time.Duration {
	return m.now
}

// Pending returns the number of queued calls.
func (m *ManualScheduler) Pending() int {
	return len(m.pending)
}

// Advance moves the clock forward by d, firing every call that comes due in
// order. Calls scheduled by fired calls are honored if they fall inside the
// window.
func (m *ManualScheduler) Advance(d time.Duration) {
	deadline := m.now + d
	for {
		i := m.next()
		if i < 0 || m.pending[i].at > deadline {
			break
		}
		m.fire(i)
	}
	m.now = deadline
}

// RunNext jumps the clock to the earliest queued call and fires it. It
// returns false if nothing is queued.
func (m *ManualScheduler) RunNext() bool {
	i := m.next()
	if i < 0 {
		return false
	}
	m.fire(i)
	return true
}

func (m *ManualScheduler) next() int {
	if len(m.pending) == 0 {
		return -1
	}
	sort.SliceStable(m.pending, func(a, b int) bool {
		if m.pending[a].at == m.pending[b].at {
			return m.pending[a].seq < m.pending[b].seq
		}
		return m.pending[a].at < m.pending[b].at
	})
	return 0
}

func (m *ManualScheduler) fire(i int) {
	call := m.pending[i]
	m.pending = append(m.pending[:i], m.pending[i+1:]...)
	if call.at > m.now {
		m.now = call.at
	}
	call.fn()
}
