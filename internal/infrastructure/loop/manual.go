package loop

import (
	"context"
	"sync"
	"time"
)

type manualTimer struct {
	at    time.Time
	seq   int
	fn    func()
	state int32
}

// Manual is a single-threaded executor driven by the test. Posted tasks run
// on RunPending; timers fire on Advance against a fake clock.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	queue  []func()
	timers []*manualTimer
}

func NewManual() *Manual {
	return &Manual{now: time.Unix(1_700_000_000, 0)}
}

func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) (stop func() bool) {
	m.mu.Lock()
	m.seq++
	t := &manualTimer{at: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	m.mu.Unlock()

	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if t.state != timerPending {
			return false
		}
		t.state = timerStopped
		return true
	}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// RunPending runs queued tasks, including ones they post, until the queue is
// empty. It returns the number of tasks run.
func (m *Manual) RunPending() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return n
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		fn()
		n++
	}
}

// Advance moves the clock forward by d, firing due timers in order and
// draining the queue after each.
func (m *Manual) Advance(d time.Duration) {
	m.RunPending()

	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.nextDue(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			break
		}
		m.now = next.at
		next.state = timerFired
		m.mu.Unlock()

		next.fn()
		m.RunPending()
	}
}

// PendingTimers counts timers that have neither fired nor been stopped.
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if t.state == timerPending {
			n++
		}
	}
	return n
}

// nextDue must be called with mu held. It also compacts finished timers.
func (m *Manual) nextDue(limit time.Time) *manualTimer {
	live := m.timers[:0]
	var next *manualTimer
	for _, t := range m.timers {
		if t.state != timerPending {
			continue
		}
		live = append(live, t)
		if t.at.After(limit) {
			continue
		}
		if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
			next = t
		}
	}
	m.timers = live
	return next
}

// Do posts fn and drains the queue, so fn has run when Do returns.
func (m *Manual) Do(_ context.Context, fn func()) error {
	m.Post(fn)
	m.RunPending()
	return nil
}
