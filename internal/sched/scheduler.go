package sched

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/mission-engine/internal/logging"
	"github.com/signalsfoundry/mission-engine/timectrl"
)

// Converter maps a virtual deadline onto the real instant it will be reached.
// *timectrl.VirtualClock implements it.
type Converter interface {
	RealDeadline(virtual time.Time) time.Time
}

// MetricsRecorder receives scheduler depth and firing counts.
type MetricsRecorder interface {
	SetScheduled(count int)
	IncFired()
}

// Scheduler is a deadline-ordered schedule of callbacks.
//
// Entries are stored by virtual deadline and ordered by the real deadline
// their session's clock currently maps it to. When a session rescales, the
// caller invokes Rearm and every pending entry for that session is
// recomputed and re-indexed, so stale real deadlines never fire.
//
// Callbacks run outside the scheduler lock and may call back into it.
type Scheduler struct {
	clock   timectrl.RealClock
	log     logging.Logger
	metrics MetricsRecorder

	mu      sync.Mutex
	counter uint64
	queue   entryHeap
	index   map[string]*entry
	wake    chan struct{}
}

type entry struct {
	id        string
	sessionID string
	virtualAt time.Time
	realAt    time.Time
	conv      Converter
	f         func()
	seq       uint64
	pos       int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetricsRecorder attaches a metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a scheduler reading real time from clock.
func New(clock timectrl.RealClock, opts ...Option) *Scheduler {
	if clock == nil {
		clock = timectrl.SystemClock{}
	}
	s := &Scheduler{
		clock: clock,
		log:   logging.Noop(),
		index: make(map[string]*entry),
		wake:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule registers f to run once the session's virtual time reaches
// virtualAt. It returns an id usable with Cancel.
func (s *Scheduler) Schedule(sessionID string, conv Converter, virtualAt time.Time, f func()) string {
	s.mu.Lock()
	s.counter++
	e := &entry{
		id:        fmt.Sprintf("tm-%d", s.counter),
		sessionID: sessionID,
		virtualAt: virtualAt,
		realAt:    conv.RealDeadline(virtualAt),
		conv:      conv,
		f:         f,
		seq:       s.counter,
	}
	heap.Push(&s.queue, e)
	s.index[e.id] = e
	depth := len(s.queue)
	s.mu.Unlock()

	s.recordDepth(depth)
	s.notify()
	return e.id
}

// Cancel removes a pending entry. It reports false if the id is unknown or
// already fired.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	e, ok := s.index[id]
	if ok {
		heap.Remove(&s.queue, e.pos)
		delete(s.index, id)
	}
	depth := len(s.queue)
	s.mu.Unlock()

	if ok {
		s.recordDepth(depth)
		s.notify()
	}
	return ok
}

// CancelSession drops every pending entry for sessionID without running
// them and returns how many were removed.
func (s *Scheduler) CancelSession(sessionID string) int {
	s.mu.Lock()
	removed := 0
	kept := s.queue[:0]
	for _, e := range s.queue {
		if e.sessionID == sessionID {
			delete(s.index, e.id)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(s.queue); i++ {
		s.queue[i] = nil
	}
	s.queue = kept
	for i, e := range s.queue {
		e.pos = i
	}
	heap.Init(&s.queue)
	depth := len(s.queue)
	s.mu.Unlock()

	if removed > 0 {
		s.recordDepth(depth)
		s.notify()
	}
	return removed
}

// Rearm recomputes the real deadline of every pending entry for sessionID
// from its virtual deadline and returns how many were re-indexed.
func (s *Scheduler) Rearm(sessionID string) int {
	s.mu.Lock()
	n := 0
	for _, e := range s.queue {
		if e.sessionID != sessionID {
			continue
		}
		e.realAt = e.conv.RealDeadline(e.virtualAt)
		n++
	}
	if n > 0 {
		heap.Init(&s.queue)
	}
	s.mu.Unlock()

	if n > 0 {
		s.log.Debug(context.Background(), "rearmed session timers",
			logging.String("session_id", sessionID),
			logging.Int("count", n),
		)
		s.notify()
	}
	return n
}

// Pending returns the number of entries for sessionID.
func (s *Scheduler) Pending(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.queue {
		if e.sessionID == sessionID {
			n++
		}
	}
	return n
}

// Len returns the total number of pending entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// NextDeadline returns the earliest real deadline, if any.
func (s *Scheduler) NextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return time.Time{}, false
	}
	return s.queue[0].realAt, true
}

// RunDue runs every entry whose real deadline is at or before the clock's
// current time and returns how many ran.
func (s *Scheduler) RunDue() int {
	ran := 0
	for {
		now := s.clock.Now()

		s.mu.Lock()
		if len(s.queue) == 0 || s.queue[0].realAt.After(now) {
			depth := len(s.queue)
			s.mu.Unlock()
			if ran > 0 {
				s.recordDepth(depth)
			}
			return ran
		}
		e := heap.Pop(&s.queue).(*entry)
		delete(s.index, e.id)
		s.mu.Unlock()

		if e.f != nil {
			e.f()
		}
		ran++
		if s.metrics != nil {
			s.metrics.IncFired()
		}
	}
}

// Run drives the schedule against the wall clock until ctx is cancelled.
// It sleeps until the earliest deadline and wakes early when entries are
// added, cancelled or re-armed.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.RunDue()

		wait := time.Hour
		if next, ok := s.NextDeadline(); ok {
			wait = next.Sub(s.clock.Now())
			if wait < 0 {
				wait = 0
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-timer.C:
		}
	}
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) recordDepth(n int) {
	if s.metrics != nil {
		s.metrics.SetScheduled(n)
	}
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].realAt.Equal(h[j].realAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].realAt.Before(h[j].realAt)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.pos = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.pos = -1
	*h = old[:n-1]
	return e
}
