package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/mission-engine/internal/command"
	"github.com/signalsfoundry/mission-engine/internal/evaluator"
	"github.com/signalsfoundry/mission-engine/internal/performance"
	"github.com/signalsfoundry/mission-engine/model"
	"github.com/signalsfoundry/mission-engine/timectrl"
)

var (
	// ErrSessionNotFound is returned for an unknown or ended session.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionExists is returned when starting a session twice.
	ErrSessionExists = errors.New("session: already exists")
	// ErrStepNotFound is returned for a step id the scenario does not define.
	ErrStepNotFound = errors.New("session: step not found")
)

// Session is the live simulation state of one training session.
//
// Everything below mu is guarded by it. Command timer callbacks enter
// through the queue guard, so status transitions, metric updates and step
// evaluation for one session never interleave.
type Session struct {
	id       string
	elements model.OrbitalElements
	steps    []model.Step
	conds    []evaluator.Condition
	profiles command.Profiles

	mu         sync.Mutex
	stations   []model.GroundStation
	clock      *timectrl.VirtualClock
	queue      *command.Queue
	tracker    *performance.Tracker
	telemetry  model.Telemetry
	lastBeacon *model.BeaconEvent
	visibility []model.VisibilityReading
	done       map[string]bool
	completed  []string
	current    int
	activated  time.Time
	prompted   time.Time
	seq        uint64
	ended      bool
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// guard runs f inside the session's exclusive section. It is handed to the
// command queue for timer callbacks and drops work once the session ended.
func (s *Session) guard(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	f()
}

// currentStepLocked returns the active step, or false once every step is done.
func (s *Session) currentStepLocked() (model.Step, evaluator.Condition, bool) {
	if s.current >= len(s.steps) {
		return model.Step{}, nil, false
	}
	return s.steps[s.current], s.conds[s.current], true
}

func (s *Session) stepIndex(stepID string) (int, error) {
	for i, st := range s.steps {
		if st.ID == stepID {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
}

func (s *Session) stationsLocked() []model.GroundStation {
	return append([]model.GroundStation(nil), s.stations...)
}

// Store is the session-keyed state store. Lookups take a read lock on the
// map only; per-session work synchronises on the session itself.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

func (st *Store) add(s *Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[s.id]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, s.id)
	}
	st.sessions[s.id] = s
	return nil
}

func (st *Store) remove(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	return s, ok
}

// Get returns the live session with id.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Has reports whether id is live.
func (st *Store) Has(id string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	_, ok := st.sessions[id]
	return ok
}

// List returns the live sessions ordered by id.
func (st *Store) List() []*Session {
	st.mu.RLock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	st.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// With runs fn inside the exclusive section of session id.
func (st *Store) With(id string, fn func(*Session) error) error {
	s, err := st.Get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return fn(s)
}
