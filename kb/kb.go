package kb

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/mission-engine/internal/config"
	"github.com/signalsfoundry/mission-engine/model"
)

var (
	ErrStationExists   = errors.New("ground station already exists")
	ErrStationNotFound = errors.New("ground station not found")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventStationAdded EventType = iota
	EventStationUpdated
	EventStationRemoved
)

func (t EventType) String() string {
	switch t {
	case EventStationAdded:
		return "added"
	case EventStationUpdated:
		return "updated"
	case EventStationRemoved:
		return "removed"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event is emitted to subscribers when the station set changes.
type Event struct {
	Type    EventType
	Station model.GroundStation
}

type subscriber struct {
	id int
	fn func(Event)
}

// KnowledgeBase is an in-memory, thread-safe catalogue of ground stations.
// Stations are stored and returned by value so callers can never mutate
// the catalogue behind its lock.
type KnowledgeBase struct {
	mu sync.RWMutex

	stations map[string]model.GroundStation

	subs    []subscriber
	nextSub int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		stations: make(map[string]model.GroundStation),
	}
}

// AddStation adds a new station. It returns ErrStationExists if the ID is
// already present.
func (kb *KnowledgeBase) AddStation(st model.GroundStation) error {
	if err := st.Validate(); err != nil {
		return err
	}

	kb.mu.Lock()
	if _, exists := kb.stations[st.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrStationExists, st.ID)
	}
	kb.stations[st.ID] = st
	subs := kb.snapshotSubsLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventStationAdded, Station: st})
	return nil
}

// UpsertStation adds st or replaces the station with the same ID.
func (kb *KnowledgeBase) UpsertStation(st model.GroundStation) error {
	if err := st.Validate(); err != nil {
		return err
	}

	kb.mu.Lock()
	typ := EventStationAdded
	if _, exists := kb.stations[st.ID]; exists {
		typ = EventStationUpdated
	}
	kb.stations[st.ID] = st
	subs := kb.snapshotSubsLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: typ, Station: st})
	return nil
}

// RemoveStation deletes a station by ID.
func (kb *KnowledgeBase) RemoveStation(id string) error {
	kb.mu.Lock()
	st, ok := kb.stations[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrStationNotFound, id)
	}
	delete(kb.stations, id)
	subs := kb.snapshotSubsLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventStationRemoved, Station: st})
	return nil
}

// GetStation returns the station with the given ID.
func (kb *KnowledgeBase) GetStation(id string) (model.GroundStation, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	st, ok := kb.stations[id]
	return st, ok
}

// ListStations returns all stations ordered by ID.
func (kb *KnowledgeBase) ListStations() []model.GroundStation {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.GroundStation, 0, len(kb.stations))
	for _, st := range kb.stations {
		res = append(res, st)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Stations resolves ids in the given order. With no ids it returns every
// station, like ListStations.
func (kb *KnowledgeBase) Stations(ids ...string) ([]model.GroundStation, error) {
	if len(ids) == 0 {
		return kb.ListStations(), nil
	}

	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.GroundStation, 0, len(ids))
	for _, id := range ids {
		st, ok := kb.stations[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrStationNotFound, id)
		}
		res = append(res, st)
	}
	return res, nil
}

// Len returns the number of stations.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.stations)
}

// Subscribe registers a callback for KB events. It returns an unsubscribe
// function that is safe to call more than once.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextSub
	kb.nextSub++
	kb.subs = append(kb.subs, subscriber{id: id, fn: fn})

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		for i, s := range kb.subs {
			if s.id == id {
				kb.subs = append(kb.subs[:i:i], kb.subs[i+1:]...)
				return
			}
		}
	}
}

func (kb *KnowledgeBase) snapshotSubsLocked() []func(Event) {
	out := make([]func(Event), len(kb.subs))
	for i, s := range kb.subs {
		out[i] = s.fn
	}
	return out
}

// notify runs outside the lock so subscribers may call back into the KB.
func notify(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}

// LoadYAML reads a stations file (see configs/stations.yaml) into kb.
// It returns the number of stations added.
func (kb *KnowledgeBase) LoadYAML(path string) (int, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("kb: read %s: %w", path, err)
	}
	return kb.ParseYAML(path, src)
}

// ParseYAML is LoadYAML over an in-memory document. Nothing is added when
// any entry is invalid or duplicated.
func (kb *KnowledgeBase) ParseYAML(filename string, src []byte) (int, error) {
	if err := config.Validate(filename, src, config.DefStations); err != nil {
		return 0, err
	}
	var doc struct {
		Stations []config.StationSpec `yaml:"stations"`
	}
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return 0, fmt.Errorf("%w: %s: %s", config.ErrInvalid, filename, err)
	}

	batch := make([]model.GroundStation, 0, len(doc.Stations))
	seen := make(map[string]bool, len(doc.Stations))
	for _, spec := range doc.Stations {
		st := spec.GroundStation()
		if err := st.Validate(); err != nil {
			return 0, fmt.Errorf("%s: %w", filename, err)
		}
		if seen[st.ID] {
			return 0, fmt.Errorf("%s: %w: %q", filename, ErrStationExists, st.ID)
		}
		seen[st.ID] = true
		if _, ok := kb.GetStation(st.ID); ok {
			return 0, fmt.Errorf("%s: %w: %q", filename, ErrStationExists, st.ID)
		}
		batch = append(batch, st)
	}

	for i, st := range batch {
		if err := kb.AddStation(st); err != nil {
			return i, err
		}
	}
	return len(batch), nil
}
