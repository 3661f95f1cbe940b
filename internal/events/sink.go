package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
)

// Sink delivers events to an external collaborator.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, e Event) error { return f(ctx, e) }

// JSONLSink writes one protojson envelope per line.
type JSONLSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONLSink wraps w.
func NewJSONLSink(w io.Writer) *JSONLSink { return &JSONLSink{w: w} }

// Deliver implements Sink.
func (s *JSONLSink) Deliver(_ context.Context, e Event) error {
	msg, err := e.ToProto()
	if err != nil {
		return err
	}
	b, err := protojson.Marshal(msg)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", e.Type, err)
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(b); err != nil {
		return fmt.Errorf("events: write %s: %w", e.Type, err)
	}
	return nil
}

// MultiSink fans each event out to every sink and joins their errors.
type MultiSink []Sink

// Deliver implements Sink.
func (m MultiSink) Deliver(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink keeps delivered events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// Deliver implements Sink.
func (m *MemorySink) Deliver(_ context.Context, e Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of everything delivered so far.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// OfType returns delivered events of type t.
func (m *MemorySink) OfType(t Type) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
