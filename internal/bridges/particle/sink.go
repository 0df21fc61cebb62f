package particle

import (
	"context"
	"errors"
	"fmt"
)

// Sink receives accepted points. Write is called synchronously from the
// stream goroutine, so a slow sink slows reading from the stream.
type Sink interface {
	Write(ctx context.Context, p Point) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, p Point) error

// Write calls f(ctx, p).
func (f SinkFunc) Write(ctx context.Context, p Point) error {
	return f(ctx, p)
}

// NamedSink labels a sink for error messages and logs.
type NamedSink struct {
	Name string
	Sink Sink
}

// MultiSink writes every point to each of its sinks in order.
//
// A failing sink does not stop the others. The returned error joins the
// failures, each prefixed with the sink name.
type MultiSink struct {
	sinks []NamedSink
}

// NewMultiSink creates a fan-out sink. Nil sinks are ignored.
func NewMultiSink(sinks ...NamedSink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		m.Add(s.Name, s.Sink)
	}
	return m
}

// Add appends a sink. Not safe to call once the supervisor is running.
func (m *MultiSink) Add(name string, sink Sink) {
	if sink == nil {
		return
	}
	m.sinks = append(m.sinks, NamedSink{Name: name, Sink: sink})
}

// Len returns the number of sinks.
func (m *MultiSink) Len() int {
	return len(m.sinks)
}

// Names returns the sink names in write order.
func (m *MultiSink) Names() []string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name
	}
	return names
}

// Write sends p to every sink.
func (m *MultiSink) Write(ctx context.Context, p Point) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Sink.Write(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
