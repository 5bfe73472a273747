package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
)

// Sink receives audit events. Implementations report delivery failures,
// which the Recorder and Dispatcher log and discard.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, event Event) error { return f(ctx, event) }

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) error { return nil }

// Appender is the persistence side of the audit trail.
type Appender interface {
	AppendAuditEvent(ctx context.Context, event Event) error
}

// StoreSink appends events to durable storage.
type StoreSink struct {
	appender Appender
}

func NewStoreSink(a Appender) *StoreSink {
	return &StoreSink{appender: a}
}

func (s *StoreSink) Emit(ctx context.Context, event Event) error {
	if s == nil || s.appender == nil {
		return errors.New("audit: store sink has no appender")
	}
	return s.appender.AppendAuditEvent(ctx, event)
}

// MultiSink delivers to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) error {
	if s == nil || s.writer == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.writer.Write(data)
	return err
}
