package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrEthical07/trustcore/metrics"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is satisfied by *trustcore.Engine.
type Source interface {
	EventCounts() map[metrics.Event]uint64
	AuditDropped() uint64
}

// Exporter observes a Source on every collection.
type Exporter struct {
	source       Source
	registration metric.Registration
	events       metric.Int64ObservableCounter
	auditDropped metric.Int64ObservableCounter
}

// NewExporter registers the observable instruments on meter.
func NewExporter(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	events, err := meter.Int64ObservableCounter("trustcore.events",
		metric.WithDescription("Authentication protocol steps by outcome."))
	if err != nil {
		return nil, fmt.Errorf("create events counter: %w", err)
	}
	dropped, err := meter.Int64ObservableCounter("trustcore.audit.dropped",
		metric.WithDescription("Audit events dropped by a full dispatcher buffer."))
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}

	e := &Exporter{source: source, events: events, auditDropped: dropped}
	e.registration, err = meter.RegisterCallback(e.observe, events, dropped)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	for ev, n := range e.source.EventCounts() {
		o.ObserveInt64(e.events, int64(n), metric.WithAttributes(attribute.String("event", string(ev))))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
