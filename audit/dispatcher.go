package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrDropped is returned when the dispatcher buffer is full and DropIfFull is set.
var ErrDropped = errors.New("audit: event dropped, buffer full")

// ErrClosed is returned for events emitted after Close.
var ErrClosed = errors.New("audit: dispatcher closed")

// DispatcherConfig controls dispatcher buffering behavior.
type DispatcherConfig struct {
	BufferSize int
	DropIfFull bool
}

// Dispatcher asynchronously forwards audit events to a sink. It is itself a
// Sink, so a Recorder can sit in front of it.
//
// Every nil return from Emit is an event the sink will see: Emit enqueues
// under a read lock and Close flips closed under the write lock before the
// final drain.
type Dispatcher struct {
	cfg       DispatcherConfig
	sink      Sink
	logger    *slog.Logger
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewDispatcher(cfg DispatcherConfig, sink Sink, logger *slog.Logger) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		ch:     make(chan Event, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.forward(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.forward(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) forward(event Event) {
	if err := d.sink.Emit(context.Background(), event); err != nil {
		d.failed.Add(1)
		d.logger.Warn("audit sink failed",
			slog.String("event_id", event.ID),
			slog.String("action", string(event.Action)),
			slog.Any("error", err),
		)
	}
}

// Emit enqueues event. Without DropIfFull it blocks until there is room or
// ctx ends; a Close issued meanwhile waits for it.
func (d *Dispatcher) Emit(ctx context.Context, event Event) error {
	if d == nil {
		return ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
			return nil
		default:
			d.dropped.Add(1)
			return ErrDropped
		}
	}

	select {
	case d.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and drains the buffer.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.done)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed counts events the downstream sink rejected.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
