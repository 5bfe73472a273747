package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/trustcore/clock"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) error {
	s.count.Add(1)
	return nil
}

type channelSink chan Event

func (s channelSink) Emit(ctx context.Context, event Event) error {
	select {
	case s <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, Event) error {
	<-s.gate
	return nil
}

func TestRecorderStampsEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink := make(channelSink, 1)
	r := NewRecorder(sink, WithClock(clock.NewFake(now)))

	r.Record(context.Background(), Event{Action: ActionLogin, IdentityID: "u1"})

	got := <-sink
	if got.ID == "" {
		t.Fatal("expected event id")
	}
	if !got.Timestamp.Equal(now) {
		t.Fatalf("expected timestamp %v, got %v", now, got.Timestamp)
	}
	if got.Status != StatusSuccess {
		t.Fatalf("expected default status success, got %q", got.Status)
	}
}

func TestRecorderSwallowsSinkFailure(t *testing.T) {
	var failures atomic.Int64
	failing := SinkFunc(func(context.Context, Event) error { return errors.New("disk full") })
	r := NewRecorder(failing, WithFailureHook(func(Event, error) { failures.Add(1) }))

	ev := r.Record(context.Background(), Event{Action: ActionFailedLogin})
	if ev.ID == "" {
		t.Fatal("expected stamped event even on failure")
	}
	if failures.Load() != 1 {
		t.Fatalf("expected one failure, got %d", failures.Load())
	}
}

func TestRecorderRecoversSinkPanic(t *testing.T) {
	var failures atomic.Int64
	panicking := SinkFunc(func(context.Context, Event) error { panic("boom") })
	r := NewRecorder(panicking, WithFailureHook(func(Event, error) { failures.Add(1) }))

	r.Record(context.Background(), Event{Action: ActionLogout})
	if failures.Load() != 1 {
		t.Fatalf("expected panic to count as failure, got %d", failures.Load())
	}
}

func TestRecorderRejectsUnknownAction(t *testing.T) {
	sink := &countingSink{}
	var failures atomic.Int64
	r := NewRecorder(sink, WithFailureHook(func(Event, error) { failures.Add(1) }))

	r.Record(context.Background(), Event{Action: "mfa_reset"})
	if sink.count.Load() != 0 {
		t.Fatal("unknown action must not reach the sink")
	}
	if failures.Load() != 1 {
		t.Fatalf("expected failure hook, got %d", failures.Load())
	}
}

func TestRecorderIgnoresCallerCancellation(t *testing.T) {
	sink := &countingSink{}
	r := NewRecorder(sink)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r.Record(ctx, Event{Action: ActionLogin})
	if sink.count.Load() != 1 {
		t.Fatal("expected delivery despite cancelled caller context")
	}
}

func TestRecorderBoundedAttempt(t *testing.T) {
	slow := SinkFunc(func(ctx context.Context, _ Event) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var failures atomic.Int64
	r := NewRecorder(slow, WithTimeout(20*time.Millisecond), WithFailureHook(func(Event, error) { failures.Add(1) }))

	start := time.Now()
	r.Record(context.Background(), Event{Action: ActionLogin})
	if time.Since(start) > time.Second {
		t.Fatal("record blocked past its timeout")
	}
	if failures.Load() != 1 {
		t.Fatal("expected timeout to be reported as failure")
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	gate := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{BufferSize: 1, DropIfFull: true}, gate, nil)

	var drops int
	for i := 0; i < 10; i++ {
		if err := d.Emit(context.Background(), Event{Action: ActionAPICall}); errors.Is(err, ErrDropped) {
			drops++
		}
	}
	close(gate.gate)
	d.Close()

	if drops == 0 || d.Dropped() != uint64(drops) {
		t.Fatalf("expected drops to be counted, drops=%d counter=%d", drops, d.Dropped())
	}
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(DispatcherConfig{BufferSize: 64}, sink, nil)
	for i := 0; i < 20; i++ {
		if err := d.Emit(context.Background(), Event{Action: ActionDataAccess}); err != nil {
			t.Fatalf("Emit failed: %v", err)
		}
	}
	d.Close()

	if sink.count.Load() != 20 {
		t.Fatalf("expected 20 delivered events, got %d", sink.count.Load())
	}
	if err := d.Emit(context.Background(), Event{Action: ActionDataAccess}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestDispatcherEmitRacingClose(t *testing.T) {
	for round := 0; round < 50; round++ {
		sink := &countingSink{}
		d := NewDispatcher(DispatcherConfig{BufferSize: 8}, sink, nil)

		var (
			wg       sync.WaitGroup
			accepted atomic.Int64
			refused  atomic.Int64
		)
		start := make(chan struct{})
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 20; j++ {
					switch err := d.Emit(context.Background(), Event{Action: ActionAPICall}); {
					case err == nil:
						accepted.Add(1)
					case errors.Is(err, ErrClosed):
						refused.Add(1)
					default:
						t.Errorf("Emit: %v", err)
						return
					}
				}
			}()
		}
		close(start)
		d.Close()
		wg.Wait()

		if got := sink.count.Load(); got != accepted.Load() {
			t.Fatalf("round %d: accepted %d events, sink saw %d", round, accepted.Load(), got)
		}
		if accepted.Load()+refused.Load() != 160 {
			t.Fatalf("round %d: %d outcomes, want 160", round, accepted.Load()+refused.Load())
		}
	}
}

func TestDispatcherCountsSinkFailures(t *testing.T) {
	failing := SinkFunc(func(context.Context, Event) error { return errors.New("down") })
	d := NewDispatcher(DispatcherConfig{BufferSize: 4}, failing, nil)
	_ = d.Emit(context.Background(), Event{Action: ActionLogin})
	_ = d.Emit(context.Background(), Event{Action: ActionLogin})
	d.Close()

	if d.Failed() != 2 {
		t.Fatalf("expected 2 failures, got %d", d.Failed())
	}
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	ok := &countingSink{}
	bad := SinkFunc(func(context.Context, Event) error { return errors.New("nope") })

	err := MultiSink{ok, nil, bad}.Emit(context.Background(), Event{Action: ActionLogin})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if ok.count.Load() != 1 {
		t.Fatal("healthy sink must still receive the event")
	}
}

func TestJSONWriterSinkLineFormat(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	score := 42
	err := sink.Emit(context.Background(), Event{ID: "e1", Action: ActionRiskAssessment, Status: StatusWarning, RiskScore: &score})
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("invalid json line: %v", err)
	}
	if decoded["action"] != "risk_assessment" || decoded["risk_score"] != float64(42) {
		t.Fatalf("unexpected payload: %v", decoded)
	}
}

func TestQueryMatchesAndNormalizes(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := Event{IdentityID: "u1", Action: ActionFailedLogin, Status: StatusFailure, Timestamp: base}

	cases := []struct {
		name string
		q    Query
		want bool
	}{
		{"empty", Query{}, true},
		{"identity", Query{IdentityID: "u2"}, false},
		{"action", Query{Action: ActionLogin}, false},
		{"status", Query{Status: StatusFailure}, true},
		{"since inclusive", Query{Since: base}, true},
		{"until exclusive", Query{Until: base}, false},
		{"window", Query{Since: base.Add(-time.Hour), Until: base.Add(time.Second)}, true},
	}
	for _, tc := range cases {
		if got := tc.q.Matches(ev); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}

	if got := (Query{}).Normalized().Limit; got != DefaultQueryLimit {
		t.Fatalf("expected default limit, got %d", got)
	}
	if got := (Query{Limit: 5000}).Normalized().Limit; got != MaxQueryLimit {
		t.Fatalf("expected capped limit, got %d", got)
	}
}

func TestActionEnumerationClosed(t *testing.T) {
	if !ActionMFADisable.Valid() {
		t.Fatal("mfa_disable must stay reserved")
	}
	if _, ok := ParseAction("delete_everything"); ok {
		t.Fatal("unexpected action accepted")
	}
}

func TestDescribeOrigin(t *testing.T) {
	got := DescribeOrigin(Origin{
		IP:        "203.0.113.7",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	})
	if got["ip"] != "203.0.113.7" {
		t.Fatalf("missing ip: %v", got)
	}
	if got["browser"] != "Chrome" {
		t.Fatalf("expected Chrome, got %v", got["browser"])
	}
	if got["bot"] != false {
		t.Fatalf("expected non-bot, got %v", got["bot"])
	}

	if len(DescribeOrigin(Origin{})) != 0 {
		t.Fatal("expected empty description")
	}
}
