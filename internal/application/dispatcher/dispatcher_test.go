package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/garyjia/change-approval/internal/domain/event"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) HasError(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.errors {
		if e == msg {
			return true
		}
	}
	return false
}

func newEvent(t event.Type) *event.Event {
	return event.NewEvent(t, 1, "CR-1", nil)
}

func TestDispatch_TypeHandlersThenCatchAll(t *testing.T) {
	d := NewDispatcher()
	var order []string

	d.SubscribeAll("audit", func(ctx context.Context, evt *event.Event) error {
		order = append(order, "audit")
		return nil
	})
	d.SubscribeNamed(event.TypeStepDecided, "notify", func(ctx context.Context, evt *event.Event) error {
		order = append(order, "notify")
		return nil
	})

	if err := d.Dispatch(context.Background(), newEvent(event.TypeStepDecided)); err != nil {
		t.Fatalf("Dispatch() failed: %v", err)
	}
	if len(order) != 2 || order[0] != "notify" || order[1] != "audit" {
		t.Errorf("handler order = %v, want [notify audit]", order)
	}

	order = nil
	if err := d.Dispatch(context.Background(), newEvent(event.TypeStepReminded)); err != nil {
		t.Fatalf("Dispatch() failed: %v", err)
	}
	if len(order) != 1 || order[0] != "audit" {
		t.Errorf("handler order = %v, want [audit]", order)
	}
}

func TestDispatch_StopsOnError(t *testing.T) {
	d := NewDispatcher()
	boom := errors.New("boom")
	var called atomic.Int32

	d.SubscribeNamed(event.TypeStepDecided, "first", func(ctx context.Context, evt *event.Event) error {
		return boom
	})
	d.SubscribeNamed(event.TypeStepDecided, "second", func(ctx context.Context, evt *event.Event) error {
		called.Add(1)
		return nil
	})

	err := d.Dispatch(context.Background(), newEvent(event.TypeStepDecided))
	if !errors.Is(err, boom) {
		t.Errorf("Dispatch() error = %v, want %v", err, boom)
	}
	if called.Load() != 0 {
		t.Error("second handler should not run after the first fails")
	}
}

func TestDispatch_RecoversPanics(t *testing.T) {
	logger := &mockLogger{}
	d := NewDispatcher(WithLogger(logger))

	d.SubscribeNamed(event.TypeStepEscalated, "panicky", func(ctx context.Context, evt *event.Event) error {
		panic("nil map")
	})

	if err := d.Dispatch(context.Background(), newEvent(event.TypeStepEscalated)); err == nil {
		t.Fatal("Dispatch() should return an error for a panicking handler")
	}
	if !logger.HasError("Handler panic recovered") {
		t.Error("panic should be logged")
	}
}

func TestDispatchAsync_SurvivesCallerCancellation(t *testing.T) {
	d := NewDispatcher()
	var sawCancelled atomic.Bool
	var calls atomic.Int32

	d.SubscribeAll("audit", func(ctx context.Context, evt *event.Event) error {
		if ctx.Err() != nil {
			sawCancelled.Store(true)
		}
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	d.DispatchAsync(ctx, newEvent(event.TypeWorkflowApproved))
	cancel()

	if err := d.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}
	if sawCancelled.Load() {
		t.Error("async handler should not observe the caller's cancellation")
	}
}

func TestClose(t *testing.T) {
	logger := &mockLogger{}
	d := NewDispatcher(WithLogger(logger))

	if err := d.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := d.Close(); err == nil {
		t.Error("second Close() should fail")
	}
	if err := d.Dispatch(context.Background(), newEvent(event.TypeStepDecided)); err == nil {
		t.Error("Dispatch() after Close() should fail")
	}

	d.DispatchAsync(context.Background(), newEvent(event.TypeStepDecided))
	if !logger.HasError("Cannot dispatch async event, dispatcher is closed") {
		t.Error("async dispatch after Close() should be logged")
	}
}

func TestUnsubscribeAndList(t *testing.T) {
	d := NewDispatcher()
	noop := func(ctx context.Context, evt *event.Event) error { return nil }

	d.SubscribeNamed(event.TypeStepDecided, "a", noop)
	d.SubscribeNamed(event.TypeStepDecided, "b", noop)
	d.SubscribeAll("audit", noop)

	if n := len(d.ListHandlers(event.TypeStepDecided)); n != 3 {
		t.Errorf("ListHandlers() = %d handlers, want 3", n)
	}

	d.Unsubscribe(event.TypeStepDecided, "a")
	handlers := d.ListHandlers(event.TypeStepDecided)
	if len(handlers) != 2 || handlers[0].Name != "b" {
		t.Errorf("ListHandlers() after Unsubscribe = %+v", handlers)
	}
	if handlers[0].Handler != nil {
		t.Error("ListHandlers() should not expose handler functions")
	}
	if handlers[0].CatchAll || !handlers[1].CatchAll {
		t.Errorf("CatchAll flags = %v, %v", handlers[0].CatchAll, handlers[1].CatchAll)
	}
}
