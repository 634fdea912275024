package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream failed")

type transition struct{ from, to State }

func newTestBreaker(cfg Config) (*CircuitBreaker, *time.Time, *[]transition) {
	var transitions []transition
	cfg.OnStateChange = func(_ string, from, to State) {
		transitions = append(transitions, transition{from, to})
	}
	cb := New(cfg)
	now := time.Unix(1700000000, 0)
	cb.now = func() time.Time { return now }
	return cb, &now, &transitions
}

func fail() error    { return errUpstream }
func succeed() error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _, transitions := newTestBreaker(Config{FailureThreshold: 3, Component: "openweather"})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Call(ctx, fail); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d error = %v, want upstream error", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("State() = %s, want open", cb.State())
	}

	called := false
	err := cb.Call(ctx, func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Call() while open error = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn ran while circuit was open")
	}
	if len(*transitions) != 1 || (*transitions)[0] != (transition{StateClosed, StateOpen}) {
		t.Errorf("transitions = %v", *transitions)
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, now, transitions := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 30 * time.Second})
	ctx := context.Background()

	_ = cb.Call(ctx, fail)
	*now = now.Add(31 * time.Second)

	if err := cb.Call(ctx, succeed); err != nil {
		t.Fatalf("trial request error = %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("State() after one trial request = %s, want half_open", cb.State())
	}
	if err := cb.Call(ctx, succeed); err != nil {
		t.Fatalf("second trial request error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("State() = %s, want closed", cb.State())
	}

	want := []transition{{StateClosed, StateOpen}, {StateOpen, StateHalfOpen}, {StateHalfOpen, StateClosed}}
	if len(*transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", *transitions, want)
	}
	for i := range want {
		if (*transitions)[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, (*transitions)[i], want[i])
		}
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, now, _ := newTestBreaker(Config{FailureThreshold: 1, Timeout: time.Second})
	ctx := context.Background()

	_ = cb.Call(ctx, fail)
	*now = now.Add(2 * time.Second)
	_ = cb.Call(ctx, fail)

	if cb.State() != StateOpen {
		t.Errorf("State() = %s, want open", cb.State())
	}
	if err := cb.Call(ctx, succeed); !errors.Is(err, ErrOpen) {
		t.Errorf("Call() right after reopening error = %v, want ErrOpen", err)
	}
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	errClient := errors.New("bad request")
	cb, _, _ := newTestBreaker(Config{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, errClient) },
	})

	for i := 0; i < 5; i++ {
		if err := cb.Call(context.Background(), func() error { return errClient }); !errors.Is(err, errClient) {
			t.Fatalf("Call() error = %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %s, want closed; ignored errors must not trip the breaker", cb.State())
	}
}

func TestCircuitBreaker_CancelledContext(t *testing.T) {
	cb, _, _ := newTestBreaker(Config{FailureThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := cb.Call(ctx, fail); !errors.Is(err, context.Canceled) {
		t.Errorf("Call() error = %v, want context.Canceled", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _, _ := newTestBreaker(Config{FailureThreshold: 2})
	ctx := context.Background()

	_ = cb.Call(ctx, fail)
	_ = cb.Call(ctx, succeed)
	_ = cb.Call(ctx, fail)
	if cb.State() != StateClosed {
		t.Errorf("State() = %s, want closed after non-consecutive failures", cb.State())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half_open", State(9): "unknown"}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
