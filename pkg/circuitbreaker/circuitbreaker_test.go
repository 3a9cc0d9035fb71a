package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var errTestError = errors.New("test error")

// newTestBreaker returns a breaker whose clock the test controls.
func newTestBreaker(cfg Config) (*CircuitBreaker, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	cb := New(cfg)
	cb.now = func() time.Time { return now }
	cb.stateChangeTime = now
	return cb, &now
}

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func() error { return errTestError })
	}
}

func TestCircuitBreaker_ClosedState_Success(t *testing.T) {
	cb := New(DefaultConfig())

	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_ClosedState_Failure(t *testing.T) {
	cb := New(DefaultConfig())

	err := cb.Execute(context.Background(), func() error { return errTestError })
	if !errors.Is(err, errTestError) {
		t.Errorf("Expected wrapped test error, got: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.GetState())
	}
	if stats := cb.GetStats(); stats.FailureCount != 1 {
		t.Errorf("Expected failure count 1, got: %d", stats.FailureCount)
	}
}

func TestCircuitBreaker_OpenState_RejectsRequests(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Second, MaxRequestsHalfOpen: 1})
	failN(cb, 2)

	if cb.GetState() != StateOpen {
		t.Fatalf("Expected state Open, got: %v", cb.GetState())
	}

	ran := false
	err := cb.Execute(context.Background(), func() error { ran = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen, got: %v", err)
	}
	if ran {
		t.Error("fn must not run while open")
	}
}

func TestCircuitBreaker_HalfOpen_SuccessCloses(t *testing.T) {
	cb, now := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second, MaxRequestsHalfOpen: 1})
	failN(cb, 1)

	*now = now.Add(2 * time.Second)
	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("Expected probe to pass, got: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpen_FailureReopens(t *testing.T) {
	cb, now := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second, MaxRequestsHalfOpen: 1})
	failN(cb, 1)

	*now = now.Add(2 * time.Second)
	failN(cb, 1)
	if cb.GetState() != StateOpen {
		t.Errorf("Expected state Open, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_ContextCancelNotCounted(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second, MaxRequestsHalfOpen: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_ = cb.Execute(ctx, func() error { return ctx.Err() })
	if cb.GetState() != StateClosed {
		t.Errorf("Expected cancellation to leave breaker Closed, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_ExcludedErrorsNotCounted(t *testing.T) {
	errRefused := errors.New("refused")
	cb, _ := newTestBreaker(Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Second,
		MaxRequestsHalfOpen: 1,
		ExcludedErrors:      []error{errRefused},
	})

	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), func() error { return fmt.Errorf("publish: %w", errRefused) })
		if !errors.Is(err, errRefused) {
			t.Fatalf("Expected refused error, got: %v", err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.GetState())
	}

	failN(cb, 1)
	_ = cb.Execute(context.Background(), func() error { return errRefused })
	failN(cb, 1)
	if cb.GetState() != StateClosed {
		t.Errorf("Expected an answer to reset the failure streak, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_OnStateChange_Callback(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second, MaxRequestsHalfOpen: 1})

	var transitions [][2]State
	cb.OnStateChange(func(from, to State) {
		transitions = append(transitions, [2]State{from, to})
	})
	failN(cb, 1)
	cb.Reset()

	want := [][2]State{{StateClosed, StateOpen}, {StateOpen, StateClosed}}
	if len(transitions) != len(want) {
		t.Fatalf("Expected %d transitions, got %v", len(want), transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := New(DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func() error {
				if i%2 == 0 {
					return errTestError
				}
				return nil
			})
		}(i)
	}
	wg.Wait()

	_ = cb.GetStats()
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
