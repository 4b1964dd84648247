package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(cfg)
	cb.now = clk.Now
	return cb, clk
}

func fail() error    { return errTest }
func succeed() error { return nil }

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "gemini"})
	if cb.cfg.MaxFailures != 5 || cb.cfg.ResetTimeout != 30*time.Second || cb.cfg.HalfOpenMax != 3 {
		t.Errorf("defaults = %+v", cb.cfg)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.Name() != "gemini" {
		t.Errorf("Name() = %q", cb.Name())
	}
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	t.Parallel()

	var transitions []string
	cb, clk := newTestBreaker(CircuitBreakerConfig{
		Name:         "tts",
		MaxFailures:  2,
		ResetTimeout: time.Minute,
		HalfOpenMax:  2,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, fmt.Sprintf("%s->%s", from, to))
		},
	})

	_ = cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Fatal("one failure must not open the breaker")
	}
	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	called := false
	if err := cb.Execute(func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Fatal("fn ran while open")
	}

	clk.Advance(time.Minute)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after timeout", cb.State())
	}
	for i := range 2 {
		if err := cb.Execute(succeed); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful probes", cb.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if fmt.Sprint(transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 3})
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	_ = cb.Execute(succeed)
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	cb, clk := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 3})
	_ = cb.Execute(fail)
	clk.Advance(time.Second)

	if err := cb.Execute(fail); !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want probe error", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbeBudget(t *testing.T) {
	t.Parallel()

	cb, clk := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 1})
	_ = cb.Execute(fail)
	clk.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_CancellationIsNeutral(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1})
	for _, err := range []error{context.Canceled, fmt.Errorf("wrapped: %w", context.DeadlineExceeded)} {
		if got := cb.Execute(func() error { return err }); !errors.Is(got, err) {
			t.Errorf("Execute returned %v, want %v", got, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatal("expected open")
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
