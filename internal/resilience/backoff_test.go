package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: 1 * time.Second, Multiplier: 2, MaxAttempts: 10}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second}, // capped
		{9, 1 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicy_Defaults(t *testing.T) {
	var p Policy
	if got := p.Backoff(1); got != 1*time.Second {
		t.Errorf("zero-value initial backoff = %v, want 1s", got)
	}
	if got := p.Attempts(); got != 5 {
		t.Errorf("zero-value attempts = %d, want 5", got)
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	p := Policy{Initial: time.Millisecond, Max: time.Millisecond, MaxAttempts: 5}

	calls := 0
	err := p.Retry(context.Background(), "recognition", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_ExhaustedBudgetYieldsSingleFatalError(t *testing.T) {
	p := Policy{Initial: time.Millisecond, Max: time.Millisecond, MaxAttempts: 4}

	calls := 0
	err := p.Retry(context.Background(), "recognition", func(context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls != 4 {
		t.Errorf("expected 4 attempts, got %d", calls)
	}

	var re *Error
	if !errors.As(err, &re) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if re.Backend != "recognition" {
		t.Errorf("expected backend %q, got %q", "recognition", re.Backend)
	}
	if re.Class != ClassConnection {
		t.Errorf("expected class %q, got %q", ClassConnection, re.Class)
	}
}

func TestRetry_TimeoutRetriedOnce(t *testing.T) {
	p := Policy{Initial: time.Millisecond, Max: time.Millisecond, MaxAttempts: 5}

	calls := 0
	err := p.Retry(context.Background(), "synthesis", func(context.Context) error {
		calls++
		return NewError(ClassTimeout, "synthesis", errors.New("no response within budget"))
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls != 2 {
		t.Errorf("a timeout gets one retry, not the full budget; got %d calls", calls)
	}
	if Classify(err) != ClassTimeout {
		t.Errorf("expected timeout class, got %q", Classify(err))
	}
}

func TestRetry_StopsImmediatelyOnUpstreamError(t *testing.T) {
	p := Policy{Initial: time.Millisecond, MaxAttempts: 5}

	calls := 0
	err := p.Retry(context.Background(), "generation", func(context.Context) error {
		calls++
		return NewError(ClassUpstream, "generation", errors.New("quota exceeded"))
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls != 1 {
		t.Errorf("upstream error must not be retried; got %d calls", calls)
	}
	if Classify(err) != ClassUpstream {
		t.Errorf("expected upstream class, got %q", Classify(err))
	}
}

func TestRetry_CancelledContext(t *testing.T) {
	p := Policy{Initial: time.Hour, MaxAttempts: 3}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := p.Retry(ctx, "synthesis", func(context.Context) error {
		return errors.New("flaky")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type classifiedErr struct{ class string }

func (e *classifiedErr) Error() string      { return "classified" }
func (e *classifiedErr) ErrorClass() string { return e.class }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"wrapped Error keeps class", NewError(ClassProtocol, "tts", errors.New("bad frame")), ClassProtocol},
		{"classifier interface", &classifiedErr{class: "upstream"}, ClassUpstream},
		{"deadline exceeded", context.DeadlineExceeded, ClassTimeout},
		{"plain error defaults to connection", errors.New("boom"), ClassConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}
