package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestNewEndpoints_DropsDuplicates(t *testing.T) {
	t.Parallel()

	e := NewEndpoints([]string{"ws://a", "", "ws://b", "ws://a"}, BreakerConfig{}, nil)
	if got := e.URLs(); !slices.Equal(got, []string{"ws://a", "ws://b"}) {
		t.Errorf("URLs = %v", got)
	}
	if e.Breaker("ws://b") == nil || e.Breaker("ws://c") != nil {
		t.Error("Breaker lookup mismatch")
	}
}

func TestDial_FallsBackInOrder(t *testing.T) {
	t.Parallel()

	e := NewEndpoints([]string{"ws://a", "ws://b", "ws://c"}, BreakerConfig{}, nil)
	var tried []string
	got, err := Dial(context.Background(), e, func(_ context.Context, url string) (string, error) {
		tried = append(tried, url)
		if url == "ws://a" {
			return "", errDial
		}
		return "conn:" + url, nil
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if got != "conn:ws://b" {
		t.Errorf("result = %q", got)
	}
	if !slices.Equal(tried, []string{"ws://a", "ws://b"}) {
		t.Errorf("tried = %v", tried)
	}
}

func TestDial_SkipsOpenEndpoint(t *testing.T) {
	t.Parallel()

	e := NewEndpoints([]string{"ws://a", "ws://b"}, BreakerConfig{MaxFailures: 1, Cooldown: time.Hour}, nil)
	dial := func(_ context.Context, url string) (int, error) {
		if url == "ws://a" {
			return 0, errDial
		}
		return 1, nil
	}
	if _, err := Dial(context.Background(), e, dial); err != nil {
		t.Fatalf("first Dial: %v", err)
	}
	if e.Breaker("ws://a").State() != StateOpen {
		t.Fatal("primary breaker not open")
	}

	var tried []string
	_, err := Dial(context.Background(), e, func(ctx context.Context, url string) (int, error) {
		tried = append(tried, url)
		return dial(ctx, url)
	})
	if err != nil {
		t.Fatalf("second Dial: %v", err)
	}
	if !slices.Equal(tried, []string{"ws://b"}) {
		t.Errorf("tried = %v, want only fallback", tried)
	}
}

func TestDial_AllFailed(t *testing.T) {
	t.Parallel()

	e := NewEndpoints([]string{"ws://a", "ws://b"}, BreakerConfig{}, nil)
	_, err := Dial(context.Background(), e, func(context.Context, string) (int, error) {
		return 0, errDial
	})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errDial) {
		t.Errorf("err = %v, want ErrAllFailed wrapping the dial error", err)
	}

	empty := NewEndpoints(nil, BreakerConfig{}, nil)
	if _, err := Dial(context.Background(), empty, func(context.Context, string) (int, error) { return 1, nil }); !errors.Is(err, ErrAllFailed) {
		t.Errorf("empty set err = %v", err)
	}
}

func TestDial_CancelledContextNotCounted(t *testing.T) {
	t.Parallel()

	e := NewEndpoints([]string{"ws://a", "ws://b"}, BreakerConfig{MaxFailures: 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	var tried []string
	_, err := Dial(ctx, e, func(ctx context.Context, url string) (int, error) {
		tried = append(tried, url)
		cancel()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(tried) != 1 {
		t.Errorf("tried = %v, want walk to stop", tried)
	}
	if e.Breaker("ws://a").State() != StateClosed {
		t.Error("cancellation tripped the breaker")
	}
}
