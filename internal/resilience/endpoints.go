package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no endpoint accepted the call.
var ErrAllFailed = errors.New("resilience: all endpoints failed")

type endpoint struct {
	url     string
	breaker *Breaker
}

// Endpoints is an ordered set of relay URLs: the primary first, then the
// fallbacks in the order given.
type Endpoints struct {
	entries []endpoint
	log     *slog.Logger
}

// NewEndpoints builds the set. Duplicate and empty URLs are dropped.
func NewEndpoints(urls []string, cfg BreakerConfig, logger *slog.Logger) *Endpoints {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Endpoints{log: logger}
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		e.entries = append(e.entries, endpoint{url: u, breaker: NewBreaker(u, cfg, logger)})
	}
	return e
}

// URLs returns the endpoints in try order.
func (e *Endpoints) URLs() []string {
	out := make([]string, len(e.entries))
	for i, ep := range e.entries {
		out[i] = ep.url
	}
	return out
}

// Breaker returns the breaker guarding url, or nil.
func (e *Endpoints) Breaker(url string) *Breaker {
	for _, ep := range e.entries {
		if ep.url == url {
			return ep.breaker
		}
	}
	return nil
}

// Dial calls dial for each endpoint in order until one succeeds and returns
// its result. Endpoints with an open breaker are skipped. Cancellation of
// ctx stops the walk and is not counted against the endpoint.
func Dial[T any](ctx context.Context, e *Endpoints, dial func(ctx context.Context, url string) (T, error)) (T, error) {
	var (
		zero T
		errs []error
	)
	for _, ep := range e.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var out T
		err := ep.breaker.Do(func() error {
			var err error
			out, err = dial(ctx, ep.url)
			if err != nil && ctx.Err() != nil {
				return nil
			}
			return err
		})
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if err == nil {
			return out, nil
		}
		if errors.Is(err, ErrOpen) {
			e.log.Debug("resilience: skipping endpoint", "endpoint", ep.url)
		} else {
			e.log.Warn("resilience: endpoint failed, trying next", "endpoint", ep.url, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", ep.url, err))
	}
	if len(errs) == 0 {
		return zero, fmt.Errorf("%w: no endpoints configured", ErrAllFailed)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
