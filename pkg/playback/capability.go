package playback

import "sync"

// CapabilityFunc reports whether streaming playback of mime is supported.
// It must not panic and should be cheap after its first call.
type CapabilityFunc func(mime string) bool

// SupportsStreamingAppend reports whether env can play mime through a
// [MediaSource]. Any uncertainty resolves to false: a missing facility, a
// missing codec query, a query error or a panic inside the query all select
// the accumulate strategy.
func SupportsStreamingAppend(env Environment, mime string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	if env == nil {
		return false
	}
	if _, streaming := env.(StreamingEnvironment); !streaming {
		return false
	}
	ts, canQuery := env.(TypeSupporter)
	if !canQuery {
		return false
	}
	supported, err := ts.IsTypeSupported(mime)
	if err != nil {
		return false
	}
	return supported
}

// NewDetector returns a [CapabilityFunc] that probes env at most once per
// MIME type and caches the answer for the lifetime of the process.
func NewDetector(env Environment) CapabilityFunc {
	var (
		mu    sync.Mutex
		cache = make(map[string]bool)
	)
	return func(mime string) bool {
		mu.Lock()
		defer mu.Unlock()
		if v, ok := cache[mime]; ok {
			return v
		}
		v := SupportsStreamingAppend(env, mime)
		cache[mime] = v
		return v
	}
}

// Fixed returns a [CapabilityFunc] that always answers v. Useful to force a
// strategy from configuration or in tests.
func Fixed(v bool) CapabilityFunc {
	return func(string) bool { return v }
}
