package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const incomingTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

// wrapped returns h behind the middleware plus the collectors it writes to.
func wrapped(t *testing.T, h http.HandlerFunc) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	_, exp := spanRecorder(t)
	return Middleware(m)(h), reader, exp
}

func gone(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusGone)
}

func TestMiddleware_SpanStatusAndCorrelation(t *testing.T) {
	tests := []struct {
		name        string
		traceparent string
		wantTraceID string
	}{
		{"new trace", "", ""},
		{"w3c parent", "00-" + incomingTraceID + "-00f067aa0ba902b7-01", incomingTraceID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h, _, exp := wrapped(t, func(w http.ResponseWriter, r *http.Request) {
				seen = CorrelationID(r.Context())
				gone(w, r)
			})

			req := httptest.NewRequest(http.MethodPost, "/api/utterance", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusGone {
				t.Errorf("status = %d, want 410", rec.Code)
			}
			if len(seen) != 32 {
				t.Fatalf("correlation id = %q", seen)
			}
			if tt.wantTraceID != "" && seen != tt.wantTraceID {
				t.Errorf("correlation id = %s, want %s", seen, tt.wantTraceID)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != seen {
				t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
			}

			spans := exp.GetSpans()
			if len(spans) != 1 || spans[0].Name != "HTTP POST /api/utterance" {
				t.Fatalf("spans = %v", spans)
			}
			var status int64
			for _, a := range spans[0].Attributes {
				if a.Key == "http.response.status_code" {
					status = a.Value.AsInt64()
				}
			}
			if status != http.StatusGone {
				t.Errorf("span status attribute = %d, want 410", status)
			}
		})
	}
}

func TestMiddleware_RecordsDurationPerPath(t *testing.T) {
	h, reader, _ := wrapped(t, gone)

	for range 2 {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/utterance", nil))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "streamplay.http.request.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 2 {
		t.Errorf("count = %d, want 2", dp.Count)
	}
	if v, ok := dp.Attributes.Value("path"); !ok || v.AsString() != "/api/utterance" {
		t.Errorf("path attribute = %v", v)
	}
	if v, ok := dp.Attributes.Value("method"); !ok || v.AsString() != http.MethodGet {
		t.Errorf("method attribute = %v", v)
	}
}

func TestMiddleware_ProbesLogAtDebug(t *testing.T) {
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	h, _, _ := wrapped(t, func(w http.ResponseWriter, _ *http.Request) {})
	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/ws/utterance"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	out := buf.String()
	if n := strings.Count(out, "request completed"); n != 1 {
		t.Errorf("logged %d requests at info, want 1:\n%s", n, out)
	}
	if !strings.Contains(out, "path=/ws/utterance") {
		t.Errorf("utterance request not logged:\n%s", out)
	}
}

func TestMiddleware_PassesHijackThrough(t *testing.T) {
	var upgraded bool
	h, _, _ := wrapped(t, func(w http.ResponseWriter, _ *http.Request) {
		conn, _, err := http.NewResponseController(w).Hijack()
		if err != nil {
			t.Errorf("Hijack: %v", err)
			return
		}
		upgraded = true
		_ = conn.Close()
	})

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws/utterance")
	if err == nil {
		resp.Body.Close()
	}
	if !upgraded {
		t.Error("handler could not hijack the connection through the middleware")
	}
}
