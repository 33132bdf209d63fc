package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/frondhq/frond/metrics"
	"github.com/frondhq/frond/session"
)

func TestReleaseExactlyOnceOnCompletion(t *testing.T) {
	gt := newGuardTest(t)
	m := metrics.New(prometheus.NewRegistry())

	handler := Require(gt.engine, Options{Metrics: m})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+gt.credential(t))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got := gt.sessionCount(t); got != 0 {
		t.Fatalf("count after completion = %d, want 0", got)
	}
	if got := testutil.ToFloat64(m.ReleasesTotal); got != 1 {
		t.Fatalf("releases = %v, want 1", got)
	}
}

func TestReleaseExactlyOnceOnClientDisconnect(t *testing.T) {
	gt := newGuardTest(t)
	m := metrics.New(prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := Require(gt.engine, Options{Metrics: m})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Simulate the client going away mid-request, then wait until the
		// cancellation-path release has landed before returning. The
		// return path must not release a second time.
		cancel()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if value, err := gt.mr.Get("session:13800000001"); err == nil {
				if session.Decode(value).Concurrent == 0 {
					return
				}
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Error("cancellation-path release never landed")
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+gt.credential(t))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got := gt.sessionCount(t); got != 0 {
		t.Fatalf("count after disconnect = %d, want 0", got)
	}
	if got := testutil.ToFloat64(m.ReleasesTotal); got != 1 {
		t.Fatalf("releases = %v, want 1", got)
	}
}

func TestReleaseDoubleCallIsNoOp(t *testing.T) {
	gt := newGuardTest(t)
	m := metrics.New(prometheus.NewRegistry())

	if _, err := gt.engine.Admit(context.Background(), gt.credential(t)); err != nil {
		t.Fatalf("admit: %v", err)
	}

	release := releaseOnce(gt.engine, "13800000001", m)
	release()
	release()

	if got := gt.sessionCount(t); got != 0 {
		t.Fatalf("count after double release = %d, want 0", got)
	}
	if got := testutil.ToFloat64(m.ReleasesTotal); got != 1 {
		t.Fatalf("releases = %v, want 1", got)
	}
}
