package api

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/frondhq/frond/proxy"
)

func TestRelayGuardedByAdmission(t *testing.T) {
	st := newServerTest(t)
	st.seed(t, "13800000009")

	var hits atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("pong:" + r.URL.Path))
	}))
	t.Cleanup(upstream.Close)

	u, err := url.Parse(upstream.URL)
	if err != nil {
		t.Fatalf("parse upstream url: %v", err)
	}
	host, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)

	st.server.Forwarders = []*proxy.Forwarder{{
		Name:        "py",
		Host:        host,
		Port:        port,
		StripPrefix: "/api/py",
	}}
	st.routes = st.server.Routes()

	// Without a credential the relay is never reached.
	rec, env := st.do(t, httptest.NewRequest(http.MethodGet, "/api/py/ping", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if env.Code != CodeTokenInvalid {
		t.Errorf("envelope code = %d, want %d", env.Code, CodeTokenInvalid)
	}
	if hits.Load() != 0 {
		t.Fatalf("upstream hit %d times before admission", hits.Load())
	}

	tok := st.issue(t, "13800000009")
	req := httptest.NewRequest(http.MethodGet, "/api/py/ping", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	st.routes.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("relayed status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "pong:/ping" {
		t.Errorf("relayed body = %q, want pong:/ping", rec.Body.String())
	}
	if hits.Load() != 1 {
		t.Errorf("upstream hits = %d, want 1", hits.Load())
	}
}
