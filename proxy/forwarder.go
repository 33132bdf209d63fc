package proxy

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/frondhq/frond/metrics"
)

// Headers never copied from the inbound request. Host is derived from the
// target URL and Content-Length from the body; Connection is hop-by-hop.
var inboundHeaderDrop = map[string]bool{
	"host":           true,
	"connection":     true,
	"content-length": true,
}

// Hop-by-hop response headers the relay must not echo.
var outboundHeaderDrop = map[string]bool{
	"connection":        true,
	"transfer-encoding": true,
}

// transport is shared by all forwarders. No overall timeout: streaming
// responses stay open as long as the client does, bounded only by the
// request context.
var transport = &http.Transport{
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   16,
	IdleConnTimeout:       90 * time.Second,
	ResponseHeaderTimeout: 0,
}

// Forwarder relays requests to a single upstream, rewriting the path and
// streaming both bodies. It implements http.Handler.
type Forwarder struct {
	// Name labels metrics and logs for this upstream.
	Name string
	Host string
	Port int
	// StripPrefix is removed from the front of the inbound path before
	// BasePath is prepended. Query strings pass through verbatim.
	StripPrefix string
	BasePath    string
	// DefaultHeaders are injected only when the inbound request does not
	// already carry the header, matched case-insensitively.
	DefaultHeaders map[string]string

	// OnError renders a failure that happens before any response byte was
	// written. Defaults to a plain-text 502. Once streaming has started
	// the relay can only log and abort.
	OnError func(w http.ResponseWriter, r *http.Request, err error)

	Metrics *metrics.Metrics
	Log     *slog.Logger

	client *http.Client
}

func (f *Forwarder) logger() *slog.Logger {
	if f.Log != nil {
		return f.Log
	}
	return slog.Default()
}

func (f *Forwarder) httpClient() *http.Client {
	if f.client != nil {
		return f.client
	}
	return &http.Client{Transport: transport}
}

// TargetPath maps an inbound URL path to the upstream path.
func (f *Forwarder) TargetPath(inbound string) string {
	p := strings.TrimPrefix(inbound, f.StripPrefix)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return f.BasePath + p
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	target := "http://" + net.JoinHostPort(f.Host, strconv.Itoa(f.Port)) + f.TargetPath(r.URL.Path)
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		f.fail(w, r, fmt.Errorf("build upstream request: %w", err))
		return
	}
	for key, values := range r.Header {
		if inboundHeaderDrop[strings.ToLower(key)] {
			continue
		}
		out.Header[key] = values
	}
	for key, value := range f.DefaultHeaders {
		if out.Header.Get(key) == "" {
			out.Header.Set(key, value)
		}
	}
	out.ContentLength = r.ContentLength

	resp, err := f.httpClient().Do(out)
	if err != nil {
		f.count("error", start)
		f.fail(w, r, fmt.Errorf("upstream %s: %w", f.Name, err))
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		if outboundHeaderDrop[strings.ToLower(key)] {
			continue
		}
		w.Header()[key] = values
	}
	w.WriteHeader(resp.StatusCode)
	f.count(statusClass(resp.StatusCode), start)

	if err := f.stream(w, resp.Body); err != nil {
		f.logger().Error("upstream stream aborted",
			slog.String("upstream", f.Name),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
}

// stream copies the upstream body to the client, flushing after every
// chunk so incremental upstream output reaches the client immediately.
func (f *Forwarder) stream(w http.ResponseWriter, body io.Reader) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (f *Forwarder) fail(w http.ResponseWriter, r *http.Request, err error) {
	f.logger().Error("upstream request failed",
		slog.String("upstream", f.Name),
		slog.String("path", r.URL.Path),
		slog.Any("error", err))
	if f.OnError != nil {
		f.OnError(w, r, err)
		return
	}
	http.Error(w, "bad gateway", http.StatusBadGateway)
}

func (f *Forwarder) count(status string, start time.Time) {
	if f.Metrics == nil {
		return
	}
	f.Metrics.ProxiedTotal.WithLabelValues(f.Name, status).Inc()
	f.Metrics.UpstreamSeconds.WithLabelValues(f.Name).Observe(time.Since(start).Seconds())
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
