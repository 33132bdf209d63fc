package proxy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// ErrElementNotFound reports a selector that matched nothing within the
// wait window. Callers distinguish it from navigation failures.
var ErrElementNotFound = errors.New("element not found for selector")

const (
	navigateTimeout = 30 * time.Second
	selectorTimeout = 10 * time.Second
	// networkIdleWindow is how long the in-flight request count must stay
	// at or below the threshold before the page counts as idle.
	networkIdleWindow = 500 * time.Millisecond
)

// ScreenshotRequest describes one capture.
type ScreenshotRequest struct {
	URL string
	// Selector restricts the capture to the first matching element.
	// Empty means full page.
	Selector string
	// WaitUntil is load, networkidle0, or networkidle2. Empty defaults to
	// networkidle0.
	WaitUntil string
	// Format is png, jpeg, or webp. Empty defaults to png.
	Format string
	// Quality applies to jpeg and webp only; zero means encoder default.
	Quality int
}

func (sr *ScreenshotRequest) normalize() error {
	if sr.URL == "" {
		return errors.New("url is required")
	}
	if sr.WaitUntil == "" {
		sr.WaitUntil = "networkidle0"
	}
	switch sr.WaitUntil {
	case "load", "networkidle0", "networkidle2":
	default:
		return fmt.Errorf("unsupported waitUntil %q", sr.WaitUntil)
	}
	if sr.Format == "" {
		sr.Format = "png"
	}
	switch sr.Format {
	case "png", "jpeg", "webp":
	default:
		return fmt.Errorf("unsupported format %q", sr.Format)
	}
	return nil
}

// Screenshotter captures page screenshots by driving a browserless
// instance over the DevTools protocol. Each Capture dials its own
// WebSocket, creates a page target, and tears both down when done. The
// remote browser process itself is never closed.
type Screenshotter struct {
	// Endpoint is the browserless WebSocket URL, e.g. ws://localhost:1202.
	Endpoint string
	Dialer   *websocket.Dialer
	Log      *slog.Logger
}

func (s *Screenshotter) dialer() *websocket.Dialer {
	if s.Dialer != nil {
		return s.Dialer
	}
	return &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
}

// Capture navigates a fresh page to req.URL and returns the encoded
// image. The context bounds the whole operation on top of the per-phase
// navigation and selector deadlines.
func (s *Screenshotter) Capture(ctx context.Context, req ScreenshotRequest) ([]byte, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	ws, _, err := s.dialer().DialContext(ctx, s.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial browser: %w", err)
	}
	conn := newDevtoolsConn(ws)
	// Closing the socket detaches from the browser without killing it;
	// browserless owns the process lifecycle.
	defer conn.close()

	var created struct {
		TargetID string `json:"targetId"`
	}
	if err := conn.call(ctx, "", "Target.createTarget", map[string]any{"url": "about:blank"}, &created); err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := conn.call(closeCtx, "", "Target.closeTarget", map[string]any{"targetId": created.TargetID}, nil); err != nil {
			s.logger().Warn("close page target", slog.Any("error", err))
		}
	}()

	var attached struct {
		SessionID string `json:"sessionId"`
	}
	err = conn.call(ctx, "", "Target.attachToTarget", map[string]any{
		"targetId": created.TargetID,
		"flatten":  true,
	}, &attached)
	if err != nil {
		return nil, fmt.Errorf("attach to page: %w", err)
	}
	session := attached.SessionID

	if err := conn.call(ctx, session, "Page.enable", nil, nil); err != nil {
		return nil, fmt.Errorf("enable page events: %w", err)
	}
	if err := conn.call(ctx, session, "Network.enable", nil, nil); err != nil {
		return nil, fmt.Errorf("enable network events: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, navigateTimeout)
	defer cancel()
	if err := conn.call(navCtx, session, "Page.navigate", map[string]any{"url": req.URL}, nil); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := conn.awaitReady(navCtx, req.WaitUntil); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", req.URL, err)
	}

	params := map[string]any{
		"format":                req.Format,
		"captureBeyondViewport": true,
	}
	if req.Quality > 0 && req.Format != "png" {
		params["quality"] = req.Quality
	}

	if req.Selector != "" {
		clip, err := conn.elementClip(ctx, session, req.Selector)
		if err != nil {
			return nil, err
		}
		params["clip"] = clip
	}

	var shot struct {
		Data string `json:"data"`
	}
	if err := conn.call(ctx, session, "Page.captureScreenshot", params, &shot); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	image, err := base64.StdEncoding.DecodeString(shot.Data)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	return image, nil
}

func (s *Screenshotter) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// devtoolsConn is a minimal single-consumer DevTools protocol client. A
// reader goroutine feeds messages into a channel; call and the event
// waiters demultiplex on the consumer side. Not safe for concurrent
// callers; each Capture owns its own connection.
type devtoolsConn struct {
	ws     *websocket.Conn
	msgs   chan devtoolsMessage
	nextID int

	loadFired bool
	inflight  map[string]struct{}
}

type devtoolsMessage struct {
	ID        int             `json:"id,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *devtoolsError  `json:"error,omitempty"`
}

type devtoolsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *devtoolsError) Error() string {
	return fmt.Sprintf("devtools error %d: %s", e.Code, e.Message)
}

func newDevtoolsConn(ws *websocket.Conn) *devtoolsConn {
	c := &devtoolsConn{
		ws:       ws,
		msgs:     make(chan devtoolsMessage, 32),
		inflight: make(map[string]struct{}),
	}
	go c.readLoop()
	return c
}

func (c *devtoolsConn) readLoop() {
	defer close(c.msgs)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var msg devtoolsMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		c.msgs <- msg
	}
}

func (c *devtoolsConn) close() {
	_ = c.ws.Close()
	// Drain so the reader goroutine can exit.
	for range c.msgs {
	}
}

// call sends one command and blocks until its response arrives. Events
// received in the meantime update the page state trackers.
func (c *devtoolsConn) call(ctx context.Context, sessionID, method string, params any, result any) error {
	c.nextID++
	id := c.nextID

	cmd := map[string]any{"id": id, "method": method}
	if params != nil {
		cmd["params"] = params
	}
	if sessionID != "" {
		cmd["sessionId"] = sessionID
	}
	if err := c.ws.WriteJSON(cmd); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.msgs:
			if !ok {
				return errors.New("connection closed")
			}
			if msg.ID != id {
				c.handleEvent(msg)
				continue
			}
			if msg.Error != nil {
				return msg.Error
			}
			if result != nil && msg.Result != nil {
				return json.Unmarshal(msg.Result, result)
			}
			return nil
		}
	}
}

func (c *devtoolsConn) handleEvent(msg devtoolsMessage) {
	switch msg.Method {
	case "Page.loadEventFired":
		c.loadFired = true
	case "Network.requestWillBeSent":
		if id := requestID(msg.Params); id != "" {
			c.inflight[id] = struct{}{}
		}
	case "Network.loadingFinished", "Network.loadingFailed":
		if id := requestID(msg.Params); id != "" {
			delete(c.inflight, id)
		}
	}
}

func requestID(params json.RawMessage) string {
	var p struct {
		RequestID string `json:"requestId"`
	}
	if json.Unmarshal(params, &p) != nil {
		return ""
	}
	return p.RequestID
}

// awaitReady blocks until the page satisfies the waitUntil condition.
// "load" waits for the load event; the networkidle variants additionally
// require the in-flight request count to stay at or below the threshold
// for a settle window.
func (c *devtoolsConn) awaitReady(ctx context.Context, waitUntil string) error {
	threshold := -1
	switch waitUntil {
	case "networkidle0":
		threshold = 0
	case "networkidle2":
		threshold = 2
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var idleSince time.Time
	for {
		if c.loadFired {
			if threshold < 0 {
				return nil
			}
			if len(c.inflight) <= threshold {
				if idleSince.IsZero() {
					idleSince = time.Now()
				} else if time.Since(idleSince) >= networkIdleWindow {
					return nil
				}
			} else {
				idleSince = time.Time{}
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", waitUntil, ctx.Err())
		case msg, ok := <-c.msgs:
			if !ok {
				return errors.New("connection closed")
			}
			c.handleEvent(msg)
		case <-ticker.C:
		}
	}
}

// evaluate runs a JavaScript expression in the page and decodes its
// by-value result.
func (c *devtoolsConn) evaluate(ctx context.Context, sessionID, expression string, value any) error {
	var result struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	err := c.call(ctx, sessionID, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
	}, &result)
	if err != nil {
		return err
	}
	if result.ExceptionDetails != nil {
		return fmt.Errorf("page script failed: %s", result.ExceptionDetails.Text)
	}
	if value != nil && result.Result.Value != nil {
		return json.Unmarshal(result.Result.Value, value)
	}
	return nil
}

type clip struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Scale  float64 `json:"scale"`
}

// elementClip waits for the selector to appear, then returns its
// document-space bounding box.
func (c *devtoolsConn) elementClip(ctx context.Context, sessionID, selector string) (*clip, error) {
	quoted := strconv.Quote(selector)

	waitCtx, cancel := context.WithTimeout(ctx, selectorTimeout)
	defer cancel()
	for {
		var found bool
		err := c.evaluate(waitCtx, sessionID, "document.querySelector("+quoted+") !== null", &found)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
			}
			return nil, err
		}
		if found {
			break
		}
		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
		case <-time.After(100 * time.Millisecond):
		}
	}

	expr := `(() => {
		const el = document.querySelector(` + quoted + `);
		if (!el) return null;
		const r = el.getBoundingClientRect();
		return { x: r.x + window.scrollX, y: r.y + window.scrollY, width: r.width, height: r.height };
	})()`

	var box *clip
	if err := c.evaluate(ctx, sessionID, expr, &box); err != nil {
		return nil, fmt.Errorf("measure element: %w", err)
	}
	if box == nil {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	box.Scale = 1
	return box, nil
}
