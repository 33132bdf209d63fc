package proxy

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestScreenshotRequestValidation(t *testing.T) {
	cases := []struct {
		name string
		req  ScreenshotRequest
	}{
		{"missing url", ScreenshotRequest{}},
		{"bad waitUntil", ScreenshotRequest{URL: "http://x", WaitUntil: "domcontentloaded"}},
		{"bad format", ScreenshotRequest{URL: "http://x", Format: "gif"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.req.normalize(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestScreenshotRequestDefaults(t *testing.T) {
	req := ScreenshotRequest{URL: "http://x"}
	if err := req.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if req.WaitUntil != "networkidle0" {
		t.Errorf("waitUntil = %q, want networkidle0", req.WaitUntil)
	}
	if req.Format != "png" {
		t.Errorf("format = %q, want png", req.Format)
	}
}

// fakeBrowser speaks just enough of the DevTools protocol to satisfy one
// capture: target lifecycle, navigation with a load event, selector
// probing, and the screenshot command.
type fakeBrowser struct {
	image []byte

	mu sync.Mutex
	// commands records every method the client sent, in order.
	commands []string
	// captureParams holds the Page.captureScreenshot params.
	captureParams map[string]any
}

func (fb *fakeBrowser) sawCommand(method string) bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for _, m := range fb.commands {
		if m == method {
			return true
		}
	}
	return false
}

func (fb *fakeBrowser) capture() map[string]any {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.captureParams
}

func (fb *fakeBrowser) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			var cmd struct {
				ID        int            `json:"id"`
				Method    string         `json:"method"`
				SessionID string         `json:"sessionId"`
				Params    map[string]any `json:"params"`
			}
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			fb.mu.Lock()
			fb.commands = append(fb.commands, cmd.Method)
			fb.mu.Unlock()

			reply := map[string]any{"id": cmd.ID, "result": map[string]any{}}
			if cmd.SessionID != "" {
				reply["sessionId"] = cmd.SessionID
			}

			switch cmd.Method {
			case "Target.createTarget":
				reply["result"] = map[string]any{"targetId": "t1"}
			case "Target.attachToTarget":
				reply["result"] = map[string]any{"sessionId": "s1"}
			case "Page.navigate":
				if err := conn.WriteJSON(reply); err != nil {
					return
				}
				event := map[string]any{"method": "Page.loadEventFired", "sessionId": cmd.SessionID}
				if err := conn.WriteJSON(event); err != nil {
					return
				}
				continue
			case "Runtime.evaluate":
				expr, _ := cmd.Params["expression"].(string)
				var value any = true
				if strings.Contains(expr, "getBoundingClientRect") {
					value = map[string]any{"x": 10.0, "y": 20.0, "width": 300.0, "height": 200.0}
				}
				reply["result"] = map[string]any{"result": map[string]any{"value": value}}
			case "Page.captureScreenshot":
				fb.mu.Lock()
				fb.captureParams = cmd.Params
				fb.mu.Unlock()
				reply["result"] = map[string]any{
					"data": base64.StdEncoding.EncodeToString(fb.image),
				}
			}

			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	}
}

func newFakeBrowser(t *testing.T, image []byte) (*fakeBrowser, *Screenshotter) {
	t.Helper()
	fb := &fakeBrowser{image: image}
	srv := httptest.NewServer(fb.handler(t))
	t.Cleanup(srv.Close)

	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
	return fb, &Screenshotter{Endpoint: endpoint}
}

func TestCaptureFullPage(t *testing.T) {
	fb, shooter := newFakeBrowser(t, []byte("fake-png-bytes"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	image, err := shooter.Capture(ctx, ScreenshotRequest{URL: "http://example.test/", WaitUntil: "load"})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if string(image) != "fake-png-bytes" {
		t.Errorf("image = %q", image)
	}

	params := fb.capture()
	if params["format"] != "png" {
		t.Errorf("capture format = %v, want png", params["format"])
	}
	if _, clipped := params["clip"]; clipped {
		t.Error("full-page capture should not send a clip")
	}
	if !fb.sawCommand("Target.closeTarget") {
		t.Error("page target was not closed")
	}
}

func TestCaptureElementClipAndQuality(t *testing.T) {
	fb, shooter := newFakeBrowser(t, []byte("jpeg-bytes"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := shooter.Capture(ctx, ScreenshotRequest{
		URL:       "http://example.test/",
		WaitUntil: "load",
		Selector:  "#hero",
		Format:    "jpeg",
		Quality:   80,
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	params := fb.capture()
	clip, ok := params["clip"].(map[string]any)
	if !ok {
		t.Fatalf("clip missing from capture params: %v", params)
	}
	if clip["width"] != 300.0 || clip["height"] != 200.0 {
		t.Errorf("clip = %v", clip)
	}
	if params["quality"] != 80.0 {
		t.Errorf("quality = %v, want 80", params["quality"])
	}
}

func TestCaptureQualityIgnoredForPNG(t *testing.T) {
	fb, shooter := newFakeBrowser(t, []byte("png-bytes"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := shooter.Capture(ctx, ScreenshotRequest{
		URL:       "http://example.test/",
		WaitUntil: "load",
		Quality:   80,
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if _, ok := fb.capture()["quality"]; ok {
		t.Error("quality must not be sent for png captures")
	}
}
