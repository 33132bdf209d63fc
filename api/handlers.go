package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/frondhq/frond/middleware"
	"github.com/frondhq/frond/proxy"
)

// lookupFallback is returned when a looked-up key is missing or expired.
const lookupFallback = "消息已过期~"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]string{"status": "ok"}, "Success")
}

func (s *Server) handleGetAccess(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tel string `json:"tel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Tel == "" {
		writeError(w, http.StatusBadRequest, CodeError, "tel is required")
		return
	}

	credential, err := s.Engine.Issue(r.Context(), body.Tel)
	if err != nil {
		status, code, msg := classify(err)
		writeError(w, status, code, msg)
		return
	}
	if s.Metrics != nil {
		s.Metrics.IssuedTotal.Inc()
	}

	writeSuccess(w, map[string]string{"token": credential}, "Token issued")
}

// handleGetString serves the restricted string lookup: origin allow-list
// first, then the key prefix, then the read. A missing value is not an
// error; clients get the fallback message.
func (s *Server) handleGetString(w http.ResponseWriter, r *http.Request) {
	if !s.lookupOriginAllowed(r) {
		writeError(w, http.StatusForbidden, CodeForbidden, "Request origin not allowed")
		return
	}

	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, CodeError, "key is required")
		return
	}
	if !strings.HasPrefix(key, s.LookupKeyPrefix) {
		writeError(w, http.StatusForbidden, CodeForbidden, "Only keys with the "+s.LookupKeyPrefix+" prefix are allowed")
		return
	}

	value, err := s.Redis.Get(r.Context(), key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			writeSuccess(w, map[string]string{"value": lookupFallback}, "No data found, returning fallback")
			return
		}
		writeError(w, http.StatusInternalServerError, CodeRedisError, "Lookup failed")
		return
	}

	writeSuccess(w, map[string]string{"value": value}, "Success")
}

func (s *Server) lookupOriginAllowed(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		header = r.Header.Get("Referer")
	}
	if header == "" {
		return false
	}
	u, err := url.Parse(header)
	if err != nil || u.Hostname() == "" {
		return false
	}
	for _, host := range s.LookupAllowedHosts {
		if u.Hostname() == host {
			return true
		}
	}
	return false
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	req, restype, err := screenshotParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeError, err.Error())
		return
	}

	image, err := s.Screenshotter.Capture(r.Context(), req)
	if err != nil {
		if errors.Is(err, proxy.ErrElementNotFound) {
			writeError(w, http.StatusInternalServerError, CodeServerError, err.Error())
			return
		}
		s.logger().Error("screenshot failed", "url", req.URL, "error", err)
		writeError(w, http.StatusInternalServerError, CodeServerError, "Screenshot failed")
		return
	}

	if restype == "base64" {
		encoded := base64.StdEncoding.EncodeToString(image)
		writeSuccess(w, map[string]string{
			"image":   encoded,
			"format":  req.Format,
			"dataUrl": "data:image/" + req.Format + ";base64," + encoded,
		}, "Screenshot captured")
		return
	}

	w.Header().Set("Content-Type", "image/"+req.Format)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(image)
}

// screenshotParams reads capture parameters from the query string first
// and the JSON body second, matching the sibling endpoints' contract.
func screenshotParams(r *http.Request) (proxy.ScreenshotRequest, string, error) {
	var body struct {
		URL       string `json:"url"`
		Selector  string `json:"selector"`
		WaitUntil string `json:"waitUntil"`
		Format    string `json:"format"`
		Quality   int    `json:"quality"`
		Restype   string `json:"restype"`
	}
	if r.Body != nil {
		// Best effort; the body is optional when the query carries the
		// parameters.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	q := r.URL.Query()
	pick := func(query, bodyValue string) string {
		if query != "" {
			return query
		}
		return bodyValue
	}

	req := proxy.ScreenshotRequest{
		URL:       pick(q.Get("url"), body.URL),
		Selector:  pick(q.Get("selector"), body.Selector),
		WaitUntil: pick(q.Get("waitUntil"), body.WaitUntil),
		Format:    pick(q.Get("format"), body.Format),
		Quality:   body.Quality,
	}
	if raw := q.Get("quality"); raw != "" {
		quality, err := strconv.Atoi(raw)
		if err != nil {
			return req, "", errors.New("quality must be an integer")
		}
		req.Quality = quality
	}
	if req.URL == "" {
		return req, "", errors.New("url is required")
	}

	restype := pick(q.Get("restype"), body.Restype)
	return req, restype, nil
}

func (s *Server) handleTestOpen(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]string{"message": "Test endpoint without authentication"}, "Success")
}

func (s *Server) handleTestToken(w http.ResponseWriter, r *http.Request) {
	adm, _ := middleware.AdmissionFromContext(r.Context())
	writeSuccess(w, map[string]any{
		"message": "Test endpoint with authentication",
		"user":    adm,
	}, "Success")
}

func (s *Server) handleTestOptional(w http.ResponseWriter, r *http.Request) {
	adm, ok := middleware.AdmissionFromContext(r.Context())
	var user any
	if ok {
		user = adm
	}
	writeSuccess(w, map[string]any{
		"message":         "Test endpoint with optional authentication",
		"user":            user,
		"isAuthenticated": ok,
	}, "Success")
}
