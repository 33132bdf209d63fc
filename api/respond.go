package api

import (
	"encoding/json"
	"errors"
	"net/http"

	frond "github.com/frondhq/frond"
	"github.com/frondhq/frond/proxy"
)

// Application-level result codes carried in the response envelope. The
// numeric values are part of the client contract and must not change.
const (
	CodeSuccess       = 0
	CodeError         = 1
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeInvalidUser   = 1001
	CodeTokenExpired  = 1002
	CodeTokenInvalid  = 1003
	CodeDatabaseError = 2001
	CodeRedisError    = 2002
)

// Envelope is the uniform response body for gateway-originated responses.
type Envelope struct {
	Code int    `json:"code"`
	Data any    `json:"data"`
	Msg  string `json:"msg"`
}

func writeJSON(w http.ResponseWriter, status int, env Envelope) {
	if env.Data == nil {
		env.Data = struct{}{}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeSuccess(w http.ResponseWriter, data any, msg string) {
	writeJSON(w, http.StatusOK, Envelope{Code: CodeSuccess, Data: data, Msg: msg})
}

func writeError(w http.ResponseWriter, status, code int, msg string) {
	writeJSON(w, status, Envelope{Code: code, Data: struct{}{}, Msg: msg})
}

// WriteAdmissionError renders an admission failure as an envelope. It is
// installed as the error writer for the auth guards and the forwarders.
func WriteAdmissionError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := classify(err)
	writeError(w, status, code, msg)
}

func classify(err error) (status, code int, msg string) {
	switch {
	case errors.Is(err, frond.ErrCredentialExpired):
		return http.StatusUnauthorized, CodeTokenExpired, "Token expired"
	case errors.Is(err, frond.ErrCredentialSuperseded):
		return http.StatusUnauthorized, CodeTokenInvalid, "Invalid or expired token"
	case errors.Is(err, frond.ErrCredentialInvalid):
		return http.StatusUnauthorized, CodeTokenInvalid, "Invalid token"
	case errors.Is(err, frond.ErrAccountInactive):
		return http.StatusForbidden, CodeForbidden, "User account is inactive"
	case errors.Is(err, frond.ErrConcurrencyExceeded):
		return http.StatusForbidden, CodeForbidden, "Concurrent request limit reached"
	case errors.Is(err, frond.ErrAccountExpired):
		return http.StatusForbidden, CodeInvalidUser, "User account has expired"
	case errors.Is(err, frond.ErrSubscriberNotFound):
		return http.StatusNotFound, CodeInvalidUser, "User not found"
	case errors.Is(err, frond.ErrInvalidDurationPolicy):
		return http.StatusBadRequest, CodeError, "Invalid account expiry format"
	case errors.Is(err, frond.ErrStoreUnavailable):
		return http.StatusInternalServerError, CodeRedisError, "Session store unavailable"
	case errors.Is(err, frond.ErrDirectoryUnavailable):
		return http.StatusInternalServerError, CodeDatabaseError, "Account directory unavailable"
	case errors.Is(err, proxy.ErrElementNotFound):
		return http.StatusInternalServerError, CodeServerError, err.Error()
	default:
		return http.StatusInternalServerError, CodeServerError, "Internal server error"
	}
}

// writeUpstreamError is the forwarders' pre-stream failure envelope.
func writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, http.StatusBadGateway, CodeServerError, "Upstream error: "+err.Error())
}
