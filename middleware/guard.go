package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	frond "github.com/frondhq/frond"
	"github.com/frondhq/frond/metrics"
)

type admissionContextKey struct{}

// AdmissionFromContext returns the admission attached by Require or
// Optional, if any.
func AdmissionFromContext(ctx context.Context) (*frond.Admission, bool) {
	adm, ok := ctx.Value(admissionContextKey{}).(*frond.Admission)
	return adm, ok
}

// ErrorWriter renders an admission failure to the client. The api package
// supplies an envelope-formatting implementation; the default writes a bare
// status text.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Options tunes the guards. All fields are optional.
type Options struct {
	// OnError renders rejections. Defaults to plain-text http.Error with
	// the status from [HTTPStatus].
	OnError ErrorWriter
	// Metrics, when set, counts admission outcomes and releases.
	Metrics *metrics.Metrics
}

// HTTPStatus maps admission errors to response status codes per the
// gateway's error taxonomy.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, frond.ErrCredentialInvalid),
		errors.Is(err, frond.ErrCredentialExpired),
		errors.Is(err, frond.ErrCredentialSuperseded):
		return http.StatusUnauthorized
	case errors.Is(err, frond.ErrAccountInactive),
		errors.Is(err, frond.ErrConcurrencyExceeded),
		errors.Is(err, frond.ErrAccountExpired):
		return http.StatusForbidden
	case errors.Is(err, frond.ErrSubscriberNotFound):
		return http.StatusNotFound
	case errors.Is(err, frond.ErrInvalidDurationPolicy):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Require returns middleware enforcing the full admission protocol. On
// success the request proceeds with the admission in its context and the
// release hook armed; on failure the request is rejected and no slot is
// held.
func Require(engine *frond.Engine, opts Options) func(http.Handler) http.Handler {
	onError := opts.OnError
	if onError == nil {
		onError = func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), HTTPStatus(err))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				countOutcome(opts.Metrics, frond.ErrCredentialInvalid)
				onError(w, r, frond.ErrCredentialInvalid)
				return
			}

			adm, err := engine.Admit(r.Context(), bearer)
			if err != nil {
				countOutcome(opts.Metrics, err)
				onError(w, r, err)
				return
			}
			if opts.Metrics != nil {
				opts.Metrics.AdmissionsTotal.WithLabelValues(metrics.OutcomeAdmitted).Inc()
			}

			release := releaseOnce(engine, adm.Tel, opts.Metrics)
			// Client disconnects cancel the request context; normal
			// completion returns from ServeHTTP. Either way the slot is
			// freed exactly once.
			stop := context.AfterFunc(r.Context(), release)
			defer stop()
			defer release()

			ctx := context.WithValue(r.Context(), admissionContextKey{}, adm)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Optional returns middleware that identifies the caller when possible but
// never rejects and never reserves a slot.
func Optional(engine *frond.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			if adm := engine.AdmitOptional(r.Context(), bearer); adm != nil {
				r = r.WithContext(context.WithValue(r.Context(), admissionContextKey{}, adm))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func countOutcome(m *metrics.Metrics, err error) {
	if m == nil {
		return
	}
	var outcome string
	switch HTTPStatus(err) {
	case http.StatusUnauthorized:
		outcome = metrics.OutcomeUnauthorized
	case http.StatusForbidden:
		if errors.Is(err, frond.ErrConcurrencyExceeded) {
			outcome = metrics.OutcomeConcurrency
		} else {
			outcome = metrics.OutcomeForbidden
		}
	default:
		outcome = metrics.OutcomeError
	}
	m.AdmissionsTotal.WithLabelValues(outcome).Inc()
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
