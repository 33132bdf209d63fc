package middleware

import (
	"context"
	"sync"
	"time"

	frond "github.com/frondhq/frond"
	"github.com/frondhq/frond/metrics"
)

// releaseTimeout bounds the slot-release call. The request context may
// already be canceled when the hook fires, so the release runs under its
// own deadline.
const releaseTimeout = 5 * time.Second

// releaseOnce returns a function that frees the caller's reserved slot.
// Both release signals (handler return and request-context cancellation)
// funnel through it; the sync.Once guard collapses them into a single
// decrement.
func releaseOnce(engine *frond.Engine, tel string, m *metrics.Metrics) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()

			engine.Release(ctx, tel)
			if m != nil {
				m.ReleasesTotal.Inc()
			}
		})
	}
}
