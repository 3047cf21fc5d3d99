package postgres

import (
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// snapshot returns the counters under the lock.
func (s *ReqDBStats) snapshot() (queries, errs int, total time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.QueryCount, s.ErrorCount, s.TotalDuration
}

// RequestStats attaches a ReqDBStats to each request and, once the handler
// returns, logs how many queries it ran and how long they took. Requests that
// never touch the database log nothing.
func RequestStats(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := NewReqDBStatsContext(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))

		stats, _ := ReqDBStatsFromContext(ctx)
		queries, errs, total := stats.snapshot()
		if queries == 0 {
			return
		}
		log.FromContext(ctx).Info(ctx, "request db stats",
			"db.queries", queries,
			"db.errors", errs,
			"db.total_duration", total.Seconds(),
		)
	})
}
