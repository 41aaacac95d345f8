// Package health serves the /healthz view of a delivery service: database
// reachability plus the size of the claimable delivery backlog, so an
// operator can tell a healthy-but-behind worker from a dead one.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Status struct {
	OK                bool   `json:"ok"`
	Message           string `json:"message,omitempty"`
	Database          bool   `json:"database,omitempty"`
	PendingDeliveries int64  `json:"pending_deliveries"`
}

// HTTPHandler reports service health. The backlog count only includes
// deliveries a worker could actually claim: pending, due, and belonging
// to an active subscription.
func HTTPHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok", Database: true}

		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				st.OK = false
				st.Message = "db ping failed"
				st.Database = false
				w.WriteHeader(http.StatusServiceUnavailable)
			} else {
				// Best effort; health stays up if the count fails.
				_ = pool.QueryRow(ctx, `
					SELECT count(*)
					FROM berthhook.deliveries d
					JOIN berthhook.subscriptions s ON s.id = d.subscription_id
					WHERE d.status = 'pending'
					  AND (d.next_attempt_at IS NULL OR d.next_attempt_at <= now())
					  AND s.active`,
				).Scan(&st.PendingDeliveries)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	}
}
