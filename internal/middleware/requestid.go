package middleware

import (
	"net/http"

	"ledger/internal/events"

	"github.com/google/uuid"
)

// RequestID sets a unique request ID on each incoming request in header X-Request-ID
// and carries it in the context so charge events can be correlated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(events.WithRequestID(r.Context(), id)))
	})
}
