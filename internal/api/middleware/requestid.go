package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/playgate-tv/playgate/internal/log"
)

const requestIDHeader = "X-Request-ID"

// RequestID assigns every request a correlation ID. An inbound
// X-Request-ID is trusted and propagated; otherwise a fresh UUID is
// minted. The ID lands in the request context and the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(log.ContextWithRequestID(r.Context(), id)))
	})
}
