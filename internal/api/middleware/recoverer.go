package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/playgate-tv/playgate/internal/log"
)

// Recoverer converts handler panics into 500 responses instead of
// tearing down the connection. The stack is logged, never leaked to
// the client.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				lg := log.WithComponentFromContext(r.Context(), "http")
				lg.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("path", r.URL.Path).
					Msg("handler panic recovered")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
