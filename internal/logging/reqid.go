package logging

import (
	"context"
	"net/http"

	"github.com/nexuts-io/nexuts/internal/idutil"
)

type requestIDKey struct{}

// RequestID stamps every request with an id, reusing an incoming
// X-Request-Id header and generating a UUID only when none is present; the
// id is propagated through the request context and echoed back as the
// X-Request-Id response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			generated, err := idutil.NewID()
			if err == nil {
				id = generated
			}
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext extracts the id RequestID stamped, or "" if none.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
