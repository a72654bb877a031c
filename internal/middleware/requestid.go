package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader correlates a client log line with the server's.
const RequestIDHeader = "X-Request-ID"

// RequestID stamps every outgoing request that lacks one with a random
// UUID in X-Request-ID.
func RequestID(next http.RoundTripper) http.RoundTripper {
	return RoundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.Header.Get(RequestIDHeader) != "" {
			return next.RoundTrip(r)
		}
		r2 := r.Clone(r.Context())
		r2.Header.Set(RequestIDHeader, uuid.NewString())
		return next.RoundTrip(r2)
	})
}
