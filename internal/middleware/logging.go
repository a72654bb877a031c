// Package middleware holds the HTTP plumbing that wraps requests on both
// sides of the wire: http.RoundTripper decorators for the client, and
// http.Handler middleware for the fake backend.
//
// WHAT IS MIDDLEWARE?
// Middleware wraps an HTTP handler to add behaviour that every request
// needs (logging, auth) without the handler knowing about it:
//
//	func Middleware(next http.Handler) http.Handler {
//	    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        // before the handler
//	        next.ServeHTTP(w, r)
//	        // after the handler
//	    })
//	}
//
// WHAT IS A ROUND TRIPPER?
// http.RoundTripper is the client-side mirror image. An *http.Client hands
// every request to its Transport's RoundTrip method, so wrapping the
// Transport lets us touch every outgoing request in one place:
//
//	func RoundTripper(next http.RoundTripper) http.RoundTripper
//
// httpclient.New stacks them as RequestID → BearerToken → LogRoundTrips →
// the real transport. The outermost wrapper runs first.
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
// The standard ResponseWriter never reports the status after WriteHeader,
// so we record it on the way through.
type responseWriter struct {
	http.ResponseWriter       // embedded: every method we don't override passes through
	statusCode          int   // status the handler wrote
	written             int64 // body bytes written
}

// WriteHeader records the status before passing it on.
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write counts body bytes before passing them on.
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Logger returns server middleware that logs each request with slog.
//
// Each line carries the method, path, request ID, status, duration and
// byte count as structured fields, so the fake backend's log can be
// grepped by request ID alongside the client's.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap the writer so status and size are visible afterwards.
			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK, // default if WriteHeader is never called
			}

			next.ServeHTTP(wrapped, r)

			logger.Info("request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("requestID", r.Header.Get(RequestIDHeader)),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
			)
		})
	}
}

// RoundTripFunc lets an ordinary function act as an http.RoundTripper,
// the same trick http.HandlerFunc plays for handlers.
type RoundTripFunc func(*http.Request) (*http.Response, error)

func (f RoundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// LogRoundTrips is the client-side twin of Logger.
//
// LOG LEVELS:
// A completed round trip is logged at debug, whatever its status: a 404 is
// an answer, and the caller decides whether it is a problem. A failure with
// no response at all (DNS, refused connection, timeout) is logged at warn.
//
// The Authorization header is never logged. Only whether one was sent.
func LogRoundTrips(logger *slog.Logger, next http.RoundTripper) http.RoundTripper {
	return RoundTripFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()

		resp, err := next.RoundTrip(r)

		attrs := []any{
			slog.String("method", r.Method),
			slog.String("url", r.URL.Redacted()),
			slog.String("requestID", r.Header.Get(RequestIDHeader)),
			slog.Bool("authenticated", r.Header.Get("Authorization") != ""),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			logger.Warn("request failed", append(attrs, slog.String("error", err.Error()))...)
			return nil, err
		}

		logger.Debug("request completed", append(attrs, slog.Int("status", resp.StatusCode))...)
		return resp, nil
	})
}
