// Package logging adapts the teacher's slog-based HTTP middlewares
// (logger.go/recovery.go) from fox's router-bound Context to plain
// net/http, since the control plane's half-dozen fixed endpoints are
// served over http.ServeMux rather than a generic path router.
package logging

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/nexuts-io/nexuts/internal/slogpretty"
)

// Keys for the built-in logger middleware attributes, matching fox's
// LoggerStatusKey/LoggerMethodKey/... naming.
const (
	StatusKey  = "status"
	MethodKey  = "method"
	HostKey    = "host"
	PathKey    = "path"
	LatencyKey = "latency"
	SizeKey    = "size"
	PanicKey   = "panic"
)

// statusWriter captures the status code and byte count a handler wrote,
// since http.ResponseWriter exposes neither after the fact.
type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

// Logger returns a middleware that logs one line per request at a level
// derived from the response status: 2xx info, 3xx debug, 4xx warn, 5xx
// error, matching fox's Logger.
func Logger(handler slog.Handler) func(http.Handler) http.Handler {
	log := slog.New(handler)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			latency := time.Since(start)

			log.LogAttrs(r.Context(), levelFor(sw.status), r.RemoteAddr,
				slog.Int(StatusKey, sw.status),
				slog.String(MethodKey, r.Method),
				slog.String(HostKey, r.Host),
				slog.String(PathKey, r.URL.Path),
				slog.Int(SizeKey, sw.size),
				slog.Duration(LatencyKey, latency),
			)
		})
	}
}

func levelFor(status int) slog.Level {
	switch {
	case status >= 200 && status < 300:
		return slog.LevelInfo
	case status >= 300 && status < 400:
		return slog.LevelDebug
	case status >= 400 && status < 500:
		return slog.LevelWarn
	case status >= 500:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Recovery returns a middleware that recovers from panics, logs the
// request path and stack trace via slogpretty.DefaultHandler, and
// writes a 500 response, matching fox's Recovery/DefaultHandleRecovery.
func Recovery() func(http.Handler) http.Handler {
	return CustomRecovery(slogpretty.DefaultHandler)
}

// CustomRecovery is Recovery parameterized on the slog.Handler.
func CustomRecovery(handler slog.Handler) func(http.Handler) http.Handler {
	log := slog.New(handler)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("recovered from panic",
						slog.String(PathKey, r.URL.Path),
						slog.Any(PanicKey, err),
						slog.String("stack", string(debug.Stack())),
					)
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
