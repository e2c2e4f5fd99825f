package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// sensitiveFields are field names that should be filtered from logs
var sensitiveFields = []string{
	"secret",
	"api_key",
	"apikey",
	"hash",
	"signature",
	"authorization",
	"card",
	"pan",
	"cvv",
	"token",
}

func LoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			logRequest(logger, r)

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			logger.Info("http response",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration_ms", time.Since(start).Milliseconds())
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// maxLoggedBody caps how much of a request body gets buffered for logging.
// Handlers enforce their own body limits; this one only protects the logger.
const maxLoggedBody = 64 << 10

// logRequest captures and restores the body byte-for-byte. Restoration must
// be exact: the webhook handler verifies a signature over the raw bytes.
func logRequest(logger *slog.Logger, r *http.Request) {
	attrs := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"remote", r.RemoteAddr,
	}

	if r.Body != nil && r.Method != http.MethodGet {
		orig := r.Body
		buffered, err := io.ReadAll(io.LimitReader(orig, maxLoggedBody+1))
		if err == nil {
			// Unread bytes stay in orig; stitching them back keeps the
			// body identical to what arrived on the wire.
			r.Body = replayBody{
				Reader: io.MultiReader(bytes.NewReader(buffered), orig),
				Closer: orig,
			}
			if len(buffered) > maxLoggedBody {
				attrs = append(attrs, "body", "<body exceeds log limit>")
			} else {
				attrs = append(attrs, "body", redactBody(buffered))
			}
		}
	}

	logger.Info("http request", attrs...)
}

type replayBody struct {
	io.Reader
	io.Closer
}

func redactBody(body []byte) string {
	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "<non-json body>"
	}

	for key := range decoded {
		if isSensitive(key) {
			decoded[key] = "[FILTERED]"
		}
	}

	filtered, err := json.Marshal(decoded)
	if err != nil {
		return "<unloggable body>"
	}
	return string(filtered)
}

func isSensitive(field string) bool {
	lower := strings.ToLower(field)
	for _, s := range sensitiveFields {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
