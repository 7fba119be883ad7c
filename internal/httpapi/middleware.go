package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// corsMiddleware mirrors the gateway's permissive-by-config CORS
// handling: a single allowed origin (FRONTEND_URL, possibly "*").
func corsMiddleware(allowedOrigin string) func(http.Handler) http.Handler {
	allowAll := allowedOrigin == "" || allowedOrigin == "*"
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin == allowedOrigin {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, X-Request-ID")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func requestLoggerMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.status).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// maxBodySizeMiddleware rejects oversized request bodies before any
// handler parses JSON.
func maxBodySizeMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 * 1024 * 1024
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimiter is a per-key sliding window limiter, the same shape as
// the gateway's in-memory RateLimiter, parameterized additionally by
// a per-hour and per-day cap as the ingestion-control API requires.
type rateLimiter struct {
	logger  zerolog.Logger
	enabled bool
	rpm     int
	perHour int
	perDay  int

	mu      sync.Mutex
	windows map[string]*slidingWindow
}

type slidingWindow struct {
	minute []time.Time
	hour   []time.Time
	day    []time.Time
}

func newRateLimiter(logger zerolog.Logger, enabled bool, rpm, perHour, perDay int) *rateLimiter {
	return &rateLimiter{
		logger:  logger,
		enabled: enabled,
		rpm:     rpm,
		perHour: perHour,
		perDay:  perDay,
		windows: make(map[string]*slidingWindow),
	}
}

func (rl *rateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.enabled {
			next.ServeHTTP(w, r)
			return
		}

		key := r.RemoteAddr
		allowed, remaining, resetAt, retryAfter := rl.allow(key)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.rpm))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error":      "rate_limited",
				"message":    fmt.Sprintf("rate limit of %d requests per minute exceeded", rl.rpm),
				"retryAfter": int(retryAfter.Seconds()) + 1,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *rateLimiter) allow(key string) (bool, int, time.Time, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	sw, ok := rl.windows[key]
	if !ok {
		sw = &slidingWindow{}
		rl.windows[key] = sw
	}

	sw.minute = prune(sw.minute, now.Add(-time.Minute))
	sw.hour = prune(sw.hour, now.Add(-time.Hour))
	sw.day = prune(sw.day, now.Add(-24*time.Hour))

	if rl.rpm > 0 && len(sw.minute) >= rl.rpm {
		return false, 0, sw.minute[0].Add(time.Minute), time.Until(sw.minute[0].Add(time.Minute))
	}
	if rl.perHour > 0 && len(sw.hour) >= rl.perHour {
		return false, 0, sw.hour[0].Add(time.Hour), time.Until(sw.hour[0].Add(time.Hour))
	}
	if rl.perDay > 0 && len(sw.day) >= rl.perDay {
		return false, 0, sw.day[0].Add(24 * time.Hour), time.Until(sw.day[0].Add(24 * time.Hour))
	}

	sw.minute = append(sw.minute, now)
	sw.hour = append(sw.hour, now)
	sw.day = append(sw.day, now)

	remaining := rl.rpm - len(sw.minute)
	return true, remaining, now.Add(time.Minute), 0
}

func prune(times []time.Time, cutoff time.Time) []time.Time {
	out := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
