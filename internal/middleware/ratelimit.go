package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

type window struct {
	count int
	until time.Time
}

// RateLimit allows limit requests per window per caller. Authenticated
// requests are counted per workspace, anonymous ones per client IP.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	var (
		mu      sync.Mutex
		windows = make(map[string]*window)
		sweep   time.Time
	)
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(r)
			now := time.Now()

			mu.Lock()
			if now.After(sweep) {
				for k, win := range windows {
					if now.After(win.until) {
						delete(windows, k)
					}
				}
				sweep = now.Add(per)
			}
			win, ok := windows[key]
			if !ok || now.After(win.until) {
				win = &window{until: now.Add(per)}
				windows[key] = win
			}
			if win.count >= limit {
				retry := int(time.Until(win.until).Seconds()) + 1
				mu.Unlock()
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			win.count++
			mu.Unlock()
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitKey buckets authenticated callers by workspace and the rest by
// client address. RemoteAddr has already been rewritten by chi's RealIP.
func rateLimitKey(r *http.Request) string {
	if ws := WorkspaceIDFromContext(r.Context()); ws != "" {
		return "ws:" + ws
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}
