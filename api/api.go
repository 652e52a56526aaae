// Package api implements the HTTP surface in front of a Blockgrid: the
// inbound dispatch itself is the originating application's concern (out of
// scope per this codebase's purpose statement), but the route table is real
// wire surface the module must expose to be usable end to end, shaped the
// way this codebase's own api package always has — an httprouter.Router,
// a Server wrapping the domain object and a net.Listener, and a pair of
// writeJSON/writeError helpers every handler funnels through.
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
)

// Error is a type that is encoded as JSON and returned in an API response in
// the event of an error. Only the Message field is required.
type Error struct {
	Message string `json:"message"`
}

// Error implements the error interface for the Error type. It returns only
// the Message field.
func (err Error) Error() string {
	return err.Message
}

// writeError writes err to w as JSON with the given status code.
func writeError(w http.ResponseWriter, err Error, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if json.NewEncoder(w).Encode(err) != nil {
		http.Error(w, "Failed to encode error response", http.StatusInternalServerError)
	}
}

// writeJSON writes obj to w as JSON with a 200 status.
func writeJSON(w http.ResponseWriter, obj interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if json.NewEncoder(w).Encode(obj) != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// writeSuccess writes a 200 with an empty JSON object, used by endpoints
// whose contract is simply "200 empty" or "200 ack" with no payload.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, struct{}{})
}

// RateLimiter is the thin per-IP fixed-window limiter this codebase's own
// purpose statement calls an external collaborator: the real limiter is
// someone else's concern, so this exists only to honor "per-IP rate limits
// apply on all endpoints" without building a production-grade limiter this
// module disclaims owning.
type RateLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	limit    int
	counters map[string]*windowCounter
}

type windowCounter struct {
	count int
	reset time.Time
}

// NewRateLimiter returns a RateLimiter allowing limit requests per remote IP
// within each window-long interval.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		window:   window,
		limit:    limit,
		counters: make(map[string]*windowCounter),
	}
}

// Allow reports whether key (typically a remote IP) may proceed under the
// current window, incrementing its counter if so.
func (rl *RateLimiter) Allow(key string) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	c, ok := rl.counters[key]
	if !ok || now.After(c.reset) {
		c = &windowCounter{count: 0, reset: now.Add(rl.window)}
		rl.counters[key] = c
	}
	if c.count >= rl.limit {
		return false
	}
	c.count++
	return true
}

// rateLimited wraps h so that requests exceeding the limiter's per-IP
// window receive a 429 instead of reaching the handler.
func rateLimited(rl *RateLimiter, h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !rl.Allow(remoteIP(r)) {
			writeError(w, Error{"rate limit exceeded"}, http.StatusTooManyRequests)
			return
		}
		h(w, r, ps)
	}
}

func remoteIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := lastColon(host); i >= 0 {
		host = host[:i]
	}
	return host
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}
