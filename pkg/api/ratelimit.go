package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientIdleTTL is how long a client's bucket survives without requests.
const clientIdleTTL = 10 * time.Minute

type clientBucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// clientLimiter hands out one token bucket per client IP. Idle buckets are
// swept lazily on access, at most once per clientIdleTTL.
type clientLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*clientBucket
	limit     rate.Limit
	burst     int
	lastSweep time.Time
}

func newClientLimiter(requestsPerMinute int) *clientLimiter {
	return &clientLimiter{
		buckets: make(map[string]*clientBucket),
		limit:   rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:   requestsPerMinute,
	}
}

// reserve takes a token for ip at now. When none is available it returns
// false and the delay until the next token.
func (cl *clientLimiter) reserve(ip string, now time.Time) (bool, time.Duration) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if now.Sub(cl.lastSweep) > clientIdleTTL {
		for key, b := range cl.buckets {
			if now.Sub(b.seen) > clientIdleTTL {
				delete(cl.buckets, key)
			}
		}

		cl.lastSweep = now
	}

	b, ok := cl.buckets[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		cl.buckets[ip] = b
	}

	b.seen = now

	res := b.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)

		return false, delay
	}

	return true, 0
}

func (cl *clientLimiter) size() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	return len(cl.buckets)
}

// rateLimitMiddleware rejects clients above requestsPerMinute with 429.
func rateLimitMiddleware(requestsPerMinute int) func(http.Handler) http.Handler {
	limiter := newClientLimiter(requestsPerMinute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, delay := limiter.reserve(extractIP(r), time.Now())
			if !ok {
				w.Header().Set("Retry-After",
					strconv.Itoa(int(math.Ceil(delay.Seconds()))))
				writeJSON(w, http.StatusTooManyRequests,
					errorResponse{"rate limit exceeded"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractIP returns the client address, preferring the first
// X-Forwarded-For hop.
func extractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")

		return strings.TrimSpace(first)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return ip
}
