package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// requestLogger emits one structured line per request.
func requestLogger(log zerolog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r)
			log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.code).
				Dur("duration", time.Since(start)).
				Str("ip", clientIP(r, trustProxy)).
				Msg("request")
		})
	}
}

// maxBodyBytes caps request body size before any handler reads it.
func maxBodyBytes(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// Buckets idle longer than this are pruned.
const edgeBucketIdle = 5 * time.Minute

// edgeThrottle is a coarse per-IP token bucket in front of the tenant-level
// tiers. It protects the process itself; the tenant quotas live in the
// shared counter store. Idle buckets are pruned inline on the request path,
// so there is no background goroutine to stop on shutdown.
type edgeThrottle struct {
	mu         sync.Mutex
	buckets    map[string]*edgeBucket
	lastSweep  time.Time
	perSecond  int
	burst      int
	trustProxy bool
	now        func() time.Time
}

type edgeBucket struct {
	lim *rate.Limiter
	ts  time.Time
}

func newEdgeThrottle(perSecond, burst int, trustProxy bool) *edgeThrottle {
	return &edgeThrottle{
		buckets:    make(map[string]*edgeBucket),
		perSecond:  perSecond,
		burst:      burst,
		trustProxy: trustProxy,
		now:        time.Now,
	}
}

func (t *edgeThrottle) allow(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Sub(t.lastSweep) > time.Minute {
		for k, b := range t.buckets {
			if now.Sub(b.ts) > edgeBucketIdle {
				delete(t.buckets, k)
			}
		}
		t.lastSweep = now
	}

	b, ok := t.buckets[ip]
	if !ok {
		b = &edgeBucket{lim: rate.NewLimiter(rate.Limit(t.perSecond), t.burst)}
		t.buckets[ip] = b
	}
	b.ts = now
	return b.lim.Allow()
}

func (t *edgeThrottle) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, t.trustProxy)
		if ip == "" {
			ip = "unknown"
		}
		if !t.allow(ip) {
			respondError(w, http.StatusTooManyRequests, CodeRateLimited, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP resolves the caller address. X-Forwarded-For is only honored
// when the deployment declares a trusted proxy in front; otherwise any
// direct caller could rotate the header and mint fresh per-IP limiter
// keys.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (a *API) clientIP(r *http.Request) string {
	return clientIP(r, a.opts.TrustedProxy)
}
