package httpserver

import (
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type middleware func(http.Handler) http.Handler

// chain wraps h so that the first middleware sees the request first.
func chain(h http.Handler, mws ...middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(r.Context(), level, "http request", // #nosec G706 -- values sanitized via sanitizeLog
			"method", sanitizeLog(r.Method),
			"path", sanitizeLog(r.URL.Path),
			"status", rec.status,
			"peer", sanitizeLog(peerIP(r)),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				slog.Error("handler panic", "panic", v, "stack", string(debug.Stack()))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Cache-Control", "no-store")
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// peerIP is the host part of RemoteAddr. Forwarding headers are ignored.
func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type peer struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per peer IP. Idle peers are swept
// after idleTTL; when maxPeers is reached the least recently seen one goes.
type clientLimiter struct {
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	maxPeers int

	mu    sync.Mutex
	peers map[string]*peer

	done     chan struct{}
	stopOnce sync.Once
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	l := &clientLimiter{
		limit:    limit,
		burst:    burst,
		idleTTL:  5 * time.Minute,
		maxPeers: 10000,
		peers:    make(map[string]*peer),
		done:     make(chan struct{}),
	}
	go l.sweepLoop(time.Minute)
	return l
}

func (l *clientLimiter) allow(ip string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.peers[ip]
	if !ok {
		if len(l.peers) >= l.maxPeers {
			l.dropLeastRecent()
		}
		p = &peer{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.peers[ip] = p
	}
	p.lastSeen = now
	return p.limiter.AllowN(now, 1)
}

// dropLeastRecent requires l.mu.
func (l *clientLimiter) dropLeastRecent() {
	var victim string
	var seen time.Time
	for ip, p := range l.peers {
		if victim == "" || p.lastSeen.Before(seen) {
			victim, seen = ip, p.lastSeen
		}
	}
	delete(l.peers, victim)
}

func (l *clientLimiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, p := range l.peers {
		if now.Sub(p.lastSeen) > l.idleTTL {
			delete(l.peers, ip)
		}
	}
}

func (l *clientLimiter) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case now := <-ticker.C:
			l.sweep(now)
		}
	}
}

func (l *clientLimiter) stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

func (l *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := peerIP(r)
		if !l.allow(ip) {
			slog.Warn("rate limit exceeded", // #nosec G706 -- values sanitized via sanitizeLog
				"peer", sanitizeLog(ip),
				"path", sanitizeLog(r.URL.Path),
			)
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
