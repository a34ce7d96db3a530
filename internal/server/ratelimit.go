package server

import (
	"container/list"
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// evictionLogInterval is the minimum time between eviction log messages.
	evictionLogInterval = 30 * time.Second
	visitorIdleTimeout  = 10 * time.Minute
	visitorSweepEvery   = 5 * time.Minute
)

// visitor is one client's token bucket.
type visitor struct {
	ip       string
	limiter  *rate.Limiter
	lastSeen time.Time
}

// visitorTable holds up to capacity visitors. The least recently seen
// visitor is dropped to make room for a new one, so a full table never
// rejects a client.
type visitorTable struct {
	rps      rate.Limit
	burst    int
	capacity int
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	byIP    map[string]*list.Element
	recency *list.List // front is most recent

	evicted      int
	lastEvictLog time.Time
}

func newVisitorTable(rps float64, burst, capacity int, logger *zap.Logger) *visitorTable {
	if capacity <= 0 {
		capacity = maxTrackedIPs
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &visitorTable{
		rps:      rate.Limit(rps),
		burst:    burst,
		capacity: capacity,
		logger:   logger,
		now:      time.Now,
		byIP:     make(map[string]*list.Element),
		recency:  list.New(),
	}
}

// allow takes a token from ip's bucket.
func (t *visitorTable) allow(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if elem, ok := t.byIP[ip]; ok {
		t.recency.MoveToFront(elem)
		v := elem.Value.(*visitor)
		v.lastSeen = now
		return v.limiter.AllowN(now, 1)
	}

	if t.recency.Len() >= t.capacity {
		t.evictOldest(now)
	}
	v := &visitor{ip: ip, limiter: rate.NewLimiter(t.rps, t.burst), lastSeen: now}
	t.byIP[ip] = t.recency.PushFront(v)
	return v.limiter.AllowN(now, 1)
}

// evictOldest must be called with mu held.
func (t *visitorTable) evictOldest(now time.Time) {
	back := t.recency.Back()
	if back == nil {
		return
	}
	t.recency.Remove(back)
	delete(t.byIP, back.Value.(*visitor).ip)

	t.evicted++
	if now.Sub(t.lastEvictLog) >= evictionLogInterval {
		t.logger.Warn("rate limiter evicted least-recent IPs",
			zap.Int("evicted", t.evicted),
			zap.Int("capacity", t.capacity))
		t.lastEvictLog = now
		t.evicted = 0
	}
}

// sweep drops visitors idle for longer than visitorIdleTimeout. The list is
// ordered by recency, so the walk stops at the first fresh visitor.
func (t *visitorTable) sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for e := t.recency.Back(); e != nil; {
		v := e.Value.(*visitor)
		if now.Sub(v.lastSeen) <= visitorIdleTimeout {
			break
		}
		prev := e.Prev()
		t.recency.Remove(e)
		delete(t.byIP, v.ip)
		removed++
		e = prev
	}
	return removed
}

func (t *visitorTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recency.Len()
}

// run sweeps idle visitors until ctx is done, then closes done.
func (t *visitorTable) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(visitorSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := t.sweep(); n > 0 {
				t.logger.Debug("rate limiter swept idle IPs", zap.Int("removed", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

// RateLimitMiddleware limits each client IP to rps requests per second with
// the given burst, tracking at most maxIPs clients. The sweeper goroutine
// runs until ctx is cancelled; the returned channel closes when it exits.
func RateLimitMiddleware(ctx context.Context, rps float64, burst int, maxIPs int, logger *zap.Logger) (func(http.Handler) http.Handler, <-chan struct{}) {
	table := newVisitorTable(rps, burst, maxIPs, logger)
	done := make(chan struct{})
	go table.run(ctx, done)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !table.allow(getClientIP(r)) {
				w.Header().Set("Retry-After", "1")
				writeJSONError(w, http.StatusTooManyRequests, "Too many requests, please try again shortly")
				return
			}
			next.ServeHTTP(w, r)
		})
	}, done
}

// getClientIP returns the peer address, or the forwarded client address when
// the peer is a loopback or private proxy.
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	peer := net.ParseIP(host)
	if peer == nil {
		return host
	}
	if !peer.IsLoopback() && !peer.IsPrivate() {
		return peer.String()
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, _ := strings.Cut(xff, ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer.String()
}
