package api

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"qr-spider/pkg/metrics"
)

const defaultRateLimitPerMinute = 100

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter keeps one token bucket per client address. A bucket holds
// burst tokens and refills at perMinute tokens per minute.
type ipRateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	idleAfter time.Duration // a bucket untouched this long is full again
	now       func() time.Time
	log       *logrus.Entry
}

// newIPRateLimiter returns nil when perMinute is negative, which disables
// limiting. Zero values take the defaults.
func newIPRateLimiter(perMinute, burst int, log *logrus.Entry) *ipRateLimiter {
	if perMinute < 0 {
		return nil
	}
	if perMinute == 0 {
		perMinute = defaultRateLimitPerMinute
	}
	if burst <= 0 {
		burst = perMinute
	}
	refill := time.Duration(float64(burst) / float64(perMinute) * float64(time.Minute))
	return &ipRateLimiter{
		clients:   make(map[string]*clientLimiter),
		limit:     rate.Limit(float64(perMinute) / 60),
		burst:     burst,
		idleAfter: max(refill, time.Minute),
		now:       time.Now,
		log:       log.WithField("component", "rate_limiter"),
	}
}

// allow takes a token for key. When none is left it returns false and the
// time until the next one.
func (l *ipRateLimiter) allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	r := c.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, l.idleAfter
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

func (l *ipRateLimiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idleAfter)
	evicted := 0
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			evicted++
		}
	}
	if evicted > 0 {
		l.log.Debugf("Evicted %d idle client limiters, %d remain", evicted, len(l.clients))
	}
}

// runEviction drops idle buckets every idleAfter until ctx is done.
func (l *ipRateLimiter) runEviction(ctx context.Context) {
	ticker := time.NewTicker(l.idleAfter)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-ctx.Done():
			return
		}
	}
}

func (l *ipRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// clientIP strips the port from RemoteAddr. middleware.RealIP may already
// have replaced it with a bare forwarded address.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

type rateLimitedResponse struct {
	errorResponse
	RetryAfter int `json:"retryAfter"`
}

// rateLimit rejects clients over their budget with 429 and a Retry-After
// header in seconds.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		ok, wait := s.limiter.allow(ip)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		secs := max(int(math.Ceil(wait.Seconds())), 1)
		metrics.HTTPRateLimited.Inc()
		s.log.WithField("client", ip).Debugf("Rate limit exceeded, retry in %ds", secs)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		s.respondWithJSON(w, http.StatusTooManyRequests, rateLimitedResponse{
			errorResponse: errorResponse{Error: "Too many requests, please try again later"},
			RetryAfter:    secs,
		})
	})
}
