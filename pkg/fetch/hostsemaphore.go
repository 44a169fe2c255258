package fetch

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"qr-spider/pkg/metrics"
	"qr-spider/pkg/utils"
)

const defaultImagesPerHost = 4

type hostSlot struct {
	sem       *semaphore.Weighted
	users     int64     // holders plus waiters
	idleSince time.Time // set when users drops to zero
}

// HostSemaphorePool bounds concurrent image downloads per host. Pages with
// dozens of thumbnails on one CDN would otherwise open a connection per
// candidate. One pool is shared by every crawl and batch scan in the
// process, so the limit holds across runs.
type HostSemaphorePool struct {
	mu    sync.Mutex
	slots map[string]*hostSlot
	limit int64
	log   *logrus.Entry
}

// NewHostSemaphorePool creates a pool allowing maxPerHost concurrent
// downloads per host. Values <= 0 fall back to 4.
func NewHostSemaphorePool(maxPerHost int, log *logrus.Entry) *HostSemaphorePool {
	limit := int64(maxPerHost)
	if limit <= 0 {
		limit = defaultImagesPerHost
		log.Warnf("max_requests_per_host invalid or zero, defaulting to %d", limit)
	}
	return &HostSemaphorePool{
		slots: make(map[string]*hostSlot),
		limit: limit,
		log:   log.WithField("component", "image_host_limiter"),
	}
}

// hostKey folds case and default ports so that IMG.example.com:443 and
// img.example.com share a slot.
func hostKey(host string) string {
	host = strings.ToLower(host)
	if h, port, err := net.SplitHostPort(host); err == nil && (port == "80" || port == "443") {
		return h
	}
	return host
}

// Acquire waits for a download slot on host. wait bounds the time spent
// queueing (0 waits as long as ctx allows); running out of it yields
// utils.ErrSemaphoreTimeout, while ctx ending yields the context error.
// The returned release must be called exactly once.
func (p *HostSemaphorePool) Acquire(ctx context.Context, host string, wait time.Duration) (release func(), err error) {
	key := hostKey(host)

	p.mu.Lock()
	slot, ok := p.slots[key]
	if !ok {
		slot = &hostSlot{sem: semaphore.NewWeighted(p.limit)}
		p.slots[key] = slot
		metrics.ImageHostsTracked.Set(float64(len(p.slots)))
	}
	slot.users++
	p.mu.Unlock()

	waitCtx := ctx
	if wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	start := time.Now()
	if err := slot.sem.Acquire(waitCtx, 1); err != nil {
		p.leave(key, slot)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.log.WithField("host", key).Debugf("No download slot after %v", wait)
		return nil, fmt.Errorf("%w: host %s busy for %v", utils.ErrSemaphoreTimeout, key, wait)
	}
	metrics.ImageHostWait.Observe(time.Since(start).Seconds())

	var once sync.Once
	return func() {
		once.Do(func() {
			slot.sem.Release(1)
			p.leave(key, slot)
		})
	}, nil
}

func (p *HostSemaphorePool) leave(key string, slot *hostSlot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot.users--
	if slot.users == 0 {
		slot.idleSince = time.Now()
	}
}

// RunEviction drops slots idle for at least interval, checking every
// interval, until ctx is done.
func (p *HostSemaphorePool) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.evictIdle(interval)
		case <-ctx.Done():
			p.log.Debugf("Stopping host slot eviction: %v", ctx.Err())
			return
		}
	}
}

func (p *HostSemaphorePool) evictIdle(maxIdle time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	evicted := 0
	for key, slot := range p.slots {
		if slot.users == 0 && !slot.idleSince.After(cutoff) {
			delete(p.slots, key)
			evicted++
		}
	}
	metrics.ImageHostsTracked.Set(float64(len(p.slots)))
	if evicted > 0 {
		p.log.Debugf("Evicted %d idle host slots, %d remain", evicted, len(p.slots))
	}
}

// Len returns the number of hosts currently tracked.
func (p *HostSemaphorePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// InUse returns holders plus waiters for host.
func (p *HostSemaphorePool) InUse(host string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot, ok := p.slots[hostKey(host)]; ok {
		return int(slot.users)
	}
	return 0
}
