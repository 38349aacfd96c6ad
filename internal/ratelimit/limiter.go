// Package ratelimit paces navigations per target host so parallel scenarios
// do not hammer the live third-party sites they exercise.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the per-host pacing.
type Config struct {
	PerHostRPS      float64       // Navigations per second to a single host
	PerHostBurst    int           // Navigations allowed back to back before pacing kicks in
	CleanupInterval time.Duration // How often to drop limiters for hosts no longer visited
}

// DefaultConfig keeps a full parallel run at a few page loads per second per site.
var DefaultConfig = Config{
	PerHostRPS:      2,
	PerHostBurst:    4,
	CleanupInterval: time.Hour,
}

// hostLimiterEntry holds a rate limiter and tracks its last usage.
type hostLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// HostLimiter manages one token bucket per host.
type HostLimiter struct {
	limiters map[string]*hostLimiterEntry
	mu       sync.Mutex
	config   Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHostLimiter creates a limiter and starts its background cleanup goroutine.
func NewHostLimiter(config Config) *HostLimiter {
	hl := &HostLimiter{
		limiters: make(map[string]*hostLimiterEntry),
		config:   config,
		stopCh:   make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		hl.wg.Add(1)
		go hl.cleanupLoop()
	}

	return hl
}

// Wait blocks until a navigation to rawURL may proceed or ctx is done.
// URLs without a host (about:blank, data:) are never paced.
func (hl *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	host := HostOf(rawURL)
	if host == "" {
		return nil
	}
	if err := hl.GetLimiter(host).Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: waiting for %s: %w", host, err)
	}
	return nil
}

// Allow reports whether a navigation to host may proceed right now.
func (hl *HostLimiter) Allow(host string) bool {
	return hl.GetLimiter(host).Allow()
}

// GetLimiter returns the limiter for host, creating one if necessary.
func (hl *HostLimiter) GetLimiter(host string) *rate.Limiter {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	entry, exists := hl.limiters[host]
	if exists {
		entry.lastUsed = time.Now()
		return entry.limiter
	}

	limiter := rate.NewLimiter(rate.Limit(hl.config.PerHostRPS), hl.config.PerHostBurst)
	hl.limiters[host] = &hostLimiterEntry{
		limiter:  limiter,
		lastUsed: time.Now(),
	}
	return limiter
}

// Cleanup removes limiters idle for longer than the cleanup interval.
func (hl *HostLimiter) Cleanup() {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	cutoff := time.Now().Add(-hl.config.CleanupInterval)
	for host, entry := range hl.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(hl.limiters, host)
		}
	}
}

func (hl *HostLimiter) cleanupLoop() {
	defer hl.wg.Done()

	ticker := time.NewTicker(hl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hl.Cleanup()
		case <-hl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine and waits for it to finish. Safe to call twice.
func (hl *HostLimiter) Stop() {
	hl.stopOnce.Do(func() {
		close(hl.stopCh)
	})
	hl.wg.Wait()
}

// Len returns the number of hosts currently tracked.
func (hl *HostLimiter) Len() int {
	hl.mu.Lock()
	defer hl.mu.Unlock()
	return len(hl.limiters)
}

// HostOf returns the lower-cased host of rawURL, or "" when it has none.
func HostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
