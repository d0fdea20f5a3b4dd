package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	httperrors "gitea.jw6.us/james/dialer/internal/http/errors"
	"gitea.jw6.us/james/dialer/internal/metrics"
)

const defaultMaxEntries = 10000

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	name           string
	limiters       map[string]*limiterEntry
	mu             sync.Mutex
	rate           rate.Limit
	burst          int
	idle           time.Duration
	maxEntries     int
	trustedProxies []*net.IPNet
	now            func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewIPRateLimiter starts a limiter allowing r requests per second with the
// given burst per client. Entries idle for twice the cleanup interval are
// dropped. Forwarding headers are honored only from trustedProxies (CIDRs or
// bare IPs); with none configured every peer is trusted. Close stops the
// cleanup goroutine.
func NewIPRateLimiter(name string, r rate.Limit, b int, cleanup time.Duration, trustedProxies []string) *IPRateLimiter {
	l := &IPRateLimiter{
		name:           name,
		limiters:       make(map[string]*limiterEntry),
		rate:           r,
		burst:          b,
		idle:           2 * cleanup,
		maxEntries:     defaultMaxEntries,
		trustedProxies: parseProxies(trustedProxies),
		now:            time.Now,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	go l.cleanupLoop(cleanup)
	return l
}

func parseProxies(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		if _, ipnet, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, ipnet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			zap.L().Warn("ignoring invalid trusted proxy", zap.String("entry", entry))
			continue
		}
		bits := 128
		if ip.To4() != nil {
			bits = 32
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Close stops background cleanup. It is safe to call more than once.
func (l *IPRateLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}

// Allow reports whether a request from ip may proceed.
func (l *IPRateLimiter) Allow(ip string) bool {
	return l.getLimiter(ip).AllowN(l.now(), 1)
}

func (l *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.limiters[ip]
	if !ok {
		if len(l.limiters) >= l.maxEntries {
			l.evictOldest()
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastAccess = now
	return entry.limiter
}

func (l *IPRateLimiter) evictOldest() {
	var oldestIP string
	var oldestTime time.Time
	for ip, entry := range l.limiters {
		if oldestIP == "" || entry.lastAccess.Before(oldestTime) {
			oldestIP = ip
			oldestTime = entry.lastAccess
		}
	}
	if oldestIP != "" {
		delete(l.limiters, oldestIP)
	}
}

func (l *IPRateLimiter) cleanupLoop(interval time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *IPRateLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.idle)
	for ip, entry := range l.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

func (l *IPRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Middleware answers 429 once a client exceeds its budget.
func (l *IPRateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := l.clientIP(r)
			if !l.Allow(ip) {
				metrics.ObserveRateLimited(l.name)
				zap.L().Debug("rate limited", zap.String("limiter", l.name), zap.String("ip", ip))
				w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
				httperrors.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *IPRateLimiter) retryAfter() int {
	if l.rate <= 0 {
		return 60
	}
	secs := int(1 / float64(l.rate))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (l *IPRateLimiter) clientIP(r *http.Request) string {
	remoteIP := parseIP(r.RemoteAddr)
	if remoteIP == nil {
		return r.RemoteAddr
	}

	if len(l.trustedProxies) > 0 && !l.trusted(remoteIP) {
		return remoteIP.String()
	}

	// Leftmost X-Forwarded-For entry is the original client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if parsed := net.ParseIP(strings.TrimSpace(xri)); parsed != nil {
			return parsed.String()
		}
	}
	return remoteIP.String()
}

func (l *IPRateLimiter) trusted(ip net.IP) bool {
	for _, ipnet := range l.trustedProxies {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

func parseIP(addr string) net.IP {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(addr)
}
