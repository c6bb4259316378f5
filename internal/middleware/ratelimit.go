package middleware

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fathima-sithara/discovery-gateway/internal/gwerrors"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	visitorIdle     = 5 * time.Minute
	cleanupInterval = time.Minute
)

// IPRateLimiter is a token bucket per client IP held in process memory.
type IPRateLimiter struct {
	visitors sync.Map
	rps      rate.Limit
	burst    int
	log      *zap.Logger
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// NewIPRateLimiter allows perMinute requests per IP with the given burst.
// Idle visitors are dropped until ctx is cancelled.
func NewIPRateLimiter(ctx context.Context, perMinute, burst int, logger *zap.Logger) *IPRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	l := &IPRateLimiter{
		rps:   rate.Limit(float64(perMinute) / 60.0),
		burst: burst,
		log:   logger,
	}
	go l.cleanupVisitors(ctx)
	return l
}

func (l *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	now := time.Now().UnixNano()
	if v, ok := l.visitors.Load(ip); ok {
		vi := v.(*visitor)
		vi.lastSeen.Store(now)
		return vi.limiter
	}
	vi := &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
	vi.lastSeen.Store(now)
	actual, _ := l.visitors.LoadOrStore(ip, vi)
	return actual.(*visitor).limiter
}

func (l *IPRateLimiter) cleanupVisitors(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep(time.Now().Add(-visitorIdle))
		}
	}
}

func (l *IPRateLimiter) sweep(cutoff time.Time) {
	l.visitors.Range(func(k, v any) bool {
		if v.(*visitor).lastSeen.Load() < cutoff.UnixNano() {
			l.visitors.Delete(k)
		}
		return true
	})
}

func (l *IPRateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := getIP(c)
		if !l.getLimiter(ip).Allow() {
			l.log.Warn("rate limit exceeded", zap.String("ip", ip), zap.String("path", c.Path()))
			return fmt.Errorf("%w: %s", gwerrors.ErrRateLimited, ip)
		}
		return c.Next()
	}
}

func getIP(c *fiber.Ctx) string {
	ip := c.IP()
	if ip == "" {
		ip = "unknown"
	}
	host, _, err := net.SplitHostPort(ip)
	if err == nil {
		return host
	}
	return ip
}
