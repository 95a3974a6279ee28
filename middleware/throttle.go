package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"driftcanvas/errdefs"

	"github.com/go-chi/render"
	"golang.org/x/time/rate"
)

// Throttle applies a per-client token bucket in front of the whole API.
// It is a coarse abuse guard; the upload path layers its own exact
// per-user window on top.
type Throttle struct {
	visitors sync.Map
	rps      rate.Limit
	burst    int
	stop     chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewThrottle(rps float64, burst int) *Throttle {
	t := &Throttle{
		rps:   rate.Limit(rps),
		burst: burst,
		stop:  make(chan struct{}),
	}
	go t.cleanupLoop()
	return t
}

func (t *Throttle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.allow(clientIP(r)) {
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, errdefs.New(errdefs.CodeRateLimit, "Too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *Throttle) allow(ip string) bool {
	now := time.Now()
	v, ok := t.visitors.Load(ip)
	if !ok {
		v, _ = t.visitors.LoadOrStore(ip, &visitor{
			limiter:  rate.NewLimiter(t.rps, t.burst),
			lastSeen: now,
		})
	}
	vis := v.(*visitor)
	vis.lastSeen = now
	return vis.limiter.Allow()
}

// cleanupLoop drops visitors idle for more than ten minutes so the map
// does not grow without bound.
func (t *Throttle) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			t.visitors.Range(func(key, value any) bool {
				if value.(*visitor).lastSeen.Before(cutoff) {
					t.visitors.Delete(key)
				}
				return true
			})
		}
	}
}

func (t *Throttle) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
