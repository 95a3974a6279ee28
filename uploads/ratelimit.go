package uploads

import (
	"fmt"
	"sync"
	"time"

	"driftcanvas/errdefs"

	"github.com/sirupsen/logrus"
)

const purgeInterval = 10 * time.Minute

// RateLimiter enforces per-user upload ceilings with exact sliding windows:
// it keeps the real timestamps and counts entries inside (now-window, now],
// rather than approximating with buckets or token refill. Two windows apply
// independently, per minute and per hour.
type RateLimiter struct {
	perMinute int
	perHour   int

	mu      sync.Mutex
	entries map[string][]time.Time // per user, oldest first

	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

// NewRateLimiter creates a limiter with the given per-minute and per-hour
// ceilings. Non-positive ceilings disable the corresponding window.
func NewRateLimiter(perMinute, perHour int) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		perHour:   perHour,
		entries:   make(map[string][]time.Time),
		now:       time.Now,
		stop:      make(chan struct{}),
	}
}

// Allow records one upload attempt for the user if both windows have room.
// When a window is full it returns a rate_limit error whose reason names the
// exhausted window, and records nothing.
func (l *RateLimiter) Allow(userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	ts := l.pruneLocked(userID, now)

	if l.perMinute > 0 {
		inMinute := countSince(ts, now.Add(-time.Minute))
		if inMinute >= l.perMinute {
			oldest := ts[len(ts)-inMinute]
			retry := oldest.Add(time.Minute).Sub(now)
			return errdefs.WithReason(errdefs.CodeRateLimit, errdefs.ReasonPerMinute,
				fmt.Sprintf("upload limit of %d per minute reached, retry in %s", l.perMinute, retry.Round(time.Second)))
		}
	}
	if l.perHour > 0 && len(ts) >= l.perHour {
		retry := ts[0].Add(time.Hour).Sub(now)
		return errdefs.WithReason(errdefs.CodeRateLimit, errdefs.ReasonPerHour,
			fmt.Sprintf("upload limit of %d per hour reached, retry in %s", l.perHour, retry.Round(time.Second)))
	}

	l.entries[userID] = append(ts, now)
	return nil
}

// pruneLocked drops entries older than the hour window, the longest horizon
// anything counts against. Callers must hold the lock.
func (l *RateLimiter) pruneLocked(userID string, now time.Time) []time.Time {
	ts := l.entries[userID]
	cut := now.Add(-time.Hour)
	i := 0
	for i < len(ts) && !ts[i].After(cut) {
		i++
	}
	if i > 0 {
		ts = append([]time.Time(nil), ts[i:]...)
		if len(ts) == 0 {
			delete(l.entries, userID)
		} else {
			l.entries[userID] = ts
		}
	}
	return ts
}

// countSince counts entries strictly newer than cut. Entries are ordered, so
// scan from the newest end.
func countSince(ts []time.Time, cut time.Time) int {
	n := 0
	for i := len(ts) - 1; i >= 0 && ts[i].After(cut); i-- {
		n++
	}
	return n
}

// Start launches the background purge loop that evicts users whose entries
// all aged out, keeping the map from growing with one-time uploaders.
func (l *RateLimiter) Start() {
	go func() {
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.purge()
			case <-l.stop:
				return
			}
		}
	}()
}

// Stop terminates the purge loop.
func (l *RateLimiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

func (l *RateLimiter) purge() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for userID := range l.entries {
		before := len(l.entries[userID])
		after := len(l.pruneLocked(userID, now))
		removed += before - after
	}
	if removed > 0 {
		logrus.WithField("entries", removed).Debug("Purged expired rate limit entries")
	}
}
