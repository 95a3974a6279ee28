// Package events publishes the canvas/asset event stream. With NATS
// configured, events go to a JetStream stream; without it, a no-op publisher
// keeps the rest of the server oblivious.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"driftcanvas/core"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	streamName    = "DRIFTCANVAS_EVENTS"
	subjectPrefix = "driftcanvas.events."
	dedupWindow   = 5 * time.Second
)

// Publisher delivers event envelopes to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event core.Event) error
	Close() error
}

type noop struct{}

func (n *noop) Publish(ctx context.Context, event core.Event) error { return nil }
func (n *noop) Close() error                                        { return nil }

// NewNoop returns a publisher that drops everything.
func NewNoop() Publisher { return &noop{} }

type natsPub struct {
	nc *nats.Conn
	js nats.JetStreamContext

	mu    sync.Mutex
	dedup map[string]time.Time
}

// NewPublisherFromEnv connects to NATS when NATS_URL is set, falling back to
// the no-op publisher on any failure so event delivery never blocks startup.
func NewPublisherFromEnv() Publisher {
	url := os.Getenv("NATS_URL")
	if url == "" {
		return &noop{}
	}

	nc, err := nats.Connect(url)
	if err != nil {
		logrus.WithError(err).Warn("NATS connect failed, using noop publisher")
		return &noop{}
	}
	js, err := nc.JetStream()
	if err != nil {
		logrus.WithError(err).Warn("NATS JetStream unavailable, using noop publisher")
		nc.Close()
		return &noop{}
	}
	if err := initStream(js); err != nil {
		logrus.WithError(err).Warn("NATS stream init failed, using noop publisher")
		nc.Close()
		return &noop{}
	}
	logrus.WithField("url", url).Info("Publishing events to NATS")
	return &natsPub{nc: nc, js: js, dedup: make(map[string]time.Time)}
}

func initStream(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ">"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create %s stream: %w", streamName, err)
	}
	return nil
}

func (p *natsPub) Publish(ctx context.Context, event core.Event) error {
	if event.Kind == "" {
		return fmt.Errorf("event kind cannot be empty")
	}
	if p.seenRecently(event) {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event envelope: %w", err)
	}
	if _, err := p.js.Publish(subjectPrefix+string(event.Kind), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publishing %s: %w", event.Kind, err)
	}
	return nil
}

// seenRecently suppresses duplicate publishes of the same event within a
// short window, keyed by kind plus correlation id.
func (p *natsPub) seenRecently(event core.Event) bool {
	if event.CorrelationID == "" {
		return false
	}
	key := string(event.Kind) + ":" + event.CorrelationID

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if at, ok := p.dedup[key]; ok && now.Sub(at) < dedupWindow {
		return true
	}
	p.dedup[key] = now
	for k, at := range p.dedup {
		if now.Sub(at) >= dedupWindow {
			delete(p.dedup, k)
		}
	}
	return false
}

func (p *natsPub) Close() error {
	p.nc.Close()
	return nil
}
