// Package providers integrates the external media generation services. Each
// provider is a black box that takes a prompt and returns binary media; the
// generate handlers pick one from the registry and feed its output through
// the upload gateway like any other ingest.
package providers

import (
	"context"
	"os"
	"strings"

	"driftcanvas/core"

	"github.com/sirupsen/logrus"
)

// Request is the provider-independent generation request.
type Request struct {
	Prompt    string
	Model     string
	Width     int64
	Height    int64
	DurationS float64
	Seed      int64
}

// Result is what a provider hands back: the media bytes plus whatever the
// service reported about them.
type Result struct {
	Data      []byte
	MimeType  string
	Width     int64
	Height    int64
	DurationS float64
	Model     string
	Seed      int64
}

type Provider interface {
	Name() string
	Generate(ctx context.Context, kind core.AssetKind, req Request) (*Result, error)
}

// Registry holds the configured providers and the default choice.
type Registry struct {
	providers   map[string]Provider
	defaultName string
}

// FromEnv builds the registry from the environment. Providers with missing
// credentials are skipped; the stub is always available so a bare install
// can still generate placeholder media.
func FromEnv() *Registry {
	reg := &Registry{providers: map[string]Provider{}}

	stub := NewStub()
	reg.providers[stub.Name()] = stub
	reg.defaultName = stub.Name()

	if os.Getenv("OPENAI_API_KEY") != "" {
		p := NewOpenAI()
		reg.providers[p.Name()] = p
		reg.defaultName = p.Name()
		logrus.Info("Generation provider openai configured")
	}
	if os.Getenv("FAL_API_KEY") != "" {
		p := NewFal()
		reg.providers[p.Name()] = p
		reg.defaultName = p.Name()
		logrus.Info("Generation provider fal configured")
	}

	if want := strings.TrimSpace(os.Getenv("GENERATION_PROVIDER")); want != "" {
		if _, ok := reg.providers[want]; ok {
			reg.defaultName = want
		} else {
			logrus.WithField("provider", want).Warn("GENERATION_PROVIDER is not configured, keeping default")
		}
	}

	logrus.WithField("provider", reg.defaultName).Info("Use generation provider")
	return reg
}

// Lookup returns the named provider, or the default when name is empty.
func (r *Registry) Lookup(name string) (Provider, bool) {
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	return p, ok
}

// Default returns the default provider's name.
func (r *Registry) Default() string {
	return r.defaultName
}
