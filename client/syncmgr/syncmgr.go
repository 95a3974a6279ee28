// Package syncmgr reconciles the local canvas document with its remote
// copy. Push and pull never fail the caller: every outcome is a Result,
// and the editor keeps working against the local cache regardless.
package syncmgr

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"driftcanvas/core"
	"driftcanvas/errdefs"

	"github.com/sirupsen/logrus"
)

// Result reasons. Offline is expected connectivity loss and callers
// suppress user-facing warnings for it; the other two are worth surfacing.
const (
	ReasonOffline        = "offline"
	ReasonRemoteRejected = "remote_rejected"
	ReasonUnknown        = "unknown"
)

// Result is the outcome of one sync attempt. Reason is empty when OK.
type Result struct {
	OK     bool
	Reason string
}

// Remote is the document endpoint a Manager pushes to and pulls from.
// GetState reports a missing document with a not-found taxonomy error.
type Remote interface {
	PutState(ctx context.Context, projectID string, state *core.CanvasState) error
	GetState(ctx context.Context, projectID string) (*core.CanvasState, error)
}

// Manager tracks one client's sync position: whether local changes have
// reached the remote since the last successful push.
type Manager struct {
	remote Remote

	mu    sync.Mutex
	dirty bool
}

func New(remote Remote) *Manager {
	return &Manager{remote: remote}
}

// MarkDirty records that local state has changed since the last push.
func (m *Manager) MarkDirty() {
	m.mu.Lock()
	m.dirty = true
	m.mu.Unlock()
}

func (m *Manager) Dirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

// Push replaces the remote document with state. Last write wins at document
// granularity; there is no merge. A successful push clears the dirty flag,
// a failed one leaves it set so the next attempt retries fresh.
func (m *Manager) Push(ctx context.Context, projectID string, state *core.CanvasState) Result {
	err := m.remote.PutState(ctx, projectID, state)
	if err == nil {
		m.mu.Lock()
		m.dirty = false
		m.mu.Unlock()
		return Result{OK: true}
	}

	reason := classify(err)
	if reason == ReasonOffline {
		logrus.WithField("projectID", projectID).Debug("Push skipped, offline")
	} else {
		logrus.WithFields(logrus.Fields{
			"projectID": projectID,
			"reason":    reason,
			"error":     err,
		}).Warn("Push failed")
	}
	return Result{Reason: reason}
}

// Pull fetches the remote document. A missing remote document is a
// successful pull of nothing: new projects start empty everywhere.
func (m *Manager) Pull(ctx context.Context, projectID string) (*core.CanvasState, Result) {
	state, err := m.remote.GetState(ctx, projectID)
	if err == nil {
		return state, Result{OK: true}
	}
	if errdefs.IsCode(err, errdefs.CodeNotFound) {
		return nil, Result{OK: true}
	}

	reason := classify(err)
	if reason == ReasonOffline {
		logrus.WithField("projectID", projectID).Debug("Pull skipped, offline")
	} else {
		logrus.WithFields(logrus.Fields{
			"projectID": projectID,
			"reason":    reason,
			"error":     err,
		}).Warn("Pull failed")
	}
	return nil, Result{Reason: reason}
}

// classify sorts a sync error into the three reasons callers act on:
// transport-level failures are offline, anything the server explicitly
// refused is remote_rejected, the rest is unknown.
func classify(err error) string {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return ReasonOffline
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReasonOffline
	}

	var terr *errdefs.Error
	if errors.As(err, &terr) {
		switch terr.Code {
		case errdefs.CodeRemoteUnavailable, errdefs.CodeInternal:
			return ReasonUnknown
		default:
			return ReasonRemoteRejected
		}
	}
	return ReasonUnknown
}
