// Package session owns the in-memory editing state for one open canvas:
// the element lists, viewport, selection, and undo history, plus the
// debounced persistence that keeps the local store and the remote document
// trailing the user's edits.
//
// Mutations follow a snapshot-and-replace model: every mutation builds a
// new state value and the previous one stays frozen in the history arena.
// Nothing here blocks the caller on IO; saves run on their own goroutine.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"driftcanvas/client/localstore"
	"driftcanvas/client/syncmgr"
	"driftcanvas/core"
	"driftcanvas/errdefs"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultDebounce is how long the session waits after the last mutation
	// before persisting. Long enough to coalesce a drag, short enough that
	// a pause means the work is safe.
	DefaultDebounce = time.Second

	duplicateOffset = 24
)

// ElementUpdate is a partial update for move/resize/rotate/opacity. Nil
// fields are left untouched, so a present zero is an explicit zero.
type ElementUpdate struct {
	X        *float64
	Y        *float64
	Width    *float64
	Height   *float64
	Rotation *float64
	Opacity  *float64
}

// PlaybackUpdate is a partial update for video playback state.
type PlaybackUpdate struct {
	CurrentTime *float64
	Playing     *bool
	Volume      *float64
	Muted       *bool
}

// Session is safe for concurrent use. The zero value is not usable; call New.
type Session struct {
	store *localstore.Store
	sync  *syncmgr.Manager

	mu       sync.Mutex
	state    *core.CanvasState
	history  []*core.CanvasState
	cursor   int
	selected map[string]bool
	project  string

	loaded      bool
	saving      bool
	busy        bool
	pendingSave bool
	needCleanup bool

	debounce time.Duration
	timer    *time.Timer

	// saveMu serializes saves so a timer-fired save and an explicit Flush
	// never interleave their store and push calls.
	saveMu sync.Mutex
}

// New builds a session over a local store. mgr may be nil for a purely
// local session; BindProject then has no remote to attach.
func New(store *localstore.Store, mgr *syncmgr.Manager) *Session {
	s := &Session{
		store:    store,
		sync:     mgr,
		state:    &core.CanvasState{Background: "#ffffff", Viewport: core.Viewport{Zoom: 1}},
		selected: map[string]bool{},
		debounce: DefaultDebounce,
	}
	s.resetHistoryLocked()
	return s
}

// SetDebounce adjusts the auto-save quiet window. Tests use short windows;
// production keeps the default.
func (s *Session) SetDebounce(d time.Duration) {
	s.mu.Lock()
	s.debounce = d
	s.mu.Unlock()
}

// LoadFromStore populates the session from the local store once. Loaded
// flips true even when the store is empty or unreadable; the editor then
// starts from a fresh canvas. Returns the read error for logging; the
// session is usable regardless.
func (s *Session) LoadFromStore(ctx context.Context) error {
	state, ok, err := s.store.CanvasState(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	if ok {
		s.state = state
	}
	s.resetHistoryLocked()
	s.loaded = true
	if s.pendingSave {
		s.pendingSave = false
		s.scheduleLocked()
	}
	return err
}

// BindProject attaches the session to a remote project and pulls its
// document. A remote copy replaces local state (the remote is the source
// of truth on open); a missing remote document keeps the local state for
// the first push to publish. Binding survives a failed pull so offline
// editing continues and syncs later.
func (s *Session) BindProject(ctx context.Context, projectID string) syncmgr.Result {
	if s.sync == nil {
		return syncmgr.Result{Reason: syncmgr.ReasonUnknown}
	}

	remote, res := s.sync.Pull(ctx, projectID)

	s.mu.Lock()
	s.project = projectID
	if res.OK && remote != nil {
		s.state = remote.Clone()
		s.resetHistoryLocked()
	}
	s.state.ProjectID = projectID
	s.mu.Unlock()
	return res
}

func (s *Session) Loaded() bool { return s.flag(func() bool { return s.loaded }) }
func (s *Session) Saving() bool { return s.flag(func() bool { return s.saving }) }
func (s *Session) Busy() bool   { return s.flag(func() bool { return s.busy }) }

func (s *Session) flag(get func() bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return get()
}

// SetBusy marks a generation in flight. Auto-save is suspended while busy;
// edits made meanwhile save as soon as the generation finishes.
func (s *Session) SetBusy(busy bool) {
	s.mu.Lock()
	s.busy = busy
	if !busy && s.pendingSave {
		s.pendingSave = false
		s.scheduleLocked()
	}
	s.mu.Unlock()
}

// AddImage places an image element and returns its id, minting one when
// the element has none. A zero opacity is treated as fully opaque.
func (s *Session) AddImage(el core.ImageElement) (string, error) {
	if el.ID == "" {
		el.ID = ulid.Make().String()
	}
	if el.Opacity == 0 {
		el.Opacity = 1
	}
	err := s.mutate(func(st *core.CanvasState) error {
		st.Images = append(st.Images, el)
		return nil
	})
	if err != nil {
		return "", err
	}
	return el.ID, nil
}

// AddVideo places a video element and returns its id.
func (s *Session) AddVideo(el core.VideoElement) (string, error) {
	if el.ID == "" {
		el.ID = ulid.Make().String()
	}
	if el.Opacity == 0 {
		el.Opacity = 1
	}
	err := s.mutate(func(st *core.CanvasState) error {
		st.Videos = append(st.Videos, el)
		return nil
	})
	if err != nil {
		return "", err
	}
	return el.ID, nil
}

// UpdateElement applies a partial geometry update to an image or video.
func (s *Session) UpdateElement(id string, update ElementUpdate) error {
	return s.mutate(func(st *core.CanvasState) error {
		for i := range st.Images {
			if st.Images[i].ID == id {
				applyElementUpdate(&st.Images[i].X, &st.Images[i].Y, &st.Images[i].Width,
					&st.Images[i].Height, &st.Images[i].Rotation, &st.Images[i].Opacity, update)
				return nil
			}
		}
		for i := range st.Videos {
			if st.Videos[i].ID == id {
				applyElementUpdate(&st.Videos[i].X, &st.Videos[i].Y, &st.Videos[i].Width,
					&st.Videos[i].Height, &st.Videos[i].Rotation, &st.Videos[i].Opacity, update)
				return nil
			}
		}
		return errdefs.NotFound("element not found")
	})
}

func applyElementUpdate(x, y, w, h, rot, op *float64, u ElementUpdate) {
	if u.X != nil {
		*x = *u.X
	}
	if u.Y != nil {
		*y = *u.Y
	}
	if u.Width != nil {
		*w = *u.Width
	}
	if u.Height != nil {
		*h = *u.Height
	}
	if u.Rotation != nil {
		*rot = *u.Rotation
	}
	if u.Opacity != nil {
		*op = *u.Opacity
	}
}

// UpdatePlayback applies playback changes to a video element.
func (s *Session) UpdatePlayback(id string, update PlaybackUpdate) error {
	return s.mutate(func(st *core.CanvasState) error {
		for i := range st.Videos {
			if st.Videos[i].ID != id {
				continue
			}
			v := &st.Videos[i]
			if update.CurrentTime != nil {
				v.CurrentTime = *update.CurrentTime
			}
			if update.Playing != nil {
				v.Playing = *update.Playing
			}
			if update.Volume != nil {
				v.Volume = *update.Volume
			}
			if update.Muted != nil {
				v.Muted = *update.Muted
			}
			return nil
		}
		return errdefs.NotFound("video element not found")
	})
}

// DeleteElements removes the given elements and returns how many were
// found. Deleted ids leave the selection, and the next save garbage
// collects their cached blobs.
func (s *Session) DeleteElements(ids ...string) int {
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}

	removed := 0
	err := s.mutate(func(st *core.CanvasState) error {
		images := st.Images[:0:0]
		for _, el := range st.Images {
			if drop[el.ID] {
				removed++
				continue
			}
			images = append(images, el)
		}
		videos := st.Videos[:0:0]
		for _, el := range st.Videos {
			if drop[el.ID] {
				removed++
				continue
			}
			videos = append(videos, el)
		}
		if removed == 0 {
			return errNoChange
		}
		st.Images = images
		st.Videos = videos
		return nil
	})
	if err != nil || removed == 0 {
		return 0
	}

	s.mu.Lock()
	s.needCleanup = true
	for id := range drop {
		delete(s.selected, id)
	}
	s.mu.Unlock()
	return removed
}

// Duplicate copies the given elements with fresh ids and a slight offset,
// returning the new ids in input order.
func (s *Session) Duplicate(ids ...string) ([]string, error) {
	var newIDs []string
	err := s.mutate(func(st *core.CanvasState) error {
		for _, id := range ids {
			for _, el := range st.Images {
				if el.ID == id {
					dup := el
					dup.ID = ulid.Make().String()
					dup.X += duplicateOffset
					dup.Y += duplicateOffset
					st.Images = append(st.Images, dup)
					newIDs = append(newIDs, dup.ID)
				}
			}
			for _, el := range st.Videos {
				if el.ID == id {
					dup := el
					dup.ID = ulid.Make().String()
					dup.X += duplicateOffset
					dup.Y += duplicateOffset
					st.Videos = append(st.Videos, dup)
					newIDs = append(newIDs, dup.ID)
				}
			}
		}
		if len(newIDs) == 0 {
			return errdefs.NotFound("no elements to duplicate")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newIDs, nil
}

// BringToFront moves an element to the top of its stacking order.
func (s *Session) BringToFront(id string) error {
	return s.reorder(id, true)
}

// SendToBack moves an element to the bottom of its stacking order.
func (s *Session) SendToBack(id string) error {
	return s.reorder(id, false)
}

func (s *Session) reorder(id string, toFront bool) error {
	return s.mutate(func(st *core.CanvasState) error {
		for i, el := range st.Images {
			if el.ID == id {
				rest := append(append([]core.ImageElement{}, st.Images[:i]...), st.Images[i+1:]...)
				if toFront {
					st.Images = append(rest, el)
				} else {
					st.Images = append([]core.ImageElement{el}, rest...)
				}
				return nil
			}
		}
		for i, el := range st.Videos {
			if el.ID == id {
				rest := append(append([]core.VideoElement{}, st.Videos[:i]...), st.Videos[i+1:]...)
				if toFront {
					st.Videos = append(rest, el)
				} else {
					st.Videos = append([]core.VideoElement{el}, rest...)
				}
				return nil
			}
		}
		return errdefs.NotFound("element not found")
	})
}

// SetViewport replaces the viewport. Non-finite values are rejected.
func (s *Session) SetViewport(v core.Viewport) error {
	return s.mutate(func(st *core.CanvasState) error {
		st.Viewport = v
		return nil
	})
}

// SetBackground replaces the canvas background color.
func (s *Session) SetBackground(color string) error {
	return s.mutate(func(st *core.CanvasState) error {
		st.Background = color
		return nil
	})
}

// Select replaces the selection. Selection is view state; it is not part
// of history and does not trigger a save.
func (s *Session) Select(ids ...string) {
	s.mu.Lock()
	s.selected = map[string]bool{}
	for _, id := range ids {
		s.selected[id] = true
	}
	s.mu.Unlock()
}

// Selected returns the selected ids, sorted for determinism.
func (s *Session) Selected() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.selected))
	for id := range s.selected {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Images returns a copy of the image elements in stacking order.
func (s *Session) Images() []core.ImageElement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.ImageElement(nil), s.state.Images...)
}

// Videos returns a copy of the video elements in stacking order.
func (s *Session) Videos() []core.VideoElement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.VideoElement(nil), s.state.Videos...)
}

func (s *Session) Viewport() core.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Viewport
}

func (s *Session) Background() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Background
}

// State returns a deep copy of the current canvas state.
func (s *Session) State() *core.CanvasState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// mutate runs one mutation against a fresh copy of the state, validates
// the result, and commits it as the new current snapshot. The previous
// state is never modified, so history entries stay frozen.
func (s *Session) mutate(fn func(*core.CanvasState) error) error {
	s.mu.Lock()

	draft := s.state.Clone()
	if err := fn(draft); err != nil {
		s.mu.Unlock()
		if err == errNoChange {
			return nil
		}
		return err
	}
	if err := draft.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	draft.UpdatedAt = time.Now()
	s.state = draft
	s.recordLocked()
	s.scheduleLocked()
	bound := s.project != ""
	s.mu.Unlock()

	if bound && s.sync != nil {
		s.sync.MarkDirty()
	}
	return nil
}

// scheduleLocked (re)arms the debounce timer. Mutations before the initial
// load or during a generation only mark the save pending.
func (s *Session) scheduleLocked() {
	if !s.loaded || s.busy {
		s.pendingSave = true
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		s.saveNow(context.Background())
	})
}

// Flush cancels any pending debounce and saves immediately. Call on
// shutdown so the last edits reach disk and, when bound, the remote.
func (s *Session) Flush(ctx context.Context) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.saveNow(ctx)
}

// saveNow persists the current snapshot: local store first, then the
// remote push when a project is bound. Sync failures are already softened
// to Results by the manager; local failures are logged and the editor
// keeps going.
func (s *Session) saveNow(ctx context.Context) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	state := s.state
	project := s.project
	cleanup := s.needCleanup
	s.needCleanup = false
	s.saving = true
	s.mu.Unlock()

	if err := s.store.SaveCanvasState(ctx, state); err != nil {
		logrus.WithField("error", err).Warn("Failed to save canvas state locally")
	}
	if cleanup {
		s.store.CleanupOldData(ctx, state)
	}
	if project != "" && s.sync != nil {
		s.sync.Push(ctx, project, state)
	}

	s.mu.Lock()
	s.saving = false
	s.mu.Unlock()
}

// errNoChange signals a mutation that found nothing to do; the state is
// not committed and no save is scheduled.
var errNoChange = errdefs.New(errdefs.CodeNotFound, "no change")
