package core

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

type (
	// Viewport is the visible region of the infinite canvas: pan offset plus zoom.
	Viewport struct {
		X    float64 `json:"x"`
		Y    float64 `json:"y"`
		Zoom float64 `json:"zoom"`
	}

	// ImageElement is one placed image. Src carries inline content (data URL or
	// local blob id); AssetID references a stored Asset. At least one is set.
	ImageElement struct {
		ID       string  `json:"id"`
		AssetID  string  `json:"assetId,omitempty"`
		Src      string  `json:"src,omitempty"`
		X        float64 `json:"x"`
		Y        float64 `json:"y"`
		Width    float64 `json:"width"`
		Height   float64 `json:"height"`
		Rotation float64 `json:"rotation"`
		Opacity  float64 `json:"opacity"`
	}

	// VideoElement is one placed video, with playback state alongside the
	// geometry so a reload resumes where the user left off.
	VideoElement struct {
		ID          string  `json:"id"`
		AssetID     string  `json:"assetId,omitempty"`
		Src         string  `json:"src,omitempty"`
		X           float64 `json:"x"`
		Y           float64 `json:"y"`
		Width       float64 `json:"width"`
		Height      float64 `json:"height"`
		Rotation    float64 `json:"rotation"`
		Opacity     float64 `json:"opacity"`
		Duration    float64 `json:"duration,omitempty"`
		CurrentTime float64 `json:"currentTime"`
		Playing     bool    `json:"playing"`
		Volume      float64 `json:"volume"`
		Muted       bool    `json:"muted"`
	}

	// CanvasState is the serializable snapshot of one project: every placed
	// element in z-order (index = stacking position), the viewport, and the
	// background color. This is the document the sync layer pushes and pulls
	// wholesale.
	CanvasState struct {
		ProjectID  string         `json:"projectId,omitempty"`
		Images     []ImageElement `json:"images"`
		Videos     []VideoElement `json:"videos"`
		Viewport   Viewport       `json:"viewport"`
		Background string         `json:"background,omitempty"`
		UpdatedAt  time.Time      `json:"updatedAt"`
	}
)

// Validate checks the structural invariants: element ids unique across images
// and videos, geometry finite, sizes non-negative.
func (s *CanvasState) Validate() error {
	seen := make(map[string]bool, len(s.Images)+len(s.Videos))
	check := func(id string, nums ...float64) error {
		if id == "" {
			return fmt.Errorf("element with empty id")
		}
		if seen[id] {
			return fmt.Errorf("duplicate element id %q", id)
		}
		seen[id] = true
		for _, n := range nums {
			if math.IsNaN(n) || math.IsInf(n, 0) {
				return fmt.Errorf("element %s has non-finite geometry", id)
			}
		}
		return nil
	}
	for i := range s.Images {
		el := &s.Images[i]
		if err := check(el.ID, el.X, el.Y, el.Width, el.Height, el.Rotation); err != nil {
			return err
		}
		if el.Width < 0 || el.Height < 0 {
			return fmt.Errorf("element %s has negative size", el.ID)
		}
	}
	for i := range s.Videos {
		el := &s.Videos[i]
		if err := check(el.ID, el.X, el.Y, el.Width, el.Height, el.Rotation); err != nil {
			return err
		}
		if el.Width < 0 || el.Height < 0 {
			return fmt.Errorf("element %s has negative size", el.ID)
		}
	}
	if math.IsNaN(s.Viewport.Zoom) || math.IsInf(s.Viewport.Zoom, 0) {
		return fmt.Errorf("non-finite viewport zoom")
	}
	return nil
}

// Clone returns a deep copy. Snapshots handed to the history stack and the
// debounced saver must not alias the live slices.
func (s *CanvasState) Clone() *CanvasState {
	if s == nil {
		return nil
	}
	out := *s
	out.Images = append([]ImageElement(nil), s.Images...)
	out.Videos = append([]VideoElement(nil), s.Videos...)
	return &out
}

// ElementIDs returns the set of ids referenced by the state, used by the local
// store's garbage collector to decide what is still live.
func (s *CanvasState) ElementIDs() map[string]bool {
	ids := make(map[string]bool, len(s.Images)+len(s.Videos))
	for i := range s.Images {
		ids[s.Images[i].ID] = true
	}
	for i := range s.Videos {
		ids[s.Videos[i].ID] = true
	}
	return ids
}

// EncodeState serializes a state for storage or the wire.
func EncodeState(s *CanvasState) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeState parses a serialized state and validates it.
func DecodeState(data []byte) (*CanvasState, error) {
	var s CanvasState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding canvas state: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid canvas state: %w", err)
	}
	return &s, nil
}
