package core

import (
	"math"
	"testing"
	"time"
)

func validState() *CanvasState {
	return &CanvasState{
		Images: []ImageElement{
			{ID: "img-1", X: 10, Y: 20, Width: 100, Height: 50, Opacity: 1},
		},
		Videos: []VideoElement{
			{ID: "vid-1", X: 200, Y: 40, Width: 320, Height: 180, Opacity: 1, Duration: 12.5, Volume: 0.8},
		},
		Viewport:   Viewport{X: 5, Y: -3, Zoom: 1.5},
		Background: "#ffffff",
		UpdatedAt:  time.Now(),
	}
}

func TestValidate_AcceptsValidState(t *testing.T) {
	if err := validState().Validate(); err != nil {
		t.Fatalf("Validate() failed for valid state: %v", err)
	}
}

func TestValidate_EmptyElementID(t *testing.T) {
	s := validState()
	s.Images[0].ID = ""

	if err := s.Validate(); err == nil {
		t.Error("Validate() should reject an element with an empty id")
	}
}

func TestValidate_DuplicateIDsAcrossKinds(t *testing.T) {
	s := validState()
	s.Videos[0].ID = s.Images[0].ID

	if err := s.Validate(); err == nil {
		t.Error("Validate() should reject duplicate ids across images and videos")
	}
}

func TestValidate_NonFiniteGeometry(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*CanvasState)
	}{
		{"NaN position", func(s *CanvasState) { s.Images[0].X = math.NaN() }},
		{"Inf width", func(s *CanvasState) { s.Videos[0].Width = math.Inf(1) }},
		{"NaN rotation", func(s *CanvasState) { s.Images[0].Rotation = math.NaN() }},
		{"Inf zoom", func(s *CanvasState) { s.Viewport.Zoom = math.Inf(-1) }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := validState()
			tc.mutate(s)
			if err := s.Validate(); err == nil {
				t.Error("Validate() should reject non-finite geometry")
			}
		})
	}
}

func TestValidate_NegativeSize(t *testing.T) {
	s := validState()
	s.Images[0].Width = -1

	if err := s.Validate(); err == nil {
		t.Error("Validate() should reject a negative width")
	}
}

func TestClone_DeepCopiesSlices(t *testing.T) {
	original := validState()
	clone := original.Clone()

	clone.Images[0].X = 999
	clone.Videos = append(clone.Videos, VideoElement{ID: "vid-2", Opacity: 1})

	if original.Images[0].X != 10 {
		t.Errorf("Mutating the clone changed the original: X = %v", original.Images[0].X)
	}
	if len(original.Videos) != 1 {
		t.Errorf("Appending to the clone changed the original: %d videos", len(original.Videos))
	}
}

func TestClone_Nil(t *testing.T) {
	var s *CanvasState
	if s.Clone() != nil {
		t.Error("Clone() of nil should be nil")
	}
}

func TestElementIDs(t *testing.T) {
	s := validState()
	ids := s.ElementIDs()

	if len(ids) != 2 {
		t.Fatalf("ElementIDs() length mismatch: got %d, want 2", len(ids))
	}
	if !ids["img-1"] || !ids["vid-1"] {
		t.Errorf("ElementIDs() missing expected ids: got %v", ids)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := validState()
	original.ProjectID = "proj-1"

	data, err := EncodeState(original)
	if err != nil {
		t.Fatalf("EncodeState() failed: %v", err)
	}

	decoded, err := DecodeState(data)
	if err != nil {
		t.Fatalf("DecodeState() failed: %v", err)
	}

	if decoded.ProjectID != "proj-1" {
		t.Errorf("ProjectID mismatch: got %q, want %q", decoded.ProjectID, "proj-1")
	}
	if len(decoded.Images) != 1 || decoded.Images[0].ID != "img-1" {
		t.Errorf("Images not preserved: %+v", decoded.Images)
	}
	if len(decoded.Videos) != 1 || decoded.Videos[0].Duration != 12.5 {
		t.Errorf("Videos not preserved: %+v", decoded.Videos)
	}
	if decoded.Viewport.Zoom != 1.5 {
		t.Errorf("Viewport zoom mismatch: got %v, want 1.5", decoded.Viewport.Zoom)
	}
}

func TestDecodeState_RejectsMalformedJSON(t *testing.T) {
	if _, err := DecodeState([]byte("{not json")); err == nil {
		t.Error("DecodeState() should reject malformed JSON")
	}
}

func TestDecodeState_RejectsInvalidState(t *testing.T) {
	// Structurally valid JSON, but two elements share an id.
	data := []byte(`{"images":[{"id":"a"},{"id":"a"}],"videos":[],"viewport":{"zoom":1}}`)

	if _, err := DecodeState(data); err == nil {
		t.Error("DecodeState() should reject a state with duplicate ids")
	}
}
