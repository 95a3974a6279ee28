package providers

import (
	"context"

	"driftcanvas/core"
)

// stubPNG is a 1x1 transparent PNG. Enough to exercise the whole ingest
// path on an install with no provider credentials.
var stubPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0a, 0x49, 0x44, 0x41,
	0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
	0x42, 0x60, 0x82,
}

// stubMP4 is an empty mp4 container, just the ftyp box, so content
// sniffing agrees it is a video.
var stubMP4 = []byte{
	0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p',
	'm', 'p', '4', '2', 0x00, 0x00, 0x00, 0x00,
	'm', 'p', '4', '2', 'i', 's', 'o', 'm',
}

// Stub is the offline provider: deterministic placeholder media with no
// network calls. It keeps development and tests independent of any API key.
type Stub struct{}

func NewStub() *Stub { return &Stub{} }

func (p *Stub) Name() string { return "stub" }

func (p *Stub) Generate(ctx context.Context, kind core.AssetKind, req Request) (*Result, error) {
	if kind == core.AssetVideo {
		duration := req.DurationS
		if duration <= 0 {
			duration = 4
		}
		return &Result{
			Data:      append([]byte(nil), stubMP4...),
			MimeType:  "video/mp4",
			Width:     req.Width,
			Height:    req.Height,
			DurationS: duration,
			Model:     "stub-video",
			Seed:      req.Seed,
		}, nil
	}
	return &Result{
		Data:     append([]byte(nil), stubPNG...),
		MimeType: "image/png",
		Width:    1,
		Height:   1,
		Model:    "stub-image",
		Seed:     req.Seed,
	}, nil
}
