package generate

import (
	"encoding/json"
	"net/http"
	"strings"

	"driftcanvas/core"
	"driftcanvas/errdefs"
	"driftcanvas/events"
	"driftcanvas/handlers/api/apiutil"
	"driftcanvas/metrics"
	"driftcanvas/middleware"
	"driftcanvas/providers"
	"driftcanvas/uploads"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type generateRequest struct {
	Prompt   string  `json:"prompt"`
	Model    string  `json:"model,omitempty"`
	Provider string  `json:"provider,omitempty"`
	Width    int64   `json:"width,omitempty"`
	Height   int64   `json:"height,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Seed     int64   `json:"seed,omitempty"`
}

type generateResponse struct {
	AssetID      string `json:"assetId"`
	StorageID    string `json:"storageId"`
	URL          string `json:"url"`
	ThumbnailID  string `json:"thumbnailStorageId,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	Provider     string `json:"provider"`
	Model        string `json:"model,omitempty"`
}

func HandleGenerateImage(registry *providers.Registry, gateway *uploads.Gateway, publisher events.Publisher) http.HandlerFunc {
	return handleGenerate(core.AssetImage, registry, gateway, publisher)
}

func HandleGenerateVideo(registry *providers.Registry, gateway *uploads.Gateway, publisher events.Publisher) http.HandlerFunc {
	return handleGenerate(core.AssetVideo, registry, gateway, publisher)
}

// handleGenerate runs one generation: charge the period quota, call the
// provider, then push the result through the same ingest pipeline uploads
// use. The quota is charged before the provider call so the period ceiling
// holds even when generations fail midway.
func handleGenerate(kind core.AssetKind, registry *providers.Registry, gateway *uploads.Gateway, publisher events.Publisher) http.HandlerFunc {
	m := metrics.New()
	tracer := otel.Tracer("driftcanvas/generate")
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := apiutil.CurrentUser(r)
		if !ok {
			apiutil.RenderError(w, r, errdefs.New(errdefs.CodeAuthentication, "User claims not found"))
			return
		}

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apiutil.RenderError(w, r, errdefs.New(errdefs.CodeValidation, "Invalid JSON in request body"))
			return
		}
		defer r.Body.Close()

		if strings.TrimSpace(req.Prompt) == "" {
			m.GenerationTotal.WithLabelValues(string(kind), "rejected").Inc()
			apiutil.RenderError(w, r, errdefs.New(errdefs.CodeValidation, "A prompt is required"))
			return
		}

		provider, ok := registry.Lookup(req.Provider)
		if !ok {
			m.GenerationTotal.WithLabelValues(string(kind), "rejected").Inc()
			apiutil.RenderError(w, r, errdefs.Newf(errdefs.CodeValidation, "Unknown generation provider %q", req.Provider))
			return
		}

		if err := gateway.RecordGeneration(r.Context(), user, kind); err != nil {
			m.GenerationTotal.WithLabelValues(string(kind), "rejected").Inc()
			apiutil.RenderError(w, r, err)
			return
		}

		ctx, span := tracer.Start(r.Context(), "generate."+string(kind))
		span.SetAttributes(
			attribute.String("generate.provider", provider.Name()),
			attribute.String("generate.user_id", user.ID),
		)
		result, err := provider.Generate(ctx, kind, providers.Request{
			Prompt:    req.Prompt,
			Model:     req.Model,
			Width:     req.Width,
			Height:    req.Height,
			DurationS: req.Duration,
			Seed:      req.Seed,
		})
		span.End()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":    err,
				"userID":   user.ID,
				"provider": provider.Name(),
			}).Error("Generation failed")
			m.GenerationTotal.WithLabelValues(string(kind), "provider_error").Inc()
			apiutil.RenderError(w, r, err)
			return
		}

		input := uploads.UploadInput{
			Name:          assetNameFor(req.Prompt, kind),
			Kind:          kind,
			MimeType:      result.MimeType,
			Data:          result.Data,
			Prompt:        req.Prompt,
			Model:         result.Model,
			Provider:      provider.Name(),
			Seed:          result.Seed,
			CorrelationID: middleware.CorrelationID(r.Context()),
		}
		if result.Width > 0 {
			input.Width = &result.Width
		}
		if result.Height > 0 {
			input.Height = &result.Height
		}
		if result.DurationS > 0 {
			input.Duration = &result.DurationS
		}

		asset, err := gateway.IngestGenerated(r.Context(), user, input)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":    err,
				"userID":   user.ID,
				"provider": provider.Name(),
			}).Error("Failed to store generated media")
			m.GenerationTotal.WithLabelValues(string(kind), "error").Inc()
			apiutil.RenderError(w, r, err)
			return
		}
		m.GenerationTotal.WithLabelValues(string(kind), "ok").Inc()

		event, err := core.NewEvent(core.GenerationFinishedPayload{
			UserID:  user.ID,
			Kind:    kind,
			Model:   result.Model,
			AssetID: asset.ID,
		}, middleware.CorrelationID(r.Context()))
		if err != nil {
			logrus.WithField("error", err).Warn("Failed to build generation.finished event")
		} else if err := publisher.Publish(r.Context(), event); err != nil {
			logrus.WithField("error", err).Warn("Failed to publish generation.finished event")
		}

		resp := generateResponse{
			AssetID:   asset.ID,
			StorageID: asset.StorageKey,
			URL:       "/api/v1/assets/" + asset.ID + "/file",
			Provider:  provider.Name(),
			Model:     result.Model,
		}
		if asset.ThumbnailKey != "" {
			resp.ThumbnailID = asset.ThumbnailKey
			resp.ThumbnailURL = "/api/v1/assets/" + asset.ID + "/thumbnail"
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, resp)
	}
}

// assetNameFor derives a display name from the prompt, truncated to keep
// names scannable in list views.
func assetNameFor(prompt string, kind core.AssetKind) string {
	name := strings.TrimSpace(prompt)
	if runes := []rune(name); len(runes) > 64 {
		name = string(runes[:64])
	}
	if name == "" {
		name = "Generated " + string(kind)
	}
	return name
}
