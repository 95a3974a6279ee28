package canvases

import (
	"encoding/json"
	"io"
	"net/http"

	"driftcanvas/core"
	"driftcanvas/errdefs"
	"driftcanvas/events"
	"driftcanvas/handlers/api/apiutil"
	"driftcanvas/metrics"
	"driftcanvas/middleware"
	"driftcanvas/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// maxCanvasBytes caps a single canvas document. States are element lists
// plus a viewport, so anything near this is a runaway client.
const maxCanvasBytes = 5 << 20

func HandleListCanvases(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := apiutil.CurrentUser(r)
		if !ok {
			apiutil.RenderError(w, r, errdefs.New(errdefs.CodeAuthentication, "User claims not found"))
			return
		}

		canvases, err := store.List(r.Context(), user.ID)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": user.ID,
			}).Error("Failed to list canvases")
			apiutil.RenderError(w, r, err)
			return
		}

		// Return an empty slice instead of null when the user has no canvases.
		if canvases == nil {
			canvases = []*core.Canvas{}
		}

		render.JSON(w, r, canvases)
	}
}

func HandleGetCanvas(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := apiutil.CurrentUser(r)
		if !ok {
			apiutil.RenderError(w, r, errdefs.New(errdefs.CodeAuthentication, "User claims not found"))
			return
		}

		id := chi.URLParam(r, "id")
		if id == "" {
			apiutil.RenderError(w, r, errdefs.New(errdefs.CodeValidation, "Canvas id is required"))
			return
		}

		canvas, err := store.Get(r.Context(), user.ID, id)
		if err != nil {
			if !errdefs.IsCode(err, errdefs.CodeNotFound) {
				logrus.WithFields(logrus.Fields{
					"error":  err,
					"userID": user.ID,
					"id":     id,
				}).Warn("Failed to get canvas")
			}
			apiutil.RenderError(w, r, err)
			return
		}

		// The stored document is returned verbatim.
		w.Header().Set("Content-Type", "application/json")
		w.Write(canvas.Data)
	}
}

// HandleSaveCanvas stores a whole canvas document under the given id,
// creating it on first write. Saves are last-write-wins; the newest
// document simply replaces whatever was there.
func HandleSaveCanvas(store stores.Store, publisher events.Publisher) http.HandlerFunc {
	m := metrics.New()
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := apiutil.CurrentUser(r)
		if !ok {
			apiutil.RenderError(w, r, errdefs.New(errdefs.CodeAuthentication, "User claims not found"))
			return
		}

		id := chi.URLParam(r, "id")
		if id == "" {
			apiutil.RenderError(w, r, errdefs.New(errdefs.CodeValidation, "Canvas id is required"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxCanvasBytes+1))
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error": err,
				"id":    id,
			}).Error("Failed to read request body")
			apiutil.RenderError(w, r, errdefs.Internal(err))
			return
		}
		defer r.Body.Close()

		if len(body) > maxCanvasBytes {
			apiutil.RenderError(w, r, errdefs.New(errdefs.CodePayloadTooLarge, "Canvas document is too large"))
			return
		}

		state, err := core.DecodeState(body)
		if err != nil {
			m.CanvasSavesTotal.WithLabelValues("rejected").Inc()
			apiutil.RenderError(w, r, errdefs.New(errdefs.CodeValidation, err.Error()))
			return
		}

		// Name and thumbnail ride alongside the state in the same document.
		var meta struct {
			Name      string `json:"name"`
			Thumbnail string `json:"thumbnail"`
		}
		canvasName := id
		var canvasThumbnail string
		if err := json.Unmarshal(body, &meta); err == nil {
			if meta.Name != "" {
				canvasName = meta.Name
			}
			canvasThumbnail = meta.Thumbnail
		}

		canvas := &core.Canvas{
			ID:        id,
			UserID:    user.ID,
			Name:      canvasName,
			Thumbnail: canvasThumbnail,
			Data:      body,
		}

		if err := store.Save(r.Context(), canvas); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": user.ID,
				"id":     id,
			}).Error("Failed to save canvas")
			m.CanvasSavesTotal.WithLabelValues("error").Inc()
			apiutil.RenderError(w, r, err)
			return
		}
		m.CanvasSavesTotal.WithLabelValues("ok").Inc()

		event, err := core.NewEvent(core.CanvasSavedPayload{
			CanvasID:  id,
			UserID:    user.ID,
			SizeBytes: int64(len(body)),
		}, middleware.CorrelationID(r.Context()))
		if err != nil {
			logrus.WithField("error", err).Warn("Failed to build canvas.saved event")
		} else if err := publisher.Publish(r.Context(), event); err != nil {
			logrus.WithField("error", err).Warn("Failed to publish canvas.saved event")
		}

		logrus.WithFields(logrus.Fields{
			"userID":   user.ID,
			"id":       id,
			"elements": len(state.Images) + len(state.Videos),
		}).Debug("Canvas saved")
		render.Status(r, http.StatusOK)
		render.JSON(w, r, map[string]string{"id": id})
	}
}

// HandleDeleteCanvas removes a canvas. Deleting a canvas that does not
// exist succeeds; the goal state is already reached.
func HandleDeleteCanvas(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := apiutil.CurrentUser(r)
		if !ok {
			apiutil.RenderError(w, r, errdefs.New(errdefs.CodeAuthentication, "User claims not found"))
			return
		}

		id := chi.URLParam(r, "id")
		if id == "" {
			apiutil.RenderError(w, r, errdefs.New(errdefs.CodeValidation, "Canvas id is required"))
			return
		}

		if err := store.Delete(r.Context(), user.ID, id); err != nil && !errdefs.IsCode(err, errdefs.CodeNotFound) {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": user.ID,
				"id":     id,
			}).Error("Failed to delete canvas")
			apiutil.RenderError(w, r, err)
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, map[string]string{"id": id})
	}
}
