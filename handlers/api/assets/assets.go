package assets

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"driftcanvas/core"
	"driftcanvas/errdefs"
	"driftcanvas/handlers/api/apiutil"
	"driftcanvas/middleware"
	"driftcanvas/uploads"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// multipartMemory is how much of a parsed upload is held in memory before
// the runtime spills parts to disk.
const multipartMemory = 32 << 20

type uploadResponse struct {
	StorageID    string `json:"storageId"`
	URL          string `json:"url"`
	ThumbnailID  string `json:"thumbnailStorageId,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

func responseFor(asset *core.Asset) uploadResponse {
	resp := uploadResponse{
		StorageID: asset.StorageKey,
		URL:       fmt.Sprintf("/api/v1/assets/%s/file", asset.ID),
	}
	if asset.ThumbnailKey != "" {
		resp.ThumbnailID = asset.ThumbnailKey
		resp.ThumbnailURL = fmt.Sprintf("/api/v1/assets/%s/thumbnail", asset.ID)
	}
	return resp
}

// HandleUpload accepts a multipart upload: a required "file" part, an
// optional "thumbnail" part, optional "metadata" JSON, and form fields
// for anything the metadata does not carry. Explicit form fields win
// over metadata values.
func HandleUpload(gateway *uploads.Gateway, maxUploadBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := apiutil.CurrentUser(r)
		if !ok {
			apiutil.RenderError(w, r, errdefs.New(errdefs.CodeAuthentication, "User claims not found"))
			return
		}

		// Leave headroom for the thumbnail and the multipart framing.
		r.Body = http.MaxBytesReader(w, r.Body, 2*maxUploadBytes+(1<<20))
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				apiutil.RenderError(w, r, errdefs.WithReason(errdefs.CodePayloadTooLarge, errdefs.ReasonFileTooLarge, "Upload exceeds the size limit"))
				return
			}
			apiutil.RenderError(w, r, errdefs.New(errdefs.CodeValidation, "Request must be multipart/form-data"))
			return
		}
		defer r.MultipartForm.RemoveAll()

		input, err := inputFromForm(r)
		if err != nil {
			apiutil.RenderError(w, r, err)
			return
		}
		input.CorrelationID = middleware.CorrelationID(r.Context())

		asset, err := gateway.Upload(r.Context(), user, input)
		if err != nil {
			if errdefs.IsCode(err, errdefs.CodeInternal) || errdefs.IsCode(err, errdefs.CodeRemoteUnavailable) {
				logrus.WithFields(logrus.Fields{
					"error":  err,
					"userID": user.ID,
				}).Error("Upload failed")
			}
			apiutil.RenderError(w, r, err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, responseFor(asset))
	}
}

func inputFromForm(r *http.Request) (uploads.UploadInput, error) {
	var in uploads.UploadInput

	file, header, err := r.FormFile("file")
	if err != nil {
		return in, errdefs.Validation(errdefs.ReasonEmptyFile, "A file part is required")
	}
	defer file.Close()

	in.Data, err = io.ReadAll(file)
	if err != nil {
		return in, errdefs.Internal(err)
	}

	in.MimeType = header.Header.Get("Content-Type")
	if in.MimeType == "" || in.MimeType == "application/octet-stream" {
		in.MimeType = http.DetectContentType(in.Data)
	}

	in.Name = r.FormValue("name")
	if in.Name == "" {
		in.Name = header.Filename
	}

	if thumb, _, err := r.FormFile("thumbnail"); err == nil {
		in.Thumbnail, err = io.ReadAll(thumb)
		thumb.Close()
		if err != nil {
			return in, errdefs.Internal(err)
		}
	} else if err != http.ErrMissingFile {
		return in, errdefs.New(errdefs.CodeValidation, "Malformed thumbnail part")
	}

	if in.Width, err = optionalInt(r.FormValue("width"), errdefs.ReasonBadDimensions, "width"); err != nil {
		return in, err
	}
	if in.Height, err = optionalInt(r.FormValue("height"), errdefs.ReasonBadDimensions, "height"); err != nil {
		return in, err
	}
	if in.Duration, err = optionalFloat(r.FormValue("duration"), errdefs.ReasonBadDuration, "duration"); err != nil {
		return in, err
	}

	in.Prompt = r.FormValue("prompt")
	in.Model = r.FormValue("model")
	in.Provider = r.FormValue("provider")
	if seed := r.FormValue("seed"); seed != "" {
		in.Seed, err = strconv.ParseInt(seed, 10, 64)
		if err != nil {
			return in, errdefs.Validation(errdefs.ReasonBadMetadata, "Field seed must be an integer")
		}
	}

	if meta := r.FormValue("metadata"); meta != "" {
		in.Metadata = json.RawMessage(meta)
	}

	return in, nil
}

func optionalInt(value, reason, field string) (*int64, error) {
	if value == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, errdefs.Validation(reason, fmt.Sprintf("Field %s must be an integer", field))
	}
	return &n, nil
}

func optionalFloat(value, reason, field string) (*float64, error) {
	if value == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, errdefs.Validation(reason, fmt.Sprintf("Field %s must be a number", field))
	}
	return &f, nil
}

func HandleListAssets(gateway *uploads.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := apiutil.CurrentUser(r)
		if !ok {
			apiutil.RenderError(w, r, errdefs.New(errdefs.CodeAuthentication, "User claims not found"))
			return
		}

		assets, err := gateway.List(r.Context(), user.ID)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": user.ID,
			}).Error("Failed to list assets")
			apiutil.RenderError(w, r, err)
			return
		}
		if assets == nil {
			assets = []*core.Asset{}
		}
		render.JSON(w, r, assets)
	}
}

func HandleGetAsset(gateway *uploads.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := apiutil.CurrentUser(r)
		if !ok {
			apiutil.RenderError(w, r, errdefs.New(errdefs.CodeAuthentication, "User claims not found"))
			return
		}

		id := chi.URLParam(r, "id")
		if id == "" {
			apiutil.RenderError(w, r, errdefs.New(errdefs.CodeValidation, "Asset id is required"))
			return
		}

		asset, err := gateway.Stat(r.Context(), user.ID, id)
		if err != nil {
			apiutil.RenderError(w, r, err)
			return
		}
		render.JSON(w, r, asset)
	}
}

// HandleGetFile streams the stored bytes. Assets never change after
// upload, so the response is cacheable for as long as the client keeps it.
func HandleGetFile(gateway *uploads.Gateway) http.HandlerFunc {
	return serveBlob(gateway, false)
}

func HandleGetThumbnail(gateway *uploads.Gateway) http.HandlerFunc {
	return serveBlob(gateway, true)
}

func serveBlob(gateway *uploads.Gateway, thumbnail bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := apiutil.CurrentUser(r)
		if !ok {
			apiutil.RenderError(w, r, errdefs.New(errdefs.CodeAuthentication, "User claims not found"))
			return
		}

		asset, data, err := fetchForRequest(r, gateway, user.ID, thumbnail)
		if err != nil {
			apiutil.RenderError(w, r, err)
			return
		}

		mimeType := asset.MimeType
		if thumbnail {
			mimeType = http.DetectContentType(data)
		}
		w.Header().Set("Content-Type", mimeType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
		w.Write(data)
	}
}

func fetchForRequest(r *http.Request, gateway *uploads.Gateway, userID string, thumbnail bool) (*core.Asset, []byte, error) {
	id := chi.URLParam(r, "id")
	if id == "" {
		return nil, nil, errdefs.New(errdefs.CodeValidation, "Asset id is required")
	}
	if thumbnail {
		return gateway.FetchThumbnail(r.Context(), userID, id)
	}
	return gateway.Fetch(r.Context(), userID, id)
}

func HandleDeleteAsset(gateway *uploads.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := apiutil.CurrentUser(r)
		if !ok {
			apiutil.RenderError(w, r, errdefs.New(errdefs.CodeAuthentication, "User claims not found"))
			return
		}

		id := chi.URLParam(r, "id")
		if id == "" {
			apiutil.RenderError(w, r, errdefs.New(errdefs.CodeValidation, "Asset id is required"))
			return
		}

		if _, err := gateway.Delete(r.Context(), user.ID, id, middleware.CorrelationID(r.Context())); err != nil {
			if !errdefs.IsCode(err, errdefs.CodeNotFound) {
				logrus.WithFields(logrus.Fields{
					"error":  err,
					"userID": user.ID,
					"id":     id,
				}).Error("Failed to delete asset")
			}
			apiutil.RenderError(w, r, err)
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, map[string]string{"id": id})
	}
}
