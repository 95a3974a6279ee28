package quota

import (
	"net/http"
	"time"

	"driftcanvas/core"
	"driftcanvas/errdefs"
	"driftcanvas/handlers/api/apiutil"
	"driftcanvas/uploads"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type quotaResponse struct {
	Tier              core.Tier `json:"tier"`
	StorageUsedBytes  int64     `json:"storageUsedBytes"`
	StorageLimitBytes int64     `json:"storageLimitBytes"`
	ImagesThisPeriod  int       `json:"imagesThisPeriod"`
	ImageLimit        int       `json:"imageLimit"`
	VideosThisPeriod  int       `json:"videosThisPeriod"`
	VideoLimit        int       `json:"videoLimit"`
	PeriodStart       time.Time `json:"periodStart"`
	PeriodEnd         time.Time `json:"periodEnd"`
}

// HandleGetQuota reports the caller's storage and generation budget for
// the current billing period.
func HandleGetQuota(gateway *uploads.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := apiutil.CurrentUser(r)
		if !ok {
			apiutil.RenderError(w, r, errdefs.New(errdefs.CodeAuthentication, "User claims not found"))
			return
		}

		q, err := gateway.CurrentQuota(r.Context(), user)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": user.ID,
			}).Error("Failed to load quota")
			apiutil.RenderError(w, r, err)
			return
		}

		limits := q.Limits()
		render.JSON(w, r, quotaResponse{
			Tier:              q.Tier,
			StorageUsedBytes:  q.StorageUsedBytes,
			StorageLimitBytes: limits.StorageBytes,
			ImagesThisPeriod:  q.ImagesThisPeriod,
			ImageLimit:        limits.ImagesPerPeriod,
			VideosThisPeriod:  q.VideosThisPeriod,
			VideoLimit:        limits.VideosPerPeriod,
			PeriodStart:       q.PeriodStart,
			PeriodEnd:         q.PeriodEnd,
		})
	}
}
