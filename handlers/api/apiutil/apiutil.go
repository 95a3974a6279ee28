// Package apiutil holds the small pieces every API handler shares: claims
// extraction and uniform error rendering.
package apiutil

import (
	"net/http"

	"driftcanvas/core"
	"driftcanvas/errdefs"
	"driftcanvas/handlers/auth"
	"driftcanvas/middleware"

	"github.com/go-chi/render"
)

// RenderError writes err as the standard error envelope, mapping its
// taxonomy code to a status and stamping the request's correlation ID.
func RenderError(w http.ResponseWriter, r *http.Request, err error) {
	e := errdefs.Sanitize(err)
	if e.CorrelationID == "" {
		e = e.WithCorrelation(middleware.CorrelationID(r.Context()))
	}
	render.Status(r, errdefs.HTTPStatus(e))
	render.JSON(w, r, e)
}

// CurrentUser resolves the authenticated user from the request context.
// The second return is false when the request skipped the auth middleware.
func CurrentUser(r *http.Request) (*core.User, bool) {
	claims, ok := r.Context().Value(middleware.ClaimsContextKey).(*auth.AppClaims)
	if !ok || claims.Subject == "" {
		return nil, false
	}
	return auth.UserFromClaims(claims), true
}
