package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nanophoto/nanophoto-backend/api/middleware"
	"github.com/nanophoto/nanophoto-backend/api/responses"
	"github.com/nanophoto/nanophoto-backend/api/validators"
	"github.com/nanophoto/nanophoto-backend/internal/admin"
	pkgerrors "github.com/nanophoto/nanophoto-backend/pkg/errors"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
	"github.com/nanophoto/nanophoto-backend/pkg/pagination"
)

// AdminListDeadLetters lists outbox events the publisher parked, optionally
// filtered by ?reason=.
func AdminListDeadLetters(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		letters, err := svc.ListDeadLetters(r.Context(), r.URL.Query().Get("reason"), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"deadLetters": letters})
	}
}

func AdminRequeueDeadLetter(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		eventID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "eventID")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event id"))
			return
		}
		view, err := svc.RequeueDeadLetter(r.Context(), eventID, middleware.EmailFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, view)
	}
}
