package controllers

import (
	"net/http"

	"github.com/nanophoto/nanophoto-backend/api/middleware"
	"github.com/nanophoto/nanophoto-backend/api/responses"
	"github.com/nanophoto/nanophoto-backend/api/validators"
	"github.com/nanophoto/nanophoto-backend/internal/admin"
	"github.com/nanophoto/nanophoto-backend/internal/settings"
	pkgerrors "github.com/nanophoto/nanophoto-backend/pkg/errors"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
)

type updateSettingsRequest struct {
	MaintenanceMode *bool  `json:"maintenanceMode" validate:"required"`
	Announcement    string `json:"announcement" validate:"max=500"`
	ModelName       string `json:"modelName" validate:"max=128"`
}

func AdminGetSettings(svc settings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settings service unavailable"))
			return
		}
		view, err := svc.Get(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func AdminUpdateSettings(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		var body updateSettingsRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.UpdateSettings(r.Context(), admin.SettingsInput{
			MaintenanceMode: *body.MaintenanceMode,
			Announcement:    body.Announcement,
			ModelName:       body.ModelName,
			ActorEmail:      middleware.EmailFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// AdminListActions returns the audit log, newest first.
func AdminListActions(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListActions(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}
