package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nanophoto/nanophoto-backend/api/middleware"
	"github.com/nanophoto/nanophoto-backend/api/responses"
	"github.com/nanophoto/nanophoto-backend/api/validators"
	"github.com/nanophoto/nanophoto-backend/internal/accounts"
	"github.com/nanophoto/nanophoto-backend/internal/admin"
	"github.com/nanophoto/nanophoto-backend/internal/ledger"
	pkgerrors "github.com/nanophoto/nanophoto-backend/pkg/errors"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
)

type adjustCreditsRequest struct {
	Amount *int64 `json:"amount"`
	Reason string `json:"reason" validate:"required,nonblank,max=500"`
}

type banRequest struct {
	Reason string `json:"reason" validate:"required,nonblank,max=500"`
}

type unbanRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func AdminListAccounts(svc accounts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "accounts service unavailable"))
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func AdminGetAccount(svc accounts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "accounts service unavailable"))
			return
		}
		accountID, ok := accountParam(w, r, logg)
		if !ok {
			return
		}
		view, err := svc.Get(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func AdminAccountLedger(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		accountID, ok := accountParam(w, r, logg)
		if !ok {
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.History(r.Context(), accountID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// AdminAdjustCredits applies a signed manual adjustment. A missing amount
// falls back to the configured default.
func AdminAdjustCredits(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		accountID, ok := accountParam(w, r, logg)
		if !ok {
			return
		}
		var body adjustCreditsRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.AdjustCredits(r.Context(), admin.AdjustInput{
			AccountID:      accountID,
			Amount:         body.Amount,
			Reason:         body.Reason,
			ActorEmail:     middleware.EmailFromContext(r.Context()),
			IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func AdminBanAccount(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		accountID, ok := accountParam(w, r, logg)
		if !ok {
			return
		}
		var body banRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.Ban(r.Context(), admin.StatusInput{
			AccountID:  accountID,
			Reason:     body.Reason,
			ActorEmail: middleware.EmailFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// AdminUnbanAccount accepts an empty body.
func AdminUnbanAccount(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		accountID, ok := accountParam(w, r, logg)
		if !ok {
			return
		}
		var body unbanRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(w, r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		view, err := svc.Unban(r.Context(), admin.StatusInput{
			AccountID:  accountID,
			Reason:     body.Reason,
			ActorEmail: middleware.EmailFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func accountParam(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "accountID"))
	accountID, err := uuid.Parse(raw)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account id"))
		return uuid.Nil, false
	}
	return accountID, true
}
