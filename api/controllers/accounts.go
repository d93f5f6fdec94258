package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/nanophoto/nanophoto-backend/api/middleware"
	"github.com/nanophoto/nanophoto-backend/api/responses"
	"github.com/nanophoto/nanophoto-backend/api/validators"
	"github.com/nanophoto/nanophoto-backend/internal/accounts"
	"github.com/nanophoto/nanophoto-backend/internal/ledger"
	pkgerrors "github.com/nanophoto/nanophoto-backend/pkg/errors"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
)

// BootstrapAccount creates the caller's account on first sign-in and is safe to repeat.
func BootstrapAccount(svc accounts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "accounts service unavailable"))
			return
		}
		accountID, ok := callerAccount(w, r, logg)
		if !ok {
			return
		}

		view, err := svc.Bootstrap(r.Context(), accountID, middleware.EmailFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// GetMyAccount returns the caller's account with its current balance.
func GetMyAccount(svc accounts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "accounts service unavailable"))
			return
		}
		accountID, ok := callerAccount(w, r, logg)
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

// ListMyLedger pages through the caller's ledger entries, newest first.
func ListMyLedger(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		accountID, ok := callerAccount(w, r, logg)
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

func callerAccount(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, bool) {
	accountID, ok := middleware.AccountUUIDFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
		return uuid.Nil, false
	}
	return accountID, true
}
