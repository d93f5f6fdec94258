package controllers

import (
	"net/http"
	"strings"

	"github.com/nanophoto/nanophoto-backend/api/responses"
	"github.com/nanophoto/nanophoto-backend/api/validators"
	"github.com/nanophoto/nanophoto-backend/internal/generations"
	"github.com/nanophoto/nanophoto-backend/pkg/enums"
	pkgerrors "github.com/nanophoto/nanophoto-backend/pkg/errors"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
)

type generationRequest struct {
	Operation      string `json:"operation" validate:"required,oneof=generate variation analyze"`
	SourceImageURL string `json:"sourceImageUrl" validate:"required,url,max=2048"`
	Style          string `json:"style" validate:"max=64"`
	Prompt         string `json:"prompt" validate:"max=2000"`
}

// RequestGeneration charges the caller and queues the job. Replays with the
// same Idempotency-Key never charge twice.
func RequestGeneration(svc generations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "generation service unavailable"))
			return
		}
		accountID, ok := callerAccount(w, r, logg)
		if !ok {
			return
		}

		var body generationRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		op, err := enums.ParseGenerationOperation(body.Operation)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid operation"))
			return
		}

		result, err := svc.Request(r.Context(), generations.Request{
			AccountID:      accountID,
			Operation:      op,
			SourceImageURL: body.SourceImageURL,
			Style:          validators.SanitizeString(body.Style, 64),
			Prompt:         validators.SanitizeString(body.Prompt, 2000),
			IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, result)
	}
}

// ListMyGenerations is the caller's gallery, newest first.
func ListMyGenerations(svc generations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "generation service unavailable"))
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
		page, err := svc.Gallery(r.Context(), accountID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}
