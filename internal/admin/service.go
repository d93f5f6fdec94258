package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nanophoto/nanophoto-backend/internal/accounts"
	"github.com/nanophoto/nanophoto-backend/internal/generations"
	"github.com/nanophoto/nanophoto-backend/internal/ledger"
	"github.com/nanophoto/nanophoto-backend/internal/settings"
	"github.com/nanophoto/nanophoto-backend/pkg/db/models"
	dbtypes "github.com/nanophoto/nanophoto-backend/pkg/db/types"
	"github.com/nanophoto/nanophoto-backend/pkg/enums"
	pkgerrors "github.com/nanophoto/nanophoto-backend/pkg/errors"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
	"github.com/nanophoto/nanophoto-backend/pkg/outbox"
	"github.com/nanophoto/nanophoto-backend/pkg/outbox/payloads"
	"github.com/nanophoto/nanophoto-backend/pkg/pagination"
)

// DefaultAdjustmentReason is used by the console's quick-adjust buttons.
const DefaultAdjustmentReason = "Manual Adjustment"

type AdjustInput struct {
	AccountID      uuid.UUID
	Amount         *int64
	Reason         string
	ActorEmail     string
	IdempotencyKey string
}

type AdjustResult struct {
	AccountID uuid.UUID `json:"accountId"`
	Amount    int64     `json:"amount"`
	Balance   int64     `json:"balance"`
	EntryID   uuid.UUID `json:"entryId"`
}

type StatusInput struct {
	AccountID  uuid.UUID
	Reason     string
	ActorEmail string
}

type SettingsInput struct {
	MaintenanceMode bool
	Announcement    string
	ModelName       string
	ActorEmail      string
}

type ActionView struct {
	ID              uuid.UUID             `json:"id"`
	ActorEmail      string                `json:"actorEmail"`
	Action          enums.AdminActionType `json:"action"`
	TargetAccountID *uuid.UUID            `json:"targetAccountId,omitempty"`
	Details         dbtypes.JSON          `json:"details,omitempty"`
	CreatedAt       time.Time             `json:"createdAt"`
}

type ActionPage struct {
	Actions    []ActionView `json:"actions"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

// DeadLetterView is a ledger event the publisher gave up on.
type DeadLetterView struct {
	EventID      uuid.UUID                  `json:"eventId"`
	EventType    enums.OutboxEventType      `json:"eventType"`
	AccountID    uuid.UUID                  `json:"accountId"`
	Reason       enums.OutboxDLQErrorReason `json:"reason"`
	Error        string                     `json:"error,omitempty"`
	AttemptCount int                        `json:"attemptCount"`
	FailedAt     time.Time                  `json:"failedAt"`
}

// Stats are the headline counts on the console dashboard.
type Stats struct {
	Accounts     int64 `json:"accounts"`
	Transactions int64 `json:"transactions"`
	Images       int64 `json:"images"`
}

type Service interface {
	AdjustCredits(ctx context.Context, input AdjustInput) (*AdjustResult, error)
	Ban(ctx context.Context, input StatusInput) (*accounts.AccountView, error)
	Unban(ctx context.Context, input StatusInput) (*accounts.AccountView, error)
	UpdateSettings(ctx context.Context, input SettingsInput) (*settings.View, error)
	ListActions(ctx context.Context, params pagination.Params) (*ActionPage, error)
	ListDeadLetters(ctx context.Context, reason string, limit int) ([]DeadLetterView, error)
	RequeueDeadLetter(ctx context.Context, eventID uuid.UUID, actorEmail string) (*DeadLetterView, error)
	ListGenerations(ctx context.Context, accountID *uuid.UUID, params pagination.Params) (*generations.GalleryPage, error)
	DeleteGeneration(ctx context.Context, generationID uuid.UUID, actorEmail string) error
	Stats(ctx context.Context) (*Stats, error)
	Journal(ctx context.Context, params pagination.Params) (*ledger.HistoryPage, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	DB                txRunner
	Ledger            ledger.Service
	Accounts          *accounts.Repository
	Settings          settings.Service
	Actions           *ActionRepository
	Outbox            outbox.Emitter
	DeadLetters       *outbox.DLQRepository
	Generations       *generations.Repository
	DefaultAdjustment int64
	Logger            *logger.Logger
	Now               func() time.Time
}

type service struct {
	db                txRunner
	ledger            ledger.Service
	accounts          *accounts.Repository
	settings          settings.Service
	actions           *ActionRepository
	outbox            outbox.Emitter
	deadLetters       *outbox.DLQRepository
	generations       *generations.Repository
	defaultAdjustment int64
	logg              *logger.Logger
	now               func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.DB == nil:
		return nil, fmt.Errorf("db required")
	case p.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case p.Accounts == nil:
		return nil, fmt.Errorf("accounts repository required")
	case p.Settings == nil:
		return nil, fmt.Errorf("settings service required")
	case p.Actions == nil:
		return nil, fmt.Errorf("action repository required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case p.DeadLetters == nil:
		return nil, fmt.Errorf("dead letter repository required")
	case p.Generations == nil:
		return nil, fmt.Errorf("generation repository required")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &service{
		db:                p.DB,
		ledger:            p.Ledger,
		accounts:          p.Accounts,
		settings:          p.Settings,
		actions:           p.Actions,
		outbox:            p.Outbox,
		deadLetters:       p.DeadLetters,
		generations:       p.Generations,
		defaultAdjustment: p.DefaultAdjustment,
		logg:              p.Logger,
		now:               p.Now,
	}, nil
}

// AdjustCredits applies a signed correction. A nil amount means the configured default.
func (s *service) AdjustCredits(ctx context.Context, in AdjustInput) (*AdjustResult, error) {
	actor := strings.ToLower(strings.TrimSpace(in.ActorEmail))
	if actor == "" {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin identity required")
	}
	amount := s.defaultAdjustment
	if in.Amount != nil {
		amount = *in.Amount
	}
	var key string
	if k := strings.TrimSpace(in.IdempotencyKey); k != "" {
		key = fmt.Sprintf("admin:%s:%s", in.AccountID, k)
	}

	reason := strings.TrimSpace(in.Reason)
	result, err := s.ledger.AdminAdjust(ctx, ledger.AdjustInput{
		AccountID:      in.AccountID,
		Amount:         amount,
		Actor:          actor,
		Reason:         reason,
		IdempotencyKey: key,
		Audit: func(ctx context.Context, tx *gorm.DB, entry *models.LedgerEntry) error {
			return s.actions.WithTx(tx).Insert(ctx, newAction(actor, enums.AdminActionAdjustCredits, &in.AccountID, map[string]any{
				"amount":   amount,
				"reason":   reason,
				"entry_id": entry.ID,
				"balance":  entry.BalanceAfter,
			}))
		},
	})
	if err != nil {
		return nil, err
	}

	return &AdjustResult{
		AccountID: in.AccountID,
		Amount:    amount,
		Balance:   result.State.Balance,
		EntryID:   result.Entry.ID,
	}, nil
}

func (s *service) Ban(ctx context.Context, in StatusInput) (*accounts.AccountView, error) {
	if strings.TrimSpace(in.Reason) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ban reason is required")
	}
	return s.setStatus(ctx, in, enums.AccountStatusBanned, enums.AdminActionBan)
}

func (s *service) Unban(ctx context.Context, in StatusInput) (*accounts.AccountView, error) {
	return s.setStatus(ctx, in, enums.AccountStatusActive, enums.AdminActionUnban)
}

// setStatus writes the status, the outbox event and the audit row in one transaction.
func (s *service) setStatus(ctx context.Context, in StatusInput, status enums.AccountStatus, action enums.AdminActionType) (*accounts.AccountView, error) {
	actor := strings.ToLower(strings.TrimSpace(in.ActorEmail))
	if actor == "" {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin identity required")
	}
	if in.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	reason := strings.TrimSpace(in.Reason)
	at := s.now().UTC()

	var updated *models.Account
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.accounts.WithTx(tx)
		if err := repo.SetStatus(ctx, in.AccountID, status, reason, actor, at); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAccountStatusChanged,
			AggregateType: enums.AggregateAccount,
			AggregateID:   in.AccountID,
			Actor:         &outbox.ActorRef{Email: actor, Role: "admin"},
			Data: payloads.AccountStatusChangedEvent{
				AccountID: in.AccountID,
				Status:    status,
				Reason:    reason,
				ChangedBy: actor,
				ChangedAt: at,
			},
			OccurredAt: at,
		}); err != nil {
			return err
		}
		if err := s.actions.WithTx(tx).Insert(ctx, newAction(actor, action, &in.AccountID, map[string]any{"reason": reason})); err != nil {
			return err
		}
		account, err := repo.FindByID(ctx, in.AccountID)
		if err != nil {
			return err
		}
		updated = account
		return nil
	})
	if errors.Is(err, accounts.ErrNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "account not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update account status")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"account_id": in.AccountID.String(),
		"status":     string(status),
		"actor":      actor,
	}), "account status changed")
	view := accounts.FromModel(*updated)
	return &view, nil
}

func (s *service) UpdateSettings(ctx context.Context, in SettingsInput) (*settings.View, error) {
	actor := strings.ToLower(strings.TrimSpace(in.ActorEmail))
	if actor == "" {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin identity required")
	}
	var view *settings.View
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		v, err := s.settings.UpdateTx(ctx, tx, settings.UpdateInput{
			MaintenanceMode: in.MaintenanceMode,
			Announcement:    in.Announcement,
			ModelName:       in.ModelName,
			UpdatedBy:       actor,
		})
		if err != nil {
			return err
		}
		view = v
		return s.actions.WithTx(tx).Insert(ctx, newAction(actor, enums.AdminActionUpdateSettings, nil, map[string]any{
			"maintenance_mode": v.MaintenanceMode,
			"announcement":     v.Announcement,
			"model_name":       v.ModelName,
		}))
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update settings")
	}
	return view, nil
}

func (s *service) ListActions(ctx context.Context, params pagination.Params) (*ActionPage, error) {
	cursor, err := pagination.Decode(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.actions.List(ctx, cursor, limit+1)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list admin actions")
	}
	rows, next := pagination.Trim(rows, limit, func(a models.AdminAction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: a.CreatedAt, ID: a.ID}
	})
	page := &ActionPage{Actions: make([]ActionView, 0, len(rows)), NextCursor: next}
	for _, row := range rows {
		page.Actions = append(page.Actions, ActionView{
			ID:              row.ID,
			ActorEmail:      row.ActorEmail,
			Action:          row.Action,
			TargetAccountID: row.TargetAccountID,
			Details:         row.Details,
			CreatedAt:       row.CreatedAt,
		})
	}
	return page, nil
}

func (s *service) ListDeadLetters(ctx context.Context, reason string, limit int) ([]DeadLetterView, error) {
	filter, err := enums.ParseOutboxDLQErrorReason(reason)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown dead letter reason").
			WithDetails(map[string]any{"reason": reason})
	}
	rows, err := s.deadLetters.List(ctx, filter, pagination.NormalizeLimit(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters")
	}
	views := make([]DeadLetterView, 0, len(rows))
	for _, row := range rows {
		views = append(views, deadLetterView(row))
	}
	return views, nil
}

// RequeueDeadLetter hands a parked event back to the publisher and audits it
// in the same transaction.
func (s *service) RequeueDeadLetter(ctx context.Context, eventID uuid.UUID, actorEmail string) (*DeadLetterView, error) {
	actor := strings.ToLower(strings.TrimSpace(actorEmail))
	if actor == "" {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin identity required")
	}
	if eventID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}
	var view DeadLetterView
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		row, err := s.deadLetters.RequeueTx(ctx, tx, eventID)
		if err != nil {
			return err
		}
		view = deadLetterView(*row)
		return s.actions.WithTx(tx).Insert(ctx, newAction(actor, enums.AdminActionRequeueEvent, nil, map[string]any{
			"event_id":   eventID,
			"event_type": row.EventType,
			"reason":     row.ErrorReason,
		}))
	})
	if errors.Is(err, outbox.ErrNotDeadLettered) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "event is not dead-lettered")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "requeue event")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"event_id": eventID.String(), "actor": actor}), "dead letter requeued")
	return &view, nil
}

// ListGenerations is the moderation gallery. A nil accountID lists everyone.
func (s *service) ListGenerations(ctx context.Context, accountID *uuid.UUID, params pagination.Params) (*generations.GalleryPage, error) {
	return generations.ListGallery(ctx, s.generations, generations.Filter{AccountID: accountID}, params)
}

// DeleteGeneration hides an image from every gallery. The audit row commits
// with the delete.
func (s *service) DeleteGeneration(ctx context.Context, generationID uuid.UUID, actorEmail string) error {
	actor := strings.ToLower(strings.TrimSpace(actorEmail))
	if actor == "" {
		return pkgerrors.New(pkgerrors.CodeForbidden, "admin identity required")
	}
	if generationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "generation id is required")
	}
	var owner uuid.UUID
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.generations.WithTx(tx)
		row, err := repo.FindByID(ctx, generationID)
		if err != nil {
			return err
		}
		owner = row.AccountID
		if err := repo.SoftDelete(ctx, generationID, actor); err != nil {
			return err
		}
		return s.actions.WithTx(tx).Insert(ctx, newAction(actor, enums.AdminActionDeleteImage, &owner, map[string]any{
			"generation_id":    generationID,
			"operation":        row.Operation,
			"source_image_url": row.SourceImageURL,
		}))
	})
	if errors.Is(err, generations.ErrNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "generation not found")
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete generation")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"generation_id": generationID.String(),
		"account_id":    owner.String(),
		"actor":         actor,
	}), "generation deleted")
	return nil
}

// Stats counts inside one transaction so the numbers come from one snapshot.
func (s *service) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Model(&models.Account{}).Count(&stats.Accounts).Error; err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Model(&models.LedgerEntry{}).Count(&stats.Transactions).Error; err != nil {
			return err
		}
		n, err := s.generations.WithTx(tx).Count(ctx)
		stats.Images = n
		return err
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stats")
	}
	return &stats, nil
}

func (s *service) Journal(ctx context.Context, params pagination.Params) (*ledger.HistoryPage, error) {
	return s.ledger.Journal(ctx, params)
}

func deadLetterView(row models.OutboxDLQ) DeadLetterView {
	view := DeadLetterView{
		EventID:      row.EventID,
		EventType:    row.EventType,
		AccountID:    row.AggregateID,
		Reason:       row.ErrorReason,
		AttemptCount: row.AttemptCount,
		FailedAt:     row.FailedAt,
	}
	if row.ErrorMessage != nil {
		view.Error = *row.ErrorMessage
	}
	return view
}

func newAction(actor string, action enums.AdminActionType, target *uuid.UUID, details map[string]any) *models.AdminAction {
	raw, err := json.Marshal(details)
	if err != nil {
		raw = nil
	}
	return &models.AdminAction{
		ActorEmail:      actor,
		Action:          action,
		TargetAccountID: target,
		Details:         dbtypes.JSON(raw),
	}
}
