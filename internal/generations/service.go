package generations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nanophoto/nanophoto-backend/internal/ledger"
	"github.com/nanophoto/nanophoto-backend/pkg/db/models"
	"github.com/nanophoto/nanophoto-backend/pkg/enums"
	pkgerrors "github.com/nanophoto/nanophoto-backend/pkg/errors"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
	"github.com/nanophoto/nanophoto-backend/pkg/pagination"
)

// refundTimeout bounds the compensating credit, which outlives the request.
const refundTimeout = 15 * time.Second

type Request struct {
	AccountID      uuid.UUID
	Operation      enums.GenerationOperation
	SourceImageURL string
	Style          string
	Prompt         string
	IdempotencyKey string
}

type Result struct {
	JobID     uuid.UUID                 `json:"jobId"`
	Operation enums.GenerationOperation `json:"operation"`
	Cost      int64                     `json:"cost"`
	Balance   *int64                    `json:"balance,omitempty"`
	Status    string                    `json:"status"`
}

// Item is one gallery entry.
type Item struct {
	ID             uuid.UUID                 `json:"id"`
	AccountID      uuid.UUID                 `json:"accountId"`
	Operation      enums.GenerationOperation `json:"operation"`
	SourceImageURL string                    `json:"sourceImageUrl,omitempty"`
	Style          string                    `json:"style,omitempty"`
	Prompt         string                    `json:"prompt,omitempty"`
	Cost           int64                     `json:"cost"`
	CreatedAt      time.Time                 `json:"createdAt"`
}

type GalleryPage struct {
	Items      []Item `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
}

func ItemFromModel(m models.Generation) Item {
	return Item{
		ID:             m.ID,
		AccountID:      m.AccountID,
		Operation:      m.Operation,
		SourceImageURL: m.SourceImageURL,
		Style:          m.Style,
		Prompt:         m.Prompt,
		Cost:           m.Cost,
		CreatedAt:      m.CreatedAt,
	}
}

type Service interface {
	Request(ctx context.Context, req Request) (*Result, error)
	// Gallery lists the account's dispatched jobs newest first.
	Gallery(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*GalleryPage, error)
}

type maintenanceChecker interface {
	MaintenanceMode(ctx context.Context) (bool, error)
}

type historyStore interface {
	Insert(ctx context.Context, g *models.Generation) error
	List(ctx context.Context, filter Filter, cursor *pagination.Cursor, limit int) ([]models.Generation, error)
}

type ServiceParams struct {
	Ledger      ledger.Service
	Dispatcher  Dispatcher
	Costs       CostTable
	Maintenance maintenanceChecker
	History     historyStore
	Logger      *logger.Logger
	Now         func() time.Time
}

type service struct {
	ledger      ledger.Service
	dispatcher  Dispatcher
	costs       CostTable
	maintenance maintenanceChecker
	history     historyStore
	logg        *logger.Logger
	now         func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	if p.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if p.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher required")
	}
	if p.Maintenance == nil {
		return nil, fmt.Errorf("maintenance checker required")
	}
	if p.History == nil {
		return nil, fmt.Errorf("generation history required")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &service{
		ledger:      p.Ledger,
		dispatcher:  p.Dispatcher,
		costs:       p.Costs,
		maintenance: p.Maintenance,
		history:     p.History,
		logg:        p.Logger,
		now:         p.Now,
	}, nil
}

// DebitKey scopes the caller's idempotency key to the account.
func DebitKey(accountID uuid.UUID, idempotencyKey string) string {
	return fmt.Sprintf("generation:%s:%s", accountID, idempotencyKey)
}

// RefundKey allows at most one refund per job.
func RefundKey(jobID uuid.UUID) string {
	return "refund:" + jobID.String()
}

// Request charges the account, then dispatches. A failed dispatch is refunded.
func (s *service) Request(ctx context.Context, req Request) (*Result, error) {
	if req.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	cost, ok := s.costs.Cost(req.Operation)
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unsupported operation %q", req.Operation)
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if cost > 0 && key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}

	on, err := s.maintenance.MaintenanceMode(ctx)
	if err != nil {
		return nil, err
	}
	if on {
		return nil, pkgerrors.New(pkgerrors.CodeMaintenance, "generations are paused for maintenance")
	}

	job := Job{
		ID:             uuid.New(),
		AccountID:      req.AccountID,
		Operation:      req.Operation,
		SourceImageURL: strings.TrimSpace(req.SourceImageURL),
		Style:          strings.TrimSpace(req.Style),
		Prompt:         strings.TrimSpace(req.Prompt),
		Cost:           cost,
		RequestedAt:    s.now().UTC(),
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"account_id": req.AccountID.String(),
		"job_id":     job.ID.String(),
		"operation":  string(req.Operation),
	})
	result := &Result{JobID: job.ID, Operation: job.Operation, Cost: cost, Status: "queued"}

	if cost > 0 {
		charged, err := s.ledger.Debit(ctx, ledger.DebitInput{
			AccountID:      req.AccountID,
			Amount:         cost,
			Kind:           enums.LedgerEntryDebitForOperation,
			Actor:          req.AccountID.String(),
			Reason:         fmt.Sprintf("%s job %s", req.Operation, job.ID),
			IdempotencyKey: DebitKey(req.AccountID, key),
		})
		if err != nil {
			return nil, err
		}
		balance := charged.State.Balance
		result.Balance = &balance
	}

	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		s.logg.Error(ctx, "generation dispatch failed", err)
		if cost > 0 {
			if refundErr := s.refund(ctx, job); refundErr != nil {
				s.logg.Error(ctx, "generation refund failed", refundErr)
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, refundErr, "generation backend unavailable and refund failed")
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "generation backend unavailable")
	}

	s.logg.Info(ctx, "generation job dispatched")
	if job.Operation.ProducesImage() {
		s.recordHistory(ctx, job)
	}
	return result, nil
}

// recordHistory adds the dispatched job to the gallery. The charge and the
// dispatch already happened, so a failure here is logged and not returned.
func (s *service) recordHistory(ctx context.Context, job Job) {
	err := s.history.Insert(context.WithoutCancel(ctx), &models.Generation{
		ID:             job.ID,
		AccountID:      job.AccountID,
		Operation:      job.Operation,
		SourceImageURL: job.SourceImageURL,
		Style:          job.Style,
		Prompt:         job.Prompt,
		Cost:           job.Cost,
		CreatedAt:      job.RequestedAt,
	})
	if err != nil {
		s.logg.Error(ctx, "record generation history", err)
	}
}

func (s *service) Gallery(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*GalleryPage, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	return ListGallery(ctx, s.history, Filter{AccountID: &accountID}, params)
}

// ListGallery pages through history with the shared keyset cursor.
func ListGallery(ctx context.Context, history historyStore, filter Filter, params pagination.Params) (*GalleryPage, error) {
	cursor, err := pagination.Decode(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := history.List(ctx, filter, cursor, limit+1)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list generations")
	}
	rows, next := pagination.Trim(rows, limit, func(g models.Generation) pagination.Cursor {
		return pagination.Cursor{CreatedAt: g.CreatedAt, ID: g.ID}
	})
	page := &GalleryPage{Items: make([]Item, 0, len(rows)), NextCursor: next}
	for _, row := range rows {
		page.Items = append(page.Items, ItemFromModel(row))
	}
	return page, nil
}

// refund runs detached from the request so a client that hung up during the
// dispatch still gets its credits back.
func (s *service) refund(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refundTimeout)
	defer cancel()
	_, err := s.ledger.Credit(ctx, ledger.CreditInput{
		AccountID:      job.AccountID,
		Amount:         job.Cost,
		Kind:           enums.LedgerEntryOperationRefund,
		Actor:          ledger.ActorSystem,
		Reason:         fmt.Sprintf("dispatch failed for %s job %s", job.Operation, job.ID),
		IdempotencyKey: RefundKey(job.ID),
	})
	return err
}
