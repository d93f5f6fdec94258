package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nanophoto/nanophoto-backend/pkg/db/models"
	pkgerrors "github.com/nanophoto/nanophoto-backend/pkg/errors"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
	"github.com/nanophoto/nanophoto-backend/pkg/pagination"
)

// Service manages account lifecycle outside of balance changes.
type Service interface {
	Bootstrap(ctx context.Context, accountID uuid.UUID, email string) (*AccountView, error)
	Get(ctx context.Context, accountID uuid.UUID) (*AccountView, error)
	CheckActive(ctx context.Context, accountID uuid.UUID) error
	List(ctx context.Context, params pagination.Params) (*ListPage, error)
}

type service struct {
	repo        *Repository
	signupBonus int64
	logg        *logger.Logger
}

func NewService(repo *Repository, signupBonus int64, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("accounts repository required")
	}
	if signupBonus < 0 {
		return nil, fmt.Errorf("signup bonus must not be negative")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{repo: repo, signupBonus: signupBonus, logg: logg}, nil
}

// Bootstrap creates the account on first sign-in. The signup bonus becomes
// both the starting balance and the reconciliation baseline.
func (s *service) Bootstrap(ctx context.Context, accountID uuid.UUID, email string) (*AccountView, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	email = strings.ToLower(strings.TrimSpace(email))

	stored, created, err := s.repo.CreateIfMissing(ctx, &models.Account{
		ID:              accountID,
		Email:           email,
		Balance:         s.signupBonus,
		BaselineCredits: s.signupBonus,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "bootstrap account")
	}
	if created {
		s.logg.Info(s.logg.WithAccountID(ctx, accountID.String()), "account created")
	}
	view := FromModel(*stored)
	return &view, nil
}

func (s *service) Get(ctx context.Context, accountID uuid.UUID) (*AccountView, error) {
	account, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		return nil, mapError(err)
	}
	view := FromModel(*account)
	return &view, nil
}

// CheckActive fails with FORBIDDEN for banned accounts.
func (s *service) CheckActive(ctx context.Context, accountID uuid.UUID) error {
	account, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		return mapError(err)
	}
	if account.IsBanned() {
		return pkgerrors.New(pkgerrors.CodeForbidden, "account is banned")
	}
	return nil
}

func (s *service) List(ctx context.Context, params pagination.Params) (*ListPage, error) {
	cursor, err := pagination.Decode(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.List(ctx, cursor, limit+1)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list accounts")
	}
	rows, next := pagination.Trim(rows, limit, func(a models.Account) pagination.Cursor {
		return pagination.Cursor{CreatedAt: a.CreatedAt, ID: a.ID}
	})
	page := &ListPage{Accounts: make([]AccountView, 0, len(rows)), NextCursor: next}
	for _, row := range rows {
		page.Accounts = append(page.Accounts, FromModel(row))
	}
	return page, nil
}

func mapError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "account not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
}
