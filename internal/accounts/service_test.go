package accounts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nanophoto/nanophoto-backend/pkg/db/dbtest"
	"github.com/nanophoto/nanophoto-backend/pkg/enums"
	pkgerrors "github.com/nanophoto/nanophoto-backend/pkg/errors"
	"github.com/nanophoto/nanophoto-backend/pkg/pagination"
)

func newTestService(t *testing.T, bonus int64) (Service, *Repository) {
	t.Helper()
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc, err := NewService(repo, bonus, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, repo
}

func TestBootstrapIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t, 3)
	ctx := context.Background()
	id := uuid.New()

	first, err := svc.Bootstrap(ctx, id, " Ada@Example.com ")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if first.Balance != 3 || first.Email != "ada@example.com" || first.Status != enums.AccountStatusActive {
		t.Fatalf("unexpected account %+v", first)
	}

	second, err := svc.Bootstrap(ctx, id, "other@example.com")
	if err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if second.Email != "ada@example.com" || second.Balance != 3 {
		t.Fatalf("bootstrap must not overwrite an existing account: %+v", second)
	}
}

func TestCheckActive(t *testing.T) {
	svc, repo := newTestService(t, 0)
	ctx := context.Background()
	id := uuid.New()
	if _, err := svc.Bootstrap(ctx, id, "a@example.com"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	if err := svc.CheckActive(ctx, id); err != nil {
		t.Fatalf("active account rejected: %v", err)
	}
	if err := repo.SetStatus(ctx, id, enums.AccountStatusBanned, "fraud", "admin@example.com", time.Now().UTC()); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if err := svc.CheckActive(ctx, id); !pkgerrors.HasCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	view, _ := svc.Get(ctx, id)
	if view.BanReason == nil || *view.BanReason != "fraud" || view.BannedAt == nil {
		t.Fatalf("ban fields missing: %+v", view)
	}

	if err := repo.SetStatus(ctx, id, enums.AccountStatusActive, "", "admin@example.com", time.Now().UTC()); err != nil {
		t.Fatalf("unban: %v", err)
	}
	view, _ = svc.Get(ctx, id)
	if view.Status != enums.AccountStatusActive || view.BanReason != nil {
		t.Fatalf("unban should clear ban fields: %+v", view)
	}

	if err := svc.CheckActive(ctx, uuid.New()); !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSetPhoneUniqueness(t *testing.T) {
	svc, repo := newTestService(t, 0)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{a, b} {
		if _, err := svc.Bootstrap(ctx, id, id.String()+"@example.com"); err != nil {
			t.Fatalf("bootstrap: %v", err)
		}
	}

	if err := repo.SetPhone(ctx, a, "+15550001111"); err != nil {
		t.Fatalf("set phone: %v", err)
	}
	if err := repo.SetPhone(ctx, b, "+15550001111"); !errors.Is(err, ErrPhoneClaimed) {
		t.Fatalf("expected ErrPhoneClaimed, got %v", err)
	}
	owner, err := repo.FindByPhone(ctx, "+15550001111")
	if err != nil || owner.ID != a {
		t.Fatalf("unexpected owner %+v err=%v", owner, err)
	}
	if _, err := repo.FindByPhone(ctx, "+15559999999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListPaginates(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.Bootstrap(ctx, uuid.New(), "user@example.com"); err != nil {
			t.Fatalf("bootstrap: %v", err)
		}
	}

	page, err := svc.List(ctx, pagination.Params{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Accounts) != 2 || page.NextCursor == "" {
		t.Fatalf("expected a full first page with cursor, got %d accounts cursor=%q", len(page.Accounts), page.NextCursor)
	}
	if _, err := svc.List(ctx, pagination.Params{Cursor: "not base64!"}); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
