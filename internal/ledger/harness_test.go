package ledger

import (
	"testing"

	"github.com/google/uuid"

	"github.com/nanophoto/nanophoto-backend/pkg/db"
	"github.com/nanophoto/nanophoto-backend/pkg/db/dbtest"
	"github.com/nanophoto/nanophoto-backend/pkg/db/models"
	"github.com/nanophoto/nanophoto-backend/pkg/outbox"
)

// harness runs the same assertions against every Store implementation.
type harness struct {
	name   string
	store  Store
	reader Reader
	client *db.Client
	open   func(t *testing.T, balance int64, verified bool) uuid.UUID
}

func harnesses(t *testing.T) []harness {
	t.Helper()
	return []harness{memoryHarness(), gormHarness(t)}
}

func memoryHarness() harness {
	mem := NewMemoryStore()
	return harness{
		name:   "memory",
		store:  mem,
		reader: mem,
		open: func(_ *testing.T, balance int64, verified bool) uuid.UUID {
			id := uuid.New()
			mem.Open(id, balance, verified)
			return id
		},
	}
}

func gormHarness(t *testing.T) harness {
	t.Helper()
	client := dbtest.Open(t)
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), nil)
	store, err := NewGormStore(GormStoreParams{
		DB:     client,
		Outbox: emitter,
		Retry:  RetryPolicy{MaxAttempts: 3},
	})
	if err != nil {
		t.Fatalf("NewGormStore: %v", err)
	}
	return harness{
		name:   "gorm-sqlite",
		store:  store,
		reader: NewRepository(client.DB()),
		client: client,
		open: func(t *testing.T, balance int64, verified bool) uuid.UUID {
			t.Helper()
			account := models.Account{
				Email:           uuid.NewString() + "@example.com",
				Balance:         balance,
				BaselineCredits: balance,
				Verified:        verified,
			}
			if err := client.DB().Create(&account).Error; err != nil {
				t.Fatalf("create account: %v", err)
			}
			return account.ID
		},
	}
}

func newTestService(t *testing.T, h harness) Service {
	t.Helper()
	svc, err := NewService(h.store, h.reader, nil, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}
