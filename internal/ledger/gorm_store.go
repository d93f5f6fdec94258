package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nanophoto/nanophoto-backend/pkg/db"
	"github.com/nanophoto/nanophoto-backend/pkg/db/models"
	"github.com/nanophoto/nanophoto-backend/pkg/enums"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
	"github.com/nanophoto/nanophoto-backend/pkg/metrics"
	"github.com/nanophoto/nanophoto-backend/pkg/outbox"
	"github.com/nanophoto/nanophoto-backend/pkg/outbox/payloads"
)

// GormStore is the durable Store. On Postgres each mutation runs in a
// SERIALIZABLE transaction holding the account row lock.
type GormStore struct {
	db      *db.Client
	outbox  outbox.Emitter
	retry   RetryPolicy
	logg    *logger.Logger
	metrics *metrics.LedgerMetrics
}

type GormStoreParams struct {
	DB      *db.Client
	Outbox  outbox.Emitter
	Retry   RetryPolicy
	Logger  *logger.Logger
	Metrics *metrics.LedgerMetrics
}

func NewGormStore(p GormStoreParams) (*GormStore, error) {
	if p.DB == nil {
		return nil, fmt.Errorf("ledger store requires a database client")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("ledger store requires an outbox emitter")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	s := &GormStore{db: p.DB, outbox: p.Outbox, retry: p.Retry, logg: p.Logger, metrics: p.Metrics}
	onRetry := p.Retry.OnRetry
	s.retry.OnRetry = func(attempt int, err error) {
		s.metrics.IncRetry()
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}
	return s, nil
}

func (s *GormStore) RunAtomicMutation(ctx context.Context, accountID uuid.UUID, fn MutationFunc) (*MutationResult, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: mutation function is required", ErrInvalidMutation)
	}
	txOpts := &sql.TxOptions{Isolation: sql.LevelSerializable}

	var result *MutationResult
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		result = nil
		return s.db.WithTxOptions(ctx, txOpts, func(tx *gorm.DB) error {
			res, err := s.apply(ctx, tx, accountID, fn)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		classified := classify(err)
		if errors.Is(err, ErrRetriesExhausted) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"account_id": accountID.String(),
				"error":      err.Error(),
			}), "ledger mutation not applied")
		}
		return nil, classified
	}
	return result, nil
}

func (s *GormStore) apply(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, fn MutationFunc) (*MutationResult, error) {
	var account models.Account
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "balance", "verified").
		Where("id = ?", accountID).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	state := AccountState{AccountID: account.ID, Balance: account.Balance, Verified: account.Verified}
	mutation, err := fn(state)
	if err != nil {
		return nil, rejection{err: err}
	}
	if err := validateMutation(state, mutation); err != nil {
		return nil, err
	}
	if isNoop(mutation) {
		return &MutationResult{State: state}, nil
	}

	entry := newEntry(accountID, mutation)
	if entry.IdempotencyKey != nil {
		var existing int64
		if err := tx.Model(&models.LedgerEntry{}).
			Where("idempotency_key = ?", *entry.IdempotencyKey).
			Count(&existing).Error; err != nil {
			return nil, err
		}
		if existing > 0 {
			return nil, ErrDuplicateEntry
		}
	}

	if err := tx.Create(entry).Error; err != nil {
		if entry.IdempotencyKey != nil && db.IsUniqueViolation(err, "") {
			return nil, ErrDuplicateEntry
		}
		return nil, err
	}

	res := tx.Model(&models.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]any{
			"balance":    mutation.Balance,
			"verified":   mutation.Verified,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected != 1 {
		return nil, fmt.Errorf("account %s update touched %d rows", accountID, res.RowsAffected)
	}

	if mutation.Attach != nil {
		if err := mutation.Attach(ctx, tx, entry); err != nil {
			return nil, fmt.Errorf("write entry attachment: %w", err)
		}
	}

	if err := s.outbox.Emit(ctx, tx, recordedEvent(entry)); err != nil {
		return nil, fmt.Errorf("queue ledger event: %w", err)
	}

	return &MutationResult{
		State:   AccountState{AccountID: accountID, Balance: mutation.Balance, Verified: mutation.Verified},
		Entry:   entry,
		Applied: true,
	}, nil
}

func recordedEvent(entry *models.LedgerEntry) outbox.DomainEvent {
	data := payloads.LedgerEntryRecordedEvent{
		EntryID:      entry.ID,
		AccountID:    entry.AccountID,
		Kind:         entry.Kind,
		Delta:        entry.Delta,
		BalanceAfter: entry.BalanceAfter,
		Actor:        entry.Actor,
		CreatedAt:    entry.CreatedAt,
	}
	if entry.Reason != nil {
		data.Reason = *entry.Reason
	}
	if entry.IdempotencyKey != nil {
		data.IdempotencyKey = *entry.IdempotencyKey
	}
	return outbox.DomainEvent{
		EventType:     enums.EventLedgerEntryRecorded,
		AggregateType: enums.AggregateAccount,
		AggregateID:   entry.AccountID,
		Actor:         &outbox.ActorRef{Name: entry.Actor},
		Data:          data,
		OccurredAt:    entry.CreatedAt,
	}
}
