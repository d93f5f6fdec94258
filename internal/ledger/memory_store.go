package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nanophoto/nanophoto-backend/pkg/db/models"
	"github.com/nanophoto/nanophoto-backend/pkg/pagination"
)

// MemoryStore is an in-process Store and Reader. Each account has its own
// mutex so different accounts never contend.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*memoryAccount
	keys     map[string]struct{}
	now      func() time.Time
	lastTick time.Time
}

type memoryAccount struct {
	mu       sync.Mutex
	baseline int64
	state    AccountState
	entries  []models.LedgerEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: map[uuid.UUID]*memoryAccount{},
		keys:     map[string]struct{}{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Open registers an account with a starting balance that becomes its baseline.
func (s *MemoryStore) Open(accountID uuid.UUID, balance int64, verified bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[accountID] = &memoryAccount{
		baseline: balance,
		state:    AccountState{AccountID: accountID, Balance: balance, Verified: verified},
	}
}

func (s *MemoryStore) account(accountID uuid.UUID) (*memoryAccount, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	return acct, ok
}

func (s *MemoryStore) RunAtomicMutation(ctx context.Context, accountID uuid.UUID, fn MutationFunc) (*MutationResult, error) {
	if fn == nil {
		return nil, classify(ErrInvalidMutation)
	}
	if err := ctx.Err(); err != nil {
		return nil, classify(err)
	}
	acct, ok := s.account(accountID)
	if !ok {
		return nil, classify(ErrAccountNotFound)
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	state := acct.state
	mutation, err := fn(state)
	if err != nil {
		return nil, err
	}
	if err := validateMutation(state, mutation); err != nil {
		return nil, classify(err)
	}
	if isNoop(mutation) {
		return &MutationResult{State: state}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, classify(err)
	}

	entry := newEntry(accountID, mutation)
	s.mu.Lock()
	if entry.IdempotencyKey != nil {
		if _, seen := s.keys[*entry.IdempotencyKey]; seen {
			s.mu.Unlock()
			return nil, ErrDuplicateEntry
		}
		s.keys[*entry.IdempotencyKey] = struct{}{}
	}
	entry.CreatedAt = s.tick()
	s.mu.Unlock()

	if mutation.Attach != nil {
		if err := mutation.Attach(ctx, nil, entry); err != nil {
			if entry.IdempotencyKey != nil {
				s.mu.Lock()
				delete(s.keys, *entry.IdempotencyKey)
				s.mu.Unlock()
			}
			return nil, classify(err)
		}
	}

	acct.state = AccountState{AccountID: accountID, Balance: mutation.Balance, Verified: mutation.Verified}
	acct.entries = append(acct.entries, *entry)
	return &MutationResult{State: acct.state, Entry: entry, Applied: true}, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, accountID uuid.UUID) (*models.Account, error) {
	acct, ok := s.account(accountID)
	if !ok {
		return nil, ErrAccountNotFound
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return &models.Account{
		ID:              accountID,
		Balance:         acct.state.Balance,
		BaselineCredits: acct.baseline,
		Verified:        acct.state.Verified,
	}, nil
}

// ListEntries returns entries newest first, starting after cursor.
func (s *MemoryStore) ListEntries(_ context.Context, accountID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.LedgerEntry, error) {
	acct, ok := s.account(accountID)
	if !ok {
		return nil, nil
	}
	acct.mu.Lock()
	entries := make([]models.LedgerEntry, len(acct.entries))
	copy(entries, acct.entries)
	acct.mu.Unlock()
	return pageEntries(entries, cursor, limit), nil
}

// ListJournal merges every account's entries, newest first.
func (s *MemoryStore) ListJournal(_ context.Context, cursor *pagination.Cursor, limit int) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	accts := make([]*memoryAccount, 0, len(s.accounts))
	for _, acct := range s.accounts {
		accts = append(accts, acct)
	}
	s.mu.Unlock()

	var entries []models.LedgerEntry
	for _, acct := range accts {
		acct.mu.Lock()
		entries = append(entries, acct.entries...)
		acct.mu.Unlock()
	}
	return pageEntries(entries, cursor, limit), nil
}

func pageEntries(entries []models.LedgerEntry, cursor *pagination.Cursor, limit int) []models.LedgerEntry {
	sort.SliceStable(entries, func(i, j int) bool { return newerThan(entries[i], entries[j]) })
	out := make([]models.LedgerEntry, 0, limit)
	for _, e := range entries {
		if cursor != nil && !cursor.Follows(e.CreatedAt, e.ID) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (s *MemoryStore) ListDrift(_ context.Context, limit int) ([]DriftRow, error) {
	s.mu.Lock()
	ids := make([]uuid.UUID, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	var rows []DriftRow
	for _, id := range ids {
		acct, _ := s.account(id)
		acct.mu.Lock()
		var sum int64
		for _, e := range acct.entries {
			sum += e.Delta
		}
		row := DriftRow{AccountID: id, Balance: acct.state.Balance, BaselineCredits: acct.baseline, EntrySum: sum}
		acct.mu.Unlock()
		if row.Drift() != 0 {
			rows = append(rows, row)
		}
		if limit > 0 && len(rows) == limit {
			break
		}
	}
	return rows, nil
}

func (s *MemoryStore) HasEntry(_ context.Context, idempotencyKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[idempotencyKey]
	return ok, nil
}

// tick returns a strictly increasing timestamp so history order matches commit order.
// Callers hold s.mu.
func (s *MemoryStore) tick() time.Time {
	now := s.now()
	if !now.After(s.lastTick) {
		now = s.lastTick.Add(time.Microsecond)
	}
	s.lastTick = now
	return now
}

// corrupt overwrites a balance behind the ledger's back; reconciliation tests use it.
func (s *MemoryStore) corrupt(accountID uuid.UUID, balance int64) {
	acct, ok := s.account(accountID)
	if !ok {
		return
	}
	acct.mu.Lock()
	acct.state.Balance = balance
	acct.mu.Unlock()
}

func newerThan(a, b models.LedgerEntry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() > b.ID.String()
}
