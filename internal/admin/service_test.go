package admin

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanophoto/nanophoto-backend/internal/accounts"
	"github.com/nanophoto/nanophoto-backend/internal/generations"
	"github.com/nanophoto/nanophoto-backend/internal/ledger"
	"github.com/nanophoto/nanophoto-backend/internal/settings"
	"github.com/nanophoto/nanophoto-backend/pkg/db"
	"github.com/nanophoto/nanophoto-backend/pkg/db/dbtest"
	"github.com/nanophoto/nanophoto-backend/pkg/db/models"
	dbtypes "github.com/nanophoto/nanophoto-backend/pkg/db/types"
	"github.com/nanophoto/nanophoto-backend/pkg/enums"
	pkgerrors "github.com/nanophoto/nanophoto-backend/pkg/errors"
	"github.com/nanophoto/nanophoto-backend/pkg/outbox"
	"github.com/nanophoto/nanophoto-backend/pkg/pagination"
)

const adminEmail = "ops@nanophoto.app"

type fixture struct {
	client      *db.Client
	svc         Service
	ledger      ledger.Service
	accounts    *accounts.Repository
	settings    settings.Service
	generations *generations.Repository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.Open(t)
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), nil)
	store, err := ledger.NewGormStore(ledger.GormStoreParams{DB: client, Outbox: emitter, Retry: ledger.RetryPolicy{MaxAttempts: 3}})
	require.NoError(t, err)
	ledgerSvc, err := ledger.NewService(store, ledger.NewRepository(client.DB()), nil, nil)
	require.NoError(t, err)
	settingsSvc, err := settings.NewService(settings.NewRepository(client.DB()))
	require.NoError(t, err)
	repo := accounts.NewRepository(client.DB())
	gallery := generations.NewRepository(client.DB())
	svc, err := NewService(ServiceParams{
		DB:                client,
		Ledger:            ledgerSvc,
		Accounts:          repo,
		Settings:          settingsSvc,
		Actions:           NewActionRepository(client.DB()),
		Outbox:            emitter,
		DeadLetters:       outbox.NewDLQRepository(client.DB()),
		Generations:       gallery,
		DefaultAdjustment: 100,
	})
	require.NoError(t, err)
	return fixture{client: client, svc: svc, ledger: ledgerSvc, accounts: repo, settings: settingsSvc, generations: gallery}
}

func (f fixture) account(t *testing.T, balance int64) uuid.UUID {
	t.Helper()
	account := &models.Account{ID: uuid.New(), Email: uuid.NewString() + "@example.com", Balance: balance, BaselineCredits: balance}
	_, _, err := f.accounts.CreateIfMissing(context.Background(), account)
	require.NoError(t, err)
	return account.ID
}

func int64Ptr(v int64) *int64 { return &v }

func TestAdjustCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, 10)

	res, err := f.svc.AdjustCredits(ctx, AdjustInput{AccountID: acc, Reason: DefaultAdjustmentReason, ActorEmail: adminEmail, IdempotencyKey: "a1"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Amount)
	assert.Equal(t, int64(110), res.Balance)

	// admin overrides may take the balance below zero
	res, err = f.svc.AdjustCredits(ctx, AdjustInput{AccountID: acc, Amount: int64Ptr(-150), Reason: "chargeback", ActorEmail: adminEmail, IdempotencyKey: "a2"})
	require.NoError(t, err)
	assert.Equal(t, int64(-40), res.Balance)

	_, err = f.svc.AdjustCredits(ctx, AdjustInput{AccountID: acc, Amount: int64Ptr(-150), Reason: "chargeback", ActorEmail: adminEmail, IdempotencyKey: "a2"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeIdempotency))

	view, err := f.ledger.Balance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(-40), view.Balance)

	page, err := f.svc.ListActions(ctx, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Actions, 2)
	for _, action := range page.Actions {
		assert.Equal(t, enums.AdminActionAdjustCredits, action.Action)
		assert.Equal(t, adminEmail, action.ActorEmail)
	}
}

func TestAdjustCreditsRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, 10)

	_, err := f.svc.AdjustCredits(ctx, AdjustInput{AccountID: acc, Amount: int64Ptr(5), ActorEmail: adminEmail})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "missing reason: %v", err)
	_, err = f.svc.AdjustCredits(ctx, AdjustInput{AccountID: acc, Amount: int64Ptr(0), Reason: "x", ActorEmail: adminEmail})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "zero amount: %v", err)
	_, err = f.svc.AdjustCredits(ctx, AdjustInput{AccountID: acc, Amount: int64Ptr(5), Reason: "x"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden), "no actor: %v", err)
	_, err = f.svc.AdjustCredits(ctx, AdjustInput{AccountID: uuid.New(), Amount: int64Ptr(5), Reason: "x", ActorEmail: adminEmail})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound), "unknown account: %v", err)

	view, err := f.ledger.Balance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(10), view.Balance)
}

func TestAdjustCreditsRollsBackWithoutAuditRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, 10)
	require.NoError(t, f.client.DB().Migrator().DropTable(&models.AdminAction{}))

	_, err := f.svc.AdjustCredits(ctx, AdjustInput{AccountID: acc, Amount: int64Ptr(25), Reason: "goodwill", ActorEmail: adminEmail, IdempotencyKey: "a1"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStoreUnavailable), "expected store unavailable, got %v", err)

	view, err := f.ledger.Balance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(10), view.Balance)
	recorded, err := f.ledger.HasEntry(ctx, fmt.Sprintf("admin:%s:a1", acc))
	require.NoError(t, err)
	assert.False(t, recorded)
}

func TestBanAndUnban(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, 25)

	banned, err := f.svc.Ban(ctx, StatusInput{AccountID: acc, Reason: "chargeback fraud", ActorEmail: adminEmail})
	require.NoError(t, err)
	assert.Equal(t, enums.AccountStatusBanned, banned.Status)
	assert.Equal(t, int64(25), banned.Balance)

	restored, err := f.svc.Unban(ctx, StatusInput{AccountID: acc, ActorEmail: adminEmail})
	require.NoError(t, err)
	assert.Equal(t, enums.AccountStatusActive, restored.Status)

	var events int64
	require.NoError(t, f.client.DB().Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventAccountStatusChanged).Count(&events).Error)
	assert.Equal(t, int64(2), events)

	page, err := f.svc.ListActions(ctx, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Actions, 2)

	_, err = f.svc.Ban(ctx, StatusInput{AccountID: acc, ActorEmail: adminEmail})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	_, err = f.svc.Ban(ctx, StatusInput{AccountID: uuid.New(), Reason: "x", ActorEmail: adminEmail})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestUpdateSettingsRecordsAction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.svc.UpdateSettings(ctx, SettingsInput{MaintenanceMode: true, Announcement: "Back soon", ModelName: "nano-v2", ActorEmail: adminEmail})
	require.NoError(t, err)
	assert.True(t, view.MaintenanceMode)

	on, err := f.settings.MaintenanceMode(ctx)
	require.NoError(t, err)
	assert.True(t, on)

	page, err := f.svc.ListActions(ctx, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Actions, 1)
	assert.Equal(t, enums.AdminActionUpdateSettings, page.Actions[0].Action)
	assert.Nil(t, page.Actions[0].TargetAccountID)
	assert.JSONEq(t, `{"maintenance_mode":true,"announcement":"Back soon","model_name":"nano-v2"}`, string(page.Actions[0].Details))
}

func TestRequeueDeadLetter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, 0)

	event := models.OutboxEvent{
		EventType:     enums.EventLedgerEntryRecorded,
		AggregateType: enums.AggregateAccount,
		AggregateID:   acc,
		Payload:       dbtypes.JSON(`{"version":1,"data":{}}`),
		AttemptCount:  5,
	}
	require.NoError(t, f.client.DB().Create(&event).Error)
	msg := "topic not found"
	require.NoError(t, f.client.DB().Create(&models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   acc,
		Payload:       event.Payload,
		ErrorReason:   enums.OutboxDLQReasonNonRetryable,
		ErrorMessage:  &msg,
		AttemptCount:  5,
	}).Error)

	_, err := f.svc.ListDeadLetters(ctx, "exploded", 10)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	letters, err := f.svc.ListDeadLetters(ctx, "non_retryable", 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, acc, letters[0].AccountID)
	assert.Equal(t, msg, letters[0].Error)

	_, err = f.svc.RequeueDeadLetter(ctx, event.ID, "")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))

	view, err := f.svc.RequeueDeadLetter(ctx, event.ID, adminEmail)
	require.NoError(t, err)
	assert.Equal(t, event.ID, view.EventID)

	var reloaded models.OutboxEvent
	require.NoError(t, f.client.DB().First(&reloaded, "id = ?", event.ID).Error)
	assert.Equal(t, 0, reloaded.AttemptCount)

	_, err = f.svc.RequeueDeadLetter(ctx, event.ID, adminEmail)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	page, err := f.svc.ListActions(ctx, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Actions, 1)
	assert.Equal(t, enums.AdminActionRequeueEvent, page.Actions[0].Action)
}

func (f fixture) generation(t *testing.T, accountID uuid.UUID) uuid.UUID {
	t.Helper()
	row := &models.Generation{
		AccountID:      accountID,
		Operation:      enums.GenerationGenerate,
		SourceImageURL: "https://cdn.example.com/" + uuid.NewString() + ".png",
		Cost:           2,
	}
	require.NoError(t, f.generations.Insert(context.Background(), row))
	return row.ID
}

func TestDeleteGenerationWritesAuditRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.account(t, 0)
	other := f.account(t, 0)
	doomed := f.generation(t, owner)
	f.generation(t, owner)
	f.generation(t, other)

	page, err := f.svc.ListGenerations(ctx, nil, pagination.Params{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Items, 3)

	require.NoError(t, f.svc.DeleteGeneration(ctx, doomed, "OPS@nanophoto.app "))

	page, err = f.svc.ListGenerations(ctx, &owner, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.NotEqual(t, doomed, page.Items[0].ID)

	actions, err := f.svc.ListActions(ctx, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, actions.Actions, 1)
	action := actions.Actions[0]
	assert.Equal(t, enums.AdminActionDeleteImage, action.Action)
	assert.Equal(t, adminEmail, action.ActorEmail)
	require.NotNil(t, action.TargetAccountID)
	assert.Equal(t, owner, *action.TargetAccountID)
	assert.Contains(t, string(action.Details), doomed.String())

	err = f.svc.DeleteGeneration(ctx, doomed, adminEmail)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound), "second delete: %v", err)
	err = f.svc.DeleteGeneration(ctx, uuid.New(), adminEmail)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound), "unknown id: %v", err)
	err = f.svc.DeleteGeneration(ctx, doomed, "")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden), "no actor: %v", err)
}

func TestDeleteGenerationRollsBackWithoutAuditRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.account(t, 0)
	id := f.generation(t, owner)

	require.NoError(t, f.client.DB().Migrator().DropTable(&models.AdminAction{}))
	err := f.svc.DeleteGeneration(ctx, id, adminEmail)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency), "got %v", err)

	page, err := f.svc.ListGenerations(ctx, &owner, pagination.Params{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestStatsAndJournal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.account(t, 0)
	second := f.account(t, 0)
	f.generation(t, first)
	doomed := f.generation(t, second)
	require.NoError(t, f.svc.DeleteGeneration(ctx, doomed, adminEmail))

	_, err := f.svc.AdjustCredits(ctx, AdjustInput{AccountID: first, Amount: int64Ptr(5), Reason: "goodwill", ActorEmail: adminEmail})
	require.NoError(t, err)
	_, err = f.svc.AdjustCredits(ctx, AdjustInput{AccountID: second, Amount: int64Ptr(7), Reason: "goodwill", ActorEmail: adminEmail})
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Accounts: 2, Transactions: 2, Images: 1}, *stats)

	journal, err := f.svc.Journal(ctx, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, journal.Entries, 2)
	deltas := map[uuid.UUID]int64{}
	for _, e := range journal.Entries {
		deltas[e.AccountID] = e.Delta
	}
	assert.Equal(t, map[uuid.UUID]int64{first: 5, second: 7}, deltas)
}
