package generations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanophoto/nanophoto-backend/internal/ledger"
	"github.com/nanophoto/nanophoto-backend/pkg/config"
	"github.com/nanophoto/nanophoto-backend/pkg/db/dbtest"
	"github.com/nanophoto/nanophoto-backend/pkg/db/models"
	"github.com/nanophoto/nanophoto-backend/pkg/enums"
	pkgerrors "github.com/nanophoto/nanophoto-backend/pkg/errors"
	"github.com/nanophoto/nanophoto-backend/pkg/pagination"
)

type fakeDispatcher struct {
	err    error
	jobs   []Job
	before func(ctx context.Context) error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, job Job) error {
	if f.before != nil {
		if err := f.before(ctx); err != nil {
			return err
		}
	}
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type maintenanceFlag bool

func (m maintenanceFlag) MaintenanceMode(context.Context) (bool, error) { return bool(m), nil }

type fixture struct {
	store      *ledger.MemoryStore
	ledger     ledger.Service
	dispatcher *fakeDispatcher
	history    *Repository
	svc        Service
}

func newFixture(t *testing.T, maintenance bool) fixture {
	t.Helper()
	store := ledger.NewMemoryStore()
	ledgerSvc, err := ledger.NewService(store, store, nil, nil)
	require.NoError(t, err)
	dispatcher := &fakeDispatcher{}
	history := NewRepository(dbtest.Open(t).DB())
	svc, err := NewService(ServiceParams{
		Ledger:      ledgerSvc,
		Dispatcher:  dispatcher,
		Costs:       NewCostTable(config.GenerationConfig{GenerateCost: 1, VariationCost: 1, AnalyzeCost: 0}),
		Maintenance: maintenanceFlag(maintenance),
		History:     history,
		Now:         func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return fixture{store: store, ledger: ledgerSvc, dispatcher: dispatcher, history: history, svc: svc}
}

func (f fixture) lastJobID(t *testing.T, acc uuid.UUID) uuid.UUID {
	t.Helper()
	page, err := f.ledger.History(context.Background(), acc, pagination.Params{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	require.NotNil(t, page.Entries[0].Reason)
	fields := strings.Fields(*page.Entries[0].Reason)
	id, err := uuid.Parse(fields[len(fields)-1])
	require.NoError(t, err)
	return id
}

func (f fixture) balance(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	view, err := f.ledger.Balance(context.Background(), id)
	require.NoError(t, err)
	return view.Balance
}

func TestRequestDebitsBeforeDispatch(t *testing.T) {
	f := newFixture(t, false)
	acc := uuid.New()
	f.store.Open(acc, 3, true)

	res, err := f.svc.Request(context.Background(), Request{AccountID: acc, Operation: enums.GenerationGenerate, Prompt: " studio portrait ", IdempotencyKey: "k1"})
	require.NoError(t, err)
	require.NotNil(t, res.Balance)
	assert.Equal(t, int64(2), *res.Balance)
	assert.Equal(t, "queued", res.Status)
	require.Len(t, f.dispatcher.jobs, 1)
	assert.Equal(t, "studio portrait", f.dispatcher.jobs[0].Prompt)
	assert.Equal(t, res.JobID, f.dispatcher.jobs[0].ID)
}

// Balance 0 asks for a 1-credit generate.
func TestRequestInsufficientCreditsSkipsDispatch(t *testing.T) {
	f := newFixture(t, false)
	acc := uuid.New()
	f.store.Open(acc, 0, false)

	_, err := f.svc.Request(context.Background(), Request{AccountID: acc, Operation: enums.GenerationGenerate, IdempotencyKey: "k1"})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInsufficientCredits))
	assert.Empty(t, f.dispatcher.jobs)
	assert.Zero(t, f.balance(t, acc))
}

func TestRequestRefundsFailedDispatch(t *testing.T) {
	f := newFixture(t, false)
	acc := uuid.New()
	f.store.Open(acc, 5, true)
	f.dispatcher.err = errors.New("topic unavailable")

	_, err := f.svc.Request(context.Background(), Request{AccountID: acc, Operation: enums.GenerationVariation, IdempotencyKey: "k1"})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
	assert.Equal(t, int64(5), f.balance(t, acc))

	page, err := f.ledger.History(context.Background(), acc, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, enums.LedgerEntryOperationRefund, page.Entries[0].Kind)
	assert.Equal(t, int64(1), page.Entries[0].Delta)
	assert.Equal(t, enums.LedgerEntryDebitForOperation, page.Entries[1].Kind)
}

func TestRequestRefundsWhenClientGoesAway(t *testing.T) {
	f := newFixture(t, false)
	acc := uuid.New()
	f.store.Open(acc, 3, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.dispatcher.before = func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}

	_, err := f.svc.Request(ctx, Request{AccountID: acc, Operation: enums.GenerationGenerate, IdempotencyKey: "k1"})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
	assert.Equal(t, "generation backend unavailable", pkgerrors.As(err).Message())
	assert.Equal(t, int64(3), f.balance(t, acc))

	refunded, err := f.ledger.HasEntry(context.Background(), RefundKey(f.lastJobID(t, acc)))
	require.NoError(t, err)
	assert.True(t, refunded)
}

func TestRequestReplayDoesNotDoubleCharge(t *testing.T) {
	f := newFixture(t, false)
	acc := uuid.New()
	f.store.Open(acc, 5, true)
	req := Request{AccountID: acc, Operation: enums.GenerationGenerate, IdempotencyKey: "same"}

	_, err := f.svc.Request(context.Background(), req)
	require.NoError(t, err)
	_, err = f.svc.Request(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrDuplicateEntry))
	assert.Equal(t, int64(4), f.balance(t, acc))
	assert.Len(t, f.dispatcher.jobs, 1)
}

func TestAnalyzeIsFree(t *testing.T) {
	f := newFixture(t, false)
	acc := uuid.New()
	f.store.Open(acc, 0, false)

	res, err := f.svc.Request(context.Background(), Request{AccountID: acc, Operation: enums.GenerationAnalyze, SourceImageURL: "https://cdn.example/a.png"})
	require.NoError(t, err)
	assert.Zero(t, res.Cost)
	assert.Nil(t, res.Balance)
	assert.Len(t, f.dispatcher.jobs, 1)
}

func TestRequestRejections(t *testing.T) {
	f := newFixture(t, false)
	acc := uuid.New()
	f.store.Open(acc, 5, true)

	cases := []struct {
		name string
		req  Request
	}{
		{"unknown operation", Request{AccountID: acc, Operation: "upscale", IdempotencyKey: "k"}},
		{"missing key", Request{AccountID: acc, Operation: enums.GenerationGenerate}},
		{"missing account", Request{Operation: enums.GenerationGenerate, IdempotencyKey: "k"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Request(context.Background(), tc.req)
			assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "got %v", err)
		})
	}
	assert.Equal(t, int64(5), f.balance(t, acc))
}

func TestMaintenanceBlocksRequests(t *testing.T) {
	f := newFixture(t, true)
	acc := uuid.New()
	f.store.Open(acc, 5, true)

	_, err := f.svc.Request(context.Background(), Request{AccountID: acc, Operation: enums.GenerationGenerate, IdempotencyKey: "k"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeMaintenance))
	assert.Equal(t, int64(5), f.balance(t, acc))
}

type capturePublisher struct {
	topic string
	data  []byte
	attrs map[string]string
}

func (c *capturePublisher) Publish(_ context.Context, topic string, data []byte, attrs map[string]string) (string, error) {
	c.topic, c.data, c.attrs = topic, data, attrs
	return "msg-1", nil
}

func TestPubSubDispatcherEncodesJob(t *testing.T) {
	pub := &capturePublisher{}
	d, err := NewPubSubDispatcher(pub, "np-generation-jobs")
	require.NoError(t, err)
	job := Job{ID: uuid.New(), AccountID: uuid.New(), Operation: enums.GenerationGenerate, Cost: 1}

	require.NoError(t, d.Dispatch(context.Background(), job))
	assert.Equal(t, "np-generation-jobs", pub.topic)
	assert.Equal(t, job.ID.String(), pub.attrs["job_id"])

	var decoded Job
	require.NoError(t, json.Unmarshal(pub.data, &decoded))
	assert.Equal(t, job.ID, decoded.ID)
	assert.Equal(t, enums.GenerationGenerate, decoded.Operation)

	_, err = NewPubSubDispatcher(pub, " ")
	assert.Error(t, err)
}

func TestRequestRecordsGalleryItem(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	acc := uuid.New()
	f.store.Open(acc, 5, true)

	res, err := f.svc.Request(ctx, Request{
		AccountID:      acc,
		Operation:      enums.GenerationGenerate,
		SourceImageURL: "https://cdn.example.com/in.png",
		Style:          "studio",
		Prompt:         "soft light",
		IdempotencyKey: "g1",
	})
	require.NoError(t, err)
	_, err = f.svc.Request(ctx, Request{AccountID: acc, Operation: enums.GenerationAnalyze})
	require.NoError(t, err)
	f.dispatcher.err = errors.New("topic unavailable")
	_, err = f.svc.Request(ctx, Request{AccountID: acc, Operation: enums.GenerationVariation, IdempotencyKey: "g2"})
	require.Error(t, err)

	page, err := f.svc.Gallery(ctx, acc, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1, "only dispatched image jobs reach the gallery")
	item := page.Items[0]
	assert.Equal(t, res.JobID, item.ID)
	assert.Equal(t, "soft light", item.Prompt)
	assert.Equal(t, int64(1), item.Cost)

	other, err := f.svc.Gallery(ctx, uuid.New(), pagination.Params{})
	require.NoError(t, err)
	assert.Empty(t, other.Items)
}

func TestGalleryPagesNewestFirst(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	acc := uuid.New()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.history.Insert(ctx, &models.Generation{
			AccountID: acc,
			Operation: enums.GenerationGenerate,
			Prompt:    fmt.Sprintf("p%d", i),
			Cost:      1,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	first, err := f.svc.Gallery(ctx, acc, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "p2", first.Items[0].Prompt)
	require.NotEmpty(t, first.NextCursor)

	second, err := f.svc.Gallery(ctx, acc, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "p0", second.Items[0].Prompt)
	assert.Empty(t, second.NextCursor)

	_, err = f.svc.Gallery(ctx, acc, pagination.Params{Cursor: "%%%"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestSoftDeleteHidesGalleryItem(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	item := &models.Generation{AccountID: uuid.New(), Operation: enums.GenerationVariation, Cost: 1}
	require.NoError(t, f.history.Insert(ctx, item))

	require.NoError(t, f.history.SoftDelete(ctx, item.ID, "ops@nanophoto.app"))
	_, err := f.history.FindByID(ctx, item.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.history.SoftDelete(ctx, item.ID, "ops@nanophoto.app"), ErrNotFound)

	n, err := f.history.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	var removed models.Generation
	require.NoError(t, f.history.db.Unscoped().Where("id = ?", item.ID).Take(&removed).Error)
	require.NotNil(t, removed.DeletedBy)
	assert.Equal(t, "ops@nanophoto.app", *removed.DeletedBy)
}
