package writer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nanophoto/nanophoto-backend/internal/analytics/types"
	pkgbigquery "github.com/nanophoto/nanophoto-backend/pkg/bigquery"
)

// RowInserter streams rows into one table.
type RowInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// Config controls the ledger mirror writer. BatchSize above 1 trades
// at-least-once delivery for throughput: buffered rows are acked before
// they reach BigQuery.
type Config struct {
	LedgerTable string
	BatchSize   int
	MaxRetries  uint64
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 250 * time.Millisecond
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = max(2*time.Second, c.BaseBackoff)
	}
	return c
}

// BigQueryWriter mirrors ledger entries into BigQuery. The entry id is the
// streaming insert id, so redelivered events collapse server side.
type BigQueryWriter struct {
	client RowInserter
	cfg    Config

	mu      sync.Mutex
	pending []types.LedgerEntryRow
}

func New(client RowInserter, cfg Config) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	cfg.LedgerTable = strings.TrimSpace(cfg.LedgerTable)
	if cfg.LedgerTable == "" {
		return nil, errors.New("ledger table is required")
	}
	return &BigQueryWriter{client: client, cfg: cfg.withDefaults()}, nil
}

// LedgerTableSpec describes the mirror table, partitioned by entry time.
func LedgerTableSpec(table string) (pkgbigquery.TableSpec, error) {
	schema, err := cbigquery.InferSchema(types.LedgerEntryRow{})
	if err != nil {
		return pkgbigquery.TableSpec{}, fmt.Errorf("infer ledger schema: %w", err)
	}
	return pkgbigquery.TableSpec{Name: table, Schema: schema, PartitionField: "created_at"}, nil
}

func (w *BigQueryWriter) InsertLedgerEntry(ctx context.Context, row types.LedgerEntryRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, row)
	if len(w.pending) < w.cfg.BatchSize {
		return nil
	}
	return w.flushLocked(ctx)
}

// Flush writes buffered rows now. Called on shutdown.
func (w *BigQueryWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

func (w *BigQueryWriter) flushLocked(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	rows := make([]any, 0, len(w.pending))
	for i := range w.pending {
		row := w.pending[i]
		rows = append(rows, &cbigquery.StructSaver{Struct: &row, InsertID: row.EntryID})
	}
	// a failed batch is dropped either way; redelivery of the nacked message refills it
	w.pending = w.pending[:0]

	backoff := retry.WithMaxRetries(w.cfg.MaxRetries,
		retry.WithCappedDuration(w.cfg.MaxBackoff, retry.NewExponential(w.cfg.BaseBackoff)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := w.client.InsertRows(ctx, w.cfg.LedgerTable, rows)
		if err != nil && transient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("insert %d rows into %s: %w", len(rows), w.cfg.LedgerTable, err)
	}
	return nil
}

var transientHTTP = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var transientGRPC = map[codes.Code]bool{
	codes.Aborted:           true,
	codes.DeadlineExceeded:  true,
	codes.Internal:          true,
	codes.ResourceExhausted: true,
	codes.Unavailable:       true,
}

// transient reports whether every error inside err is worth retrying. Row
// level failures count only when all of them are transient.
func transient(err error) bool {
	if err == nil {
		return false
	}
	var multi cbigquery.MultiError
	if errors.As(err, &multi) {
		return len(multi) > 0 && allTransient([]error(multi))
	}
	var rowErrs cbigquery.PutMultiError
	if errors.As(err, &rowErrs) {
		if len(rowErrs) == 0 {
			return false
		}
		for _, rowErr := range rowErrs {
			if !allTransient([]error(rowErr.Errors)) {
				return false
			}
		}
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return transientHTTP[apiErr.Code]
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return transientGRPC[st.Code()]
	}
	return false
}

func allTransient(errs []error) bool {
	if len(errs) == 0 {
		return false
	}
	for _, err := range errs {
		if !transient(err) {
			return false
		}
	}
	return true
}
