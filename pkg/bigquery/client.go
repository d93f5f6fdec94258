package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/nanophoto/nanophoto-backend/pkg/config"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
)

const metadataTimeout = 10 * time.Second

var (
	ErrNotInitialized = errors.New("bigquery client not initialized")
	ErrTableMissing   = errors.New("bigquery table does not exist")
)

// TableSpec describes a mirror table the worker streams into.
type TableSpec struct {
	Name   string
	Schema bigquery.Schema
	// PartitionField is a TIMESTAMP column used for daily partitioning.
	PartitionField string
}

// Client is a dataset-scoped BigQuery handle.
type Client struct {
	client        *bigquery.Client
	dataset       *bigquery.Dataset
	createMissing bool
	location      string
	logg          *logger.Logger

	mu     sync.RWMutex
	tables map[string]struct{}
}

func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errors.New("gcp project id is required")
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errors.New("bigquery dataset is required")
	}

	bq, err := bigquery.NewClient(ctx, projectID, credentialOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	if logg == nil {
		logg = logger.Nop()
	}
	c := &Client{
		client:        bq,
		dataset:       bq.Dataset(datasetID),
		createMissing: cfg.CreateMissing,
		location:      strings.TrimSpace(cfg.Location),
		logg:          logg,
		tables:        map[string]struct{}{},
	}
	if err := c.ensureDataset(ctx); err != nil {
		_ = bq.Close()
		return nil, err
	}
	logg.Info(logg.WithFields(ctx, map[string]any{"project": projectID, "dataset": datasetID}), "bigquery client initialized")
	return c, nil
}

func credentialOptions(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func (c *Client) ensureDataset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	_, err := c.dataset.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
	}
	if !c.createMissing {
		return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
	}
	if err := c.dataset.Create(ctx, &bigquery.DatasetMetadata{Location: c.location}); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("creating dataset %q: %w", c.dataset.DatasetID, err)
	}
	c.logg.Info(c.logg.WithField(ctx, "dataset", c.dataset.DatasetID), "bigquery dataset created")
	return nil
}

// EnsureTable verifies spec's table exists, creating it when the client was
// configured to. Only ensured tables accept inserts.
func (c *Client) EnsureTable(ctx context.Context, spec TableSpec) error {
	if c == nil || c.client == nil {
		return ErrNotInitialized
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return errors.New("bigquery table name is required")
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	table := c.dataset.Table(name)
	_, err := table.Metadata(ctx)
	switch {
	case err == nil:
	case !isNotFound(err):
		return fmt.Errorf("checking table %q: %w", name, err)
	case !c.createMissing:
		return fmt.Errorf("%w: %s.%s", ErrTableMissing, c.dataset.DatasetID, name)
	default:
		if err := table.Create(ctx, tableMetadata(spec)); err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("creating table %q: %w", name, err)
		}
		c.logg.Info(c.logg.WithField(ctx, "table", name), "bigquery table created")
	}

	c.mu.Lock()
	c.tables[name] = struct{}{}
	c.mu.Unlock()
	return nil
}

func tableMetadata(spec TableSpec) *bigquery.TableMetadata {
	meta := &bigquery.TableMetadata{Schema: spec.Schema}
	if field := strings.TrimSpace(spec.PartitionField); field != "" {
		meta.TimePartitioning = &bigquery.TimePartitioning{Type: bigquery.DayPartitioningType, Field: field}
	}
	return meta
}

// Ping re-reads the metadata of the dataset and every ensured table.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return ErrNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	if _, err := c.dataset.Metadata(ctx); err != nil {
		return fmt.Errorf("dataset %q: %w", c.dataset.DatasetID, err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name := range c.tables {
		if _, err := c.dataset.Table(name).Metadata(ctx); err != nil {
			return fmt.Errorf("table %q: %w", name, err)
		}
	}
	return nil
}

// InsertRows streams rows into an ensured table. Rows should be
// bigquery.ValueSaver values carrying an insert id.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.client == nil {
		return ErrNotInitialized
	}
	if len(rows) == 0 {
		return nil
	}
	c.mu.RLock()
	_, ensured := c.tables[table]
	c.mu.RUnlock()
	if !ensured {
		return fmt.Errorf("table %q was not ensured", table)
	}
	return c.dataset.Table(table).Inserter().Put(ctx, rows)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}
