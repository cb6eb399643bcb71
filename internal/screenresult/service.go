// Package screenresult serves filtered, ordered pages of screen result rows through the
// materialized query index.
//
// A request is resolved against the dataset's field schema, planned into a base query that
// depends only on filters and ordering, materialized once per fingerprint and then read
// back page by page with whichever columns the request displays.
package screenresult

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/labscreen/screenresults/internal/apperrors"
	"github.com/labscreen/screenresults/internal/compiler"
	"github.com/labscreen/screenresults/internal/planner"
	"github.com/labscreen/screenresults/internal/schema"
	"github.com/labscreen/screenresults/internal/storage"
)

type (
	// Cache is the materialized query index.
	Cache interface {
		GetOrPopulate(ctx context.Context, req storage.PopulateRequest) (storage.PopulateResult, error)
		Rows(ctx context.Context, q planner.DisplayQuery) ([]storage.Row, error)
		EvictAll(ctx context.Context) (storage.EvictionResult, error)
		EvictByURI(ctx context.Context, uri string) (storage.EvictionResult, error)
		EvictByAge(ctx context.Context, cutoff time.Time) (storage.EvictionResult, error)
		EvictByBudget(ctx context.Context, maxRows int64) (storage.EvictionResult, error)
		Stats(ctx context.Context) (storage.CacheStats, error)
	}

	// MutualPositiveFinder finds data columns of other datasets sharing positive wells.
	MutualPositiveFinder interface {
		MutualPositives(ctx context.Context, datasetID int64) ([]int64, error)
	}

	// PositiveCounter recomputes stored positive counts after data changes.
	PositiveCounter interface {
		RecountPositives(ctx context.Context, datasetID int64) (int64, error)
	}

	// Service answers screen result row requests.
	Service struct {
		schemas  schema.Provider
		cache    Cache
		overlap  MutualPositiveFinder
		counter  PositiveCounter
		cfg      *Config
		logger   *slog.Logger
		now      func() time.Time
		backoffs func(attempt int) time.Duration
	}

	// Request is one rows request.
	Request struct {
		DatasetID   int64
		Values      url.Values
		RequestedBy string
	}

	// Page is one page of rows.
	Page struct {
		DatasetID   int64
		Fields      []schema.FieldSpec
		Rows        []storage.Row
		Total       int64
		Limit       int
		Offset      int
		Fingerprint planner.Fingerprint
	}
)

// NewService wires a Service.
func NewService(
	schemas schema.Provider,
	cache Cache,
	overlap MutualPositiveFinder,
	counter PositiveCounter,
	cfg *Config,
	logger *slog.Logger,
) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		schemas: schemas,
		cache:   cache,
		overlap: overlap,
		counter: counter,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "screenresult")),
		now:     time.Now,
	}

	s.backoffs = func(attempt int) time.Duration {
		return time.Duration(attempt) * s.cfg.RetryBackoff
	}

	return s
}

// Schema returns the field schema of a dataset, optionally extended with the mutual
// positive columns of other datasets.
func (s *Service) Schema(ctx context.Context, datasetID int64, withMutualPositives bool) (*schema.Schema, error) {
	sch, err := s.schemas.Schema(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	if withMutualPositives {
		if err := s.extendMutualPositives(ctx, sch); err != nil {
			return nil, err
		}
	}

	return sch, nil
}

// MutualPositives returns the fields of the other datasets' data columns that share
// positive wells with datasetID.
func (s *Service) MutualPositives(ctx context.Context, datasetID int64) ([]schema.FieldSpec, error) {
	if _, err := s.schemas.Schema(ctx, datasetID); err != nil {
		return nil, err
	}

	ids, err := s.overlap.MutualPositives(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	fields, _, err := s.schemas.AttributeFields(ctx, ids, schema.ScopeMutual)
	if err != nil {
		return nil, err
	}

	if fields == nil {
		fields = []schema.FieldSpec{}
	}

	return fields, nil
}

func (s *Service) extendMutualPositives(ctx context.Context, sch *schema.Schema) error {
	ids, err := s.overlap.MutualPositives(ctx, sch.Dataset.ID)
	if err != nil {
		return err
	}

	_, catalog, err := s.schemas.AttributeFields(ctx, ids, schema.ScopeMutual)
	if err != nil {
		return err
	}

	attrs := make([]schema.Attribute, 0, len(catalog))
	for _, a := range catalog {
		attrs = append(attrs, a)
	}

	sch.Extend(attrs, schema.ScopeMutual)

	return nil
}

// Rows answers a rows request.
//
// The base query is materialized at most once per fingerprint; a request whose filters
// match nothing gets an empty page and leaves nothing cached. After a new population the
// cache is trimmed by age and row budget.
func (s *Service) Rows(ctx context.Context, req Request) (*Page, error) {
	params, err := planner.ParseParams(req.Values, planner.Limits{
		DefaultLimit: s.cfg.DefaultPageSize,
		MaxLimit:     s.cfg.MaxPageSize,
	})
	if err != nil {
		return nil, err
	}

	sch, err := s.Schema(ctx, req.DatasetID, params.ShowMutualPositives)
	if err != nil {
		return nil, err
	}

	selected, err := compiler.SelectKeys(sch.Fields, schema.TagList, params.Includes)
	if err != nil {
		return nil, err
	}

	comp := compiler.New(sch.Attributes)

	columns, err := comp.Compile(sch.Fields, selected)
	if err != nil {
		return nil, err
	}

	query, err := planner.New(comp).Plan(req.DatasetID, sch, params)
	if err != nil {
		return nil, err
	}

	page := &Page{
		DatasetID:   req.DatasetID,
		Fields:      fieldsOf(columns),
		Rows:        []storage.Row{},
		Limit:       params.Limit,
		Offset:      params.Offset,
		Fingerprint: query.Fingerprint,
	}

	parameters, err := params.JSON()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize parameters: %w", err)
	}

	res, err := s.getOrPopulate(ctx, storage.PopulateRequest{
		Query:       query,
		Parameters:  parameters,
		RequestedBy: req.RequestedBy,
	})
	if errors.Is(err, apperrors.ErrEmptyResult) {
		return page, nil
	}

	if err != nil {
		return nil, err
	}

	page.Total = res.RowCount

	if params.Offset < int(res.RowCount) {
		display := planner.BuildDisplayQuery(columns, res.QueryID, req.DatasetID, params.Limit, params.Offset)

		page.Rows, err = s.cache.Rows(ctx, display)
		if err != nil {
			return nil, err
		}
	}

	if res.Created {
		s.Sweep(ctx)
	}

	return page, nil
}

// getOrPopulate retries populations that failed for transient reasons.
func (s *Service) getOrPopulate(ctx context.Context, req storage.PopulateRequest) (storage.PopulateResult, error) {
	var lastErr error

	for attempt := 0; attempt <= s.cfg.PopulateRetries; attempt++ {
		if attempt > 0 {
			s.logger.Warn("retrying base query population",
				slog.String("fingerprint", string(req.Query.Fingerprint)),
				slog.Int("attempt", attempt),
				slog.Any("error", lastErr),
			)

			select {
			case <-ctx.Done():
				return storage.PopulateResult{}, ctx.Err()
			case <-time.After(s.backoffs(attempt)):
			}
		}

		res, err := s.cache.GetOrPopulate(ctx, req)
		if err == nil || !apperrors.IsRetryable(err) {
			return res, err
		}

		lastErr = err
	}

	return storage.PopulateResult{}, lastErr
}

// Sweep evicts cached queries older than the configured max age and then trims the cache
// to the configured row budget. Failures are logged.
func (s *Service) Sweep(ctx context.Context) {
	if s.cfg.CacheMaxAge > 0 {
		if _, err := s.cache.EvictByAge(ctx, s.now().Add(-s.cfg.CacheMaxAge)); err != nil {
			s.logger.Error("age eviction failed", slog.Any("error", err))
		}
	}

	if s.cfg.CacheMaxRows > 0 {
		if _, err := s.cache.EvictByBudget(ctx, s.cfg.CacheMaxRows); err != nil {
			s.logger.Error("budget eviction failed", slog.Any("error", err))
		}
	}
}

// InvalidateDataset reacts to a change of a dataset's data: positive counts are recomputed
// and every cached query over the dataset is evicted together with the overlap index.
func (s *Service) InvalidateDataset(ctx context.Context, datasetID int64) (storage.EvictionResult, error) {
	if s.counter != nil {
		if _, err := s.counter.RecountPositives(ctx, datasetID); err != nil {
			return storage.EvictionResult{}, err
		}
	}

	res, err := s.cache.EvictByURI(ctx, planner.ResourceURI(datasetID))
	if err != nil {
		return storage.EvictionResult{}, err
	}

	s.logger.Info("dataset invalidated",
		slog.Int64("dataset_id", datasetID),
		slog.Int64("queries", res.Queries),
		slog.Int64("rows", res.Rows),
	)

	return res, nil
}

// ClearDataset evicts every cached query over a dataset without touching stored counts.
func (s *Service) ClearDataset(ctx context.Context, datasetID int64) (storage.EvictionResult, error) {
	if _, err := s.schemas.Schema(ctx, datasetID); err != nil {
		return storage.EvictionResult{}, err
	}

	return s.cache.EvictByURI(ctx, planner.ResourceURI(datasetID))
}

// ClearCache evicts every cached query and clears the overlap index.
func (s *Service) ClearCache(ctx context.Context) (storage.EvictionResult, error) {
	return s.cache.EvictAll(ctx)
}

// Stats summarizes the cache.
func (s *Service) Stats(ctx context.Context) (storage.CacheStats, error) {
	return s.cache.Stats(ctx)
}

func fieldsOf(columns compiler.Columns) []schema.FieldSpec {
	fields := make([]schema.FieldSpec, len(columns))
	for i, c := range columns {
		fields[i] = c.Field
	}

	return fields
}
