package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/labscreen/screenresults/internal/apperrors"
	"github.com/labscreen/screenresults/internal/planner"
)

// Sentinel errors for cache storage operations.
var (
	// ErrCachedQueryNotFound is returned when no populated cached query has the fingerprint.
	ErrCachedQueryNotFound = errors.New("cached query not found")

	// ErrCacheStoreFailed is returned when a cache operation fails.
	ErrCacheStoreFailed = errors.New("cache store operation failed")

	// ErrInvalidEviction is returned for eviction arguments that select nothing meaningful.
	ErrInvalidEviction = errors.New("invalid eviction argument")
)

const defaultSlowPopulateThreshold = time.Second

type (
	// CacheStore persists the materialized ordering of base queries.
	//
	// A cached query is created, filled and marked populated inside one transaction, so
	// other sessions only ever see it absent or populated. The unique fingerprint constraint
	// is the only guard between concurrent populations of the same query.
	CacheStore struct {
		conn                  *Connection
		logger                *slog.Logger
		slowPopulateThreshold time.Duration
	}

	// CacheStoreOption configures optional CacheStore behavior.
	CacheStoreOption func(*CacheStore)

	// CachedQuery is a populated cached query record.
	CachedQuery struct {
		ID           int64
		Fingerprint  planner.Fingerprint
		CanonicalSQL string
		ResourceURI  string
		Parameters   json.RawMessage
		RequestedBy  string
		CreatedAt    time.Time
		RowCount     int64
	}

	// PopulateRequest asks for a base query to be materialized.
	PopulateRequest struct {
		Query       *planner.BaseQuery
		Parameters  []byte
		RequestedBy string
	}

	// PopulateResult reports the outcome of a population. A query matching no rows is not
	// cached: Created is false and QueryID and RowCount are zero.
	PopulateResult struct {
		QueryID  int64
		RowCount int64
		Created  bool
	}

	// EvictionResult counts what an eviction removed.
	EvictionResult struct {
		Queries int64
		Rows    int64
	}

	// CacheStats summarizes the cache.
	CacheStats struct {
		Queries int64
		Rows    int64
		Oldest  *time.Time
	}

	// Row is one display row: the recorded ordinal and the value of each selected field.
	Row struct {
		Ordinal int64
		Values  map[string]any
	}
)

// WithSlowPopulateThreshold sets the duration above which a population is logged as slow.
func WithSlowPopulateThreshold(d time.Duration) CacheStoreOption {
	return func(s *CacheStore) {
		s.slowPopulateThreshold = d
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(l *slog.Logger) CacheStoreOption {
	return func(s *CacheStore) {
		s.logger = l.With(slog.String("component", "cache"))
	}
}

// NewCacheStore creates a CacheStore on conn.
func NewCacheStore(conn *Connection, opts ...CacheStoreOption) (*CacheStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	s := &CacheStore{
		conn:                  conn,
		logger:                slog.Default().With(slog.String("component", "cache")),
		slowPopulateThreshold: defaultSlowPopulateThreshold,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// HealthCheck verifies the database connection.
func (s *CacheStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// Lookup returns the populated cached query with the fingerprint, or ErrCachedQueryNotFound.
func (s *CacheStore) Lookup(ctx context.Context, fingerprint planner.Fingerprint) (*CachedQuery, error) {
	query := `
		SELECT id, fingerprint, canonical_sql, resource_uri, parameters, requested_by, created_at, row_count
		FROM cached_query
		WHERE fingerprint = $1 AND row_count IS NOT NULL
	`

	var (
		cq         CachedQuery
		fp         string
		parameters []byte
	)

	err := s.conn.QueryRowContext(ctx, query, string(fingerprint)).Scan(
		&cq.ID, &fp, &cq.CanonicalSQL, &cq.ResourceURI, &parameters,
		&cq.RequestedBy, &cq.CreatedAt, &cq.RowCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCachedQueryNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w: lookup: %w", ErrCacheStoreFailed, classify(err))
	}

	cq.Fingerprint = planner.Fingerprint(fp)
	cq.Parameters = parameters

	return &cq, nil
}

// Populate materializes req.Query in one transaction: it registers the cached query, writes
// the ordered well ids and records the row count. A query matching no rows is rolled back
// and reported with Created false. Losing a race to another session populating the same
// fingerprint fails with apperrors.ErrConcurrentPopulation.
func (s *CacheStore) Populate(ctx context.Context, req PopulateRequest) (PopulateResult, error) {
	startTime := time.Now()
	q := req.Query

	parameters := "{}"
	if len(req.Parameters) > 0 {
		parameters = string(req.Parameters)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return PopulateResult{}, fmt.Errorf("%w: failed to begin transaction: %w", ErrCacheStoreFailed, classify(err))
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	var queryID int64

	err = tx.QueryRowContext(ctx, `
		INSERT INTO cached_query (fingerprint, canonical_sql, resource_uri, parameters, requested_by)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		RETURNING id
	`, string(q.Fingerprint), q.Canonical, q.ResourceURI, parameters, req.RequestedBy).Scan(&queryID)
	if err != nil {
		err = classify(err)
		if errors.Is(err, apperrors.ErrConcurrentPopulation) {
			s.logger.Debug("concurrent population detected",
				slog.String("fingerprint", string(q.Fingerprint)))

			return PopulateResult{}, err
		}

		return PopulateResult{}, fmt.Errorf("%w: register query: %w", ErrCacheStoreFailed, err)
	}

	populateSQL, args := q.PopulateSQL(queryID)

	res, err := tx.ExecContext(ctx, populateSQL, args...)
	if err != nil {
		return PopulateResult{}, fmt.Errorf("%w: populate index: %w", ErrCacheStoreFailed, classify(err))
	}

	rowCount, err := res.RowsAffected()
	if err != nil {
		return PopulateResult{}, fmt.Errorf("%w: populate index: %w", ErrCacheStoreFailed, err)
	}

	if rowCount == 0 {
		if err := tx.Rollback(); err != nil {
			return PopulateResult{}, fmt.Errorf("%w: rollback empty population: %w", ErrCacheStoreFailed, classify(err))
		}

		s.logger.Debug("base query matched no rows, not cached",
			slog.String("fingerprint", string(q.Fingerprint)),
			slog.String("resource_uri", q.ResourceURI),
		)

		return PopulateResult{}, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE cached_query SET row_count = $2 WHERE id = $1`, queryID, rowCount); err != nil {
		return PopulateResult{}, fmt.Errorf("%w: record row count: %w", ErrCacheStoreFailed, classify(err))
	}

	if err := tx.Commit(); err != nil {
		return PopulateResult{}, fmt.Errorf("%w: commit: %w", ErrCacheStoreFailed, classify(err))
	}

	elapsed := time.Since(startTime)
	attrs := []any{
		slog.Int64("query_id", queryID),
		slog.String("fingerprint", string(q.Fingerprint)),
		slog.String("resource_uri", q.ResourceURI),
		slog.Int64("row_count", rowCount),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	}

	if s.slowPopulateThreshold > 0 && elapsed > s.slowPopulateThreshold {
		s.logger.Warn("slow base query population", attrs...)
	} else {
		s.logger.Info("cached query populated", attrs...)
	}

	return PopulateResult{QueryID: queryID, RowCount: rowCount, Created: true}, nil
}

// GetOrPopulate returns the cached query for req.Query, populating it when absent. When
// another session wins the population race the winner's record is returned. A query
// matching no rows fails with apperrors.ErrEmptyResult.
func (s *CacheStore) GetOrPopulate(ctx context.Context, req PopulateRequest) (PopulateResult, error) {
	cq, err := s.Lookup(ctx, req.Query.Fingerprint)
	if err == nil {
		return PopulateResult{QueryID: cq.ID, RowCount: cq.RowCount}, nil
	}

	if !errors.Is(err, ErrCachedQueryNotFound) {
		return PopulateResult{}, err
	}

	res, err := s.Populate(ctx, req)

	switch {
	case errors.Is(err, apperrors.ErrConcurrentPopulation):
		cq, err := s.Lookup(ctx, req.Query.Fingerprint)
		if errors.Is(err, ErrCachedQueryNotFound) {
			// The winner's record was evicted before it could be read.
			return PopulateResult{}, fmt.Errorf("%w: cached query %s vanished after concurrent population",
				apperrors.ErrTransactionFailure, req.Query.Fingerprint)
		}

		if err != nil {
			return PopulateResult{}, err
		}

		return PopulateResult{QueryID: cq.ID, RowCount: cq.RowCount}, nil

	case err != nil:
		return PopulateResult{}, err

	case !res.Created:
		return res, apperrors.ErrEmptyResult

	default:
		return res, nil
	}
}

// Rows runs a display query.
func (s *CacheStore) Rows(ctx context.Context, q planner.DisplayQuery) ([]Row, error) {
	rows, err := s.conn.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("%w: display query: %w", ErrCacheStoreFailed, classify(err))
	}

	defer func() {
		_ = rows.Close()
	}()

	out := make([]Row, 0)

	for rows.Next() {
		var ordinal int64

		values := make([]any, len(q.Keys))
		dest := make([]any, 0, len(q.Keys)+1)
		dest = append(dest, &ordinal)

		for i := range values {
			dest = append(dest, &values[i])
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("%w: scan display row: %w", ErrCacheStoreFailed, err)
		}

		row := Row{Ordinal: ordinal, Values: make(map[string]any, len(q.Keys))}
		for i, key := range q.Keys {
			row.Values[key] = normalizeValue(values[i])
		}

		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: display query: %w", ErrCacheStoreFailed, classify(err))
	}

	return out, nil
}

func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}

	return v
}

// Stats summarizes the populated cache.
func (s *CacheStore) Stats(ctx context.Context) (CacheStats, error) {
	var (
		stats  CacheStats
		oldest sql.NullTime
	)

	err := s.conn.QueryRowContext(ctx, `
		SELECT count(*), coalesce(sum(row_count), 0), min(created_at)
		FROM cached_query
		WHERE row_count IS NOT NULL
	`).Scan(&stats.Queries, &stats.Rows, &oldest)
	if err != nil {
		return CacheStats{}, fmt.Errorf("%w: stats: %w", ErrCacheStoreFailed, classify(err))
	}

	if oldest.Valid {
		stats.Oldest = &oldest.Time
	}

	return stats, nil
}

// selectIDs collects the ids returned by query inside tx.
func selectIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var ids []int64

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, classify(rows.Err())
}

// deleteQueries removes cached queries and their index rows. It is the single delete path
// of every eviction mode.
func deleteQueries(ctx context.Context, tx *sql.Tx, ids []int64) (EvictionResult, error) {
	if len(ids) == 0 {
		return EvictionResult{}, nil
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM well_query_index WHERE query_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return EvictionResult{}, classify(err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return EvictionResult{}, err
	}

	res, err = tx.ExecContext(ctx, `DELETE FROM cached_query WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return EvictionResult{}, classify(err)
	}

	queries, err := res.RowsAffected()
	if err != nil {
		return EvictionResult{}, err
	}

	return EvictionResult{Queries: queries, Rows: rows}, nil
}
