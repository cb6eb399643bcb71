package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Eviction modes, used in logs.
const (
	evictAll    = "all"
	evictURI    = "uri"
	evictAge    = "age"
	evictBudget = "budget"
)

// EvictAll removes every cached query and clears the positive overlap index.
func (s *CacheStore) EvictAll(ctx context.Context) (EvictionResult, error) {
	return s.evict(ctx, evictAll, true, `SELECT id FROM cached_query`)
}

// EvictByURI removes the cached queries registered under uri, or under any path below it,
// and clears the positive overlap index.
func (s *CacheStore) EvictByURI(ctx context.Context, uri string) (EvictionResult, error) {
	uri = strings.TrimRight(uri, "/")
	if uri == "" {
		return EvictionResult{}, fmt.Errorf("%w: empty resource uri", ErrInvalidEviction)
	}

	return s.evict(ctx, evictURI, true,
		`SELECT id FROM cached_query WHERE resource_uri = $1 OR resource_uri LIKE $2`,
		uri, escapeLike(uri)+"/%")
}

// EvictByAge removes cached queries created before cutoff.
func (s *CacheStore) EvictByAge(ctx context.Context, cutoff time.Time) (EvictionResult, error) {
	return s.evict(ctx, evictAge, false,
		`SELECT id FROM cached_query WHERE created_at < $1`, cutoff)
}

// EvictByBudget keeps the newest cached queries whose row counts fit in maxRows. Walking
// from newest to oldest, the first query that would take the running total past maxRows is
// evicted together with every older one.
func (s *CacheStore) EvictByBudget(ctx context.Context, maxRows int64) (EvictionResult, error) {
	if maxRows < 0 {
		return EvictionResult{}, fmt.Errorf("%w: negative row budget %d", ErrInvalidEviction, maxRows)
	}

	return s.evict(ctx, evictBudget, false, `
		SELECT id FROM (
			SELECT id, sum(coalesce(row_count, 0)) OVER (
				ORDER BY created_at DESC, id DESC
				ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW
			) AS running_total
			FROM cached_query
		) walked
		WHERE running_total > $1
	`, maxRows)
}

func (s *CacheStore) evict(
	ctx context.Context,
	mode string,
	clearOverlap bool,
	selectQuery string,
	args ...any,
) (EvictionResult, error) {
	startTime := time.Now()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return EvictionResult{}, fmt.Errorf("%w: failed to begin transaction: %w", ErrCacheStoreFailed, classify(err))
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	ids, err := selectIDs(ctx, tx, selectQuery, args...)
	if err != nil {
		return EvictionResult{}, fmt.Errorf("%w: select %s eviction: %w", ErrCacheStoreFailed, mode, err)
	}

	result, err := deleteQueries(ctx, tx, ids)
	if err != nil {
		return EvictionResult{}, fmt.Errorf("%w: %s eviction: %w", ErrCacheStoreFailed, mode, err)
	}

	if clearOverlap {
		if err := clearOverlapIndex(ctx, tx); err != nil {
			return EvictionResult{}, fmt.Errorf("%w: clear overlap index: %w", ErrCacheStoreFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return EvictionResult{}, fmt.Errorf("%w: commit %s eviction: %w", ErrCacheStoreFailed, mode, classify(err))
	}

	if result.Queries > 0 || clearOverlap {
		s.logger.Info("cache evicted",
			slog.String("mode", mode),
			slog.Int64("queries", result.Queries),
			slog.Int64("rows", result.Rows),
			slog.Bool("overlap_index_cleared", clearOverlap),
			slog.Int64("duration_ms", time.Since(startTime).Milliseconds()),
		)
	}

	return result, nil
}

func clearOverlapIndex(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM well_data_column_positive_index`)

	return classify(err)
}

// escapeLike escapes LIKE wildcards using the default backslash escape.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
