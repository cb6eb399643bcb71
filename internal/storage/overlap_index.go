package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labscreen/screenresults/internal/schema"
)

// OverlapIndex maps wells to the positive-indicator data columns they are positive in,
// across every screen result. It is rebuilt on first use after each clear.
type OverlapIndex struct {
	conn   *Connection
	logger *slog.Logger
}

// NewOverlapIndex creates an OverlapIndex on conn.
func NewOverlapIndex(conn *Connection, logger *slog.Logger) (*OverlapIndex, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &OverlapIndex{conn: conn, logger: logger.With(slog.String("component", "overlap_index"))}, nil
}

// EnsureBuilt rebuilds the index when it is empty. Concurrent rebuilds serialize on the
// table lock taken by TRUNCATE and produce the same contents.
func (o *OverlapIndex) EnsureBuilt(ctx context.Context) error {
	var built bool

	if err := o.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM well_data_column_positive_index)`,
	).Scan(&built); err != nil {
		return fmt.Errorf("%w: check overlap index: %w", ErrCacheStoreFailed, classify(err))
	}

	if built {
		return nil
	}

	startTime := time.Now()

	tx, err := o.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", ErrCacheStoreFailed, classify(err))
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	if _, err := tx.ExecContext(ctx, `TRUNCATE well_data_column_positive_index`); err != nil {
		return fmt.Errorf("%w: truncate overlap index: %w", ErrCacheStoreFailed, classify(err))
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO well_data_column_positive_index (well_id, data_column_id)
		SELECT DISTINCT rv.well_id, rv.data_column_id
		FROM result_value rv
		JOIN data_column dc ON dc.data_column_id = rv.data_column_id
		WHERE rv.is_positive
		  AND NOT rv.is_exclude
		  AND dc.data_type IN ($1, $2, $3)
	`,
		string(schema.DataTypePartitionPositiveIndicator),
		string(schema.DataTypeBooleanPositiveIndicator),
		string(schema.DataTypeConfirmedPositiveIndicator),
	)
	if err != nil {
		return fmt.Errorf("%w: build overlap index: %w", ErrCacheStoreFailed, classify(err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit overlap index: %w", ErrCacheStoreFailed, classify(err))
	}

	count, _ := res.RowsAffected()

	o.logger.Info("overlap index rebuilt",
		slog.Int64("rows", count),
		slog.Int64("duration_ms", time.Since(startTime).Milliseconds()),
	)

	return nil
}

// MutualPositives returns the ids of data columns of other screen results that share at
// least one positive well with a data column of datasetID, ascending.
func (o *OverlapIndex) MutualPositives(ctx context.Context, datasetID int64) ([]int64, error) {
	if err := o.EnsureBuilt(ctx); err != nil {
		return nil, err
	}

	rows, err := o.conn.QueryContext(ctx, `
		SELECT DISTINCT other.data_column_id
		FROM well_data_column_positive_index mine
		JOIN data_column mine_dc
		  ON mine_dc.data_column_id = mine.data_column_id AND mine_dc.screen_result_id = $1
		JOIN well_data_column_positive_index other
		  ON other.well_id = mine.well_id
		JOIN data_column other_dc
		  ON other_dc.data_column_id = other.data_column_id AND other_dc.screen_result_id <> $1
		ORDER BY other.data_column_id
	`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("%w: mutual positives: %w", ErrCacheStoreFailed, classify(err))
	}

	defer func() {
		_ = rows.Close()
	}()

	ids := make([]int64, 0)

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan mutual positives: %w", ErrCacheStoreFailed, err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: mutual positives: %w", ErrCacheStoreFailed, classify(err))
	}

	return ids, nil
}
