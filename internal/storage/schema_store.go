package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/labscreen/screenresults/internal/schema"
)

// ErrDatasetNotFound is returned when a screen result does not exist.
var ErrDatasetNotFound = errors.New("screen result not found")

// Compile-time check that SchemaStore can back the schema registry.
var _ schema.AttributeSource = (*SchemaStore)(nil)

// SchemaStore reads screen results and their data columns.
type SchemaStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewSchemaStore creates a SchemaStore on conn.
func NewSchemaStore(conn *Connection, logger *slog.Logger) (*SchemaStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &SchemaStore{conn: conn, logger: logger.With(slog.String("component", "schema_store"))}, nil
}

// Dataset returns the screen result with the id, or ErrDatasetNotFound.
func (s *SchemaStore) Dataset(ctx context.Context, datasetID int64) (schema.Dataset, error) {
	var d schema.Dataset

	err := s.conn.QueryRowContext(ctx, `
		SELECT sr.screen_result_id, s.facility_id, s.title
		FROM screen_result sr
		JOIN screen s ON s.screen_id = sr.screen_id
		WHERE sr.screen_result_id = $1
	`, datasetID).Scan(&d.ID, &d.FacilityID, &d.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.Dataset{}, fmt.Errorf("%w: %d", ErrDatasetNotFound, datasetID)
	}

	if err != nil {
		return schema.Dataset{}, fmt.Errorf("failed to load screen result %d: %w", datasetID, classify(err))
	}

	return d, nil
}

const attributeColumns = `
	dc.data_column_id, dc.screen_result_id, s.facility_id, dc.name, dc.description, dc.data_type,
	dc.ordinal, dc.decimal_places, dc.positives_count, dc.strong_positives_count,
	dc.medium_positives_count, dc.weak_positives_count
`

// DatasetAttributes returns the data columns of a screen result in ordinal order.
func (s *SchemaStore) DatasetAttributes(ctx context.Context, datasetID int64) ([]schema.Attribute, error) {
	return s.queryAttributes(ctx, `
		SELECT `+attributeColumns+`
		FROM data_column dc
		JOIN screen_result sr ON sr.screen_result_id = dc.screen_result_id
		JOIN screen s ON s.screen_id = sr.screen_id
		WHERE dc.screen_result_id = $1
		ORDER BY dc.ordinal, dc.data_column_id
	`, datasetID)
}

// Attributes returns the data columns with the given ids, ordered by screen and ordinal.
func (s *SchemaStore) Attributes(ctx context.Context, ids []int64) ([]schema.Attribute, error) {
	if len(ids) == 0 {
		return []schema.Attribute{}, nil
	}

	return s.queryAttributes(ctx, `
		SELECT `+attributeColumns+`
		FROM data_column dc
		JOIN screen_result sr ON sr.screen_result_id = dc.screen_result_id
		JOIN screen s ON s.screen_id = sr.screen_id
		WHERE dc.data_column_id = ANY($1)
		ORDER BY s.facility_id, dc.ordinal, dc.data_column_id
	`, pq.Array(ids))
}

func (s *SchemaStore) queryAttributes(ctx context.Context, query string, args ...any) ([]schema.Attribute, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query data columns: %w", classify(err))
	}

	defer func() {
		_ = rows.Close()
	}()

	attrs := make([]schema.Attribute, 0)

	for rows.Next() {
		var (
			a        schema.Attribute
			dataType string
		)

		if err := rows.Scan(
			&a.ID, &a.DatasetID, &a.FacilityID, &a.Name, &a.Description, &dataType,
			&a.Ordinal, &a.DecimalPlaces, &a.PositivesCount, &a.StrongPositivesCount,
			&a.MediumPositivesCount, &a.WeakPositivesCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan data column: %w", err)
		}

		a.DataType = schema.DataType(dataType)
		attrs = append(attrs, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query data columns: %w", classify(err))
	}

	return attrs, nil
}

// Partition codes of partition positive indicators.
const (
	partitionStrong = "S"
	partitionMedium = "M"
	partitionWeak   = "W"
)

// RecountPositives recomputes the positive counts of every data column of a screen result
// from its non-excluded result values and returns the number of columns updated.
func (s *SchemaStore) RecountPositives(ctx context.Context, datasetID int64) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE data_column dc SET
			positives_count = c.positives,
			strong_positives_count = c.strong,
			medium_positives_count = c.medium,
			weak_positives_count = c.weak
		FROM (
			SELECT d.data_column_id,
				count(rv.result_value_id) FILTER (WHERE rv.is_positive) AS positives,
				count(rv.result_value_id) FILTER (WHERE rv.is_positive AND d.data_type = $2 AND rv.value = $3) AS strong,
				count(rv.result_value_id) FILTER (WHERE rv.is_positive AND d.data_type = $2 AND rv.value = $4) AS medium,
				count(rv.result_value_id) FILTER (WHERE rv.is_positive AND d.data_type = $2 AND rv.value = $5) AS weak
			FROM data_column d
			LEFT JOIN result_value rv ON rv.data_column_id = d.data_column_id AND NOT rv.is_exclude
			WHERE d.screen_result_id = $1
			GROUP BY d.data_column_id
		) c
		WHERE dc.data_column_id = c.data_column_id
	`, datasetID, string(schema.DataTypePartitionPositiveIndicator), partitionStrong, partitionMedium, partitionWeak)
	if err != nil {
		return 0, fmt.Errorf("failed to recount positives of screen result %d: %w", datasetID, classify(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	s.logger.Info("positives recounted",
		slog.Int64("dataset_id", datasetID),
		slog.Int64("data_columns", n),
	)

	return n, nil
}
