// Package storagetest builds screen result fixtures for integration tests.
package storagetest

import (
	"context"
	"database/sql"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/labscreen/screenresults/internal/schema"
)

// Builder inserts fixture rows, failing the test on any error.
type Builder struct {
	ctx context.Context
	t   *testing.T
	db  *sql.DB
}

// New creates a Builder writing to db.
func New(ctx context.Context, t *testing.T, db *sql.DB) *Builder {
	t.Helper()

	return &Builder{ctx: ctx, t: t, db: db}
}

// Dataset creates a screen and its screen result and returns the screen result id.
func (b *Builder) Dataset(facilityID, title string) int64 {
	b.t.Helper()

	var screenID, datasetID int64

	err := b.db.QueryRowContext(b.ctx,
		`INSERT INTO screen (facility_id, title) VALUES ($1, $2) RETURNING screen_id`,
		facilityID, title,
	).Scan(&screenID)
	require.NoError(b.t, err)

	err = b.db.QueryRowContext(b.ctx,
		`INSERT INTO screen_result (screen_id) VALUES ($1) RETURNING screen_result_id`,
		screenID,
	).Scan(&datasetID)
	require.NoError(b.t, err)

	return datasetID
}

// Well creates a well unless it exists.
func (b *Builder) Well(wellID string, plate int, name string) {
	b.t.Helper()

	_, err := b.db.ExecContext(b.ctx, `
		INSERT INTO well (well_id, plate_number, well_name, vendor_name, vendor_identifier)
		VALUES ($1, $2, $3, 'Vendor', $1)
		ON CONFLICT (well_id) DO NOTHING
	`, wellID, plate, name)
	require.NoError(b.t, err)
}

// AssayWell adds a well to a dataset, creating the well on plate 1 if needed.
func (b *Builder) AssayWell(datasetID int64, wellID string) {
	b.t.Helper()

	b.Well(wellID, 1, wellID)

	_, err := b.db.ExecContext(b.ctx,
		`INSERT INTO assay_well (screen_result_id, well_id) VALUES ($1, $2)`,
		datasetID, wellID,
	)
	require.NoError(b.t, err)
}

// Attribute creates a data column appended after the dataset's existing columns.
func (b *Builder) Attribute(datasetID int64, name string, dataType schema.DataType) int64 {
	b.t.Helper()

	var id int64

	err := b.db.QueryRowContext(b.ctx, `
		INSERT INTO data_column (screen_result_id, ordinal, name, data_type)
		VALUES ($1, (SELECT count(*) FROM data_column WHERE screen_result_id = $1), $2, $3)
		RETURNING data_column_id
	`, datasetID, name, string(dataType)).Scan(&id)
	require.NoError(b.t, err)

	return id
}

// Value records the value of a data column for a well. Values that parse as numbers are
// also stored numerically.
func (b *Builder) Value(attributeID int64, wellID, value string, positive bool) {
	b.t.Helper()

	b.insertValue(attributeID, wellID, 0, value, positive)
}

// ListValue records the elements of a list data column for a well, in order.
func (b *Builder) ListValue(attributeID int64, wellID string, values ...string) {
	b.t.Helper()

	for i, v := range values {
		b.insertValue(attributeID, wellID, i, v, false)
	}
}

func (b *Builder) insertValue(attributeID int64, wellID string, ordinal int, value string, positive bool) {
	b.t.Helper()

	var numeric sql.NullFloat64
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		numeric = sql.NullFloat64{Float64: f, Valid: true}
	}

	_, err := b.db.ExecContext(b.ctx, `
		INSERT INTO result_value (data_column_id, well_id, ordinal, value, numeric_value, is_positive)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, attributeID, wellID, ordinal, value, numeric, positive)
	require.NoError(b.t, err)
}

// Count returns the number of rows of a table.
func (b *Builder) Count(table string) int64 {
	b.t.Helper()

	var n int64

	err := b.db.QueryRowContext(b.ctx, `SELECT count(*) FROM `+table).Scan(&n) //nolint:gosec // fixed table names
	require.NoError(b.t, err)

	return n
}
