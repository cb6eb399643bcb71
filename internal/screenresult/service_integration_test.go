package screenresult

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/labscreen/screenresults/internal/apperrors"
	"github.com/labscreen/screenresults/internal/config"
	"github.com/labscreen/screenresults/internal/schema"
	"github.com/labscreen/screenresults/internal/storage"
	"github.com/labscreen/screenresults/internal/storage/storagetest"
)

func setupService(t *testing.T) (*Service, *storagetest.Builder) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn := &storage.Connection{DB: testDB.Connection}

	cache, err := storage.NewCacheStore(conn)
	require.NoError(t, err)

	schemas, err := storage.NewSchemaStore(conn, nil)
	require.NoError(t, err)

	overlap, err := storage.NewOverlapIndex(conn, nil)
	require.NoError(t, err)

	base, err := schema.LoadBaseFields(&schema.LoaderConfig{})
	require.NoError(t, err)

	svc := NewService(schema.NewRegistry(base, schemas), cache, overlap, schemas, DefaultConfig(), nil)

	return svc, storagetest.New(ctx, t, testDB.Connection)
}

func TestRowsEndToEnd(t *testing.T) {
	svc, build := setupService(t)
	ctx := context.Background()

	datasetID := build.Dataset("D", "Dataset D")
	attrA := build.Attribute(datasetID, "A", schema.DataTypeNumeric)
	attrB := build.Attribute(datasetID, "B", schema.DataTypeText)

	build.AssayWell(datasetID, "e1")
	build.AssayWell(datasetID, "e2")
	build.Value(attrA, "e1", "1.5", true)
	build.Value(attrB, "e2", "x", true)

	query := func(raw string) Request {
		values, err := url.ParseQuery(raw)
		require.NoError(t, err)

		return Request{DatasetID: datasetID, Values: values, RequestedBy: "test"}
	}

	first, err := svc.Rows(ctx, query("dc_d_a__gt=0&order_by=well_id&includes=-dc_d_b"))
	require.NoError(t, err)

	require.Len(t, first.Rows, 1)
	assert.Equal(t, int64(1), first.Total)
	assert.Equal(t, "e1", first.Rows[0].Values["well_id"])
	assert.NotContains(t, first.Rows[0].Values, "dc_d_b")

	second, err := svc.Rows(ctx, query("dc_d_a__gt=0&order_by=well_id&includes=dc_d_b"))
	require.NoError(t, err)

	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	require.Len(t, second.Rows, 1)

	row := second.Rows[0].Values
	assert.Equal(t, "e1", row["well_id"])
	assert.InDelta(t, 1.5, row["dc_d_a"], 1e-9)
	assert.Contains(t, row, "dc_d_b")
	assert.Nil(t, row["dc_d_b"])

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Queries, "the second request reuses the cached query")

	empty, err := svc.Rows(ctx, query("dc_d_a__gt=100"))
	require.NoError(t, err)
	assert.Empty(t, empty.Rows)

	stats, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Queries, "empty results are not cached")

	res, err := svc.InvalidateDataset(ctx, datasetID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Queries)

	stats, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Queries)
}

func TestMutualPositivesEndToEnd(t *testing.T) {
	svc, build := setupService(t)
	ctx := context.Background()

	d1 := build.Dataset("D1", "First")
	d2 := build.Dataset("D2", "Second")
	hit1 := build.Attribute(d1, "Hit", schema.DataTypeBooleanPositiveIndicator)
	hit2 := build.Attribute(d2, "Hit", schema.DataTypeBooleanPositiveIndicator)

	build.AssayWell(d1, "w1")
	build.AssayWell(d2, "w1")
	build.Value(hit1, "w1", "true", true)
	build.Value(hit2, "w1", "true", true)

	fields, err := svc.MutualPositives(ctx, d1)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "dc_d2_hit", fields[0].Key)
	assert.Equal(t, schema.ScopeMutual, fields[0].Scope)

	page, err := svc.Rows(ctx, Request{
		DatasetID: d1,
		Values:    url.Values{"show_mutual_positives": {"true"}},
	})
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	assert.Contains(t, page.Rows[0].Values, "dc_d2_hit")

	// Another dataset's column never shapes a cached ordering of this one.
	_, err = svc.Rows(ctx, Request{
		DatasetID: d1,
		Values:    url.Values{"show_mutual_positives": {"true"}, "dc_d2_hit": {"true"}},
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidRequest)

	_, err = svc.Rows(ctx, Request{
		DatasetID: d1,
		Values:    url.Values{"show_mutual_positives": {"true"}, "order_by": {"dc_d2_hit"}},
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidRequest)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Queries)
}
