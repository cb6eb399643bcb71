package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labscreen/screenresults/internal/apperrors"
	"github.com/labscreen/screenresults/internal/compiler"
	"github.com/labscreen/screenresults/internal/schema"
)

const testDataset = 7

type fieldMap map[string]schema.FieldSpec

func (m fieldMap) Field(key string) (schema.FieldSpec, bool) {
	f, ok := m[key]
	return f, ok
}

func testFields() fieldMap {
	fields := []schema.FieldSpec{
		{Key: "well_id", Storage: schema.StorageBaseColumn, Column: "w.well_id", ValueKind: schema.KindNumeric, Filterable: true, Sortable: true},
		{Key: "plate_number", Storage: schema.StorageBaseColumn, Column: "w.plate_number", ValueKind: schema.KindNumeric, Filterable: true, Sortable: true},
		{Key: "vendor", Storage: schema.StorageComputed, Expression: "w.vendor_name", ValueKind: schema.KindText},
		{Key: "dc_1_a", Storage: schema.StorageAttributeLookup, AttributeID: 10, ValueKind: schema.KindNumeric, Filterable: true, Sortable: true},
		{Key: "dc_1_b", Storage: schema.StorageAttributeLookup, AttributeID: 11, ValueKind: schema.KindText, Filterable: true, Sortable: true},
		{Key: "dc_1_hit", Storage: schema.StorageAttributeLookup, AttributeID: 12, ValueKind: schema.KindBoolean, Filterable: true, Sortable: true},
		{Key: "dc_1_syn", Storage: schema.StorageAggregatedList, AttributeID: 13, ValueKind: schema.KindList, Filterable: true},
		{Key: "dc_2_hit", Storage: schema.StorageAttributeLookup, AttributeID: 20, ValueKind: schema.KindBoolean, Filterable: true, Sortable: true, Scope: schema.ScopeMutual},
	}

	m := make(fieldMap, len(fields))
	for _, f := range fields {
		m[f.Key] = f
	}

	return m
}

func testPlanner() *Planner {
	return New(compiler.New(schema.NewCatalog(
		schema.Attribute{ID: 10, DataType: schema.DataTypeNumeric},
		schema.Attribute{ID: 11, DataType: schema.DataTypeText},
		schema.Attribute{ID: 12, DataType: schema.DataTypeBooleanPositiveIndicator},
		schema.Attribute{ID: 13, DataType: schema.DataTypeList},
		schema.Attribute{ID: 20, DatasetID: 2, DataType: schema.DataTypeBooleanPositiveIndicator},
	)))
}

func plan(t *testing.T, datasetID int64, query string) *BaseQuery {
	t.Helper()

	values, err := url.ParseQuery(query)
	require.NoError(t, err)

	params, err := ParseParams(values, Limits{DefaultLimit: 25})
	require.NoError(t, err)

	q, err := testPlanner().Plan(datasetID, testFields(), params)
	require.NoError(t, err)

	return q
}

func TestCanonicalGolden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	tests := []struct {
		name   string
		values url.Values
	}{
		{
			name:   "no_filter",
			values: url.Values{},
		},
		{
			name:   "simple_filter",
			values: url.Values{"dc_1_a__gt": {"0"}, "order_by": {"well_id"}},
		},
		{
			name: "compound_filter",
			values: url.Values{
				"dc_1_b__in":           {"z,a,z"},
				"-plate_number__range": {"1,3"},
				"dc_1_b__icontains":    {"50%_x"},
				"order_by":             {"-dc_1_a,plate_number"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := ParseParams(tt.values, Limits{})
			require.NoError(t, err)

			q, err := testPlanner().Plan(testDataset, testFields(), params)
			require.NoError(t, err)

			g.Assert(t, tt.name, []byte(q.Canonical))
			assert.Equal(t, Hash(q.Canonical), q.Fingerprint)
		})
	}
}

func TestHash(t *testing.T) {
	sum := sha256.Sum256([]byte("screenresults/base-query/v1\x00SELECT 1"))
	assert.Equal(t, Fingerprint(hex.EncodeToString(sum[:])), Hash("SELECT 1"))
	assert.NotEqual(t, Hash("SELECT 1"), Hash("SELECT 2"))
}

func TestFingerprintStability(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"equivalent numbers", "dc_1_a__gt=0", "dc_1_a__gt=0.00"},
		{"negative zero", "dc_1_a__gt=-0", "dc_1_a__gt=0"},
		{"exponent", "dc_1_a__lt=1500", "dc_1_a__lt=1.5e3"},
		{"in set order and duplicates", "dc_1_b__in=z,a", "dc_1_b__in=a,z,a"},
		{"numeric in set order", "plate_number__in=10,9", "plate_number__in=9,10"},
		{"filter order", "dc_1_a__gt=0&dc_1_b__eq=x", "dc_1_b__eq=x&dc_1_a__gt=0"},
		{"repeated filter", "dc_1_a__gt=0&dc_1_a__gt=0", "dc_1_a__gt=0"},
		{"unicode normalization", "dc_1_b__eq=caf%C3%A9", "dc_1_b__eq=cafe%CC%81"},
		{"bare key equality", "dc_1_b=x", "dc_1_b__eq=x"},
		{"boolean spelling", "dc_1_hit__eq=yes", "dc_1_hit__eq=true"},
		{"display parameters", "dc_1_a__gt=0&includes=dc_1_b&limit=5&offset=10", "dc_1_a__gt=0&includes=*&limit=50"},
		{"explicit tiebreaker", "order_by=dc_1_a", "order_by=dc_1_a,well_id"},
		{"repeated order key", "order_by=dc_1_a,-dc_1_a", "order_by=dc_1_a"},
		{"mutual positives toggle", "show_mutual_positives=true", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := plan(t, testDataset, tt.a)
			b := plan(t, testDataset, tt.b)

			assert.Equal(t, a.Canonical, b.Canonical)
			assert.Equal(t, a.Fingerprint, b.Fingerprint)
		})
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := plan(t, testDataset, "dc_1_a__gt=0&order_by=well_id")

	tests := []struct {
		name    string
		dataset int64
		query   string
	}{
		{"value", testDataset, "dc_1_a__gt=1&order_by=well_id"},
		{"operator", testDataset, "dc_1_a__gte=0&order_by=well_id"},
		{"field", testDataset, "plate_number__gt=0&order_by=well_id"},
		{"negation", testDataset, "-dc_1_a__gt=0&order_by=well_id"},
		{"extra filter", testDataset, "dc_1_a__gt=0&dc_1_b__eq=x&order_by=well_id"},
		{"direction", testDataset, "dc_1_a__gt=0&order_by=-well_id"},
		{"order key", testDataset, "dc_1_a__gt=0&order_by=plate_number"},
		{"dataset", testDataset + 1, "dc_1_a__gt=0&order_by=well_id"},
	}

	seen := map[Fingerprint]string{base.Fingerprint: "base"}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := plan(t, tt.dataset, tt.query)
			assert.NotEqual(t, base.Fingerprint, q.Fingerprint)

			prev, dup := seen[q.Fingerprint]
			assert.False(t, dup, "collides with %s", prev)
			seen[q.Fingerprint] = tt.name
		})
	}
}

func TestPlanInvalidRequest(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantKey string
	}{
		{"unknown filter field", "nope__gt=1", "nope__gt"},
		{"not filterable", "vendor__eq=x", "vendor__eq"},
		{"not a number", "dc_1_a__gt=abc", "dc_1_a__gt"},
		{"not a number in set", "dc_1_a__in=1,x", "dc_1_a__in"},
		{"not a boolean", "dc_1_hit__eq=maybe", "dc_1_hit__eq"},
		{"bad range bound", "dc_1_a__range=1,z", "dc_1_a__range"},
		{"match on numeric field", "dc_1_a__contains=1", "dc_1_a__contains"},
		{"negated unknown field", "-nope__eq=1", "-nope__eq"},
		{"unknown order field", "order_by=nope", "order_by"},
		{"not sortable", "order_by=dc_1_syn", "order_by"},
		{"filter on another dataset", "dc_2_hit=true", "dc_2_hit__eq"},
		{"order by another dataset", "order_by=-dc_2_hit", "order_by"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.query)
			require.NoError(t, err)

			params, err := ParseParams(values, Limits{})
			require.NoError(t, err)

			_, err = testPlanner().Plan(testDataset, testFields(), params)
			require.ErrorIs(t, err, apperrors.ErrInvalidRequest)

			key, ok := apperrors.InvalidKey(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestPlanSchemaInconsistency(t *testing.T) {
	fields := testFields()
	fields["broken"] = schema.FieldSpec{Key: "broken", Storage: schema.StorageAttributeLookup, AttributeID: 404, Filterable: true}

	params := Params{Filters: []Filter{{Key: "broken", Op: OpEq, Values: []string{"x"}}}}

	_, err := testPlanner().Plan(testDataset, fields, params)
	require.ErrorIs(t, err, apperrors.ErrSchemaInconsistency)
}

func TestExecutableSQL(t *testing.T) {
	q := plan(t, testDataset, "dc_1_a__gt=0&dc_1_b__in=x,y&dc_1_hit__eq=true&order_by=well_id")

	sql, args := q.SQL()
	assert.Contains(t, sql, "WHERE aw.screen_result_id = $1 AND ")
	assert.Contains(t, sql, "LIMIT 1) > $2::double precision")
	assert.Contains(t, sql, "LIMIT 1) IN ($3::text, $4::text)")
	assert.Contains(t, sql, "LIMIT 1) = $5::boolean")
	assert.NotContains(t, sql, "'x'")
	assert.Equal(t, []any{int64(testDataset), float64(0), "x", "y", true}, args)

	populate, args := q.PopulateSQL(99)
	assert.Contains(t, populate, "INSERT INTO well_query_index (query_id, well_id, ordinal) SELECT $1::bigint, w.well_id, row_number() OVER (ORDER BY w.well_id ASC)")
	assert.Contains(t, populate, "WHERE aw.screen_result_id = $2 AND ")
	assert.Contains(t, populate, "> $3::double precision")
	assert.Equal(t, []any{int64(99), int64(testDataset), float64(0), "x", "y", true}, args)
}

func TestMatchPatterns(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"dc_1_b__contains=ab", "::text LIKE '%ab%'"},
		{"dc_1_b__icontains=ab", "::text ILIKE '%ab%'"},
		{"dc_1_b__starts_with=ab", "::text LIKE 'ab%'"},
		{"dc_1_syn__contains=a_b", `::text LIKE '%a\_b%'`},
		{"dc_1_b__is_null=true", "LIMIT 1) IS NULL"},
		{"dc_1_b__is_null=false", "LIMIT 1) IS NOT NULL"},
		{"dc_1_b__ne=x", "LIMIT 1) IS DISTINCT FROM 'x'"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Contains(t, plan(t, testDataset, tt.query).Canonical, tt.want)
		})
	}
}

func TestResourceURI(t *testing.T) {
	assert.Equal(t, "/screenresult/42", ResourceURI(42))
	assert.Equal(t, "/screenresult/7", plan(t, testDataset, "").ResourceURI)
}
