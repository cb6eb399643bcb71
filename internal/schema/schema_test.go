package schema

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	datasets map[int64]Dataset
	attrs    []Attribute
}

var errNoDataset = errors.New("no dataset")

func (f *fakeSource) Dataset(_ context.Context, id int64) (Dataset, error) {
	d, ok := f.datasets[id]
	if !ok {
		return Dataset{}, errNoDataset
	}

	return d, nil
}

func (f *fakeSource) DatasetAttributes(_ context.Context, id int64) ([]Attribute, error) {
	var out []Attribute

	for _, a := range f.attrs {
		if a.DatasetID == id {
			out = append(out, a)
		}
	}

	return out, nil
}

func (f *fakeSource) Attributes(_ context.Context, ids []int64) ([]Attribute, error) {
	var out []Attribute

	for _, a := range f.attrs {
		for _, id := range ids {
			if a.ID == id {
				out = append(out, a)
			}
		}
	}

	return out, nil
}

func TestFieldKey(t *testing.T) {
	tests := []struct {
		facility, name, want string
	}{
		{"1001", "Average Score %", "dc_1001_average_score"},
		{"1001", "B", "dc_1001_b"},
		{"ABC-7", "  Z-Score (rep 1) ", "dc_abc_7_z_score_rep_1"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FieldKey(tt.facility, tt.name))
	}
}

func TestDataTypeValueKind(t *testing.T) {
	assert.Equal(t, KindNumeric, DataTypeNumeric.ValueKind())
	assert.Equal(t, KindText, DataTypeText.ValueKind())
	assert.Equal(t, KindText, DataTypePartitionPositiveIndicator.ValueKind())
	assert.Equal(t, KindText, DataTypeConfirmedPositiveIndicator.ValueKind())
	assert.Equal(t, KindBoolean, DataTypeBooleanPositiveIndicator.ValueKind())
	assert.Equal(t, KindList, DataTypeList.ValueKind())

	assert.True(t, DataTypePartitionPositiveIndicator.IsPositiveIndicator())
	assert.False(t, DataTypeNumeric.IsPositiveIndicator())
}

func TestAttributeFieldSpec(t *testing.T) {
	numeric := Attribute{ID: 7, DatasetID: 1, FacilityID: "1001", Name: "A", DataType: DataTypeNumeric, Ordinal: 2}
	spec := numeric.FieldSpec(ScopeDataset)

	assert.Equal(t, "dc_1001_a", spec.Key)
	assert.Equal(t, StorageAttributeLookup, spec.Storage)
	assert.Equal(t, int64(7), spec.AttributeID)
	assert.Equal(t, KindNumeric, spec.ValueKind)
	assert.True(t, spec.Sortable)
	assert.True(t, spec.HasTag(TagList))

	list := Attribute{ID: 8, DatasetID: 1, FacilityID: "1001", Name: "Synonyms", DataType: DataTypeList}
	spec = list.FieldSpec(ScopeDataset)
	assert.Equal(t, StorageAggregatedList, spec.Storage)
	assert.False(t, spec.Sortable)

	spec = numeric.FieldSpec(ScopeMutual)
	assert.Equal(t, "1001: A", spec.Title)
	assert.False(t, spec.HasTag(TagDetail))
	assert.False(t, spec.Filterable)
	assert.False(t, spec.Sortable)
}

func TestParseFields(t *testing.T) {
	t.Run("embedded defaults", func(t *testing.T) {
		fields, err := ParseFields(defaultFieldsYAML)
		require.NoError(t, err)
		require.NotEmpty(t, fields)

		assert.Equal(t, "well_id", fields[0].Key)
		assert.Equal(t, StorageBaseColumn, fields[0].Storage)
		assert.Equal(t, "w.well_id", fields[0].Column)

		for i := 1; i < len(fields); i++ {
			assert.LessOrEqual(t, fields[i-1].Ordinal, fields[i].Ordinal)
			assert.Equal(t, ScopeBase, fields[i].Scope)
		}
	})

	t.Run("duplicate key", func(t *testing.T) {
		_, err := ParseFields([]byte("fields:\n  - key: a\n  - key: a\n"))
		require.ErrorIs(t, err, ErrDuplicateFieldKey)
	})

	t.Run("empty key", func(t *testing.T) {
		_, err := ParseFields([]byte("fields:\n  - title: nothing\n"))
		require.ErrorIs(t, err, ErrEmptyFieldKey)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := ParseFields([]byte("fields: [\n"))
		require.Error(t, err)
	})

	t.Run("title defaults to key", func(t *testing.T) {
		fields, err := ParseFields([]byte("fields:\n  - key: plate\n    storage: base_column\n"))
		require.NoError(t, err)
		assert.Equal(t, "plate", fields[0].Title)
	})
}

func TestLoadBaseFields(t *testing.T) {
	t.Run("missing override falls back to embedded", func(t *testing.T) {
		fields, err := LoadBaseFields(&LoaderConfig{FieldsPath: filepath.Join(t.TempDir(), "nope.yaml")})
		require.NoError(t, err)
		assert.Equal(t, "well_id", fields[0].Key)
	})

	t.Run("override file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "fields.yaml")
		doc := "fields:\n  - key: plate_number\n    storage: base_column\n    column: w.plate_number\n"
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

		fields, err := LoadBaseFields(&LoaderConfig{FieldsPath: path})
		require.NoError(t, err)
		require.Len(t, fields, 1)
		assert.Equal(t, "plate_number", fields[0].Key)
	})

	t.Run("unparseable override", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "fields.yaml")
		require.NoError(t, os.WriteFile(path, []byte("fields: ["), 0o600))

		_, err := LoadBaseFields(&LoaderConfig{FieldsPath: path})
		require.Error(t, err)
	})
}

func TestRegistrySchema(t *testing.T) {
	source := &fakeSource{
		datasets: map[int64]Dataset{1: {ID: 1, FacilityID: "1001"}},
		attrs: []Attribute{
			{ID: 11, DatasetID: 1, FacilityID: "1001", Name: "B", DataType: DataTypeText, Ordinal: 1},
			{ID: 10, DatasetID: 1, FacilityID: "1001", Name: "A", DataType: DataTypeNumeric, Ordinal: 0},
			{ID: 20, DatasetID: 2, FacilityID: "1002", Name: "A", DataType: DataTypeNumeric, Ordinal: 0},
		},
	}

	base := []FieldSpec{{Key: "well_id", Storage: StorageBaseColumn, Column: "w.well_id", Scope: ScopeBase}}
	registry := NewRegistry(base, source)

	s, err := registry.Schema(context.Background(), 1)
	require.NoError(t, err)

	keys := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		keys = append(keys, f.Key)
	}

	assert.Equal(t, []string{"well_id", "dc_1001_a", "dc_1001_b"}, keys)

	_, ok := s.Attributes.Attribute(10)
	assert.True(t, ok)
	_, ok = s.Attributes.Attribute(20)
	assert.False(t, ok)

	field, ok := s.Field("dc_1001_b")
	require.True(t, ok)
	assert.Equal(t, int64(11), field.AttributeID)

	_, err = registry.Schema(context.Background(), 99)
	require.ErrorIs(t, err, errNoDataset)
}

func TestRegistryAttributeFields(t *testing.T) {
	source := &fakeSource{
		attrs: []Attribute{
			{ID: 20, DatasetID: 2, FacilityID: "1002", Name: "Hit", DataType: DataTypeBooleanPositiveIndicator},
		},
	}
	registry := NewRegistry(nil, source)

	fields, catalog, err := registry.AttributeFields(context.Background(), []int64{20}, ScopeMutual)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, ScopeMutual, fields[0].Scope)
	assert.Equal(t, KindBoolean, fields[0].ValueKind)

	_, ok := catalog.Attribute(20)
	assert.True(t, ok)

	fields, catalog, err = registry.AttributeFields(context.Background(), nil, ScopeMutual)
	require.NoError(t, err)
	assert.Empty(t, fields)
	assert.Empty(t, catalog)
}

func TestSchemaExtendRenamesCollidingKeys(t *testing.T) {
	s := &Schema{Fields: []FieldSpec{{Key: "dc_1001_a"}}}

	s.Extend([]Attribute{{ID: 5, FacilityID: "1001", Name: "A", DataType: DataTypeText}}, ScopeMutual)

	_, ok := s.Field("dc_1001_a_5")
	assert.True(t, ok)
	assert.Len(t, s.Fields, 2)
}
