package schema

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
)

type (
	// AttributeSource reads dataset and data column definitions.
	AttributeSource interface {
		Dataset(ctx context.Context, datasetID int64) (Dataset, error)
		DatasetAttributes(ctx context.Context, datasetID int64) ([]Attribute, error)
		Attributes(ctx context.Context, ids []int64) ([]Attribute, error)
	}

	// Provider supplies the field schema of a dataset. It is consulted on every request.
	Provider interface {
		Schema(ctx context.Context, datasetID int64) (*Schema, error)
		AttributeFields(ctx context.Context, ids []int64, scope Scope) ([]FieldSpec, Catalog, error)
	}

	// Schema is the ordered field list of one dataset together with the attributes its
	// fields reference.
	Schema struct {
		Dataset    Dataset
		Fields     []FieldSpec
		Attributes Catalog
		index      map[string]int
	}

	// Registry is the Provider backed by the base fields file and the data column table.
	Registry struct {
		base   []FieldSpec
		source AttributeSource
		logger *slog.Logger
	}
)

// NewRegistry creates a Registry over base fields and an attribute source.
func NewRegistry(base []FieldSpec, source AttributeSource) *Registry {
	return &Registry{
		base:   base,
		source: source,
		logger: slog.Default().With(slog.String("component", "schema")),
	}
}

// Schema returns base fields followed by the dataset's data column fields in column order.
func (r *Registry) Schema(ctx context.Context, datasetID int64) (*Schema, error) {
	dataset, err := r.source.Dataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	attrs, err := r.source.DatasetAttributes(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attributes of dataset %d: %w", datasetID, err)
	}

	s := &Schema{
		Dataset:    dataset,
		Fields:     make([]FieldSpec, 0, len(r.base)+len(attrs)),
		Attributes: NewCatalog(attrs...),
	}

	s.Fields = append(s.Fields, r.base...)
	s.Extend(attrs, ScopeDataset)

	r.logger.Debug("Schema resolved",
		slog.Int64("dataset_id", datasetID),
		slog.Int("base_fields", len(r.base)),
		slog.Int("attribute_fields", len(attrs)))

	return s, nil
}

// AttributeFields returns fields for arbitrary attributes, e.g. those of other datasets.
func (r *Registry) AttributeFields(ctx context.Context, ids []int64, scope Scope) ([]FieldSpec, Catalog, error) {
	if len(ids) == 0 {
		return nil, Catalog{}, nil
	}

	attrs, err := r.source.Attributes(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load attributes: %w", err)
	}

	sortAttributes(attrs)

	fields := make([]FieldSpec, 0, len(attrs))
	for _, a := range attrs {
		fields = append(fields, a.FieldSpec(scope))
	}

	return fields, NewCatalog(attrs...), nil
}

// Extend appends the fields of attrs. Keys that collide with an existing field get the
// attribute id appended.
func (s *Schema) Extend(attrs []Attribute, scope Scope) {
	sorted := make([]Attribute, len(attrs))
	copy(sorted, attrs)
	sortAttributes(sorted)

	if s.Attributes == nil {
		s.Attributes = Catalog{}
	}

	for _, a := range sorted {
		spec := a.FieldSpec(scope)
		if _, exists := s.Field(spec.Key); exists {
			spec.Key = spec.Key + "_" + strconv.FormatInt(a.ID, 10)
		}

		s.Attributes[a.ID] = a
		s.Fields = append(s.Fields, spec)
		s.reindex()
	}
}

// Field returns the field with the given key.
func (s *Schema) Field(key string) (FieldSpec, bool) {
	if s.index == nil || len(s.index) != len(s.Fields) {
		s.reindex()
	}

	i, ok := s.index[key]
	if !ok {
		return FieldSpec{}, false
	}

	return s.Fields[i], true
}

func (s *Schema) reindex() {
	s.index = make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		s.index[f.Key] = i
	}
}

func sortAttributes(attrs []Attribute) {
	sort.SliceStable(attrs, func(i, j int) bool {
		if attrs[i].DatasetID != attrs[j].DatasetID {
			return attrs[i].DatasetID < attrs[j].DatasetID
		}

		if attrs[i].Ordinal != attrs[j].Ordinal {
			return attrs[i].Ordinal < attrs[j].Ordinal
		}

		return attrs[i].ID < attrs[j].ID
	})
}
