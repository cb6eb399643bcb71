// Package schema describes the queryable fields of a screen result independently of where
// their values are stored.
//
// A field is either a column of the well/assay-well base tables, a per-well value of a data
// column (attribute) held in result_value, a list folded from several result_value rows, or
// a raw SQL expression. The compiler turns this description into SQL; nothing in this
// package touches the database directly.
package schema

import (
	"regexp"
	"slices"
	"strings"
)

// Storage tags where a field's value lives.
type Storage string

const (
	StorageBaseColumn      Storage = "base_column"
	StorageAttributeLookup Storage = "attribute_lookup"
	StorageAggregatedList  Storage = "aggregated_list"
	StorageComputed        Storage = "computed"
)

// Valid reports whether s is one of the known storage tags.
func (s Storage) Valid() bool {
	switch s {
	case StorageBaseColumn, StorageAttributeLookup, StorageAggregatedList, StorageComputed:
		return true
	default:
		return false
	}
}

// UsesAttribute reports whether fields with this storage must reference an attribute.
func (s Storage) UsesAttribute() bool {
	return s == StorageAttributeLookup || s == StorageAggregatedList
}

// ValueKind is the logical type of a field value.
type ValueKind string

const (
	KindText    ValueKind = "text"
	KindNumeric ValueKind = "numeric"
	KindBoolean ValueKind = "boolean"
	KindList    ValueKind = "list"
)

// Scope groups fields by origin.
type Scope string

const (
	ScopeBase    Scope = "base"
	ScopeDataset Scope = "dataset"
	ScopeMutual  Scope = "mutual"
)

// Visibility tags.
const (
	TagList   = "l"
	TagDetail = "d"
)

// DataType is the declared type of a data column.
type DataType string

const (
	DataTypeText                       DataType = "text"
	DataTypeNumeric                    DataType = "numeric"
	DataTypeBoolean                    DataType = "boolean"
	DataTypeList                       DataType = "list"
	DataTypePartitionPositiveIndicator DataType = "partition_positive_indicator"
	DataTypeBooleanPositiveIndicator   DataType = "boolean_positive_indicator"
	DataTypeConfirmedPositiveIndicator DataType = "confirmed_positive_indicator"
)

// ValueKind maps the declared data type onto the typed value column it is stored in.
// Partition and confirmed indicators are stored as their text codes.
func (d DataType) ValueKind() ValueKind {
	switch d {
	case DataTypeNumeric:
		return KindNumeric
	case DataTypeBoolean, DataTypeBooleanPositiveIndicator:
		return KindBoolean
	case DataTypeList:
		return KindList
	default:
		return KindText
	}
}

// IsPositiveIndicator reports whether values of this type carry a positive flag.
func (d DataType) IsPositiveIndicator() bool {
	switch d {
	case DataTypePartitionPositiveIndicator,
		DataTypeBooleanPositiveIndicator,
		DataTypeConfirmedPositiveIndicator:
		return true
	default:
		return false
	}
}

type (
	// FieldSpec describes one queryable field.
	FieldSpec struct {
		Key            string    `yaml:"key"            json:"key"`
		Title          string    `yaml:"title"          json:"title"`
		Description    string    `yaml:"description"    json:"description,omitempty"`
		Storage        Storage   `yaml:"storage"        json:"storage"`
		AttributeID    int64     `yaml:"attribute_id"   json:"attributeId,omitempty"`
		Column         string    `yaml:"column"         json:"-"`
		Expression     string    `yaml:"expression"     json:"-"`
		ValueKind      ValueKind `yaml:"value_kind"     json:"valueKind"`
		Filterable     bool      `yaml:"filterable"     json:"filterable"`
		Sortable       bool      `yaml:"sortable"       json:"sortable"`
		VisibilityTags []string  `yaml:"visibility"     json:"visibility"`
		Scope          Scope     `yaml:"scope"          json:"scope"`
		Ordinal        int       `yaml:"ordinal"        json:"ordinal"`
		DecimalPlaces  int       `yaml:"decimal_places" json:"decimalPlaces,omitempty"`
	}

	// Attribute is a data column definition.
	Attribute struct {
		ID                   int64
		DatasetID            int64
		FacilityID           string
		Name                 string
		Description          string
		DataType             DataType
		Ordinal              int
		DecimalPlaces        int
		PositivesCount       int
		StrongPositivesCount int
		MediumPositivesCount int
		WeakPositivesCount   int
	}

	// Dataset is a screen result: the entity set a query is scoped to.
	Dataset struct {
		ID         int64
		FacilityID string
		Title      string
	}
)

// HasTag reports whether the field carries the visibility tag.
func (f FieldSpec) HasTag(tag string) bool {
	return slices.Contains(f.VisibilityTags, tag)
}

var nonKeyChars = regexp.MustCompile(`[^a-z0-9]+`)

// FieldKey builds the field key of a data column: dc_<facility>_<name>.
//
// Example:
//
//	FieldKey("1001", "Average Score %") // "dc_1001_average_score"
func FieldKey(facilityID, name string) string {
	slug := strings.Trim(nonKeyChars.ReplaceAllString(strings.ToLower(name), "_"), "_")
	facility := strings.Trim(nonKeyChars.ReplaceAllString(strings.ToLower(facilityID), "_"), "_")

	return "dc_" + facility + "_" + slug
}

// FieldSpec derives the field of an attribute for the given scope.
func (a Attribute) FieldSpec(scope Scope) FieldSpec {
	kind := a.DataType.ValueKind()

	spec := FieldSpec{
		Key:            FieldKey(a.FacilityID, a.Name),
		Title:          a.Name,
		Description:    a.Description,
		Storage:        StorageAttributeLookup,
		AttributeID:    a.ID,
		ValueKind:      kind,
		Filterable:     true,
		Sortable:       true,
		VisibilityTags: []string{TagList, TagDetail},
		Scope:          scope,
		Ordinal:        a.Ordinal,
		DecimalPlaces:  a.DecimalPlaces,
	}

	if kind == KindList {
		spec.Storage = StorageAggregatedList
		spec.Sortable = false
	}

	// Mutual columns belong to other datasets; cached orderings are only invalidated by
	// their own dataset, so these stay display only.
	if scope == ScopeMutual {
		spec.Title = a.FacilityID + ": " + a.Name
		spec.VisibilityTags = []string{TagList}
		spec.Filterable = false
		spec.Sortable = false
	}

	return spec
}

// Catalog indexes attributes by id.
type Catalog map[int64]Attribute

// NewCatalog indexes attrs.
func NewCatalog(attrs ...Attribute) Catalog {
	c := make(Catalog, len(attrs))
	for _, a := range attrs {
		c[a.ID] = a
	}

	return c
}

// Attribute returns the attribute with the given id.
func (c Catalog) Attribute(id int64) (Attribute, bool) {
	a, ok := c[id]

	return a, ok
}
