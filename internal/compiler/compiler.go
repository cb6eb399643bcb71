// Package compiler turns field specifications into SQL column expressions.
//
// Every expression is correlated on the current well through EntityIDColumn, so it can be
// placed in the select list, WHERE clause or ORDER BY of any query that exposes the well
// table as "w" and the assay well table as "aw".
package compiler

import (
	"fmt"
	"strings"

	"github.com/labscreen/screenresults/internal/apperrors"
	"github.com/labscreen/screenresults/internal/schema"
)

const (
	// EntityIDColumn is the identity column of the row entity.
	EntityIDColumn = "w.well_id"

	// ListDelimiter joins the values of an aggregated list.
	ListDelimiter = ";"
)

type (
	// ColumnExpr is one of BaseColumn, AttributeLookup, AggregatedList or Computed.
	ColumnExpr interface {
		columnExpr()
	}

	// BaseColumn is a column of the base tables.
	BaseColumn struct {
		Column string
	}

	// AttributeLookup is the single value of an attribute for the current well, read from
	// the typed value column that matches the attribute's declared kind.
	AttributeLookup struct {
		AttributeID int64
		Kind        schema.ValueKind
	}

	// AggregatedList folds all values of an attribute for the current well into one
	// delimited string, in value ordinal order.
	AggregatedList struct {
		AttributeID int64
		Delimiter   string
	}

	// Computed is a caller supplied SQL expression.
	Computed struct {
		Expression string
	}

	// Column pairs a field with its compiled expression.
	Column struct {
		Field schema.FieldSpec
		Expr  ColumnExpr
	}

	// Columns is an ordered set of compiled columns.
	Columns []Column

	// AttributeCatalog resolves attribute ids referenced by fields.
	AttributeCatalog interface {
		Attribute(id int64) (schema.Attribute, bool)
	}

	// Compiler compiles fields against an attribute catalog.
	Compiler struct {
		catalog AttributeCatalog
	}
)

func (BaseColumn) columnExpr()      {}
func (AttributeLookup) columnExpr() {}
func (AggregatedList) columnExpr()  {}
func (Computed) columnExpr()        {}

// New creates a Compiler resolving attributes through catalog.
func New(catalog AttributeCatalog) *Compiler {
	return &Compiler{catalog: catalog}
}

// Compile validates every field and returns the columns of the requested keys in field
// order. A nil requested set selects every field. Requested keys that name no field are
// ignored; callers validate request keys against the schema.
//
// Any field that cannot be compiled fails the whole schema with
// apperrors.ErrSchemaInconsistency, whether requested or not.
func (c *Compiler) Compile(fields []schema.FieldSpec, requested map[string]struct{}) (Columns, error) {
	columns := make(Columns, 0, len(fields))

	for _, field := range fields {
		expr, err := c.CompileField(field)
		if err != nil {
			return nil, err
		}

		if requested != nil {
			if _, ok := requested[field.Key]; !ok {
				continue
			}
		}

		columns = append(columns, Column{Field: field, Expr: expr})
	}

	return columns, nil
}

// CompileField compiles a single field.
func (c *Compiler) CompileField(field schema.FieldSpec) (ColumnExpr, error) {
	switch field.Storage {
	case schema.StorageBaseColumn:
		if field.AttributeID != 0 {
			return nil, apperrors.Schema(field.Key, field.AttributeID, "base column declares an attribute id")
		}

		if strings.TrimSpace(field.Column) == "" {
			return nil, apperrors.Schema(field.Key, 0, "base column without a column name")
		}

		return BaseColumn{Column: field.Column}, nil

	case schema.StorageAttributeLookup, schema.StorageAggregatedList:
		if field.AttributeID == 0 {
			return nil, apperrors.Schema(field.Key, 0, fmt.Sprintf("%s field without an attribute id", field.Storage))
		}

		attr, ok := c.catalog.Attribute(field.AttributeID)
		if !ok {
			return nil, apperrors.Schema(field.Key, field.AttributeID, "unknown attribute id")
		}

		if field.Storage == schema.StorageAggregatedList {
			return AggregatedList{AttributeID: attr.ID, Delimiter: ListDelimiter}, nil
		}

		return AttributeLookup{AttributeID: attr.ID, Kind: attr.DataType.ValueKind()}, nil

	case schema.StorageComputed:
		if field.AttributeID != 0 {
			return nil, apperrors.Schema(field.Key, field.AttributeID, "computed field declares an attribute id")
		}

		if strings.TrimSpace(field.Expression) == "" {
			return nil, apperrors.Schema(field.Key, 0, "computed field without an expression")
		}

		return Computed{Expression: field.Expression}, nil

	case "":
		return nil, apperrors.Schema(field.Key, field.AttributeID, "missing storage tag")

	default:
		return nil, apperrors.Schema(field.Key, field.AttributeID, fmt.Sprintf("unknown storage tag %q", field.Storage))
	}
}

// SQL renders expr.
func SQL(expr ColumnExpr) string {
	switch e := expr.(type) {
	case BaseColumn:
		return e.Column
	case AttributeLookup:
		return fmt.Sprintf(
			"(SELECT %s FROM result_value rv WHERE rv.data_column_id = %d AND rv.well_id = %s ORDER BY rv.ordinal LIMIT 1)",
			valueColumn(e.Kind), e.AttributeID, EntityIDColumn,
		)
	case AggregatedList:
		return fmt.Sprintf(
			"(SELECT string_agg(rv.value, %s ORDER BY rv.ordinal) FROM result_value rv WHERE rv.data_column_id = %d AND rv.well_id = %s)",
			QuoteLiteral(e.Delimiter), e.AttributeID, EntityIDColumn,
		)
	case Computed:
		return "(" + e.Expression + ")"
	default:
		panic(fmt.Sprintf("compiler: unhandled column expression %T", expr))
	}
}

// Stored text that does not spell a boolean reads as NULL instead of failing the query.
const booleanValue = "CASE WHEN lower(btrim(rv.value)) IN ('t', 'true', 'y', 'yes', 'on', '1') THEN TRUE" +
	" WHEN lower(btrim(rv.value)) IN ('f', 'false', 'n', 'no', 'off', '0') THEN FALSE END"

func valueColumn(kind schema.ValueKind) string {
	switch kind {
	case schema.KindNumeric:
		return "rv.numeric_value"
	case schema.KindBoolean:
		return booleanValue
	default:
		return "rv.value"
	}
}

// QuoteLiteral renders s as a SQL string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Lookup returns the column for key.
func (cs Columns) Lookup(key string) (Column, bool) {
	for _, c := range cs {
		if c.Field.Key == key {
			return c, true
		}
	}

	return Column{}, false
}

// Keys returns the field keys in column order.
func (cs Columns) Keys() []string {
	keys := make([]string, len(cs))
	for i, c := range cs {
		keys[i] = c.Field.Key
	}

	return keys
}
