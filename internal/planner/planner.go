package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/labscreen/screenresults/internal/apperrors"
	"github.com/labscreen/screenresults/internal/compiler"
	"github.com/labscreen/screenresults/internal/schema"
)

const (
	// fingerprintDomain versions the canonical form. Changing how queries render must change
	// this string so old cache records are never matched.
	fingerprintDomain = "screenresults/base-query/v1"

	// ResourcePrefix is the URI prefix of cached queries, followed by the dataset id.
	ResourcePrefix = "/screenresult"

	baseFrom = "FROM assay_well aw JOIN well w ON w.well_id = aw.well_id"
)

type (
	// Fingerprint identifies a base query.
	Fingerprint string

	// FieldLookup resolves request keys to fields.
	FieldLookup interface {
		Field(key string) (schema.FieldSpec, bool)
	}

	// Planner builds base queries.
	Planner struct {
		compiler *compiler.Compiler
	}

	// BaseQuery selects the ids of a dataset's wells matching the filters, in request order.
	// It never depends on which fields are displayed.
	BaseQuery struct {
		DatasetID   int64
		ResourceURI string
		Canonical   string
		Fingerprint Fingerprint

		predicates []Predicate
		orderBy    string
	}
)

// Hash fingerprints a canonical rendering.
func Hash(canonical string) Fingerprint {
	h := sha256.New()
	h.Write([]byte(fingerprintDomain))
	h.Write([]byte{0})
	h.Write([]byte(canonical))

	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// ResourceURI is the URI cached queries over a dataset are registered under.
func ResourceURI(datasetID int64) string {
	return fmt.Sprintf("%s/%d", ResourcePrefix, datasetID)
}

// New creates a Planner compiling fields with c.
func New(c *compiler.Compiler) *Planner {
	return &Planner{compiler: c}
}

// Plan builds the base query for params over a dataset. Unknown, non-filterable or
// non-sortable keys and values that do not parse as the field's kind fail with
// apperrors.ErrInvalidRequest keyed by the offending parameter.
func (p *Planner) Plan(datasetID int64, fields FieldLookup, params Params) (*BaseQuery, error) {
	preds := make([]Predicate, 0, len(params.Filters))

	for _, f := range params.Filters {
		pred, err := p.filter(fields, f)
		if err != nil {
			return nil, err
		}

		preds = append(preds, pred)
	}

	orderBy, err := p.order(fields, params.Order)
	if err != nil {
		return nil, err
	}

	q := &BaseQuery{
		DatasetID:   datasetID,
		ResourceURI: ResourceURI(datasetID),
		predicates:  canonicalize(preds),
		orderBy:     orderBy,
	}

	inline := &renderer{inline: true}
	q.Canonical = q.selectSQL(inline, fmt.Sprintf("%d", datasetID))
	q.Fingerprint = Hash(q.Canonical)

	return q, nil
}

func (p *Planner) expr(fields FieldLookup, key, param string) (schema.FieldSpec, string, error) {
	field, ok := fields.Field(key)
	if !ok {
		return schema.FieldSpec{}, "", apperrors.InvalidRequest(param, "unknown field %q", key)
	}

	if field.Scope == schema.ScopeMutual {
		return schema.FieldSpec{}, "", apperrors.InvalidRequest(param, "field %q belongs to another dataset", key)
	}

	expr, err := p.compiler.CompileField(field)
	if err != nil {
		return schema.FieldSpec{}, "", err
	}

	return field, compiler.SQL(expr), nil
}

func (p *Planner) filter(fields FieldLookup, f Filter) (Predicate, error) {
	param := f.Param()

	field, expr, err := p.expr(fields, f.Key, param)
	if err != nil {
		return nil, err
	}

	if !field.Filterable {
		return nil, apperrors.InvalidRequest(param, "field %q is not filterable", f.Key)
	}

	literal := func(raw string) (Literal, error) {
		l, err := ParseLiteral(field.ValueKind, raw)
		if err != nil {
			return Literal{}, apperrors.InvalidRequest(param, "%q is %v", raw, err)
		}

		return l, nil
	}

	var pred Predicate

	switch f.Op {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		value, err := literal(f.Values[0])
		if err != nil {
			return nil, err
		}

		pred = Compare{Expr: expr, Op: comparisonOps[f.Op], Value: value}

	case OpIn:
		values := make([]Literal, 0, len(f.Values))
		for _, raw := range f.Values {
			value, err := literal(raw)
			if err != nil {
				return nil, err
			}

			values = append(values, value)
		}

		pred = In{Expr: expr, Values: normalizeSet(values)}

	case OpRange:
		low, err := literal(f.Values[0])
		if err != nil {
			return nil, err
		}

		high, err := literal(f.Values[1])
		if err != nil {
			return nil, err
		}

		pred = Between{Expr: expr, Low: low, High: high}

	case OpIsNull:
		null, err := parseBool(f.Values[0])
		if err != nil {
			return nil, apperrors.InvalidRequest(param, "%q is %v", f.Values[0], err)
		}

		pred = IsNull{Expr: expr, Null: null}

	case OpContains, OpIContains, OpStartsWith:
		if field.ValueKind != schema.KindText && field.ValueKind != schema.KindList {
			return nil, apperrors.InvalidRequest(param, "%s requires a text field", f.Op)
		}

		pattern := escapeLike(f.Values[0]) + "%"
		if f.Op != OpStartsWith {
			pattern = "%" + pattern
		}

		pred = Match{Expr: expr, Pattern: textLiteral(pattern), CaseInsensitive: f.Op == OpIContains}

	default:
		return nil, apperrors.InvalidRequest(param, "unknown operator %q", f.Op)
	}

	if f.Negate {
		pred = Not{Inner: pred}
	}

	return pred, nil
}

var comparisonOps = map[Operator]string{
	OpEq:  "=",
	OpNe:  "IS DISTINCT FROM",
	OpLt:  "<",
	OpLte: "<=",
	OpGt:  ">",
	OpGte: ">=",
}

// order renders the ORDER BY list. Repeated keys keep their first direction and the entity
// id is appended ascending as the final tiebreaker unless already ordered on.
func (p *Planner) order(fields FieldLookup, terms []OrderTerm) (string, error) {
	seen := make(map[string]struct{}, len(terms))
	parts := make([]string, 0, len(terms)+1)
	hasID := false

	for _, term := range terms {
		if _, dup := seen[term.Key]; dup {
			continue
		}

		seen[term.Key] = struct{}{}

		field, expr, err := p.expr(fields, term.Key, ParamOrderBy)
		if err != nil {
			return "", err
		}

		if !field.Sortable {
			return "", apperrors.InvalidRequest(ParamOrderBy, "field %q is not sortable", term.Key)
		}

		dir := "ASC"
		if term.Desc {
			dir = "DESC"
		}

		if expr == compiler.EntityIDColumn {
			// ids are never null
			parts = append(parts, expr+" "+dir)
			hasID = true

			continue
		}

		parts = append(parts, fmt.Sprintf("%s %s NULLS LAST", expr, dir))
	}

	if !hasID {
		parts = append(parts, compiler.EntityIDColumn+" ASC")
	}

	return strings.Join(parts, ", "), nil
}

func (q *BaseQuery) where(r *renderer, dataset string) string {
	clause := "aw.screen_result_id = " + dataset
	if len(q.predicates) > 0 {
		clause += " AND " + r.conjunction(q.predicates)
	}

	return clause
}

func (q *BaseQuery) selectSQL(r *renderer, dataset string) string {
	return fmt.Sprintf("SELECT %s %s WHERE %s ORDER BY %s",
		compiler.EntityIDColumn, baseFrom, q.where(r, dataset), q.orderBy)
}

// SQL returns the executable base query.
func (q *BaseQuery) SQL() (string, []any) {
	r := &renderer{args: []any{q.DatasetID}}
	sql := q.selectSQL(r, "$1")

	return sql, r.args
}

// PopulateSQL returns the statement that writes the base query's ids with their ordinals
// into well_query_index under queryID.
func (q *BaseQuery) PopulateSQL(queryID int64) (string, []any) {
	r := &renderer{args: []any{queryID, q.DatasetID}}
	sql := fmt.Sprintf(
		"INSERT INTO well_query_index (query_id, well_id, ordinal) SELECT $1::bigint, %s, row_number() OVER (ORDER BY %s) %s WHERE %s",
		compiler.EntityIDColumn, q.orderBy, baseFrom, q.where(r, "$2"),
	)

	return sql, r.args
}
