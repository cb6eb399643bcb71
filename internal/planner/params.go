// Package planner builds the base query that selects and orders the wells matching a
// request, the fingerprint identifying it, and the display query that reads a page of
// full rows back from the materialized ordering.
package planner

import (
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/labscreen/screenresults/internal/apperrors"
	"github.com/labscreen/screenresults/internal/config"
)

// Operator is a filter operator, written after the double underscore in a filter parameter.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpIn         Operator = "in"
	OpRange      Operator = "range"
	OpIsNull     Operator = "is_null"
	OpContains   Operator = "contains"
	OpIContains  Operator = "icontains"
	OpStartsWith Operator = "starts_with"
)

// Reserved request parameters. Every other parameter is a filter.
const (
	ParamLimit               = "limit"
	ParamOffset              = "offset"
	ParamOrderBy             = "order_by"
	ParamIncludes            = "includes"
	ParamShowMutualPositives = "show_mutual_positives"
	ParamFormat              = "format"
)

const opSeparator = "__"

type (
	// Params are the parsed request parameters of a rows request.
	Params struct {
		Filters             []Filter    `json:"filters,omitempty"`
		Order               []OrderTerm `json:"order,omitempty"`
		Limit               int         `json:"limit"`
		Offset              int         `json:"offset"`
		Includes            []string    `json:"includes,omitempty"`
		ShowMutualPositives bool        `json:"showMutualPositives,omitempty"`
	}

	// Filter constrains one field.
	Filter struct {
		Key    string   `json:"key"`
		Op     Operator `json:"op"`
		Values []string `json:"values"`
		Negate bool     `json:"negate,omitempty"`
	}

	// OrderTerm orders by one field.
	OrderTerm struct {
		Key  string `json:"key"`
		Desc bool   `json:"desc,omitempty"`
	}

	// Limits bound page sizes.
	Limits struct {
		DefaultLimit int
		MaxLimit     int
	}
)

// Param returns the request parameter name the filter was parsed from.
func (f Filter) Param() string {
	name := f.Key + opSeparator + string(f.Op)
	if f.Negate {
		return "-" + name
	}

	return name
}

// String renders the order term the way it is written in order_by.
func (o OrderTerm) String() string {
	if o.Desc {
		return "-" + o.Key
	}

	return o.Key
}

// JSON serializes the parameters for storage next to a cached query.
func (p Params) JSON() ([]byte, error) {
	return json.Marshal(p)
}

// ParseParams parses request query parameters.
//
// Filters are written as key__op=value, or key=value for equality. A leading "-" negates the
// filter. The in operator takes a comma separated list and range takes "low,high".
// order_by takes field keys, "-" prefixed for descending, repeated or comma separated.
// A negative offset is sign flipped. A limit of 0 means every row, capped by limits.MaxLimit
// when that is set.
func ParseParams(values url.Values, limits Limits) (Params, error) {
	params := Params{Limit: limits.DefaultLimit}

	if raw := values.Get(ParamLimit); raw != "" {
		limit, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Params{}, apperrors.InvalidRequest(ParamLimit, "must be an integer, got %q", raw)
		}

		if limit < 0 {
			return Params{}, apperrors.InvalidRequest(ParamLimit, "must not be negative, got %d", limit)
		}

		params.Limit = limit
	}

	if limits.MaxLimit > 0 && (params.Limit == 0 || params.Limit > limits.MaxLimit) {
		params.Limit = limits.MaxLimit
	}

	if raw := values.Get(ParamOffset); raw != "" {
		offset, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Params{}, apperrors.InvalidRequest(ParamOffset, "must be an integer, got %q", raw)
		}

		if offset < 0 {
			offset = -offset
		}

		params.Offset = offset
	}

	for _, raw := range values[ParamOrderBy] {
		for _, term := range config.ParseCommaSeparatedList(raw) {
			key := strings.TrimPrefix(term, "-")
			if key == "" {
				return Params{}, apperrors.InvalidRequest(ParamOrderBy, "empty order key")
			}

			params.Order = append(params.Order, OrderTerm{Key: key, Desc: strings.HasPrefix(term, "-")})
		}
	}

	for _, raw := range values[ParamIncludes] {
		params.Includes = append(params.Includes, config.ParseCommaSeparatedList(raw)...)
	}

	if raw := values.Get(ParamShowMutualPositives); raw != "" {
		show, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return Params{}, apperrors.InvalidRequest(ParamShowMutualPositives, "must be a boolean, got %q", raw)
		}

		params.ShowMutualPositives = show
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		if isReserved(name) {
			continue
		}

		for _, raw := range values[name] {
			filter, err := parseFilter(name, raw)
			if err != nil {
				return Params{}, err
			}

			params.Filters = append(params.Filters, filter)
		}
	}

	return params, nil
}

func isReserved(name string) bool {
	switch name {
	case ParamLimit, ParamOffset, ParamOrderBy, ParamIncludes, ParamShowMutualPositives, ParamFormat:
		return true
	default:
		return false
	}
}

func parseFilter(name, raw string) (Filter, error) {
	filter := Filter{Op: OpEq}

	spec := name
	if strings.HasPrefix(spec, "-") {
		filter.Negate = true
		spec = spec[1:]
	}

	key, op, hasOp := strings.Cut(spec, opSeparator)
	if hasOp {
		filter.Op = Operator(op)
	}

	filter.Key = key
	if filter.Key == "" {
		return Filter{}, apperrors.InvalidRequest(name, "missing field key")
	}

	switch filter.Op {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpContains, OpIContains, OpStartsWith:
		filter.Values = []string{raw}
	case OpIsNull:
		if _, err := strconv.ParseBool(strings.TrimSpace(raw)); err != nil {
			return Filter{}, apperrors.InvalidRequest(name, "must be a boolean, got %q", raw)
		}

		filter.Values = []string{strings.ToLower(strings.TrimSpace(raw))}
	case OpIn:
		filter.Values = config.ParseCommaSeparatedList(raw)
		if len(filter.Values) == 0 {
			return Filter{}, apperrors.InvalidRequest(name, "requires at least one value")
		}
	case OpRange:
		filter.Values = config.ParseCommaSeparatedList(raw)
		if len(filter.Values) != 2 { //nolint:mnd // low and high
			return Filter{}, apperrors.InvalidRequest(name, "requires exactly two values, got %q", raw)
		}
	default:
		return Filter{}, apperrors.InvalidRequest(name, "unknown operator %q", op)
	}

	return filter, nil
}
