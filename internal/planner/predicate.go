package planner

import (
	"fmt"
	"sort"
	"strings"
)

type (
	// Predicate is one of Compare, Between, In, IsNull, Match or Not.
	Predicate interface {
		predicate()
	}

	// Compare compares an expression with a value.
	Compare struct {
		Expr  string
		Op    string
		Value Literal
	}

	// Between is an inclusive range.
	Between struct {
		Expr      string
		Low, High Literal
	}

	// In matches any of a set of values.
	In struct {
		Expr   string
		Values []Literal
	}

	// IsNull tests for a missing value, or for a present one when Null is false.
	IsNull struct {
		Expr string
		Null bool
	}

	// Match is a LIKE pattern match on the text of an expression.
	Match struct {
		Expr            string
		Pattern         Literal
		CaseInsensitive bool
	}

	// Not negates a predicate.
	Not struct {
		Inner Predicate
	}
)

func (Compare) predicate() {}
func (Between) predicate() {}
func (In) predicate()      {}
func (IsNull) predicate()  {}
func (Match) predicate()   {}
func (Not) predicate()     {}

// renderer renders predicates either with inlined literals or with numbered placeholders.
// Placeholders continue after any arguments already bound.
type renderer struct {
	inline bool
	args   []any
}

func (r *renderer) bind(l Literal) string {
	if r.inline {
		return l.SQL()
	}

	r.args = append(r.args, l.Arg())

	return fmt.Sprintf("$%d::%s", len(r.args), l.cast())
}

func (r *renderer) render(p Predicate) string {
	switch p := p.(type) {
	case Compare:
		return fmt.Sprintf("%s %s %s", p.Expr, p.Op, r.bind(p.Value))
	case Between:
		return fmt.Sprintf("%s BETWEEN %s AND %s", p.Expr, r.bind(p.Low), r.bind(p.High))
	case In:
		values := make([]string, len(p.Values))
		for i, v := range p.Values {
			values[i] = r.bind(v)
		}

		return fmt.Sprintf("%s IN (%s)", p.Expr, strings.Join(values, ", "))
	case IsNull:
		if p.Null {
			return p.Expr + " IS NULL"
		}

		return p.Expr + " IS NOT NULL"
	case Match:
		op := "LIKE"
		if p.CaseInsensitive {
			op = "ILIKE"
		}

		return fmt.Sprintf("(%s)::text %s %s", p.Expr, op, r.bind(p.Pattern))
	case Not:
		return "NOT (" + r.render(p.Inner) + ")"
	default:
		panic(fmt.Sprintf("planner: unhandled predicate %T", p))
	}
}

// conjunction renders predicates joined by AND, each parenthesized.
func (r *renderer) conjunction(preds []Predicate) string {
	parts := make([]string, len(preds))
	for i, p := range preds {
		parts[i] = "(" + r.render(p) + ")"
	}

	return strings.Join(parts, " AND ")
}

// canonicalize orders predicates by their inline rendering and drops duplicates, so the
// order filters were given in does not matter.
func canonicalize(preds []Predicate) []Predicate {
	inline := &renderer{inline: true}

	type keyed struct {
		text string
		pred Predicate
	}

	ks := make([]keyed, 0, len(preds))
	for _, p := range preds {
		ks = append(ks, keyed{text: inline.render(p), pred: p})
	}

	sort.SliceStable(ks, func(i, j int) bool { return ks[i].text < ks[j].text })

	out := make([]Predicate, 0, len(ks))
	for i, k := range ks {
		if i > 0 && ks[i-1].text == k.text {
			continue
		}

		out = append(out, k.pred)
	}

	return out
}

// normalizeSet sorts values and removes duplicates.
func normalizeSet(values []Literal) []Literal {
	sorted := make([]Literal, len(values))
	copy(sorted, values)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].less(sorted[j]) })

	out := sorted[:0]
	for i, v := range sorted {
		if i > 0 && sorted[i-1].SQL() == v.SQL() {
			continue
		}

		out = append(out, v)
	}

	return out
}

// escapeLike escapes LIKE wildcards in s using the default backslash escape.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
