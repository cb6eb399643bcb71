package planner

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/labscreen/screenresults/internal/compiler"
	"github.com/labscreen/screenresults/internal/schema"
)

var (
	ErrNotANumber  = errors.New("not a number")
	ErrNotABoolean = errors.New("not a boolean")
)

// Literal is a request value converted to the kind of the field it is compared with.
type Literal struct {
	kind schema.ValueKind
	text string
	num  float64
	flag bool
}

// ParseLiteral converts raw to a literal of kind. Text is NFC normalized so that equivalent
// spellings render and fingerprint identically.
func ParseLiteral(kind schema.ValueKind, raw string) (Literal, error) {
	switch kind {
	case schema.KindNumeric:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return Literal{}, ErrNotANumber
		}

		if f == 0 {
			f = 0 // folds -0
		}

		return Literal{kind: kind, num: f}, nil

	case schema.KindBoolean:
		b, err := parseBool(raw)
		if err != nil {
			return Literal{}, err
		}

		return Literal{kind: kind, flag: b}, nil

	default:
		return Literal{kind: schema.KindText, text: norm.NFC.String(raw)}, nil
	}
}

func textLiteral(s string) Literal {
	return Literal{kind: schema.KindText, text: norm.NFC.String(s)}
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "0", "f", "false", "n", "no", "off":
		return false, nil
	default:
		return false, ErrNotABoolean
	}
}

// SQL renders the literal inline.
func (l Literal) SQL() string {
	switch l.kind {
	case schema.KindNumeric:
		return strconv.FormatFloat(l.num, 'g', -1, 64)
	case schema.KindBoolean:
		if l.flag {
			return "TRUE"
		}

		return "FALSE"
	default:
		return compiler.QuoteLiteral(l.text)
	}
}

// Arg returns the literal as a query argument.
func (l Literal) Arg() any {
	switch l.kind {
	case schema.KindNumeric:
		return l.num
	case schema.KindBoolean:
		return l.flag
	default:
		return l.text
	}
}

// cast is the type a placeholder carrying this literal is declared as.
func (l Literal) cast() string {
	switch l.kind {
	case schema.KindNumeric:
		return "double precision"
	case schema.KindBoolean:
		return "boolean"
	default:
		return "text"
	}
}

func (l Literal) less(o Literal) bool {
	if l.kind == schema.KindNumeric && o.kind == schema.KindNumeric {
		return l.num < o.num
	}

	return l.SQL() < o.SQL()
}
