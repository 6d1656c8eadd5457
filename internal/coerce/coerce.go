// Package coerce converts raw cell text into typed values.
//
// It handles the messy reality of flat-file data the same way everywhere in
// entmap: the type rule, range and compare operands, and the mapping
// transforms all coerce through these functions, so a value that passes a
// type check is guaranteed to map.
//
//   - Currency symbols, thousands separators, and accounting negatives "(1.50)"
//   - Fixed-precision decimals via apd (never float64)
//   - Dates in declared Go layouts
//   - Case-insensitive literal sets via Unicode case folding
package coerce

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/entmap/internal/ir"
)

// DefaultDateLayout is the normalized date layout (ISO 8601 calendar date).
const DefaultDateLayout = "2006-01-02"

// DefaultDateFormats are the input layouts tried when none are declared.
var DefaultDateFormats = []string{
	"2006-01-02", "2006/01/02", "01/02/2006", "1/2/2006", "20060102",
	"2006-01-02T15:04:05Z07:00", "2006-01-02 15:04:05",
}

// DefaultTrueValues and DefaultFalseValues are the boolean literal sets used
// when a rule or transform declares none.
var (
	DefaultTrueValues  = []string{"true", "t", "yes", "y", "1"}
	DefaultFalseValues = []string{"false", "f", "no", "n", "0"}
)

// ErrEmpty is returned when the input has no value to coerce.
var ErrEmpty = errors.New("empty value")

// numericPattern validates a cleaned numeric string.
var numericPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

// decimalContext is shared read-only; apd.Context methods do not mutate it.
var decimalContext = func() *apd.Context {
	c := apd.BaseContext.WithPrecision(34)
	c.Rounding = apd.RoundHalfUp
	return c
}()

// cleanNumeric strips currency symbols and thousands separators and turns
// accounting-format "(123.45)" into "-123.45".
func cleanNumeric(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmpty
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(s)
	if negative {
		s = "-" + s
	}

	if !numericPattern.MatchString(s) {
		return "", fmt.Errorf("not a number: %q", s)
	}
	return s, nil
}

// Decimal parses s into an arbitrary-precision decimal.
func Decimal(s string) (*apd.Decimal, error) {
	cleaned, err := cleanNumeric(s)
	if err != nil {
		return nil, err
	}
	d, _, err := apd.NewFromString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("not a decimal: %q: %w", s, err)
	}
	return d, nil
}

// FixedDecimal parses s and rounds it half-up to precision digits after
// the point, returning plain-notation text such as "1500.50".
func FixedDecimal(s string, precision int) (ir.IRDecimal, error) {
	if precision < 0 {
		return "", fmt.Errorf("negative precision %d", precision)
	}
	d, err := Decimal(s)
	if err != nil {
		return "", err
	}

	var out apd.Decimal
	if _, err := decimalContext.Quantize(&out, d, -int32(precision)); err != nil {
		return "", fmt.Errorf("quantize %q to %d places: %w", s, precision, err)
	}
	if out.IsZero() {
		out.Negative = false
	}
	return ir.IRDecimal(out.Text('f')), nil
}

// Integer parses s as a base-10 int64. Thousands separators are accepted;
// a fraction part is not.
func Integer(s string) (int64, error) {
	cleaned, err := cleanNumeric(s)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(cleaned, "+"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return n, nil
}

// Date parses s with the first matching layout. An empty layout list
// means DefaultDateFormats.
func Date(s string, layouts []string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrEmpty
	}
	if len(layouts) == 0 {
		layouts = DefaultDateFormats
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not a date in %v: %q", layouts, s)
}

// Fold returns the Unicode case-folded form of s for case-insensitive
// comparison. A Caser is stateful, so one is created per call.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// Upper and Lower apply language-neutral case mapping.
func Upper(s string) string { return cases.Upper(language.Und).String(s) }
func Lower(s string) string { return cases.Lower(language.Und).String(s) }

// FoldSet builds a membership set of case-folded, trimmed literals.
func FoldSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[Fold(strings.TrimSpace(v))] = true
	}
	return set
}

// Boolean resolves s against case-insensitive true/false literal sets.
func Boolean(s string, trueSet, falseSet map[string]bool) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, ErrEmpty
	}
	folded := Fold(s)
	switch {
	case trueSet[folded]:
		return true, nil
	case falseSet[folded]:
		return false, nil
	default:
		return false, fmt.Errorf("not a recognized boolean: %q", s)
	}
}

// Check reports whether s coerces to typ. format is the date layout for
// TypeDate, and an empty format accepts any of DefaultDateFormats;
// precision bounds the fraction digits for TypeDecimal.
func Check(typ ir.PrimitiveType, s, format string, precision int) error {
	switch typ {
	case ir.TypeString, "":
		return nil
	case ir.TypeInteger:
		_, err := Integer(s)
		return err
	case ir.TypeDecimal:
		d, err := Decimal(s)
		if err != nil {
			return err
		}
		if precision > 0 && -d.Exponent > int32(precision) {
			return fmt.Errorf("more than %d decimal places: %q", precision, s)
		}
		return nil
	case ir.TypeDate:
		_, err := Date(s, layoutsFor(format))
		return err
	default:
		return fmt.Errorf("unknown type %q", typ)
	}
}

// Compare orders two raw operands as numbers or dates of typ.
// It returns -1, 0, or +1.
func Compare(typ ir.PrimitiveType, a, b, format string) (int, error) {
	switch typ {
	case ir.TypeDate:
		ta, err := Date(a, layoutsFor(format))
		if err != nil {
			return 0, err
		}
		tb, err := Date(b, layoutsFor(format))
		if err != nil {
			return 0, err
		}
		return ta.Compare(tb), nil
	case ir.TypeInteger, ir.TypeDecimal, "":
		da, err := Decimal(a)
		if err != nil {
			return 0, err
		}
		db, err := Decimal(b)
		if err != nil {
			return 0, err
		}
		return da.Cmp(db), nil
	default:
		return 0, fmt.Errorf("type %q is not ordered", typ)
	}
}

// layoutsFor returns the single declared layout, or nil so Date falls back
// to DefaultDateFormats exactly as the date transform does.
func layoutsFor(format string) []string {
	if format == "" {
		return nil
	}
	return []string{format}
}
