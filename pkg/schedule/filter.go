package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Entry filters are boolean expressions over entry fields, e.g.
//
//	state = "READY" AND priority >= 5
//	dueDate < "2026-09-01" OR (material = "AL-6061" AND quantity > 10)
//
// String fields (state, resource, material, part, operation) support = and
// !=; numeric fields (priority, quantity, sequencePosition, requiredHours,
// materialQuantity) and dueDate support the full comparison set. AND binds
// tighter than OR; parentheses group.

var filterLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "whitespace", Pattern: `\s+`},
	{Name: "Keyword", Pattern: `(?i)\b(AND|OR)\b`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "String", Pattern: `"[^"]*"`},
	{Name: "Number", Pattern: `[-+]?\d+(\.\d+)?`},
	{Name: "Op", Pattern: `>=|<=|!=|=|>|<`},
	{Name: "Paren", Pattern: `[()]`},
})

type filterExpr struct {
	Or []*filterAnd `parser:"@@ ( 'OR' @@ )*"`
}

type filterAnd struct {
	Terms []*filterTerm `parser:"@@ ( 'AND' @@ )*"`
}

type filterTerm struct {
	Comparison *filterComparison `parser:"  @@"`
	Group      *filterExpr       `parser:"| '(' @@ ')'"`
}

type filterComparison struct {
	Field string       `parser:"@Ident"`
	Op    string       `parser:"@Op"`
	Value *filterValue `parser:"@@"`
}

type filterValue struct {
	Str *string  `parser:"  @String"`
	Num *float64 `parser:"| @Number"`
}

var filterParser = participle.MustBuild[filterExpr](
	participle.Lexer(filterLexer),
	participle.Unquote("String"),
	participle.CaseInsensitive("Keyword"),
)

// EntryFilter is a compiled filter expression applied to schedule entries.
// The zero filter (empty expression) matches every entry.
type EntryFilter struct {
	expr string
	pred func(*ScheduleEntry) bool
}

// ParseFilter compiles a filter expression. Syntax errors, unknown fields,
// and operator/type mismatches are reported as ValidationErrors.
func ParseFilter(expr string) (*EntryFilter, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return &EntryFilter{}, nil
	}
	ast, err := filterParser.ParseString("", trimmed)
	if err != nil {
		return nil, &ValidationError{Field: "filter", Message: err.Error()}
	}
	pred, err := compileExpr(ast)
	if err != nil {
		return nil, err
	}
	return &EntryFilter{expr: trimmed, pred: pred}, nil
}

// String returns the original filter expression.
func (f *EntryFilter) String() string { return f.expr }

// Matches reports whether the entry satisfies the filter.
func (f *EntryFilter) Matches(e *ScheduleEntry) bool {
	if f == nil || f.pred == nil {
		return true
	}
	return f.pred(e)
}

func compileExpr(expr *filterExpr) (func(*ScheduleEntry) bool, error) {
	alts := make([]func(*ScheduleEntry) bool, 0, len(expr.Or))
	for _, and := range expr.Or {
		p, err := compileAnd(and)
		if err != nil {
			return nil, err
		}
		alts = append(alts, p)
	}
	return func(e *ScheduleEntry) bool {
		for _, p := range alts {
			if p(e) {
				return true
			}
		}
		return false
	}, nil
}

func compileAnd(and *filterAnd) (func(*ScheduleEntry) bool, error) {
	terms := make([]func(*ScheduleEntry) bool, 0, len(and.Terms))
	for _, t := range and.Terms {
		p, err := compileTerm(t)
		if err != nil {
			return nil, err
		}
		terms = append(terms, p)
	}
	return func(e *ScheduleEntry) bool {
		for _, p := range terms {
			if !p(e) {
				return false
			}
		}
		return true
	}, nil
}

func compileTerm(t *filterTerm) (func(*ScheduleEntry) bool, error) {
	if t.Group != nil {
		return compileExpr(t.Group)
	}
	return compileComparison(t.Comparison)
}

func compileComparison(c *filterComparison) (func(*ScheduleEntry) bool, error) {
	switch c.Field {
	case "state", "resource", "material", "part", "operation":
		if c.Value.Str == nil {
			return nil, &ValidationError{Field: "filter", Message: fmt.Sprintf("field %s requires a quoted string value", c.Field)}
		}
		if c.Op != "=" && c.Op != "!=" {
			return nil, &ValidationError{Field: "filter", Message: fmt.Sprintf("field %s supports only = and !=", c.Field)}
		}
		want := *c.Value.Str
		get := stringGetter(c.Field)
		if c.Op == "=" {
			return func(e *ScheduleEntry) bool { return strings.EqualFold(get(e), want) }, nil
		}
		return func(e *ScheduleEntry) bool { return !strings.EqualFold(get(e), want) }, nil

	case "priority", "quantity", "sequencePosition", "requiredHours", "materialQuantity":
		if c.Value.Num == nil {
			return nil, &ValidationError{Field: "filter", Message: fmt.Sprintf("field %s requires a numeric value", c.Field)}
		}
		return numericPred(numberGetter(c.Field), c.Op, *c.Value.Num), nil

	case "dueDate":
		if c.Value.Str == nil {
			return nil, &ValidationError{Field: "filter", Message: "field dueDate requires a quoted RFC3339 or YYYY-MM-DD value"}
		}
		want, err := parseFilterTime(*c.Value.Str)
		if err != nil {
			return nil, &ValidationError{Field: "filter", Message: fmt.Sprintf("field dueDate: %v", err)}
		}
		return timePred(c.Op, want), nil
	}
	return nil, &ValidationError{Field: "filter", Message: fmt.Sprintf("unknown field %q", c.Field)}
}

func stringGetter(field string) func(*ScheduleEntry) string {
	switch field {
	case "state":
		return func(e *ScheduleEntry) string { return string(e.State) }
	case "resource":
		return func(e *ScheduleEntry) string { return e.ResourceID }
	case "material":
		return func(e *ScheduleEntry) string { return e.MaterialID }
	case "part":
		return func(e *ScheduleEntry) string { return e.PartRef }
	default:
		return func(e *ScheduleEntry) string { return e.OperationRef }
	}
}

func numberGetter(field string) func(*ScheduleEntry) float64 {
	switch field {
	case "priority":
		return func(e *ScheduleEntry) float64 { return float64(e.Priority) }
	case "quantity":
		return func(e *ScheduleEntry) float64 { return e.Quantity }
	case "sequencePosition":
		return func(e *ScheduleEntry) float64 { return float64(e.SequencePosition) }
	case "requiredHours":
		return func(e *ScheduleEntry) float64 { return e.RequiredHours }
	default:
		return func(e *ScheduleEntry) float64 { return e.MaterialQuantity }
	}
}

func numericPred(get func(*ScheduleEntry) float64, op string, want float64) func(*ScheduleEntry) bool {
	switch op {
	case "=":
		return func(e *ScheduleEntry) bool { return get(e) == want }
	case "!=":
		return func(e *ScheduleEntry) bool { return get(e) != want }
	case ">":
		return func(e *ScheduleEntry) bool { return get(e) > want }
	case ">=":
		return func(e *ScheduleEntry) bool { return get(e) >= want }
	case "<":
		return func(e *ScheduleEntry) bool { return get(e) < want }
	default:
		return func(e *ScheduleEntry) bool { return get(e) <= want }
	}
}

func timePred(op string, want time.Time) func(*ScheduleEntry) bool {
	switch op {
	case "=":
		return func(e *ScheduleEntry) bool { return e.DueDate.Equal(want) }
	case "!=":
		return func(e *ScheduleEntry) bool { return !e.DueDate.Equal(want) }
	case ">":
		return func(e *ScheduleEntry) bool { return e.DueDate.After(want) }
	case ">=":
		return func(e *ScheduleEntry) bool { return !e.DueDate.Before(want) }
	case "<":
		return func(e *ScheduleEntry) bool { return e.DueDate.Before(want) }
	default:
		return func(e *ScheduleEntry) bool { return !e.DueDate.After(want) }
	}
}

func parseFilterTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("value %q is neither RFC3339 nor YYYY-MM-DD", s)
	}
	return t, nil
}
