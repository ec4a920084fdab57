package backend

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	MethodOrderDesc   = "orderDesc"
	MethodOrderAsc    = "orderAsc"
	MethodLimit       = "limit"
	MethodCursorAfter = "cursorAfter"
	MethodEqual       = "equal"
	MethodSearch      = "search"
	MethodContains    = "contains"
)

// Query is one clause of a ListDocuments call.
type Query struct {
	Method    string
	Attribute string
	Values    []any
}

func OrderDesc(attr string) Query { return Query{Method: MethodOrderDesc, Attribute: attr} }
func OrderAsc(attr string) Query  { return Query{Method: MethodOrderAsc, Attribute: attr} }
func Limit(n int) Query           { return Query{Method: MethodLimit, Values: []any{n}} }
func CursorAfter(id string) Query { return Query{Method: MethodCursorAfter, Values: []any{id}} }

func Equal(attr string, values ...any) Query {
	return Query{Method: MethodEqual, Attribute: attr, Values: values}
}

func Search(attr, term string) Query {
	return Query{Method: MethodSearch, Attribute: attr, Values: []any{term}}
}

func Contains(attr string, value any) Query {
	return Query{Method: MethodContains, Attribute: attr, Values: []any{value}}
}

// String renders the query in the backend's wire syntax, e.g. orderDesc("$updatedAt").
func (q Query) String() string {
	quote := func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%q", fmt.Sprint(v))
		}
		return string(b)
	}
	switch q.Method {
	case MethodOrderDesc, MethodOrderAsc:
		return fmt.Sprintf("%s(%s)", q.Method, quote(q.Attribute))
	case MethodLimit:
		return fmt.Sprintf("%s(%v)", q.Method, q.first())
	case MethodCursorAfter:
		return fmt.Sprintf("%s(%s)", q.Method, quote(q.first()))
	case MethodSearch:
		return fmt.Sprintf("%s(%s, %s)", q.Method, quote(q.Attribute), quote(q.first()))
	default:
		vals := make([]string, len(q.Values))
		for i, v := range q.Values {
			vals[i] = quote(v)
		}
		return fmt.Sprintf("%s(%s, [%s])", q.Method, quote(q.Attribute), strings.Join(vals, ","))
	}
}

func (q Query) first() any {
	if len(q.Values) == 0 {
		return nil
	}
	return q.Values[0]
}

// Plan is a parsed query list, shared by the in-process and database implementations.
type Plan struct {
	Filters     []Query
	OrderBy     string
	Descending  bool
	Limit       int
	CursorAfter string
}

// DefaultListLimit is applied when no limit clause is given.
const DefaultListLimit = 25

// Compile folds queries into a Plan. The last order/limit/cursor clause wins.
func Compile(queries []Query) (Plan, error) {
	p := Plan{Limit: DefaultListLimit}
	for _, q := range queries {
		switch q.Method {
		case MethodOrderDesc, MethodOrderAsc:
			if q.Attribute == "" {
				return p, fmt.Errorf("%w: %s without attribute", ErrInvalidQuery, q.Method)
			}
			p.OrderBy = q.Attribute
			p.Descending = q.Method == MethodOrderDesc
		case MethodLimit:
			n, ok := toInt(q.first())
			if !ok || n < 0 {
				return p, fmt.Errorf("%w: limit %v", ErrInvalidQuery, q.first())
			}
			p.Limit = n
		case MethodCursorAfter:
			id, _ := q.first().(string)
			if id == "" {
				return p, fmt.Errorf("%w: empty cursor", ErrInvalidQuery)
			}
			p.CursorAfter = id
		case MethodEqual, MethodSearch, MethodContains:
			if q.Attribute == "" || len(q.Values) == 0 {
				return p, fmt.Errorf("%w: %s needs attribute and value", ErrInvalidQuery, q.Method)
			}
			p.Filters = append(p.Filters, q)
		default:
			return p, fmt.Errorf("%w: unknown method %q", ErrInvalidQuery, q.Method)
		}
	}
	return p, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
