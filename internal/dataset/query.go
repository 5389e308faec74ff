package dataset

import (
	"fmt"

	"github.com/alecthomas/participle/v2"
)

/*
This is a parser for the dataset filter language with the following grammar:

Query       := Expr
Expr        := OrExpr ( "OR" OrExpr )*
OrExpr      := Condition ( "AND" Condition )*
Condition   := "NOT"? ( Filter | "(" Expr ")" )
Filter      := Field Op Value
Op          := "CONTAINS" | "<" | ">" | "="
Value       := <string> | <number>

String fields: artist, album, genre. Numeric fields: rating, popularity,
tempo, danceability, energy, speechiness, valence.
*/

var parser = participle.MustBuild[QueryExpr](
	participle.Unquote("String"),
	participle.Union[Value](StringValue{}, NumberValue{}),
)

func ParseQuery(query string) (Filter, error) {
	q, err := parser.ParseString("", query)
	if err != nil {
		return nil, fmt.Errorf("error parsing query '%s': %w", query, err)
	}

	filter, err := q.ToFilter()
	if err != nil {
		return nil, fmt.Errorf("error converting query '%s' to filter: %w", query, err)
	}

	return filter, nil
}

type QueryExpr struct {
	Expr *Expr `parser:"@@"`
}

func (q *QueryExpr) ToFilter() (Filter, error) {
	return q.Expr.ToFilter()
}

type Expr struct {
	Ors []*OrExpr `parser:"@@ ( 'OR' @@ )*"`
}

func (e *Expr) ToFilter() (Filter, error) {
	if len(e.Ors) == 0 {
		return nil, fmt.Errorf("empty OR expression")
	}

	if len(e.Ors) == 1 {
		return e.Ors[0].ToFilter()
	}

	var filters []Filter
	for _, cond := range e.Ors {
		f, err := cond.ToFilter()
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	return &OrFilter{filters: filters}, nil
}

type OrExpr struct {
	Ands []*Condition `parser:"@@ ( 'AND' @@ )*"`
}

func (o *OrExpr) ToFilter() (Filter, error) {
	if len(o.Ands) == 0 {
		return nil, fmt.Errorf("empty AND expression")
	}

	if len(o.Ands) == 1 {
		return o.Ands[0].ToFilter()
	}

	var filters []Filter
	for _, cond := range o.Ands {
		f, err := cond.ToFilter()
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	return &AndFilter{filters: filters}, nil
}

type Condition struct {
	Not     bool        `parser:"@'NOT'?"`
	Filter  *FilterExpr `parser:" @@"`
	SubExpr *Expr       `parser:"| '(' @@ ')' "`
}

func (c *Condition) ToFilter() (Filter, error) {
	var filter Filter
	var err error
	if c.Filter != nil {
		filter, err = c.Filter.ToFilter()
	} else if c.SubExpr != nil {
		filter, err = c.SubExpr.ToFilter()
	}

	if err != nil {
		return nil, err
	}

	if c.Not {
		filter = &NotFilter{filter: filter}
	}

	return filter, nil
}

type FilterExpr struct {
	Field string `parser:"@Ident"`
	Op    string `parser:"@('CONTAINS' | '<' | '>' | '=' )"`
	Value Value  `parser:"@@"`
}

func (f *FilterExpr) ToFilter() (Filter, error) {
	if getter, ok := numberFields[f.Field]; ok {
		n, isNum := f.Value.(NumberValue)
		if !isNum {
			return nil, fmt.Errorf("field %s requires a numeric value to compare to", f.Field)
		}

		switch f.Op {
		case "<":
			return &NumberLtFilter{field: getter, value: n.Value}, nil
		case ">":
			return &NumberGtFilter{field: getter, value: n.Value}, nil
		case "=":
			return &NumberEqFilter{field: getter, value: n.Value}, nil
		default:
			return nil, fmt.Errorf("invalid operator %s used with numeric field %s", f.Op, f.Field)
		}
	}

	getter, ok := stringFields[f.Field]
	if !ok {
		return nil, fmt.Errorf("unknown field %s", f.Field)
	}

	s, isStr := f.Value.(StringValue)
	if !isStr {
		return nil, fmt.Errorf("field %s requires a string value to compare to", f.Field)
	}

	switch f.Op {
	case "CONTAINS":
		return &SubstringFilter{field: getter, substr: s.Value}, nil
	case "<":
		return &StringLtFilter{field: getter, value: s.Value}, nil
	case ">":
		return &StringGtFilter{field: getter, value: s.Value}, nil
	case "=":
		return &StringEqFilter{field: getter, value: s.Value}, nil
	default:
		return nil, fmt.Errorf("invalid operator %s used with string field %s", f.Op, f.Field)
	}
}

type Value interface{ value() }

type StringValue struct {
	Value string `parser:"@String"`
}

func (s StringValue) value() {}

type NumberValue struct {
	Value float64 `parser:"@(Float | Int)"`
}

func (n NumberValue) value() {}
