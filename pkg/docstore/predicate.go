package docstore

import (
	"fmt"
	"strings"
)

// Op tags the variant held by a Predicate.
type Op int

const (
	OpAll Op = iota
	OpNone
	OpEq
	OpIn
	OpContains
	OpTest
	OpAnd
	OpOr
)

// TestFunc inspects the normalized value of a single field.
type TestFunc func(v any) bool

// Predicate is a composable boolean expression over document fields.
//
// Leaves (Eq, In, Contains, Test) never match a document that lacks the field.
// The zero value matches everything.
type Predicate struct {
	op       Op
	field    string
	value    any
	values   []any
	name     string
	test     TestFunc
	children []Predicate
}

// All matches every document.
func All() Predicate { return Predicate{op: OpAll} }

// None matches no document.
func None() Predicate { return Predicate{op: OpNone} }

// Eq matches documents whose field equals v.
func Eq(field string, v any) Predicate {
	return Predicate{op: OpEq, field: field, value: predicateValue(v)}
}

// In matches documents whose field equals any of vs.
func In(field string, vs ...any) Predicate {
	values := make([]any, 0, len(vs))
	for _, v := range vs {
		values = append(values, predicateValue(v))
	}
	return Predicate{op: OpIn, field: field, values: values}
}

// Contains matches a string field containing v as a substring, a list field holding
// an element equal to v, or a map field with key v.
func Contains(field string, v any) Predicate {
	return Predicate{op: OpContains, field: field, value: predicateValue(v)}
}

// Test matches documents for which fn returns true on the field's value.
// name only shows up in String().
func Test(field, name string, fn TestFunc) Predicate {
	return Predicate{op: OpTest, field: field, name: name, test: fn}
}

// And matches when every child matches. And() is All().
func And(ps ...Predicate) Predicate {
	return combine(OpAnd, ps)
}

// Or matches when any child matches. Or() is None().
func Or(ps ...Predicate) Predicate {
	return combine(OpOr, ps)
}

func combine(op Op, ps []Predicate) Predicate {
	children := make([]Predicate, 0, len(ps))
	for _, p := range ps {
		switch {
		case p.op == op:
			children = append(children, p.children...)
		case op == OpAnd && p.op == OpAll:
		case op == OpOr && p.op == OpNone:
		default:
			children = append(children, p)
		}
	}
	switch len(children) {
	case 0:
		if op == OpAnd {
			return All()
		}
		return None()
	case 1:
		return children[0]
	}
	return Predicate{op: op, children: children}
}

// Op reports the variant of p.
func (p Predicate) Op() Op { return p.op }

// Field reports the field a leaf predicate tests.
func (p Predicate) Field() string { return p.field }

// Match evaluates p against d.
func (p Predicate) Match(d Document) bool {
	switch p.op {
	case OpAll:
		return true
	case OpNone:
		return false
	case OpAnd:
		for _, c := range p.children {
			if !c.Match(d) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range p.children {
			if c.Match(d) {
				return true
			}
		}
		return false
	}

	v, ok := d[p.field]
	if !ok {
		return false
	}
	switch p.op {
	case OpEq:
		return valuesEqual(v, p.value)
	case OpIn:
		for _, want := range p.values {
			if valuesEqual(v, want) {
				return true
			}
		}
		return false
	case OpContains:
		return containsValue(v, p.value)
	case OpTest:
		return p.test != nil && p.test(v)
	}
	return false
}

// keyLookup returns the natural key a predicate pins down, so stores can use an index.
func (p Predicate) keyLookup() (string, bool) {
	if p.op == OpEq && p.field == KeyField && p.value != nil {
		return keyString(p.value), true
	}
	return "", false
}

func (p Predicate) String() string {
	switch p.op {
	case OpAll:
		return "all"
	case OpNone:
		return "none"
	case OpEq:
		return fmt.Sprintf("(%s == %v)", p.field, p.value)
	case OpIn:
		return fmt.Sprintf("(%s in %v)", p.field, p.values)
	case OpContains:
		return fmt.Sprintf("(%s contains %v)", p.field, p.value)
	case OpTest:
		return fmt.Sprintf("(%s test %s)", p.field, p.name)
	case OpAnd, OpOr:
		sep := " & "
		if p.op == OpOr {
			sep = " | "
		}
		parts := make([]string, 0, len(p.children))
		for _, c := range p.children {
			parts = append(parts, c.String())
		}
		return "(" + strings.Join(parts, sep) + ")"
	}
	return "?"
}

func containsValue(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(h, s)
	case []any:
		for _, e := range h {
			if valuesEqual(e, needle) {
				return true
			}
		}
		return false
	case map[string]any:
		s, ok := needle.(string)
		if !ok {
			return false
		}
		_, found := h[s]
		return found
	}
	return false
}

func predicateValue(v any) any {
	nv, err := normalizeValue(v)
	if err != nil {
		return v
	}
	return nv
}
