// Package flow implements the declarative flow DSL and its lazy
// comparison-AST evaluator: flows are built once (normally at process
// startup) and evaluated repeatedly against record snapshots assembled by
// the engine.
package flow

import (
	"github.com/radionest/clarinet/record"
)

// Context is the record-name -> snapshot mapping a single evaluation runs
// against.
type Context map[string]record.Snapshot

// ValueNode produces a value for comparison. The bool return reports
// whether the value was resolvable; an unresolvable value (missing record,
// missing field) makes any Compare using it evaluate to false rather than
// raising.
type ValueNode interface {
	Value(ctx Context) (interface{}, bool)
}

// BoolNode evaluates to true or false against a context.
type BoolNode interface {
	Evaluate(ctx Context) bool
}

// FieldRef reads a field from one record in the context by dot-path. An
// empty Path refers to the whole data blob.
type FieldRef struct {
	RecordName string
	Path       []string
}

func (f FieldRef) Value(ctx Context) (interface{}, bool) {
	snap, ok := ctx[f.RecordName]
	if !ok {
		return nil, false
	}
	return snap.Field(f.Path)
}

// ConstRef wraps a literal value so it can be compared against a FieldRef.
type ConstRef struct {
	Value_ interface{}
}

func (c ConstRef) Value(ctx Context) (interface{}, bool) {
	return c.Value_, true
}

// toValueNode wraps a plain value in ConstRef unless it is already a
// ValueNode, matching the DSL's auto-wrapping of comparison operands.
func toValueNode(v interface{}) ValueNode {
	if vn, ok := v.(ValueNode); ok {
		return vn
	}
	return ConstRef{Value_: v}
}

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "=="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// Compare is a binary comparison between two values.
type Compare struct {
	Left  ValueNode
	Op    Op
	Right ValueNode
}

func (c Compare) Evaluate(ctx Context) bool {
	lv, lok := c.Left.Value(ctx)
	rv, rok := c.Right.Value(ctx)
	if !lok || !rok {
		return false
	}
	return compareValues(lv, c.Op, rv)
}

// LogicKind is a boolean combinator.
type LogicKind string

const (
	LogicAnd LogicKind = "and"
	LogicOr  LogicKind = "or"
)

// Logic combines two boolean nodes, short-circuiting like Go's && and ||.
type Logic struct {
	Left  BoolNode
	Kind  LogicKind
	Right BoolNode
}

func (l Logic) Evaluate(ctx Context) bool {
	switch l.Kind {
	case LogicAnd:
		return l.Left.Evaluate(ctx) && l.Right.Evaluate(ctx)
	case LogicOr:
		return l.Left.Evaluate(ctx) || l.Right.Evaluate(ctx)
	default:
		return false
	}
}

// Eq, Ne, Lt, Le, Gt, Ge build a Compare node, auto-wrapping a plain value
// operand in ConstRef.
func Eq(left, right interface{}) Compare { return Compare{Left: toValueNode(left), Op: OpEq, Right: toValueNode(right)} }
func Ne(left, right interface{}) Compare { return Compare{Left: toValueNode(left), Op: OpNe, Right: toValueNode(right)} }
func Lt(left, right interface{}) Compare { return Compare{Left: toValueNode(left), Op: OpLt, Right: toValueNode(right)} }
func Le(left, right interface{}) Compare { return Compare{Left: toValueNode(left), Op: OpLe, Right: toValueNode(right)} }
func Gt(left, right interface{}) Compare { return Compare{Left: toValueNode(left), Op: OpGt, Right: toValueNode(right)} }
func Ge(left, right interface{}) Compare { return Compare{Left: toValueNode(left), Op: OpGe, Right: toValueNode(right)} }

// And and Or build a Logic node from two boolean nodes.
func And(left, right BoolNode) Logic { return Logic{Left: left, Kind: LogicAnd, Right: right} }
func Or(left, right BoolNode) Logic  { return Logic{Left: left, Kind: LogicOr, Right: right} }

// compareValues implements natural typed comparison: numeric, string, and
// boolean operands compare within their own type; mixed-type ordering is
// always false. Equality across mismatched types is always false (so
// inequality is always true).
func compareValues(left interface{}, op Op, right interface{}) bool {
	lf, lIsNum := asFloat(left)
	rf, rIsNum := asFloat(right)
	if lIsNum && rIsNum {
		return numericCompare(lf, op, rf)
	}

	ls, lIsStr := left.(string)
	rs, rIsStr := right.(string)
	if lIsStr && rIsStr {
		return stringCompare(ls, op, rs)
	}

	lb, lIsBool := left.(bool)
	rb, rIsBool := right.(bool)
	if lIsBool && rIsBool {
		switch op {
		case OpEq:
			return lb == rb
		case OpNe:
			return lb != rb
		default:
			return false
		}
	}

	switch op {
	case OpEq:
		return false
	case OpNe:
		return true
	default:
		return false
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func numericCompare(l float64, op Op, r float64) bool {
	switch op {
	case OpEq:
		return l == r
	case OpNe:
		return l != r
	case OpLt:
		return l < r
	case OpLe:
		return l <= r
	case OpGt:
		return l > r
	case OpGe:
		return l >= r
	}
	return false
}

func stringCompare(l string, op Op, r string) bool {
	switch op {
	case OpEq:
		return l == r
	case OpNe:
		return l != r
	case OpLt:
		return l < r
	case OpLe:
		return l <= r
	case OpGt:
		return l > r
	case OpGe:
		return l >= r
	}
	return false
}
