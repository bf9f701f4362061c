package vm

import (
	"math"
	"strings"

	"golang.org/x/exp/constraints"
)

// Operator identifies a unary or binary operator.
type Operator uint8

const (
	OpEqual Operator = iota
	OpNotEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpNegate
	OpPositive
	OpModule
	OpPower
	OpShiftLeft
	OpShiftRight
	OpBitAnd
	OpBitOr
	OpBitXor
	OpBitNegate
	OpAnd
	OpOr
	OpXor
	OpNot
	OpIn
	OperatorMax
)

var operatorNames = [OperatorMax]string{
	OpEqual: "==", OpNotEqual: "!=", OpLess: "<", OpLessEqual: "<=",
	OpGreater: ">", OpGreaterEqual: ">=", OpAdd: "+", OpSubtract: "-",
	OpMultiply: "*", OpDivide: "/", OpNegate: "unary-", OpPositive: "unary+",
	OpModule: "%", OpPower: "**", OpShiftLeft: "<<", OpShiftRight: ">>",
	OpBitAnd: "&", OpBitOr: "|", OpBitXor: "^", OpBitNegate: "~",
	OpAnd: "and", OpOr: "or", OpXor: "xor", OpNot: "not", OpIn: "in",
}

func (o Operator) String() string {
	if o < OperatorMax {
		return operatorNames[o]
	}
	return "<invalid operator>"
}

// IsUnary reports whether o takes a single operand.
func (o Operator) IsUnary() bool {
	switch o {
	case OpNegate, OpPositive, OpBitNegate, OpNot:
		return true
	}
	return false
}

// uncachedOperators can fail depending on operand values rather than
// operand types, so their call sites always take the checked path.
var uncachedOperators = [OperatorMax]bool{
	OpDivide:     true,
	OpModule:     true,
	OpPower:      true,
	OpShiftLeft:  true,
	OpShiftRight: true,
}

// Cacheable reports whether call sites of o may use an inline cache entry.
func (o Operator) Cacheable() bool {
	return o < OperatorMax && !uncachedOperators[o]
}

// ---------------------------------------------------------------------------
// Validated evaluators
// ---------------------------------------------------------------------------

// Evaluator computes an operator for operands of already-proven types.
type Evaluator func(a, b Value) Value

// ValidatedOperator is the resolved implementation of an operator for one
// operand type pair. Unary operators use TypeNil as the right type.
type ValidatedOperator struct {
	Op     Operator
	Left   Type
	Right  Type
	Return Type
	Eval   Evaluator
}

var operatorTable [OperatorMax][TypeMax][TypeMax]*ValidatedOperator

// LookupOperator returns the evaluator for op over the given operand types,
// or nil when the combination is not supported.
func LookupOperator(op Operator, left, right Type) *ValidatedOperator {
	if op >= OperatorMax || left >= TypeMax || right >= TypeMax {
		return nil
	}
	return operatorTable[op][left][right]
}

func defOp(op Operator, l, r, ret Type, fn Evaluator) {
	operatorTable[op][l][r] = &ValidatedOperator{Op: op, Left: l, Right: r, Return: ret, Eval: fn}
}

func ipow(base, exp int64) int64 {
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}

func compare[T constraints.Ordered](op Operator, a, b T) bool {
	switch op {
	case OpLess:
		return a < b
	case OpLessEqual:
		return a <= b
	case OpGreater:
		return a > b
	case OpGreaterEqual:
		return a >= b
	case OpEqual:
		return a == b
	}
	return a != b
}

func init() {
	I, F, B, S := TypeInt, TypeFloat, TypeBool, TypeString

	// int op int
	defOp(OpAdd, I, I, I, func(a, b Value) Value { return Int(a.AsInt() + b.AsInt()) })
	defOp(OpSubtract, I, I, I, func(a, b Value) Value { return Int(a.AsInt() - b.AsInt()) })
	defOp(OpMultiply, I, I, I, func(a, b Value) Value { return Int(a.AsInt() * b.AsInt()) })
	defOp(OpDivide, I, I, I, func(a, b Value) Value {
		if b.AsInt() == 0 {
			return Int(0)
		}
		return Int(a.AsInt() / b.AsInt())
	})
	defOp(OpModule, I, I, I, func(a, b Value) Value {
		if b.AsInt() == 0 {
			return Int(0)
		}
		return Int(a.AsInt() % b.AsInt())
	})
	defOp(OpPower, I, I, I, func(a, b Value) Value {
		if b.AsInt() < 0 {
			return Int(0)
		}
		return Int(ipow(a.AsInt(), b.AsInt()))
	})
	defOp(OpShiftLeft, I, I, I, func(a, b Value) Value {
		if b.AsInt() < 0 {
			return Int(0)
		}
		return Int(a.AsInt() << uint64(b.AsInt()))
	})
	defOp(OpShiftRight, I, I, I, func(a, b Value) Value {
		if b.AsInt() < 0 {
			return Int(0)
		}
		return Int(a.AsInt() >> uint64(b.AsInt()))
	})
	defOp(OpBitAnd, I, I, I, func(a, b Value) Value { return Int(a.AsInt() & b.AsInt()) })
	defOp(OpBitOr, I, I, I, func(a, b Value) Value { return Int(a.AsInt() | b.AsInt()) })
	defOp(OpBitXor, I, I, I, func(a, b Value) Value { return Int(a.AsInt() ^ b.AsInt()) })
	defOp(OpBitNegate, I, TypeNil, I, func(a, _ Value) Value { return Int(^a.AsInt()) })
	defOp(OpNegate, I, TypeNil, I, func(a, _ Value) Value { return Int(-a.AsInt()) })
	defOp(OpPositive, I, TypeNil, I, func(a, _ Value) Value { return a })
	defOp(OpNegate, F, TypeNil, F, func(a, _ Value) Value { return Float(-a.AsFloat()) })
	defOp(OpPositive, F, TypeNil, F, func(a, _ Value) Value { return a })

	// Float arithmetic over any numeric pair except int op int.
	for _, p := range [][2]Type{{F, F}, {I, F}, {F, I}} {
		l, r := p[0], p[1]
		defOp(OpAdd, l, r, F, func(a, b Value) Value { return Float(a.AsFloat() + b.AsFloat()) })
		defOp(OpSubtract, l, r, F, func(a, b Value) Value { return Float(a.AsFloat() - b.AsFloat()) })
		defOp(OpMultiply, l, r, F, func(a, b Value) Value { return Float(a.AsFloat() * b.AsFloat()) })
		defOp(OpDivide, l, r, F, func(a, b Value) Value { return Float(a.AsFloat() / b.AsFloat()) })
		defOp(OpModule, l, r, F, func(a, b Value) Value { return Float(math.Mod(a.AsFloat(), b.AsFloat())) })
		defOp(OpPower, l, r, F, func(a, b Value) Value { return Float(math.Pow(a.AsFloat(), b.AsFloat())) })
	}

	// Comparisons.
	for _, op := range []Operator{OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual} {
		defOp(op, I, I, B, func(a, b Value) Value { return Bool(compare(op, a.AsInt(), b.AsInt())) })
		for _, p := range [][2]Type{{F, F}, {I, F}, {F, I}} {
			defOp(op, p[0], p[1], B, func(a, b Value) Value { return Bool(compare(op, a.AsFloat(), b.AsFloat())) })
		}
		defOp(op, S, S, B, func(a, b Value) Value { return Bool(compare(op, a.AsString(), b.AsString())) })
	}
	for t := TypeNil; t < TypeMax; t++ {
		if t == I || t == F || t == S {
			continue
		}
		defOp(OpEqual, t, t, B, func(a, b Value) Value { return Bool(Equal(a, b)) })
		defOp(OpNotEqual, t, t, B, func(a, b Value) Value { return Bool(!Equal(a, b)) })
	}

	// Logic.
	defOp(OpAnd, B, B, B, func(a, b Value) Value { return Bool(a.AsBool() && b.AsBool()) })
	defOp(OpOr, B, B, B, func(a, b Value) Value { return Bool(a.AsBool() || b.AsBool()) })
	defOp(OpXor, B, B, B, func(a, b Value) Value { return Bool(a.AsBool() != b.AsBool()) })
	defOp(OpNot, B, TypeNil, B, func(a, _ Value) Value { return Bool(!a.AsBool()) })

	// Strings and arrays.
	defOp(OpAdd, S, S, S, func(a, b Value) Value { return String(a.AsString() + b.AsString()) })
	defOp(OpAdd, TypeArray, TypeArray, TypeArray, func(a, b Value) Value {
		x, y := a.AsArray(), b.AsArray()
		out := make([]Value, 0, x.Len()+y.Len())
		out = append(out, x.Elems()...)
		out = append(out, y.Elems()...)
		return ArrayValue(NewArray(out...))
	})

	defVectorOps()
}

func defVectorOps() {
	V2, V2i, V3, V3i, F, I := TypeVector2, TypeVector2i, TypeVector3, TypeVector3i, TypeFloat, TypeInt

	defOp(OpAdd, V2, V2, V2, func(a, b Value) Value {
		x, y := a.AsVector2(), b.AsVector2()
		return Vec2(x.X+y.X, x.Y+y.Y)
	})
	defOp(OpSubtract, V2, V2, V2, func(a, b Value) Value {
		x, y := a.AsVector2(), b.AsVector2()
		return Vec2(x.X-y.X, x.Y-y.Y)
	})
	defOp(OpMultiply, V2, V2, V2, func(a, b Value) Value {
		x, y := a.AsVector2(), b.AsVector2()
		return Vec2(x.X*y.X, x.Y*y.Y)
	})
	defOp(OpDivide, V2, V2, V2, func(a, b Value) Value {
		x, y := a.AsVector2(), b.AsVector2()
		return Vec2(x.X/y.X, x.Y/y.Y)
	})
	for _, s := range []Type{F, I} {
		defOp(OpMultiply, V2, s, V2, func(a, b Value) Value {
			x, k := a.AsVector2(), b.AsFloat()
			return Vec2(x.X*k, x.Y*k)
		})
		defOp(OpMultiply, s, V2, V2, func(a, b Value) Value {
			k, x := a.AsFloat(), b.AsVector2()
			return Vec2(x.X*k, x.Y*k)
		})
		defOp(OpDivide, V2, s, V2, func(a, b Value) Value {
			x, k := a.AsVector2(), b.AsFloat()
			return Vec2(x.X/k, x.Y/k)
		})
		defOp(OpMultiply, V3, s, V3, func(a, b Value) Value {
			x, k := a.AsVector3(), b.AsFloat()
			return Vec3(x.X*k, x.Y*k, x.Z*k)
		})
		defOp(OpMultiply, s, V3, V3, func(a, b Value) Value {
			k, x := a.AsFloat(), b.AsVector3()
			return Vec3(x.X*k, x.Y*k, x.Z*k)
		})
		defOp(OpDivide, V3, s, V3, func(a, b Value) Value {
			x, k := a.AsVector3(), b.AsFloat()
			return Vec3(x.X/k, x.Y/k, x.Z/k)
		})
	}
	defOp(OpNegate, V2, TypeNil, V2, func(a, _ Value) Value {
		x := a.AsVector2()
		return Vec2(-x.X, -x.Y)
	})

	defOp(OpAdd, V3, V3, V3, func(a, b Value) Value {
		x, y := a.AsVector3(), b.AsVector3()
		return Vec3(x.X+y.X, x.Y+y.Y, x.Z+y.Z)
	})
	defOp(OpSubtract, V3, V3, V3, func(a, b Value) Value {
		x, y := a.AsVector3(), b.AsVector3()
		return Vec3(x.X-y.X, x.Y-y.Y, x.Z-y.Z)
	})
	defOp(OpMultiply, V3, V3, V3, func(a, b Value) Value {
		x, y := a.AsVector3(), b.AsVector3()
		return Vec3(x.X*y.X, x.Y*y.Y, x.Z*y.Z)
	})
	defOp(OpDivide, V3, V3, V3, func(a, b Value) Value {
		x, y := a.AsVector3(), b.AsVector3()
		return Vec3(x.X/y.X, x.Y/y.Y, x.Z/y.Z)
	})
	defOp(OpNegate, V3, TypeNil, V3, func(a, _ Value) Value {
		x := a.AsVector3()
		return Vec3(-x.X, -x.Y, -x.Z)
	})

	defOp(OpAdd, V2i, V2i, V2i, func(a, b Value) Value {
		x, y := a.AsVector2i(), b.AsVector2i()
		return Vec2i(x.X+y.X, x.Y+y.Y)
	})
	defOp(OpSubtract, V2i, V2i, V2i, func(a, b Value) Value {
		x, y := a.AsVector2i(), b.AsVector2i()
		return Vec2i(x.X-y.X, x.Y-y.Y)
	})
	defOp(OpMultiply, V2i, V2i, V2i, func(a, b Value) Value {
		x, y := a.AsVector2i(), b.AsVector2i()
		return Vec2i(x.X*y.X, x.Y*y.Y)
	})
	defOp(OpMultiply, V2i, I, V2i, func(a, b Value) Value {
		x, k := a.AsVector2i(), b.AsInt()
		return Vec2i(x.X*k, x.Y*k)
	})
	defOp(OpNegate, V2i, TypeNil, V2i, func(a, _ Value) Value {
		x := a.AsVector2i()
		return Vec2i(-x.X, -x.Y)
	})
	defOp(OpAdd, V3i, V3i, V3i, func(a, b Value) Value {
		x, y := a.AsVector3i(), b.AsVector3i()
		return Vec3i(x.X+y.X, x.Y+y.Y, x.Z+y.Z)
	})
	defOp(OpSubtract, V3i, V3i, V3i, func(a, b Value) Value {
		x, y := a.AsVector3i(), b.AsVector3i()
		return Vec3i(x.X-y.X, x.Y-y.Y, x.Z-y.Z)
	})
	defOp(OpMultiply, V3i, V3i, V3i, func(a, b Value) Value {
		x, y := a.AsVector3i(), b.AsVector3i()
		return Vec3i(x.X*y.X, x.Y*y.Y, x.Z*y.Z)
	})
	defOp(OpMultiply, V3i, I, V3i, func(a, b Value) Value {
		x, k := a.AsVector3i(), b.AsInt()
		return Vec3i(x.X*k, x.Y*k, x.Z*k)
	})
	defOp(OpNegate, V3i, TypeNil, V3i, func(a, _ Value) Value {
		x := a.AsVector3i()
		return Vec3i(-x.X, -x.Y, -x.Z)
	})
}

// ---------------------------------------------------------------------------
// Generic evaluation
// ---------------------------------------------------------------------------

// Evaluate computes op over a and b with full runtime checks. For unary
// operators b is ignored.
func Evaluate(op Operator, a, b Value) (Value, error) {
	if op >= OperatorMax {
		return Nil, failf(ErrInvalidOperands, "Invalid operator %d.", op)
	}
	if op.IsUnary() {
		b = Nil
	}
	switch op {
	case OpDivide, OpModule:
		if a.typ == TypeInt && b.typ == TypeInt && b.AsInt() == 0 {
			return Nil, failf(ErrDivisionByZero, "Division by zero error in operator '%s'.", op)
		}
	case OpPower:
		if a.typ == TypeInt && b.typ == TypeInt && b.AsInt() < 0 {
			return Nil, failf(ErrInvalidOperands, "Negative exponent in integer power.")
		}
	case OpShiftLeft, OpShiftRight:
		if a.typ == TypeInt && b.typ == TypeInt && b.AsInt() < 0 {
			return Nil, failf(ErrInvalidOperands, "Invalid shift count %d in operator '%s'.", b.AsInt(), op)
		}
	case OpIn:
		return contains(b, a)
	}
	if v := LookupOperator(op, a.typ, b.typ); v != nil {
		return v.Eval(a, b), nil
	}
	switch op {
	case OpEqual:
		return Bool(Equal(a, b)), nil
	case OpNotEqual:
		return Bool(!Equal(a, b)), nil
	case OpAnd:
		return Bool(a.Truthy() && b.Truthy()), nil
	case OpOr:
		return Bool(a.Truthy() || b.Truthy()), nil
	case OpXor:
		return Bool(a.Truthy() != b.Truthy()), nil
	case OpNot:
		return Bool(!a.Truthy()), nil
	}
	return Nil, invalidOperands(op, a, b)
}

func invalidOperands(op Operator, a, b Value) error {
	if op.IsUnary() {
		return failf(ErrInvalidOperands, "Invalid operand of type '%s' in unary operator '%s'.", a.typ, op)
	}
	return failf(ErrInvalidOperands, "Invalid operands '%s' and '%s' in operator '%s'.", a.typ, b.typ, op)
}

// contains implements `needle in haystack`.
func contains(haystack, needle Value) (Value, error) {
	switch haystack.typ {
	case TypeString:
		if needle.typ != TypeString {
			return Nil, invalidOperands(OpIn, needle, haystack)
		}
		return Bool(strings.Contains(haystack.AsString(), needle.AsString())), nil
	case TypeArray:
		return Bool(haystack.AsArray().Find(needle) >= 0), nil
	case TypeMap:
		return Bool(haystack.AsMap().Has(needle)), nil
	case TypeObject:
		obj, freed := haystack.ValidObject()
		if freed || obj == nil {
			return Nil, failf(ErrNullInstance, "Invalid base object for 'in'.")
		}
		if p, ok := obj.(PropertyAccessor); ok && needle.typ == TypeString {
			_, has := p.GetProperty(needle.AsString())
			return Bool(has), nil
		}
		return Bool(false), nil
	}
	if haystack.typ.IsPacked() {
		for i, n := 0, packedLen(haystack); i < n; i++ {
			e, _ := packedAt(haystack, i)
			if Equal(e, needle) {
				return Bool(true), nil
			}
		}
		return Bool(false), nil
	}
	return Nil, invalidOperands(OpIn, needle, haystack)
}
