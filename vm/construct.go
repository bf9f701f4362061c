package vm

import (
	"strconv"
	"strings"
)

// DefaultValue returns the zero value of t.
func DefaultValue(t Type) Value {
	switch t {
	case TypeNil:
		return Nil
	case TypeBool:
		return Bool(false)
	case TypeInt:
		return Int(0)
	case TypeFloat:
		return Float(0)
	case TypeString:
		return String("")
	case TypeVector2:
		return Vec2(0, 0)
	case TypeVector2i:
		return Vec2i(0, 0)
	case TypeVector3:
		return Vec3(0, 0, 0)
	case TypeVector3i:
		return Vec3i(0, 0, 0)
	case TypeObject:
		return ObjectValue(nil)
	case TypeCallable:
		return Value{typ: TypeCallable}
	case TypeSignal:
		return Value{typ: TypeSignal}
	case TypeMap:
		return MapValue(NewMap())
	case TypeArray:
		return ArrayValue(NewArray())
	}
	v, _ := arrayToPacked(t, nil)
	return v
}

// DefaultFor returns the zero value of a declared type. Typed containers
// get fresh empty containers of the same element types.
func DefaultFor(t TypeInfo) Value {
	switch t.Kind {
	case KindVariant:
		return Nil
	case KindNative, KindScript:
		return ObjectValue(nil)
	}
	switch t.Builtin {
	case TypeArray:
		return ArrayValue(&Array{elemType: t.ElemType(0)})
	case TypeMap:
		return MapValue(NewTypedMap(t.ElemType(0), t.ElemType(1)))
	}
	return DefaultValue(t.Builtin)
}

// CanConvertStrict reports whether an argument of type from may be bound to
// a parameter of type to without losing meaning.
func CanConvertStrict(from, to Type) bool {
	if from == to {
		return true
	}
	switch to {
	case TypeBool:
		return from == TypeInt || from == TypeFloat
	case TypeInt:
		return from == TypeBool || from == TypeFloat
	case TypeFloat:
		return from == TypeBool || from == TypeInt
	case TypeVector2:
		return from == TypeVector2i
	case TypeVector2i:
		return from == TypeVector2
	case TypeVector3:
		return from == TypeVector3i
	case TypeVector3i:
		return from == TypeVector3
	case TypeObject:
		return from == TypeNil
	case TypeArray:
		return from.IsPacked()
	}
	if to.IsPacked() {
		return from == TypeArray
	}
	return false
}

// CanConvert reports whether an explicit cast from one type to another is
// possible.
func CanConvert(from, to Type) bool {
	if CanConvertStrict(from, to) {
		return true
	}
	switch to {
	case TypeString:
		return true
	case TypeBool, TypeInt, TypeFloat:
		return from == TypeString
	}
	return false
}

// Construct builds a value of type t from args, the way typed constructors
// and conversions do. Failures are reported as *CallError.
func Construct(t Type, args []Value) (Value, error) {
	switch len(args) {
	case 0:
		return DefaultValue(t), nil
	case 1:
		return convert(t, args[0])
	}
	switch t {
	case TypeVector2, TypeVector2i:
		if len(args) != 2 {
			return Nil, tooManyArguments(2)
		}
		return constructVector(t, args)
	case TypeVector3, TypeVector3i:
		if len(args) > 3 {
			return Nil, tooManyArguments(3)
		}
		if len(args) < 3 {
			return Nil, tooFewArguments(3)
		}
		return constructVector(t, args)
	}
	return Nil, tooManyArguments(1)
}

func constructVector(t Type, args []Value) (Value, error) {
	for i, a := range args {
		if !a.IsNumber() {
			return Nil, invalidArgument(i, TypeFloat)
		}
	}
	switch t {
	case TypeVector2:
		return Vec2(args[0].AsFloat(), args[1].AsFloat()), nil
	case TypeVector2i:
		return Vec2i(args[0].AsInt(), args[1].AsInt()), nil
	case TypeVector3:
		return Vec3(args[0].AsFloat(), args[1].AsFloat(), args[2].AsFloat()), nil
	}
	return Vec3i(args[0].AsInt(), args[1].AsInt(), args[2].AsInt()), nil
}

func convert(t Type, v Value) (Value, error) {
	if v.typ == t {
		return v, nil
	}
	switch t {
	case TypeBool:
		switch v.typ {
		case TypeInt, TypeFloat:
			return Bool(v.Truthy()), nil
		case TypeString:
			return Bool(v.AsString() != "" && v.AsString() != "false"), nil
		}
	case TypeInt:
		switch v.typ {
		case TypeBool, TypeFloat:
			return Int(v.AsInt()), nil
		case TypeString:
			return Int(parseIntLoose(v.AsString())), nil
		}
	case TypeFloat:
		switch v.typ {
		case TypeBool, TypeInt:
			return Float(v.AsFloat()), nil
		case TypeString:
			f, _ := strconv.ParseFloat(strings.TrimSpace(v.AsString()), 64)
			return Float(f), nil
		}
	case TypeString:
		return String(v.String()), nil
	case TypeVector2:
		if v.typ == TypeVector2i {
			x := v.AsVector2i()
			return Vec2(float64(x.X), float64(x.Y)), nil
		}
	case TypeVector2i:
		if v.typ == TypeVector2 {
			x := v.AsVector2()
			return Vec2i(int64(x.X), int64(x.Y)), nil
		}
	case TypeVector3:
		if v.typ == TypeVector3i {
			x := v.AsVector3i()
			return Vec3(float64(x.X), float64(x.Y), float64(x.Z)), nil
		}
	case TypeVector3i:
		if v.typ == TypeVector3 {
			x := v.AsVector3()
			return Vec3i(int64(x.X), int64(x.Y), int64(x.Z)), nil
		}
	case TypeObject:
		if v.typ == TypeNil {
			return ObjectValue(nil), nil
		}
	case TypeArray:
		if v.typ.IsPacked() {
			return ArrayValue(packedToArray(v)), nil
		}
	default:
		if t.IsPacked() && v.typ == TypeArray {
			if p, ok := arrayToPacked(t, v.AsArray().elems); ok {
				return p, nil
			}
		}
	}
	return Nil, invalidArgument(0, t)
}

// parseIntLoose reads the leading integer of s, ignoring trailing junk.
func parseIntLoose(s string) int64 {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || end == 0 && (s[end] == '-' || s[end] == '+')) {
		end++
	}
	n, _ := strconv.ParseInt(s[:end], 10, 64)
	return n
}

// ---------------------------------------------------------------------------
// Validated constructors
// ---------------------------------------------------------------------------

// Constructor is a pre-resolved constructor overload. Func performs no
// argument checks; callers must have proven the argument types.
type Constructor struct {
	Type     Type
	ArgTypes []Type
	Func     func(args []Value) Value
}

var constructors []*Constructor

func registerConstructor(t Type, args []Type, fn func(args []Value) Value) {
	constructors = append(constructors, &Constructor{Type: t, ArgTypes: args, Func: fn})
}

func init() {
	f, i := TypeFloat, TypeInt
	registerConstructor(TypeVector2, []Type{f, f}, func(a []Value) Value {
		return Vec2(a[0].AsFloat(), a[1].AsFloat())
	})
	registerConstructor(TypeVector2i, []Type{i, i}, func(a []Value) Value {
		return Vec2i(a[0].AsInt(), a[1].AsInt())
	})
	registerConstructor(TypeVector3, []Type{f, f, f}, func(a []Value) Value {
		return Vec3(a[0].AsFloat(), a[1].AsFloat(), a[2].AsFloat())
	})
	registerConstructor(TypeVector3i, []Type{i, i, i}, func(a []Value) Value {
		return Vec3i(a[0].AsInt(), a[1].AsInt(), a[2].AsInt())
	})
	registerConstructor(TypeInt, []Type{f}, func(a []Value) Value { return Int(a[0].AsInt()) })
	registerConstructor(TypeFloat, []Type{i}, func(a []Value) Value { return Float(a[0].AsFloat()) })
	registerConstructor(TypeBool, []Type{i}, func(a []Value) Value { return Bool(a[0].AsInt() != 0) })
	for t := TypeNil; t < TypeMax; t++ {
		registerConstructor(t, nil, func([]Value) Value { return DefaultValue(t) })
	}
}

// LookupConstructor finds the validated constructor of t for argTypes.
func LookupConstructor(t Type, argTypes ...Type) *Constructor {
	for _, c := range constructors {
		if c.Type != t || len(c.ArgTypes) != len(argTypes) {
			continue
		}
		match := true
		for i := range argTypes {
			if c.ArgTypes[i] != argTypes[i] {
				match = false
				break
			}
		}
		if match {
			return c
		}
	}
	return nil
}
