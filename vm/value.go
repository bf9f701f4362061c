package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Type: dynamic type tag of a Value
// ---------------------------------------------------------------------------

// Type identifies the dynamic type of a Value.
type Type uint8

const (
	TypeNil Type = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeVector2
	TypeVector2i
	TypeVector3
	TypeVector3i
	TypeObject
	TypeCallable
	TypeSignal
	TypeMap
	TypeArray
	TypePackedByteArray
	TypePackedInt32Array
	TypePackedInt64Array
	TypePackedFloat32Array
	TypePackedFloat64Array
	TypePackedStringArray
	TypeMax
)

var typeNames = [TypeMax]string{
	TypeNil:                "Nil",
	TypeBool:               "bool",
	TypeInt:                "int",
	TypeFloat:              "float",
	TypeString:             "String",
	TypeVector2:            "Vector2",
	TypeVector2i:           "Vector2i",
	TypeVector3:            "Vector3",
	TypeVector3i:           "Vector3i",
	TypeObject:             "Object",
	TypeCallable:           "Callable",
	TypeSignal:             "Signal",
	TypeMap:                "Map",
	TypeArray:              "Array",
	TypePackedByteArray:    "PackedByteArray",
	TypePackedInt32Array:   "PackedInt32Array",
	TypePackedInt64Array:   "PackedInt64Array",
	TypePackedFloat32Array: "PackedFloat32Array",
	TypePackedFloat64Array: "PackedFloat64Array",
	TypePackedStringArray:  "PackedStringArray",
}

// String returns the script-visible name of the type.
func (t Type) String() string {
	if t < TypeMax {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// TypeByName resolves a script-visible type name.
func TypeByName(name string) (Type, bool) {
	for i, n := range typeNames {
		if n == name {
			return Type(i), true
		}
	}
	return TypeNil, false
}

// IsPacked reports whether t is one of the packed array types.
func (t Type) IsPacked() bool {
	return t >= TypePackedByteArray && t <= TypePackedStringArray
}

// IsShared reports whether values of type t are references shared between
// copies (containers and objects).
func (t Type) IsShared() bool {
	return t == TypeObject || t == TypeMap || t == TypeArray || t.IsPacked()
}

// ---------------------------------------------------------------------------
// Vectors
// ---------------------------------------------------------------------------

// Vector2 is a 2D float vector.
type Vector2 struct{ X, Y float64 }

// Vector2i is a 2D integer vector.
type Vector2i struct{ X, Y int64 }

// Vector3 is a 3D float vector.
type Vector3 struct{ X, Y, Z float64 }

// Vector3i is a 3D integer vector.
type Vector3i struct{ X, Y, Z int64 }

// ---------------------------------------------------------------------------
// Value: tagged union
// ---------------------------------------------------------------------------

// Value is a dynamically typed script value.
//
// Scalars (bool, int, float) live in bits; everything else lives in ref.
// The zero Value is Nil.
type Value struct {
	typ  Type
	bits uint64
	ref  any
}

// Nil is the null value.
var Nil Value

// Bool returns a bool value.
func Bool(b bool) Value {
	if b {
		return Value{typ: TypeBool, bits: 1}
	}
	return Value{typ: TypeBool}
}

// Int returns an int value.
func Int(i int64) Value {
	return Value{typ: TypeInt, bits: uint64(i)}
}

// Float returns a float value.
func Float(f float64) Value {
	return Value{typ: TypeFloat, bits: math.Float64bits(f)}
}

// String returns a String value.
func String(s string) Value {
	return Value{typ: TypeString, ref: s}
}

// Vec2 returns a Vector2 value.
func Vec2(x, y float64) Value {
	return Value{typ: TypeVector2, ref: Vector2{x, y}}
}

// Vec2i returns a Vector2i value.
func Vec2i(x, y int64) Value {
	return Value{typ: TypeVector2i, ref: Vector2i{x, y}}
}

// Vec3 returns a Vector3 value.
func Vec3(x, y, z float64) Value {
	return Value{typ: TypeVector3, ref: Vector3{x, y, z}}
}

// Vec3i returns a Vector3i value.
func Vec3i(x, y, z int64) Value {
	return Value{typ: TypeVector3i, ref: Vector3i{x, y, z}}
}

// ObjectValue wraps a host object. A nil object yields a null Object value.
func ObjectValue(o Object) Value {
	if o == nil {
		return Value{typ: TypeObject}
	}
	return Value{typ: TypeObject, ref: o}
}

// CallableValue wraps a callable.
func CallableValue(c *Callable) Value {
	return Value{typ: TypeCallable, ref: c}
}

// SignalValue wraps a signal.
func SignalValue(s *Signal) Value {
	return Value{typ: TypeSignal, ref: s}
}

// MapValue wraps a map.
func MapValue(m *Map) Value {
	return Value{typ: TypeMap, ref: m}
}

// ArrayValue wraps an array.
func ArrayValue(a *Array) Value {
	return Value{typ: TypeArray, ref: a}
}

// PackedValue wraps a packed array. The value type follows the element type.
func PackedValue[T PackedElem](p *PackedArray[T]) Value {
	return Value{typ: packedTypeOf[T](), ref: p}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Type returns the dynamic type of v.
func (v Value) Type() Type { return v.typ }

// IsNil reports whether v is Nil.
func (v Value) IsNil() bool { return v.typ == TypeNil }

// AsBool returns the bool payload (false for other types).
func (v Value) AsBool() bool { return v.typ == TypeBool && v.bits != 0 }

// AsInt returns the int payload. Floats are truncated.
func (v Value) AsInt() int64 {
	switch v.typ {
	case TypeInt:
		return int64(v.bits)
	case TypeFloat:
		return int64(math.Float64frombits(v.bits))
	case TypeBool:
		return int64(v.bits)
	}
	return 0
}

// AsFloat returns the float payload. Ints are widened.
func (v Value) AsFloat() float64 {
	switch v.typ {
	case TypeFloat:
		return math.Float64frombits(v.bits)
	case TypeInt:
		return float64(int64(v.bits))
	case TypeBool:
		return float64(v.bits)
	}
	return 0
}

// AsString returns the String payload, or "" for other types.
func (v Value) AsString() string {
	s, _ := v.ref.(string)
	return s
}

func (v Value) AsVector2() Vector2   { x, _ := v.ref.(Vector2); return x }
func (v Value) AsVector2i() Vector2i { x, _ := v.ref.(Vector2i); return x }
func (v Value) AsVector3() Vector3   { x, _ := v.ref.(Vector3); return x }
func (v Value) AsVector3i() Vector3i { x, _ := v.ref.(Vector3i); return x }

// AsObject returns the wrapped object, or nil.
func (v Value) AsObject() Object {
	if v.typ != TypeObject {
		return nil
	}
	o, _ := v.ref.(Object)
	return o
}

// AsCallable returns the wrapped callable, or nil.
func (v Value) AsCallable() *Callable {
	c, _ := v.ref.(*Callable)
	return c
}

// AsSignal returns the wrapped signal, or nil.
func (v Value) AsSignal() *Signal {
	s, _ := v.ref.(*Signal)
	return s
}

// AsMap returns the wrapped map, or nil.
func (v Value) AsMap() *Map {
	m, _ := v.ref.(*Map)
	return m
}

// AsArray returns the wrapped array, or nil.
func (v Value) AsArray() *Array {
	a, _ := v.ref.(*Array)
	return a
}

// PackedOf returns the packed array of element type T wrapped by v, or nil.
func PackedOf[T PackedElem](v Value) *PackedArray[T] {
	p, _ := v.ref.(*PackedArray[T])
	return p
}

// IsNumber reports whether v is an int or a float.
func (v Value) IsNumber() bool {
	return v.typ == TypeInt || v.typ == TypeFloat
}

// ValidObject returns the wrapped object when it is non-null and not freed.
// freed is true when the object existed but has since been released.
func (v Value) ValidObject() (obj Object, freed bool) {
	obj = v.AsObject()
	if obj == nil {
		return nil, false
	}
	if val, ok := obj.(Validatable); ok && !val.IsValid() {
		return nil, true
	}
	return obj, false
}

// ---------------------------------------------------------------------------
// Truthiness and equality
// ---------------------------------------------------------------------------

// Truthy converts v to a boolean the way conditions do.
func (v Value) Truthy() bool {
	switch v.typ {
	case TypeNil:
		return false
	case TypeBool, TypeInt:
		return v.bits != 0
	case TypeFloat:
		return math.Float64frombits(v.bits) != 0
	case TypeString:
		return v.AsString() != ""
	case TypeVector2:
		return v.AsVector2() != Vector2{}
	case TypeVector2i:
		return v.AsVector2i() != Vector2i{}
	case TypeVector3:
		return v.AsVector3() != Vector3{}
	case TypeVector3i:
		return v.AsVector3i() != Vector3i{}
	case TypeObject:
		obj, _ := v.ValidObject()
		return obj != nil
	case TypeCallable:
		return v.AsCallable() != nil
	case TypeSignal:
		return v.AsSignal() != nil
	case TypeMap:
		return v.AsMap().Len() > 0
	case TypeArray:
		return v.AsArray().Len() > 0
	}
	if v.typ.IsPacked() {
		return packedLen(v) > 0
	}
	return false
}

// Equal reports deep equality: numbers compare by value, containers by
// content, objects by identity.
func Equal(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		if a.typ == TypeInt && b.typ == TypeInt {
			return a.bits == b.bits
		}
		return a.AsFloat() == b.AsFloat()
	}
	if a.typ != b.typ {
		// null object and Nil are interchangeable in comparisons.
		return a.isNullish() && b.isNullish()
	}
	switch a.typ {
	case TypeNil:
		return true
	case TypeBool:
		return a.bits == b.bits
	case TypeArray:
		return a.AsArray().equal(b.AsArray())
	case TypeMap:
		return a.AsMap().equal(b.AsMap())
	}
	if a.typ.IsPacked() {
		return packedEqual(a, b)
	}
	return a.ref == b.ref
}

func (v Value) isNullish() bool {
	if v.typ == TypeNil {
		return true
	}
	if v.typ == TypeObject {
		obj, _ := v.ValidObject()
		return obj == nil
	}
	return false
}

// hashKey is the comparable identity of a Value used for map keys.
// Host objects must be pointer types to be usable as keys.
type hashKey struct {
	typ  Type
	bits uint64
	ref  any
}

func (v Value) key() hashKey {
	return hashKey{typ: v.typ, bits: v.bits, ref: v.ref}
}

// ---------------------------------------------------------------------------
// Stringification
// ---------------------------------------------------------------------------

// String renders v the way the str() utility does.
func (v Value) String() string {
	var sb strings.Builder
	v.write(&sb, false, 0)
	return sb.String()
}

// Repr renders v with strings quoted.
func (v Value) Repr() string {
	var sb strings.Builder
	v.write(&sb, true, 0)
	return sb.String()
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

const maxStringDepth = 32

func (v Value) write(sb *strings.Builder, quote bool, depth int) {
	if depth > maxStringDepth {
		sb.WriteString("...")
		return
	}
	switch v.typ {
	case TypeNil:
		sb.WriteString("<null>")
	case TypeBool:
		sb.WriteString(strconv.FormatBool(v.AsBool()))
	case TypeInt:
		sb.WriteString(strconv.FormatInt(v.AsInt(), 10))
	case TypeFloat:
		sb.WriteString(formatFloat(v.AsFloat()))
	case TypeString:
		if quote {
			sb.WriteString(strconv.Quote(v.AsString()))
		} else {
			sb.WriteString(v.AsString())
		}
	case TypeVector2:
		x := v.AsVector2()
		fmt.Fprintf(sb, "(%s, %s)", formatFloat(x.X), formatFloat(x.Y))
	case TypeVector2i:
		x := v.AsVector2i()
		fmt.Fprintf(sb, "(%d, %d)", x.X, x.Y)
	case TypeVector3:
		x := v.AsVector3()
		fmt.Fprintf(sb, "(%s, %s, %s)", formatFloat(x.X), formatFloat(x.Y), formatFloat(x.Z))
	case TypeVector3i:
		x := v.AsVector3i()
		fmt.Fprintf(sb, "(%d, %d, %d)", x.X, x.Y, x.Z)
	case TypeObject:
		obj, freed := v.ValidObject()
		switch {
		case freed:
			sb.WriteString("<Freed Object>")
		case obj == nil:
			sb.WriteString("<null>")
		default:
			fmt.Fprintf(sb, "<%s#%d>", obj.ClassName(), obj.InstanceID())
		}
	case TypeCallable:
		fmt.Fprintf(sb, "Callable(%s)", v.AsCallable().Name())
	case TypeSignal:
		fmt.Fprintf(sb, "Signal(%s)", v.AsSignal().Name())
	case TypeArray:
		sb.WriteByte('[')
		for i, e := range v.AsArray().elems {
			if i > 0 {
				sb.WriteString(", ")
			}
			e.write(sb, true, depth+1)
		}
		sb.WriteByte(']')
	case TypeMap:
		m := v.AsMap()
		if m.Len() == 0 {
			sb.WriteString("{ }")
			return
		}
		sb.WriteString("{ ")
		for i, k := range m.keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			k.write(sb, true, depth+1)
			sb.WriteString(": ")
			m.vals[i].write(sb, true, depth+1)
		}
		sb.WriteString(" }")
	default:
		if v.typ.IsPacked() {
			sb.WriteByte('[')
			for i, n := 0, packedLen(v); i < n; i++ {
				if i > 0 {
					sb.WriteString(", ")
				}
				e, _ := packedAt(v, i)
				e.write(sb, true, depth+1)
			}
			sb.WriteByte(']')
		}
	}
}
