package vm

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/exp/constraints"
)

// ---------------------------------------------------------------------------
// TypeInfo: declared types of slots, arguments, returns and elements
// ---------------------------------------------------------------------------

// TypeKind says which part of a TypeInfo constrains values.
type TypeKind uint8

const (
	KindVariant TypeKind = iota // untyped: any value is accepted
	KindBuiltin                 // a builtin Type (containers may carry Elem)
	KindNative                  // a host class, by name
	KindScript                  // a script class
)

// TypeInfo is a declared type.
type TypeInfo struct {
	Kind      TypeKind
	Builtin   Type
	ClassName string
	Script    *Script
	// Elem holds the element type of a typed Array, or the key and value
	// types of a typed Map.
	Elem []TypeInfo
}

// AnyType is the untyped TypeInfo.
var AnyType = TypeInfo{}

// BuiltinType returns the TypeInfo of a builtin type.
func BuiltinType(t Type) TypeInfo {
	return TypeInfo{Kind: KindBuiltin, Builtin: t}
}

// NativeType returns the TypeInfo of a host class.
func NativeType(class string) TypeInfo {
	return TypeInfo{Kind: KindNative, Builtin: TypeObject, ClassName: class}
}

// ScriptType returns the TypeInfo of a script class.
func ScriptType(s *Script) TypeInfo {
	return TypeInfo{Kind: KindScript, Builtin: TypeObject, Script: s}
}

// ArrayOf returns the TypeInfo of an Array typed by elem.
func ArrayOf(elem TypeInfo) TypeInfo {
	return TypeInfo{Kind: KindBuiltin, Builtin: TypeArray, Elem: []TypeInfo{elem}}
}

// MapOf returns the TypeInfo of a Map typed by key and value.
func MapOf(key, value TypeInfo) TypeInfo {
	return TypeInfo{Kind: KindBuiltin, Builtin: TypeMap, Elem: []TypeInfo{key, value}}
}

// IsTyped reports whether t constrains values at all.
func (t TypeInfo) IsTyped() bool { return t.Kind != KindVariant }

// ElemType returns the i-th element type, or AnyType.
func (t TypeInfo) ElemType(i int) TypeInfo {
	if i < len(t.Elem) {
		return t.Elem[i]
	}
	return AnyType
}

// Equal reports whether two declared types are identical.
func (t TypeInfo) Equal(o TypeInfo) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindVariant:
		return true
	case KindNative:
		return t.ClassName == o.ClassName
	case KindScript:
		return t.Script == o.Script
	}
	if t.Builtin != o.Builtin {
		return false
	}
	n := max(len(t.Elem), len(o.Elem))
	for i := 0; i < n; i++ {
		if !t.ElemType(i).Equal(o.ElemType(i)) {
			return false
		}
	}
	return true
}

// String renders the type the way diagnostics name it.
func (t TypeInfo) String() string {
	switch t.Kind {
	case KindVariant:
		return "Variant"
	case KindNative:
		return t.ClassName
	case KindScript:
		if t.Script == nil {
			return "<invalid script>"
		}
		return t.Script.Name
	}
	switch {
	case t.Builtin == TypeArray && t.ElemType(0).IsTyped():
		return fmt.Sprintf("Array[%s]", t.ElemType(0))
	case t.Builtin == TypeMap && (t.ElemType(0).IsTyped() || t.ElemType(1).IsTyped()):
		return fmt.Sprintf("Map[%s, %s]", t.ElemType(0), t.ElemType(1))
	}
	return t.Builtin.String()
}

// Matches reports whether v already satisfies t without conversion.
// Null objects satisfy any object type.
func (t TypeInfo) Matches(v Value) bool {
	switch t.Kind {
	case KindVariant:
		return true
	case KindNative:
		if v.typ == TypeNil {
			return true
		}
		if v.typ != TypeObject {
			return false
		}
		obj, freed := v.ValidObject()
		if freed {
			return false
		}
		return obj == nil || obj.IsClass(t.ClassName)
	case KindScript:
		if v.typ == TypeNil {
			return true
		}
		if v.typ != TypeObject {
			return false
		}
		obj, freed := v.ValidObject()
		if freed {
			return false
		}
		if obj == nil {
			return true
		}
		inst, ok := obj.(*Instance)
		return ok && inst.Script().InheritsFrom(t.Script)
	}
	if v.typ != t.Builtin {
		return false
	}
	switch t.Builtin {
	case TypeArray:
		return v.AsArray().ElemType().Equal(t.ElemType(0))
	case TypeMap:
		m := v.AsMap()
		return m.KeyType().Equal(t.ElemType(0)) && m.ValueType().Equal(t.ElemType(1))
	}
	return true
}

// coerce returns v converted to t. Builtin scalars convert with the strict
// conversion table; containers and objects never convert.
func (t TypeInfo) coerce(v Value) (Value, bool) {
	if t.Matches(v) {
		return v, true
	}
	if t.Kind != KindBuiltin || v.typ == t.Builtin {
		// Containers with the right builtin type but the wrong element
		// types are rejected rather than converted.
		return v, false
	}
	if t.Builtin == TypeArray || t.Builtin == TypeMap {
		if t.ElemType(0).IsTyped() || t.ElemType(1).IsTyped() {
			return v, false
		}
	}
	if !CanConvertStrict(v.typ, t.Builtin) {
		return v, false
	}
	r, err := Construct(t.Builtin, []Value{v})
	return r, err == nil
}

// ---------------------------------------------------------------------------
// Array
// ---------------------------------------------------------------------------

// ErrReadOnly is returned when writing to a read-only container or property.
var ErrReadOnly = errors.New("read-only")

// Array is a shared, optionally typed, sequence of values.
type Array struct {
	elems    []Value
	elemType TypeInfo
	readOnly bool
}

// NewArray creates an untyped array holding elems.
func NewArray(elems ...Value) *Array {
	return &Array{elems: append([]Value(nil), elems...)}
}

// NewTypedArray creates an array whose elements must satisfy elem.
// Elements are converted with the strict conversion table.
func NewTypedArray(elem TypeInfo, elems ...Value) (*Array, error) {
	a := &Array{elemType: elem}
	for _, e := range elems {
		if err := a.Append(e); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Len returns the number of elements.
func (a *Array) Len() int {
	if a == nil {
		return 0
	}
	return len(a.elems)
}

// ElemType returns the declared element type (AnyType when untyped).
func (a *Array) ElemType() TypeInfo {
	if a == nil {
		return AnyType
	}
	return a.elemType
}

// IsTyped reports whether the array has a declared element type.
func (a *Array) IsTyped() bool { return a.ElemType().IsTyped() }

// ReadOnly reports whether writes are rejected.
func (a *Array) ReadOnly() bool { return a.readOnly }

// MakeReadOnly freezes the array.
func (a *Array) MakeReadOnly() { a.readOnly = true }

// Elems returns a copy of the elements.
func (a *Array) Elems() []Value {
	return append([]Value(nil), a.elems...)
}

func normalizeIndex(i int64, n int) (int, bool) {
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		return 0, false
	}
	return int(i), true
}

// At returns the element at i; negative indices count from the end.
func (a *Array) At(i int64) (Value, bool) {
	idx, ok := normalizeIndex(i, a.Len())
	if !ok {
		return Nil, false
	}
	return a.elems[idx], true
}

func (a *Array) admit(v Value) (Value, error) {
	if a.readOnly {
		return v, ErrReadOnly
	}
	if !a.elemType.IsTyped() {
		return v, nil
	}
	c, ok := a.elemType.coerce(v)
	if !ok {
		return v, fmt.Errorf("%w: cannot store a value of type %q in %s",
			ErrTypeMismatch, v.typ, ArrayOf(a.elemType))
	}
	return c, nil
}

// Set stores v at i; negative indices count from the end.
func (a *Array) Set(i int64, v Value) error {
	idx, ok := normalizeIndex(i, a.Len())
	if !ok {
		return fmt.Errorf("%w: index %d out of bounds (size %d)", ErrOutOfBounds, i, a.Len())
	}
	c, err := a.admit(v)
	if err != nil {
		return err
	}
	a.elems[idx] = c
	return nil
}

// Append adds v at the end.
func (a *Array) Append(v Value) error {
	c, err := a.admit(v)
	if err != nil {
		return err
	}
	a.elems = append(a.elems, c)
	return nil
}

// Insert places v before position i.
func (a *Array) Insert(i int64, v Value) error {
	if i < 0 {
		i += int64(a.Len())
	}
	if i < 0 || i > int64(a.Len()) {
		return fmt.Errorf("%w: index %d out of bounds (size %d)", ErrOutOfBounds, i, a.Len())
	}
	c, err := a.admit(v)
	if err != nil {
		return err
	}
	a.elems = append(a.elems, Nil)
	copy(a.elems[i+1:], a.elems[i:])
	a.elems[i] = c
	return nil
}

// RemoveAt deletes the element at i.
func (a *Array) RemoveAt(i int64) error {
	if a.readOnly {
		return ErrReadOnly
	}
	idx, ok := normalizeIndex(i, a.Len())
	if !ok {
		return fmt.Errorf("%w: index %d out of bounds (size %d)", ErrOutOfBounds, i, a.Len())
	}
	a.elems = slices.Delete(a.elems, idx, idx+1)
	return nil
}

// Clear removes all elements.
func (a *Array) Clear() error {
	if a.readOnly {
		return ErrReadOnly
	}
	clear(a.elems)
	a.elems = a.elems[:0]
	return nil
}

// Find returns the index of the first element equal to v, or -1.
func (a *Array) Find(v Value) int {
	for i, e := range a.elems {
		if Equal(e, v) {
			return i
		}
	}
	return -1
}

// Duplicate returns a shallow copy keeping the element type.
func (a *Array) Duplicate() *Array {
	return &Array{elems: a.Elems(), elemType: a.elemType}
}

func (a *Array) equal(b *Array) bool {
	if a == b {
		return true
	}
	if a.Len() != b.Len() {
		return false
	}
	for i := range a.elems {
		if !Equal(a.elems[i], b.elems[i]) {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Map: insertion-ordered dictionary
// ---------------------------------------------------------------------------

// Map is a shared, insertion-ordered, optionally typed dictionary.
type Map struct {
	keys      []Value
	vals      []Value
	index     map[hashKey]int
	keyType   TypeInfo
	valueType TypeInfo
	readOnly  bool
}

// NewMap creates an untyped map.
func NewMap() *Map {
	return &Map{index: make(map[hashKey]int)}
}

// NewTypedMap creates a map with declared key and value types.
func NewTypedMap(key, value TypeInfo) *Map {
	return &Map{index: make(map[hashKey]int), keyType: key, valueType: value}
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// KeyType returns the declared key type.
func (m *Map) KeyType() TypeInfo {
	if m == nil {
		return AnyType
	}
	return m.keyType
}

// ValueType returns the declared value type.
func (m *Map) ValueType() TypeInfo {
	if m == nil {
		return AnyType
	}
	return m.valueType
}

// IsTyped reports whether keys or values are constrained.
func (m *Map) IsTyped() bool { return m.KeyType().IsTyped() || m.ValueType().IsTyped() }

// ReadOnly reports whether writes are rejected.
func (m *Map) ReadOnly() bool { return m.readOnly }

// MakeReadOnly freezes the map.
func (m *Map) MakeReadOnly() { m.readOnly = true }

// Get looks up key.
func (m *Map) Get(key Value) (Value, bool) {
	if m == nil {
		return Nil, false
	}
	i, ok := m.index[key.key()]
	if !ok {
		return Nil, false
	}
	return m.vals[i], true
}

// Has reports whether key is present.
func (m *Map) Has(key Value) bool {
	_, ok := m.Get(key)
	return ok
}

// Set inserts or replaces the value at key.
func (m *Map) Set(key, value Value) error {
	if m.readOnly {
		return ErrReadOnly
	}
	k, ok := m.keyType.coerce(key)
	if !ok {
		return fmt.Errorf("%w: cannot use a key of type %q in %s",
			ErrTypeMismatch, key.typ, MapOf(m.keyType, m.valueType))
	}
	v, ok := m.valueType.coerce(value)
	if !ok {
		return fmt.Errorf("%w: cannot store a value of type %q in %s",
			ErrTypeMismatch, value.typ, MapOf(m.keyType, m.valueType))
	}
	if i, ok := m.index[k.key()]; ok {
		m.vals[i] = v
		return nil
	}
	m.index[k.key()] = len(m.keys)
	m.keys = append(m.keys, k)
	m.vals = append(m.vals, v)
	return nil
}

// Erase removes key, reporting whether it was present.
func (m *Map) Erase(key Value) (bool, error) {
	if m.readOnly {
		return false, ErrReadOnly
	}
	i, ok := m.index[key.key()]
	if !ok {
		return false, nil
	}
	delete(m.index, key.key())
	m.keys = slices.Delete(m.keys, i, i+1)
	m.vals = slices.Delete(m.vals, i, i+1)
	for j := i; j < len(m.keys); j++ {
		m.index[m.keys[j].key()] = j
	}
	return true, nil
}

// Clear removes all entries.
func (m *Map) Clear() error {
	if m.readOnly {
		return ErrReadOnly
	}
	m.keys, m.vals = nil, nil
	clear(m.index)
	return nil
}

// Keys returns a snapshot of the keys in insertion order.
func (m *Map) Keys() []Value {
	if m == nil {
		return nil
	}
	return append([]Value(nil), m.keys...)
}

// Values returns a snapshot of the values in insertion order.
func (m *Map) Values() []Value {
	if m == nil {
		return nil
	}
	return append([]Value(nil), m.vals...)
}

// Duplicate returns a shallow copy keeping the declared types.
func (m *Map) Duplicate() *Map {
	d := NewTypedMap(m.keyType, m.valueType)
	for i, k := range m.keys {
		d.index[k.key()] = i
	}
	d.keys = m.Keys()
	d.vals = m.Values()
	return d
}

func (m *Map) equal(o *Map) bool {
	if m == o {
		return true
	}
	if m.Len() != o.Len() {
		return false
	}
	for i, k := range m.keys {
		v, ok := o.Get(k)
		if !ok || !Equal(v, m.vals[i]) {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// PackedArray: typed contiguous storage
// ---------------------------------------------------------------------------

// PackedElem lists the element types of packed arrays.
type PackedElem interface {
	byte | int32 | int64 | float32 | float64 | string
}

// PackedArray is a shared contiguous array of one element type.
type PackedArray[T PackedElem] struct {
	data []T
}

// NewPacked creates a packed array holding data.
func NewPacked[T PackedElem](data ...T) *PackedArray[T] {
	return &PackedArray[T]{data: append([]T(nil), data...)}
}

// Len returns the number of elements.
func (p *PackedArray[T]) Len() int {
	if p == nil {
		return 0
	}
	return len(p.data)
}

// At returns the element at i; negative indices count from the end.
func (p *PackedArray[T]) At(i int64) (T, bool) {
	var zero T
	idx, ok := normalizeIndex(i, p.Len())
	if !ok {
		return zero, false
	}
	return p.data[idx], true
}

// Set stores x at i.
func (p *PackedArray[T]) Set(i int64, x T) bool {
	idx, ok := normalizeIndex(i, p.Len())
	if !ok {
		return false
	}
	p.data[idx] = x
	return true
}

// Append adds x at the end.
func (p *PackedArray[T]) Append(x T) { p.data = append(p.data, x) }

// Slice returns a copy of the elements.
func (p *PackedArray[T]) Slice() []T { return append([]T(nil), p.data...) }

func packedTypeOf[T PackedElem]() Type {
	var zero T
	switch any(zero).(type) {
	case byte:
		return TypePackedByteArray
	case int32:
		return TypePackedInt32Array
	case int64:
		return TypePackedInt64Array
	case float32:
		return TypePackedFloat32Array
	case float64:
		return TypePackedFloat64Array
	}
	return TypePackedStringArray
}

func packedElemValue[T PackedElem](x T) Value {
	switch e := any(x).(type) {
	case byte:
		return Int(int64(e))
	case int32:
		return Int(int64(e))
	case int64:
		return Int(e)
	case float32:
		return Float(float64(e))
	case float64:
		return Float(e)
	case string:
		return String(e)
	}
	return Nil
}

func numericElem[T constraints.Integer | constraints.Float](v Value) (T, bool) {
	switch v.typ {
	case TypeInt:
		return T(v.AsInt()), true
	case TypeFloat:
		return T(v.AsFloat()), true
	case TypeBool:
		return T(v.bits), true
	}
	return 0, false
}

// packedElemFrom converts v into a packed element of type T.
func packedElemFrom[T PackedElem](v Value) (T, bool) {
	var zero T
	var out any
	var ok bool
	switch any(zero).(type) {
	case byte:
		out, ok = numericElem[byte](v)
	case int32:
		out, ok = numericElem[int32](v)
	case int64:
		out, ok = numericElem[int64](v)
	case float32:
		out, ok = numericElem[float32](v)
	case float64:
		out, ok = numericElem[float64](v)
	case string:
		out, ok = v.AsString(), v.typ == TypeString
	}
	if !ok {
		return zero, false
	}
	return out.(T), true
}

func packedLen(v Value) int {
	switch p := v.ref.(type) {
	case *PackedArray[byte]:
		return p.Len()
	case *PackedArray[int32]:
		return p.Len()
	case *PackedArray[int64]:
		return p.Len()
	case *PackedArray[float32]:
		return p.Len()
	case *PackedArray[float64]:
		return p.Len()
	case *PackedArray[string]:
		return p.Len()
	}
	return 0
}

func packedGet[T PackedElem](p *PackedArray[T], i int64) (Value, bool) {
	x, ok := p.At(i)
	if !ok {
		return Nil, false
	}
	return packedElemValue(x), true
}

func packedAt(v Value, i int) (Value, bool) {
	switch p := v.ref.(type) {
	case *PackedArray[byte]:
		return packedGet(p, int64(i))
	case *PackedArray[int32]:
		return packedGet(p, int64(i))
	case *PackedArray[int64]:
		return packedGet(p, int64(i))
	case *PackedArray[float32]:
		return packedGet(p, int64(i))
	case *PackedArray[float64]:
		return packedGet(p, int64(i))
	case *PackedArray[string]:
		return packedGet(p, int64(i))
	}
	return Nil, false
}

func packedPut[T PackedElem](p *PackedArray[T], i int64, v Value) error {
	x, ok := packedElemFrom[T](v)
	if !ok {
		return fmt.Errorf("%w: cannot store a value of type %q in %s",
			ErrTypeMismatch, v.typ, packedTypeOf[T]())
	}
	if !p.Set(i, x) {
		return fmt.Errorf("%w: index %d out of bounds (size %d)", ErrOutOfBounds, i, p.Len())
	}
	return nil
}

func packedSet(v Value, i int64, x Value) error {
	switch p := v.ref.(type) {
	case *PackedArray[byte]:
		return packedPut(p, i, x)
	case *PackedArray[int32]:
		return packedPut(p, i, x)
	case *PackedArray[int64]:
		return packedPut(p, i, x)
	case *PackedArray[float32]:
		return packedPut(p, i, x)
	case *PackedArray[float64]:
		return packedPut(p, i, x)
	case *PackedArray[string]:
		return packedPut(p, i, x)
	}
	return ErrTypeMismatch
}

func packedEqual(a, b Value) bool {
	n := packedLen(a)
	if n != packedLen(b) {
		return false
	}
	for i := 0; i < n; i++ {
		x, _ := packedAt(a, i)
		y, _ := packedAt(b, i)
		if !Equal(x, y) {
			return false
		}
	}
	return true
}

// packedToArray copies a packed array into a new untyped Array.
func packedToArray(v Value) *Array {
	n := packedLen(v)
	a := &Array{elems: make([]Value, n)}
	for i := 0; i < n; i++ {
		a.elems[i], _ = packedAt(v, i)
	}
	return a
}

func packedFromValues[T PackedElem](elems []Value) (*PackedArray[T], bool) {
	p := &PackedArray[T]{data: make([]T, 0, len(elems))}
	for _, e := range elems {
		x, ok := packedElemFrom[T](e)
		if !ok {
			return nil, false
		}
		p.data = append(p.data, x)
	}
	return p, true
}

// arrayToPacked converts elems into a packed array value of type t.
func arrayToPacked(t Type, elems []Value) (Value, bool) {
	switch t {
	case TypePackedByteArray:
		p, ok := packedFromValues[byte](elems)
		return PackedValue(p), ok
	case TypePackedInt32Array:
		p, ok := packedFromValues[int32](elems)
		return PackedValue(p), ok
	case TypePackedInt64Array:
		p, ok := packedFromValues[int64](elems)
		return PackedValue(p), ok
	case TypePackedFloat32Array:
		p, ok := packedFromValues[float32](elems)
		return PackedValue(p), ok
	case TypePackedFloat64Array:
		p, ok := packedFromValues[float64](elems)
		return PackedValue(p), ok
	case TypePackedStringArray:
		p, ok := packedFromValues[string](elems)
		return PackedValue(p), ok
	}
	return Nil, false
}

func joinTypes(ts []Type) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}
