package vm

import (
	"errors"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Keyed, indexed and named access on runtime values
// ---------------------------------------------------------------------------

var vectorAxes = map[string]int{"x": 0, "y": 1, "z": 2}

func axisOf(key Value) (int, bool) {
	switch key.typ {
	case TypeInt:
		return int(key.AsInt()), true
	case TypeString:
		i, ok := vectorAxes[key.AsString()]
		return i, ok
	}
	return 0, false
}

func vectorGet(v Value, axis int) (Value, bool) {
	var comps []Value
	switch v.typ {
	case TypeVector2:
		x := v.AsVector2()
		comps = []Value{Float(x.X), Float(x.Y)}
	case TypeVector2i:
		x := v.AsVector2i()
		comps = []Value{Int(x.X), Int(x.Y)}
	case TypeVector3:
		x := v.AsVector3()
		comps = []Value{Float(x.X), Float(x.Y), Float(x.Z)}
	case TypeVector3i:
		x := v.AsVector3i()
		comps = []Value{Int(x.X), Int(x.Y), Int(x.Z)}
	}
	if axis < 0 || axis >= len(comps) {
		return Nil, false
	}
	return comps[axis], true
}

func vectorSet(v *Value, axis int, c Value) bool {
	if !c.IsNumber() {
		return false
	}
	switch v.typ {
	case TypeVector2:
		x := v.AsVector2()
		comp := [...]*float64{&x.X, &x.Y}
		if axis < 0 || axis >= len(comp) {
			return false
		}
		*comp[axis] = c.AsFloat()
		*v = Vec2(x.X, x.Y)
	case TypeVector2i:
		x := v.AsVector2i()
		comp := [...]*int64{&x.X, &x.Y}
		if axis < 0 || axis >= len(comp) {
			return false
		}
		*comp[axis] = c.AsInt()
		*v = Vec2i(x.X, x.Y)
	case TypeVector3:
		x := v.AsVector3()
		comp := [...]*float64{&x.X, &x.Y, &x.Z}
		if axis < 0 || axis >= len(comp) {
			return false
		}
		*comp[axis] = c.AsFloat()
		*v = Vec3(x.X, x.Y, x.Z)
	case TypeVector3i:
		x := v.AsVector3i()
		comp := [...]*int64{&x.X, &x.Y, &x.Z}
		if axis < 0 || axis >= len(comp) {
			return false
		}
		*comp[axis] = c.AsInt()
		*v = Vec3i(x.X, x.Y, x.Z)
	default:
		return false
	}
	return true
}

func isVector(t Type) bool {
	return t == TypeVector2 || t == TypeVector2i || t == TypeVector3 || t == TypeVector3i
}

func badGetIndex(base, key Value) error {
	return failf(ErrInvalidAccess, "Invalid get index '%s' (on base: '%s').", key, describe(base))
}

func badSetIndex(base, key, v Value) error {
	return failf(ErrInvalidAccess, "Invalid set index '%s' (on base: '%s') with value of type '%s'.", key, describe(base), v.typ)
}

// containerFault turns a container error into a runtime fault with the
// access context.
func containerFault(err error, base, key Value) error {
	switch {
	case errors.Is(err, ErrReadOnly):
		return failf(ErrReadOnly, "Cannot modify a read-only %s.", base.typ)
	case errors.Is(err, ErrOutOfBounds):
		return failf(ErrOutOfBounds, "Out of bounds set index '%s' (on base: '%s').", key, base.typ)
	case errors.Is(err, ErrTypeMismatch):
		return failf(ErrTypeMismatch, "%v", err)
	}
	return err
}

// getKeyed implements base[key].
func (in *Interpreter) getKeyed(base, key Value) (Value, error) {
	switch base.typ {
	case TypeArray:
		if key.typ != TypeInt {
			return Nil, badGetIndex(base, key)
		}
		v, ok := base.AsArray().At(key.AsInt())
		if !ok {
			return Nil, failf(ErrOutOfBounds, "Out of bounds get index '%s' (on base: 'Array').", key)
		}
		return v, nil
	case TypeMap:
		v, ok := base.AsMap().Get(key)
		if !ok {
			return Nil, failf(ErrInvalidAccess, "Invalid access to key '%s' on a base object of type 'Map'.", key)
		}
		return v, nil
	case TypeString:
		if key.typ != TypeInt {
			return Nil, badGetIndex(base, key)
		}
		runes := []rune(base.AsString())
		idx, ok := normalizeIndex(key.AsInt(), len(runes))
		if !ok {
			return Nil, failf(ErrOutOfBounds, "Out of bounds get index '%s' (on base: 'String').", key)
		}
		return String(string(runes[idx])), nil
	case TypeObject:
		if key.typ != TypeString {
			return Nil, badGetIndex(base, key)
		}
		return in.getNamed(base, key.AsString())
	}
	if base.typ.IsPacked() {
		if key.typ != TypeInt {
			return Nil, badGetIndex(base, key)
		}
		idx, ok := normalizeIndex(key.AsInt(), packedLen(base))
		if !ok {
			return Nil, failf(ErrOutOfBounds, "Out of bounds get index '%s' (on base: '%s').", key, base.typ)
		}
		v, _ := packedAt(base, idx)
		return v, nil
	}
	if isVector(base.typ) {
		if axis, ok := axisOf(key); ok {
			if v, ok := vectorGet(base, axis); ok {
				return v, nil
			}
		}
	}
	return Nil, badGetIndex(base, key)
}

// setKeyed implements base[key] = v.
func (in *Interpreter) setKeyed(base *Value, key, v Value) error {
	switch base.typ {
	case TypeArray:
		if key.typ != TypeInt {
			return badSetIndex(*base, key, v)
		}
		if err := base.AsArray().Set(key.AsInt(), v); err != nil {
			return containerFault(err, *base, key)
		}
		return nil
	case TypeMap:
		if err := base.AsMap().Set(key, v); err != nil {
			return containerFault(err, *base, key)
		}
		return nil
	case TypeObject:
		if key.typ != TypeString {
			return badSetIndex(*base, key, v)
		}
		return in.setNamed(base, key.AsString(), v)
	}
	if base.typ.IsPacked() {
		if key.typ != TypeInt {
			return badSetIndex(*base, key, v)
		}
		if err := packedSet(*base, key.AsInt(), v); err != nil {
			return containerFault(err, *base, key)
		}
		return nil
	}
	if isVector(base.typ) {
		if axis, ok := axisOf(key); ok && vectorSet(base, axis, v) {
			return nil
		}
	}
	return badSetIndex(*base, key, v)
}

// getNamed implements base.name.
func (in *Interpreter) getNamed(base Value, name string) (Value, error) {
	switch base.typ {
	case TypeObject:
		obj, freed := base.ValidObject()
		if freed {
			return Nil, failf(ErrFreedInstance, "Invalid access to property '%s' on a previously freed instance.", name)
		}
		if obj == nil {
			return Nil, failf(ErrNullInstance, "Invalid access to property '%s' on a null instance.", name)
		}
		if p, ok := obj.(PropertyAccessor); ok {
			if v, ok := p.GetProperty(name); ok {
				return v, nil
			}
		}
		return Nil, failf(ErrInvalidAccess, "Invalid access to property or key '%s' on a base object of type '%s'.", name, obj.ClassName())
	case TypeMap:
		if v, ok := base.AsMap().Get(String(name)); ok {
			return v, nil
		}
	default:
		if isVector(base.typ) {
			if axis, ok := vectorAxes[name]; ok {
				if v, ok := vectorGet(base, axis); ok {
					return v, nil
				}
			}
		}
	}
	return Nil, failf(ErrInvalidAccess, "Invalid access to property or key '%s' on a base object of type '%s'.", name, base.typ)
}

// setNamed implements base.name = v.
func (in *Interpreter) setNamed(base *Value, name string, v Value) error {
	switch base.typ {
	case TypeObject:
		obj, freed := base.ValidObject()
		if freed {
			return failf(ErrFreedInstance, "Invalid assignment of property '%s' on a previously freed instance.", name)
		}
		if obj == nil {
			return failf(ErrNullInstance, "Invalid assignment of property '%s' on a null instance.", name)
		}
		p, ok := obj.(PropertyAccessor)
		if !ok {
			break
		}
		err := p.SetProperty(name, v)
		if err == nil {
			return nil
		}
		var f *fault
		if errors.As(err, &f) {
			return err
		}
		if errors.Is(err, ErrReadOnly) {
			return failf(ErrReadOnly, "Cannot assign a new value to a read-only property '%s'.", name)
		}
		if errors.Is(err, ErrTypeMismatch) {
			return failf(ErrTypeMismatch, "Invalid assignment of property '%s' with value of type '%s'.", name, v.typ)
		}
		return failf(ErrInvalidAccess, "Invalid assignment of property or key '%s' with value of type '%s' on a base object of type '%s'.", name, v.typ, obj.ClassName())
	case TypeMap:
		if err := base.AsMap().Set(String(name), v); err != nil {
			return containerFault(err, *base, String(name))
		}
		return nil
	default:
		if isVector(base.typ) {
			if axis, ok := vectorAxes[name]; ok && vectorSet(base, axis, v) {
				return nil
			}
		}
	}
	return failf(ErrInvalidAccess, "Invalid assignment of property or key '%s' with value of type '%s' on a base object of type '%s'.", name, v.typ, describe(*base))
}

// ---------------------------------------------------------------------------
// Validated accessors
// ---------------------------------------------------------------------------

// LookupAccessor returns the validated accessor of base type t. An empty
// name selects the keyed/indexed accessor; otherwise the named one, which
// only vectors provide. It returns nil when t has no such accessor.
func LookupAccessor(t Type, name string) *Accessor {
	if name != "" {
		axis, ok := vectorAxes[name]
		if !ok || !isVector(t) {
			return nil
		}
		if axis == 2 && (t == TypeVector2 || t == TypeVector2i) {
			return nil
		}
		return &Accessor{
			Name: name,
			Base: t,
			Get:  func(base, _ Value) (Value, bool) { return vectorGet(base, axis) },
			Set:  func(base *Value, _, v Value) bool { return vectorSet(base, axis, v) },
		}
	}
	acc := &Accessor{Base: t}
	switch {
	case t == TypeArray:
		acc.Get = func(base, key Value) (Value, bool) {
			if key.typ != TypeInt {
				return Nil, false
			}
			return base.AsArray().At(key.AsInt())
		}
		acc.Set = func(base *Value, key, v Value) bool {
			return key.typ == TypeInt && base.AsArray().Set(key.AsInt(), v) == nil
		}
	case t == TypeMap:
		acc.Get = func(base, key Value) (Value, bool) { return base.AsMap().Get(key) }
		acc.Set = func(base *Value, key, v Value) bool { return base.AsMap().Set(key, v) == nil }
	case t == TypeString:
		acc.Get = func(base, key Value) (Value, bool) {
			if key.typ != TypeInt {
				return Nil, false
			}
			rs := []rune(base.AsString())
			i, ok := normalizeIndex(key.AsInt(), len(rs))
			if !ok {
				return Nil, false
			}
			return String(string(rs[i])), true
		}
		acc.Set = func(base *Value, key, v Value) bool {
			if key.typ != TypeInt || v.typ != TypeString || v.AsString() == "" {
				return false
			}
			rs := []rune(base.AsString())
			i, ok := normalizeIndex(key.AsInt(), len(rs))
			if !ok {
				return false
			}
			r, _ := utf8.DecodeRuneInString(v.AsString())
			*base = String(string(rs[:i]) + string(r) + string(rs[i+1:]))
			return true
		}
	case t.IsPacked():
		acc.Get = func(base, key Value) (Value, bool) {
			if key.typ != TypeInt {
				return Nil, false
			}
			return packedAt(base, int(key.AsInt()))
		}
		acc.Set = func(base *Value, key, v Value) bool {
			return key.typ == TypeInt && packedSet(*base, key.AsInt(), v) == nil
		}
	case isVector(t):
		acc.Get = func(base, key Value) (Value, bool) {
			axis, ok := axisOf(key)
			if !ok {
				return Nil, false
			}
			return vectorGet(base, axis)
		}
		acc.Set = func(base *Value, key, v Value) bool {
			axis, ok := axisOf(key)
			return ok && vectorSet(base, axis, v)
		}
	default:
		return nil
	}
	return acc
}
