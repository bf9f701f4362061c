package vm

import (
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Iteration: ITERATE_BEGIN* / ITERATE*
// ---------------------------------------------------------------------------
//
// Operands are (counter, container, iterator, exit). BEGIN either jumps to
// exit without touching the iterator slot or writes the first element and
// falls through. NEXT advances the counter the same way. Builtin shapes keep
// their state in the counter slot; host objects are driven through
// _iter_init, _iter_next and _iter_get with a one-element Array as the
// by-reference counter.

// mapCursor is the counter of a map iteration. It holds the key order
// captured at BEGIN, so later mutation of the map cannot change how many
// iterations run.
type mapCursor struct {
	keys   []Value
	pos    int
	serial uint64
}

func (c *mapCursor) ClassName() string        { return "MapIterator" }
func (c *mapCursor) IsClass(name string) bool { return name == "MapIterator" }
func (c *mapCursor) InstanceID() uint64       { return c.serial }

// checkShape rejects a container that does not match a specialized loop
// opcode. The generic opcodes accept any container.
func checkShape(op Opcode, container Value) error {
	want, ok := iterTypeByOp[op]
	if !ok || container.typ == want {
		return nil
	}
	return failf(ErrTypeMismatch, "%s used on a value of type '%s'.", op.Info().Name, describe(container))
}

func notIterable(v Value) error {
	return failf(ErrNotIterable, "Unable to iterate on value of type '%s'.", describe(v))
}

// rangeDone reports whether a stepped range starting at from is empty or
// exhausted.
func rangeDone[T int64 | float64](from, to, step T) bool {
	if step > 0 {
		return from >= to
	}
	return from <= to
}

func (in *Interpreter) iterateBegin(fr *frame, code []int32, ip int, op Opcode) error {
	counter := fr.dst(code[ip+1])
	container := fr.get(code[ip+2])
	if err := checkShape(op, container); err != nil {
		return err
	}
	iter, exit := code[ip+3], int(code[ip+4])

	more := true
	switch container.typ {
	case TypeInt:
		n := container.AsInt()
		if more = n > 0; more {
			*counter = Int(0)
			fr.set(iter, Int(0))
		}

	case TypeFloat:
		n := container.AsFloat()
		if more = n > 0; more {
			*counter = Float(0)
			fr.set(iter, Float(0))
		}

	case TypeVector2:
		b := container.AsVector2()
		if more = b.X < b.Y; more {
			*counter = Float(b.X)
			fr.set(iter, Float(b.X))
		}

	case TypeVector2i:
		b := container.AsVector2i()
		if more = b.X < b.Y; more {
			*counter = Int(b.X)
			fr.set(iter, Int(b.X))
		}

	case TypeVector3:
		b := container.AsVector3()
		if b.Z == 0 {
			return failf(ErrInvalidOperands, "Step argument is zero!")
		}
		if more = b.X != b.Y && !rangeDone(b.X, b.Y, b.Z); more {
			*counter = Float(b.X)
			fr.set(iter, Float(b.X))
		}

	case TypeVector3i:
		b := container.AsVector3i()
		if b.Z == 0 {
			return failf(ErrInvalidOperands, "Step argument is zero!")
		}
		if more = b.X != b.Y && !rangeDone(b.X, b.Y, b.Z); more {
			*counter = Int(b.X)
			fr.set(iter, Int(b.X))
		}

	case TypeString:
		s := container.AsString()
		if more = len(s) > 0; more {
			r, _ := utf8.DecodeRuneInString(s)
			*counter = Int(0)
			fr.set(iter, String(string(r)))
		}

	case TypeMap:
		m := container.AsMap()
		if more = m.Len() > 0; more {
			cur := &mapCursor{keys: m.Keys(), serial: nextInstanceID()}
			*counter = ObjectValue(cur)
			fr.set(iter, cur.keys[0])
		}

	case TypeArray:
		a := container.AsArray()
		if more = a.Len() > 0; more {
			*counter = Int(0)
			fr.set(iter, a.elems[0])
		}

	case TypeObject:
		var err error
		if more, err = in.iterObject(fr, container, counter, iter, "_iter_init", Nil); err != nil {
			return err
		}

	default:
		if !container.typ.IsPacked() {
			return notIterable(container)
		}
		if more = packedLen(container) > 0; more {
			e, _ := packedAt(container, 0)
			*counter = Int(0)
			fr.set(iter, e)
		}
	}

	if more {
		fr.ip += 5
	} else {
		fr.ip = exit
	}
	return nil
}

func (in *Interpreter) iterateNext(fr *frame, code []int32, ip int, op Opcode) error {
	counter := fr.dst(code[ip+1])
	container := fr.get(code[ip+2])
	if err := checkShape(op, container); err != nil {
		return err
	}
	iter, exit := code[ip+3], int(code[ip+4])

	more := true
	switch container.typ {
	case TypeInt:
		c := counter.AsInt() + 1
		*counter = Int(c)
		if more = c < container.AsInt(); more {
			fr.set(iter, Int(c))
		}

	case TypeFloat:
		c := counter.AsFloat() + 1
		*counter = Float(c)
		if more = c < container.AsFloat(); more {
			fr.set(iter, Float(c))
		}

	case TypeVector2:
		c := counter.AsFloat() + 1
		*counter = Float(c)
		if more = c < container.AsVector2().Y; more {
			fr.set(iter, Float(c))
		}

	case TypeVector2i:
		c := counter.AsInt() + 1
		*counter = Int(c)
		if more = c < container.AsVector2i().Y; more {
			fr.set(iter, Int(c))
		}

	case TypeVector3:
		b := container.AsVector3()
		c := counter.AsFloat() + b.Z
		*counter = Float(c)
		if more = !rangeDone(c, b.Y, b.Z); more {
			fr.set(iter, Float(c))
		}

	case TypeVector3i:
		b := container.AsVector3i()
		c := counter.AsInt() + b.Z
		*counter = Int(c)
		if more = !rangeDone(c, b.Y, b.Z); more {
			fr.set(iter, Int(c))
		}

	case TypeString:
		s := container.AsString()
		pos := int(counter.AsInt())
		if pos < len(s) {
			_, size := utf8.DecodeRuneInString(s[pos:])
			pos += size
		}
		*counter = Int(int64(pos))
		if more = pos < len(s); more {
			r, _ := utf8.DecodeRuneInString(s[pos:])
			fr.set(iter, String(string(r)))
		}

	case TypeMap:
		cur, ok := counter.AsObject().(*mapCursor)
		if !ok {
			return failf(ErrIterProtocol, "Map iteration counter was overwritten.")
		}
		cur.pos++
		if more = cur.pos < len(cur.keys); more {
			fr.set(iter, cur.keys[cur.pos])
		}

	case TypeArray:
		a := container.AsArray()
		c := counter.AsInt() + 1
		*counter = Int(c)
		if more = c < int64(a.Len()); more {
			fr.set(iter, a.elems[c])
		}

	case TypeObject:
		var err error
		if more, err = in.iterObject(fr, container, counter, iter, "_iter_next", *counter); err != nil {
			return err
		}

	default:
		if !container.typ.IsPacked() {
			return notIterable(container)
		}
		c := counter.AsInt() + 1
		*counter = Int(c)
		if more = c < int64(packedLen(container)); more {
			e, _ := packedAt(container, int(c))
			fr.set(iter, e)
		}
	}

	if more {
		fr.ip += 5
	} else {
		fr.ip = exit
	}
	return nil
}

// iterObject runs one step of the host iteration protocol: method receives
// the by-reference counter, then _iter_get produces the element.
func (in *Interpreter) iterObject(fr *frame, container Value, counter *Value, iter int32, method string, state Value) (bool, error) {
	obj, freed := container.ValidObject()
	if freed {
		return false, failf(ErrFreedInstance, "Trying to iterate on a previously freed object.")
	}
	if obj == nil {
		return false, failf(ErrNullInstance, "Trying to iterate on a null value.")
	}
	ref := NewArray(state)
	ret, err := in.callDynamic(&container, method, []Value{ArrayValue(ref)})
	if err != nil {
		if f := callFailure(err, "function '"+method+"' in base '"+obj.ClassName()+"'", []Value{ArrayValue(ref)}); f != nil {
			return false, f
		}
	}
	if ref.Len() != 1 {
		return false, failf(ErrIterProtocol, "Reference argument to %s was resized to %d elements.", method, ref.Len())
	}
	if !ret.Truthy() {
		return false, nil
	}
	*counter = ref.elems[0]
	v, err := in.callDynamic(&container, "_iter_get", []Value{*counter})
	if err != nil {
		if f := callFailure(err, "function '_iter_get' in base '"+obj.ClassName()+"'", []Value{*counter}); f != nil {
			return false, f
		}
	}
	fr.set(iter, v)
	return true, nil
}

// rangeBound reads one integer operand of a range loop.
func rangeBound(v Value, what string) (int64, error) {
	if !v.IsNumber() {
		return 0, failf(ErrInvalidOperands, "Range %s must be a number, not '%s'.", what, v.typ)
	}
	return v.AsInt(), nil
}

// iterateBeginRange: (counter, from, to, step, iterator, exit).
func (in *Interpreter) iterateBeginRange(fr *frame, code []int32, ip int) error {
	from, err := rangeBound(fr.get(code[ip+2]), "start")
	if err != nil {
		return err
	}
	to, err := rangeBound(fr.get(code[ip+3]), "end")
	if err != nil {
		return err
	}
	step, err := rangeBound(fr.get(code[ip+4]), "step")
	if err != nil {
		return err
	}
	if step == 0 {
		return failf(ErrInvalidOperands, "Step argument is zero!")
	}
	if from == to || rangeDone(from, to, step) {
		fr.ip = int(code[ip+6])
		return nil
	}
	fr.set(code[ip+1], Int(from))
	fr.set(code[ip+5], Int(from))
	fr.ip += 7
	return nil
}

// iterateRange: (counter, to, step, iterator, exit).
func (in *Interpreter) iterateRange(fr *frame, code []int32, ip int) error {
	counter := fr.dst(code[ip+1])
	to := fr.get(code[ip+2]).AsInt()
	step := fr.get(code[ip+3]).AsInt()
	c := counter.AsInt() + step
	*counter = Int(c)
	if rangeDone(c, to, step) {
		fr.ip = int(code[ip+5])
		return nil
	}
	fr.set(code[ip+4], Int(c))
	fr.ip += 6
	return nil
}
