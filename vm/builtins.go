package vm

import (
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/exp/constraints"
)

// ---------------------------------------------------------------------------
// Script utilities: functions provided by the interpreter itself
// ---------------------------------------------------------------------------

// ScriptUtility is a function implemented by the interpreter rather than the
// host. CALL_SCRIPT_UTILITY refers to it by index.
type ScriptUtility struct {
	Name string
	Func func(in *Interpreter, args []Value) (Value, error)
}

var scriptUtilities = []*ScriptUtility{
	{"range", utilRange},
	{"len", utilLen},
	{"str", utilStr},
	{"typeof", utilTypeof},
	{"convert", utilConvert},
	{"char", utilChar},
	{"ord", utilOrd},
	{"is_instance_of", utilIsInstanceOf},
	{"type_exists", utilTypeExists},
}

// ScriptUtilityIndex returns the operand index of a script utility.
func ScriptUtilityIndex(name string) (int, bool) {
	i := slices.IndexFunc(scriptUtilities, func(u *ScriptUtility) bool { return u.Name == name })
	return i, i >= 0
}

// ScriptUtilityName returns the name of script utility i.
func ScriptUtilityName(i int) string {
	if i < 0 || i >= len(scriptUtilities) {
		return ""
	}
	return scriptUtilities[i].Name
}

func intArg(args []Value, i int) (int64, error) {
	switch args[i].typ {
	case TypeInt, TypeFloat, TypeBool:
		return args[i].AsInt(), nil
	}
	return 0, invalidArgument(i, TypeInt)
}

func utilRange(_ *Interpreter, args []Value) (Value, error) {
	var from, to, step int64 = 0, 0, 1
	switch len(args) {
	case 0:
		return Nil, tooFewArguments(1)
	case 1:
		n, err := intArg(args, 0)
		if err != nil {
			return Nil, err
		}
		to = n
	case 2, 3:
		var err error
		if from, err = intArg(args, 0); err != nil {
			return Nil, err
		}
		if to, err = intArg(args, 1); err != nil {
			return Nil, err
		}
		if len(args) == 3 {
			if step, err = intArg(args, 2); err != nil {
				return Nil, err
			}
		}
	default:
		return Nil, tooManyArguments(3)
	}
	if step == 0 {
		return Nil, failf(ErrInvalidOperands, "Step argument is zero!")
	}
	out := NewArray()
	for i := from; !rangeDone(i, to, step); i += step {
		out.elems = append(out.elems, Int(i))
	}
	return ArrayValue(out), nil
}

func utilLen(_ *Interpreter, args []Value) (Value, error) {
	if len(args) != 1 {
		return Nil, arityError(len(args), 1)
	}
	v := args[0]
	switch {
	case v.typ == TypeString:
		return Int(int64(utf8.RuneCountInString(v.AsString()))), nil
	case v.typ == TypeArray:
		return Int(int64(v.AsArray().Len())), nil
	case v.typ == TypeMap:
		return Int(int64(v.AsMap().Len())), nil
	case v.typ.IsPacked():
		return Int(int64(packedLen(v))), nil
	}
	return Nil, failf(ErrInvalidCall, "Value of type '%s' can't provide a length.", v.typ)
}

func utilStr(_ *Interpreter, args []Value) (Value, error) {
	var sb strings.Builder
	for _, a := range args {
		if a.typ == TypeString {
			sb.WriteString(a.AsString())
		} else {
			sb.WriteString(a.String())
		}
	}
	return String(sb.String()), nil
}

func utilTypeof(_ *Interpreter, args []Value) (Value, error) {
	if len(args) != 1 {
		return Nil, arityError(len(args), 1)
	}
	return Int(int64(args[0].typ)), nil
}

func utilConvert(_ *Interpreter, args []Value) (Value, error) {
	if len(args) != 2 {
		return Nil, arityError(len(args), 2)
	}
	if args[1].typ != TypeInt {
		return Nil, invalidArgument(1, TypeInt)
	}
	t := Type(args[1].AsInt())
	if args[1].AsInt() < 0 || t >= TypeMax {
		return Nil, failf(ErrInvalidCall, "Invalid type argument to convert(), use TYPE_* constants.")
	}
	if !CanConvert(args[0].typ, t) && args[0].typ != t {
		return Nil, invalidArgument(0, t)
	}
	return convert(t, args[0])
}

func utilChar(_ *Interpreter, args []Value) (Value, error) {
	if len(args) != 1 {
		return Nil, arityError(len(args), 1)
	}
	c, err := intArg(args, 0)
	if err != nil {
		return Nil, err
	}
	return String(string(rune(c))), nil
}

func utilOrd(_ *Interpreter, args []Value) (Value, error) {
	if len(args) != 1 {
		return Nil, arityError(len(args), 1)
	}
	if args[0].typ != TypeString {
		return Nil, invalidArgument(0, TypeString)
	}
	s := args[0].AsString()
	if utf8.RuneCountInString(s) != 1 {
		return Nil, failf(ErrInvalidCall, "Expected a string of length 1 (a character) for ord(), got %d.", utf8.RuneCountInString(s))
	}
	r, _ := utf8.DecodeRuneInString(s)
	return Int(int64(r)), nil
}

func utilIsInstanceOf(in *Interpreter, args []Value) (Value, error) {
	if len(args) != 2 {
		return Nil, arityError(len(args), 2)
	}
	v, typ := args[0], args[1]
	switch typ.typ {
	case TypeInt:
		return Bool(int64(v.typ) == typ.AsInt()), nil
	case TypeString:
		obj, _ := v.ValidObject()
		return Bool(obj != nil && obj.IsClass(typ.AsString())), nil
	case TypeObject:
		s, ok := typ.AsObject().(*Script)
		if !ok {
			return Nil, invalidArgument(1, TypeObject)
		}
		obj, _ := v.ValidObject()
		inst, ok := obj.(*Instance)
		return Bool(ok && inst.script.InheritsFrom(s)), nil
	}
	return Nil, invalidArgument(1, TypeObject)
}

func utilTypeExists(in *Interpreter, args []Value) (Value, error) {
	if len(args) != 1 {
		return Nil, arityError(len(args), 1)
	}
	if args[0].typ != TypeString {
		return Nil, invalidArgument(0, TypeString)
	}
	name := args[0].AsString()
	if _, ok := TypeByName(name); ok {
		return Bool(true), nil
	}
	db := in.vm.ClassDB
	return Bool(db != nil && db.ClassExists(name)), nil
}

func arityError(argc, expected int) *CallError {
	if argc > expected {
		return tooManyArguments(expected)
	}
	return tooFewArguments(expected)
}

// ---------------------------------------------------------------------------
// Builtin type methods
// ---------------------------------------------------------------------------

type methodKey struct {
	t    Type
	name string
}

var builtinMethods = map[methodKey]*BuiltinMethod{}

func defMethod(t Type, name string, argTypes []Type, ret Type, fn func(in *Interpreter, base *Value, args []Value) (Value, error)) *BuiltinMethod {
	m := &BuiltinMethod{Type: t, Name: name, ArgTypes: argTypes, ReturnType: ret, HasReturn: ret != TypeNil, Func: fn}
	builtinMethods[methodKey{t, name}] = m
	return m
}

// LookupBuiltinMethod returns the method name of builtin type t, or nil.
func LookupBuiltinMethod(t Type, name string) *BuiltinMethod {
	return builtinMethod(t, name)
}

func builtinMethod(t Type, name string) *BuiltinMethod {
	return builtinMethods[methodKey{t, name}]
}

func containerErr(err error) error {
	if err == nil {
		return nil
	}
	return failf(err, "%s", err)
}

func init() {
	defArrayMethods()
	defMapMethods()
	defStringMethods()
	defCallableMethods()
	defSignalMethods()
	defVectorMethods()
	defPackedMethods[byte]()
	defPackedMethods[int32]()
	defPackedMethods[int64]()
	defPackedMethods[float32]()
	defPackedMethods[float64]()
	defPackedMethods[string]()
}

func defArrayMethods() {
	defMethod(TypeArray, "size", nil, TypeInt, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return Int(int64(b.AsArray().Len())), nil
	})
	defMethod(TypeArray, "is_empty", nil, TypeBool, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return Bool(b.AsArray().Len() == 0), nil
	})
	defMethod(TypeArray, "append", []Type{TypeNil}, TypeNil, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		return Nil, containerErr(b.AsArray().Append(args[0]))
	})
	defMethod(TypeArray, "push_back", []Type{TypeNil}, TypeNil, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		return Nil, containerErr(b.AsArray().Append(args[0]))
	})
	defMethod(TypeArray, "insert", []Type{TypeInt, TypeNil}, TypeNil, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		return Nil, containerErr(b.AsArray().Insert(args[0].AsInt(), args[1]))
	})
	defMethod(TypeArray, "remove_at", []Type{TypeInt}, TypeNil, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		return Nil, containerErr(b.AsArray().RemoveAt(args[0].AsInt()))
	})
	defMethod(TypeArray, "pop_back", nil, TypeNil, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		a := b.AsArray()
		if a.Len() == 0 {
			return Nil, nil
		}
		v, _ := a.At(-1)
		return v, containerErr(a.RemoveAt(-1))
	}).HasReturn = true
	defMethod(TypeArray, "clear", nil, TypeNil, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return Nil, containerErr(b.AsArray().Clear())
	})
	defMethod(TypeArray, "find", []Type{TypeNil}, TypeInt, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		return Int(int64(b.AsArray().Find(args[0]))), nil
	})
	defMethod(TypeArray, "has", []Type{TypeNil}, TypeBool, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		return Bool(b.AsArray().Find(args[0]) >= 0), nil
	})
	defMethod(TypeArray, "duplicate", nil, TypeArray, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return ArrayValue(b.AsArray().Duplicate()), nil
	})
	defMethod(TypeArray, "is_typed", nil, TypeBool, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return Bool(b.AsArray().IsTyped()), nil
	})
	defMethod(TypeArray, "is_read_only", nil, TypeBool, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return Bool(b.AsArray().ReadOnly()), nil
	})
	defMethod(TypeArray, "make_read_only", nil, TypeNil, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		b.AsArray().MakeReadOnly()
		return Nil, nil
	})
}

func defMapMethods() {
	defMethod(TypeMap, "size", nil, TypeInt, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return Int(int64(b.AsMap().Len())), nil
	})
	defMethod(TypeMap, "is_empty", nil, TypeBool, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return Bool(b.AsMap().Len() == 0), nil
	})
	defMethod(TypeMap, "has", []Type{TypeNil}, TypeBool, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		return Bool(b.AsMap().Has(args[0])), nil
	})
	get := defMethod(TypeMap, "get", []Type{TypeNil, TypeNil}, TypeNil, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		if v, ok := b.AsMap().Get(args[0]); ok {
			return v, nil
		}
		return args[1], nil
	})
	get.Defaults = []Value{Nil}
	get.HasReturn = true
	defMethod(TypeMap, "erase", []Type{TypeNil}, TypeBool, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		ok, err := b.AsMap().Erase(args[0])
		return Bool(ok), containerErr(err)
	})
	defMethod(TypeMap, "clear", nil, TypeNil, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return Nil, containerErr(b.AsMap().Clear())
	})
	defMethod(TypeMap, "keys", nil, TypeArray, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return ArrayValue(NewArray(b.AsMap().Keys()...)), nil
	})
	defMethod(TypeMap, "values", nil, TypeArray, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return ArrayValue(NewArray(b.AsMap().Values()...)), nil
	})
	defMethod(TypeMap, "duplicate", nil, TypeMap, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return MapValue(b.AsMap().Duplicate()), nil
	})
	defMethod(TypeMap, "is_typed", nil, TypeBool, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return Bool(b.AsMap().IsTyped()), nil
	})
}

func defStringMethods() {
	defMethod(TypeString, "length", nil, TypeInt, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return Int(int64(utf8.RuneCountInString(b.AsString()))), nil
	})
	defMethod(TypeString, "is_empty", nil, TypeBool, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return Bool(b.AsString() == ""), nil
	})
	defMethod(TypeString, "to_upper", nil, TypeString, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return String(strings.ToUpper(b.AsString())), nil
	})
	defMethod(TypeString, "to_lower", nil, TypeString, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return String(strings.ToLower(b.AsString())), nil
	})
	defMethod(TypeString, "begins_with", []Type{TypeString}, TypeBool, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		return Bool(strings.HasPrefix(b.AsString(), args[0].AsString())), nil
	})
	defMethod(TypeString, "ends_with", []Type{TypeString}, TypeBool, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		return Bool(strings.HasSuffix(b.AsString(), args[0].AsString())), nil
	})
	defMethod(TypeString, "contains", []Type{TypeString}, TypeBool, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		return Bool(strings.Contains(b.AsString(), args[0].AsString())), nil
	})
	defMethod(TypeString, "find", []Type{TypeString}, TypeInt, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		s := b.AsString()
		i := strings.Index(s, args[0].AsString())
		if i < 0 {
			return Int(-1), nil
		}
		return Int(int64(utf8.RuneCountInString(s[:i]))), nil
	})
	defMethod(TypeString, "strip_edges", nil, TypeString, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return String(strings.TrimSpace(b.AsString())), nil
	})
	split := defMethod(TypeString, "split", []Type{TypeString}, TypePackedStringArray, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		return PackedValue(NewPacked(strings.Split(b.AsString(), args[0].AsString())...)), nil
	})
	split.Defaults = []Value{String(",")}
	defMethod(TypeString, "repeat", []Type{TypeInt}, TypeString, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		n := args[0].AsInt()
		if n < 0 {
			return Nil, invalidArgument(0, TypeInt)
		}
		return String(strings.Repeat(b.AsString(), int(n))), nil
	})
	defMethod(TypeString, "to_int", nil, TypeInt, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return convert(TypeInt, *b)
	})
	defMethod(TypeString, "to_float", nil, TypeFloat, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return convert(TypeFloat, *b)
	})
}

func defCallableMethods() {
	call := defMethod(TypeCallable, "call", nil, TypeNil, func(in *Interpreter, b *Value, args []Value) (Value, error) {
		return b.AsCallable().Call(in, args)
	})
	call.Vararg = true
	call.HasReturn = true
	defMethod(TypeCallable, "callv", []Type{TypeArray}, TypeNil, func(in *Interpreter, b *Value, args []Value) (Value, error) {
		return b.AsCallable().Call(in, args[0].AsArray().Elems())
	}).HasReturn = true
	defMethod(TypeCallable, "is_null", nil, TypeBool, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return Bool(b.AsCallable().IsNull()), nil
	})
	defMethod(TypeCallable, "is_valid", nil, TypeBool, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		c := b.AsCallable()
		return Bool(!c.IsNull() && (c.self == nil || c.self.IsValid())), nil
	})
	defMethod(TypeCallable, "get_method", nil, TypeString, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return String(b.AsCallable().Name()), nil
	})
	defMethod(TypeCallable, "bind", nil, TypeCallable, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		c := b.AsCallable()
		if c.IsNull() {
			return Nil, &CallError{Kind: CallInstanceIsNull}
		}
		extra := append([]Value(nil), args...)
		return CallableValue(NewCallable(c.Name(), func(in *Interpreter, rest []Value) (Value, error) {
			return c.Call(in, append(append([]Value(nil), rest...), extra...))
		})), nil
	}).Vararg = true
}

func defSignalMethods() {
	emit := defMethod(TypeSignal, "emit", nil, TypeNil, func(in *Interpreter, b *Value, args []Value) (Value, error) {
		s := b.AsSignal()
		if s == nil {
			return Nil, &CallError{Kind: CallInstanceIsNull}
		}
		s.Emit(in, args...)
		return Nil, nil
	})
	emit.Vararg = true
	defMethod(TypeSignal, "get_name", nil, TypeString, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return String(b.AsSignal().Name()), nil
	})
	defMethod(TypeSignal, "get_connection_count", nil, TypeInt, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		s := b.AsSignal()
		if s == nil {
			return Int(0), nil
		}
		return Int(int64(s.ConnectionCount())), nil
	})
	connect := defMethod(TypeSignal, "connect", []Type{TypeCallable, TypeBool}, TypeInt, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		s := b.AsSignal()
		if s == nil {
			return Nil, &CallError{Kind: CallInstanceIsNull}
		}
		target := args[0].AsCallable()
		if target.IsNull() {
			return Nil, invalidArgument(0, TypeCallable)
		}
		id := s.Connect(func(in *Interpreter, args []Value) {
			if _, err := target.Call(in, args); err != nil && in != nil {
				in.vm.log.Errorf("signal %s: %s", s.Name(), err)
			}
		}, args[1].AsBool())
		return Int(int64(id)), nil
	})
	connect.Defaults = []Value{Bool(false)}
	defMethod(TypeSignal, "disconnect", []Type{TypeInt}, TypeBool, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		s := b.AsSignal()
		return Bool(s != nil && s.Disconnect(uint64(args[0].AsInt()))), nil
	})
	defMethod(TypeSignal, "is_connected", []Type{TypeInt}, TypeBool, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		s := b.AsSignal()
		return Bool(s != nil && s.IsConnected(uint64(args[0].AsInt()))), nil
	})
}

func defVectorMethods() {
	defMethod(TypeVector2, "length", nil, TypeFloat, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		v := b.AsVector2()
		return Float(math.Hypot(v.X, v.Y)), nil
	})
	defMethod(TypeVector3, "length", nil, TypeFloat, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		v := b.AsVector3()
		return Float(math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)), nil
	})
	defMethod(TypeVector2, "dot", []Type{TypeVector2}, TypeFloat, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		v, w := b.AsVector2(), args[0].AsVector2()
		return Float(v.X*w.X + v.Y*w.Y), nil
	})
	defMethod(TypeVector3, "dot", []Type{TypeVector3}, TypeFloat, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		v, w := b.AsVector3(), args[0].AsVector3()
		return Float(v.X*w.X + v.Y*w.Y + v.Z*w.Z), nil
	})
	defMethod(TypeVector2i, "abs", nil, TypeVector2i, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		v := b.AsVector2i()
		return Vec2i(absOf(v.X), absOf(v.Y)), nil
	})
	defMethod(TypeVector3i, "abs", nil, TypeVector3i, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		v := b.AsVector3i()
		return Vec3i(absOf(v.X), absOf(v.Y), absOf(v.Z)), nil
	})
}

func defPackedMethods[T PackedElem]() {
	t := packedTypeOf[T]()
	defMethod(t, "size", nil, TypeInt, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return Int(int64(packedLen(*b))), nil
	})
	defMethod(t, "is_empty", nil, TypeBool, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return Bool(packedLen(*b) == 0), nil
	})
	defMethod(t, "append", []Type{TypeNil}, TypeNil, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		x, ok := packedElemFrom[T](args[0])
		if !ok {
			return Nil, invalidArgument(0, packedElemValue(x).typ)
		}
		PackedOf[T](*b).Append(x)
		return Nil, nil
	})
	defMethod(t, "has", []Type{TypeNil}, TypeBool, func(_ *Interpreter, b *Value, args []Value) (Value, error) {
		x, ok := packedElemFrom[T](args[0])
		return Bool(ok && slices.Contains(PackedOf[T](*b).data, x)), nil
	})
	defMethod(t, "to_array", nil, TypeArray, func(_ *Interpreter, b *Value, _ []Value) (Value, error) {
		return ArrayValue(packedToArray(*b)), nil
	})
}

func absOf[T constraints.Signed | constraints.Float](x T) T {
	if x < 0 {
		return -x
	}
	return x
}

// ---------------------------------------------------------------------------
// Builtin static functions
// ---------------------------------------------------------------------------

var builtinStatics = map[methodKey]*Utility{
	{TypeString, "chr"}: {
		Name: "chr", ArgTypes: []Type{TypeInt}, ReturnType: TypeString, HasReturn: true,
		Validated: func(args []Value) Value { return String(string(rune(args[0].AsInt()))) },
	},
	{TypeString, "num"}: {
		Name: "num", ArgTypes: []Type{TypeFloat}, ReturnType: TypeString, HasReturn: true,
		Validated: func(args []Value) Value { return String(formatFloat(args[0].AsFloat())) },
	},
	{TypeString, "num_int64"}: {
		Name: "num_int64", ArgTypes: []Type{TypeInt}, ReturnType: TypeString, HasReturn: true,
		Validated: func(args []Value) Value { return String(args[0].String()) },
	},
	{TypeSignal, "create"}: {
		Name: "create", ArgTypes: []Type{TypeString}, ReturnType: TypeSignal, HasReturn: true,
		Validated: func(args []Value) Value { return SignalValue(NewSignal(args[0].AsString())) },
	},
	{TypeArray, "filled"}: {
		Name: "filled", ArgTypes: []Type{TypeInt, TypeNil}, ReturnType: TypeArray, HasReturn: true,
		Validated: func(args []Value) Value {
			out := NewArray()
			for range max(args[0].AsInt(), 0) {
				out.elems = append(out.elems, args[1])
			}
			return ArrayValue(out)
		},
	},
}

func builtinStatic(t Type, name string) *Utility {
	return builtinStatics[methodKey{t, name}]
}

// ---------------------------------------------------------------------------
// Core utilities registered on every VM
// ---------------------------------------------------------------------------

func registerCoreUtilities(vm *VM) {
	vm.RegisterUtility(&Utility{
		Name: "print", Vararg: true,
		Func: func(in *Interpreter, args []Value) (Value, error) {
			s, _ := utilStr(in, args)
			in.vm.Print(s.AsString())
			return Nil, nil
		},
	})
	vm.RegisterUtility(&Utility{
		Name: "push_error", Vararg: true,
		Func: func(in *Interpreter, args []Value) (Value, error) {
			s, _ := utilStr(in, args)
			in.vm.log.Errorf("%s", s.AsString())
			return Nil, nil
		},
	})
	vm.RegisterUtility(&Utility{
		Name: "abs", ArgTypes: []Type{TypeNil}, HasReturn: true,
		Func: func(_ *Interpreter, args []Value) (Value, error) {
			switch v := args[0]; v.typ {
			case TypeInt:
				return Int(absOf(v.AsInt())), nil
			case TypeFloat:
				return Float(math.Abs(v.AsFloat())), nil
			}
			return Nil, invalidArgument(0, TypeFloat)
		},
	})
	vm.RegisterUtility(&Utility{
		Name: "absi", ArgTypes: []Type{TypeInt}, ReturnType: TypeInt, HasReturn: true,
		Validated: func(args []Value) Value { return Int(absOf(args[0].AsInt())) },
	})
	vm.RegisterUtility(&Utility{
		Name: "absf", ArgTypes: []Type{TypeFloat}, ReturnType: TypeFloat, HasReturn: true,
		Validated: func(args []Value) Value { return Float(math.Abs(args[0].AsFloat())) },
	})
	vm.RegisterUtility(&Utility{
		Name: "sqrt", ArgTypes: []Type{TypeFloat}, ReturnType: TypeFloat, HasReturn: true,
		Validated: func(args []Value) Value { return Float(math.Sqrt(args[0].AsFloat())) },
	})
	vm.RegisterUtility(&Utility{
		Name: "floor", ArgTypes: []Type{TypeFloat}, ReturnType: TypeFloat, HasReturn: true,
		Validated: func(args []Value) Value { return Float(math.Floor(args[0].AsFloat())) },
	})
	vm.RegisterUtility(&Utility{Name: "max", Vararg: true, HasReturn: true, Func: extremum(1)})
	vm.RegisterUtility(&Utility{Name: "min", Vararg: true, HasReturn: true, Func: extremum(-1)})
}

// extremum returns the utility selecting the largest (sign 1) or smallest
// (sign -1) of at least two numbers. Mixed int and float compare as floats.
func extremum(sign int) func(*Interpreter, []Value) (Value, error) {
	return func(_ *Interpreter, args []Value) (Value, error) {
		if len(args) < 2 {
			return Nil, tooFewArguments(2)
		}
		best := args[0]
		for i, a := range args {
			if !a.IsNumber() {
				return Nil, invalidArgument(i, TypeFloat)
			}
			if i == 0 {
				continue
			}
			if (sign > 0 && a.AsFloat() > best.AsFloat()) || (sign < 0 && a.AsFloat() < best.AsFloat()) {
				best = a
			}
		}
		return best, nil
	}
}
