package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func call(t *testing.T, in *Interpreter, base Value, name string, args ...Value) Value {
	t.Helper()
	r, err := in.CallValue(base, name, args...)
	require.NoError(t, err, "%s.%s", base.Type(), name)
	return r
}

func TestArrayMethods(t *testing.T) {
	machine, _ := newTestVM(t)
	in := machine.NewInterpreter()
	arr := ArrayValue(NewArray(Int(1), Int(2)))

	call(t, in, arr, "append", Int(3))
	call(t, in, arr, "insert", Int(0), Int(0))
	require.Equal(t, int64(4), call(t, in, arr, "size").AsInt())
	require.Equal(t, int64(2), call(t, in, arr, "find", Int(2)).AsInt())
	require.True(t, call(t, in, arr, "has", Int(3)).AsBool())
	require.Equal(t, int64(3), call(t, in, arr, "pop_back").AsInt())
	call(t, in, arr, "remove_at", Int(0))
	require.Equal(t, []Value{Int(1), Int(2)}, arr.AsArray().Elems())

	dup := call(t, in, arr, "duplicate")
	call(t, in, dup, "clear")
	require.True(t, call(t, in, dup, "is_empty").AsBool())
	require.False(t, call(t, in, arr, "is_empty").AsBool())

	call(t, in, arr, "make_read_only")
	require.True(t, call(t, in, arr, "is_read_only").AsBool())
	_, err := in.CallValue(arr, "append", Int(9))
	require.ErrorIs(t, err, ErrReadOnly)

	_, err = in.CallValue(arr, "insert", Int(0))
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, CallTooFewArguments, ce.Kind)

	_, err = in.CallValue(arr, "no_such_method")
	require.ErrorAs(t, err, &ce)
	require.Equal(t, CallInvalidMethod, ce.Kind)
}

func TestRemoveReleasesTail(t *testing.T) {
	obj := NewSignal("held")
	a := NewArray(Int(1), Int(2), SignalValue(obj))
	backing := a.elems[:3]
	require.NoError(t, a.RemoveAt(0))
	require.Equal(t, []Value{Int(2), SignalValue(obj)}, a.Elems())
	require.Equal(t, Nil, backing[2])

	m := NewMap()
	require.NoError(t, m.Set(String("a"), Int(1)))
	require.NoError(t, m.Set(String("b"), SignalValue(obj)))
	keys, vals := m.keys[:2], m.vals[:2]
	erased, err := m.Erase(String("a"))
	require.NoError(t, err)
	require.True(t, erased)
	require.Equal(t, Nil, keys[1])
	require.Equal(t, Nil, vals[1])
	v, ok := m.Get(String("b"))
	require.True(t, ok)
	require.Equal(t, SignalValue(obj), v)
}

func TestMapMethods(t *testing.T) {
	machine, _ := newTestVM(t)
	in := machine.NewInterpreter()
	m := NewMap()
	require.NoError(t, m.Set(String("a"), Int(1)))
	mv := MapValue(m)

	require.Equal(t, int64(1), call(t, in, mv, "get", String("a")).AsInt())
	require.True(t, call(t, in, mv, "get", String("zz")).IsNil())
	require.Equal(t, int64(7), call(t, in, mv, "get", String("zz"), Int(7)).AsInt())
	require.True(t, call(t, in, mv, "has", String("a")).AsBool())
	require.Equal(t, []Value{String("a")}, call(t, in, mv, "keys").AsArray().Elems())
	require.True(t, call(t, in, mv, "erase", String("a")).AsBool())
	require.False(t, call(t, in, mv, "erase", String("a")).AsBool())
	require.Equal(t, int64(0), call(t, in, mv, "size").AsInt())

	typed := NewTypedMap(BuiltinType(TypeString), intType)
	require.True(t, call(t, in, MapValue(typed), "is_typed").AsBool())
	require.Error(t, typed.Set(Int(1), Int(1)))
}

func TestStringMethods(t *testing.T) {
	machine, _ := newTestVM(t)
	in := machine.NewInterpreter()
	s := String("héllo,wörld")

	require.Equal(t, int64(11), call(t, in, s, "length").AsInt())
	require.Equal(t, "HÉLLO,WÖRLD", call(t, in, s, "to_upper").AsString())
	require.True(t, call(t, in, s, "begins_with", String("hé")).AsBool())
	require.True(t, call(t, in, s, "ends_with", String("rld")).AsBool())
	require.Equal(t, int64(6), call(t, in, s, "find", String("w")).AsInt())
	require.Equal(t, int64(-1), call(t, in, s, "find", String("x")).AsInt())

	parts := call(t, in, s, "split")
	require.Equal(t, TypePackedStringArray, parts.Type())
	require.Equal(t, []string{"héllo", "wörld"}, PackedOf[string](parts).Slice())

	require.Equal(t, "ababab", call(t, in, String("ab"), "repeat", Int(3)).AsString())
	require.Equal(t, "42", call(t, in, String(" 42 "), "strip_edges").AsString())
	require.Equal(t, int64(42), call(t, in, String("42"), "to_int").AsInt())
	require.Equal(t, 2.5, call(t, in, String("2.5"), "to_float").AsFloat())

	_, err := in.CallValue(String("ab"), "repeat", Int(-1))
	require.Error(t, err)
}

func TestCallableMethods(t *testing.T) {
	machine, _ := newTestVM(t)
	in := machine.NewInterpreter()
	var seen [][]Value
	cb := CallableValue(NewCallable("record", func(_ *Interpreter, args []Value) (Value, error) {
		seen = append(seen, args)
		return Int(int64(len(args))), nil
	}))

	require.Equal(t, int64(2), call(t, in, cb, "call", Int(1), Int(2)).AsInt())
	require.Equal(t, int64(1), call(t, in, cb, "callv", ArrayValue(NewArray(Int(5)))).AsInt())
	require.Equal(t, "record", call(t, in, cb, "get_method").AsString())
	require.False(t, call(t, in, cb, "is_null").AsBool())

	bound := call(t, in, cb, "bind", Int(9))
	require.Equal(t, int64(2), call(t, in, bound, "call", Int(8)).AsInt())
	require.Equal(t, []Value{Int(8), Int(9)}, seen[len(seen)-1])

	null := CallableValue(nil)
	require.True(t, call(t, in, null, "is_null").AsBool())
	_, err := in.CallValue(null, "call")
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, CallInstanceIsNull, ce.Kind)
}

func TestSignalMethods(t *testing.T) {
	machine, _ := newTestVM(t)
	in := machine.NewInterpreter()
	sig := SignalValue(NewSignal("hit"))
	var total int64
	cb := CallableValue(NewCallable("add", func(_ *Interpreter, args []Value) (Value, error) {
		total += args[0].AsInt()
		return Nil, nil
	}))

	id := call(t, in, sig, "connect", cb)
	once := call(t, in, sig, "connect", cb, Bool(true))
	require.Equal(t, int64(2), call(t, in, sig, "get_connection_count").AsInt())
	require.True(t, call(t, in, sig, "is_connected", id).AsBool())

	call(t, in, sig, "emit", Int(3))
	require.Equal(t, int64(6), total)
	require.False(t, call(t, in, sig, "is_connected", once).AsBool())

	call(t, in, sig, "emit", Int(1))
	require.Equal(t, int64(7), total)

	require.True(t, call(t, in, sig, "disconnect", id).AsBool())
	require.Equal(t, int64(0), call(t, in, sig, "get_connection_count").AsInt())
	require.Equal(t, "hit", call(t, in, sig, "get_name").AsString())
}

func TestVectorAndPackedMethods(t *testing.T) {
	machine, _ := newTestVM(t)
	in := machine.NewInterpreter()

	require.Equal(t, 5.0, call(t, in, Vec2(3, 4), "length").AsFloat())
	require.Equal(t, 11.0, call(t, in, Vec2(1, 2), "dot", Vec2(3, 4)).AsFloat())
	require.Equal(t, Vec3i(1, 2, 3).AsVector3i(), call(t, in, Vec3i(-1, 2, -3), "abs").AsVector3i())

	p := PackedValue(NewPacked[int64](1, 2))
	call(t, in, p, "append", Int(3))
	require.Equal(t, int64(3), call(t, in, p, "size").AsInt())
	require.True(t, call(t, in, p, "has", Int(2)).AsBool())
	require.False(t, call(t, in, p, "has", String("2")).AsBool())
	require.Equal(t, []Value{Int(1), Int(2), Int(3)}, call(t, in, p, "to_array").AsArray().Elems())

	_, err := in.CallValue(p, "append", String("x"))
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Script utilities
// ---------------------------------------------------------------------------

func callScriptUtility(t *testing.T, machine *VM, name string, args ...Value) (Value, error) {
	t.Helper()
	b := NewFunctionBuilder("call_" + name)
	addrs := make([]int32, len(args))
	for i := range args {
		addrs[i] = b.Arg("a", AnyType)
	}
	r := b.Local()
	b.CallScriptUtility(r, name, addrs...)
	b.Return(r)
	return machine.NewInterpreter().Call(b.MustBuild(), nil, args)
}

func TestScriptUtilities(t *testing.T) {
	machine, _ := newTestVM(t)

	tests := []struct {
		name string
		args []Value
		want Value
	}{
		{"len", []Value{String("añb")}, Int(3)},
		{"len", []Value{ArrayValue(NewArray(Nil, Nil))}, Int(2)},
		{"str", []Value{String("n="), Int(4)}, String("n=4")},
		{"typeof", []Value{Float(1)}, Int(int64(TypeFloat))},
		{"convert", []Value{String("12"), Int(int64(TypeInt))}, Int(12)},
		{"char", []Value{Int(65)}, String("A")},
		{"ord", []Value{String("é")}, Int(233)},
		{"type_exists", []Value{String("Vector2")}, Bool(true)},
		{"type_exists", []Value{String("Nope")}, Bool(false)},
		{"is_instance_of", []Value{Int(1), Int(int64(TypeInt))}, Bool(true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := callScriptUtility(t, machine, tt.name, tt.args...)
			require.NoError(t, err)
			require.Equal(t, tt.want.Type(), r.Type())
			require.True(t, Equal(tt.want, r), "got %s", r.Repr())
		})
	}

	r, err := callScriptUtility(t, machine, "range", Int(1), Int(8), Int(3))
	require.NoError(t, err)
	require.Equal(t, []Value{Int(1), Int(4), Int(7)}, r.AsArray().Elems())

	_, err = callScriptUtility(t, machine, "range", Int(1), Int(8), Int(0))
	requireRuntimeError(t, err, ErrInvalidOperands, ClassType)

	_, err = callScriptUtility(t, machine, "ord", String("ab"))
	requireRuntimeError(t, err, ErrInvalidCall, ClassType)

	_, err = callScriptUtility(t, machine, "len")
	requireRuntimeError(t, err, ErrInvalidCall, ClassType)
}

func TestCoreUtilities(t *testing.T) {
	machine, out := newTestVM(t)
	in := machine.NewInterpreter()

	r, err := machine.Utility("max").Call(in, []Value{Int(3), Float(4.5), Int(-1)})
	require.NoError(t, err)
	require.Equal(t, 4.5, r.AsFloat())

	r, err = machine.Utility("min").Call(in, []Value{Int(3), Int(-1)})
	require.NoError(t, err)
	require.Equal(t, int64(-1), r.AsInt())

	r, err = machine.Utility("absi").Call(in, []Value{Int(-4)})
	require.NoError(t, err)
	require.Equal(t, int64(4), r.AsInt())

	r, err = machine.Utility("sqrt").Call(in, []Value{Int(9)})
	require.NoError(t, err)
	require.Equal(t, 3.0, r.AsFloat())

	_, err = machine.Utility("print").Call(in, []Value{String("a"), Int(1)})
	require.NoError(t, err)
	require.Equal(t, "a1\n", out.String())

	require.Nil(t, machine.Utility("nope"))
}

// ---------------------------------------------------------------------------
// Lambdas and statics
// ---------------------------------------------------------------------------

func TestLambdaCaptures(t *testing.T) {
	machine, _ := newTestVM(t)

	// add(captured, x) = captured + x
	lb := NewFunctionBuilder("add")
	c, x := lb.Arg("captured", AnyType), lb.Arg("x", AnyType)
	lr := lb.Local()
	lb.Operator(OpAdd, lr, c, x)
	lb.Return(lr)
	lambda := lb.MustBuild()

	b := NewFunctionBuilder("make_adder")
	base := b.Arg("base", AnyType)
	fnv, r := b.Local(), b.Local()
	b.EmitVariadic(OpCreateLambda, nil, []int32{base}, fnv, b.Lambda(lambda))
	b.CallMethod(r, fnv, "call", b.Const(Int(5)))
	b.Return(r)
	fn := b.MustBuild()

	v, err := machine.NewInterpreter().Call(fn, nil, []Value{Int(10)})
	require.NoError(t, err)
	require.Equal(t, int64(15), v.AsInt())
}

func TestBuiltinStatic(t *testing.T) {
	machine, _ := newTestVM(t)
	b := NewFunctionBuilder("filled")
	r := b.Local()
	b.EmitVariadic(OpCallBuiltinStatic, nil, []int32{b.Const(Int(3)), b.Const(String("x"))}, r, int32(TypeArray), b.Name("filled"))
	b.Return(r)
	fn := b.MustBuild()

	v, err := machine.NewInterpreter().Call(fn, nil, nil)
	require.NoError(t, err)
	require.Equal(t, []Value{String("x"), String("x"), String("x")}, v.AsArray().Elems())
}

func TestKeyedAccess(t *testing.T) {
	machine, _ := newTestVM(t)

	// swap_first(arr, v): old = arr[0]; arr[0] = v; return old
	b := NewFunctionBuilder("swap_first")
	arr, v := b.Arg("arr", AnyType), b.Arg("v", AnyType)
	old := b.Local()
	zero := b.Const(Int(0))
	b.Emit(OpGetKeyed, arr, zero, old)
	b.Emit(OpSetKeyed, arr, zero, v)
	b.Return(old)
	fn := b.MustBuild()
	in := machine.NewInterpreter()

	a := NewArray(Int(1), Int(2))
	r, err := in.Call(fn, nil, []Value{ArrayValue(a), Int(7)})
	require.NoError(t, err)
	require.Equal(t, int64(1), r.AsInt())
	require.Equal(t, []Value{Int(7), Int(2)}, a.Elems())

	_, err = in.Call(fn, nil, []Value{ArrayValue(NewArray()), Int(7)})
	requireRuntimeError(t, err, ErrOutOfBounds, ClassType)

	acc := LookupAccessor(TypeVector2, "y")
	require.NotNil(t, acc)
	got, ok := acc.Get(Vec2(1, 2), String("y"))
	require.True(t, ok)
	require.Equal(t, 2.0, got.AsFloat())
	require.Nil(t, LookupAccessor(TypeVector2, "z"))
}
