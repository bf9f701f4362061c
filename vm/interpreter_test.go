package vm

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var intType = BuiltinType(TypeInt)

func newTestVM(t *testing.T) (*VM, *bytes.Buffer) {
	t.Helper()
	machine := New(DefaultOptions())
	var out bytes.Buffer
	machine.Output = &out
	return machine, &out
}

// buildSum builds sum(a = 0, b = 0) -> int.
func buildSum(t *testing.T) *Function {
	t.Helper()
	b := NewFunctionBuilder("sum").Source("test").Returns(intType)
	x, y := b.Arg("a", intType), b.Arg("b", intType)
	r := b.Local()
	b.Entry(2)
	b.Assign(x, b.Const(Int(0)))
	b.Entry(1)
	b.Assign(y, b.Const(Int(0)))
	b.Entry(0)
	b.Operator(OpAdd, r, x, y)
	b.Return(r)
	fn, err := b.Build()
	require.NoError(t, err)
	return fn
}

func requireRuntimeError(t *testing.T, err error, sentinel error, class ErrorClass) *RuntimeError {
	t.Helper()
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, class, rerr.Class)
	return rerr
}

// ---------------------------------------------------------------------------
// Calls and default arguments
// ---------------------------------------------------------------------------

func TestCallDefaultArguments(t *testing.T) {
	machine, _ := newTestVM(t)
	sum := buildSum(t)
	in := machine.NewInterpreter()

	tests := []struct {
		args []Value
		want int64
	}{
		{nil, 0},
		{[]Value{Int(4)}, 4},
		{[]Value{Int(4), Int(5)}, 9},
	}
	for _, tt := range tests {
		r, err := in.Call(sum, nil, tt.args)
		require.NoError(t, err)
		require.Equal(t, TypeInt, r.Type())
		require.Equal(t, tt.want, r.AsInt())
	}
}

func TestCallArity(t *testing.T) {
	machine, _ := newTestVM(t)
	sum := buildSum(t)
	in := machine.NewInterpreter()

	_, err := in.Call(sum, nil, []Value{Int(1), Int(2), Int(3)})
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, CallTooManyArguments, ce.Kind)
	require.Equal(t, 2, ce.Expected)

	b := NewFunctionBuilder("one")
	b.Arg("x", AnyType)
	b.Return(NilAddr)
	one := b.MustBuild()
	_, err = in.Call(one, nil, nil)
	require.ErrorAs(t, err, &ce)
	require.Equal(t, CallTooFewArguments, ce.Kind)
	require.Equal(t, 1, ce.Expected)
}

func TestCallArgumentConversion(t *testing.T) {
	machine, _ := newTestVM(t)
	sum := buildSum(t)
	in := machine.NewInterpreter()

	// float converts to int
	r, err := in.Call(sum, nil, []Value{Float(2.9), Int(1)})
	require.NoError(t, err)
	require.Equal(t, int64(3), r.AsInt())

	_, err = in.Call(sum, nil, []Value{String("x")})
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, CallInvalidArgument, ce.Kind)
	require.Equal(t, 0, ce.Argument)
	require.Equal(t, int(TypeInt), ce.Expected)
}

func TestCallVariadic(t *testing.T) {
	machine, _ := newTestVM(t)
	b := NewFunctionBuilder("count")
	b.Arg("first", AnyType)
	rest := b.Rest()
	r := b.Local()
	b.CallMethod(r, rest, "size")
	b.Operator(OpAdd, r, r, b.Const(Int(1)))
	b.Return(r)
	fn := b.MustBuild()

	in := machine.NewInterpreter()
	res, err := in.Call(fn, nil, []Value{Int(1), Int(2), Int(3)})
	require.NoError(t, err)
	require.Equal(t, int64(3), res.AsInt())

	res, err = in.Call(fn, nil, []Value{Int(1)})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.AsInt())
}

func TestFallOffEndReturnsDefault(t *testing.T) {
	machine, _ := newTestVM(t)
	b := NewFunctionBuilder("noop").Returns(intType)
	b.Line(1)
	fn := b.MustBuild()

	r, err := machine.NewInterpreter().Call(fn, nil, nil)
	require.NoError(t, err)
	require.Equal(t, TypeInt, r.Type())
	require.Equal(t, int64(0), r.AsInt())
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func TestJumps(t *testing.T) {
	machine, _ := newTestVM(t)

	// max(a, b)
	b := NewFunctionBuilder("max")
	x, y := b.Arg("a", intType), b.Arg("b", intType)
	cond := b.Local()
	other := b.NewLabel()
	b.Operator(OpGreater, cond, x, y)
	b.JumpIfNot(cond, other)
	b.Return(x)
	b.Mark(other)
	b.Return(y)
	fn := b.MustBuild()

	in := machine.NewInterpreter()
	for _, tc := range [][3]int64{{1, 2, 2}, {5, 3, 5}, {4, 4, 4}} {
		r, err := in.Call(fn, nil, []Value{Int(tc[0]), Int(tc[1])})
		require.NoError(t, err)
		require.Equal(t, tc[2], r.AsInt())
	}
}

func TestOperatorErrors(t *testing.T) {
	machine, _ := newTestVM(t)

	b := NewFunctionBuilder("div")
	x, y := b.Arg("a", AnyType), b.Arg("b", AnyType)
	r := b.Local()
	b.Line(7)
	b.Operator(OpDivide, r, x, y)
	b.Return(r)
	fn := b.MustBuild()
	in := machine.NewInterpreter()

	res, err := in.Call(fn, nil, []Value{Int(7), Int(2)})
	require.NoError(t, err)
	require.Equal(t, int64(3), res.AsInt())

	res, err = in.Call(fn, nil, []Value{Int(1), Int(0)})
	rerr := requireRuntimeError(t, err, ErrDivisionByZero, ClassType)
	require.Equal(t, "div", rerr.Function)
	require.Equal(t, 7, rerr.NodeID)
	require.True(t, res.IsNil())

	_, err = in.Call(fn, nil, []Value{Int(1), String("x")})
	requireRuntimeError(t, err, ErrInvalidOperands, ClassType)
}

// ---------------------------------------------------------------------------
// Typed assignment and returns
// ---------------------------------------------------------------------------

func TestAssignTypedArray(t *testing.T) {
	machine, _ := newTestVM(t)

	b := NewFunctionBuilder("store")
	src := b.Arg("src", AnyType)
	dst := b.Local()
	b.Emit(OpAssignTypedArray, dst, src, b.TypeInfo(ArrayOf(intType)))
	b.Return(dst)
	fn := b.MustBuild()
	in := machine.NewInterpreter()

	typed, err := NewTypedArray(intType, Int(1), Int(2))
	require.NoError(t, err)
	r, err := in.Call(fn, nil, []Value{ArrayValue(typed)})
	require.NoError(t, err)
	require.Same(t, typed, r.AsArray())

	_, err = in.Call(fn, nil, []Value{ArrayValue(NewArray(Int(1)))})
	requireRuntimeError(t, err, ErrTypeMismatch, ClassType)

	_, err = in.Call(fn, nil, []Value{Int(3)})
	requireRuntimeError(t, err, ErrTypeMismatch, ClassType)
}

func TestTypedAssignAndReturn(t *testing.T) {
	machine, _ := newTestVM(t)
	strType := BuiltinType(TypeString)

	base := machine.NewScript("Base", nil)
	derived := machine.NewScript("Derived", base)
	other := machine.NewScript("Other", nil)

	intStr := MapOf(intType, strType)
	typedMap := func(k, v TypeInfo) Value { return MapValue(NewTypedMap(k, v)) }
	typedArray := func(elem TypeInfo) Value {
		a, err := NewTypedArray(elem)
		require.NoError(t, err)
		return ArrayValue(a)
	}

	tests := []struct {
		name    string
		op      Opcode
		typ     TypeInfo
		value   Value
		wantErr bool
	}{
		{"assign map", OpAssignTypedMap, intStr, typedMap(intType, strType), false},
		{"assign untyped map", OpAssignTypedMap, intStr, MapValue(NewMap()), true},
		{"assign map key type", OpAssignTypedMap, intStr, typedMap(strType, strType), true},
		{"assign map value type", OpAssignTypedMap, intStr, typedMap(intType, intType), true},
		{"assign int as map", OpAssignTypedMap, intStr, Int(1), true},
		{"assign native", OpAssignTypedNative, NativeType("Node"), ObjectValue(base), true},
		{"assign null native", OpAssignTypedNative, NativeType("Node"), Nil, false},
		{"assign script", OpAssignTypedScript, ScriptType(base), ObjectValue(derived.Instantiate(nil)), false},
		{"assign other script", OpAssignTypedScript, ScriptType(base), ObjectValue(other.Instantiate(nil)), true},

		{"return builtin", OpReturnTypedBuiltin, intType, Float(2.5), false},
		{"return builtin mismatch", OpReturnTypedBuiltin, intType, String("x"), true},
		{"return array", OpReturnTypedArray, ArrayOf(intType), typedArray(intType), false},
		{"return array mismatch", OpReturnTypedArray, ArrayOf(intType), typedArray(strType), true},
		{"return untyped array", OpReturnTypedArray, ArrayOf(intType), ArrayValue(NewArray()), true},
		{"return map", OpReturnTypedMap, intStr, typedMap(intType, strType), false},
		{"return map mismatch", OpReturnTypedMap, intStr, typedMap(intType, intType), true},
		{"return native mismatch", OpReturnTypedNative, NativeType("Node"), Int(3), true},
		{"return script", OpReturnTypedScript, ScriptType(base), ObjectValue(base.Instantiate(nil)), false},
		{"return script mismatch", OpReturnTypedScript, ScriptType(derived), ObjectValue(base.Instantiate(nil)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewFunctionBuilder("typed")
			src := b.Arg("src", AnyType)
			dst := b.Local()
			switch tt.op {
			case OpAssignTypedMap, OpAssignTypedNative, OpAssignTypedScript:
				b.Emit(tt.op, dst, src, b.TypeInfo(tt.typ))
				b.Return(dst)
			case OpReturnTypedBuiltin:
				b.Emit(tt.op, src, int32(tt.typ.Builtin))
			default:
				b.Emit(tt.op, src, b.TypeInfo(tt.typ))
			}
			fn := b.MustBuild()

			_, err := machine.NewInterpreter().Call(fn, nil, []Value{tt.value})
			if tt.wantErr {
				requireRuntimeError(t, err, ErrTypeMismatch, ClassType)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTypedArrayRejectsElement(t *testing.T) {
	typed, err := NewTypedArray(intType)
	require.NoError(t, err)
	require.NoError(t, typed.Append(Int(1)))
	require.Error(t, typed.Append(String("no")))
	require.Equal(t, 1, typed.Len())

	_, err = NewTypedArray(intType, String("bad"))
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Recursion guard
// ---------------------------------------------------------------------------

func TestStackOverflowAtEntry(t *testing.T) {
	machine, _ := newTestVM(t)
	sum := buildSum(t)
	in := machine.NewInterpreter()
	in.MaxDepth = 0

	r, err := in.Call(sum, nil, []Value{Int(1), Int(2)})
	requireRuntimeError(t, err, ErrStackOverflow, ClassResource)
	require.Equal(t, int64(0), r.AsInt())
	require.Equal(t, 0, in.Depth())
}

func TestRecursionGuard(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxCallDepth = 32
	machine := New(opts)
	dbg := NewDebugger()
	machine.Debugger = dbg

	// down(n) recurses unconditionally, then counts in a member.
	s := machine.NewScript("Deep", nil)
	calls := s.AddMember("calls", intType)
	b := NewFunctionBuilder("down").Source("Deep")
	n := b.Arg("n", intType)
	r := b.Local()
	b.CallMethod(r, SelfAddr, "down", n)
	b.Operator(OpAdd, b.Member(calls), b.Member(calls), b.Const(Int(1)))
	b.Return(r)
	s.AddFunction(b.MustBuild())

	inst := s.Instantiate(nil)
	in := machine.NewInterpreter()
	_, err := in.Call(s.Function("down"), inst, []Value{Int(1)})
	rerr := requireRuntimeError(t, err, ErrStackOverflow, ClassResource)
	require.Equal(t, "down", rerr.Function)
	require.Equal(t, 0, in.Depth())
	require.Equal(t, int64(0), inst.Member(calls).AsInt(), "no frame runs past the overflow")

	require.Len(t, dbg.Events(), 1, "the overflow is reported once")
	ev := <-dbg.Events()
	require.Contains(t, ev.Reason, "Stack overflow")
	require.False(t, ev.CanContinue)
	require.Len(t, ev.Stack, 32)
	require.Equal(t, "down", ev.Stack[0].Function)
}

func TestNestedRuntimeErrorAbortsCaller(t *testing.T) {
	machine, out := newTestVM(t)

	s := machine.NewScript("Outer", nil)
	ib := NewFunctionBuilder("inner").Source("Outer").Returns(intType)
	ib.Line(4)
	q := ib.Local()
	ib.Operator(OpDivide, q, ib.Const(Int(1)), ib.Const(Int(0)))
	ib.Return(q)
	s.AddFunction(ib.MustBuild())

	ob := NewFunctionBuilder("outer").Source("Outer").Returns(intType)
	r := ob.Local()
	ob.CallMethod(r, SelfAddr, "inner")
	ob.CallUtility(NilAddr, "print", ob.Const(String("after")))
	ob.Return(r)
	s.AddFunction(ob.MustBuild())

	_, err := machine.NewInterpreter().Call(s.Function("outer"), s.Instantiate(nil), nil)
	rerr := requireRuntimeError(t, err, ErrDivisionByZero, ClassType)
	require.Equal(t, "inner", rerr.Function)
	require.Equal(t, 4, rerr.NodeID)
	require.Empty(t, out.String())
}

// ---------------------------------------------------------------------------
// Script members and methods
// ---------------------------------------------------------------------------

func TestScriptMembersAndInheritance(t *testing.T) {
	machine, _ := newTestVM(t)

	base := machine.NewScript("Base", nil)
	hp := base.AddMember("hp", intType)
	hb := NewFunctionBuilder("hit").Source("Base").Returns(intType)
	dmg := hb.Arg("dmg", intType)
	hb.Operator(OpSubtract, hb.Member(hp), hb.Member(hp), dmg)
	hb.Return(hb.Member(hp))
	base.AddFunction(hb.MustBuild())

	derived := machine.NewScript("Derived", base)
	armor := derived.AddMember("armor", intType)
	require.Equal(t, hp+1, armor)

	// hit(dmg): armor absorbs one point, then the base implementation runs.
	db := NewFunctionBuilder("hit").Source("Derived").Returns(intType)
	d := db.Arg("dmg", intType)
	r := db.Local()
	db.Operator(OpSubtract, d, d, db.Member(armor))
	db.EmitVariadic(OpCallSelfBase, nil, []int32{d}, r, db.Name("hit"))
	db.Return(r)
	derived.AddFunction(db.MustBuild())

	inst := derived.Instantiate(nil)
	inst.SetMember(hp, Int(10))
	inst.SetMember(armor, Int(1))
	require.True(t, inst.IsClass("Base"))
	require.True(t, derived.InheritsFrom(base))

	in := machine.NewInterpreter()
	r2, err := inst.CallMethod(in, "hit", []Value{Int(4)})
	require.NoError(t, err)
	require.Equal(t, int64(7), r2.AsInt())

	v, ok := inst.GetProperty("hp")
	require.True(t, ok)
	require.Equal(t, int64(7), v.AsInt())

	require.Error(t, inst.SetProperty("missing", Int(1)))
}

func TestCallOnFreedInstance(t *testing.T) {
	machine, _ := newTestVM(t)
	b := NewFunctionBuilder("poke")
	target := b.Arg("target", AnyType)
	r := b.Local()
	b.CallMethod(r, target, "anything")
	b.Return(r)
	fn := b.MustBuild()

	s := machine.NewScript("Thing", nil)
	inst := s.Instantiate(nil)
	inst.Free()

	_, err := machine.NewInterpreter().Call(fn, nil, []Value{ObjectValue(inst)})
	requireRuntimeError(t, err, ErrInvalidCall, ClassType)
}

func TestNilSlotIgnoresWrites(t *testing.T) {
	machine, out := newTestVM(t)
	b := NewFunctionBuilder("greet")
	name := b.Arg("name", AnyType)
	b.CallUtility(NilAddr, "print", b.Const(String("hi ")), name)
	b.Return(NilAddr)
	fn := b.MustBuild()

	r, err := machine.NewInterpreter().Call(fn, nil, []Value{String("ann")})
	require.NoError(t, err)
	require.True(t, r.IsNil())
	require.Equal(t, "hi ann\n", out.String())
}

func TestRuntimeErrorUnwrap(t *testing.T) {
	rerr := &RuntimeError{Class: ClassResource, Err: failf(ErrBadJump, "jump"), Message: "jump", Function: "f", Source: "s"}
	require.True(t, errors.Is(rerr, ErrBadJump))
	require.Equal(t, "s::f (node 0, ip 0): jump", rerr.Error())
	require.Equal(t, "resource", rerr.Class.String())
}
