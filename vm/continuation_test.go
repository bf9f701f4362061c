package vm

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildAwaitOne builds f(sig) = (await sig) + 1.
func buildAwaitOne(t *testing.T, source string) *Function {
	t.Helper()
	b := NewFunctionBuilder("wait_one").Source(source)
	sig := b.Arg("sig", AnyType)
	r := b.Local()
	b.Await(r, sig)
	b.Operator(OpAdd, r, r, b.Const(Int(1)))
	b.Return(r)
	return b.MustBuild()
}

// buildAwaitTwo builds f(s1, s2) = (await s1) + (await s2).
func buildAwaitTwo(t *testing.T) *Function {
	t.Helper()
	b := NewFunctionBuilder("wait_two")
	s1, s2 := b.Arg("s1", AnyType), b.Arg("s2", AnyType)
	x, y := b.Local(), b.Local()
	b.Await(x, s1)
	b.Await(y, s2)
	b.Operator(OpAdd, x, x, y)
	b.Return(x)
	return b.MustBuild()
}

func suspended(t *testing.T, v Value) *Continuation {
	t.Helper()
	require.Equal(t, TypeObject, v.Type())
	c, ok := v.AsObject().(*Continuation)
	require.True(t, ok, "expected a suspended call, got %s", v.Repr())
	return c
}

// completions records every emission of a continuation's completed signal.
func completions(c *Continuation) *[]Value {
	var got []Value
	c.Completed().Connect(func(_ *Interpreter, args []Value) {
		got = append(got, emissionValue(args))
	}, false)
	return &got
}

func TestAwaitRoundTrip(t *testing.T) {
	machine, _ := newTestVM(t)
	fn := buildAwaitOne(t, "test")
	sig := NewSignal("ready")

	r, err := machine.NewInterpreter().Call(fn, nil, []Value{SignalValue(sig)})
	require.NoError(t, err)
	c := suspended(t, r)
	require.True(t, c.IsPending())
	require.False(t, c.IsDone())
	require.Equal(t, "FunctionState", c.ClassName())
	require.Equal(t, 1, sig.ConnectionCount())
	got := completions(c)

	sig.Emit(nil, Int(41))

	require.True(t, c.IsDone())
	require.Equal(t, int64(42), c.Result().AsInt())
	require.Equal(t, []Value{Int(42)}, *got)
	require.Zero(t, sig.ConnectionCount())

	// A second emission has nothing to resume.
	sig.Emit(nil, Int(1))
	require.Len(t, *got, 1)
}

func TestAwaitPreservesUnrelatedSlots(t *testing.T) {
	machine, _ := newTestVM(t)
	b := NewFunctionBuilder("wait_keep")
	sig, a := b.Arg("sig", AnyType), b.Arg("a", intType)
	k, m, r := b.Local(), b.Local(), b.Local()
	b.Operator(OpMultiply, k, a, b.Const(Int(10)))
	b.Assign(m, b.Const(String("keep")))
	b.Await(r, sig)
	b.Operator(OpAdd, r, r, k)
	b.Operator(OpAdd, r, r, a)
	b.Return(r)
	fn := b.MustBuild()

	s := NewSignal("ready")
	in := machine.NewInterpreter()
	v, err := in.Call(fn, nil, []Value{SignalValue(s), Int(3)})
	require.NoError(t, err)
	c := suspended(t, v)
	want := []Value{SignalValue(s), Int(3), Int(30), String("keep"), Nil}
	require.Equal(t, want, c.Stack())

	// Another call reuses the interpreter's frame arena meanwhile.
	sum, err := in.Call(buildSum(t), nil, []Value{Int(7), Int(8)})
	require.NoError(t, err)
	require.Equal(t, int64(15), sum.AsInt())

	r2, err := in.Resume(c, Int(100))
	require.NoError(t, err)
	require.Equal(t, int64(133), r2.AsInt())
	require.Equal(t, want, c.Stack(), "the captured slots are not rewritten")
}

func TestAwaitPlainValue(t *testing.T) {
	machine, _ := newTestVM(t)
	fn := buildAwaitOne(t, "test")

	r, err := machine.NewInterpreter().Call(fn, nil, []Value{Int(9)})
	require.NoError(t, err)
	require.Equal(t, int64(10), r.AsInt())
}

func TestAwaitNullSignal(t *testing.T) {
	machine, _ := newTestVM(t)
	fn := buildAwaitOne(t, "test")

	_, err := machine.NewInterpreter().Call(fn, nil, []Value{SignalValue(nil)})
	requireRuntimeError(t, err, ErrAwait, ClassType)
}

func TestAwaitMultipleEmissionArgs(t *testing.T) {
	machine, _ := newTestVM(t)
	b := NewFunctionBuilder("wait_args")
	sig := b.Arg("sig", AnyType)
	r := b.Local()
	b.Await(r, sig)
	b.Return(r)
	fn := b.MustBuild()

	s := NewSignal("pair")
	v, err := machine.NewInterpreter().Call(fn, nil, []Value{SignalValue(s)})
	require.NoError(t, err)
	c := suspended(t, v)

	s.Emit(nil, Int(1), Int(2))
	require.True(t, c.IsDone())
	arr := c.Result().AsArray()
	require.NotNil(t, arr)
	require.Equal(t, []Value{Int(1), Int(2)}, arr.Elems())
}

func TestAwaitChainCompletesOnce(t *testing.T) {
	machine, _ := newTestVM(t)
	fn := buildAwaitTwo(t)
	s1, s2 := NewSignal("first"), NewSignal("second")

	r, err := machine.NewInterpreter().Call(fn, nil, []Value{SignalValue(s1), SignalValue(s2)})
	require.NoError(t, err)
	first := suspended(t, r)
	got := completions(first)

	s1.Emit(nil, Int(1))
	require.False(t, first.IsDone())
	require.False(t, first.IsPending())
	require.Empty(t, *got)
	require.Equal(t, 1, s2.ConnectionCount())

	s2.Emit(nil, Int(2))
	require.True(t, first.IsDone())
	require.Equal(t, int64(3), first.Result().AsInt())
	require.Equal(t, []Value{Int(3)}, *got)
}

func TestResumeExplicitly(t *testing.T) {
	machine, _ := newTestVM(t)
	fn := buildAwaitTwo(t)
	s1, s2 := NewSignal("first"), NewSignal("second")
	in := machine.NewInterpreter()

	r, err := in.Call(fn, nil, []Value{SignalValue(s1), SignalValue(s2)})
	require.NoError(t, err)
	first := suspended(t, r)

	r, err = first.CallMethod(in, "resume", []Value{Int(5)})
	require.NoError(t, err)
	second := suspended(t, r)
	require.Zero(t, s1.ConnectionCount())
	require.Same(t, first.Completed(), second.Completed())

	r, err = second.CallMethod(in, "resume", []Value{Int(6)})
	require.NoError(t, err)
	require.Equal(t, int64(11), r.AsInt())
	require.Equal(t, int64(11), first.Result().AsInt())

	valid, err := first.CallMethod(in, "is_valid", nil)
	require.NoError(t, err)
	require.False(t, valid.AsBool())

	_, err = in.Resume(first, Nil)
	require.ErrorIs(t, err, ErrInvalidResume)
}

func TestAwaitContinuation(t *testing.T) {
	machine, _ := newTestVM(t)
	inner := buildAwaitOne(t, "test")
	sig := NewSignal("ready")
	in := machine.NewInterpreter()

	r, err := in.Call(inner, nil, []Value{SignalValue(sig)})
	require.NoError(t, err)
	pending := suspended(t, r)

	// The outer call awaits the pending call's completion.
	outer := buildAwaitOne(t, "outer")
	r, err = in.Call(outer, nil, []Value{ObjectValue(pending)})
	require.NoError(t, err)
	waiting := suspended(t, r)

	sig.Emit(nil, Int(10))
	require.True(t, pending.IsDone())
	require.True(t, waiting.IsDone())
	require.Equal(t, int64(12), waiting.Result().AsInt())

	// Awaiting a finished call yields its result at once.
	r, err = in.Call(outer, nil, []Value{ObjectValue(pending)})
	require.NoError(t, err)
	require.Equal(t, int64(12), r.AsInt())
}

func TestInstanceFreeSeversSuspendedCalls(t *testing.T) {
	machine, _ := newTestVM(t)
	s := machine.NewScript("Waiter", nil)
	s.AddFunction(buildAwaitOne(t, "Waiter"))
	inst := s.Instantiate(nil)
	sig := NewSignal("ready")

	r, err := machine.NewInterpreter().Call(s.Function("wait_one"), inst, []Value{SignalValue(sig)})
	require.NoError(t, err)
	c := suspended(t, r)
	got := completions(c)

	reg := machine.Registry()
	require.Equal(t, 1, reg.Count(inst.ID()))
	require.Equal(t, 1, reg.Count(s.ID()))

	inst.Free()

	require.False(t, c.IsValid())
	require.Zero(t, sig.ConnectionCount())
	require.Zero(t, reg.Count(inst.ID()))
	require.Zero(t, reg.Count(s.ID()))

	sig.Emit(nil, Int(1))
	require.Empty(t, *got)
	require.False(t, c.IsDone())

	_, err = machine.NewInterpreter().Resume(c, Nil)
	require.ErrorIs(t, err, ErrInvalidResume)

	// A severed call reads as a freed object.
	outer := buildAwaitOne(t, "outer")
	_, err = machine.NewInterpreter().Call(outer, nil, []Value{ObjectValue(c)})
	requireRuntimeError(t, err, ErrFreedInstance, ClassType)
}

func TestSuspendedCallDoesNotRetainInstance(t *testing.T) {
	machine, _ := newTestVM(t)
	s := machine.NewScript("Waiter", nil)
	s.AddFunction(buildAwaitOne(t, "Waiter"))
	sig := NewSignal("ready")

	c := func() *Continuation {
		r, err := machine.NewInterpreter().Call(s.Function("wait_one"), s.Instantiate(nil), []Value{SignalValue(sig)})
		require.NoError(t, err)
		return suspended(t, r)
	}()
	runtime.GC()
	runtime.GC()

	_, err := machine.NewInterpreter().Resume(c, Int(1))
	require.ErrorIs(t, err, ErrInvalidResume)
	require.False(t, c.IsDone())
}

func TestScriptInvalidateSeversSuspendedCalls(t *testing.T) {
	machine, _ := newTestVM(t)
	s := machine.NewScript("Waiter", nil)
	s.AddFunction(buildAwaitOne(t, "Waiter"))
	sig := NewSignal("ready")
	in := machine.NewInterpreter()

	var pending []*Continuation
	for range 3 {
		r, err := in.Call(s.Function("wait_one"), s.Instantiate(nil), []Value{SignalValue(sig)})
		require.NoError(t, err)
		pending = append(pending, suspended(t, r))
	}
	require.Equal(t, 3, machine.Registry().Count(s.ID()))
	require.Equal(t, 3, sig.ConnectionCount())

	s.Invalidate()

	require.False(t, s.IsValid())
	require.Zero(t, sig.ConnectionCount())
	for _, c := range pending {
		require.False(t, c.IsValid())
	}
	sig.Emit(nil, Int(1))
	for _, c := range pending {
		require.False(t, c.IsDone())
	}
}

func TestSuspendedCallWithoutAwaitFails(t *testing.T) {
	machine, _ := newTestVM(t)
	s := machine.NewScript("Caller", nil)
	s.AddFunction(buildAwaitOne(t, "Caller"))

	// call_it(sig) = self.wait_one(sig) without await
	b := NewFunctionBuilder("call_it").Source("Caller")
	sig := b.Arg("sig", AnyType)
	r := b.Local()
	b.CallMethod(r, SelfAddr, "wait_one", sig)
	b.Return(r)
	s.AddFunction(b.MustBuild())

	inst := s.Instantiate(nil)
	_, err := machine.NewInterpreter().Call(s.Function("call_it"), inst, []Value{SignalValue(NewSignal("x"))})
	requireRuntimeError(t, err, ErrAwait, ClassType)
}
