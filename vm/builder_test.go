package vm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilderEntries(t *testing.T) {
	sum := buildSum(t)
	require.Equal(t, []int{6, 3, 0}, sum.DefaultArgs)
	require.Equal(t, 2, sum.OptionalArgs())
	require.Equal(t, 7, sum.StackSize)
	require.Len(t, sum.Constants, 1)
}

func TestBuilderLabels(t *testing.T) {
	b := NewFunctionBuilder("loop")
	n := b.Arg("n", intType)
	acc := b.Local()
	top, done := b.NewLabel(), b.NewLabel()
	b.Assign(acc, b.Const(Int(0)))
	b.Mark(top)
	b.JumpIfNot(n, done)
	b.Operator(OpAdd, acc, acc, n)
	b.Operator(OpSubtract, n, n, b.Const(Int(1)))
	b.Jump(top)
	b.Mark(done)
	b.Return(acc)
	fn := b.MustBuild()

	machine, _ := newTestVM(t)
	r, err := machine.NewInterpreter().Call(fn, nil, []Value{Int(4)})
	require.NoError(t, err)
	require.Equal(t, int64(10), r.AsInt())
}

func TestBuilderErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *FunctionBuilder)
		want  string
	}{
		{"unresolved label", func(b *FunctionBuilder) {
			b.Jump(b.NewLabel())
		}, "unresolved label"},
		{"label marked twice", func(b *FunctionBuilder) {
			l := b.NewLabel()
			b.Mark(l)
			b.Mark(l)
		}, "label marked twice"},
		{"operand count", func(b *FunctionBuilder) {
			b.Emit(OpAssign, Stack(0))
		}, "ASSIGN takes 2 operands, got 1"},
		{"variadic through Emit", func(b *FunctionBuilder) {
			b.Emit(OpCall)
		}, "CALL is variadic"},
		{"parameter after local", func(b *FunctionBuilder) {
			b.Local()
			b.Arg("late", AnyType)
		}, "parameter late declared after locals"},
		{"missing entry", func(b *FunctionBuilder) {
			b.Arg("a", AnyType)
			b.Arg("b", AnyType)
			b.Entry(2)
			b.Entry(0)
		}, "no entry for 1 missing arguments"},
		{"unknown script utility", func(b *FunctionBuilder) {
			b.CallScriptUtility(NilAddr, "nope")
		}, "unknown script utility nope"},
		{"no validated operator", func(b *FunctionBuilder) {
			b.ValidatedOperator(OpAdd, TypeInt, TypeString)
		}, "no validated operator + for int and String"},
		{"division has no validated form", func(b *FunctionBuilder) {
			b.ValidatedOperator(OpDivide, TypeInt, TypeInt)
		}, "operator / has no validated form"},
		{"modulo has no validated form", func(b *FunctionBuilder) {
			b.ValidatedOperator(OpModule, TypeInt, TypeInt)
		}, "operator % has no validated form"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewFunctionBuilder("bad")
			tt.build(b)
			_, err := b.Build()
			require.ErrorContains(t, err, tt.want)
			require.Panics(t, func() { b.MustBuild() })
		})
	}
}

func TestBuilderConstDedup(t *testing.T) {
	b := NewFunctionBuilder("consts")
	require.Equal(t, b.Const(Int(1)), b.Const(Int(1)))
	require.NotEqual(t, b.Const(Int(1)), b.Const(Float(1)))
	require.Equal(t, b.Const(String("x")), b.Const(String("x")))

	arr := NewArray()
	require.NotEqual(t, b.Const(ArrayValue(arr)), b.Const(ArrayValue(arr)))
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestPrepareRejectsMalformedCode(t *testing.T) {
	tests := []struct {
		name string
		fn   *Function
		want error
	}{
		{"jump out of range", &Function{Name: "f", StackSize: FixedSlots,
			Code: []int32{int32(OpJump), 99}}, ErrBadJump},
		{"jump into an instruction", &Function{Name: "f", StackSize: FixedSlots,
			Code: []int32{int32(OpJump), 1}}, ErrBadJump},
		{"stack slot out of range", &Function{Name: "f", StackSize: FixedSlots,
			Code: []int32{int32(OpReturn), Stack(FixedSlots)}}, ErrBadAddress},
		{"constant out of range", &Function{Name: "f", StackSize: FixedSlots,
			Code: []int32{int32(OpReturn), MakeAddress(AddrConstant, 0)}}, ErrBadAddress},
		{"unknown opcode", &Function{Name: "f", StackSize: FixedSlots,
			Code: []int32{9999}}, ErrMalformed},
		{"truncated", &Function{Name: "f", StackSize: FixedSlots,
			Code: []int32{int32(OpAssign), Stack(0)}}, ErrMalformed},
		{"await without resume", &Function{Name: "f", StackSize: FixedSlots,
			Code: []int32{int32(OpAwait), Stack(0)}}, ErrMalformed},
		{"resume without await", &Function{Name: "f", StackSize: FixedSlots,
			Code: []int32{int32(OpAwaitResume), Stack(0)}}, ErrMalformed},
		{"stack too small", &Function{Name: "f", StackSize: 1,
			ArgTypes: []TypeInfo{AnyType}}, ErrMalformed},
		{"bad default entry", &Function{Name: "f", StackSize: FixedSlots + 1,
			ArgTypes: []TypeInfo{AnyType}, DefaultArgs: []int{0, 7}}, ErrBadJump},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.fn.Prepare(), tt.want)
		})
	}
}

func TestPrepareRejectsUncachedValidatedOperator(t *testing.T) {
	code := []int32{int32(OpOperatorValidated), Stack(SlotNil), Stack(SlotNil), Stack(SlotReturn), 0}
	for _, op := range []Operator{OpDivide, OpModule, OpPower, OpShiftLeft, OpShiftRight} {
		vo := LookupOperator(op, TypeInt, TypeInt)
		require.NotNil(t, vo, op.String())
		fn := &Function{Name: "f", StackSize: FixedSlots, Code: code, Operators: []*ValidatedOperator{vo}}
		require.ErrorIs(t, fn.Prepare(), ErrMalformed, op.String())
	}

	fn := &Function{Name: "f", StackSize: FixedSlots, Code: code,
		Operators: []*ValidatedOperator{LookupOperator(OpAdd, TypeInt, TypeInt)}}
	require.NoError(t, fn.Prepare())
}

func TestCallMalformedFunction(t *testing.T) {
	machine, _ := newTestVM(t)
	fn := &Function{Name: "broken", StackSize: FixedSlots, Code: []int32{int32(OpJump), 99}}
	_, err := machine.NewInterpreter().Call(fn, nil, nil)
	requireRuntimeError(t, err, ErrBadJump, ClassResource)
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

func TestDisassemble(t *testing.T) {
	got := buildSum(t).Disassemble()
	want := strings.Join([]string{
		"func sum(a, b) -> int  stack=7 defaults=[6 3 0]",
		"0000  ASSIGN a, const[0]=0",
		"0003  ASSIGN b, const[0]=0",
		"0006  OPERATOR a, b, stack[6], +",
		"0011  RETURN stack[6]",
		"",
	}, "\n")
	require.Equal(t, want, got)
}

func TestDisassembleOperands(t *testing.T) {
	s := New(DefaultOptions()).NewScript("Player", nil)
	hp := s.AddMember("hp", intType)

	b := NewFunctionBuilder("misc")
	list := b.Arg("list", AnyType)
	r := b.Local()
	b.Line(3)
	b.CallMethod(r, list, "size")
	b.CallScriptUtility(r, "len", list)
	b.Emit(OpAssignTypedArray, r, list, b.TypeInfo(ArrayOf(intType)))
	b.Await(r, list)
	b.Return(b.Member(hp))
	fn := b.MustBuild()
	s.AddFunction(fn)

	lines := strings.Split(strings.TrimSpace(fn.Disassemble()), "\n")
	require.Equal(t, []string{
		"func misc(list)  stack=6",
		"0000  LINE node 3",
		`0002  CALL_RETURN(0) list, stack[5], "size"`,
		"0007  CALL_SCRIPT_UTILITY(1) list, stack[5], len",
		"0012  ASSIGN_TYPED_ARRAY stack[5], list, Array[int]",
		"0016  AWAIT list",
		"0018  AWAIT_RESUME stack[5]",
		"0020  RETURN member hp",
	}, lines)

	line, size := fn.DisassembleInstruction(0)
	require.Equal(t, "0000  LINE node 3", line)
	require.Equal(t, 2, size)

	bad := &Function{Name: "bad", Code: []int32{9999}}
	line, size = bad.DisassembleInstruction(0)
	require.Equal(t, "0000  <invalid 9999>", line)
	require.Zero(t, size)
}
