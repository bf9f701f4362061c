package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// FunctionBuilder: assembles Function bodies
// ---------------------------------------------------------------------------

// FunctionBuilder assembles a Function. Parameters must be declared before
// locals; the variadic rest slot, if any, directly follows them.
type FunctionBuilder struct {
	fn      *Function
	names   map[string]int32
	slots   int
	locals  bool
	entries map[int]int
	labels  []*Label
	errs    []error
}

// Label is a jump target, possibly not yet placed.
type Label struct {
	resolved bool
	position int   // target (if resolved)
	refs     []int // words to patch (if unresolved)
}

// NewFunctionBuilder starts a function named name.
func NewFunctionBuilder(name string) *FunctionBuilder {
	return &FunctionBuilder{
		fn:      &Function{Name: name},
		names:   make(map[string]int32),
		slots:   FixedSlots,
		entries: make(map[int]int),
	}
}

func (b *FunctionBuilder) fail(format string, args ...any) {
	b.errs = append(b.errs, fmt.Errorf("%s: "+format, append([]any{b.fn.Name}, args...)...))
}

// Source sets the debug source id.
func (b *FunctionBuilder) Source(src string) *FunctionBuilder {
	b.fn.Source = src
	return b
}

// Static marks the function as not receiving self.
func (b *FunctionBuilder) Static() *FunctionBuilder {
	b.fn.Static = true
	return b
}

// Returns declares the return type.
func (b *FunctionBuilder) Returns(t TypeInfo) *FunctionBuilder {
	b.fn.ReturnType = t
	return b
}

// Len returns the current code length, the position of the next word.
func (b *FunctionBuilder) Len() int { return len(b.fn.Code) }

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

// Stack returns the address of stack slot i.
func Stack(i int) int32 { return MakeAddress(AddrStack, i) }

// Reserved slot addresses.
var (
	SelfAddr   = Stack(SlotSelf)
	ClassAddr  = Stack(SlotClass)
	NilAddr    = Stack(SlotNil)
	ReturnAddr = Stack(SlotReturn)
)

// Arg declares a parameter and returns its address.
func (b *FunctionBuilder) Arg(name string, t TypeInfo) int32 {
	if b.locals || b.fn.Variadic {
		b.fail("parameter %s declared after locals", name)
	}
	b.fn.ArgNames = append(b.fn.ArgNames, name)
	b.fn.ArgTypes = append(b.fn.ArgTypes, t)
	return b.slot()
}

// Rest makes the function variadic and returns the address of the Array
// collecting excess arguments.
func (b *FunctionBuilder) Rest() int32 {
	if b.locals || b.fn.Variadic {
		b.fail("rest parameter declared after locals")
	}
	b.fn.Variadic = true
	return b.slot()
}

// Local allocates a temporary slot.
func (b *FunctionBuilder) Local() int32 {
	b.locals = true
	return b.slot()
}

func (b *FunctionBuilder) slot() int32 {
	addr := Stack(b.slots)
	b.slots++
	return addr
}

// Const adds v to the constant pool and returns its address. Equal scalar
// constants share a slot.
func (b *FunctionBuilder) Const(v Value) int32 {
	if !v.typ.IsShared() && v.typ != TypeObject && v.typ != TypeCallable && v.typ != TypeSignal {
		for i, c := range b.fn.Constants {
			if c.typ == v.typ && Equal(c, v) {
				return MakeAddress(AddrConstant, i)
			}
		}
	}
	b.fn.Constants = append(b.fn.Constants, v)
	return MakeAddress(AddrConstant, len(b.fn.Constants)-1)
}

// Member returns the address of member slot i of self.
func (b *FunctionBuilder) Member(i int) int32 { return MakeAddress(AddrMember, i) }

// Name interns s in the name table and returns its index.
func (b *FunctionBuilder) Name(s string) int32 {
	if i, ok := b.names[s]; ok {
		return i
	}
	i := int32(len(b.fn.Names))
	b.fn.Names = append(b.fn.Names, s)
	b.names[s] = i
	return i
}

func appendTable[T any](table *[]T, x T) int32 {
	*table = append(*table, x)
	return int32(len(*table) - 1)
}

// Table registrations return the operand index of the entry.

func (b *FunctionBuilder) MethodBind(mb *MethodBind) int32 { return appendTable(&b.fn.Methods, mb) }
func (b *FunctionBuilder) Utility(u *Utility) int32        { return appendTable(&b.fn.Utilities, u) }
func (b *FunctionBuilder) Accessor(a *Accessor) int32      { return appendTable(&b.fn.Accessors, a) }
func (b *FunctionBuilder) TypeInfo(t TypeInfo) int32       { return appendTable(&b.fn.TypeInfos, t) }
func (b *FunctionBuilder) Lambda(f *Function) int32        { return appendTable(&b.fn.Lambdas, f) }

func (b *FunctionBuilder) Constructor(c *Constructor) int32 {
	return appendTable(&b.fn.Constructors, c)
}

func (b *FunctionBuilder) BuiltinMethod(m *BuiltinMethod) int32 {
	return appendTable(&b.fn.BuiltinMethods, m)
}

// ValidatedOperator resolves op for the operand types and registers it.
func (b *FunctionBuilder) ValidatedOperator(op Operator, left, right Type) int32 {
	if !op.Cacheable() {
		b.fail("operator %s has no validated form", op)
		return 0
	}
	vo := LookupOperator(op, left, right)
	if vo == nil {
		b.fail("no validated operator %s for %s and %s", op, left, right)
		return 0
	}
	return appendTable(&b.fn.Operators, vo)
}

// ---------------------------------------------------------------------------
// Labels and entry points
// ---------------------------------------------------------------------------

// NewLabel creates an unresolved label.
func (b *FunctionBuilder) NewLabel() *Label {
	l := &Label{}
	b.labels = append(b.labels, l)
	return l
}

// Mark resolves a label to the current position.
func (b *FunctionBuilder) Mark(l *Label) {
	if l.resolved {
		b.fail("label marked twice")
		return
	}
	l.resolved = true
	l.position = len(b.fn.Code)
	for _, ref := range l.refs {
		b.fn.Code[ref] = int32(l.position)
	}
	l.refs = nil
}

func (b *FunctionBuilder) ref(l *Label) int32 {
	if l.resolved {
		return int32(l.position)
	}
	l.refs = append(l.refs, len(b.fn.Code))
	return -1
}

// Entry marks the current position as the entry point used when the last
// missing parameters are omitted. Entry(0) is the body proper.
func (b *FunctionBuilder) Entry(missing int) {
	if _, dup := b.entries[missing]; dup {
		b.fail("entry for %d missing arguments set twice", missing)
	}
	b.entries[missing] = len(b.fn.Code)
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

// Emit appends a fixed-length instruction. The operand count must match the
// opcode's layout.
func (b *FunctionBuilder) Emit(op Opcode, operands ...int32) {
	info := op.Info()
	switch {
	case info == nil:
		b.fail("unknown opcode %d", op)
		return
	case info.Variadic:
		b.fail("%s is variadic", info.Name)
		return
	case len(operands) != len(info.Operands):
		b.fail("%s takes %d operands, got %d", info.Name, len(info.Operands), len(operands))
		return
	}
	b.fn.Code = append(b.fn.Code, int32(op))
	b.fn.Code = append(b.fn.Code, operands...)
}

// EmitJump appends an instruction whose last operand is a jump target.
func (b *FunctionBuilder) EmitJump(op Opcode, target *Label, operands ...int32) {
	info := op.Info()
	if info == nil || info.Variadic || len(info.Operands) != len(operands)+1 || info.Operands[len(operands)] != 'j' {
		b.fail("%s does not end in a jump target", op)
		return
	}
	b.fn.Code = append(b.fn.Code, int32(op))
	b.fn.Code = append(b.fn.Code, operands...)
	b.fn.Code = append(b.fn.Code, b.ref(target))
}

// EmitVariadic appends a variadic instruction: lead operands, argument
// addresses and trailing operands.
func (b *FunctionBuilder) EmitVariadic(op Opcode, lead, args []int32, trail ...int32) {
	info := op.Info()
	switch {
	case info == nil || !info.Variadic:
		b.fail("%s is not variadic", op)
		return
	case len(lead) != len(info.Lead) || len(trail) != len(info.Operands):
		b.fail("%s operand count mismatch", info.Name)
		return
	}
	b.fn.Code = append(b.fn.Code, int32(op), int32(len(args)))
	b.fn.Code = append(b.fn.Code, lead...)
	b.fn.Code = append(b.fn.Code, args...)
	b.fn.Code = append(b.fn.Code, trail...)
}

// Operator emits dst = left op right through the call-site cache.
func (b *FunctionBuilder) Operator(op Operator, dst, left, right int32) {
	b.Emit(OpOperator, left, right, dst, int32(op))
}

// Assign emits dst = src.
func (b *FunctionBuilder) Assign(dst, src int32) { b.Emit(OpAssign, dst, src) }

// Return emits a return of src.
func (b *FunctionBuilder) Return(src int32) { b.Emit(OpReturn, src) }

// Line records the current node id.
func (b *FunctionBuilder) Line(node int) { b.Emit(OpLine, int32(node)) }

// Jump emits an unconditional jump.
func (b *FunctionBuilder) Jump(l *Label) { b.EmitJump(OpJump, l) }

// JumpIf jumps when cond is truthy.
func (b *FunctionBuilder) JumpIf(cond int32, l *Label) { b.EmitJump(OpJumpIf, l, cond) }

// JumpIfNot jumps when cond is falsy.
func (b *FunctionBuilder) JumpIfNot(cond int32, l *Label) { b.EmitJump(OpJumpIfNot, l, cond) }

// CallMethod emits dst = base.name(args...).
func (b *FunctionBuilder) CallMethod(dst, base int32, name string, args ...int32) {
	b.EmitVariadic(OpCallReturn, []int32{base}, args, dst, b.Name(name))
}

// CallUtility emits dst = name(args...) resolved by name at run time.
func (b *FunctionBuilder) CallUtility(dst int32, name string, args ...int32) {
	b.EmitVariadic(OpCallUtility, nil, args, dst, b.Name(name))
}

// CallScriptUtility emits dst = name(args...) for an interpreter utility.
func (b *FunctionBuilder) CallScriptUtility(dst int32, name string, args ...int32) {
	i, ok := ScriptUtilityIndex(name)
	if !ok {
		b.fail("unknown script utility %s", name)
		return
	}
	b.EmitVariadic(OpCallScriptUtility, nil, args, dst, int32(i))
}

// Await emits dst = await src.
func (b *FunctionBuilder) Await(dst, src int32) {
	b.Emit(OpAwait, src)
	b.Emit(OpAwaitResume, dst)
}

// ForEach emits a loop over container using the specialized opcode pair
// for t. body emits the loop body, reading each element from iter.
func (b *FunctionBuilder) ForEach(t Type, container, iter int32, body func()) {
	begin := IterateBeginFor(t)
	counter := b.Local()
	top, exit := b.NewLabel(), b.NewLabel()
	b.EmitJump(begin, exit, counter, container, iter)
	b.Mark(top)
	body()
	b.EmitJump(IterateNextFor(begin), exit, counter, container, iter)
	b.Jump(top)
	b.Mark(exit)
}

// ForRange emits a loop over range(from, to, step) without allocating.
func (b *FunctionBuilder) ForRange(from, to, step, iter int32, body func()) {
	counter := b.Local()
	top, exit := b.NewLabel(), b.NewLabel()
	b.EmitJump(OpIterateBeginRange, exit, counter, from, to, step, iter)
	b.Mark(top)
	body()
	b.EmitJump(OpIterateRange, exit, counter, to, step, iter)
	b.Jump(top)
	b.Mark(exit)
}

// ---------------------------------------------------------------------------
// Build
// ---------------------------------------------------------------------------

// Build finishes and validates the function.
func (b *FunctionBuilder) Build() (*Function, error) {
	for _, l := range b.labels {
		if !l.resolved && len(l.refs) > 0 {
			b.fail("unresolved label")
			break
		}
	}
	if len(b.entries) > 0 {
		b.fn.DefaultArgs = make([]int, len(b.entries))
		for k := range b.fn.DefaultArgs {
			pos, ok := b.entries[k]
			if !ok {
				b.fail("no entry for %d missing arguments", k)
				continue
			}
			b.fn.DefaultArgs[k] = pos
		}
	}
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	b.fn.StackSize = b.slots
	if err := b.fn.Prepare(); err != nil {
		return nil, err
	}
	return b.fn, nil
}

// MustBuild is Build for functions known to be well formed.
func (b *FunctionBuilder) MustBuild() *Function {
	fn, err := b.Build()
	if err != nil {
		panic(err)
	}
	return fn
}
