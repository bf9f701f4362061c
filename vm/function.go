package vm

import (
	"fmt"
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Pre-resolved tables referenced by instruction operands
// ---------------------------------------------------------------------------

// Accessor is a validated getter/setter for one base type. Keyed and indexed
// accessors receive the key operand; named accessors receive the member name
// as a String key.
type Accessor struct {
	Name string
	Base Type
	Get  func(base, key Value) (Value, bool)
	Set  func(base *Value, key, v Value) bool
}

// BuiltinMethod is a method of a builtin type, such as Array.append.
type BuiltinMethod struct {
	Type       Type
	Name       string
	ArgTypes   []Type // TypeNil accepts any value
	Defaults   []Value
	ReturnType Type
	HasReturn  bool
	Vararg     bool
	Func       func(in *Interpreter, base *Value, args []Value) (Value, error)
}

// Call invokes the method through the checked path.
func (m *BuiltinMethod) Call(in *Interpreter, base *Value, args []Value) (Value, error) {
	bound, cerr := bindNativeArgs(args, m.ArgTypes, m.Defaults, m.Vararg)
	if cerr != nil {
		return Nil, cerr
	}
	return m.Func(in, base, bound)
}

// ---------------------------------------------------------------------------
// Function: one compiled body
// ---------------------------------------------------------------------------

// Function is an immutable compiled function body plus its side tables.
// Only the operator caches change after preparation.
type Function struct {
	Name   string
	Source string

	Code      []int32
	Constants []Value
	Names     []string

	ArgNames   []string
	ArgTypes   []TypeInfo
	ReturnType TypeInfo

	// DefaultArgs[k] is the entry point when the last k parameters are
	// omitted. len(DefaultArgs)-1 is the number of optional parameters.
	DefaultArgs []int

	StackSize int
	Variadic  bool
	Static    bool

	Methods        []*MethodBind
	Utilities      []*Utility
	Operators      []*ValidatedOperator
	Accessors      []*Accessor
	Constructors   []*Constructor
	BuiltinMethods []*BuiltinMethod
	TypeInfos      []TypeInfo
	Lambdas        []*Function

	script *Script

	prepareOnce sync.Once
	prepareErr  error
	caches      *InlineCacheTable
	boundaries  []bool
}

// Script returns the owning script, or nil for a free function.
func (f *Function) Script() *Script { return f.script }

// Argc returns the declared parameter count, excluding the variadic rest.
func (f *Function) Argc() int { return len(f.ArgTypes) }

// OptionalArgs returns the number of parameters with defaults.
func (f *Function) OptionalArgs() int {
	if len(f.DefaultArgs) == 0 {
		return 0
	}
	return len(f.DefaultArgs) - 1
}

// RestSlot returns the stack slot receiving variadic excess arguments.
func (f *Function) RestSlot() int { return FixedSlots + len(f.ArgTypes) }

// Caches returns the operator call-site caches. It is nil until the
// function has been prepared.
func (f *Function) Caches() *InlineCacheTable { return f.caches }

// Prepare validates the function body once. Every address, jump target and
// table index is checked so the dispatch loop can decode operands without
// bounds surprises. Member addresses are checked at run time against the
// executing instance.
func (f *Function) Prepare() error {
	f.prepareOnce.Do(func() {
		f.prepareErr = f.validate()
	})
	return f.prepareErr
}

func (f *Function) malformed(ip int, format string, args ...any) error {
	return fmt.Errorf("%w: %s at %d: %s", ErrMalformed, f.Name, ip, fmt.Sprintf(format, args...))
}

func (f *Function) validate() error {
	minStack := FixedSlots + len(f.ArgTypes)
	if f.Variadic {
		minStack++
	}
	if f.StackSize < minStack {
		return f.malformed(0, "stack size %d below %d", f.StackSize, minStack)
	}
	if len(f.DefaultArgs) == 0 {
		f.DefaultArgs = []int{0}
	}
	if f.OptionalArgs() > len(f.ArgTypes) {
		return f.malformed(0, "%d defaults for %d parameters", f.OptionalArgs(), len(f.ArgTypes))
	}

	n := len(f.Code)
	f.boundaries = make([]bool, n+1)
	f.boundaries[n] = true
	var jumps [][2]int // {ip, target}
	var sites []int
	prev := Opcode(-1)
	for ip := 0; ip < n; {
		f.boundaries[ip] = true
		op := Opcode(f.Code[ip])
		info := op.Info()
		if info == nil {
			return f.malformed(ip, "unknown opcode %d", f.Code[ip])
		}
		if op == OpAwaitResume && prev != OpAwait {
			return f.malformed(ip, "AWAIT_RESUME without AWAIT")
		}
		if prev == OpAwait && op != OpAwaitResume {
			return f.malformed(ip, "AWAIT not followed by AWAIT_RESUME")
		}
		argc, kinds := 0, info.Operands
		if info.Variadic {
			if ip+1 >= n {
				return f.malformed(ip, "truncated %s", info.Name)
			}
			argc = int(f.Code[ip+1])
			if argc < 0 {
				return f.malformed(ip, "negative argument count")
			}
			kinds = info.Lead + strings.Repeat("a", argc) + info.Operands
		}
		size := info.Len(argc)
		if ip+size > n {
			return f.malformed(ip, "truncated %s", info.Name)
		}
		first := ip + 1
		if info.Variadic {
			first++
		}
		for i, k := range []byte(kinds) {
			word := int(f.Code[first+i])
			if k == 'j' {
				jumps = append(jumps, [2]int{ip, word})
				continue
			}
			if err := f.checkOperand(ip, k, int32(word)); err != nil {
				return err
			}
		}
		if op == OpOperator {
			sites = append(sites, ip)
		}
		prev = op
		ip += size
	}
	if prev == OpAwait {
		return f.malformed(n, "AWAIT not followed by AWAIT_RESUME")
	}
	for _, j := range jumps {
		if j[1] < 0 || j[1] > n || !f.boundaries[j[1]] {
			return fmt.Errorf("%w: %s at %d: target %d", ErrBadJump, f.Name, j[0], j[1])
		}
	}
	for k, target := range f.DefaultArgs {
		if target < 0 || target > n || !f.boundaries[target] {
			return fmt.Errorf("%w: %s default argument %d: target %d", ErrBadJump, f.Name, k, target)
		}
	}
	f.caches = newInlineCacheTable(sites)
	for _, l := range f.Lambdas {
		if err := l.Prepare(); err != nil {
			return err
		}
	}
	return nil
}

func (f *Function) checkOperand(ip int, kind byte, word int32) error {
	bound := func(what string, i, n int) error {
		if i < 0 || i >= n {
			return f.malformed(ip, "%s index %d out of range [0,%d)", what, i, n)
		}
		return nil
	}
	i := int(word)
	switch kind {
	case 'a':
		space, idx := SplitAddress(word)
		switch space {
		case AddrStack:
			if idx >= f.StackSize {
				return fmt.Errorf("%w: %s at %d: stack slot %d of %d", ErrBadAddress, f.Name, ip, idx, f.StackSize)
			}
		case AddrConstant:
			if idx >= len(f.Constants) {
				return fmt.Errorf("%w: %s at %d: constant %d of %d", ErrBadAddress, f.Name, ip, idx, len(f.Constants))
			}
		case AddrMember:
		default:
			return fmt.Errorf("%w: %s at %d: address space %d", ErrBadAddress, f.Name, ip, space)
		}
	case 'n':
		return bound("name", i, len(f.Names))
	case 't':
		return bound("type", i, int(TypeMax))
	case 'o':
		return bound("operator", i, int(OperatorMax))
	case 'e':
		if err := bound("validated operator", i, len(f.Operators)); err != nil {
			return err
		}
		vo := f.Operators[i]
		if vo == nil {
			return f.malformed(ip, "validated operator %d is nil", i)
		}
		if !vo.Op.Cacheable() {
			return f.malformed(ip, "operator %s has no validated form", vo.Op)
		}
	case 'x':
		return bound("accessor", i, len(f.Accessors))
	case 'k':
		return bound("constructor", i, len(f.Constructors))
	case 'b':
		return bound("builtin method", i, len(f.BuiltinMethods))
	case 'y':
		return bound("type info", i, len(f.TypeInfos))
	case 'f':
		return bound("lambda", i, len(f.Lambdas))
	case 'm':
		return bound("method bind", i, len(f.Methods))
	case 'u':
		return bound("utility", i, len(f.Utilities))
	case 's':
		return bound("script utility", i, len(scriptUtilities))
	case 'g':
		if i < 0 {
			return f.malformed(ip, "negative global index")
		}
	}
	return nil
}
