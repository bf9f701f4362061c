package vm

import (
	"errors"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Interpreter: bytecode execution engine
// ---------------------------------------------------------------------------

// Interpreter executes compiled functions. It owns the recursion budget and
// the frame arena for one goroutine and must not be shared between
// goroutines. Any number of interpreters may run the same functions
// concurrently.
type Interpreter struct {
	vm *VM

	// MaxDepth bounds nested invocations; exceeding it aborts the call
	// with ErrStackOverflow before any instruction runs.
	MaxDepth int

	// LastOpcode is the most recently dispatched opcode when the VM runs
	// with Options.Debug.
	LastOpcode Opcode

	depth     int
	arena     frameArena
	frames    []*frame
	childTime time.Duration
}

// VM returns the interpreter's virtual machine.
func (in *Interpreter) VM() *VM { return in.vm }

// Depth returns the current invocation depth.
func (in *Interpreter) Depth() int { return in.depth }

// Call invokes fn with an optional instance. The error is a *CallError when
// the call could not be made and a *RuntimeError when execution aborted, in
// which case the result is the default value of fn's return type. A call
// that suspends on await returns its *Continuation as an Object value.
func (in *Interpreter) Call(fn *Function, self *Instance, args []Value) (Value, error) {
	ret, suspended, err := in.execute(fn, self, args, nil, Nil)
	if suspended != nil {
		return ObjectValue(suspended), nil
	}
	return ret, err
}

// Backtrace returns the active frames, innermost first.
func (in *Interpreter) Backtrace() []StackFrame {
	out := make([]StackFrame, 0, len(in.frames))
	for i := len(in.frames) - 1; i >= 0; i-- {
		fr := in.frames[i]
		out = append(out, StackFrame{Function: fr.fn.Name, Source: fr.fn.Source, Node: fr.node, IP: fr.ip})
	}
	return out
}

func (in *Interpreter) frameAt(level int) *frame {
	i := len(in.frames) - 1 - level
	if level < 0 || i < 0 {
		return nil
	}
	return in.frames[i]
}

// expectedType is the Type reported in CallInvalidArgument for t.
func expectedType(t TypeInfo) Type {
	switch t.Kind {
	case KindBuiltin:
		return t.Builtin
	case KindNative, KindScript:
		return TypeObject
	}
	return TypeNil
}

// execute runs fn from its entry point, or from resume's suspension point
// with result delivered to the AWAIT_RESUME destination.
func (in *Interpreter) execute(fn *Function, self *Instance, args []Value, resume *Continuation, result Value) (Value, *Continuation, error) {
	if err := fn.Prepare(); err != nil {
		return DefaultFor(fn.ReturnType), nil, in.raise(fn, 0, 0, err)
	}

	in.depth++
	defer func() { in.depth-- }()
	if in.depth > in.MaxDepth {
		return DefaultFor(fn.ReturnType), nil, in.raise(fn, 0, 0,
			failf(ErrStackOverflow, "Stack overflow (stack size: %d). Check for infinite recursion in your script.", in.MaxDepth))
	}

	if fn.Static {
		self = nil
	}
	if resume == nil {
		if cerr := checkArity(len(args), fn.Argc(), fn.OptionalArgs(), fn.Variadic); cerr != nil {
			return DefaultFor(fn.ReturnType), nil, cerr
		}
	}

	stack, pooled := in.arena.alloc(fn.StackSize)
	defer in.arena.release(stack, pooled)

	fr := &frame{fn: fn, self: self, script: fn.script, stack: stack, pooled: pooled}
	if self != nil {
		fr.script = self.script
		stack[SlotSelf] = ObjectValue(self)
	}
	if fr.script != nil {
		stack[SlotClass] = ObjectValue(fr.script)
	}

	if resume == nil {
		declared := fn.Argc()
		for i, a := range args {
			if i >= declared {
				break
			}
			t := fn.ArgTypes[i]
			v, ok := t.coerce(a)
			if !ok {
				return DefaultFor(fn.ReturnType), nil, invalidArgument(i, expectedType(t))
			}
			stack[FixedSlots+i] = v
		}
		if fn.Variadic {
			var rest []Value
			if len(args) > declared {
				rest = append(rest, args[declared:]...)
			}
			stack[fn.RestSlot()] = ArrayValue(NewArray(rest...))
		}
		missing := max(declared-len(args), 0)
		fr.defarg = missing
		fr.ip = fn.DefaultArgs[missing]
	} else {
		copy(stack[FixedSlots:], resume.stack)
		fr.ip = resume.ip
		fr.node = resume.node
		fr.defarg = resume.defarg
	}

	in.frames = append(in.frames, fr)
	defer func() {
		in.frames[len(in.frames)-1] = nil
		in.frames = in.frames[:len(in.frames)-1]
	}()

	if dbg := in.vm.Debugger; dbg != nil {
		in.debugEnter(dbg)
		defer in.debugExit(dbg)
	}

	if prof := in.vm.profiler; prof != nil {
		start, outer := time.Now(), in.childTime
		in.childTime = 0
		defer func() {
			total := time.Since(start)
			prof.RecordCall(fn, total, total-in.childTime)
			in.childTime = outer + total
		}()
	}

	return in.run(fr, resume != nil, result)
}

func (in *Interpreter) debugEnter(dbg DebugHooks) {
	if dbg.LinesLeft() > 0 && dbg.StepDepth() >= 0 {
		dbg.SetStepDepth(dbg.StepDepth() + 1)
	}
}

func (in *Interpreter) debugExit(dbg DebugHooks) {
	if dbg.LinesLeft() > 0 && dbg.StepDepth() >= 0 {
		dbg.SetStepDepth(dbg.StepDepth() - 1)
	}
}

func (in *Interpreter) debugLine(dbg DebugHooks, fr *frame) {
	brk := false
	if dbg.LinesLeft() > 0 {
		if dbg.StepDepth() <= 0 {
			dbg.SetLinesLeft(dbg.LinesLeft() - 1)
		}
		if dbg.LinesLeft() <= 0 {
			brk = true
		}
	}
	if dbg.IsBreakpoint(fr.node, fr.fn.Source) {
		brk = true
	}
	if brk {
		dbg.Break(in, "Breakpoint", true)
	}
}

// raise builds, logs and reports a fatal error.
func (in *Interpreter) raise(fn *Function, node, ip int, err error) *RuntimeError {
	rerr := &RuntimeError{
		Class:    classOf(err),
		Err:      err,
		Message:  err.Error(),
		Function: fn.Name,
		Source:   fn.Source,
		NodeID:   node,
		IP:       ip,
	}
	in.vm.log.Errorf("%s", rerr.Error())
	if dbg := in.vm.Debugger; dbg != nil {
		dbg.Break(in, rerr.Message, false)
	}
	return rerr
}

// fatal aborts fr. A *RuntimeError raised by a callee was already logged
// and reported to the debugger, so it unwinds unchanged.
func (in *Interpreter) fatal(fr *frame, ip int, err error) (Value, *Continuation, error) {
	var rerr *RuntimeError
	if errors.As(err, &rerr) {
		return DefaultFor(fr.fn.ReturnType), nil, rerr
	}
	return DefaultFor(fr.fn.ReturnType), nil, in.raise(fr.fn, fr.node, ip, err)
}

// callFailure converts the error of a nested call into the caller's fatal
// error. A callee's runtime error aborts the caller as well.
func callFailure(err error, where string, args []Value) error {
	var rerr *RuntimeError
	if errors.As(err, &rerr) {
		return rerr
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return &fault{err: ErrInvalidCall, msg: callErrorText(ce, where, args)}
	}
	var f *fault
	if errors.As(err, &f) {
		return err
	}
	return &fault{err: ErrInvalidCall, msg: callErrorText(err, where, args)}
}

// isContinuation reports whether v holds a suspended call.
func isContinuation(v Value) bool {
	if v.typ != TypeObject {
		return false
	}
	_, ok := v.AsObject().(*Continuation)
	return ok
}

// variadic decodes the operands of a variadic instruction at ip.
type variadic struct {
	lead  int // index of the first lead word
	args  int // index of the first argument word
	argc  int
	trail int // index of the first trail word
	size  int
}

func decodeVariadic(code []int32, ip int, info *OpcodeInfo) variadic {
	argc := int(code[ip+1])
	v := variadic{lead: ip + 2, argc: argc}
	v.args = v.lead + len(info.Lead)
	v.trail = v.args + argc
	v.size = info.Len(argc)
	return v
}

func (fr *frame) collect(code []int32, v variadic) []Value {
	if v.argc == 0 {
		return nil
	}
	args := make([]Value, v.argc)
	for i := range args {
		args[i] = fr.get(code[v.args+i])
	}
	return args
}

// run is the dispatch loop.
func (in *Interpreter) run(fr *frame, resuming bool, result Value) (ret Value, suspended *Continuation, err error) {
	fn := fr.fn
	code := fn.Code
	ip := fr.ip

	defer func() {
		if r := recover(); r != nil {
			af, ok := r.(addressFault)
			if !ok {
				panic(r)
			}
			ret, suspended, err = in.fatal(fr, ip, fmt.Errorf("%w: %s (address %#x)", ErrBadAddress, af.why, af.addr))
		}
	}()

	if resuming {
		if Opcode(code[ip]) != OpAwaitResume {
			return in.fatal(fr, ip, failf(ErrInvalidResume, "Resume point is not an AWAIT_RESUME instruction."))
		}
		fr.set(code[ip+1], result)
		fr.ip += 2
	}

	debug := in.vm.opts.Debug
	for {
		ip = fr.ip
		if ip >= len(code) {
			return DefaultFor(fn.ReturnType), nil, nil
		}
		op := Opcode(code[ip])
		if debug {
			in.LastOpcode = op
		}

		var e error
		switch op {
		case OpOperator:
			a, b := fr.get(code[ip+1]), fr.get(code[ip+2])
			operator := Operator(code[ip+4])
			bt := b.typ
			if operator.IsUnary() {
				bt = TypeNil
			}
			ic := fn.caches.Get(ip)
			if v := ic.Lookup(operatorSignature(a.typ, bt)); v != nil {
				fr.set(code[ip+3], v.Eval(a, b))
			} else {
				if ic.Entry() == nil {
					fn.caches.populate(ic, operator, a.typ, bt)
				}
				r, err := Evaluate(operator, a, b)
				if err != nil {
					e = err
					break
				}
				fr.set(code[ip+3], r)
			}
			fr.ip += 5

		case OpOperatorValidated:
			v := fn.Operators[code[ip+4]]
			fr.set(code[ip+3], v.Eval(fr.get(code[ip+1]), fr.get(code[ip+2])))
			fr.ip += 5

		case OpTypeTestBuiltin:
			v := fr.get(code[ip+2])
			fr.set(code[ip+1], Bool(v.typ == Type(code[ip+3])))
			fr.ip += 4

		case OpTypeTestArray, OpTypeTestMap, OpTypeTestNative, OpTypeTestScript:
			v := fr.get(code[ip+2])
			t := fn.TypeInfos[code[ip+3]]
			ok := t.Matches(v)
			if op == OpTypeTestNative || op == OpTypeTestScript {
				obj, _ := v.ValidObject()
				ok = ok && obj != nil
			}
			fr.set(code[ip+1], Bool(ok))
			fr.ip += 4

		case OpSetKeyed:
			e = in.setKeyed(fr.dst(code[ip+1]), fr.get(code[ip+2]), fr.get(code[ip+3]))
			fr.ip += 4

		case OpSetKeyedValidated, OpSetIndexedValidated:
			acc := fn.Accessors[code[ip+4]]
			base := fr.dst(code[ip+1])
			key := fr.get(code[ip+2])
			if !acc.Set(base, key, fr.get(code[ip+3])) {
				e = failf(ErrOutOfBounds, "Out of bounds set index '%s' (on base: '%s').", key, base.typ)
				break
			}
			fr.ip += 5

		case OpGetKeyed:
			var r Value
			r, e = in.getKeyed(fr.get(code[ip+1]), fr.get(code[ip+2]))
			if e == nil {
				fr.set(code[ip+3], r)
			}
			fr.ip += 4

		case OpGetKeyedValidated, OpGetIndexedValidated:
			acc := fn.Accessors[code[ip+4]]
			base, key := fr.get(code[ip+1]), fr.get(code[ip+2])
			r, ok := acc.Get(base, key)
			if !ok {
				e = failf(ErrOutOfBounds, "Out of bounds get index '%s' (on base: '%s').", key, base.typ)
				break
			}
			fr.set(code[ip+3], r)
			fr.ip += 5

		case OpSetNamed:
			e = in.setNamed(fr.dst(code[ip+1]), fn.Names[code[ip+3]], fr.get(code[ip+2]))
			fr.ip += 4

		case OpSetNamedValidated:
			acc := fn.Accessors[code[ip+3]]
			base := fr.dst(code[ip+1])
			if !acc.Set(base, String(acc.Name), fr.get(code[ip+2])) {
				e = failf(ErrInvalidAccess, "Invalid assignment of property '%s' (on base: '%s').", acc.Name, base.typ)
				break
			}
			fr.ip += 4

		case OpGetNamed:
			var r Value
			r, e = in.getNamed(fr.get(code[ip+1]), fn.Names[code[ip+3]])
			if e == nil {
				fr.set(code[ip+2], r)
			}
			fr.ip += 4

		case OpGetNamedValidated:
			acc := fn.Accessors[code[ip+3]]
			base := fr.get(code[ip+1])
			r, ok := acc.Get(base, String(acc.Name))
			if !ok {
				e = failf(ErrInvalidAccess, "Invalid access to property '%s' (on base: '%s').", acc.Name, base.typ)
				break
			}
			fr.set(code[ip+2], r)
			fr.ip += 4

		case OpSetMember:
			name := fn.Names[code[ip+2]]
			if fr.self == nil {
				e = failf(ErrNullInstance, "Cannot set member '%s' without an instance.", name)
				break
			}
			e = fr.self.SetProperty(name, fr.get(code[ip+1]))
			fr.ip += 3

		case OpGetMember:
			name := fn.Names[code[ip+2]]
			if fr.self == nil {
				e = failf(ErrNullInstance, "Cannot get member '%s' without an instance.", name)
				break
			}
			v, ok := fr.self.GetProperty(name)
			if !ok {
				e = failf(ErrInvalidAccess, "Invalid access to property or key '%s' on a base object of type '%s'.", name, fr.self.ClassName())
				break
			}
			fr.set(code[ip+1], v)
			fr.ip += 3

		case OpSetStaticVariable, OpGetStaticVariable:
			s, ok := fr.get(code[ip+2]).AsObject().(*Script)
			idx := int(code[ip+3])
			if !ok || idx < 0 || idx >= len(s.statics) {
				e = failf(ErrBadAddress, "Invalid static variable %d.", idx)
				break
			}
			if op == OpSetStaticVariable {
				s.statics[idx] = fr.get(code[ip+1])
			} else {
				fr.set(code[ip+1], s.statics[idx])
			}
			fr.ip += 4

		case OpAssign:
			fr.set(code[ip+1], fr.get(code[ip+2]))
			fr.ip += 3

		case OpAssignNull:
			fr.set(code[ip+1], Nil)
			fr.ip += 2

		case OpAssignTrue:
			fr.set(code[ip+1], Bool(true))
			fr.ip += 2

		case OpAssignFalse:
			fr.set(code[ip+1], Bool(false))
			fr.ip += 2

		case OpAssignTypedBuiltin:
			t := Type(code[ip+3])
			v, err := convertTo(t, fr.get(code[ip+2]))
			if err != nil {
				e = failf(ErrTypeMismatch, "Trying to assign value of type '%s' to a variable of type '%s'.", fr.get(code[ip+2]).typ, t)
				break
			}
			fr.set(code[ip+1], v)
			fr.ip += 4

		case OpAssignTypedArray, OpAssignTypedMap, OpAssignTypedNative, OpAssignTypedScript:
			t := fn.TypeInfos[code[ip+3]]
			v := fr.get(code[ip+2])
			if !t.Matches(v) {
				e = typedMismatch("assign", t, v)
				break
			}
			fr.set(code[ip+1], v)
			fr.ip += 4

		case OpCastToBuiltin:
			t := Type(code[ip+3])
			src := fr.get(code[ip+1])
			if !CanConvert(src.typ, t) {
				e = failf(ErrInvalidCast, "Invalid cast: could not convert value to '%s'.", t)
				break
			}
			v, err := Construct(t, []Value{src})
			if err != nil {
				e = failf(ErrInvalidCast, "Invalid cast: could not convert value to '%s'.", t)
				break
			}
			fr.set(code[ip+2], v)
			fr.ip += 4

		case OpCastToNative, OpCastToScript:
			t := fn.TypeInfos[code[ip+3]]
			src := fr.get(code[ip+1])
			var v Value
			v, e = castObject(t, src)
			if e == nil {
				fr.set(code[ip+2], v)
			}
			fr.ip += 4

		case OpConstruct:
			vd := decodeVariadic(code, ip, op.Info())
			args := fr.collect(code, vd)
			t := Type(code[vd.trail+1])
			v, err := Construct(t, args)
			if err != nil {
				e = callFailure(err, fmt.Sprintf("constructor '%s'", t), args)
				break
			}
			fr.set(code[vd.trail], v)
			fr.ip += vd.size

		case OpConstructValidated:
			vd := decodeVariadic(code, ip, op.Info())
			c := fn.Constructors[code[vd.trail+1]]
			fr.set(code[vd.trail], c.Func(fr.collect(code, vd)))
			fr.ip += vd.size

		case OpConstructArray:
			vd := decodeVariadic(code, ip, op.Info())
			fr.set(code[vd.trail], ArrayValue(NewArray(fr.collect(code, vd)...)))
			fr.ip += vd.size

		case OpConstructTypedArray:
			vd := decodeVariadic(code, ip, op.Info())
			t := fn.TypeInfos[code[vd.trail+1]]
			a, err := NewTypedArray(t.ElemType(0), fr.collect(code, vd)...)
			if err != nil {
				e = err
				break
			}
			fr.set(code[vd.trail], ArrayValue(a))
			fr.ip += vd.size

		case OpConstructMap, OpConstructTypedMap:
			vd := decodeVariadic(code, ip, op.Info())
			if vd.argc%2 != 0 {
				e = failf(ErrMalformed, "Odd number of map constructor arguments.")
				break
			}
			m := NewMap()
			if op == OpConstructTypedMap {
				t := fn.TypeInfos[code[vd.trail+1]]
				m = NewTypedMap(t.ElemType(0), t.ElemType(1))
			}
			args := fr.collect(code, vd)
			for i := 0; i < len(args) && e == nil; i += 2 {
				e = m.Set(args[i], args[i+1])
			}
			if e != nil {
				break
			}
			fr.set(code[vd.trail], MapValue(m))
			fr.ip += vd.size

		case OpCall, OpCallReturn, OpCallAsync:
			vd := decodeVariadic(code, ip, op.Info())
			args := fr.collect(code, vd)
			base := fr.ptr(code[vd.lead])
			nameIdx := code[vd.trail]
			if op != OpCall {
				nameIdx = code[vd.trail+1]
			}
			name := fn.Names[nameIdx]
			r, err := in.callDynamic(base, name, args)
			if err != nil {
				if e = callFailure(err, fmt.Sprintf("function '%s' in base '%s'", name, describe(*base)), args); e != nil {
					break
				}
			}
			if op != OpCallAsync && isContinuation(r) {
				e = failf(ErrAwait, "Trying to call an async function without \"await\".")
				break
			}
			if op != OpCall {
				fr.set(code[vd.trail], r)
			}
			fr.ip += vd.size

		case OpCallUtility:
			vd := decodeVariadic(code, ip, op.Info())
			args := fr.collect(code, vd)
			name := fn.Names[code[vd.trail+1]]
			u := in.vm.Utility(name)
			if u == nil {
				e = failf(ErrInvalidCall, "Invalid call. Nonexistent utility function '%s'.", name)
				break
			}
			start := time.Now()
			r, err := u.Call(in, args)
			in.profileNative(name, start)
			if err != nil {
				if e = callFailure(err, fmt.Sprintf("utility function '%s'", name), args); e != nil {
					break
				}
			}
			fr.set(code[vd.trail], r)
			fr.ip += vd.size

		case OpCallUtilityValidated:
			vd := decodeVariadic(code, ip, op.Info())
			u := fn.Utilities[code[vd.trail+1]]
			args := fr.collect(code, vd)
			start := time.Now()
			var r Value
			if u.Validated != nil {
				r = u.Validated(args)
			} else {
				var err error
				if r, err = u.Func(in, args); err != nil {
					e = callFailure(err, fmt.Sprintf("utility function '%s'", u.Name), args)
				}
			}
			in.profileNative(u.Name, start)
			if e != nil {
				break
			}
			fr.set(code[vd.trail], r)
			fr.ip += vd.size

		case OpCallScriptUtility:
			vd := decodeVariadic(code, ip, op.Info())
			su := scriptUtilities[code[vd.trail+1]]
			args := fr.collect(code, vd)
			r, err := su.Func(in, args)
			if err != nil {
				if e = callFailure(err, fmt.Sprintf("utility function '%s'", su.Name), args); e != nil {
					break
				}
			}
			fr.set(code[vd.trail], r)
			fr.ip += vd.size

		case OpCallBuiltinTypeValidated:
			vd := decodeVariadic(code, ip, op.Info())
			m := fn.BuiltinMethods[code[vd.trail+1]]
			args := fr.collect(code, vd)
			r, err := m.Func(in, fr.ptr(code[vd.lead]), args)
			if err != nil {
				if e = callFailure(err, fmt.Sprintf("function '%s' in base '%s'", m.Name, m.Type), args); e != nil {
					break
				}
			}
			if m.HasReturn {
				fr.set(code[vd.trail], r)
			}
			fr.ip += vd.size

		case OpCallSelfBase:
			vd := decodeVariadic(code, ip, op.Info())
			args := fr.collect(code, vd)
			name := fn.Names[code[vd.trail+1]]
			r, err := in.callSelfBase(fr, name, args)
			if err != nil {
				if e = callFailure(err, fmt.Sprintf("function '%s' in base", name), args); e != nil {
					break
				}
			}
			fr.set(code[vd.trail], r)
			fr.ip += vd.size

		case OpCallMethodBind, OpCallMethodBindRet:
			vd := decodeVariadic(code, ip, op.Info())
			args := fr.collect(code, vd)
			mIdx := code[vd.trail]
			if op == OpCallMethodBindRet {
				mIdx = code[vd.trail+1]
			}
			mb := fn.Methods[mIdx]
			base := fr.get(code[vd.lead])
			r, err := in.callMethodBind(mb, nativeReceiver(base), args)
			if err != nil {
				if e = callFailure(err, fmt.Sprintf("function '%s' in base '%s'", mb.Name, describe(base)), args); e != nil {
					break
				}
			}
			if op == OpCallMethodBindRet {
				fr.set(code[vd.trail], r)
			}
			fr.ip += vd.size

		case OpCallBuiltinStatic:
			vd := decodeVariadic(code, ip, op.Info())
			args := fr.collect(code, vd)
			t := Type(code[vd.trail+1])
			name := fn.Names[code[vd.trail+2]]
			u := builtinStatic(t, name)
			if u == nil {
				e = failf(ErrInvalidCall, "Invalid call. Nonexistent static function '%s' in type '%s'.", name, t)
				break
			}
			r, err := u.Call(in, args)
			if err != nil {
				if e = callFailure(err, fmt.Sprintf("static function '%s' in type '%s'", name, t), args); e != nil {
					break
				}
			}
			fr.set(code[vd.trail], r)
			fr.ip += vd.size

		case OpCallNativeStatic:
			vd := decodeVariadic(code, ip, op.Info())
			args := fr.collect(code, vd)
			mb := fn.Methods[code[vd.trail+1]]
			r, err := in.callMethodBind(mb, nil, args)
			if err != nil {
				if e = callFailure(err, fmt.Sprintf("static function '%s' in type '%s'", mb.Name, mb.Class), args); e != nil {
					break
				}
			}
			fr.set(code[vd.trail], r)
			fr.ip += vd.size

		case OpCallNativeStaticValidatedReturn, OpCallNativeStaticValidatedNoReturn:
			vd := decodeVariadic(code, ip, op.Info())
			mIdx := code[vd.trail]
			if op == OpCallNativeStaticValidatedReturn {
				mIdx = code[vd.trail+1]
			}
			mb := fn.Methods[mIdx]
			start := time.Now()
			r := mb.Validated(nil, fr.collect(code, vd))
			in.profileNative(mb.Class+"::"+mb.Name, start)
			if op == OpCallNativeStaticValidatedReturn {
				fr.set(code[vd.trail], r)
			}
			fr.ip += vd.size

		case OpCallMethodBindValidatedReturn, OpCallMethodBindValidatedNoReturn:
			vd := decodeVariadic(code, ip, op.Info())
			mIdx := code[vd.trail]
			if op == OpCallMethodBindValidatedReturn {
				mIdx = code[vd.trail+1]
			}
			mb := fn.Methods[mIdx]
			base := fr.get(code[vd.lead])
			obj, freed := base.ValidObject()
			if obj == nil {
				if freed {
					e = failf(ErrFreedInstance, "Trying to call a function on a previously freed instance.")
				} else {
					e = failf(ErrNullInstance, "Trying to call a function on a null value.")
				}
				break
			}
			start := time.Now()
			r := mb.Validated(nativeReceiver(base), fr.collect(code, vd))
			in.profileNative(mb.Class+"::"+mb.Name, start)
			if op == OpCallMethodBindValidatedReturn {
				fr.set(code[vd.trail], r)
			}
			fr.ip += vd.size

		case OpAwait:
			v := fr.get(code[ip+1])
			sig, plain, err := awaitTarget(v)
			if err != nil {
				e = err
				break
			}
			if sig == nil {
				fr.set(code[ip+3], plain)
				fr.ip += 4
				break
			}
			return Nil, in.suspend(fr, sig, ip+2), nil

		case OpAwaitResume:
			e = failf(ErrInvalidResume, "Invalid resume: no pending await.")

		case OpCreateLambda, OpCreateSelfLambda:
			vd := decodeVariadic(code, ip, op.Info())
			lambda := fn.Lambdas[code[vd.trail+1]]
			c := &Callable{fn: lambda, captures: fr.collect(code, vd)}
			if op == OpCreateSelfLambda {
				c.self = fr.self
			}
			fr.set(code[vd.trail], CallableValue(c))
			fr.ip += vd.size

		case OpJump:
			fr.ip = int(code[ip+1])

		case OpJumpIf:
			if fr.get(code[ip+1]).Truthy() {
				fr.ip = int(code[ip+2])
			} else {
				fr.ip += 3
			}

		case OpJumpIfNot:
			if !fr.get(code[ip+1]).Truthy() {
				fr.ip = int(code[ip+2])
			} else {
				fr.ip += 3
			}

		case OpJumpToDefArgument:
			fr.ip = fn.DefaultArgs[fr.defarg]

		case OpJumpIfShared:
			if fr.get(code[ip+1]).typ.IsShared() {
				fr.ip = int(code[ip+2])
			} else {
				fr.ip += 3
			}

		case OpReturn:
			return fr.get(code[ip+1]), nil, nil

		case OpReturnTypedBuiltin:
			t := Type(code[ip+2])
			src := fr.get(code[ip+1])
			v, err := convertTo(t, src)
			if err != nil {
				e = failf(ErrTypeMismatch, "Trying to return value of type '%s' from a function whose return type is '%s'.", src.typ, t)
				break
			}
			return v, nil, nil

		case OpReturnTypedArray, OpReturnTypedMap, OpReturnTypedNative, OpReturnTypedScript:
			t := fn.TypeInfos[code[ip+2]]
			v := fr.get(code[ip+1])
			if !t.Matches(v) {
				e = typedMismatch("return", t, v)
				break
			}
			return v, nil, nil

		case OpIterateBeginRange:
			e = in.iterateBeginRange(fr, code, ip)

		case OpIterateRange:
			e = in.iterateRange(fr, code, ip)

		case OpStoreGlobal:
			g := int(code[ip+2])
			if g >= len(in.vm.Globals) {
				e = failf(ErrBadAddress, "Global index %d out of range.", g)
				break
			}
			fr.set(code[ip+1], in.vm.Globals[g])
			fr.ip += 3

		case OpStoreNamedGlobal:
			name := fn.Names[code[ip+2]]
			v, ok := in.vm.NamedGlobal(name)
			if !ok {
				e = failf(ErrInvalidAccess, "Global '%s' does not exist.", name)
				break
			}
			fr.set(code[ip+1], v)
			fr.ip += 3

		case OpAssert:
			if !fr.get(code[ip+1]).Truthy() {
				msg := fr.get(code[ip+2])
				if msg.typ == TypeString && msg.AsString() != "" {
					e = failf(ErrAssertion, "Assertion failed: %s", msg.AsString())
				} else {
					e = failf(ErrAssertion, "Assertion failed.")
				}
				break
			}
			fr.ip += 3

		case OpBreakpoint:
			if dbg := in.vm.Debugger; dbg != nil {
				dbg.Break(in, "Breakpoint", true)
			}
			fr.ip++

		case OpLine:
			fr.node = int(code[ip+1])
			if dbg := in.vm.Debugger; dbg != nil {
				in.debugLine(dbg, fr)
			}
			fr.ip += 2

		case OpEnd:
			return DefaultFor(fn.ReturnType), nil, nil

		default:
			switch {
			case op >= OpIterateBegin && op <= OpIterateBeginObject:
				e = in.iterateBegin(fr, code, ip, op)
			case op >= OpIterate && op <= OpIterateObject:
				e = in.iterateNext(fr, code, ip, op)
			case op >= OpTypeAdjustBool && op <= OpTypeAdjustPackedStringArray:
				fr.set(code[ip+1], DefaultValue(TypeBool+Type(op-OpTypeAdjustBool)))
				fr.ip += 2
			default:
				e = fmt.Errorf("%w: unknown opcode %d", ErrMalformed, op)
			}
		}
		if e != nil {
			return in.fatal(fr, ip, e)
		}
	}
}

// profileNative records a native call that started at start.
func (in *Interpreter) profileNative(name string, start time.Time) {
	if prof := in.vm.profiler; prof != nil {
		d := time.Since(start)
		prof.RecordNative(name, d)
		in.childTime += d
	}
}

// convertTo coerces v to a builtin type with the strict conversion table.
func convertTo(t Type, v Value) (Value, error) {
	if v.typ == t {
		return v, nil
	}
	if !CanConvertStrict(v.typ, t) {
		return Nil, ErrTypeMismatch
	}
	return Construct(t, []Value{v})
}

func typedMismatch(verb string, t TypeInfo, v Value) error {
	if obj, freed := v.ValidObject(); freed && obj == nil {
		return failf(ErrFreedInstance, "Trying to %s invalid previously freed instance.", verb)
	}
	got := v.typ.String()
	switch v.typ {
	case TypeArray:
		got = ArrayOf(v.AsArray().ElemType()).String()
	case TypeMap:
		got = MapOf(v.AsMap().KeyType(), v.AsMap().ValueType()).String()
	case TypeObject:
		got = describe(v)
	}
	if verb == "return" {
		return failf(ErrTypeMismatch, "Trying to return value of type '%s' from a function whose return type is '%s'.", got, t)
	}
	return failf(ErrTypeMismatch, "Trying to assign value of type '%s' to a variable of type '%s'.", got, t)
}

// castObject implements the object casts: a non-matching object yields a
// null object.
func castObject(t TypeInfo, v Value) (Value, error) {
	if v.typ == TypeNil {
		return ObjectValue(nil), nil
	}
	if v.typ != TypeObject {
		return Nil, failf(ErrInvalidCast, "Invalid cast: can't convert a non-object value to an object type.")
	}
	obj, freed := v.ValidObject()
	if freed {
		return Nil, failf(ErrFreedInstance, "Trying to cast a freed object.")
	}
	if obj == nil || !t.Matches(v) {
		return ObjectValue(nil), nil
	}
	return v, nil
}

// describe names a value's runtime type for diagnostics.
func describe(v Value) string {
	if v.typ != TypeObject {
		return v.typ.String()
	}
	obj, freed := v.ValidObject()
	switch {
	case freed:
		return "previously freed"
	case obj == nil:
		return "null instance"
	}
	return obj.ClassName()
}
