package vm

import (
	"sync/atomic"
	"weak"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Continuation: a suspended call
// ---------------------------------------------------------------------------

const (
	statePending int32 = iota // suspended, waiting for its signal
	stateRunning              // resumed and executing
	stateChained              // resumed and suspended again in a later state
	stateDone                 // completed; result is final
	stateSevered              // owner torn down; will never resume
)

// Continuation is the state of a call suspended by AWAIT. It is returned to
// the caller as an Object value. When the whole chain of resumptions
// finishes, the first continuation's Completed signal fires exactly once
// with the final result.
type Continuation struct {
	id     uuid.UUID
	serial uint64
	vm     *VM

	fn         *Function
	script     *Script
	instance   weak.Pointer[Instance]
	instanceID uuid.UUID // uuid.Nil when the call had no instance

	stack  []Value // slots from FixedSlots up
	ip     int     // the AWAIT_RESUME instruction
	node   int
	defarg int

	completed *Signal
	first     *Continuation
	awaited   *Signal
	connID    uint64

	state  atomic.Int32
	result Value
}

// ClassName implements Object.
func (c *Continuation) ClassName() string { return "FunctionState" }

// IsClass implements Object.
func (c *Continuation) IsClass(name string) bool {
	return name == "FunctionState" || name == "Object"
}

// InstanceID implements Object.
func (c *Continuation) InstanceID() uint64 { return c.serial }

// ID returns the continuation's identity.
func (c *Continuation) ID() uuid.UUID { return c.id }

// Function returns the suspended function.
func (c *Continuation) Function() *Function { return c.fn }

// Completed returns the signal fired when the call chain finishes.
func (c *Continuation) Completed() *Signal { return c.root().completed }

// IsValid reports whether the continuation can still resume or complete.
func (c *Continuation) IsValid() bool {
	return c.state.Load() != stateSevered
}

// IsPending reports whether the continuation is waiting to be resumed.
func (c *Continuation) IsPending() bool { return c.state.Load() == statePending }

// IsDone reports whether the call chain has finished.
func (c *Continuation) IsDone() bool { return c.root().state.Load() == stateDone }

// Result returns the final result once IsDone.
func (c *Continuation) Result() Value { return c.root().result }

// Stack returns a copy of the captured frame slots above the reserved
// region.
func (c *Continuation) Stack() []Value { return append([]Value(nil), c.stack...) }

func (c *Continuation) root() *Continuation {
	if c.first != nil {
		return c.first
	}
	return c
}

// HasMethod implements MethodCaller.
func (c *Continuation) HasMethod(name string) bool {
	return name == "resume" || name == "is_valid"
}

// CallMethod implements MethodCaller: resume([value]) and is_valid().
func (c *Continuation) CallMethod(in *Interpreter, name string, args []Value) (Value, error) {
	switch name {
	case "is_valid":
		if len(args) > 0 {
			return Nil, tooManyArguments(0)
		}
		return Bool(c.IsValid() && !c.IsDone()), nil
	case "resume":
		if len(args) > 1 {
			return Nil, tooManyArguments(1)
		}
		var v Value
		if len(args) == 1 {
			v = args[0]
		}
		c.disconnect()
		return in.Resume(c, v)
	}
	return Nil, errInvalidMethod
}

func (c *Continuation) disconnect() {
	if c.awaited != nil {
		c.awaited.Disconnect(c.connID)
	}
}

func (c *Continuation) untrack() (scriptGone, instanceGone bool) {
	reg := c.vm.registry
	if c.script != nil && !reg.Untrack(c.script.id, c) {
		scriptGone = true
	}
	if c.instanceID != uuid.Nil && !reg.Untrack(c.instanceID, c) {
		instanceGone = true
	}
	return
}

// sever detaches a pending continuation from its signal and owners so it
// can never resume.
func (c *Continuation) sever() {
	if !c.state.CompareAndSwap(statePending, stateSevered) {
		return
	}
	c.disconnect()
	c.untrack()
	c.vm.log.Debugf("severed suspended call of %s", c.fn.Name)
}

// ---------------------------------------------------------------------------
// Await and resume
// ---------------------------------------------------------------------------

// awaitTarget classifies an AWAIT operand. A nil signal means the operand
// is a plain value, returned as plain.
func awaitTarget(v Value) (sig *Signal, plain Value, err error) {
	switch v.typ {
	case TypeSignal:
		s := v.AsSignal()
		if s == nil {
			return nil, Nil, failf(ErrAwait, "Trying to await a null signal.")
		}
		return s, Nil, nil
	case TypeObject:
		obj, freed := v.ValidObject()
		if freed {
			return nil, Nil, failf(ErrFreedInstance, "Trying to await on a freed object.")
		}
		c, ok := obj.(*Continuation)
		if !ok {
			return nil, v, nil
		}
		root := c.root()
		switch root.state.Load() {
		case stateDone:
			return nil, root.result, nil
		case stateSevered:
			return nil, Nil, failf(ErrAwait, "Trying to await an invalid function state.")
		}
		return root.completed, Nil, nil
	}
	return nil, v, nil
}

// suspend captures fr at the AWAIT_RESUME instruction resumeIP and
// subscribes the continuation to sig.
func (in *Interpreter) suspend(fr *frame, sig *Signal, resumeIP int) *Continuation {
	c := &Continuation{
		id:        uuid.New(),
		serial:    nextInstanceID(),
		vm:        in.vm,
		fn:        fr.fn,
		script:    fr.script,
		stack:     append([]Value(nil), fr.stack[FixedSlots:]...),
		ip:        resumeIP,
		node:      fr.node,
		defarg:    fr.defarg,
		completed: NewSignal("completed"),
		awaited:   sig,
	}
	if c.script != nil {
		in.vm.registry.Track(c.script.id, c)
	}
	if fr.self != nil {
		c.instance = weak.Make(fr.self)
		c.instanceID = fr.self.id
		in.vm.registry.Track(c.instanceID, c)
	}
	c.connID = sig.Connect(func(emitter *Interpreter, args []Value) {
		r := emitter
		if r == nil || r.vm != c.vm {
			r = c.vm.NewInterpreter()
		}
		if _, err := r.Resume(c, emissionValue(args)); err != nil {
			c.vm.log.Debugf("resume of %s failed: %s", c.fn.Name, err)
		}
	}, true)
	in.vm.log.Debugf("suspended %s awaiting %s", c.fn.Name, sig.Name())
	return c
}

// Resume continues a suspended call with result as the value of its await
// expression. It returns the call's result, or a new *Continuation object
// value when the call suspends again.
func (in *Interpreter) Resume(c *Continuation, result Value) (Value, error) {
	if !c.state.CompareAndSwap(statePending, stateRunning) {
		return Nil, failf(ErrInvalidResume, "Function state is not pending.")
	}
	scriptGone, instanceGone := c.untrack()
	var self *Instance
	if c.instanceID != uuid.Nil {
		if self = c.instance.Value(); self == nil {
			instanceGone = true
		}
	}
	switch {
	case scriptGone || (c.script != nil && !c.script.IsValid()):
		c.state.Store(stateSevered)
		return Nil, failf(ErrInvalidResume, "Resumed function '%s()' after await, but script is gone.", c.fn.Name)
	case instanceGone || (self != nil && !self.IsValid()):
		c.state.Store(stateSevered)
		return Nil, failf(ErrInvalidResume, "Resumed function '%s()' after await, but class instance is gone.", c.fn.Name)
	}

	in.vm.log.Debugf("resuming %s", c.fn.Name)
	ret, next, err := in.execute(c.fn, self, nil, c, result)
	root := c.root()
	if next != nil {
		next.first = root
		c.state.Store(stateChained)
		return ObjectValue(next), nil
	}
	c.state.Store(stateDone)
	root.result = ret
	root.state.Store(stateDone)
	root.completed.Emit(in, ret)
	return ret, err
}
