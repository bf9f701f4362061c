package vm

import (
	"time"
)

// initName is the reserved constructor name. Calling it on a base that
// does not declare it succeeds silently.
const initName = "_init"

// ---------------------------------------------------------------------------
// Call subsystem: every crossing from bytecode into callable code ends in
// (result, error) where error is a *CallError for structural failures.
// ---------------------------------------------------------------------------

// CallValue calls a method by name on a runtime value: script instances,
// host objects, builtin-type methods and Callable/Signal methods.
func (in *Interpreter) CallValue(base Value, name string, args ...Value) (Value, error) {
	return in.callDynamic(&base, name, args)
}

// callDynamic resolves name on *base at call time. Builtin methods may
// replace *base for value types.
func (in *Interpreter) callDynamic(base *Value, name string, args []Value) (Value, error) {
	switch base.typ {
	case TypeNil:
		return Nil, &CallError{Kind: CallInstanceIsNull}
	case TypeObject:
		obj, freed := base.ValidObject()
		if obj == nil || freed {
			return Nil, &CallError{Kind: CallInstanceIsNull}
		}
		if mc, ok := obj.(MethodCaller); ok && mc.HasMethod(name) {
			return mc.CallMethod(in, name, args)
		}
		if db := in.vm.ClassDB; db != nil {
			if mb := db.Method(obj.ClassName(), name); mb != nil {
				return in.callMethodBind(mb, nativeReceiver(*base), args)
			}
		}
		if name == "is_class" && len(args) == 1 && args[0].typ == TypeString {
			return Bool(obj.IsClass(args[0].AsString())), nil
		}
		if name == "get_class" && len(args) == 0 {
			return String(obj.ClassName()), nil
		}
		return Nil, errInvalidMethod
	}
	m := builtinMethod(base.typ, name)
	if m == nil {
		return Nil, errInvalidMethod
	}
	return m.Call(in, base, args)
}

// callMethodBind invokes a host method through the checked path and
// accounts its time to the profiler.
func (in *Interpreter) callMethodBind(mb *MethodBind, self Object, args []Value) (Value, error) {
	start := time.Now()
	r, err := mb.Call(in, self, args)
	in.profileNative(mb.Class+"::"+mb.Name, start)
	return r, err
}

// nativeReceiver is the object a host method receives for a base value:
// script instances forward to their owner.
func nativeReceiver(v Value) Object {
	obj := v.AsObject()
	if inst, ok := obj.(*Instance); ok {
		return inst.nativeSelf()
	}
	return obj
}

// callSelfBase calls the nearest ancestor implementation of name, starting
// above the script that declares the running function and ending at the
// native base class.
func (in *Interpreter) callSelfBase(fr *frame, name string, args []Value) (Value, error) {
	s := fr.fn.script
	if s != nil {
		for b := s.Base; b != nil; b = b.Base {
			if f := b.functions[name]; f != nil {
				return in.Call(f, fr.self, args)
			}
		}
	}
	if name == initName {
		return Nil, nil
	}
	if s != nil && s.NativeBase != "" && in.vm.ClassDB != nil {
		if mb := in.vm.ClassDB.Method(s.NativeBase, name); mb != nil {
			var recv Object
			if fr.self != nil {
				recv = fr.self.nativeSelf()
			}
			return in.callMethodBind(mb, recv, args)
		}
	}
	return Nil, errInvalidMethod
}
