package vm

import (
	"fmt"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"
)

var objectSerial atomic.Uint64

func nextInstanceID() uint64 { return objectSerial.Add(1) }

// ---------------------------------------------------------------------------
// Script: a compiled program
// ---------------------------------------------------------------------------

// Script owns compiled functions, member layout and static variables.
// A Script is itself an Object so that bytecode can reference it from the
// constant pool.
type Script struct {
	id     uuid.UUID
	serial uint64
	vm     *VM

	Name       string
	Base       *Script
	NativeBase string

	members     []string
	memberTypes []TypeInfo
	memberIndex map[string]int

	statics     []Value
	staticNames []string

	functions map[string]*Function
	Constants map[string]Value

	invalid atomic.Bool
}

// NewScript creates a script. Members of base are inherited in order.
func (vm *VM) NewScript(name string, base *Script) *Script {
	s := &Script{
		id:          uuid.New(),
		serial:      nextInstanceID(),
		vm:          vm,
		Name:        name,
		Base:        base,
		memberIndex: make(map[string]int),
		functions:   make(map[string]*Function),
		Constants:   make(map[string]Value),
	}
	if base != nil {
		s.NativeBase = base.NativeBase
		for i, m := range base.members {
			s.AddMember(m, base.memberTypes[i])
		}
	}
	return s
}

// ID returns the script's registry identity.
func (s *Script) ID() uuid.UUID { return s.id }

// VM returns the owning virtual machine.
func (s *Script) VM() *VM { return s.vm }

// ClassName implements Object.
func (s *Script) ClassName() string { return "Script" }

// IsClass implements Object.
func (s *Script) IsClass(name string) bool { return name == "Script" || name == "Object" }

// InstanceID implements Object.
func (s *Script) InstanceID() uint64 { return s.serial }

// IsValid implements Validatable.
func (s *Script) IsValid() bool { return !s.invalid.Load() }

// AddMember declares a member variable and returns its slot index.
func (s *Script) AddMember(name string, t TypeInfo) int {
	if i, ok := s.memberIndex[name]; ok {
		s.memberTypes[i] = t
		return i
	}
	s.memberIndex[name] = len(s.members)
	s.members = append(s.members, name)
	s.memberTypes = append(s.memberTypes, t)
	return len(s.members) - 1
}

// MemberIndex returns the slot index of a member.
func (s *Script) MemberIndex(name string) (int, bool) {
	i, ok := s.memberIndex[name]
	return i, ok
}

// MemberNames returns the member names in slot order.
func (s *Script) MemberNames() []string { return append([]string(nil), s.members...) }

// MemberType returns the declared type of a member slot.
func (s *Script) MemberType(i int) TypeInfo { return s.memberTypes[i] }

// AddStatic declares a static variable and returns its index.
func (s *Script) AddStatic(name string, initial Value) int {
	s.staticNames = append(s.staticNames, name)
	s.statics = append(s.statics, initial)
	return len(s.statics) - 1
}

// Static returns a static variable. Static variables are not synchronized.
func (s *Script) Static(i int) Value { return s.statics[i] }

// SetStatic writes a static variable.
func (s *Script) SetStatic(i int, v Value) { s.statics[i] = v }

// StaticNames returns the static variable names in index order.
func (s *Script) StaticNames() []string { return append([]string(nil), s.staticNames...) }

// AddFunction attaches f (and its lambdas) to the script.
func (s *Script) AddFunction(f *Function) {
	f.adopt(s)
	s.functions[f.Name] = f
}

func (f *Function) adopt(s *Script) {
	f.script = s
	for _, l := range f.Lambdas {
		l.adopt(s)
	}
}

// OwnFunction returns a function declared directly on s.
func (s *Script) OwnFunction(name string) *Function {
	return s.functions[name]
}

// Function returns the nearest declaration of name along the base chain.
func (s *Script) Function(name string) *Function {
	for c := s; c != nil; c = c.Base {
		if f := c.functions[name]; f != nil {
			return f
		}
	}
	return nil
}

// Functions returns the functions declared directly on s, by name.
func (s *Script) Functions() []*Function {
	out := make([]*Function, 0, len(s.functions))
	for _, name := range slices.Sorted(maps.Keys(s.functions)) {
		out = append(out, s.functions[name])
	}
	return out
}

// InheritsFrom reports whether s is other or derives from it.
func (s *Script) InheritsFrom(other *Script) bool {
	for c := s; c != nil; c = c.Base {
		if c == other {
			return true
		}
	}
	return false
}

// Instantiate creates an instance with default member values. owner is the
// optional host object the instance is attached to.
func (s *Script) Instantiate(owner Object) *Instance {
	inst := &Instance{
		id:      uuid.New(),
		serial:  nextInstanceID(),
		script:  s,
		owner:   owner,
		members: make([]Value, len(s.members)),
	}
	for i, t := range s.memberTypes {
		inst.members[i] = DefaultFor(t)
	}
	return inst
}

// New instantiates s and runs its _init function, if any.
func (s *Script) New(in *Interpreter, owner Object, args ...Value) (*Instance, error) {
	inst := s.Instantiate(owner)
	if f := s.Function(initName); f != nil {
		if _, err := in.Call(f, inst, args); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// Invalidate tears the script down. Suspended calls owned by it are
// severed and will never resume.
func (s *Script) Invalidate() {
	if s.invalid.Swap(true) {
		return
	}
	if s.vm != nil {
		s.vm.registry.Sever(s.id)
	}
}

// ---------------------------------------------------------------------------
// Instance: a script attached to a host object
// ---------------------------------------------------------------------------

// Instance holds the member state of one script instance.
type Instance struct {
	id      uuid.UUID
	serial  uint64
	script  *Script
	owner   Object
	members []Value
	freed   atomic.Bool
}

// ID returns the instance's registry identity.
func (i *Instance) ID() uuid.UUID { return i.id }

// Script returns the instance's script.
func (i *Instance) Script() *Script { return i.script }

// Owner returns the host object the instance is attached to.
func (i *Instance) Owner() Object { return i.owner }

// ClassName implements Object.
func (i *Instance) ClassName() string {
	if i.script.Name != "" {
		return i.script.Name
	}
	return i.script.NativeBase
}

// IsClass implements Object: script names along the base chain, then the
// native base class hierarchy.
func (i *Instance) IsClass(name string) bool {
	for c := i.script; c != nil; c = c.Base {
		if c.Name == name {
			return true
		}
	}
	native := i.script.NativeBase
	if native == "" {
		return name == "Object"
	}
	if native == name {
		return true
	}
	if vm := i.script.vm; vm != nil && vm.ClassDB != nil {
		return vm.ClassDB.IsParentClass(native, name)
	}
	return false
}

// InstanceID implements Object.
func (i *Instance) InstanceID() uint64 { return i.serial }

// IsValid implements Validatable.
func (i *Instance) IsValid() bool { return !i.freed.Load() }

// Member returns a member slot.
func (i *Instance) Member(idx int) Value { return i.members[idx] }

// SetMember writes a member slot without type checks.
func (i *Instance) SetMember(idx int, v Value) { i.members[idx] = v }

// GetProperty implements PropertyAccessor.
func (i *Instance) GetProperty(name string) (Value, bool) {
	if idx, ok := i.script.memberIndex[name]; ok {
		return i.members[idx], true
	}
	if v, ok := i.script.Constants[name]; ok {
		return v, true
	}
	if p, ok := i.owner.(PropertyAccessor); ok {
		return p.GetProperty(name)
	}
	return Nil, false
}

// SetProperty implements PropertyAccessor. Typed members convert with the
// strict table and otherwise reject the value.
func (i *Instance) SetProperty(name string, v Value) error {
	if idx, ok := i.script.memberIndex[name]; ok {
		t := i.script.memberTypes[idx]
		c, ok := t.coerce(v)
		if !ok {
			return failf(ErrTypeMismatch, "Invalid assignment of property '%s' with value of type '%s' (expected %s).", name, v.typ, t)
		}
		i.members[idx] = c
		return nil
	}
	if _, ok := i.script.Constants[name]; ok {
		return failf(ErrReadOnly, "Cannot assign a new value to a constant '%s'.", name)
	}
	if p, ok := i.owner.(PropertyAccessor); ok {
		return p.SetProperty(name, v)
	}
	return failf(ErrInvalidAccess, "Invalid assignment of property '%s' on '%s'.", name, i.ClassName())
}

// HasMethod implements MethodCaller.
func (i *Instance) HasMethod(name string) bool {
	if i.script.Function(name) != nil {
		return true
	}
	if m, ok := i.owner.(MethodCaller); ok {
		return m.HasMethod(name)
	}
	return i.nativeMethod(name) != nil
}

// CallMethod implements MethodCaller. Script functions shadow the owner's
// and the native base's methods.
func (i *Instance) CallMethod(in *Interpreter, name string, args []Value) (Value, error) {
	if !i.IsValid() {
		return Nil, &CallError{Kind: CallInstanceIsNull}
	}
	if f := i.script.Function(name); f != nil {
		return in.Call(f, i, args)
	}
	if m, ok := i.owner.(MethodCaller); ok && m.HasMethod(name) {
		return m.CallMethod(in, name, args)
	}
	if mb := i.nativeMethod(name); mb != nil {
		return in.callMethodBind(mb, i.nativeSelf(), args)
	}
	return Nil, errInvalidMethod
}

func (i *Instance) nativeMethod(name string) *MethodBind {
	vm := i.script.vm
	if vm == nil || vm.ClassDB == nil || i.script.NativeBase == "" {
		return nil
	}
	return vm.ClassDB.Method(i.script.NativeBase, name)
}

// nativeSelf is the receiver passed to native methods: the owner when
// attached, else the instance itself.
func (i *Instance) nativeSelf() Object {
	if i.owner != nil {
		return i.owner
	}
	return i
}

// Free releases the instance. Suspended calls owned by it are severed.
func (i *Instance) Free() {
	if i.freed.Swap(true) {
		return
	}
	if vm := i.script.vm; vm != nil {
		vm.registry.Sever(i.id)
	}
}

func (i *Instance) String() string {
	return fmt.Sprintf("<%s#%d>", i.ClassName(), i.serial)
}
