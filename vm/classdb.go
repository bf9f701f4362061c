package vm

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// ClassRegistry: an in-memory ClassDB
// ---------------------------------------------------------------------------

// NativeClass describes a host class: its parent, methods and declared
// properties with their initial values.
type NativeClass struct {
	Name   string
	Parent string

	methods  map[string]*MethodBind
	props    map[string]Value
	readOnly map[string]bool
	signals  []string
}

// AddMethod registers mb on the class and returns it.
func (c *NativeClass) AddMethod(mb *MethodBind) *MethodBind {
	mb.Class = c.Name
	c.methods[mb.Name] = mb
	return mb
}

// AddProperty declares a property with its initial value.
func (c *NativeClass) AddProperty(name string, initial Value, readOnly bool) {
	c.props[name] = initial
	if readOnly {
		c.readOnly[name] = true
	}
}

// AddSignal declares a signal property; every object gets its own Signal.
func (c *NativeClass) AddSignal(name string) {
	c.signals = append(c.signals, name)
}

// ClassRegistry is a ClassDB backed by a map. It is safe for concurrent
// use once populated.
type ClassRegistry struct {
	mu      sync.RWMutex
	classes map[string]*NativeClass
}

// NewClassRegistry creates a registry holding the root class "Object".
func NewClassRegistry() *ClassRegistry {
	r := &ClassRegistry{classes: make(map[string]*NativeClass)}
	r.Register("Object", "")
	return r
}

// Register adds a class. An empty parent means "Object"; re-registering a
// name replaces the class.
func (r *ClassRegistry) Register(name, parent string) *NativeClass {
	if parent == "" && name != "Object" {
		parent = "Object"
	}
	c := &NativeClass{
		Name:     name,
		Parent:   parent,
		methods:  make(map[string]*MethodBind),
		props:    make(map[string]Value),
		readOnly: make(map[string]bool),
	}
	r.mu.Lock()
	r.classes[name] = c
	r.mu.Unlock()
	return c
}

// Class returns a registered class.
func (r *ClassRegistry) Class(name string) (*NativeClass, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[name]
	return c, ok
}

// ClassNames returns all class names, sorted.
func (r *ClassRegistry) ClassNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.classes))
}

// ClassExists implements ClassDB.
func (r *ClassRegistry) ClassExists(name string) bool {
	_, ok := r.Class(name)
	return ok
}

// IsParentClass implements ClassDB. A class is its own parent.
func (r *ClassRegistry) IsParentClass(class, parent string) bool {
	for name := class; name != ""; {
		if name == parent {
			return true
		}
		c, ok := r.Class(name)
		if !ok {
			return false
		}
		name = c.Parent
	}
	return false
}

// Method implements ClassDB, searching the class and then its ancestors.
func (r *ClassRegistry) Method(class, name string) *MethodBind {
	for cn := class; cn != ""; {
		c, ok := r.Class(cn)
		if !ok {
			return nil
		}
		if mb, ok := c.methods[name]; ok {
			return mb
		}
		cn = c.Parent
	}
	return nil
}

// Instantiate creates an object of class with every declared property of
// the class and its ancestors set to its initial value.
func (r *ClassRegistry) Instantiate(class string) (*NativeObject, error) {
	if !r.ClassExists(class) {
		return nil, fmt.Errorf("unknown class %q", class)
	}
	o := &NativeObject{
		class:    class,
		db:       r,
		serial:   nextInstanceID(),
		props:    make(map[string]Value),
		readOnly: make(map[string]bool),
	}
	var chain []*NativeClass
	for cn := class; cn != ""; {
		c, _ := r.Class(cn)
		chain = append(chain, c)
		cn = c.Parent
	}
	for _, c := range slices.Backward(chain) {
		maps.Copy(o.props, c.props)
		maps.Copy(o.readOnly, c.readOnly)
		for _, s := range c.signals {
			o.props[s] = SignalValue(NewSignal(s))
			o.readOnly[s] = true
		}
	}
	return o, nil
}

// ---------------------------------------------------------------------------
// NativeObject
// ---------------------------------------------------------------------------

// NativeObject is a host object created by a ClassRegistry.
type NativeObject struct {
	class  string
	db     *ClassRegistry
	serial uint64

	mu       sync.RWMutex
	props    map[string]Value
	readOnly map[string]bool
	locked   atomic.Bool
	freed    atomic.Bool
}

// ClassName implements Object.
func (o *NativeObject) ClassName() string { return o.class }

// IsClass implements Object.
func (o *NativeObject) IsClass(name string) bool { return o.db.IsParentClass(o.class, name) }

// InstanceID implements Object.
func (o *NativeObject) InstanceID() uint64 { return o.serial }

// IsValid implements Validatable.
func (o *NativeObject) IsValid() bool { return !o.freed.Load() }

// Free marks the object freed; values still referring to it see a freed
// instance.
func (o *NativeObject) Free() { o.freed.Store(true) }

// IsReadOnly implements ReadOnlyObject.
func (o *NativeObject) IsReadOnly() bool { return o.locked.Load() }

// SetReadOnly restricts the object to const methods.
func (o *NativeObject) SetReadOnly(ro bool) { o.locked.Store(ro) }

// Signal returns a declared signal.
func (o *NativeObject) Signal(name string) *Signal {
	v, _ := o.GetProperty(name)
	return v.AsSignal()
}

// GetProperty implements PropertyAccessor.
func (o *NativeObject) GetProperty(name string) (Value, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.props[name]
	return v, ok
}

// SetProperty implements PropertyAccessor.
func (o *NativeObject) SetProperty(name string, v Value) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.props[name]; !ok {
		return failf(ErrInvalidAccess, "Invalid assignment of property '%s' on base object of type '%s'.", name, o.class)
	}
	if o.readOnly[name] {
		return failf(ErrReadOnly, "Cannot assign to read-only property '%s' on '%s'.", name, o.class)
	}
	o.props[name] = v
	return nil
}

// HasMethod implements MethodCaller.
func (o *NativeObject) HasMethod(name string) bool {
	return o.db.Method(o.class, name) != nil
}

// CallMethod implements MethodCaller through the checked bind path.
func (o *NativeObject) CallMethod(in *Interpreter, name string, args []Value) (Value, error) {
	mb := o.db.Method(o.class, name)
	if mb == nil {
		return Nil, errInvalidMethod
	}
	return in.callMethodBind(mb, o, args)
}

func (o *NativeObject) String() string {
	return fmt.Sprintf("<%s#%d>", o.class, o.serial)
}
