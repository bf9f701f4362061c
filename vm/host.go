package vm

// ---------------------------------------------------------------------------
// Host object model: the narrow surface the interpreter needs
// ---------------------------------------------------------------------------

// Object is a host object reachable from script values.
type Object interface {
	ClassName() string
	IsClass(name string) bool
	InstanceID() uint64
}

// Validatable is implemented by objects that can be freed while values still
// refer to them.
type Validatable interface {
	IsValid() bool
}

// PropertyAccessor exposes named properties. SetProperty returns ErrReadOnly
// for read-only properties and ErrInvalidAccess for unknown ones.
type PropertyAccessor interface {
	GetProperty(name string) (Value, bool)
	SetProperty(name string, v Value) error
}

// MethodCaller resolves methods by name at call time.
type MethodCaller interface {
	HasMethod(name string) bool
	CallMethod(in *Interpreter, name string, args []Value) (Value, error)
}

// ReadOnlyObject marks objects whose non-const methods may not be called.
type ReadOnlyObject interface {
	IsReadOnly() bool
}

// ---------------------------------------------------------------------------
// Method binds
// ---------------------------------------------------------------------------

// NativeFunc is a boxed host method.
type NativeFunc func(in *Interpreter, self Object, args []Value) (Value, error)

// ValidatedFunc is an unboxed host method. Callers guarantee arity and
// argument types.
type ValidatedFunc func(self Object, args []Value) Value

// MethodBind is a pre-resolved handle to a host method.
type MethodBind struct {
	Name       string
	Class      string
	ArgTypes   []Type // TypeNil accepts any value
	Defaults   []Value
	ReturnType Type
	HasReturn  bool
	Const      bool
	Static     bool
	Vararg     bool
	Func       NativeFunc
	Validated  ValidatedFunc
}

// Call invokes the bind through the fully checked path: arity, defaults,
// strict argument conversion, null and const checks.
func (m *MethodBind) Call(in *Interpreter, self Object, args []Value) (Value, error) {
	if !m.Static {
		if self == nil {
			return Nil, &CallError{Kind: CallInstanceIsNull}
		}
		if v, ok := self.(Validatable); ok && !v.IsValid() {
			return Nil, &CallError{Kind: CallInstanceIsNull}
		}
		if ro, ok := self.(ReadOnlyObject); ok && ro.IsReadOnly() && !m.Const {
			return Nil, &CallError{Kind: CallMethodNotConst}
		}
	}
	bound, cerr := bindNativeArgs(args, m.ArgTypes, m.Defaults, m.Vararg)
	if cerr != nil {
		return Nil, cerr
	}
	if m.Func == nil {
		return m.Validated(self, bound), nil
	}
	return m.Func(in, self, bound)
}

// bindNativeArgs applies arity rules, trailing defaults and strict
// conversion for host functions.
func bindNativeArgs(args []Value, types []Type, defaults []Value, vararg bool) ([]Value, *CallError) {
	if cerr := checkArity(len(args), len(types), len(defaults), vararg); cerr != nil {
		return nil, cerr
	}
	out := make([]Value, 0, max(len(types), len(args)))
	for i, a := range args {
		if i < len(types) && types[i] != TypeNil && a.typ != types[i] {
			if !CanConvertStrict(a.typ, types[i]) {
				return nil, invalidArgument(i, types[i])
			}
			c, err := Construct(types[i], []Value{a})
			if err != nil {
				return nil, invalidArgument(i, types[i])
			}
			a = c
		}
		out = append(out, a)
	}
	for i := len(args); i < len(types); i++ {
		out = append(out, defaults[len(defaults)-(len(types)-i)])
	}
	return out, nil
}

// Utility is a free host function.
type Utility struct {
	Name       string
	ArgTypes   []Type
	Defaults   []Value
	ReturnType Type
	HasReturn  bool
	Vararg     bool
	Func       func(in *Interpreter, args []Value) (Value, error)
	Validated  func(args []Value) Value
}

// Call invokes the utility through the checked path.
func (u *Utility) Call(in *Interpreter, args []Value) (Value, error) {
	bound, cerr := bindNativeArgs(args, u.ArgTypes, u.Defaults, u.Vararg)
	if cerr != nil {
		return Nil, cerr
	}
	if u.Func == nil {
		return u.Validated(bound), nil
	}
	return u.Func(in, bound)
}

// ClassDB is the host's native class table.
type ClassDB interface {
	ClassExists(name string) bool
	IsParentClass(class, parent string) bool
	Method(class, name string) *MethodBind
}

// ---------------------------------------------------------------------------
// Callable
// ---------------------------------------------------------------------------

// Callable is a first-class function value: either a host closure or a
// compiled lambda with captured values.
type Callable struct {
	name     string
	host     func(in *Interpreter, args []Value) (Value, error)
	fn       *Function
	self     *Instance
	captures []Value
}

// NewCallable wraps a host function.
func NewCallable(name string, fn func(in *Interpreter, args []Value) (Value, error)) *Callable {
	return &Callable{name: name, host: fn}
}

// Name returns the callable's display name.
func (c *Callable) Name() string {
	if c == nil {
		return "null"
	}
	if c.fn != nil && c.name == "" {
		return c.fn.Name
	}
	return c.name
}

// IsNull reports whether c has no target.
func (c *Callable) IsNull() bool {
	return c == nil || (c.host == nil && c.fn == nil)
}

// Call invokes the callable. Lambdas receive their captures before args.
func (c *Callable) Call(in *Interpreter, args []Value) (Value, error) {
	if c.IsNull() {
		return Nil, &CallError{Kind: CallInstanceIsNull}
	}
	if c.host != nil {
		return c.host(in, args)
	}
	if c.self != nil && !c.self.IsValid() {
		return Nil, &CallError{Kind: CallInstanceIsNull}
	}
	full := args
	if len(c.captures) > 0 {
		full = make([]Value, 0, len(c.captures)+len(args))
		full = append(full, c.captures...)
		full = append(full, args...)
	}
	return in.Call(c.fn, c.self, full)
}
