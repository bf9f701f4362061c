package wire

import (
	"fmt"

	"github.com/chazu/graphvm/vm"
)

type loader struct {
	vm      *vm.VM
	scripts []*vm.Script
}

// Load creates the image's scripts and functions in m. Method binds resolve
// through m.ClassDB and utilities through m's utility table. Every function
// is prepared, so malformed bytecode fails here.
func Load(m *vm.VM, img *Image) ([]*vm.Script, []*vm.Function, error) {
	l := &loader{vm: m}
	for i, si := range img.Scripts {
		var base *vm.Script
		if si.Base != 0 {
			if si.Base < 1 || si.Base > i {
				return nil, nil, fmt.Errorf("wire: script %s: base %d does not precede it", si.Name, si.Base)
			}
			base = l.scripts[si.Base-1]
		}
		s := m.NewScript(si.Name, base)
		if si.NativeBase != "" {
			s.NativeBase = si.NativeBase
		}
		l.scripts = append(l.scripts, s)
		for _, mem := range si.Members {
			t, err := l.typ(mem.Type)
			if err != nil {
				return nil, nil, fmt.Errorf("wire: script %s member %s: %w", si.Name, mem.Name, err)
			}
			s.AddMember(mem.Name, t)
		}
	}
	for i, si := range img.Scripts {
		s := l.scripts[i]
		for _, st := range si.Statics {
			v, err := l.value(st.Value)
			if err != nil {
				return nil, nil, fmt.Errorf("wire: script %s static %s: %w", si.Name, st.Name, err)
			}
			s.AddStatic(st.Name, v)
		}
		for name, c := range si.Constants {
			v, err := l.value(c)
			if err != nil {
				return nil, nil, fmt.Errorf("wire: script %s constant %s: %w", si.Name, name, err)
			}
			s.Constants[name] = v
		}
		for _, fi := range si.Functions {
			f, err := l.function(fi)
			if err != nil {
				return nil, nil, fmt.Errorf("wire: script %s: %w", si.Name, err)
			}
			s.AddFunction(f)
		}
	}
	var funcs []*vm.Function
	for _, fi := range img.Functions {
		f, err := l.function(fi)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		funcs = append(funcs, f)
	}
	return l.scripts, funcs, nil
}

// LoadBytes is Unmarshal followed by Load.
func LoadBytes(m *vm.VM, data []byte) ([]*vm.Script, []*vm.Function, error) {
	img, err := Unmarshal(data)
	if err != nil {
		return nil, nil, err
	}
	return Load(m, img)
}

func (l *loader) script(i int) (*vm.Script, error) {
	if i < 1 || i > len(l.scripts) {
		return nil, fmt.Errorf("script reference %d out of range", i)
	}
	return l.scripts[i-1], nil
}

func (l *loader) typ(t Type) (vm.TypeInfo, error) {
	out := vm.TypeInfo{Kind: vm.TypeKind(t.Kind), Builtin: vm.Type(t.Builtin), ClassName: t.Class}
	if out.Kind == vm.KindScript {
		s, err := l.script(t.Script)
		if err != nil {
			return out, err
		}
		out.Script = s
	}
	for _, el := range t.Elem {
		et, err := l.typ(el)
		if err != nil {
			return out, err
		}
		out.Elem = append(out.Elem, et)
	}
	return out, nil
}

func (l *loader) values(ivs []Value) ([]vm.Value, error) {
	out := make([]vm.Value, 0, len(ivs))
	for _, iv := range ivs {
		v, err := l.value(iv)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (l *loader) value(iv Value) (vm.Value, error) {
	t := vm.Type(iv.Type)
	need := func(n int, have int) error {
		if have != n {
			return fmt.Errorf("%s needs %d components, got %d", t, n, have)
		}
		return nil
	}
	switch t {
	case vm.TypeNil:
		return vm.Nil, nil
	case vm.TypeBool:
		return vm.Bool(iv.Bool), nil
	case vm.TypeInt:
		return vm.Int(iv.Int), nil
	case vm.TypeFloat:
		return vm.Float(iv.Float), nil
	case vm.TypeString:
		return vm.String(iv.Str), nil
	case vm.TypeVector2:
		if err := need(2, len(iv.Floats)); err != nil {
			return vm.Nil, err
		}
		return vm.Vec2(iv.Floats[0], iv.Floats[1]), nil
	case vm.TypeVector2i:
		if err := need(2, len(iv.Ints)); err != nil {
			return vm.Nil, err
		}
		return vm.Vec2i(iv.Ints[0], iv.Ints[1]), nil
	case vm.TypeVector3:
		if err := need(3, len(iv.Floats)); err != nil {
			return vm.Nil, err
		}
		return vm.Vec3(iv.Floats[0], iv.Floats[1], iv.Floats[2]), nil
	case vm.TypeVector3i:
		if err := need(3, len(iv.Ints)); err != nil {
			return vm.Nil, err
		}
		return vm.Vec3i(iv.Ints[0], iv.Ints[1], iv.Ints[2]), nil
	case vm.TypeObject:
		if iv.Script == 0 {
			return vm.ObjectValue(nil), nil
		}
		s, err := l.script(iv.Script)
		if err != nil {
			return vm.Nil, err
		}
		return vm.ObjectValue(s), nil
	case vm.TypeArray:
		elems, err := l.values(iv.Elems)
		if err != nil {
			return vm.Nil, err
		}
		a := vm.NewArray(elems...)
		if len(iv.Elem) == 1 {
			et, err := l.typ(iv.Elem[0])
			if err != nil {
				return vm.Nil, err
			}
			if a, err = vm.NewTypedArray(et, elems...); err != nil {
				return vm.Nil, err
			}
		}
		if iv.ReadOnly {
			a.MakeReadOnly()
		}
		return vm.ArrayValue(a), nil
	case vm.TypeMap:
		if len(iv.Elems)%2 != 0 {
			return vm.Nil, fmt.Errorf("map with %d entry words", len(iv.Elems))
		}
		m := vm.NewMap()
		if len(iv.Elem) == 2 {
			kt, err := l.typ(iv.Elem[0])
			if err != nil {
				return vm.Nil, err
			}
			vt, err := l.typ(iv.Elem[1])
			if err != nil {
				return vm.Nil, err
			}
			m = vm.NewTypedMap(kt, vt)
		}
		entries, err := l.values(iv.Elems)
		if err != nil {
			return vm.Nil, err
		}
		for i := 0; i < len(entries); i += 2 {
			if err := m.Set(entries[i], entries[i+1]); err != nil {
				return vm.Nil, err
			}
		}
		if iv.ReadOnly {
			m.MakeReadOnly()
		}
		return vm.MapValue(m), nil
	case vm.TypePackedByteArray:
		return vm.PackedValue(vm.NewPacked(iv.Bytes...)), nil
	case vm.TypePackedInt32Array:
		return vm.PackedValue(vm.NewPacked(widen[int64, int32](iv.Ints)...)), nil
	case vm.TypePackedInt64Array:
		return vm.PackedValue(vm.NewPacked(iv.Ints...)), nil
	case vm.TypePackedFloat32Array:
		return vm.PackedValue(vm.NewPacked(widen[float64, float32](iv.Floats)...)), nil
	case vm.TypePackedFloat64Array:
		return vm.PackedValue(vm.NewPacked(iv.Floats...)), nil
	case vm.TypePackedStringArray:
		return vm.PackedValue(vm.NewPacked(iv.Strs...)), nil
	}
	return vm.Nil, fmt.Errorf("cannot decode a value of type %d", iv.Type)
}

func (l *loader) function(fi Function) (*vm.Function, error) {
	f := &vm.Function{
		Name:        fi.Name,
		Source:      fi.Source,
		Code:        fi.Code,
		Names:       fi.Names,
		ArgNames:    fi.ArgNames,
		DefaultArgs: fi.DefaultArgs,
		StackSize:   fi.StackSize,
		Variadic:    fi.Variadic,
		Static:      fi.Static,
	}
	fail := func(err error) (*vm.Function, error) {
		return nil, fmt.Errorf("function %s: %w", fi.Name, err)
	}
	var err error
	if f.Constants, err = l.values(fi.Constants); err != nil {
		return fail(err)
	}
	for _, t := range fi.ArgTypes {
		at, err := l.typ(t)
		if err != nil {
			return fail(err)
		}
		f.ArgTypes = append(f.ArgTypes, at)
	}
	if f.ReturnType, err = l.typ(fi.Return); err != nil {
		return fail(err)
	}
	for _, r := range fi.Methods {
		var mb *vm.MethodBind
		if l.vm.ClassDB != nil {
			mb = l.vm.ClassDB.Method(r.Class, r.Name)
		}
		if mb == nil {
			return fail(fmt.Errorf("%w: method %s::%s", ErrUnresolved, r.Class, r.Name))
		}
		f.Methods = append(f.Methods, mb)
	}
	for _, name := range fi.Utilities {
		u := l.vm.Utility(name)
		if u == nil {
			return fail(fmt.Errorf("%w: utility %s", ErrUnresolved, name))
		}
		f.Utilities = append(f.Utilities, u)
	}
	for _, r := range fi.Operators {
		if len(r.Types) != 2 {
			return fail(fmt.Errorf("operator reference with %d types", len(r.Types)))
		}
		if !vm.Operator(r.Op).Cacheable() {
			return fail(fmt.Errorf("operator %s has no validated form", vm.Operator(r.Op)))
		}
		vo := vm.LookupOperator(vm.Operator(r.Op), vm.Type(r.Types[0]), vm.Type(r.Types[1]))
		if vo == nil {
			return fail(fmt.Errorf("%w: operator %s(%s, %s)", ErrUnresolved, vm.Operator(r.Op), vm.Type(r.Types[0]), vm.Type(r.Types[1])))
		}
		f.Operators = append(f.Operators, vo)
	}
	for _, r := range fi.Accessors {
		acc := vm.LookupAccessor(vm.Type(r.Base), r.Name)
		if acc == nil {
			return fail(fmt.Errorf("%w: accessor %s %q", ErrUnresolved, vm.Type(r.Base), r.Name))
		}
		f.Accessors = append(f.Accessors, acc)
	}
	for _, r := range fi.Constructors {
		args := make([]vm.Type, len(r.Types))
		for i, t := range r.Types {
			args[i] = vm.Type(t)
		}
		c := vm.LookupConstructor(vm.Type(r.Base), args...)
		if c == nil {
			return fail(fmt.Errorf("%w: constructor %s%v", ErrUnresolved, vm.Type(r.Base), args))
		}
		f.Constructors = append(f.Constructors, c)
	}
	for _, r := range fi.BuiltinMethods {
		m := vm.LookupBuiltinMethod(vm.Type(r.Base), r.Name)
		if m == nil {
			return fail(fmt.Errorf("%w: builtin method %s.%s", ErrUnresolved, vm.Type(r.Base), r.Name))
		}
		f.BuiltinMethods = append(f.BuiltinMethods, m)
	}
	for _, t := range fi.TypeInfos {
		ti, err := l.typ(t)
		if err != nil {
			return fail(err)
		}
		f.TypeInfos = append(f.TypeInfos, ti)
	}
	for _, li := range fi.Lambdas {
		lf, err := l.function(li)
		if err != nil {
			return fail(err)
		}
		f.Lambdas = append(f.Lambdas, lf)
	}
	if err := f.Prepare(); err != nil {
		return fail(err)
	}
	return f, nil
}
