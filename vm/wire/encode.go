package wire

import (
	"fmt"

	"github.com/chazu/graphvm/vm"
)

type encoder struct {
	index   map[*vm.Script]int // 1-based
	scripts []*vm.Script
}

// Encode builds the image of scripts and free functions. Base scripts are
// included ahead of the scripts deriving from them.
func Encode(scripts []*vm.Script, funcs ...*vm.Function) (*Image, error) {
	e := &encoder{index: make(map[*vm.Script]int)}
	for _, s := range scripts {
		e.visit(s)
	}
	img := &Image{Version: Version}
	for _, s := range e.scripts {
		si, err := e.script(s)
		if err != nil {
			return nil, fmt.Errorf("wire: script %s: %w", s.Name, err)
		}
		img.Scripts = append(img.Scripts, si)
	}
	for _, f := range funcs {
		fi, err := e.function(f)
		if err != nil {
			return nil, fmt.Errorf("wire: function %s: %w", f.Name, err)
		}
		img.Functions = append(img.Functions, fi)
	}
	return img, nil
}

// EncodeBytes is Encode followed by Marshal.
func EncodeBytes(scripts []*vm.Script, funcs ...*vm.Function) ([]byte, error) {
	img, err := Encode(scripts, funcs...)
	if err != nil {
		return nil, err
	}
	return Marshal(img)
}

func (e *encoder) visit(s *vm.Script) {
	if s == nil || e.index[s] != 0 {
		return
	}
	e.visit(s.Base)
	e.scripts = append(e.scripts, s)
	e.index[s] = len(e.scripts)
}

func (e *encoder) script(s *vm.Script) (Script, error) {
	si := Script{
		Name:       s.Name,
		Base:       e.index[s.Base],
		NativeBase: s.NativeBase,
	}
	inherited := 0
	if s.Base != nil {
		inherited = len(s.Base.MemberNames())
	}
	for i, name := range s.MemberNames() {
		if i < inherited {
			continue
		}
		t, err := e.typ(s.MemberType(i))
		if err != nil {
			return si, err
		}
		si.Members = append(si.Members, Member{Name: name, Type: t})
	}
	for i, name := range s.StaticNames() {
		v, err := e.value(s.Static(i))
		if err != nil {
			return si, fmt.Errorf("static %s: %w", name, err)
		}
		si.Statics = append(si.Statics, Member{Name: name, Value: v})
	}
	if len(s.Constants) > 0 {
		si.Constants = make(map[string]Value, len(s.Constants))
		for name, c := range s.Constants {
			v, err := e.value(c)
			if err != nil {
				return si, fmt.Errorf("constant %s: %w", name, err)
			}
			si.Constants[name] = v
		}
	}
	for _, f := range s.Functions() {
		fi, err := e.function(f)
		if err != nil {
			return si, fmt.Errorf("function %s: %w", f.Name, err)
		}
		si.Functions = append(si.Functions, fi)
	}
	return si, nil
}

func (e *encoder) scriptRef(s *vm.Script) (int, error) {
	i, ok := e.index[s]
	if !ok {
		return 0, fmt.Errorf("script %s is not part of the image", s.Name)
	}
	return i, nil
}

func (e *encoder) typ(t vm.TypeInfo) (Type, error) {
	out := Type{Kind: uint8(t.Kind), Builtin: uint8(t.Builtin), Class: t.ClassName}
	if t.Kind == vm.KindScript {
		i, err := e.scriptRef(t.Script)
		if err != nil {
			return out, err
		}
		out.Script = i
	}
	for _, el := range t.Elem {
		et, err := e.typ(el)
		if err != nil {
			return out, err
		}
		out.Elem = append(out.Elem, et)
	}
	return out, nil
}

func (e *encoder) values(vs []vm.Value) ([]Value, error) {
	out := make([]Value, 0, len(vs))
	for _, v := range vs {
		iv, err := e.value(v)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, nil
}

func (e *encoder) value(v vm.Value) (Value, error) {
	out := Value{Type: uint8(v.Type())}
	switch v.Type() {
	case vm.TypeNil:
	case vm.TypeBool:
		out.Bool = v.AsBool()
	case vm.TypeInt:
		out.Int = v.AsInt()
	case vm.TypeFloat:
		out.Float = v.AsFloat()
	case vm.TypeString:
		out.Str = v.AsString()
	case vm.TypeVector2:
		x := v.AsVector2()
		out.Floats = []float64{x.X, x.Y}
	case vm.TypeVector2i:
		x := v.AsVector2i()
		out.Ints = []int64{x.X, x.Y}
	case vm.TypeVector3:
		x := v.AsVector3()
		out.Floats = []float64{x.X, x.Y, x.Z}
	case vm.TypeVector3i:
		x := v.AsVector3i()
		out.Ints = []int64{x.X, x.Y, x.Z}
	case vm.TypeObject:
		obj := v.AsObject()
		if obj == nil {
			break
		}
		s, ok := obj.(*vm.Script)
		if !ok {
			return out, fmt.Errorf("cannot encode object of class %s", obj.ClassName())
		}
		i, err := e.scriptRef(s)
		if err != nil {
			return out, err
		}
		out.Script = i
	case vm.TypeArray:
		a := v.AsArray()
		elems, err := e.values(a.Elems())
		if err != nil {
			return out, err
		}
		out.Elems, out.ReadOnly = elems, a.ReadOnly()
		if a.IsTyped() {
			t, err := e.typ(a.ElemType())
			if err != nil {
				return out, err
			}
			out.Elem = []Type{t}
		}
	case vm.TypeMap:
		m := v.AsMap()
		keys, vals := m.Keys(), m.Values()
		for i := range keys {
			kv, err := e.values([]vm.Value{keys[i], vals[i]})
			if err != nil {
				return out, err
			}
			out.Elems = append(out.Elems, kv...)
		}
		out.ReadOnly = m.ReadOnly()
		if m.IsTyped() {
			kt, err := e.typ(m.KeyType())
			if err != nil {
				return out, err
			}
			vt, err := e.typ(m.ValueType())
			if err != nil {
				return out, err
			}
			out.Elem = []Type{kt, vt}
		}
	case vm.TypePackedByteArray:
		out.Bytes = vm.PackedOf[byte](v).Slice()
	case vm.TypePackedInt32Array:
		out.Ints = widen[int32, int64](vm.PackedOf[int32](v).Slice())
	case vm.TypePackedInt64Array:
		out.Ints = vm.PackedOf[int64](v).Slice()
	case vm.TypePackedFloat32Array:
		out.Floats = widen[float32, float64](vm.PackedOf[float32](v).Slice())
	case vm.TypePackedFloat64Array:
		out.Floats = vm.PackedOf[float64](v).Slice()
	case vm.TypePackedStringArray:
		out.Strs = vm.PackedOf[string](v).Slice()
	default:
		return out, fmt.Errorf("cannot encode a value of type %s", v.Type())
	}
	return out, nil
}

func widen[S, D int32 | int64 | float32 | float64](xs []S) []D {
	out := make([]D, len(xs))
	for i, x := range xs {
		out[i] = D(x)
	}
	return out
}

func (e *encoder) function(f *vm.Function) (Function, error) {
	fi := Function{
		Name:        f.Name,
		Source:      f.Source,
		Code:        f.Code,
		Names:       f.Names,
		ArgNames:    f.ArgNames,
		DefaultArgs: f.DefaultArgs,
		StackSize:   f.StackSize,
		Variadic:    f.Variadic,
		Static:      f.Static,
	}
	var err error
	if fi.Constants, err = e.values(f.Constants); err != nil {
		return fi, err
	}
	for _, t := range f.ArgTypes {
		it, err := e.typ(t)
		if err != nil {
			return fi, err
		}
		fi.ArgTypes = append(fi.ArgTypes, it)
	}
	if fi.Return, err = e.typ(f.ReturnType); err != nil {
		return fi, err
	}
	for _, mb := range f.Methods {
		fi.Methods = append(fi.Methods, Ref{Class: mb.Class, Name: mb.Name})
	}
	for _, u := range f.Utilities {
		fi.Utilities = append(fi.Utilities, u.Name)
	}
	for _, vo := range f.Operators {
		fi.Operators = append(fi.Operators, OpRef{Op: uint8(vo.Op), Types: []uint8{uint8(vo.Left), uint8(vo.Right)}})
	}
	for _, acc := range f.Accessors {
		fi.Accessors = append(fi.Accessors, Ref{Base: uint8(acc.Base), Name: acc.Name})
	}
	for _, c := range f.Constructors {
		ref := OpRef{Base: uint8(c.Type)}
		for _, t := range c.ArgTypes {
			ref.Types = append(ref.Types, uint8(t))
		}
		fi.Constructors = append(fi.Constructors, ref)
	}
	for _, m := range f.BuiltinMethods {
		fi.BuiltinMethods = append(fi.BuiltinMethods, Ref{Base: uint8(m.Type), Name: m.Name})
	}
	for _, t := range f.TypeInfos {
		it, err := e.typ(t)
		if err != nil {
			return fi, err
		}
		fi.TypeInfos = append(fi.TypeInfos, it)
	}
	for _, l := range f.Lambdas {
		li, err := e.function(l)
		if err != nil {
			return fi, fmt.Errorf("lambda %s: %w", l.Name, err)
		}
		fi.Lambdas = append(fi.Lambdas, li)
	}
	return fi, nil
}
