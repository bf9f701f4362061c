package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClasses() *ClassRegistry {
	db := NewClassRegistry()
	node := db.Register("Node", "")
	node.AddProperty("name", String(""), false)
	node.AddProperty("kind", String("node"), true)
	node.AddSignal("ready")
	node.AddMethod(&MethodBind{
		Name: "get_name", Const: true, ReturnType: TypeString, HasReturn: true,
		Validated: func(self Object, _ []Value) Value {
			v, _ := self.(PropertyAccessor).GetProperty("name")
			return v
		},
	})
	node.AddMethod(&MethodBind{
		Name: "rename", ArgTypes: []Type{TypeString},
		Func: func(_ *Interpreter, self Object, args []Value) (Value, error) {
			return Nil, self.(PropertyAccessor).SetProperty("name", args[0])
		},
	})
	sprite := db.Register("Sprite", "Node")
	sprite.AddProperty("frame", Int(0), false)
	return db
}

func TestClassRegistry(t *testing.T) {
	db := newTestClasses()

	require.Equal(t, []string{"Node", "Object", "Sprite"}, db.ClassNames())
	require.True(t, db.ClassExists("Sprite"))
	require.True(t, db.IsParentClass("Sprite", "Object"))
	require.True(t, db.IsParentClass("Sprite", "Sprite"))
	require.False(t, db.IsParentClass("Node", "Sprite"))

	mb := db.Method("Sprite", "get_name")
	require.NotNil(t, mb)
	require.Equal(t, "Node", mb.Class)
	require.Nil(t, db.Method("Sprite", "nope"))

	_, err := db.Instantiate("Missing")
	require.Error(t, err)
}

func TestNativeObject(t *testing.T) {
	db := newTestClasses()
	machine, _ := newTestVM(t)
	machine.ClassDB = db
	in := machine.NewInterpreter()

	obj, err := db.Instantiate("Sprite")
	require.NoError(t, err)
	require.True(t, obj.IsClass("Node"))
	require.NotNil(t, obj.Signal("ready"))

	_, err = obj.CallMethod(in, "rename", []Value{String("hero")})
	require.NoError(t, err)
	r, err := in.CallValue(ObjectValue(obj), "get_name")
	require.NoError(t, err)
	require.Equal(t, "hero", r.AsString())

	require.ErrorIs(t, obj.SetProperty("kind", String("x")), ErrReadOnly)
	require.ErrorIs(t, obj.SetProperty("ready", Nil), ErrReadOnly)
	require.ErrorIs(t, obj.SetProperty("missing", Nil), ErrInvalidAccess)

	// Read-only objects only accept const methods.
	obj.SetReadOnly(true)
	_, err = obj.CallMethod(in, "rename", []Value{String("x")})
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, CallMethodNotConst, ce.Kind)
	_, err = obj.CallMethod(in, "get_name", nil)
	require.NoError(t, err)

	r, err = in.CallValue(ObjectValue(obj), "is_class", String("Node"))
	require.NoError(t, err)
	require.True(t, r.AsBool())

	// Every object owns its signals.
	other, err := db.Instantiate("Sprite")
	require.NoError(t, err)
	require.NotSame(t, obj.Signal("ready"), other.Signal("ready"))
}

func TestMethodBindFromBytecode(t *testing.T) {
	db := newTestClasses()
	machine, _ := newTestVM(t)
	machine.ClassDB = db

	// relabel(node, name): node.rename(name); return node.name
	b := NewFunctionBuilder("relabel")
	node, name := b.Arg("node", NativeType("Node")), b.Arg("name", AnyType)
	r := b.Local()
	b.EmitVariadic(OpCallMethodBind, []int32{node}, []int32{name}, b.MethodBind(db.Method("Node", "rename")))
	b.Emit(OpGetNamed, node, r, b.Name("name"))
	b.Return(r)
	fn := b.MustBuild()
	in := machine.NewInterpreter()

	obj, err := db.Instantiate("Sprite")
	require.NoError(t, err)
	v, err := in.Call(fn, nil, []Value{ObjectValue(obj), String("bolt")})
	require.NoError(t, err)
	require.Equal(t, "bolt", v.AsString())

	// Conversion fails for the bind's String parameter.
	_, err = in.Call(fn, nil, []Value{ObjectValue(obj), Vec2(1, 1)})
	requireRuntimeError(t, err, ErrInvalidCall, ClassType)

	obj.Free()
	_, err = in.Call(fn, nil, []Value{ObjectValue(obj), String("x")})
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, CallInvalidArgument, ce.Kind)

	plain, err := db.Instantiate("Object")
	require.NoError(t, err)
	_, err = in.Call(fn, nil, []Value{ObjectValue(plain), String("x")})
	require.ErrorAs(t, err, &ce)
	require.Equal(t, CallInvalidArgument, ce.Kind)
}

func TestTypeExistsWithClassDB(t *testing.T) {
	machine, _ := newTestVM(t)
	machine.ClassDB = newTestClasses()

	r, err := callScriptUtility(t, machine, "type_exists", String("Sprite"))
	require.NoError(t, err)
	require.True(t, r.AsBool())

	obj, err := machine.ClassDB.(*ClassRegistry).Instantiate("Sprite")
	require.NoError(t, err)
	r, err = callScriptUtility(t, machine, "is_instance_of", ObjectValue(obj), String("Node"))
	require.NoError(t, err)
	require.True(t, r.AsBool())
}
