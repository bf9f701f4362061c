package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/chazu/graphvm/vm"
	"github.com/stretchr/testify/require"
)

var intType = vm.BuiltinType(vm.TypeInt)

// buildProgram builds a base script, a derived script with constants and a
// free function that prints through the print utility.
func buildProgram(t *testing.T, machine *vm.VM) ([]*vm.Script, []*vm.Function) {
	t.Helper()

	base := machine.NewScript("Base", nil)
	hp := base.AddMember("hp", intType)
	hb := vm.NewFunctionBuilder("heal").Source("Base").Returns(intType)
	amount := hb.Arg("amount", intType)
	hb.Operator(vm.OpAdd, hb.Member(hp), hb.Member(hp), amount)
	hb.Return(hb.Member(hp))
	base.AddFunction(hb.MustBuild())

	derived := machine.NewScript("Derived", base)
	derived.AddMember("target", vm.ScriptType(base))
	derived.AddStatic("spawned", vm.Int(3))
	tags, err := vm.NewTypedArray(intType, vm.Int(1), vm.Int(2))
	require.NoError(t, err)
	tags.MakeReadOnly()
	derived.Constants["TAGS"] = vm.ArrayValue(tags)
	derived.Constants["ORIGIN"] = vm.Vec3i(1, 2, 3)
	derived.Constants["BASE"] = vm.ObjectValue(base)

	lookup := vm.NewMap()
	require.NoError(t, lookup.Set(vm.String("a"), vm.Float(1.5)))
	pb := vm.NewFunctionBuilder("greet").Source("main")
	name := pb.Arg("name", vm.BuiltinType(vm.TypeString))
	msg := pb.Local()
	pb.Assign(msg, pb.Const(vm.String("hi ")))
	pb.Operator(vm.OpAdd, msg, msg, name)
	pb.CallUtility(vm.NilAddr, "print", msg)
	pb.Return(pb.Const(vm.MapValue(lookup)))
	greet := pb.MustBuild()

	return []*vm.Script{derived}, []*vm.Function{greet}
}

func TestRoundTrip(t *testing.T) {
	scripts, funcs := buildProgram(t, vm.New(vm.DefaultOptions()))
	data, err := EncodeBytes(scripts, funcs...)
	require.NoError(t, err)

	again, err := EncodeBytes(scripts, funcs...)
	require.NoError(t, err)
	require.Equal(t, data, again, "canonical encoding is deterministic")

	machine := vm.New(vm.DefaultOptions())
	var out bytes.Buffer
	machine.Output = &out
	loaded, lfuncs, err := LoadBytes(machine, data)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Len(t, lfuncs, 1)

	base, derived := loaded[0], loaded[1]
	require.Equal(t, "Base", base.Name)
	require.Equal(t, "Derived", derived.Name)
	require.True(t, derived.InheritsFrom(base))
	require.Equal(t, []string{"hp", "target"}, derived.MemberNames())
	require.Same(t, base, derived.MemberType(1).Script)
	require.Equal(t, int64(3), derived.Static(0).AsInt())

	tags := derived.Constants["TAGS"].AsArray()
	require.True(t, tags.ReadOnly())
	require.True(t, tags.IsTyped())
	require.Equal(t, []vm.Value{vm.Int(1), vm.Int(2)}, tags.Elems())
	require.Equal(t, vm.Vec3i(1, 2, 3), derived.Constants["ORIGIN"])
	require.Same(t, base, derived.Constants["BASE"].AsObject())

	in := machine.NewInterpreter()
	inst := derived.Instantiate(nil)
	r, err := inst.CallMethod(in, "heal", []vm.Value{vm.Int(4)})
	require.NoError(t, err)
	require.Equal(t, int64(4), r.AsInt())

	r, err = in.Call(lfuncs[0], nil, []vm.Value{vm.String("ann")})
	require.NoError(t, err)
	require.Equal(t, "hi ann\n", out.String())
	v, ok := r.AsMap().Get(vm.String("a"))
	require.True(t, ok)
	require.Equal(t, 1.5, v.AsFloat())
}

func TestLoadUnresolvedBinding(t *testing.T) {
	scripts, funcs := buildProgram(t, vm.New(vm.DefaultOptions()))
	img, err := Encode(scripts, funcs...)
	require.NoError(t, err)

	img.Functions[0].Utilities = append(img.Functions[0].Utilities, "nope")
	_, _, err = Load(vm.New(vm.DefaultOptions()), img)
	require.True(t, errors.Is(err, ErrUnresolved))
	require.ErrorContains(t, err, "utility nope")

	img.Functions[0].Utilities = nil
	img.Functions[0].Methods = []Ref{{Class: "Node", Name: "get_name"}}
	_, _, err = Load(vm.New(vm.DefaultOptions()), img)
	require.True(t, errors.Is(err, ErrUnresolved))
}

func TestLoadRejectsUncachedValidatedOperator(t *testing.T) {
	scripts, funcs := buildProgram(t, vm.New(vm.DefaultOptions()))
	img, err := Encode(scripts, funcs...)
	require.NoError(t, err)

	ints := []uint8{uint8(vm.TypeInt), uint8(vm.TypeInt)}
	img.Functions[0].Operators = []OpRef{{Op: uint8(vm.OpModule), Types: ints}}
	_, _, err = Load(vm.New(vm.DefaultOptions()), img)
	require.ErrorContains(t, err, "operator % has no validated form")

	img.Functions[0].Operators = []OpRef{{Op: uint8(vm.OpAdd), Types: ints}}
	_, _, err = Load(vm.New(vm.DefaultOptions()), img)
	require.NoError(t, err)
}

func TestLoadRejectsBadImages(t *testing.T) {
	data, err := Marshal(&Image{Version: Version + 1})
	require.NoError(t, err)
	_, err = Unmarshal(data)
	require.ErrorContains(t, err, "unsupported image version")

	_, err = Unmarshal([]byte{0xff, 0x00})
	require.Error(t, err)

	img := &Image{Version: Version, Scripts: []Script{{Name: "Orphan", Base: 1}}}
	_, _, err = Load(vm.New(vm.DefaultOptions()), img)
	require.ErrorContains(t, err, "does not precede it")

	img = &Image{Version: Version, Functions: []Function{{Name: "bad", Code: []int32{9999}, StackSize: 4}}}
	_, _, err = Load(vm.New(vm.DefaultOptions()), img)
	require.Error(t, err)
}

func TestEncodeRejectsHostObjects(t *testing.T) {
	machine := vm.New(vm.DefaultOptions())
	s := machine.NewScript("Holder", nil)
	s.Constants["INST"] = vm.ObjectValue(s.Instantiate(nil))
	_, err := Encode([]*vm.Script{s})
	require.ErrorContains(t, err, "cannot encode object")
}
