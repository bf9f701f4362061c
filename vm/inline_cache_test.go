package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// buildBinary builds f(a, b) = a op b with the OPERATOR instruction at ip 0.
func buildBinary(t *testing.T, op Operator) *Function {
	t.Helper()
	b := NewFunctionBuilder("op_" + op.String())
	x, y := b.Arg("a", AnyType), b.Arg("b", AnyType)
	r := b.Local()
	b.Operator(op, r, x, y)
	b.Return(r)
	fn, err := b.Build()
	require.NoError(t, err)
	return fn
}

func TestInlineCacheEmpty(t *testing.T) {
	fn := buildBinary(t, OpAdd)
	ic := fn.Caches().Get(0)
	require.NotNil(t, ic)
	require.Equal(t, CacheEmpty, ic.State())
	require.Nil(t, ic.Entry())
	require.Zero(t, ic.HitRate())
	require.Nil(t, fn.Caches().Get(1))
}

func TestInlineCacheMonomorphic(t *testing.T) {
	machine, _ := newTestVM(t)
	fn := buildBinary(t, OpAdd)
	in := machine.NewInterpreter()

	for i := range 5 {
		r, err := in.Call(fn, nil, []Value{Int(int64(i)), Int(10)})
		require.NoError(t, err)
		require.Equal(t, int64(i+10), r.AsInt())
	}
	ic := fn.Caches().Get(0)
	require.Equal(t, CacheMonomorphic, ic.State())
	require.Equal(t, TypeInt, ic.Entry().Return)
	require.Equal(t, uint64(1), ic.Misses())
	require.Equal(t, uint64(4), ic.Hits())
	require.InDelta(t, 80.0, ic.HitRate(), 0.001)
}

func TestInlineCacheSignatureMismatch(t *testing.T) {
	machine, _ := newTestVM(t)
	fn := buildBinary(t, OpAdd)
	in := machine.NewInterpreter()

	r, err := in.Call(fn, nil, []Value{Int(1), Int(2)})
	require.NoError(t, err)
	require.Equal(t, int64(3), r.AsInt())

	// Float operands miss the int entry and take the checked path; the
	// published entry is never replaced.
	r, err = in.Call(fn, nil, []Value{Float(1.5), Float(2)})
	require.NoError(t, err)
	require.Equal(t, TypeFloat, r.Type())
	require.Equal(t, 3.5, r.AsFloat())

	r, err = in.Call(fn, nil, []Value{String("a"), String("b")})
	require.NoError(t, err)
	require.Equal(t, "ab", r.AsString())

	ic := fn.Caches().Get(0)
	require.Equal(t, CacheMonomorphic, ic.State())
	require.Equal(t, operatorSignature(TypeInt, TypeInt), ic.Entry().Signature)
	require.Equal(t, uint64(3), ic.Misses())
}

func TestInlineCacheExclusions(t *testing.T) {
	excluded := []Operator{OpDivide, OpModule, OpPower, OpShiftLeft, OpShiftRight}
	for _, op := range excluded {
		require.False(t, op.Cacheable(), op.String())
	}
	require.True(t, OpAdd.Cacheable())
	require.False(t, OperatorMax.Cacheable())

	machine, _ := newTestVM(t)
	in := machine.NewInterpreter()
	for _, op := range excluded {
		fn := buildBinary(t, op)
		for range 3 {
			_, err := in.Call(fn, nil, []Value{Int(8), Int(2)})
			require.NoError(t, err)
		}
		ic := fn.Caches().Get(0)
		require.Equal(t, CachePoisoned, ic.State(), op.String())
		require.Zero(t, ic.Hits())

		stats := fn.Caches().Stats()
		require.Equal(t, 1, stats.TotalCallSites)
		require.Equal(t, 1, stats.Poisoned)
	}
}

func TestInlineCacheUnsupportedPairPoisons(t *testing.T) {
	machine, _ := newTestVM(t)
	fn := buildBinary(t, OpEqual)
	in := machine.NewInterpreter()

	// int == string has no validated evaluator; equality still answers.
	r, err := in.Call(fn, nil, []Value{Int(1), String("1")})
	require.NoError(t, err)
	require.False(t, r.AsBool())
	require.Equal(t, CachePoisoned, fn.Caches().Get(0).State())

	r, err = in.Call(fn, nil, []Value{Int(1), Int(1)})
	require.NoError(t, err)
	require.True(t, r.AsBool())
}

// Every validated evaluator must agree with the checked path.
func TestValidatedEvaluatorParity(t *testing.T) {
	samples := map[Type][]Value{
		TypeBool:     {Bool(true), Bool(false)},
		TypeInt:      {Int(0), Int(3), Int(-7)},
		TypeFloat:    {Float(0), Float(2.5), Float(-1.25)},
		TypeString:   {String(""), String("ab")},
		TypeVector2:  {Vec2(1, 2), Vec2(0, -3)},
		TypeVector2i: {Vec2i(1, 2), Vec2i(4, -3)},
		TypeVector3:  {Vec3(1, 2, 3)},
		TypeVector3i: {Vec3i(1, 2, 3)},
	}
	checked := 0
	for op := Operator(0); op < OperatorMax; op++ {
		if !op.Cacheable() {
			continue
		}
		for lt, lvals := range samples {
			rtypes := samples
			if op.IsUnary() {
				rtypes = map[Type][]Value{TypeNil: {Nil}}
			}
			for rt, rvals := range rtypes {
				vo := LookupOperator(op, lt, rt)
				if vo == nil {
					continue
				}
				for _, a := range lvals {
					for _, b := range rvals {
						want, err := Evaluate(op, a, b)
						require.NoError(t, err)
						got := vo.Eval(a, b)
						require.Equal(t, vo.Return, got.Type(), "%s %s %s", lt, op, rt)
						require.True(t, Equal(want, got), "%s %s %s: %v != %v", a.Repr(), op, b.Repr(), want, got)
						checked++
					}
				}
			}
		}
	}
	require.Greater(t, checked, 100)
}

func TestInlineCacheConcurrentPopulation(t *testing.T) {
	machine, _ := newTestVM(t)
	fn := buildBinary(t, OpMultiply)

	const workers, calls = 8, 200
	var g errgroup.Group
	for w := range workers {
		g.Go(func() error {
			in := machine.NewInterpreter()
			for i := range calls {
				r, err := in.Call(fn, nil, []Value{Int(int64(w)), Int(int64(i))})
				if err != nil {
					return err
				}
				if r.AsInt() != int64(w*i) {
					t.Errorf("worker %d call %d: got %d", w, i, r.AsInt())
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	ic := fn.Caches().Get(0)
	require.Equal(t, CacheMonomorphic, ic.State())
	require.Equal(t, uint64(workers*calls), ic.Hits()+ic.Misses())

	stats := fn.Caches().Stats()
	require.Equal(t, 1, stats.Monomorphic)
	require.Equal(t, uint64(workers*calls), stats.TotalHits+stats.TotalMisses)
}
