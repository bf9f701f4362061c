package main

import (
	"fmt"
	"os"

	"github.com/chazu/graphvm/vm"
	"github.com/chazu/graphvm/vm/wire"
	"github.com/spf13/cobra"
)

func newExampleCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "example",
		Short: "Write a sample program image",
		Long: `Write a program image exercising defaults, loops and script members.

Free functions: sum(a = 0, b = 0), total(n) and greet(name).
Script Counter: increment(by = 1) and main(), which increments three times.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			machine := vm.New(vm.DefaultOptions())
			scripts, funcs, err := buildExample(machine)
			if err != nil {
				return err
			}
			data, err := wire.EncodeBytes(scripts, funcs...)
			if err != nil {
				return err
			}
			if err := os.WriteFile(opts.output, data, 0o644); err != nil {
				return fmt.Errorf("cannot write %s: %w", opts.output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", opts.output, len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "example.gvm", "image file to write")
	return cmd
}

func buildExample(machine *vm.VM) ([]*vm.Script, []*vm.Function, error) {
	intType := vm.BuiltinType(vm.TypeInt)

	// sum(a = 0, b = 0) -> int
	sb := vm.NewFunctionBuilder("sum").Source("example").Returns(intType)
	a, b := sb.Arg("a", intType), sb.Arg("b", intType)
	r := sb.Local()
	sb.Entry(2)
	sb.Assign(a, sb.Const(vm.Int(0)))
	sb.Entry(1)
	sb.Assign(b, sb.Const(vm.Int(0)))
	sb.Entry(0)
	sb.Line(1)
	sb.Operator(vm.OpAdd, r, a, b)
	sb.Return(r)
	sum, err := sb.Build()
	if err != nil {
		return nil, nil, err
	}

	// total(n): sum of range(n)
	tb := vm.NewFunctionBuilder("total").Source("example")
	n := tb.Arg("n", intType)
	acc, i := tb.Local(), tb.Local()
	tb.Assign(acc, tb.Const(vm.Int(0)))
	tb.ForRange(tb.Const(vm.Int(0)), n, tb.Const(vm.Int(1)), i, func() {
		tb.Operator(vm.OpAdd, acc, acc, i)
	})
	tb.Return(acc)
	total, err := tb.Build()
	if err != nil {
		return nil, nil, err
	}

	// greet(name): print("hello, ", name)
	gb := vm.NewFunctionBuilder("greet").Source("example")
	name := gb.Arg("name", vm.AnyType)
	gb.CallUtility(vm.NilAddr, "print", gb.Const(vm.String("hello, ")), name)
	greet, err := gb.Build()
	if err != nil {
		return nil, nil, err
	}

	counter := machine.NewScript("Counter", nil)
	count := counter.AddMember("count", intType)

	ib := vm.NewFunctionBuilder("increment").Source("Counter").Returns(intType)
	by := ib.Arg("by", intType)
	ib.Entry(1)
	ib.Assign(by, ib.Const(vm.Int(1)))
	ib.Entry(0)
	ib.Operator(vm.OpAdd, ib.Member(count), ib.Member(count), by)
	ib.Return(ib.Member(count))
	increment, err := ib.Build()
	if err != nil {
		return nil, nil, err
	}
	counter.AddFunction(increment)

	mb := vm.NewFunctionBuilder("main").Source("Counter")
	res := mb.Local()
	for range 3 {
		mb.CallMethod(res, vm.SelfAddr, "increment")
	}
	mb.Return(res)
	main, err := mb.Build()
	if err != nil {
		return nil, nil, err
	}
	counter.AddFunction(main)

	return []*vm.Script{counter}, []*vm.Function{sum, total, greet}, nil
}
