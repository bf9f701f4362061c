package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/chazu/graphvm/vm"
	"github.com/chazu/graphvm/vm/wire"
	"github.com/spf13/cobra"
)

func newRunCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run IMAGE [ARGS...]",
		Short: "Load an image and call a function",
		Long: `Load a program image and call one of its functions.

Arguments are parsed as int, float or bool literals and otherwise passed as
strings. With --script the function is looked up on that script and called on
a fresh instance; otherwise it is a free function of the image.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			machine := vm.New(cfg.VMOptions())
			machine.Output = cmd.OutOrStdout()
			scripts, funcs, err := loadImage(machine, args[0])
			if err != nil {
				return err
			}
			fn, self, err := pickFunction(machine, scripts, funcs, opts)
			if err != nil {
				return err
			}

			callArgs := make([]vm.Value, 0, len(args)-1)
			for _, a := range args[1:] {
				callArgs = append(callArgs, parseLiteral(a))
			}
			in := machine.NewInterpreter()
			result, err := in.Call(fn, self, callArgs)
			if err != nil {
				return describeError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Repr())
			if p := machine.Profiler(); p != nil {
				printProfile(cmd, p)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.function, "func", "f", "main", "function to call")
	cmd.Flags().StringVarP(&opts.script, "script", "s", "", "script declaring the function")
	return cmd
}

func loadImage(machine *vm.VM, path string) ([]*vm.Script, []*vm.Function, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return wire.LoadBytes(machine, data)
}

func pickFunction(machine *vm.VM, scripts []*vm.Script, funcs []*vm.Function, opts *options) (*vm.Function, *vm.Instance, error) {
	if opts.script == "" {
		for _, f := range funcs {
			if f.Name == opts.function {
				return f, nil, nil
			}
		}
		return nil, nil, fmt.Errorf("no free function %q in image", opts.function)
	}
	for _, s := range scripts {
		if s.Name != opts.script {
			continue
		}
		f := s.Function(opts.function)
		if f == nil {
			return nil, nil, fmt.Errorf("script %s has no function %q", s.Name, opts.function)
		}
		if f.Static {
			return f, nil, nil
		}
		inst, err := s.New(machine.NewInterpreter(), nil)
		if err != nil {
			return nil, nil, describeError(err)
		}
		return f, inst, nil
	}
	return nil, nil, fmt.Errorf("no script %q in image", opts.script)
}

func parseLiteral(s string) vm.Value {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return vm.Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return vm.Float(f)
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return vm.Bool(b)
	}
	return vm.String(s)
}

func describeError(err error) error {
	var rerr *vm.RuntimeError
	if errors.As(err, &rerr) {
		return fmt.Errorf("%s error: %w", rerr.Class, err)
	}
	var cerr *vm.CallError
	if errors.As(err, &cerr) {
		return fmt.Errorf("call failed: %w", err)
	}
	return err
}

func printProfile(cmd *cobra.Command, p *vm.Profiler) {
	w := cmd.ErrOrStderr()
	fmt.Fprintln(w, "profile:")
	for _, fp := range p.TopFunctions(10) {
		fmt.Fprintf(w, "  %-24s calls=%d self=%s total=%s\n", fp.Function.Name, fp.CallCount.Load(), time.Duration(fp.SelfTime.Load()), time.Duration(fp.TotalTime.Load()))
	}
}
