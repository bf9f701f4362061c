package main

import (
	"fmt"

	"github.com/chazu/graphvm/vm"
	"github.com/spf13/cobra"
)

func newDisasmCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "disasm IMAGE",
		Short: "Print the bytecode of every function in an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			machine := vm.New(cfg.VMOptions())
			scripts, funcs, err := loadImage(machine, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range scripts {
				fmt.Fprintf(out, "script %s", s.Name)
				if s.Base != nil {
					fmt.Fprintf(out, " extends %s", s.Base.Name)
				}
				fmt.Fprintln(out)
				for _, f := range s.Functions() {
					fmt.Fprintln(out, f.Disassemble())
				}
			}
			for _, f := range funcs {
				fmt.Fprintln(out, f.Disassemble())
			}
			return nil
		},
	}
}
