// graphvm CLI - runs and inspects compiled program images
package main

import (
	"fmt"
	"os"

	"github.com/chazu/graphvm/config"
	"github.com/spf13/cobra"
)

var version = "dev"

type options struct {
	configDir string
	verbosity int
	function  string
	script    string
	output    string
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "graphvm",
		Short:         "Run and inspect compiled graphvm program images",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configDir, "config", "c", ".", "directory to search upward for graphvm.toml")
	root.PersistentFlags().CountVarP(&opts.verbosity, "verbose", "v", "increase log verbosity (repeatable)")

	root.AddCommand(newRunCommand(opts), newDisasmCommand(opts), newExampleCommand(opts), newVersionCommand())
	return root
}

// loadConfig finds graphvm.toml and configures logging. Command-line
// verbosity adds to the configured level.
func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.FindAndLoad(o.configDir)
	if err != nil {
		return nil, err
	}
	cfg.Log.Verbosity += o.verbosity
	cfg.Apply()
	return cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "graphvm %s\n", version)
		},
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
