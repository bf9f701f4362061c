package vm

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// VM: shared state of all interpreters
// ---------------------------------------------------------------------------

// DefaultMaxCallDepth bounds script recursion per interpreter.
const DefaultMaxCallDepth = 1024

// DefaultArenaSize is the number of Value slots preallocated per
// interpreter for call frames.
const DefaultArenaSize = 4096

// Options configures a VM.
type Options struct {
	MaxCallDepth int
	ArenaSize    int
	Debug        bool // record LastOpcode on every dispatch
	Profile      bool
}

// DefaultOptions returns the options used by New when none are given.
func DefaultOptions() Options {
	return Options{MaxCallDepth: DefaultMaxCallDepth, ArenaSize: DefaultArenaSize}
}

// VM holds the state shared by interpreters: host class table, globals,
// utility functions, the continuation registry and optional debug and
// profiling hooks.
type VM struct {
	ClassDB ClassDB

	// Globals are addressed by index from STORE_GLOBAL.
	Globals []Value

	mu           sync.RWMutex
	namedGlobals map[string]Value
	utilities    map[string]*Utility

	registry *Registry
	profiler *Profiler
	Debugger DebugHooks

	// Output receives print(). Defaults to stdout.
	Output io.Writer

	opts Options
	log  commonlog.Logger
}

// New creates a VM.
func New(opts Options) *VM {
	if opts.MaxCallDepth <= 0 {
		opts.MaxCallDepth = DefaultMaxCallDepth
	}
	if opts.ArenaSize < 0 {
		opts.ArenaSize = 0
	}
	vm := &VM{
		namedGlobals: make(map[string]Value),
		utilities:    make(map[string]*Utility),
		registry:     NewRegistry(),
		opts:         opts,
		log:          commonlog.GetLogger("graphvm.vm"),
		Output:       os.Stdout,
	}
	if opts.Profile {
		vm.profiler = NewProfiler()
	}
	registerCoreUtilities(vm)
	return vm
}

// Options returns the VM's options.
func (vm *VM) Options() Options { return vm.opts }

// Registry returns the continuation registry.
func (vm *VM) Registry() *Registry { return vm.registry }

// Profiler returns the profiler, or nil when profiling is disabled.
func (vm *VM) Profiler() *Profiler { return vm.profiler }

// Logger returns the VM's diagnostic logger.
func (vm *VM) Logger() commonlog.Logger { return vm.log }

// RegisterUtility makes a utility function callable by name.
func (vm *VM) RegisterUtility(u *Utility) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.utilities[u.Name] = u
}

// Utility looks up a utility function.
func (vm *VM) Utility(name string) *Utility {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.utilities[name]
}

// Print writes one line to the VM's output.
func (vm *VM) Print(s string) {
	if vm.Output != nil {
		fmt.Fprintln(vm.Output, s)
	}
}

// SetNamedGlobal sets a named global.
func (vm *VM) SetNamedGlobal(name string, v Value) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.namedGlobals[name] = v
}

// NamedGlobal returns a named global.
func (vm *VM) NamedGlobal(name string) (Value, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	v, ok := vm.namedGlobals[name]
	return v, ok
}

// NewInterpreter creates an interpreter bound to vm. Interpreters are not
// safe for concurrent use; create one per goroutine.
func (vm *VM) NewInterpreter() *Interpreter {
	return &Interpreter{
		vm:       vm,
		MaxDepth: vm.opts.MaxCallDepth,
		arena:    newFrameArena(vm.opts.ArenaSize),
	}
}

// NewInterpreter creates an interpreter for v, or for a fresh VM with
// default options when v is nil.
func NewInterpreter(v *VM) *Interpreter {
	if v == nil {
		v = New(DefaultOptions())
	}
	return v.NewInterpreter()
}
