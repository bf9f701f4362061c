package vm

import (
	"fmt"
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// DebugHooks: what the dispatch loop consults
// ---------------------------------------------------------------------------

// DebugHooks is the debugger surface polled by the interpreter. LinesLeft is
// a step counter decremented on LINE instructions while StepDepth is not
// positive; reaching zero breaks. StepDepth is adjusted on function entry
// and exit while a step is pending so stepping over a call skips its lines.
type DebugHooks interface {
	LinesLeft() int
	SetLinesLeft(n int)
	StepDepth() int
	SetStepDepth(n int)
	IsBreakpoint(node int, source string) bool
	Break(in *Interpreter, reason string, canContinue bool)
}

// ---------------------------------------------------------------------------
// Debugger: breakpoints, stepping and events
// ---------------------------------------------------------------------------

// Debugger is the standard DebugHooks implementation. Breaks are reported
// as events; when Blocking is set, a continuable break waits for Continue.
type Debugger struct {
	mu          sync.Mutex
	breakpoints map[breakpointKey]bool
	linesLeft   int
	depth       int
	paused      bool

	Blocking   bool
	resumeChan chan struct{}
	eventChan  chan DebugEvent
}

// breakpointKey uniquely identifies a breakpoint location.
type breakpointKey struct {
	source string
	node   int
}

// DebugEvent is sent to clients on every break.
type DebugEvent struct {
	Reason      string
	CanContinue bool
	Stack       []StackFrame
}

// StackFrame represents a single frame in the call stack.
type StackFrame struct {
	Function string
	Source   string
	Node     int
	IP       int
}

// Variable represents a frame slot for inspection.
type Variable struct {
	Name  string
	Value string
	Type  string
}

// Breakpoint represents a breakpoint for external clients.
type Breakpoint struct {
	Source string
	Node   int
	Active bool
}

// NewDebugger creates a debugger with no breakpoints.
func NewDebugger() *Debugger {
	return &Debugger{
		breakpoints: make(map[breakpointKey]bool),
		resumeChan:  make(chan struct{}, 1),
		eventChan:   make(chan DebugEvent, 16),
	}
}

// Events returns the event channel. Events are dropped when it is full.
func (d *Debugger) Events() <-chan DebugEvent {
	return d.eventChan
}

// SetBreakpoint sets an active breakpoint on a debug node of source.
func (d *Debugger) SetBreakpoint(source string, node int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breakpoints[breakpointKey{source, node}] = true
}

// RemoveBreakpoint removes a breakpoint.
func (d *Debugger) RemoveBreakpoint(source string, node int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := breakpointKey{source, node}
	if _, ok := d.breakpoints[key]; !ok {
		return fmt.Errorf("no breakpoint at %s node %d", source, node)
	}
	delete(d.breakpoints, key)
	return nil
}

// EnableBreakpoint toggles a breakpoint without removing it.
func (d *Debugger) EnableBreakpoint(source string, node int, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := breakpointKey{source, node}
	if _, ok := d.breakpoints[key]; !ok {
		return fmt.Errorf("no breakpoint at %s node %d", source, node)
	}
	d.breakpoints[key] = active
	return nil
}

// ListBreakpoints returns all breakpoints ordered by source and node.
func (d *Debugger) ListBreakpoints() []Breakpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Breakpoint, 0, len(d.breakpoints))
	for k, active := range d.breakpoints {
		out = append(out, Breakpoint{Source: k.source, Node: k.node, Active: active})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Node < out[j].Node
	})
	return out
}

// ClearBreakpoints removes all breakpoints.
func (d *Debugger) ClearBreakpoints() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.breakpoints)
}

// IsBreakpoint implements DebugHooks.
func (d *Debugger) IsBreakpoint(node int, source string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.breakpoints[breakpointKey{source, node}]
}

// LinesLeft implements DebugHooks.
func (d *Debugger) LinesLeft() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.linesLeft
}

// SetLinesLeft implements DebugHooks.
func (d *Debugger) SetLinesLeft(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.linesLeft = n
}

// StepDepth implements DebugHooks.
func (d *Debugger) StepDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.depth
}

// SetStepDepth implements DebugHooks.
func (d *Debugger) SetStepDepth(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.depth = n
}

// StepInto breaks on the next line executed anywhere.
func (d *Debugger) StepInto() {
	d.step(1, -1)
}

// StepOver breaks on the next line of the current function or its callers.
func (d *Debugger) StepOver() {
	d.step(1, 0)
}

func (d *Debugger) step(lines, depth int) {
	d.mu.Lock()
	d.linesLeft = lines
	d.depth = depth
	d.mu.Unlock()
	d.Continue()
}

// Continue resumes a blocked break.
func (d *Debugger) Continue() {
	select {
	case d.resumeChan <- struct{}{}:
	default:
	}
}

// IsPaused reports whether a blocking break is in progress.
func (d *Debugger) IsPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// Break implements DebugHooks.
func (d *Debugger) Break(in *Interpreter, reason string, canContinue bool) {
	ev := DebugEvent{Reason: reason, CanContinue: canContinue, Stack: in.Backtrace()}
	select {
	case d.eventChan <- ev:
	default:
	}
	if !d.Blocking || !canContinue {
		return
	}
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
	<-d.resumeChan
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
}

// Variables returns the named slots of frame level (0 = innermost):
// arguments, then self.
func (d *Debugger) Variables(in *Interpreter, level int) []Variable {
	fr := in.frameAt(level)
	if fr == nil {
		return nil
	}
	var vars []Variable
	for i, name := range fr.fn.ArgNames {
		if FixedSlots+i >= len(fr.stack) {
			break
		}
		v := fr.stack[FixedSlots+i]
		vars = append(vars, Variable{Name: name, Value: v.String(), Type: v.Type().String()})
	}
	if fr.self != nil {
		for i, name := range fr.self.script.members {
			v := fr.self.members[i]
			vars = append(vars, Variable{Name: "self." + name, Value: v.String(), Type: v.Type().String()})
		}
	}
	return vars
}
