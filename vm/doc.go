// Package vm implements the graphvm bytecode interpreter.
//
// This package contains:
//   - the tagged Value representation and its container types
//   - operator evaluation with validated (pre-resolved) evaluators
//   - compiled functions, scripts and script instances
//   - the dispatch loop, call conventions and iteration protocol
//   - await/resume continuations and their tracking registry
//   - debugger and profiler hooks
package vm
