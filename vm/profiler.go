package vm

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Profiler accumulates call counts and timings for compiled functions and
// for native calls made from bytecode. Timings are taken around every
// function invocation; self time excludes time spent in nested script
// functions and native calls.

// FunctionProfile holds profiling data for a single function.
type FunctionProfile struct {
	Function  *Function
	CallCount atomic.Uint64
	SelfTime  atomic.Int64 // nanoseconds
	TotalTime atomic.Int64 // nanoseconds
}

// NativeProfile holds profiling data for a single native method or utility.
type NativeProfile struct {
	Name      string
	CallCount atomic.Uint64
	TotalTime atomic.Int64 // nanoseconds
}

// Profiler manages profiles for all functions run by a VM.
type Profiler struct {
	functions sync.Map // *Function -> *FunctionProfile
	natives   sync.Map // string -> *NativeProfile
}

// NewProfiler creates an empty profiler.
func NewProfiler() *Profiler {
	return &Profiler{}
}

func (p *Profiler) function(fn *Function) *FunctionProfile {
	if val, ok := p.functions.Load(fn); ok {
		return val.(*FunctionProfile)
	}
	val, _ := p.functions.LoadOrStore(fn, &FunctionProfile{Function: fn})
	return val.(*FunctionProfile)
}

// RecordCall adds one invocation of fn.
func (p *Profiler) RecordCall(fn *Function, total, self time.Duration) {
	prof := p.function(fn)
	prof.CallCount.Add(1)
	prof.TotalTime.Add(int64(total))
	prof.SelfTime.Add(int64(self))
}

// RecordNative adds one native call.
func (p *Profiler) RecordNative(name string, d time.Duration) {
	val, ok := p.natives.Load(name)
	if !ok {
		val, _ = p.natives.LoadOrStore(name, &NativeProfile{Name: name})
	}
	prof := val.(*NativeProfile)
	prof.CallCount.Add(1)
	prof.TotalTime.Add(int64(d))
}

// FunctionProfile returns the profile for fn, or nil if it never ran.
func (p *Profiler) FunctionProfile(fn *Function) *FunctionProfile {
	if val, ok := p.functions.Load(fn); ok {
		return val.(*FunctionProfile)
	}
	return nil
}

// NativeProfile returns the profile for a native call target.
func (p *Profiler) NativeProfile(name string) *NativeProfile {
	if val, ok := p.natives.Load(name); ok {
		return val.(*NativeProfile)
	}
	return nil
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	Functions     int    // Number of functions profiled
	Natives       int    // Number of native targets profiled
	FunctionCalls uint64 // Total function invocations
	NativeCalls   uint64 // Total native invocations
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	var stats ProfilerStats
	p.functions.Range(func(_, value any) bool {
		stats.Functions++
		stats.FunctionCalls += value.(*FunctionProfile).CallCount.Load()
		return true
	})
	p.natives.Range(func(_, value any) bool {
		stats.Natives++
		stats.NativeCalls += value.(*NativeProfile).CallCount.Load()
		return true
	})
	return stats
}

// TopFunctions returns the n functions with the highest self time.
func (p *Profiler) TopFunctions(n int) []*FunctionProfile {
	var all []*FunctionProfile
	p.functions.Range(func(_, value any) bool {
		all = append(all, value.(*FunctionProfile))
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		return all[i].SelfTime.Load() > all[j].SelfTime.Load()
	})
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	p.functions.Clear()
	p.natives.Clear()
}
