package vm

// ---------------------------------------------------------------------------
// Frame arena: per-interpreter stack storage
// ---------------------------------------------------------------------------

// frameArena hands out frame storage in LIFO order from one preallocated
// buffer. Frames that do not fit spill to the heap. Released storage is
// cleared so every new frame starts with Nil slots.
type frameArena struct {
	buf []Value
	top int
}

func newFrameArena(size int) frameArena {
	return frameArena{buf: make([]Value, size)}
}

// alloc returns n zeroed slots and whether they came from the arena.
func (a *frameArena) alloc(n int) ([]Value, bool) {
	if a.top+n <= len(a.buf) {
		s := a.buf[a.top : a.top+n : a.top+n]
		a.top += n
		return s, true
	}
	return make([]Value, n), false
}

// release returns the most recent allocation.
func (a *frameArena) release(s []Value, pooled bool) {
	clear(s)
	if pooled {
		a.top -= len(s)
	}
}

// InUse returns the number of arena slots currently allocated.
func (a *frameArena) InUse() int { return a.top }

// frame is the execution state of one invocation.
type frame struct {
	fn     *Function
	self   *Instance
	script *Script
	stack  []Value
	pooled bool
	ip     int
	node   int
	defarg int
}

// fault panics an addressFault; execute turns it into a resource error.
func (fr *frame) fault(addr int32, why string) {
	panic(addressFault{addr: addr, why: why})
}

// ptr resolves an address to its storage.
func (fr *frame) ptr(addr int32) *Value {
	space, idx := SplitAddress(addr)
	switch space {
	case AddrStack:
		if idx < len(fr.stack) {
			return &fr.stack[idx]
		}
	case AddrConstant:
		if idx < len(fr.fn.Constants) {
			return &fr.fn.Constants[idx]
		}
	case AddrMember:
		if fr.self == nil {
			fr.fault(addr, "member access without an instance")
		}
		if idx < len(fr.self.members) {
			return &fr.self.members[idx]
		}
	}
	fr.fault(addr, "address out of range")
	return nil
}

// get reads an operand.
func (fr *frame) get(addr int32) Value {
	return *fr.ptr(addr)
}

// dst resolves a writable operand. Constants are never writable.
func (fr *frame) dst(addr int32) *Value {
	if space, _ := SplitAddress(addr); space == AddrConstant {
		fr.fault(addr, "write to constant")
	}
	return fr.ptr(addr)
}

// set writes an operand. Writes to the nil slot are discarded so it can
// serve as the destination of ignored results.
func (fr *frame) set(addr int32, v Value) {
	if addr == nilSlotAddr {
		return
	}
	*fr.dst(addr) = v
}

var nilSlotAddr = MakeAddress(AddrStack, SlotNil)
