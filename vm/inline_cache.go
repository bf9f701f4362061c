package vm

import (
	"sync"
	"sync/atomic"
)

// Inline Caching for Operator Dispatch
//
// Each OPERATOR instruction owns one cache entry, stored in a side table on
// its Function and indexed by instruction offset. The first execution
// resolves the evaluator for the observed operand types and publishes it;
// later executions read the entry without locking and take the validated
// path when the operand signature matches.

// CacheState represents the current state of an operator call site.
type CacheState uint8

const (
	CacheEmpty       CacheState = iota // No execution yet
	CacheMonomorphic                   // One signature cached
	CachePoisoned                      // Never cacheable; always the checked path
)

// poisonSignature can never match a real signature since Type fits in a byte.
const poisonSignature = 0xFFFF

// operatorSignature packs two operand types into a cache key.
func operatorSignature(a, b Type) uint32 {
	return uint32(a)<<8 | uint32(b)
}

// InlineCacheEntry is the published state of one call site. Entries are
// immutable once stored.
type InlineCacheEntry struct {
	Signature uint32
	Return    Type
	Eval      *ValidatedOperator
}

var poisonedEntry = &InlineCacheEntry{Signature: poisonSignature}

// InlineCache is the cache slot for a single OPERATOR instruction.
type InlineCache struct {
	entry atomic.Pointer[InlineCacheEntry]

	// Statistics for profiling
	hits   atomic.Uint64
	misses atomic.Uint64
}

// State reports the call site's cache state.
func (ic *InlineCache) State() CacheState {
	switch e := ic.entry.Load(); {
	case e == nil:
		return CacheEmpty
	case e.Signature == poisonSignature:
		return CachePoisoned
	}
	return CacheMonomorphic
}

// Entry returns the published entry, or nil.
func (ic *InlineCache) Entry() *InlineCacheEntry {
	return ic.entry.Load()
}

// Lookup returns the cached evaluator when sig matches the published
// signature. It never blocks.
func (ic *InlineCache) Lookup(sig uint32) *ValidatedOperator {
	if e := ic.entry.Load(); e != nil && e.Signature == sig {
		ic.hits.Add(1)
		return e.Eval
	}
	ic.misses.Add(1)
	return nil
}

// Hits returns the number of validated-path executions.
func (ic *InlineCache) Hits() uint64 { return ic.hits.Load() }

// Misses returns the number of checked-path executions.
func (ic *InlineCache) Misses() uint64 { return ic.misses.Load() }

// HitRate returns the cache hit rate as a percentage (0-100).
func (ic *InlineCache) HitRate() float64 {
	hits, misses := ic.Hits(), ic.Misses()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) * 100 / float64(total)
}

// InlineCacheTable manages the caches of all OPERATOR sites in a function.
// The set of sites is fixed when the function is prepared, so reads of the
// map itself need no locking; mu serializes first population only.
type InlineCacheTable struct {
	mu     sync.Mutex
	caches map[int]*InlineCache
}

func newInlineCacheTable(sites []int) *InlineCacheTable {
	t := &InlineCacheTable{caches: make(map[int]*InlineCache, len(sites))}
	for _, pc := range sites {
		t.caches[pc] = &InlineCache{}
	}
	return t
}

// Get returns the cache for the instruction at pc, or nil if pc is not an
// OPERATOR site.
func (t *InlineCacheTable) Get(pc int) *InlineCache {
	if t == nil {
		return nil
	}
	return t.caches[pc]
}

// populate publishes the first entry for the site at pc. Concurrent
// callers may all compute an entry; only the first is stored.
func (t *InlineCacheTable) populate(ic *InlineCache, op Operator, a, b Type) {
	entry := poisonedEntry
	if op.Cacheable() {
		if v := LookupOperator(op, a, b); v != nil {
			entry = &InlineCacheEntry{Signature: operatorSignature(a, b), Return: v.Return, Eval: v}
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if ic.entry.Load() == nil {
		ic.entry.Store(entry)
	}
}

// ICStats holds aggregate inline cache statistics.
type ICStats struct {
	TotalCallSites int     // Total number of OPERATOR sites
	Monomorphic    int     // Sites with a cached signature
	Poisoned       int     // Sites that always take the checked path
	Empty          int     // Sites never executed
	TotalHits      uint64  // Total cache hits
	TotalMisses    uint64  // Total cache misses
	HitRate        float64 // Overall hit rate percentage
}

// Stats returns aggregate statistics for all caches in the table.
func (t *InlineCacheTable) Stats() ICStats {
	var s ICStats
	if t == nil {
		return s
	}
	for _, ic := range t.caches {
		s.TotalCallSites++
		switch ic.State() {
		case CacheMonomorphic:
			s.Monomorphic++
		case CachePoisoned:
			s.Poisoned++
		case CacheEmpty:
			s.Empty++
		}
		s.TotalHits += ic.Hits()
		s.TotalMisses += ic.Misses()
	}
	if total := s.TotalHits + s.TotalMisses; total > 0 {
		s.HitRate = float64(s.TotalHits) * 100 / float64(total)
	}
	return s
}
