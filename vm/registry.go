package vm

import (
	"sync"
	"sync/atomic"
	"weak"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// ---------------------------------------------------------------------------
// Registry: suspended calls per owner
// ---------------------------------------------------------------------------

// Registry tracks suspended continuations under the scripts and instances
// that own them. Entries are weak: the registry never keeps a continuation
// alive. The only strong reference to a suspended continuation is its
// one-shot connection to the awaited signal.
type Registry struct {
	owners cmap.ConcurrentMap[uuid.UUID, *ownerSet]
}

type ownerSet struct {
	mu      sync.Mutex
	members map[uuid.UUID]weak.Pointer[Continuation]
	dead    atomic.Bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{owners: cmap.NewStringer[uuid.UUID, *ownerSet]()}
}

// Track registers c under owner.
func (r *Registry) Track(owner uuid.UUID, c *Continuation) {
	for {
		set := r.owners.Upsert(owner, nil, func(exists bool, old, _ *ownerSet) *ownerSet {
			if exists && !old.dead.Load() {
				return old
			}
			return &ownerSet{members: make(map[uuid.UUID]weak.Pointer[Continuation])}
		})
		set.mu.Lock()
		if set.dead.Load() {
			// Severed between Upsert and Lock; retry against a fresh set.
			set.mu.Unlock()
			continue
		}
		set.members[c.id] = weak.Make(c)
		set.mu.Unlock()
		return
	}
}

// Untrack removes c from owner. It reports whether c was still registered,
// which is false once the owner has been severed.
func (r *Registry) Untrack(owner uuid.UUID, c *Continuation) bool {
	set, ok := r.owners.Get(owner)
	if !ok {
		return false
	}
	set.mu.Lock()
	_, present := set.members[c.id]
	delete(set.members, c.id)
	empty := len(set.members) == 0 && !set.dead.Load()
	if empty {
		set.dead.Store(true)
	}
	set.mu.Unlock()
	if empty {
		r.owners.RemoveCb(owner, func(_ uuid.UUID, v *ownerSet, exists bool) bool {
			return exists && v == set
		})
	}
	return present
}

// Tracked reports whether c is registered under owner.
func (r *Registry) Tracked(owner uuid.UUID, c *Continuation) bool {
	set, ok := r.owners.Get(owner)
	if !ok {
		return false
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	_, present := set.members[c.id]
	return present
}

// Count returns the number of continuations registered under owner.
func (r *Registry) Count(owner uuid.UUID) int {
	set, ok := r.owners.Get(owner)
	if !ok {
		return 0
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.members)
}

// Owners returns the number of owners with live registrations.
func (r *Registry) Owners() int {
	return r.owners.Count()
}

// Sever drops every registration under owner and severs the continuations
// still alive, so none of them can resume.
func (r *Registry) Sever(owner uuid.UUID) int {
	set, ok := r.owners.Pop(owner)
	if !ok {
		return 0
	}
	set.mu.Lock()
	set.dead.Store(true)
	live := make([]*Continuation, 0, len(set.members))
	for _, p := range set.members {
		if c := p.Value(); c != nil {
			live = append(live, c)
		}
	}
	clear(set.members)
	set.mu.Unlock()

	for _, c := range live {
		c.sever()
	}
	return len(live)
}
