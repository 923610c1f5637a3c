package bridge

import (
	"sync"
)

// Handle is an opaque identifier standing in for a managed object. The
// caller never dereferences a Handle; it only threads it back into later
// bridge operations. The zero Handle is the sentinel returned on failure
// and is never issued.
type Handle uintptr

// Session identifies the uplink session that owns a handle. Objects that
// exist before any session (identity versions, parsed API keys, buffers)
// belong to GlobalSession.
type Session uint64

// GlobalSession owns process-wide objects that are valid in any session.
const GlobalSession Session = 0

type entry struct {
	value   any
	session Session
}

// Registry keeps managed objects reachable while native callers hold
// handles to them. Registration is the safety property the whole bridge
// depends on: an object stays out of the collector's reach for as long as
// its registry entry exists.
//
// Handles are allocated monotonically and never reused, which lets the
// registry distinguish a handle that was issued and later released (an
// idempotent no-op to release again) from one that was never issued at all.
type Registry struct {
	mu          sync.Mutex
	nextHandle  Handle
	nextSession Session
	entries     map[Handle]entry
}

// NewRegistry returns an empty Registry. The bridge package holds a single
// process-wide instance created at init; separate instances exist only for
// tests.
func NewRegistry() *Registry {
	return &Registry{
		nextHandle:  1,
		nextSession: 1,
		entries:     make(map[Handle]entry),
	}
}

// NewSession allocates a fresh session identifier.
func (r *Registry) NewSession() Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.nextSession
	r.nextSession++
	return s
}

// Register stores value under a fresh, never-before-issued handle owned by
// session. It always succeeds.
func (r *Registry) Register(session Session, value any) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.nextHandle
	r.nextHandle++
	r.entries[h] = entry{value: value, session: session}
	return h
}

// Resolve maps a handle back to its registered value and owning session.
// It fails with the invalid-handle class if the handle was never issued or
// has been released.
func (r *Registry) Resolve(h Handle) (any, Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h == 0 || h >= r.nextHandle {
		return nil, 0, ErrInvalidHandle.New("handle %d was never issued", h)
	}
	e, ok := r.entries[h]
	if !ok {
		return nil, 0, ErrInvalidHandle.New("handle %d has been released", h)
	}
	return e.value, e.session, nil
}

// Release drops the registry entry for h, making the value eligible for
// collection once no other ownership path retains it. Releasing an
// already-released handle is an idempotent no-op; releasing a handle that
// was never issued fails with the invalid-handle class.
func (r *Registry) Release(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h == 0 || h >= r.nextHandle {
		return ErrInvalidHandle.New("handle %d was never issued", h)
	}
	delete(r.entries, h)
	return nil
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
