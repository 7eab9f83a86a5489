// Package callregistry tracks live calls by carrier call id, so that an
// asynchronous carrier status callback (which arrives on its own HTTP
// request, independent of the call's own WebSocket) can be correlated back
// to the in-flight session. Adapted from the teacher's
// internal/callcontext/store.go, trading its Postgres-backed
// pending/queued/claimed/completed status machine for a simpler in-memory
// map: SPEC_FULL.md's call state lives entirely in the process that holds
// the carrier WebSocket, so there is nothing here that needs to survive a
// restart.
package callregistry

import "sync"

// Entry is what the registry tracks per live call: enough to answer a
// status callback without reaching back into the bridge's internals.
type Entry struct {
	CallSid        string
	ConversationID string
	UserID         string
	CancelFunc     func()
}

// Registry is a concurrent callSid -> Entry map. Safe for use by the
// webhook handler's goroutines and the session supervisor concurrently.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds or replaces the entry for callSid. Called by the session
// supervisor once the call has been established (SPEC_FULL.md §4.5).
func (r *Registry) Register(callSid string, e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[callSid] = e
}

// Get returns the entry for callSid, or (nil, false) if no live call
// matches — expected for a late status callback that races the call's own
// teardown (the same "arrives after completion" behavior the teacher's
// call-context store documents).
func (r *Registry) Get(callSid string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[callSid]
	return e, ok
}

// Remove deletes the entry for callSid. Called once the call has reached
// post-call processing; idempotent.
func (r *Registry) Remove(callSid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, callSid)
}

// Len reports the number of live calls currently tracked.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// CancelAndRemove cancels the call's context (if a CancelFunc was
// registered) and removes it from the registry. Used by an operator-facing
// "hang up" path or graceful shutdown.
func (r *Registry) CancelAndRemove(callSid string) {
	r.mu.Lock()
	e, ok := r.entries[callSid]
	delete(r.entries, callSid)
	r.mu.Unlock()
	if ok && e.CancelFunc != nil {
		e.CancelFunc()
	}
}
