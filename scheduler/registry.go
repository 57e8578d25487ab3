// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"sync"
	"sync/atomic"
)

// handle is a live job process.
type handle struct {
	jobID string
	pid   int

	// exited closes after the process has been reaped.
	exited chan struct{}

	// state moves once from handleLive to handleCancelled (Cancel or
	// Shutdown won) or handleReaped (the process exited on its own).
	state atomic.Int32
}

const (
	handleLive int32 = iota
	handleCancelled
	handleReaped
)

// cancel claims the handle for cancellation. It reports false when
// the process was already reaped, so its outcome stands.
func (h *handle) cancel() bool {
	return h.state.CompareAndSwap(handleLive, handleCancelled) || h.state.Load() == handleCancelled
}

// reap records that the process exited. It reports true when a
// cancellation claimed the handle first.
func (h *handle) reap() bool {
	return !h.state.CompareAndSwap(handleLive, handleReaped)
}

// registry maps job ids to live handles. A job is present from just
// after its process starts until its terminal status is persisted, so
// every RUNNING job in the store has an entry here.
type registry struct {
	mu      sync.Mutex
	handles map[string]*handle
}

func newRegistry() *registry {
	return &registry{handles: make(map[string]*handle)}
}

func (r *registry) add(h *handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[h.jobID] = h
}

func (r *registry) get(jobID string) (*handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[jobID]
	return h, ok
}

func (r *registry) remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, jobID)
}

func (r *registry) snapshot() []*handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]*handle, 0, len(r.handles))
	for _, h := range r.handles {
		result = append(result, h)
	}
	return result
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
