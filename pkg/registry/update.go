package registry

import (
	"fmt"
	"time"

	"pimsg/pkg/protocol"
)

// Self-record mutation. Activity bumps are coalesced by a debounce timer so
// a burst of tool calls costs one disk write; reservation and status changes
// flush immediately because peers act on them.

// Touch bumps the activity timestamp and schedules a coalesced flush.
func (r *Registry) Touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.self == nil {
		return
	}
	r.self.Activity = r.now()
	r.scheduleFlushLocked()
}

// RecordToolCall increments the tool-call counter and bumps activity.
func (r *Registry) RecordToolCall(tokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.self == nil {
		return
	}
	r.self.Session.ToolCalls++
	r.self.Session.Tokens += tokens
	r.self.Activity = r.now()
	r.scheduleFlushLocked()
}

// RecordFileModified increments the files-modified counter and bumps activity.
func (r *Registry) RecordFileModified() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.self == nil {
		return
	}
	r.self.Session.FilesModified++
	r.self.Activity = r.now()
	r.scheduleFlushLocked()
}

// SetStatusMessage sets the custom status line and flushes.
func (r *Registry) SetStatusMessage(msg string) error {
	r.mu.Lock()
	if r.self == nil {
		r.mu.Unlock()
		return &protocol.NotRegisteredError{}
	}
	r.self.StatusMessage = msg
	r.self.Activity = r.now()
	r.mu.Unlock()
	return r.Flush()
}

// SetSpec advertises the swarm spec this agent is working from and flushes.
func (r *Registry) SetSpec(specPath string) error {
	r.mu.Lock()
	if r.self == nil {
		r.mu.Unlock()
		return &protocol.NotRegisteredError{}
	}
	r.self.Spec = specPath
	r.self.Activity = r.now()
	r.mu.Unlock()
	return r.Flush()
}

// Reserve adds a reservation to this agent's record and flushes. Reserving
// the same pattern twice updates the reason in place.
func (r *Registry) Reserve(pattern, reason string) error {
	if pattern == "" {
		return fmt.Errorf("empty reservation pattern")
	}
	r.mu.Lock()
	if r.self == nil {
		r.mu.Unlock()
		return &protocol.NotRegisteredError{}
	}
	replaced := false
	for i, res := range r.self.Reservations {
		if res.Pattern == pattern {
			r.self.Reservations[i].Reason = reason
			replaced = true
			break
		}
	}
	if !replaced {
		r.self.Reservations = append(r.self.Reservations, protocol.Reservation{Pattern: pattern, Reason: reason})
	}
	r.self.Activity = r.now()
	r.mu.Unlock()
	return r.Flush()
}

// Release removes a reservation by pattern and flushes. Releasing an unheld
// pattern is a no-op.
func (r *Registry) Release(pattern string) error {
	r.mu.Lock()
	if r.self == nil {
		r.mu.Unlock()
		return &protocol.NotRegisteredError{}
	}
	kept := r.self.Reservations[:0]
	for _, res := range r.self.Reservations {
		if res.Pattern != pattern {
			kept = append(kept, res)
		}
	}
	r.self.Reservations = kept
	r.self.Activity = r.now()
	r.mu.Unlock()
	return r.Flush()
}

// Flush writes the current self record to disk immediately and cancels any
// pending debounced write. Write failures here are surfaced; peers only see
// state that reached disk.
func (r *Registry) Flush() error {
	r.mu.Lock()
	if r.self == nil {
		r.mu.Unlock()
		return &protocol.NotRegisteredError{}
	}
	r.stopFlushLocked()
	reg := *r.self
	reg.Reservations = append([]protocol.Reservation(nil), r.self.Reservations...)
	path := r.recordPath(reg.Name)
	r.cache.invalidate()
	r.mu.Unlock()

	if err := protocol.WriteJSONAtomic(path, reg); err != nil {
		return fmt.Errorf("flush registration: %w", err)
	}
	return nil
}

// scheduleFlushLocked arms the debounce timer if it is not already pending.
// Callers hold r.mu.
func (r *Registry) scheduleFlushLocked() {
	if r.flushT != nil {
		return
	}
	r.flushT = time.AfterFunc(r.cfg.Debounce, func() {
		r.mu.Lock()
		r.flushT = nil
		r.mu.Unlock()
		_ = r.Flush() // best-effort: a lost activity write self-heals on the next bump
	})
}

// stopFlushLocked cancels a pending debounced write. Callers hold r.mu.
func (r *Registry) stopFlushLocked() {
	if r.flushT != nil {
		r.flushT.Stop()
		r.flushT = nil
	}
}
