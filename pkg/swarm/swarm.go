// Package swarm implements atomic task claiming over a shared spec: claims
// and completions live in two JSON files guarded by one advisory lock.
// Every mutation garbage-collects stale claims first, so a crashed agent's
// leftovers disappear on the next touch by anyone.
package swarm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pimsg/pkg/liveness"
	"pimsg/pkg/protocol"
	"pimsg/pkg/registry"
)

// Store mediates all claims/completions access for one agent.
type Store struct {
	baseDir string
	reg     *registry.Registry
	lock    *fileLock

	// test seams
	aliveFunc   func(int) bool
	nowFunc     func() time.Time
	writeClaims func(path string, v any) error
}

// NewStore creates a Store sharing the registry's identity.
func NewStore(baseDir string, reg *registry.Registry) *Store {
	return &Store{
		baseDir:     baseDir,
		reg:         reg,
		lock:        newFileLock(filepath.Join(baseDir, protocol.SwarmLockFile)),
		aliveFunc:   liveness.Alive,
		nowFunc:     time.Now,
		writeClaims: protocol.WriteJSONAtomic,
	}
}

// SetAliveFunc overrides the liveness probe for the store and its lock.
//
//pimsg:testonly
func (s *Store) SetAliveFunc(f func(int) bool) {
	s.aliveFunc = f
	s.lock.aliveFunc = f
}

// SetClaimsWriteFunc overrides the claims.json writer to simulate I/O
// failure between the completion write and the claim removal.
//
//pimsg:testonly
func (s *Store) SetClaimsWriteFunc(f func(path string, v any) error) {
	s.writeClaims = f
}

func (s *Store) claimsPath() string      { return filepath.Join(s.baseDir, protocol.ClaimsFile) }
func (s *Store) completionsPath() string { return filepath.Join(s.baseDir, protocol.CompletionsFile) }

// ClaimLocation names where an agent's existing claim lives.
type ClaimLocation struct {
	Spec   string `json:"spec"`
	TaskID string `json:"taskId"`
}

// Claim records (spec, taskID) as owned by this agent. Fails when the task
// is completed, already claimed, or the caller holds any other non-stale
// claim (single-claim rule).
func (s *Store) Claim(spec, taskID, reason string) error {
	self := s.reg.Self()
	if self == nil {
		return &protocol.NotRegisteredError{}
	}

	return s.withLock(func() error {
		claims, completions, err := s.load()
		if err != nil {
			return err
		}
		changed := s.cleanupStale(claims)
		defer s.persistCleanup(claims, &changed)

		if done, ok := completions[spec][taskID]; ok {
			return &protocol.AlreadyCompletedError{Spec: spec, TaskID: taskID, CompletedBy: done.CompletedBy}
		}
		if holder, ok := claims[spec][taskID]; ok {
			return &protocol.AlreadyClaimedError{Spec: spec, TaskID: taskID, Agent: holder.Agent}
		}
		if loc := s.findClaim(claims, self.Name); loc != nil {
			return &protocol.AlreadyHaveClaimError{Spec: loc.Spec, TaskID: loc.TaskID}
		}

		if claims[spec] == nil {
			claims[spec] = make(map[string]protocol.Claim)
		}
		claims[spec][taskID] = protocol.Claim{
			Agent:     self.Name,
			SessionID: self.SessionID,
			PID:       self.PID,
			ClaimedAt: s.nowFunc(),
			Reason:    reason,
		}
		changed = false // the full write below covers the cleanup too
		return s.writeClaims(s.claimsPath(), claims)
	})
}

// Unclaim releases the caller's claim on (spec, taskID).
func (s *Store) Unclaim(spec, taskID string) error {
	self := s.reg.Self()
	if self == nil {
		return &protocol.NotRegisteredError{}
	}

	return s.withLock(func() error {
		claims, _, err := s.load()
		if err != nil {
			return err
		}
		changed := s.cleanupStale(claims)
		defer s.persistCleanup(claims, &changed)

		holder, ok := claims[spec][taskID]
		if !ok {
			return &protocol.NotClaimedError{Spec: spec, TaskID: taskID}
		}
		if holder.Agent != self.Name || holder.SessionID != self.SessionID {
			return &protocol.NotYourClaimError{Spec: spec, TaskID: taskID, Agent: holder.Agent}
		}

		delete(claims[spec], taskID)
		if len(claims[spec]) == 0 {
			delete(claims, spec)
		}
		changed = false
		return s.writeClaims(s.claimsPath(), claims)
	})
}

// Complete durably records (spec, taskID) as finished and releases the
// claim. The completion write lands before the claim removal: an I/O
// failure in between leaves a stale claim (cleanable) but never loses the
// completion.
func (s *Store) Complete(spec, taskID, notes string) error {
	self := s.reg.Self()
	if self == nil {
		return &protocol.NotRegisteredError{}
	}

	return s.withLock(func() error {
		claims, completions, err := s.load()
		if err != nil {
			return err
		}
		changed := s.cleanupStale(claims)
		defer s.persistCleanup(claims, &changed)

		if done, ok := completions[spec][taskID]; ok {
			return &protocol.AlreadyCompletedError{Spec: spec, TaskID: taskID, CompletedBy: done.CompletedBy}
		}
		holder, ok := claims[spec][taskID]
		if !ok {
			return &protocol.NotClaimedError{Spec: spec, TaskID: taskID}
		}
		if holder.Agent != self.Name || holder.SessionID != self.SessionID {
			return &protocol.NotYourClaimError{Spec: spec, TaskID: taskID, Agent: holder.Agent}
		}

		if completions[spec] == nil {
			completions[spec] = make(map[string]protocol.Completion)
		}
		completions[spec][taskID] = protocol.Completion{
			CompletedBy: self.Name,
			CompletedAt: s.nowFunc(),
			Notes:       notes,
		}
		if err := protocol.WriteJSONAtomic(s.completionsPath(), completions); err != nil {
			return fmt.Errorf("write completion: %w", err)
		}

		delete(claims[spec], taskID)
		if len(claims[spec]) == 0 {
			delete(claims, spec)
		}
		changed = false
		if err := s.writeClaims(s.claimsPath(), claims); err != nil {
			// The completion is durable; the leftover claim is stale and will
			// be purged by the next reader.
			return fmt.Errorf("remove claim after completion: %w", err)
		}
		return nil
	})
}

// MyClaim returns the caller's current non-stale claim location, if any.
func (s *Store) MyClaim() (*ClaimLocation, error) {
	self := s.reg.Self()
	if self == nil {
		return nil, &protocol.NotRegisteredError{}
	}
	claims, _, err := s.load()
	if err != nil {
		return nil, err
	}
	s.cleanupStale(claims)
	return s.findClaim(claims, self.Name), nil
}

// Snapshot returns the current claims and completions for spec, with stale
// claims filtered. When anything was stale, the purge is also written back
// under the swarm lock; a lock or write failure leaves the files as they were.
func (s *Store) Snapshot(spec string) (map[string]protocol.Claim, map[string]protocol.Completion, error) {
	claims, completions, err := s.load()
	if err != nil {
		return nil, nil, err
	}
	if s.cleanupStale(claims) {
		_ = s.withLock(func() error {
			fresh, _, err := s.load()
			if err != nil {
				return err
			}
			if s.cleanupStale(fresh) {
				return s.writeClaims(s.claimsPath(), fresh)
			}
			return nil
		})
	}
	return claims[spec], completions[spec], nil
}

// withLock runs fn holding the swarm lock.
func (s *Store) withLock(fn func() error) error {
	self := s.reg.Self()
	pid := os.Getpid()
	if self != nil {
		pid = self.PID
	}
	if err := s.lock.acquire(pid); err != nil {
		return err
	}
	defer s.lock.release()
	return fn()
}

// load reads both files; missing files yield empty sets.
func (s *Store) load() (protocol.ClaimSet, protocol.CompletionSet, error) {
	claims := make(protocol.ClaimSet)
	if err := protocol.ReadJSON(s.claimsPath(), &claims); err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("load claims: %w", err)
	}
	completions := make(protocol.CompletionSet)
	if err := protocol.ReadJSON(s.completionsPath(), &completions); err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("load completions: %w", err)
	}
	// A claim on a completed task is a leftover of a failed claim removal in
	// Complete; it is dropped here and omitted from the next claims write.
	for spec, tasks := range claims {
		for taskID := range tasks {
			if _, done := completions[spec][taskID]; done {
				delete(tasks, taskID)
			}
		}
		if len(tasks) == 0 {
			delete(claims, spec)
		}
	}
	return claims, completions, nil
}

// cleanupStale removes claims whose owner is gone: dead PID, no
// registration, or a registration from a different session (restart).
// Returns true when anything was removed. Idempotent.
func (s *Store) cleanupStale(claims protocol.ClaimSet) bool {
	changed := false
	for spec, tasks := range claims {
		for taskID, claim := range tasks {
			if s.claimStale(claim) {
				delete(tasks, taskID)
				changed = true
			}
		}
		if len(tasks) == 0 {
			delete(claims, spec)
		}
	}
	return changed
}

// claimStale applies the three-part staleness rule.
func (s *Store) claimStale(claim protocol.Claim) bool {
	if !s.aliveFunc(claim.PID) {
		return true
	}
	reg, err := s.reg.Lookup(claim.Agent)
	if err != nil {
		var notFound *protocol.TargetNotFoundError
		var notActive *protocol.TargetNotActiveError
		if errors.As(err, &notFound) || errors.As(err, &notActive) {
			return true
		}
		// Unreadable registration: keep the claim, consistent with the
		// conservative liveness probe.
		return false
	}
	return reg.SessionID != claim.SessionID
}

// persistCleanup writes the cleaned claim set when cleanupStale removed
// entries but the operation itself is not writing. Lazy GC piggybacks on
// contention this way: even a failed request leaves the files cleaner.
func (s *Store) persistCleanup(claims protocol.ClaimSet, changed *bool) {
	if *changed {
		_ = s.writeClaims(s.claimsPath(), claims)
	}
}

// findClaim locates agent's claim anywhere in the set.
func (s *Store) findClaim(claims protocol.ClaimSet, agent string) *ClaimLocation {
	for spec, tasks := range claims {
		for taskID, claim := range tasks {
			if claim.Agent == agent {
				return &ClaimLocation{Spec: spec, TaskID: taskID}
			}
		}
	}
	return nil
}
