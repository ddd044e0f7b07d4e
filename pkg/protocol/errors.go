package protocol

import "fmt"

// Coordination, messaging, reservation, and swarm failures are typed errors
// so callers can discriminate with errors.As and react per kind (retry,
// block, surface) instead of string-matching.

// --- Coordination ---

// NameTakenError reports an explicit-name join or rename that collided with
// a live agent.
type NameTakenError struct {
	Name string
	PID  int // the living holder
}

func (e *NameTakenError) Error() string {
	return fmt.Sprintf("name %q is taken by live pid %d", e.Name, e.PID)
}

// RaceLostError reports a join or rename whose read-back verify found another
// process's registration.
type RaceLostError struct {
	Name string
}

func (e *RaceLostError) Error() string {
	return fmt.Sprintf("lost registration race for name %q", e.Name)
}

// InvalidNameError reports a name that fails validation.
type InvalidNameError struct {
	Name   string
	Reason string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid name %q: %s", e.Name, e.Reason)
}

// SameNameError reports a rename to the caller's current name.
type SameNameError struct {
	Name string
}

func (e *SameNameError) Error() string {
	return fmt.Sprintf("already named %q", e.Name)
}

// NotRegisteredError reports an operation that requires a live registration.
type NotRegisteredError struct{}

func (e *NotRegisteredError) Error() string {
	return "not registered: join first"
}

// --- Messaging ---

// InvalidTargetError reports a malformed recipient name.
type InvalidTargetError struct {
	Target string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid target %q", e.Target)
}

// TargetNotFoundError reports a recipient with no registration.
type TargetNotFoundError struct {
	Target string
}

func (e *TargetNotFoundError) Error() string {
	return fmt.Sprintf("no agent named %q", e.Target)
}

// TargetNotActiveError reports a recipient whose registration is dead.
type TargetNotActiveError struct {
	Target string
	PID    int
}

func (e *TargetNotActiveError) Error() string {
	return fmt.Sprintf("agent %q (pid %d) is no longer active", e.Target, e.PID)
}

// InvalidRegistrationError reports a peer record that failed to parse.
// List skips these; Send surfaces them.
type InvalidRegistrationError struct {
	Path string
	Err  error
}

func (e *InvalidRegistrationError) Error() string {
	return fmt.Sprintf("malformed registration %s: %v", e.Path, e.Err)
}

func (e *InvalidRegistrationError) Unwrap() error { return e.Err }

// --- Reservations ---

// ConflictInfo names one blocking reservation.
type ConflictInfo struct {
	Agent   string `json:"agent"`
	Pattern string `json:"pattern"`
	Reason  string `json:"reason,omitempty"`
	Cwd     string `json:"cwd,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

// ConflictError reports reservations held by peers that match a probed path.
type ConflictError struct {
	Path      string
	Conflicts []ConflictInfo
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 1 {
		c := e.Conflicts[0]
		return fmt.Sprintf("%s is reserved by %s (pattern %q)", e.Path, c.Agent, c.Pattern)
	}
	return fmt.Sprintf("%s is reserved by %d agents", e.Path, len(e.Conflicts))
}

// --- Swarm ---

// AlreadyClaimedError reports a claim on a task someone else holds.
type AlreadyClaimedError struct {
	Spec   string
	TaskID string
	Agent  string // current holder
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("task %s in %s is claimed by %s", e.TaskID, e.Spec, e.Agent)
}

// AlreadyHaveClaimError reports a claim attempt while the caller already
// holds a non-stale claim somewhere (single-claim rule).
type AlreadyHaveClaimError struct {
	Spec   string // existing claim location
	TaskID string
}

func (e *AlreadyHaveClaimError) Error() string {
	return fmt.Sprintf("already claiming task %s in %s; unclaim or complete it first", e.TaskID, e.Spec)
}

// NotClaimedError reports an unclaim/complete on an unclaimed task.
type NotClaimedError struct {
	Spec   string
	TaskID string
}

func (e *NotClaimedError) Error() string {
	return fmt.Sprintf("task %s in %s is not claimed", e.TaskID, e.Spec)
}

// NotYourClaimError reports an unclaim/complete on a task claimed by a peer.
type NotYourClaimError struct {
	Spec   string
	TaskID string
	Agent  string // actual holder
}

func (e *NotYourClaimError) Error() string {
	return fmt.Sprintf("task %s in %s is claimed by %s, not you", e.TaskID, e.Spec, e.Agent)
}

// AlreadyCompletedError reports a claim/complete on a finished task.
type AlreadyCompletedError struct {
	Spec        string
	TaskID      string
	CompletedBy string
}

func (e *AlreadyCompletedError) Error() string {
	return fmt.Sprintf("task %s in %s was already completed by %s", e.TaskID, e.Spec, e.CompletedBy)
}

// LockError reports failure to acquire the swarm lock within the retry
// budget.
type LockError struct {
	Path string
	Err  error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("acquire swarm lock %s: %v", e.Path, e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }
