package main

import (
	"context"
	"errors"
	"fmt"

	"pimsg/pkg/crew"
	"pimsg/pkg/protocol"
)

// Action tags one request variant. The set is closed: the dispatcher routes
// by tag and nothing else constructs behavior dynamically.
type Action string

// Request variants.
const (
	ActionJoin        Action = "join"
	ActionLeave       Action = "leave"
	ActionRename      Action = "rename"
	ActionList        Action = "list"
	ActionWhois       Action = "whois"
	ActionStatus      Action = "status"
	ActionSetStatus   Action = "set_status"
	ActionSend        Action = "send"
	ActionBroadcast   Action = "broadcast"
	ActionFlush       Action = "flush"
	ActionReserve     Action = "reserve"
	ActionRelease     Action = "release"
	ActionCheck       Action = "check"
	ActionFeed        Action = "feed"
	ActionClaim       Action = "claim"
	ActionUnclaim     Action = "unclaim"
	ActionComplete    Action = "complete"
	ActionSwarmStatus Action = "swarm_status"
	ActionHistory     Action = "history"
)

// Request is one tagged action with its parameters. Unused fields are zero.
type Request struct {
	Action Action

	Name     string // join/rename/whois: agent name
	Explicit bool   // join: name was requested, not a base for probing
	To       string // send
	Text     string // send/broadcast/set_status
	ReplyTo  string // send
	Pattern  string // reserve/release
	Reason   string // reserve/claim
	Path     string // check
	Spec     string // swarm ops
	TaskID   string // swarm ops
	Notes    string // complete
	Limit    int    // feed/history
	Peer     string // history
	All      bool   // list: include self
}

// Result is the discriminated outcome every action returns: either OK with
// data, or an error kind plus a rendered message. The core never raises
// across this boundary.
type Result struct {
	OK      bool   `json:"ok"`
	Kind    string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func ok(data any) Result    { return Result{OK: true, Data: data} }
func fail(err error) Result { return Result{OK: false, Kind: errKind(err), Message: err.Error()} }

// Dispatch routes a request by tag.
func (a *App) Dispatch(ctx context.Context, req Request) Result {
	switch req.Action {
	case ActionJoin:
		return a.doJoin(req)
	case ActionLeave:
		return a.doLeave()
	case ActionRename:
		return a.doRename(req)
	case ActionList:
		return a.doList(req)
	case ActionWhois:
		return a.doWhois(req)
	case ActionStatus:
		return a.doStatus()
	case ActionSetStatus:
		return a.doSetStatus(req)
	case ActionSend:
		return a.doSend(req)
	case ActionBroadcast:
		return a.doBroadcast(req)
	case ActionFlush:
		return a.doFlush()
	case ActionReserve:
		return a.doReserve(req)
	case ActionRelease:
		return a.doRelease(req)
	case ActionCheck:
		return a.doCheck(req)
	case ActionFeed:
		return a.doFeed(req)
	case ActionClaim:
		return a.doClaim(req)
	case ActionUnclaim:
		return a.doUnclaim(req)
	case ActionComplete:
		return a.doComplete(req)
	case ActionSwarmStatus:
		return a.doSwarmStatus(req)
	case ActionHistory:
		return a.doHistory(ctx, req)
	default:
		return fail(fmt.Errorf("unknown action %q", req.Action))
	}
}

// errKind maps a typed error to its result discriminant.
func errKind(err error) string {
	var (
		nameTaken        *protocol.NameTakenError
		raceLost         *protocol.RaceLostError
		invalidName      *protocol.InvalidNameError
		sameName         *protocol.SameNameError
		notRegistered    *protocol.NotRegisteredError
		invalidTarget    *protocol.InvalidTargetError
		targetNotFound   *protocol.TargetNotFoundError
		targetNotActive  *protocol.TargetNotActiveError
		invalidReg       *protocol.InvalidRegistrationError
		conflict         *protocol.ConflictError
		alreadyClaimed   *protocol.AlreadyClaimedError
		alreadyHaveClaim *protocol.AlreadyHaveClaimError
		notClaimed       *protocol.NotClaimedError
		notYourClaim     *protocol.NotYourClaimError
		alreadyCompleted *protocol.AlreadyCompletedError
		lockFailed       *protocol.LockError
		noPlan           *crew.NoPlanError
		unknownTask      *crew.UnknownTaskError
		depUnmet         *crew.DependencyUnmetError
		attemptsExceeded *crew.AttemptsExceededError
		cycle            *crew.CycleError
	)
	switch {
	case errors.As(err, &nameTaken):
		return "name_taken"
	case errors.As(err, &raceLost):
		return "race_lost"
	case errors.As(err, &invalidName):
		return "invalid_name"
	case errors.As(err, &sameName):
		return "same_name"
	case errors.As(err, &notRegistered):
		return "not_registered"
	case errors.As(err, &invalidTarget):
		return "invalid_target"
	case errors.As(err, &targetNotFound):
		return "target_not_found"
	case errors.As(err, &targetNotActive):
		return "target_not_active"
	case errors.As(err, &invalidReg):
		return "invalid_registration"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &alreadyClaimed):
		return "already_claimed"
	case errors.As(err, &alreadyHaveClaim):
		return "already_have_claim"
	case errors.As(err, &notClaimed):
		return "not_claimed"
	case errors.As(err, &notYourClaim):
		return "not_your_claim"
	case errors.As(err, &alreadyCompleted):
		return "already_completed"
	case errors.As(err, &lockFailed):
		return "lock_failed"
	case errors.As(err, &noPlan):
		return "no_plan"
	case errors.As(err, &unknownTask):
		return "unknown_task"
	case errors.As(err, &depUnmet):
		return "dependency_unmet"
	case errors.As(err, &attemptsExceeded):
		return "attempts_exceeded"
	case errors.As(err, &cycle):
		return "cycle_detected"
	default:
		return "io_error"
	}
}
