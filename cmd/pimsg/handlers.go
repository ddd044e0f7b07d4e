package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"pimsg/pkg/history"
	"pimsg/pkg/protocol"
)

// AgentView is a list/whois row: the registration plus derived state.
type AgentView struct {
	protocol.Registration
	Stuck bool `json:"stuck,omitempty"`
}

func (a *App) doJoin(req Request) Result {
	name := req.Name
	if name == "" {
		name = "Agent"
	}
	joined, err := a.Reg.Join(name, req.Explicit)
	if err != nil {
		return fail(err)
	}
	a.attachHistory()
	return ok(map[string]string{"name": joined, "sessionId": a.Reg.SessionID()})
}

func (a *App) doLeave() Result {
	if err := a.requireIdentity(); err != nil {
		return fail(err)
	}
	if err := a.Reg.Leave(); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (a *App) doRename(req Request) Result {
	if err := a.requireIdentity(); err != nil {
		return fail(err)
	}
	if err := a.Reg.Rename(req.Name); err != nil {
		return fail(err)
	}
	return ok(map[string]string{"name": req.Name})
}

func (a *App) doList(req Request) Result {
	// Listing works without an identity; exclude-self needs one to know who
	// "self" is, so adoption is attempted but not required.
	_ = a.requireIdentity()
	agents, err := a.Reg.ListActiveAgents(!req.All)
	if err != nil {
		return fail(err)
	}
	threshold := time.Duration(a.Cfg.StuckThreshold) * time.Second
	views := make([]AgentView, 0, len(agents))
	for _, reg := range agents {
		views = append(views, AgentView{Registration: reg, Stuck: a.Reg.IsStuck(reg, threshold)})
	}
	a.notifyStuck(views)
	return ok(views)
}

func (a *App) doWhois(req Request) Result {
	reg, err := a.Reg.Lookup(req.Name)
	if err != nil {
		return fail(err)
	}
	threshold := time.Duration(a.Cfg.StuckThreshold) * time.Second
	view := AgentView{Registration: *reg, Stuck: a.Reg.IsStuck(*reg, threshold)}
	a.notifyStuck([]AgentView{view})
	return ok(view)
}

// notifyStuck announces newly stuck agents on the feed, once per episode:
// a stuck event newer than the agent's last activity means the current
// episode was already announced, and an activity bump starts a new one.
func (a *App) notifyStuck(views []AgentView) {
	if !a.Cfg.StuckNotify {
		return
	}
	var stuck []AgentView
	for _, v := range views {
		if v.Stuck {
			stuck = append(stuck, v)
		}
	}
	if len(stuck) == 0 {
		return
	}

	events, err := a.Feed.Recent(0)
	if err != nil {
		return
	}
	announced := make(map[string]time.Time)
	for _, ev := range events {
		if ev.Kind == protocol.EventStuck && ev.TS.After(announced[ev.Agent]) {
			announced[ev.Agent] = ev.TS
		}
	}
	for _, v := range stuck {
		if announced[v.Name].After(v.Activity) {
			continue
		}
		_ = a.Feed.Append(protocol.FeedEvent{
			Agent: v.Name,
			Kind:  protocol.EventStuck,
			Text:  fmt.Sprintf("no activity since %s", v.Activity.Format(time.RFC3339)),
		})
	}
}

func (a *App) doStatus() Result {
	if err := a.requireIdentity(); err != nil {
		return fail(err)
	}
	self := a.Reg.Self()
	claim, err := a.Swarm.MyClaim()
	if err != nil {
		return fail(err)
	}
	return ok(map[string]any{"self": self, "claim": claim})
}

func (a *App) doSetStatus(req Request) Result {
	if err := a.requireIdentity(); err != nil {
		return fail(err)
	}
	if err := a.Reg.SetStatusMessage(req.Text); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (a *App) doSend(req Request) Result {
	if err := a.requireIdentity(); err != nil {
		return fail(err)
	}
	msg, err := a.Inbox.Send(req.To, req.Text, req.ReplyTo)
	if err != nil {
		return fail(err)
	}
	a.Reg.Touch()
	return ok(msg)
}

func (a *App) doBroadcast(req Request) Result {
	if err := a.requireIdentity(); err != nil {
		return fail(err)
	}
	reached, err := a.Inbox.Broadcast(req.Text)
	if err != nil {
		return fail(err)
	}
	a.Reg.Touch()
	return ok(map[string]any{"reached": reached})
}

func (a *App) doFlush() Result {
	if err := a.requireIdentity(); err != nil {
		return fail(err)
	}
	if err := a.Inbox.Flush(); err != nil {
		return fail(err)
	}
	return ok(map[string]any{"delivered": a.handler.delivered()})
}

func (a *App) doReserve(req Request) Result {
	if err := a.requireIdentity(); err != nil {
		return fail(err)
	}
	// Surface existing conflicts so the caller can decide to back off, but a
	// reservation is advisory: overlapping reservations are permitted.
	conflicts, err := a.Check.CheckConflict(req.Pattern)
	if err != nil {
		return fail(err)
	}
	if err := a.Reg.Reserve(req.Pattern, req.Reason); err != nil {
		return fail(err)
	}
	return ok(map[string]any{"pattern": req.Pattern, "overlapping": conflicts})
}

func (a *App) doRelease(req Request) Result {
	if err := a.requireIdentity(); err != nil {
		return fail(err)
	}
	if err := a.Reg.Release(req.Pattern); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (a *App) doCheck(req Request) Result {
	_ = a.requireIdentity()
	if err := a.Check.CheckWrite(req.Path); err != nil {
		return fail(err)
	}
	return ok(map[string]string{"path": req.Path})
}

func (a *App) doFeed(req Request) Result {
	limit := req.Limit
	if limit <= 0 {
		limit = a.Cfg.FeedRetention
	}
	events, err := a.Feed.Recent(limit)
	if err != nil {
		return fail(err)
	}
	return ok(events)
}

func (a *App) doClaim(req Request) Result {
	if err := a.requireIdentity(); err != nil {
		return fail(err)
	}
	if err := a.Swarm.Claim(req.Spec, req.TaskID, req.Reason); err != nil {
		return fail(err)
	}
	if err := a.Reg.SetSpec(req.Spec); err != nil {
		return fail(err)
	}
	a.maybeAutoStatus("working on " + req.TaskID)
	return ok(map[string]string{"spec": req.Spec, "taskId": req.TaskID})
}

func (a *App) doUnclaim(req Request) Result {
	if err := a.requireIdentity(); err != nil {
		return fail(err)
	}
	if err := a.Swarm.Unclaim(req.Spec, req.TaskID); err != nil {
		return fail(err)
	}
	if err := a.Reg.SetSpec(""); err != nil {
		return fail(err)
	}
	a.maybeAutoStatus("idle")
	return ok(nil)
}

func (a *App) doComplete(req Request) Result {
	if err := a.requireIdentity(); err != nil {
		return fail(err)
	}
	if err := a.Swarm.Complete(req.Spec, req.TaskID, req.Notes); err != nil {
		return fail(err)
	}
	if err := a.Reg.SetSpec(""); err != nil {
		return fail(err)
	}
	a.maybeAutoStatus("idle")
	return ok(nil)
}

// maybeAutoStatus sets an auto-generated status line. A custom status set by
// the agent is never overwritten; only an empty or previously auto-generated
// line is replaced.
func (a *App) maybeAutoStatus(text string) {
	if !a.Cfg.AutoStatus {
		return
	}
	self := a.Reg.Self()
	if self == nil {
		return
	}
	if self.StatusMessage != "" && !isAutoStatus(self.StatusMessage) {
		return
	}
	_ = a.Reg.SetStatusMessage(text)
}

// isAutoStatus recognizes the status lines maybeAutoStatus generates.
func isAutoStatus(msg string) bool {
	return msg == "idle" || strings.HasPrefix(msg, "working on ")
}

// SwarmTaskView is one row of swarm status output.
type SwarmTaskView struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	ClaimedBy   string `json:"claimedBy,omitempty"`
	CompletedBy string `json:"completedBy,omitempty"`
}

func (a *App) doSwarmStatus(req Request) Result {
	claims, completions, err := a.Swarm.Snapshot(req.Spec)
	if err != nil {
		return fail(err)
	}

	// Merge the spec's enumerated tasks with claim/completion state; tasks
	// only present in the claim files still show up.
	var views []SwarmTaskView
	seen := make(map[string]bool)
	if tasks, err := a.Swarm.Tasks(req.Spec); err == nil {
		for _, task := range tasks {
			view := SwarmTaskView{ID: task.ID, Title: task.Title}
			if c, ok := claims[task.ID]; ok {
				view.ClaimedBy = c.Agent
			}
			if done, ok := completions[task.ID]; ok {
				view.CompletedBy = done.CompletedBy
			}
			views = append(views, view)
			seen[task.ID] = true
		}
	}
	for id, c := range claims {
		if !seen[id] {
			views = append(views, SwarmTaskView{ID: id, ClaimedBy: c.Agent})
			seen[id] = true
		}
	}
	for id, done := range completions {
		if !seen[id] {
			views = append(views, SwarmTaskView{ID: id, CompletedBy: done.CompletedBy})
		}
	}
	return ok(views)
}

func (a *App) doHistory(ctx context.Context, req Request) Result {
	if err := a.requireIdentity(); err != nil {
		return fail(err)
	}
	store, err := history.Open(a.Paths.BaseDir, a.Reg.Name())
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	msgs, err := store.Messages(ctx, history.QueryOpts{Peer: req.Peer, Limit: limit})
	if err != nil {
		return fail(err)
	}
	return ok(msgs)
}

// printHandler is the CLI's inbox handler: delivered messages go to stdout
// as they arrive, notices to stderr.
type printHandler struct {
	count int
}

func (h *printHandler) Deliver(msg protocol.Message) error {
	h.count++
	fmt.Printf("[%s] %s\n", msg.From, msg.Text)
	return nil
}

func (h *printHandler) Notify(kind, text string) {
	fmt.Fprintf(os.Stderr, "%s: %s\n", kind, text)
}

func (h *printHandler) delivered() int { return h.count }
