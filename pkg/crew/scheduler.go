package crew

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"pimsg/pkg/config"
	"pimsg/pkg/feed"
	"pimsg/pkg/protocol"
)

// Outcome is how a worker session ended.
type Outcome string

// Worker outcomes. A runner error or a failed outcome both count against
// the task's attempt budget.
const (
	OutcomeDone    Outcome = "done"
	OutcomeBlocked Outcome = "blocked"
	OutcomeFailed  Outcome = "failed"
)

// RunResult is a worker session's declaration on exit.
type RunResult struct {
	Outcome       Outcome
	Summary       string // required for done
	BlockedReason string // required for blocked
}

// Runner executes one task attempt in a spawned worker session. spec is the
// task's markdown body; lastReview carries the previous verdict's issues on
// retries.
type Runner interface {
	Run(ctx context.Context, task Task, spec string, lastReview *Verdict) (RunResult, error)
}

// Reviewer judges a finished task. Absent (nil) reviewer means review is
// skipped regardless of configuration.
type Reviewer interface {
	Review(ctx context.Context, task Task, spec string) (Verdict, error)
}

// Scheduler drives the task DAG to completion in waves of bounded
// parallelism. It owns all task state transitions; workers only declare
// outcomes.
type Scheduler struct {
	store    *Store
	runner   Runner
	reviewer Reviewer
	feed     *feed.Feed // optional: crew events into the shared feed
	agent    string     // name the feed events are attributed to
	cfg      config.CrewConfig
}

// NewScheduler assembles a scheduler. reviewer and fd may be nil.
func NewScheduler(store *Store, runner Runner, reviewer Reviewer, fd *feed.Feed, agent string, cfg config.CrewConfig) *Scheduler {
	return &Scheduler{
		store:    store,
		runner:   runner,
		reviewer: reviewer,
		feed:     fd,
		agent:    agent,
		cfg:      cfg,
	}
}

// ReadyTasks returns the todo tasks whose dependencies are all done, in
// ascending numeric id order. Tasks with missing dependencies never become
// ready; planning should have rejected them.
func ReadyTasks(tasks []Task) []Task {
	byID := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	var ready []Task
	for _, t := range tasks {
		if t.Status != StatusTodo {
			continue
		}
		ok := true
		for _, dep := range t.DependsOn {
			d, exists := byID[dep]
			if !exists || d.Status != StatusDone {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return taskNum(ready[i].ID) < taskNum(ready[j].ID) })
	return ready
}

// WaveResult summarizes one wave.
type WaveResult struct {
	Started []string // task ids spawned this wave
	Done    []string
	Blocked []string
	Retried []string // failed but returned to todo
}

// RunWave selects up to workers ready tasks, runs them to termination, and
// records the outcomes. The wave ends only when every spawned worker has
// terminated; wave N+1 never overlaps wave N.
func (s *Scheduler) RunWave(ctx context.Context) (WaveResult, error) {
	var result WaveResult

	if _, err := s.store.LoadPlan(); err != nil {
		return result, err
	}
	tasks, err := s.store.ListTasks()
	if err != nil {
		return result, err
	}

	ready := ReadyTasks(tasks)
	workers := s.cfg.Concurrency.Workers
	if workers <= 0 {
		workers = 1
	}
	if len(ready) > workers {
		ready = ready[:workers]
	}
	if len(ready) == 0 {
		return result, nil
	}

	// Transition every selected task before spawning anything, so an
	// observer never sees a running worker on a todo task.
	type launch struct {
		task Task
		spec string
	}
	launches := make([]launch, 0, len(ready))
	for i, task := range ready {
		task.Status = StatusInProgress
		task.AssignedTo = fmt.Sprintf("%s-w%d", s.agent, i+1)
		task.AttemptCount++
		if err := s.store.SaveTask(task); err != nil {
			return result, err
		}
		spec, err := s.store.TaskBody(task.ID)
		if err != nil {
			spec = task.Title
		}
		result.Started = append(result.Started, task.ID)
		s.event(protocol.EventCrewTaskStart, task.ID, task.Title)
		launches = append(launches, launch{task: task, spec: spec})
	}

	type outcome struct {
		task   Task
		spec   string
		result RunResult
		err    error
	}
	outcomes := make([]outcome, len(launches))
	var wg sync.WaitGroup
	for i, l := range launches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.runner.Run(ctx, l.task, l.spec, l.task.LastReview)
			outcomes[i] = outcome{task: l.task, spec: l.spec, result: res, err: err}
		}()
	}
	wg.Wait()

	for _, o := range outcomes {
		s.settle(ctx, o.task, o.spec, o.result, o.err, &result)
	}
	return result, nil
}

// settle validates and records one worker's declaration.
func (s *Scheduler) settle(ctx context.Context, task Task, spec string, res RunResult, runErr error, wave *WaveResult) {
	switch {
	case runErr == nil && res.Outcome == OutcomeDone:
		s.settleDone(ctx, task, spec, res, wave)
	case runErr == nil && res.Outcome == OutcomeBlocked:
		reason := res.BlockedReason
		if reason == "" {
			reason = "worker declared block without a reason"
		}
		s.block(task, reason, wave)
	default:
		// Abnormal termination or an explicit failure verdict.
		if task.AttemptCount < s.maxAttempts() {
			task.Status = StatusTodo
			task.AssignedTo = ""
			_ = s.store.SaveTask(task)
			wave.Retried = append(wave.Retried, task.ID)
			return
		}
		s.block(task, "exceeded max attempts", wave)
	}
}

// settleDone runs the optional review step, then marks done or routes the
// task back per the verdict.
func (s *Scheduler) settleDone(ctx context.Context, task Task, spec string, res RunResult, wave *WaveResult) {
	task.Summary = s.truncate("worker", res.Summary)
	if task.Summary == "" {
		task.Summary = "completed (no summary provided)"
	}

	if s.reviewer != nil && s.cfg.Review.Enabled {
		verdict, err := s.reviewer.Review(ctx, task, spec)
		if err == nil {
			task.ReviewCount++
			task.LastReview = &verdict
			switch verdict.Verdict {
			case VerdictNeedsWork:
				if task.ReviewCount >= s.cfg.Review.MaxIterations {
					s.block(task, "review iterations exhausted: "+verdict.Summary, wave)
					return
				}
				task.Status = StatusTodo
				task.AssignedTo = ""
				_ = s.store.SaveTask(task)
				wave.Retried = append(wave.Retried, task.ID)
				return
			case VerdictMajorRethink:
				s.block(task, verdict.Summary, wave)
				return
			case VerdictShip:
				// fall through to done
			}
		}
		// A failed review never blocks shipping: the worker's declaration
		// stands.
	}

	task.Status = StatusDone
	_ = s.store.SaveTask(task)
	wave.Done = append(wave.Done, task.ID)
	s.event(protocol.EventCrewTaskDone, task.ID, task.Summary)
}

// block transitions a task to blocked with the given reason.
func (s *Scheduler) block(task Task, reason string, wave *WaveResult) {
	task.Status = StatusBlocked
	task.BlockedReason = reason
	task.AssignedTo = ""
	_ = s.store.SaveTask(task)
	_ = s.store.SaveBlockContext(task.ID, reason)
	wave.Blocked = append(wave.Blocked, task.ID)
	s.event(protocol.EventCrewTaskBlock, task.ID, reason)
}

// RunSummary aggregates an autonomous run.
type RunSummary struct {
	Waves   int
	Done    []string
	Blocked []string
}

// RunAutonomous repeats waves until no todo tasks remain, nothing is ready
// (everything left is blocked or gated on blocked work), maxWaves is hit,
// or stopOnBlock trips.
func (s *Scheduler) RunAutonomous(ctx context.Context) (RunSummary, error) {
	var summary RunSummary
	maxWaves := s.cfg.Work.MaxWaves
	if maxWaves <= 0 {
		maxWaves = 1
	}

	for summary.Waves < maxWaves {
		tasks, err := s.store.ListTasks()
		if err != nil {
			return summary, err
		}
		if !anyTodo(tasks) || len(ReadyTasks(tasks)) == 0 {
			break
		}

		wave, err := s.RunWave(ctx)
		if err != nil {
			return summary, err
		}
		summary.Waves++
		summary.Done = append(summary.Done, wave.Done...)
		summary.Blocked = append(summary.Blocked, wave.Blocked...)

		if s.cfg.Work.StopOnBlock && len(wave.Blocked) > 0 {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	return summary, nil
}

func anyTodo(tasks []Task) bool {
	for _, t := range tasks {
		if t.Status == StatusTodo {
			return true
		}
	}
	return false
}

// Reset returns a task to a clean todo state. With cascade, every
// transitive dependent is reset too; dependency edges are preserved and no
// other task is touched.
func (s *Scheduler) Reset(id string, cascade bool) error {
	tasks, err := s.store.ListTasks()
	if err != nil {
		return err
	}
	byID := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	if _, ok := byID[id]; !ok {
		return &UnknownTaskError{ID: id}
	}

	targets := map[string]bool{id: true}
	if cascade {
		collectDependents(id, tasks, targets)
	}

	for _, t := range tasks {
		if !targets[t.ID] {
			continue
		}
		t.Status = StatusTodo
		t.AttemptCount = 0
		t.ReviewCount = 0
		t.AssignedTo = ""
		t.Summary = ""
		t.LastReview = nil
		t.BlockedReason = ""
		if err := s.store.SaveTask(t); err != nil {
			return err
		}
	}
	return nil
}

// collectDependents marks every transitive dependent of id.
func collectDependents(id string, tasks []Task, out map[string]bool) {
	for _, t := range tasks {
		if out[t.ID] {
			continue
		}
		for _, dep := range t.DependsOn {
			if out[dep] {
				out[t.ID] = true
				collectDependents(t.ID, tasks, out)
				break
			}
		}
	}
}

// Unblock returns a blocked task to todo, keeping its attempt history.
func (s *Scheduler) Unblock(id string) error {
	task, err := s.store.LoadTask(id)
	if err != nil {
		return err
	}
	if task.Status != StatusBlocked {
		return fmt.Errorf("task %s is %s, not blocked", id, task.Status)
	}
	task.Status = StatusTodo
	task.BlockedReason = ""
	return s.store.SaveTask(task)
}

func (s *Scheduler) maxAttempts() int {
	if s.cfg.Work.MaxAttemptsPerTask <= 0 {
		return 1
	}
	return s.cfg.Work.MaxAttemptsPerTask
}

// truncate applies the configured byte/line caps for a role.
func (s *Scheduler) truncate(role, text string) string {
	caps, ok := s.cfg.Truncation[role]
	if !ok {
		return text
	}
	if caps.MaxLines > 0 {
		lines := 0
		for i, r := range text {
			if r == '\n' {
				lines++
				if lines >= caps.MaxLines {
					text = text[:i]
					break
				}
			}
		}
	}
	if caps.MaxBytes > 0 && len(text) > caps.MaxBytes {
		text = text[:caps.MaxBytes]
	}
	return text
}

// event appends a crew event to the shared feed when wired.
func (s *Scheduler) event(kind protocol.EventKind, taskID, text string) {
	if s.feed == nil {
		return
	}
	_ = s.feed.Append(protocol.FeedEvent{Agent: s.agent, Kind: kind, Task: taskID, Text: text})
}
