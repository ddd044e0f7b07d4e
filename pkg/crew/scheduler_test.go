package crew_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"pimsg/pkg/config"
	"pimsg/pkg/crew"
)

// scriptedRunner returns per-task scripted results, one per attempt, and
// tracks concurrency so tests can assert the wave bound.
type scriptedRunner struct {
	mu            sync.Mutex
	script        map[string][]crew.RunResult
	calls         map[string]int
	lastReviews   map[string]*crew.Verdict
	running       int
	maxConcurrent int
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		script:      make(map[string][]crew.RunResult),
		calls:       make(map[string]int),
		lastReviews: make(map[string]*crew.Verdict),
	}
}

func (r *scriptedRunner) on(id string, results ...crew.RunResult) {
	r.script[id] = append(r.script[id], results...)
}

func (r *scriptedRunner) Run(_ context.Context, task crew.Task, _ string, lastReview *crew.Verdict) (crew.RunResult, error) {
	r.mu.Lock()
	r.running++
	if r.running > r.maxConcurrent {
		r.maxConcurrent = r.running
	}
	attempt := r.calls[task.ID]
	r.calls[task.ID]++
	r.lastReviews[task.ID] = lastReview
	results := r.script[task.ID]
	r.mu.Unlock()

	time.Sleep(5 * time.Millisecond) // give parallel workers a chance to overlap

	r.mu.Lock()
	r.running--
	r.mu.Unlock()

	if attempt < len(results) {
		return results[attempt], nil
	}
	return crew.RunResult{Outcome: crew.OutcomeDone, Summary: "done by default"}, nil
}

// scriptedReviewer returns verdicts in order, then SHIP forever.
type scriptedReviewer struct {
	mu       sync.Mutex
	verdicts []crew.Verdict
	calls    int
}

func (r *scriptedReviewer) Review(_ context.Context, _ crew.Task, _ string) (crew.Verdict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.calls
	r.calls++
	if i < len(r.verdicts) {
		return r.verdicts[i], nil
	}
	return crew.Verdict{Verdict: crew.VerdictShip, Summary: "fine"}, nil
}

// setupPlan writes a plan with the given tasks (id → deps).
func setupPlan(t *testing.T, ids []string, deps map[string][]string) *crew.Store {
	t.Helper()
	s := crew.NewStore(t.TempDir())
	if err := s.SavePlan(crew.Plan{CreatedAt: time.Now()}, "# plan"); err != nil {
		t.Fatal(err)
	}
	for _, id := range ids {
		if _, err := s.CreateTask("work "+id, "spec for "+id, deps[id]); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func noReviewCfg(workers, maxAttempts int) config.CrewConfig {
	cfg := config.Default().Crew
	cfg.Concurrency.Workers = workers
	cfg.Work.MaxAttemptsPerTask = maxAttempts
	cfg.Review.Enabled = false
	return cfg
}

func taskStates(t *testing.T, s *crew.Store) map[string]crew.Task {
	t.Helper()
	tasks, err := s.ListTasks()
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string]crew.Task, len(tasks))
	for _, task := range tasks {
		out[task.ID] = task
	}
	return out
}

func TestReadyTasks(t *testing.T) {
	t.Parallel()

	tasks := []crew.Task{
		{ID: "task-1", Status: crew.StatusDone},
		{ID: "task-2", Status: crew.StatusTodo, DependsOn: []string{"task-1"}},
		{ID: "task-3", Status: crew.StatusTodo, DependsOn: []string{"task-2"}},
		{ID: "task-4", Status: crew.StatusBlocked},
		{ID: "task-10", Status: crew.StatusTodo},
	}
	ready := crew.ReadyTasks(tasks)
	if len(ready) != 2 {
		t.Fatalf("ready = %+v, want task-2 and task-10", ready)
	}
	// Ascending numeric order: task-2 before task-10.
	if ready[0].ID != "task-2" || ready[1].ID != "task-10" {
		t.Errorf("order = %s, %s", ready[0].ID, ready[1].ID)
	}
}

func TestWaveRunsLowestIDsFirst(t *testing.T) {
	t.Parallel()

	s := setupPlan(t, []string{"task-1", "task-2", "task-3"}, nil)
	runner := newScriptedRunner()
	sched := crew.NewScheduler(s, runner, nil, nil, "Swift", noReviewCfg(2, 5))

	wave, err := sched.RunWave(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(wave.Started) != 2 || wave.Started[0] != "task-1" || wave.Started[1] != "task-2" {
		t.Errorf("started = %v, want the two lowest ids", wave.Started)
	}
	if runner.maxConcurrent > 2 {
		t.Errorf("concurrency %d exceeded worker bound 2", runner.maxConcurrent)
	}

	states := taskStates(t, s)
	if states["task-3"].Status != crew.StatusTodo {
		t.Errorf("task-3 = %s, want todo until next wave", states["task-3"].Status)
	}
	if states["task-1"].AttemptCount != 1 {
		t.Errorf("attemptCount = %d, want 1", states["task-1"].AttemptCount)
	}
}

func TestWaveExecutionAndRetry(t *testing.T) {
	t.Parallel()

	// T1 ← {T2, T3}; T4 depends on both T2 and T3. workers=2, maxAttempts=2.
	s := setupPlan(t,
		[]string{"task-1", "task-2", "task-3", "task-4"},
		map[string][]string{
			"task-2": {"task-1"},
			"task-3": {"task-1"},
			"task-4": {"task-2", "task-3"},
		})

	runner := newScriptedRunner()
	runner.on("task-1", crew.RunResult{Outcome: crew.OutcomeDone, Summary: "t1 done"})
	runner.on("task-2", crew.RunResult{Outcome: crew.OutcomeDone, Summary: "t2 done"})
	runner.on("task-3",
		crew.RunResult{Outcome: crew.OutcomeFailed},
		crew.RunResult{Outcome: crew.OutcomeFailed})

	sched := crew.NewScheduler(s, runner, nil, nil, "Swift", noReviewCfg(2, 2))
	summary, err := sched.RunAutonomous(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	states := taskStates(t, s)
	if states["task-1"].Status != crew.StatusDone || states["task-2"].Status != crew.StatusDone {
		t.Errorf("t1=%s t2=%s, want done/done", states["task-1"].Status, states["task-2"].Status)
	}
	if states["task-3"].Status != crew.StatusBlocked {
		t.Fatalf("t3 = %s, want blocked after exhausting attempts", states["task-3"].Status)
	}
	if states["task-3"].BlockedReason != "exceeded max attempts" {
		t.Errorf("blocked reason = %q", states["task-3"].BlockedReason)
	}
	if states["task-3"].AttemptCount != 2 {
		t.Errorf("t3 attempts = %d, want 2", states["task-3"].AttemptCount)
	}
	// T4 never entered in_progress: its dependency blocked.
	if states["task-4"].Status != crew.StatusTodo || states["task-4"].AttemptCount != 0 {
		t.Errorf("t4 = %s attempts=%d, want untouched todo", states["task-4"].Status, states["task-4"].AttemptCount)
	}
	if summary.Waves == 0 {
		t.Error("no waves ran")
	}
}

func TestDependencyGateHolds(t *testing.T) {
	t.Parallel()

	s := setupPlan(t, []string{"task-1", "task-2"}, map[string][]string{
		"task-2": {"task-1"},
	})
	runner := newScriptedRunner()
	runner.on("task-1", crew.RunResult{Outcome: crew.OutcomeBlocked, BlockedReason: "missing credentials"})

	sched := crew.NewScheduler(s, runner, nil, nil, "Swift", noReviewCfg(2, 5))
	if _, err := sched.RunAutonomous(context.Background()); err != nil {
		t.Fatal(err)
	}

	states := taskStates(t, s)
	if states["task-1"].Status != crew.StatusBlocked {
		t.Errorf("t1 = %s", states["task-1"].Status)
	}
	if states["task-2"].AttemptCount != 0 {
		t.Error("t2 ran despite unmet dependency")
	}
}

func TestReviewNeedsWorkRetriesWithIssues(t *testing.T) {
	t.Parallel()

	s := setupPlan(t, []string{"task-1"}, nil)
	runner := newScriptedRunner()
	runner.on("task-1",
		crew.RunResult{Outcome: crew.OutcomeDone, Summary: "first pass"},
		crew.RunResult{Outcome: crew.OutcomeDone, Summary: "second pass"})

	reviewer := &scriptedReviewer{verdicts: []crew.Verdict{
		{Verdict: crew.VerdictNeedsWork, Summary: "not yet", Issues: []string{"missing tests"}},
		{Verdict: crew.VerdictShip, Summary: "good now"},
	}}

	cfg := noReviewCfg(1, 5)
	cfg.Review.Enabled = true
	sched := crew.NewScheduler(s, runner, reviewer, nil, "Swift", cfg)

	if _, err := sched.RunAutonomous(context.Background()); err != nil {
		t.Fatal(err)
	}

	states := taskStates(t, s)
	if states["task-1"].Status != crew.StatusDone {
		t.Fatalf("status = %s, want done after SHIP", states["task-1"].Status)
	}
	if states["task-1"].Summary != "second pass" {
		t.Errorf("summary = %q", states["task-1"].Summary)
	}

	// The retry attempt saw the NEEDS_WORK issues.
	runner.mu.Lock()
	last := runner.lastReviews["task-1"]
	runner.mu.Unlock()
	if last == nil || len(last.Issues) != 1 || last.Issues[0] != "missing tests" {
		t.Errorf("retry did not carry review issues: %+v", last)
	}
}

func TestReviewMajorRethinkBlocks(t *testing.T) {
	t.Parallel()

	s := setupPlan(t, []string{"task-1"}, nil)
	runner := newScriptedRunner()
	runner.on("task-1", crew.RunResult{Outcome: crew.OutcomeDone, Summary: "done"})
	reviewer := &scriptedReviewer{verdicts: []crew.Verdict{
		{Verdict: crew.VerdictMajorRethink, Summary: "wrong architecture"},
	}}

	cfg := noReviewCfg(1, 5)
	cfg.Review.Enabled = true
	sched := crew.NewScheduler(s, runner, reviewer, nil, "Swift", cfg)

	if _, err := sched.RunWave(context.Background()); err != nil {
		t.Fatal(err)
	}
	states := taskStates(t, s)
	if states["task-1"].Status != crew.StatusBlocked {
		t.Errorf("status = %s, want blocked", states["task-1"].Status)
	}
	if states["task-1"].BlockedReason != "wrong architecture" {
		t.Errorf("reason = %q", states["task-1"].BlockedReason)
	}
}

func TestStopOnBlockEndsRun(t *testing.T) {
	t.Parallel()

	s := setupPlan(t, []string{"task-1", "task-2"}, nil)
	runner := newScriptedRunner()
	runner.on("task-1", crew.RunResult{Outcome: crew.OutcomeBlocked, BlockedReason: "stop here"})
	runner.on("task-2", crew.RunResult{Outcome: crew.OutcomeDone, Summary: "x"})

	cfg := noReviewCfg(1, 5)
	cfg.Work.StopOnBlock = true
	sched := crew.NewScheduler(s, runner, nil, nil, "Swift", cfg)

	summary, err := sched.RunAutonomous(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Waves != 1 {
		t.Errorf("ran %d waves, want 1 (stopOnBlock)", summary.Waves)
	}
	states := taskStates(t, s)
	if states["task-2"].Status != crew.StatusTodo {
		t.Errorf("t2 = %s, want todo", states["task-2"].Status)
	}
}

func TestResetWithCascade(t *testing.T) {
	t.Parallel()

	s := setupPlan(t,
		[]string{"task-1", "task-2", "task-3", "task-4"},
		map[string][]string{
			"task-2": {"task-1"},
			"task-3": {"task-2"},
			"task-4": {}, // unrelated
		})
	runner := newScriptedRunner()
	sched := crew.NewScheduler(s, runner, nil, nil, "Swift", noReviewCfg(4, 5))
	if _, err := sched.RunAutonomous(context.Background()); err != nil {
		t.Fatal(err)
	}

	states := taskStates(t, s)
	for _, id := range []string{"task-1", "task-2", "task-3", "task-4"} {
		if states[id].Status != crew.StatusDone {
			t.Fatalf("%s = %s, want done before reset", id, states[id].Status)
		}
	}

	if err := sched.Reset("task-2", true); err != nil {
		t.Fatal(err)
	}

	states = taskStates(t, s)
	for _, id := range []string{"task-2", "task-3"} {
		task := states[id]
		if task.Status != crew.StatusTodo || task.AttemptCount != 0 || task.Summary != "" || task.AssignedTo != "" {
			t.Errorf("%s not fully reset: %+v", id, task)
		}
	}
	// Dependency edges survive.
	if len(states["task-3"].DependsOn) != 1 || states["task-3"].DependsOn[0] != "task-2" {
		t.Errorf("edges lost on reset: %+v", states["task-3"].DependsOn)
	}
	// Untouched tasks keep their state.
	if states["task-1"].Status != crew.StatusDone || states["task-4"].Status != crew.StatusDone {
		t.Errorf("cascade touched unrelated tasks: t1=%s t4=%s", states["task-1"].Status, states["task-4"].Status)
	}
}

func TestResetUnknownTask(t *testing.T) {
	t.Parallel()

	s := setupPlan(t, []string{"task-1"}, nil)
	sched := crew.NewScheduler(s, newScriptedRunner(), nil, nil, "Swift", noReviewCfg(1, 5))
	if err := sched.Reset("task-99", false); err == nil {
		t.Error("reset of unknown task accepted")
	}
}

func TestUnblockReturnsToTodo(t *testing.T) {
	t.Parallel()

	s := setupPlan(t, []string{"task-1"}, nil)
	runner := newScriptedRunner()
	runner.on("task-1", crew.RunResult{Outcome: crew.OutcomeBlocked, BlockedReason: "waiting on design"})
	sched := crew.NewScheduler(s, runner, nil, nil, "Swift", noReviewCfg(1, 5))

	if _, err := sched.RunWave(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := sched.Unblock("task-1"); err != nil {
		t.Fatal(err)
	}

	states := taskStates(t, s)
	task := states["task-1"]
	if task.Status != crew.StatusTodo || task.BlockedReason != "" {
		t.Errorf("unblocked task = %+v", task)
	}
	if task.AttemptCount != 1 {
		t.Errorf("attempt history lost on unblock: %d", task.AttemptCount)
	}
}

func TestNoPlanFailsWave(t *testing.T) {
	t.Parallel()

	s := crew.NewStore(t.TempDir())
	sched := crew.NewScheduler(s, newScriptedRunner(), nil, nil, "Swift", noReviewCfg(1, 5))
	if _, err := sched.RunWave(context.Background()); err == nil {
		t.Error("wave without a plan accepted")
	}
}
