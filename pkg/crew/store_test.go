package crew_test

import (
	"errors"
	"testing"
	"time"

	"pimsg/pkg/crew"
)

func TestPlanRoundTrip(t *testing.T) {
	t.Parallel()

	s := crew.NewStore(t.TempDir())

	_, err := s.LoadPlan()
	var noPlan *crew.NoPlanError
	if !errors.As(err, &noPlan) {
		t.Fatalf("got %v, want NoPlanError", err)
	}

	in := crew.Plan{PRDPath: "docs/prd.md", CreatedAt: time.Now(), Progress: "drafted"}
	if err := s.SavePlan(in, "# The plan\n"); err != nil {
		t.Fatal(err)
	}
	out, err := s.LoadPlan()
	if err != nil {
		t.Fatal(err)
	}
	if out.PRDPath != "docs/prd.md" || out.Progress != "drafted" {
		t.Errorf("plan round trip: %+v", out)
	}
}

func TestCreateTaskAssignsMonotonicIDs(t *testing.T) {
	t.Parallel()

	s := crew.NewStore(t.TempDir())
	if err := s.SavePlan(crew.Plan{CreatedAt: time.Now()}, ""); err != nil {
		t.Fatal(err)
	}

	t1, err := s.CreateTask("first", "do the first thing", nil)
	if err != nil {
		t.Fatal(err)
	}
	t2, err := s.CreateTask("second", "do the second thing", []string{t1.ID})
	if err != nil {
		t.Fatal(err)
	}
	if t1.ID != "task-1" || t2.ID != "task-2" {
		t.Errorf("ids = %s, %s", t1.ID, t2.ID)
	}

	body, err := s.TaskBody(t2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if body != "do the second thing" {
		t.Errorf("body = %q", body)
	}

	tasks, err := s.ListTasks()
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 || tasks[0].ID != "task-1" || tasks[1].ID != "task-2" {
		t.Errorf("list = %+v", tasks)
	}
}

func TestListTasksNumericOrder(t *testing.T) {
	t.Parallel()

	s := crew.NewStore(t.TempDir())
	if err := s.SavePlan(crew.Plan{CreatedAt: time.Now()}, ""); err != nil {
		t.Fatal(err)
	}
	for range 11 {
		if _, err := s.CreateTask("t", "body", nil); err != nil {
			t.Fatal(err)
		}
	}
	tasks, err := s.ListTasks()
	if err != nil {
		t.Fatal(err)
	}
	// task-10 sorts after task-9, not between task-1 and task-2.
	if tasks[9].ID != "task-10" || tasks[10].ID != "task-11" {
		t.Errorf("numeric ordering broken: %s, %s", tasks[9].ID, tasks[10].ID)
	}
}

func TestLoadUnknownTask(t *testing.T) {
	t.Parallel()

	s := crew.NewStore(t.TempDir())
	_, err := s.LoadTask("task-9")
	var unknown *crew.UnknownTaskError
	if !errors.As(err, &unknown) {
		t.Errorf("got %v, want UnknownTaskError", err)
	}
}

func TestValidateDAG(t *testing.T) {
	t.Parallel()

	good := []crew.Task{
		{ID: "task-1"},
		{ID: "task-2", DependsOn: []string{"task-1"}},
		{ID: "task-3", DependsOn: []string{"task-1", "task-2"}},
	}
	if err := crew.ValidateDAG(good); err != nil {
		t.Errorf("valid DAG rejected: %v", err)
	}

	missing := []crew.Task{{ID: "task-1", DependsOn: []string{"task-9"}}}
	var unknown *crew.UnknownTaskError
	if err := crew.ValidateDAG(missing); !errors.As(err, &unknown) {
		t.Errorf("got %v, want UnknownTaskError", err)
	}

	cyclic := []crew.Task{
		{ID: "task-1", DependsOn: []string{"task-3"}},
		{ID: "task-2", DependsOn: []string{"task-1"}},
		{ID: "task-3", DependsOn: []string{"task-2"}},
	}
	var cycle *crew.CycleError
	if err := crew.ValidateDAG(cyclic); !errors.As(err, &cycle) {
		t.Errorf("got %v, want CycleError", err)
	}
}
