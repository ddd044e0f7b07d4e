package crew

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"pimsg/pkg/protocol"
)

// Store reads and writes plan, tasks, and block contexts as individual
// files under the project crew directory. Task JSON is written atomically;
// the scheduler and external inspectors both read these files.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at projectDir/.pi/messenger/crew.
func NewStore(projectDir string) *Store {
	return &Store{dir: filepath.Join(projectDir, protocol.CrewSubdir)}
}

// Dir returns the crew directory path.
func (s *Store) Dir() string { return s.dir }

func (s *Store) tasksDir() string  { return filepath.Join(s.dir, "tasks") }
func (s *Store) blocksDir() string { return filepath.Join(s.dir, "blocks") }
func (s *Store) planPath() string  { return filepath.Join(s.dir, "plan.json") }

// SavePlan writes the plan header and its markdown body.
func (s *Store) SavePlan(plan Plan, body string) error {
	for _, dir := range []string{s.dir, s.tasksDir(), s.blocksDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create crew dir: %w", err)
		}
	}
	if err := protocol.WriteJSONAtomic(s.planPath(), plan); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.dir, "plan.md"), []byte(body), 0o644); err != nil { //nolint:gosec // plan body is project-visible
		return fmt.Errorf("write plan body: %w", err)
	}
	return nil
}

// LoadPlan reads the plan header. Missing plan yields *NoPlanError.
func (s *Store) LoadPlan() (Plan, error) {
	var plan Plan
	if err := protocol.ReadJSON(s.planPath(), &plan); err != nil {
		if os.IsNotExist(err) {
			return plan, &NoPlanError{Dir: s.dir}
		}
		return plan, err
	}
	return plan, nil
}

// SaveProgress records planning progress notes.
func (s *Store) SaveProgress(notes string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create crew dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, "planning-progress.md"), []byte(notes), 0o644); err != nil { //nolint:gosec // progress notes are project-visible
		return fmt.Errorf("write planning progress: %w", err)
	}
	return nil
}

// CreateTask assigns the next task-<N> id and persists the task with its
// markdown specification body.
func (s *Store) CreateTask(title, body string, dependsOn []string) (Task, error) {
	if err := os.MkdirAll(s.tasksDir(), 0o755); err != nil {
		return Task{}, fmt.Errorf("create tasks dir: %w", err)
	}
	next, err := s.nextTaskNum()
	if err != nil {
		return Task{}, err
	}
	task := Task{
		ID:        fmt.Sprintf("task-%d", next),
		Title:     title,
		Status:    StatusTodo,
		DependsOn: dependsOn,
	}
	if err := s.SaveTask(task); err != nil {
		return Task{}, err
	}
	if err := os.WriteFile(s.taskBodyPath(task.ID), []byte(body), 0o644); err != nil { //nolint:gosec // task body is project-visible
		return Task{}, fmt.Errorf("write task body: %w", err)
	}
	return task, nil
}

// SaveTask persists a task's JSON state.
func (s *Store) SaveTask(task Task) error {
	return protocol.WriteJSONAtomic(s.taskPath(task.ID), task)
}

// LoadTask reads one task by id.
func (s *Store) LoadTask(id string) (Task, error) {
	var task Task
	if err := protocol.ReadJSON(s.taskPath(id), &task); err != nil {
		if os.IsNotExist(err) {
			return task, &UnknownTaskError{ID: id}
		}
		return task, err
	}
	return task, nil
}

// TaskBody reads a task's markdown specification.
func (s *Store) TaskBody(id string) (string, error) {
	data, err := os.ReadFile(s.taskBodyPath(id)) //nolint:gosec // path is constructed from the crew dir
	if err != nil {
		if os.IsNotExist(err) {
			return "", &UnknownTaskError{ID: id}
		}
		return "", fmt.Errorf("read task body: %w", err)
	}
	return string(data), nil
}

// ListTasks returns every task in ascending numeric id order.
func (s *Store) ListTasks() ([]Task, error) {
	entries, err := os.ReadDir(s.tasksDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tasks dir: %w", err)
	}

	var tasks []Task
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		var task Task
		if err := protocol.ReadJSON(filepath.Join(s.tasksDir(), name), &task); err != nil {
			continue // a half-written or foreign file never breaks the listing
		}
		tasks = append(tasks, task)
	}

	sort.Slice(tasks, func(i, j int) bool { return taskNum(tasks[i].ID) < taskNum(tasks[j].ID) })
	return tasks, nil
}

// SaveBlockContext records why a task blocked, for the unblock workflow.
func (s *Store) SaveBlockContext(id, body string) error {
	if err := os.MkdirAll(s.blocksDir(), 0o755); err != nil {
		return fmt.Errorf("create blocks dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.blocksDir(), id+".md"), []byte(body), 0o644); err != nil { //nolint:gosec // block context is project-visible
		return fmt.Errorf("write block context: %w", err)
	}
	return nil
}

func (s *Store) taskPath(id string) string     { return filepath.Join(s.tasksDir(), id+".json") }
func (s *Store) taskBodyPath(id string) string { return filepath.Join(s.tasksDir(), id+".md") }

// nextTaskNum scans existing task files for the highest N.
func (s *Store) nextTaskNum() (int, error) {
	entries, err := os.ReadDir(s.tasksDir())
	if err != nil {
		return 0, fmt.Errorf("read tasks dir: %w", err)
	}
	max := 0
	for _, entry := range entries {
		n := taskNum(strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())))
		if n > max {
			max = n
		}
	}
	return max + 1, nil
}

// taskNum extracts N from "task-N"; 0 for anything else.
func taskNum(id string) int {
	rest, ok := strings.CutPrefix(id, "task-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0
	}
	return n
}

// ValidateDAG checks that every dependency exists and the graph is acyclic.
func ValidateDAG(tasks []Task) error {
	byID := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := byID[dep]; !ok {
				return &UnknownTaskError{ID: dep}
			}
		}
	}

	// Recursive three-color DFS; the gray stack names the cycle.
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(tasks))
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range byID[id].DependsOn {
			switch color[dep] {
			case gray:
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				return &CycleError{IDs: append(append([]string{}, stack[start:]...), dep)}
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, t := range tasks {
		if color[t.ID] == white {
			if err := visit(t.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
