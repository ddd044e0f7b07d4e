package crew

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PlannedTask is one task proposed by the planner collaborator, before ids
// are assigned. DependsOn refers to earlier planned tasks by 1-based
// position, which survives renumbering across planning passes.
type PlannedTask struct {
	Title     string `json:"title"`
	Spec      string `json:"spec"`
	DependsOn []int  `json:"dependsOn,omitempty"`
}

// jsonBlockRe finds a fenced json code block in planner output.
var jsonBlockRe = regexp.MustCompile("(?s)```json\\s*(.*?)```")

// taskHeadingRe matches markdown fallback headings like "## Task 3: Title".
var taskHeadingRe = regexp.MustCompile(`(?m)^##\s+Task\s+(\d+)\s*:\s*(.+)$`)

// dependsLineRe matches a "Depends on: 1, 2" line in a task section.
var dependsLineRe = regexp.MustCompile(`(?im)^depends\s+on\s*:\s*(.+)$`)

// ParsePlannerOutput extracts the task list from planner output. A fenced
// JSON block is preferred; a markdown heading structure is the fallback, so
// the planner prompt can evolve without breaking this consumer.
func ParsePlannerOutput(output string) ([]PlannedTask, error) {
	if m := jsonBlockRe.FindStringSubmatch(output); m != nil {
		var parsed struct {
			Tasks []PlannedTask `json:"tasks"`
		}
		if err := json.Unmarshal([]byte(m[1]), &parsed); err == nil && len(parsed.Tasks) > 0 {
			return parsed.Tasks, nil
		}
		// A malformed block falls through to the markdown path.
	}

	tasks := parseMarkdownTasks(output)
	if len(tasks) == 0 {
		return nil, fmt.Errorf("planner output contains no tasks")
	}
	return tasks, nil
}

// parseMarkdownTasks reads "## Task N: Title" sections.
func parseMarkdownTasks(output string) []PlannedTask {
	matches := taskHeadingRe.FindAllStringSubmatchIndex(output, -1)
	var tasks []PlannedTask
	for i, m := range matches {
		title := strings.TrimSpace(output[m[4]:m[5]])
		end := len(output)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := output[m[1]:end]

		task := PlannedTask{Title: title, Spec: strings.TrimSpace(body)}
		if dm := dependsLineRe.FindStringSubmatch(body); dm != nil {
			for _, part := range strings.Split(dm[1], ",") {
				ref := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "task"))
				n, err := strconv.Atoi(ref)
				if err != nil || n < 1 {
					continue
				}
				task.DependsOn = append(task.DependsOn, n)
			}
		}
		tasks = append(tasks, task)
	}
	return tasks
}

// MaterializeTasks assigns ids to planned tasks, resolves positional
// dependencies, validates the DAG, and persists everything. Returns the
// created tasks in order.
func (s *Store) MaterializeTasks(planned []PlannedTask) ([]Task, error) {
	// Resolve positions to prospective ids before writing anything, so a
	// bad reference or cycle rejects the whole plan.
	start, err := s.peekNextTaskNum()
	if err != nil {
		return nil, err
	}
	prospective := make([]Task, len(planned))
	for i, p := range planned {
		id := fmt.Sprintf("task-%d", start+i)
		var deps []string
		for _, ref := range p.DependsOn {
			if ref < 1 || ref > len(planned) {
				return nil, fmt.Errorf("task %d: dependency %d out of range", i+1, ref)
			}
			deps = append(deps, fmt.Sprintf("task-%d", start+ref-1))
		}
		prospective[i] = Task{ID: id, Title: p.Title, Status: StatusTodo, DependsOn: deps}
	}
	if err := ValidateDAG(prospective); err != nil {
		return nil, err
	}

	created := make([]Task, 0, len(planned))
	for i, p := range planned {
		task, err := s.CreateTask(p.Title, p.Spec, prospective[i].DependsOn)
		if err != nil {
			return created, err
		}
		created = append(created, task)
	}
	return created, nil
}

// peekNextTaskNum is nextTaskNum without requiring the directory to exist.
func (s *Store) peekNextTaskNum() (int, error) {
	tasks, err := s.ListTasks()
	if err != nil {
		return 0, err
	}
	max := 0
	for _, t := range tasks {
		if n := taskNum(t.ID); n > max {
			max = n
		}
	}
	return max + 1, nil
}
