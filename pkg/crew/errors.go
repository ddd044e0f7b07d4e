package crew

import (
	"fmt"
	"strings"
)

// NoPlanError reports a crew operation without a plan on disk.
type NoPlanError struct {
	Dir string
}

func (e *NoPlanError) Error() string {
	return fmt.Sprintf("no plan in %s: run plan first", e.Dir)
}

// UnknownTaskError reports a reference to a task id that does not exist.
type UnknownTaskError struct {
	ID string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("unknown task %s", e.ID)
}

// DependencyUnmetError reports a task whose dependencies are not done.
type DependencyUnmetError struct {
	ID    string
	Unmet []string
}

func (e *DependencyUnmetError) Error() string {
	return fmt.Sprintf("task %s depends on unfinished %s", e.ID, strings.Join(e.Unmet, ", "))
}

// AttemptsExceededError reports a task past its retry budget.
type AttemptsExceededError struct {
	ID       string
	Attempts int
}

func (e *AttemptsExceededError) Error() string {
	return fmt.Sprintf("task %s exceeded %d attempts", e.ID, e.Attempts)
}

// CycleError reports a dependency cycle in a proposed plan.
type CycleError struct {
	IDs []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle through %s", strings.Join(e.IDs, " -> "))
}
