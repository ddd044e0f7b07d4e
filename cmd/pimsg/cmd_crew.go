package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"pimsg/pkg/crew"
)

// newCrewCmd groups the plan/work/task orchestration workflow.
func newCrewCmd(opts *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crew",
		Short: "Run a task plan in waves of worker sessions",
	}
	cmd.AddCommand(
		newCrewPlanCmd(opts),
		newCrewWorkCmd(opts),
		newCrewTasksCmd(),
		newCrewShowCmd(),
		newCrewResetCmd(opts),
		newCrewUnblockCmd(opts),
		newCrewReviewCmd(),
	)
	return cmd
}

// crewStore builds the store for the current project directory.
func crewStore() (*crew.Store, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working dir: %w", err)
	}
	return crew.NewStore(cwd), nil
}

// newCrewPlanCmd materializes a plan from planner collaborator output.
func newCrewPlanCmd(_ *globalOpts) *cobra.Command {
	var prdPath string
	cmd := &cobra.Command{
		Use:   "plan <planner-output.md>",
		Short: "Create the task plan from planner output",
		Long: `plan parses the planner collaborator's output (a fenced JSON task
block, or markdown "## Task N:" sections as fallback), validates the
dependency graph, and writes plan and task files.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			store, err := crewStore()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read planner output: %w", err)
			}
			planned, err := crew.ParsePlannerOutput(string(data))
			if err != nil {
				return render(fail(err))
			}
			if err := store.SavePlan(crew.Plan{PRDPath: prdPath, CreatedAt: time.Now()}, string(data)); err != nil {
				return render(fail(err))
			}
			created, err := store.MaterializeTasks(planned)
			if err != nil {
				return render(fail(err))
			}
			return render(ok(created))
		},
	}
	cmd.Flags().StringVar(&prdPath, "prd", "", "path of the PRD this plan implements")
	return cmd
}

// newCrewWorkCmd runs waves of worker sessions over the plan.
func newCrewWorkCmd(opts *globalOpts) *cobra.Command {
	var (
		autonomous bool
		workerCmd  []string
		reviewCmd  []string
	)
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run ready tasks in worker session waves",
		Long: `work selects ready tasks (todo with all dependencies done) in ascending
id order and spawns up to the configured number of worker sessions. One wave
runs per invocation; --autonomous repeats waves until nothing is ready or
the wave budget is spent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFor(opts)
			if err != nil {
				return err
			}
			store, err := crewStore()
			if err != nil {
				return err
			}
			if len(workerCmd) == 0 {
				return fmt.Errorf("--worker-cmd is required")
			}

			agent := opts.as
			if agent == "" {
				agent = "crew"
			}
			logDir := filepath.Join(store.Dir(), "artifacts")
			runner := crew.NewSessionRunner(workerCmd, app.Paths.Cwd, logDir)

			var reviewer crew.Reviewer
			if len(reviewCmd) > 0 {
				reviewer = crew.NewSessionReviewer(crew.NewSessionRunner(reviewCmd, app.Paths.Cwd, logDir))
			}

			var fd = app.Feed
			if !app.Cfg.CrewEventsInFeed {
				fd = nil
			}
			sched := crew.NewScheduler(store, runner, reviewer, fd, agent, app.Cfg.Crew)

			if autonomous {
				summary, err := sched.RunAutonomous(cmd.Context())
				if err != nil {
					return render(fail(err))
				}
				return render(ok(summary))
			}
			wave, err := sched.RunWave(cmd.Context())
			if err != nil {
				return render(fail(err))
			}
			return render(ok(wave))
		},
	}
	cmd.Flags().BoolVar(&autonomous, "autonomous", false, "repeat waves until done, blocked, or the wave budget is spent")
	cmd.Flags().StringSliceVar(&workerCmd, "worker-cmd", nil, "worker session command; the task prompt is appended")
	cmd.Flags().StringSliceVar(&reviewCmd, "review-cmd", nil, "reviewer session command; omit to skip review")
	return cmd
}

func newCrewTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List the plan's tasks",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			store, err := crewStore()
			if err != nil {
				return err
			}
			if _, err := store.LoadPlan(); err != nil {
				return render(fail(err))
			}
			tasks, err := store.ListTasks()
			if err != nil {
				return render(fail(err))
			}
			return render(ok(tasks))
		},
	}
}

func newCrewShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task with its specification body",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			store, err := crewStore()
			if err != nil {
				return err
			}
			task, err := store.LoadTask(args[0])
			if err != nil {
				return render(fail(err))
			}
			body, err := store.TaskBody(args[0])
			if err != nil {
				body = ""
			}
			return render(ok(map[string]any{"task": task, "spec": body}))
		},
	}
}

func newCrewResetCmd(opts *globalOpts) *cobra.Command {
	var cascade bool
	cmd := &cobra.Command{
		Use:   "reset <task-id>",
		Short: "Return a task to a clean todo state",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			app, err := appFor(opts)
			if err != nil {
				return err
			}
			store, err := crewStore()
			if err != nil {
				return err
			}
			sched := crew.NewScheduler(store, nil, nil, nil, "", app.Cfg.Crew)
			if err := sched.Reset(args[0], cascade); err != nil {
				return render(fail(err))
			}
			return render(ok(nil))
		},
	}
	cmd.Flags().BoolVar(&cascade, "cascade", false, "also reset all transitive dependents")
	return cmd
}

func newCrewUnblockCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <task-id>",
		Short: "Return a blocked task to todo",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			app, err := appFor(opts)
			if err != nil {
				return err
			}
			store, err := crewStore()
			if err != nil {
				return err
			}
			sched := crew.NewScheduler(store, nil, nil, nil, "", app.Cfg.Crew)
			if err := sched.Unblock(args[0]); err != nil {
				return render(fail(err))
			}
			return render(ok(nil))
		},
	}
}

// newCrewReviewCmd parses a reviewer output file into a structured verdict.
func newCrewReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review <reviewer-output.md>",
		Short: "Parse reviewer output into a structured verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read reviewer output: %w", err)
			}
			return render(ok(crew.ParseVerdict(string(data))))
		},
	}
}
