package main

import (
	"strings"

	"github.com/spf13/cobra"
)

// newSwarmCmd groups the shared-spec task claiming operations.
func newSwarmCmd(opts *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swarm",
		Short: "Claim and complete tasks from a shared spec",
	}
	cmd.AddCommand(
		newSwarmClaimCmd(opts),
		newSwarmUnclaimCmd(opts),
		newSwarmCompleteCmd(opts),
		newSwarmStatusCmd(opts),
	)
	return cmd
}

func newSwarmClaimCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <spec> <task-id> [reason...]",
		Short: "Atomically claim a task",
		Long: `claim records (spec, task) as owned by this agent.

An agent holds at most one claim at a time across all specs; unclaim or
complete the current one first.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFor(opts)
			if err != nil {
				return err
			}
			return render(app.Dispatch(cmd.Context(), Request{
				Action: ActionClaim,
				Spec:   args[0],
				TaskID: args[1],
				Reason: strings.Join(args[2:], " "),
			}))
		},
	}
}

func newSwarmUnclaimCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "unclaim <spec> <task-id>",
		Short: "Release a claim without completing it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFor(opts)
			if err != nil {
				return err
			}
			return render(app.Dispatch(cmd.Context(), Request{
				Action: ActionUnclaim,
				Spec:   args[0],
				TaskID: args[1],
			}))
		},
	}
}

func newSwarmCompleteCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <spec> <task-id> [notes...]",
		Short: "Durably mark a claimed task as finished",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFor(opts)
			if err != nil {
				return err
			}
			return render(app.Dispatch(cmd.Context(), Request{
				Action: ActionComplete,
				Spec:   args[0],
				TaskID: args[1],
				Notes:  strings.Join(args[2:], " "),
			}))
		},
	}
}

func newSwarmStatusCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "status <spec>",
		Short: "Show claims and completions for a spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFor(opts)
			if err != nil {
				return err
			}
			return render(app.Dispatch(cmd.Context(), Request{Action: ActionSwarmStatus, Spec: args[0]}))
		},
	}
}
