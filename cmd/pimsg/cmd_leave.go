package main

import (
	"github.com/spf13/cobra"
)

// newLeaveCmd removes this agent's registration gracefully.
func newLeaveCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "leave",
		Short: "Leave the mesh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFor(opts)
			if err != nil {
				return err
			}
			return render(app.Dispatch(cmd.Context(), Request{Action: ActionLeave}))
		},
	}
}
