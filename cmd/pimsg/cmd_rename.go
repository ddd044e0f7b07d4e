package main

import (
	"github.com/spf13/cobra"
)

// newRenameCmd moves this agent to a new name, draining pending mail first
// so nothing is lost to the old mailbox.
func newRenameCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <new-name>",
		Short: "Change this agent's name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFor(opts)
			if err != nil {
				return err
			}
			return render(app.Dispatch(cmd.Context(), Request{Action: ActionRename, Name: args[0]}))
		},
	}
}
