package main

import (
	"github.com/spf13/cobra"
)

// newCheckCmd probes a path for peer reservations, as a write/edit gate for
// integrating tools. Reads are never blocked; callers only probe writes.
func newCheckCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "check <path>",
		Short: "Check a path for conflicting reservations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFor(opts)
			if err != nil {
				return err
			}
			return render(app.Dispatch(cmd.Context(), Request{Action: ActionCheck, Path: args[0]}))
		},
	}
}
