package main

import (
	"github.com/spf13/cobra"
)

// newReleaseCmd drops a reservation by pattern.
func newReleaseCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "release <pattern>",
		Short: "Release a reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFor(opts)
			if err != nil {
				return err
			}
			return render(app.Dispatch(cmd.Context(), Request{Action: ActionRelease, Pattern: args[0]}))
		},
	}
}
