package main

import (
	"strings"

	"github.com/spf13/cobra"
)

// newReserveCmd declares exclusive-edit intent over a path pattern.
func newReserveCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "reserve <pattern> [reason...]",
		Short: "Reserve files matching a pattern for exclusive editing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFor(opts)
			if err != nil {
				return err
			}
			return render(app.Dispatch(cmd.Context(), Request{
				Action:  ActionReserve,
				Pattern: args[0],
				Reason:  strings.Join(args[1:], " "),
			}))
		},
	}
}
