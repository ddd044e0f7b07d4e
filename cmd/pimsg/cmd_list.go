package main

import (
	"github.com/spf13/cobra"
)

// newListCmd lists live agents, evicting dead registrations as a side
// effect of the scan.
func newListCmd(opts *globalOpts) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFor(opts)
			if err != nil {
				return err
			}
			return render(app.Dispatch(cmd.Context(), Request{Action: ActionList, All: all}))
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include this agent in the listing")
	return cmd
}
