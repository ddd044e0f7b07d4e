package main

import (
	"github.com/spf13/cobra"
)

// newFeedCmd shows recent mesh activity.
func newFeedCmd(opts *globalOpts) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show recent activity events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFor(opts)
			if err != nil {
				return err
			}
			return render(app.Dispatch(cmd.Context(), Request{Action: ActionFeed, Limit: limit}))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max events to show (default: feed retention)")
	return cmd
}
