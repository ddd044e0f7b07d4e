package main

import (
	"github.com/spf13/cobra"
)

// newHistoryCmd queries this agent's local archive of delivered messages.
func newHistoryCmd(opts *globalOpts) *cobra.Command {
	var (
		peer  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show archived messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFor(opts)
			if err != nil {
				return err
			}
			return render(app.Dispatch(cmd.Context(), Request{Action: ActionHistory, Peer: peer, Limit: limit}))
		},
	}
	cmd.Flags().StringVar(&peer, "from", "", "only messages from this sender")
	cmd.Flags().IntVar(&limit, "limit", 50, "max messages to show")
	return cmd
}
