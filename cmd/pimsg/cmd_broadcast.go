package main

import (
	"strings"

	"github.com/spf13/cobra"
)

// newBroadcastCmd delivers a message to every live peer.
func newBroadcastCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "broadcast <text...>",
		Short: "Send a message to all live peers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFor(opts)
			if err != nil {
				return err
			}
			return render(app.Dispatch(cmd.Context(), Request{
				Action: ActionBroadcast,
				Text:   strings.Join(args, " "),
			}))
		},
	}
}
