package main

import (
	"strings"

	"github.com/spf13/cobra"
)

// newSendCmd delivers a direct message to one agent.
func newSendCmd(opts *globalOpts) *cobra.Command {
	var replyTo string
	cmd := &cobra.Command{
		Use:   "send <to> <text...>",
		Short: "Send a direct message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFor(opts)
			if err != nil {
				return err
			}
			return render(app.Dispatch(cmd.Context(), Request{
				Action:  ActionSend,
				To:      args[0],
				Text:    strings.Join(args[1:], " "),
				ReplyTo: replyTo,
			}))
		},
	}
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "message id this replies to")
	return cmd
}
