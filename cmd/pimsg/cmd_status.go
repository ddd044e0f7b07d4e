package main

import (
	"strings"

	"github.com/spf13/cobra"
)

// newStatusCmd shows this agent's own state, or sets the status line when
// given text.
func newStatusCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "status [message...]",
		Short: "Show this agent's state, or set its status line",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFor(opts)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return render(app.Dispatch(cmd.Context(), Request{Action: ActionStatus}))
			}
			return render(app.Dispatch(cmd.Context(), Request{
				Action: ActionSetStatus,
				Text:   strings.Join(args, " "),
			}))
		},
	}
}
