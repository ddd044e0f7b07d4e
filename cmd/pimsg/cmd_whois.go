package main

import (
	"github.com/spf13/cobra"
)

// newWhoisCmd shows one agent's registration in full.
func newWhoisCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "whois <name>",
		Short: "Show an agent's registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFor(opts)
			if err != nil {
				return err
			}
			return render(app.Dispatch(cmd.Context(), Request{Action: ActionWhois, Name: args[0]}))
		},
	}
}
