package main

import (
	"github.com/spf13/cobra"
)

// newFlushCmd processes this agent's inbox once: the polling fallback for
// turn boundaries and for environments where file watching is unreliable.
func newFlushCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Deliver pending inbox messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFor(opts)
			if err != nil {
				return err
			}
			return render(app.Dispatch(cmd.Context(), Request{Action: ActionFlush}))
		},
	}
}
