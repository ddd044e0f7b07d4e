package main

import (
	"github.com/spf13/cobra"
)

// newJoinCmd registers this agent in the mesh. With --name the exact name
// is required (live collision fails); otherwise the base name is probed for
// a free suffix.
func newJoinCmd(opts *globalOpts) *cobra.Command {
	var (
		name string
		base string
	)
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Register in the mesh",
		Long: `join writes this agent's registration and creates its inbox.

With --name the exact name is claimed: a live holder fails the join, a dead
holder is overwritten. With --base (default "Agent") the first free of base,
base2, ... base99 is taken. $PI_AGENT_NAME implies --name.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFor(opts)
			if err != nil {
				return err
			}
			req := Request{Action: ActionJoin}
			switch {
			case name != "":
				req.Name, req.Explicit = name, true
			case opts.as != "":
				req.Name, req.Explicit = opts.as, true
			default:
				req.Name = base
			}
			return render(app.Dispatch(cmd.Context(), req))
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "exact name to claim")
	cmd.Flags().StringVar(&base, "base", "Agent", "base name for suffix probing")
	return cmd
}
