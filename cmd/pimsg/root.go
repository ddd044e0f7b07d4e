// Package main implements the pimsg command-line tool: the action surface
// of the Pi messenger mesh for agents and the humans watching them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pimsg/internal/appversion"
	"pimsg/pkg/protocol"
)

// globalOpts holds the persistent flag values shared by all subcommands.
type globalOpts struct {
	as    string
	pid   int
	model string
	human bool
}

// newRootCmd creates the root pimsg command with all subcommands attached.
func newRootCmd() *cobra.Command {
	opts := &globalOpts{}

	cmd := &cobra.Command{
		Use:           "pimsg",
		Short:         "Pi messenger agent coordination mesh",
		Long:          "pimsg is the coordination surface for AI agents sharing a working directory.\nIt handles presence, mail, file reservations, swarm task claims, and crew runs.",
		Version:       fmt.Sprintf("pimsg %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.as, "as", os.Getenv(protocol.EnvAgentName), "agent name to act as (default $PI_AGENT_NAME)")
	flags.IntVar(&opts.pid, "pid", 0, "process id to register on behalf of (default: parent process)")
	flags.StringVar(&opts.model, "model", "", "model identifier to advertise")
	flags.BoolVar(&opts.human, "human", false, "register as a human participant")

	cmd.AddCommand(
		newJoinCmd(opts),
		newLeaveCmd(opts),
		newRenameCmd(opts),
		newListCmd(opts),
		newWhoisCmd(opts),
		newStatusCmd(opts),
		newSendCmd(opts),
		newBroadcastCmd(opts),
		newFlushCmd(opts),
		newReserveCmd(opts),
		newReleaseCmd(opts),
		newCheckCmd(opts),
		newFeedCmd(opts),
		newSwarmCmd(opts),
		newCrewCmd(opts),
		newHistoryCmd(opts),
	)
	return cmd
}

// appFor builds the per-invocation coordinator from the global flags.
func appFor(opts *globalOpts) (*App, error) {
	return newApp(appOpts{as: opts.as, pid: opts.pid, model: opts.model, human: opts.human})
}
