// Command persistctl is the CLI client for persistd: one subcommand per
// wire protocol request variant plus `init` for bootstrapping the daemon's
// home directory layout before the daemon itself ever runs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edirooss/persistd/internal/config"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var sockPath string

	root := &cobra.Command{
		Use:           "persistctl",
		Short:         "Control a running persistd daemon",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&sockPath, "socket", "", "path to the daemon's Unix socket (default: resolved daemon home)/daemon.sock")

	resolveSocket := func() (string, error) {
		if sockPath != "" {
			return sockPath, nil
		}
		layout, err := config.NewLayout()
		if err != nil {
			return "", err
		}
		return layout.SocketFile, nil
	}

	root.AddCommand(
		newInitCmd(),
		newListCmd(resolveSocket),
		newStartCmd(resolveSocket),
		newStopCmd(resolveSocket),
		newRestartCmd(resolveSocket),
		newInfoCmd(resolveSocket),
		newDeleteCmd(resolveSocket),
		newDumpCmd(resolveSocket),
		newRestoreCmd(resolveSocket),
		newLogsCmd(resolveSocket),
		newPruneCmd(resolveSocket),
		newVersionCmd(resolveSocket),
		newKillCmd(resolveSocket),
	)

	return root
}
