// Command httm browses and restores prior versions of files from ZFS,
// btrfs, nilfs2, Restic and Time Machine snapshots.
package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ubuntu/httm/internal/config"
)

func main() {
	cmd := generateCommands()

	if err := cmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func generateCommands() *cobra.Command {
	var flagVerbosity int
	var flags cliFlags

	var rootCmd = &cobra.Command{
		Use:   "httm",
		Short: "Browse and restore prior versions of files from local snapshots",
		Long: `httm is a CLI tool for browsing and restoring files from snapshots
on ZFS, btrfs/snapper, nilfs2, Restic and Apple Time Machine.
Find the version you're looking for, see it, then restore it.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.SetVerboseMode(flagVerbosity > 0)
			if flagVerbosity > 1 {
				log.SetLevel(log.DebugLevel)
			} else if flagVerbosity == 1 {
				log.SetLevel(log.InfoLevel)
			}
		},
	}
	rootCmd.PersistentFlags().CountVarP(&flagVerbosity, "verbose", "v", "issue INFO (-v) and DEBUG (-vv) output")
	registerCommonFlags(rootCmd, &flags)

	rootCmd.AddCommand(newDisplayCmd(&flags))
	rootCmd.AddCommand(newRecursiveCmd(&flags))
	rootCmd.AddCommand(newRestoreCmd(&flags))
	rootCmd.AddCommand(newMountsCmd(&flags))
	rootCmd.AddCommand(newListSnapsCmd(&flags))
	rootCmd.AddCommand(newSnapCmd(&flags))
	rootCmd.AddCommand(newRollForwardCmd(&flags))
	rootCmd.AddCommand(newPruneCmd(&flags))

	return rootCmd
}
