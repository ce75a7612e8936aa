package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List, prune or restore document backups",
	Long: `List, prune or restore document backups.

Backups are written to the backup directory before every change, named
<document>_<timestamp>_<token>.bck.`,
}

var backupsListCmd = &cobra.Command{
	Use:   "list <name>",
	Short: "List the backups of a document, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupsList,
}

var backupsPruneCmd = &cobra.Command{
	Use:   "prune <name>",
	Short: "Delete all but the newest backups of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupsPrune,
}

var backupsRestoreCmd = &cobra.Command{
	Use:   "restore <name> [backup]",
	Short: "Replace a document with one of its backups",
	Long: `Replace a document with one of its backups.

Without a backup name the newest backup that holds valid JSON is used.
The current content is backed up first unless write.backup is false.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runBackupsRestore,
}

var (
	backupsListLong bool
	pruneKeep       int
)

func init() {
	rootCmd.AddCommand(backupsCmd)
	backupsCmd.AddCommand(backupsListCmd)
	backupsCmd.AddCommand(backupsPruneCmd)
	backupsCmd.AddCommand(backupsRestoreCmd)

	backupsListCmd.Flags().BoolVarP(&backupsListLong, "long", "l", false, "show time, size and path as a table")
	backupsPruneCmd.Flags().IntVar(&pruneKeep, "keep", 5, "number of backups to keep")
}

func runBackupsList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		backups, err := a.store.Backups(args[0])
		if err != nil {
			return err
		}
		if !backupsListLong {
			for _, b := range backups {
				fmt.Fprintln(cmd.OutOrStdout(), b.Name)
			}
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tSIZE\tNAME")
		for _, b := range backups {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", b.Timestamp.Local().Format(time.DateTime), b.Size, b.Name)
		}
		return tw.Flush()
	})
}

func runBackupsPrune(cmd *cobra.Command, args []string) error {
	if pruneKeep < 0 {
		return errors.New("--keep must be non-negative")
	}
	return withApp(cmd, func(a *app) error {
		removed, err := a.store.Prune(cmd.Context(), args[0], pruneKeep)
		for _, b := range removed {
			a.out.mutedf("removed %s", b.Name)
		}
		return err
	})
}

func runBackupsRestore(cmd *cobra.Command, args []string) error {
	var backupName string
	if len(args) == 2 {
		backupName = args[1]
	}
	return withApp(cmd, func(a *app) error {
		doc, err := a.store.Restore(cmd.Context(), args[0], backupName)
		if err != nil {
			return err
		}
		a.notef("restored %s from %s", doc.Path, doc.RestoredFrom)
		return nil
	})
}
