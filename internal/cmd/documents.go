package cmd

import (
	"fmt"
	"io"

	"github.com/Iron-Ham/portaldocs/internal/docstore"
	"github.com/spf13/cobra"
)

var readCmd = &cobra.Command{
	Use:   "read <name>",
	Short: "Print a document",
	Long: `Print a document.

A missing document is created with the --default value (an empty object
unless given). A corrupt document is repaired from its newest valid backup
before it is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runRead,
}

var writeCmd = &cobra.Command{
	Use:   "write <name> [json|-]",
	Short: "Replace a document",
	Long: `Replace a document with a JSON value.

The value is read from stdin when it is "-" or omitted. The current content
is backed up first unless --no-backup is given or backups are disabled in the
configuration.

Examples:
  portaldocs write rbac '{"admins": ["alice"]}'
  cat rbac.json | portaldocs write rbac`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runWrite,
}

var updateCmd = &cobra.Command{
	Use:   "update <name> <key> <value>",
	Short: "Set one top-level field",
	Long: `Set one top-level field of an object document and print what changed.

The value is parsed as JSON; anything that is not valid JSON is stored as a
string.

Examples:
  portaldocs update settings theme dark
  portaldocs update settings retries 5
  portaldocs update settings limits '{"cpu": 2}'`,
	Args: cobra.ExactArgs(3),
	RunE: runUpdate,
}

var appendCmd = &cobra.Command{
	Use:   "append <name> <key> <value>",
	Short: "Append an item to an array field",
	Long: `Append an item to an array field, creating the field when absent.

The value is parsed the same way as for update.`,
	Args: cobra.ExactArgs(3),
	RunE: runAppend,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <name> <key>",
	Short: "Remove a top-level field",
	Args:  cobra.ExactArgs(2),
	RunE:  runDelete,
}

var (
	readDefault   string
	writeNoBackup bool
)

func init() {
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(deleteCmd)

	readCmd.Flags().StringVar(&readDefault, "default", "", "JSON value for a missing document (default {})")
	writeCmd.Flags().BoolVar(&writeNoBackup, "no-backup", false, "skip the backup of the current content")
}

func runRead(cmd *cobra.Command, args []string) error {
	var def any
	if readDefault != "" {
		v, err := parseJSON(readDefault)
		if err != nil {
			return err
		}
		def = v
	}

	return withApp(cmd, func(a *app) error {
		doc, err := a.store.Read(cmd.Context(), args[0], def)
		if err != nil {
			return err
		}
		switch {
		case doc.Recovered:
			a.notef("recovered %s from backup %s", doc.Path, doc.RestoredFrom)
		case doc.Created:
			a.notef("created %s", doc.Path)
		}
		return a.out.value(doc.Value)
	})
}

func runWrite(cmd *cobra.Command, args []string) error {
	input := "-"
	if len(args) == 2 {
		input = args[1]
	}
	if input == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		input = string(data)
	}
	v, err := parseJSON(input)
	if err != nil {
		return err
	}

	var opts []docstore.WriteOption
	if writeNoBackup {
		opts = append(opts, docstore.WithoutBackup())
	}

	return withApp(cmd, func(a *app) error {
		return a.store.Write(cmd.Context(), args[0], v, opts...)
	})
}

func runUpdate(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		change, err := a.store.Update(cmd.Context(), args[0], args[1], parseValue(args[2]))
		if err != nil {
			return err
		}
		a.printChange(change)
		return nil
	})
}

func runAppend(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		change, err := a.store.Append(cmd.Context(), args[0], args[1], parseValue(args[2]))
		if err != nil {
			return err
		}
		a.printChange(change)
		return nil
	})
}

func runDelete(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		change, err := a.store.Delete(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		a.printChange(change)
		return nil
	})
}

// printChange prints the deltas of a field operation, or a note when the
// document was left as it was.
func (a *app) printChange(change *docstore.Change) {
	if !change.Changed {
		a.notef("no change")
		return
	}
	before, _ := change.Before.(map[string]any)
	after, _ := change.After.(map[string]any)
	a.out.deltas(docstore.Compare(before, after))
	if change.Backup != nil {
		a.out.mutedf("backup: %s", change.Backup.Name)
	}
}
