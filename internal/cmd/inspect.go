package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/Iron-Ham/portaldocs/internal/docstore"
	"github.com/spf13/cobra"
)

// errCheckFailed is returned by check when any document is unhealthy.
var errCheckFailed = errors.New("one or more documents failed the check")

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the documents in the base directory",
	Args:  cobra.NoArgs,
	RunE:  runLs,
}

var checkCmd = &cobra.Command{
	Use:   "check [name...]",
	Short: "Verify that documents hold valid JSON",
	Long: `Verify that documents hold valid JSON without modifying them.

Without names every document in the base directory is checked. A corrupt
document is reported as recoverable when one of its backups is valid; the
next read or write will repair it.`,
	RunE: runCheck,
}

var diffCmd = &cobra.Command{
	Use:   "diff <old.json> <new.json>",
	Short: "Show the differences between two JSON objects",
	Long: `Show the differences between two JSON object files.

By default each difference is printed on its own line with its dotted key
path. With --raw the nested difference object is printed instead, holding the
new value of every changed key and null for removed keys.`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

var diffRaw bool

func init() {
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(diffCmd)

	diffCmd.Flags().BoolVar(&diffRaw, "raw", false, "print the difference object instead of one line per change")
}

func runLs(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		names, err := a.store.List()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	})
}

func runCheck(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		results, err := a.store.Check(cmd.Context(), args...)
		if err != nil {
			return err
		}

		failed := false
		for _, r := range results {
			switch {
			case r.OK():
				a.out.mutedf("ok      %s", r.Name)
			case r.Recoverable:
				failed = true
				fmt.Fprintf(cmd.OutOrStdout(), "repair  %s: %s (%d backups)\n", r.Name, r.Error, r.Backups)
			default:
				failed = true
				fmt.Fprintf(cmd.OutOrStdout(), "FAIL    %s: %s\n", r.Name, r.Error)
			}
		}
		if failed {
			return errCheckFailed
		}
		return nil
	})
}

func runDiff(cmd *cobra.Command, args []string) error {
	before, err := readObject(args[0])
	if err != nil {
		return err
	}
	after, err := readObject(args[1])
	if err != nil {
		return err
	}

	cfg, err := loadOutput()
	if err != nil {
		return err
	}
	out := newPrinter(cmd.OutOrStdout(), cfg)
	if diffRaw {
		return out.value(docstore.Diff(before, after))
	}
	out.deltas(docstore.Compare(before, after))
	return nil
}

// readObject reads a JSON file whose root must be an object.
func readObject(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	v, err := docstore.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, docstore.ErrNotObject)
	}
	return obj, nil
}
