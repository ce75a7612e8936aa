package cmd

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/portaldocs/internal/watch"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [name...]",
	Short: "Print changes to documents as they are committed",
	Long: `Print changes to documents as they are committed by any process.

Without names every document in the base directory is watched. Runs until
interrupted.`,
	RunE: runWatch,
}

var watchDebounce time.Duration

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "how long to wait for a burst of changes to settle")
}

func runWatch(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		ctx := cmd.Context()
		events := make(chan watch.Event, 16)
		handler := func(ev watch.Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}
		w, err := watch.New(a.store.BaseDir(), handler,
			watch.WithDebounce(watchDebounce),
			watch.WithDocuments(args...),
			watch.WithLogger(a.logger),
		)
		if err != nil {
			return err
		}
		w.Start()
		defer w.Stop()

		a.notef("watching %s", a.store.BaseDir())
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-events:
				a.printEvent(ev)
			}
		}
	})
}

func (a *app) printEvent(ev watch.Event) {
	stamp := ev.Time.Format("15:04:05.000")
	switch {
	case ev.Err != nil:
		fmt.Fprintf(a.cmd.OutOrStdout(), "%s %s unreadable: %v\n", stamp, ev.Document, ev.Err)
	case ev.Removed:
		fmt.Fprintf(a.cmd.OutOrStdout(), "%s %s removed\n", stamp, ev.Document)
	default:
		fmt.Fprintf(a.cmd.OutOrStdout(), "%s %s\n", stamp, ev.Document)
		if ev.Deltas != nil {
			a.out.deltas(ev.Deltas)
		} else if err := a.out.value(ev.After); err != nil {
			a.logger.Warn("failed to print document", "document", ev.Document, "error", err.Error())
		}
	}
}
