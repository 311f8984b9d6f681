package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/mr1hm/offline-alert-relay/internal/models"
	"github.com/mr1hm/offline-alert-relay/internal/queue"
)

func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect queued emergency records",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts, false))
	cmd.AddCommand(newQueueListCommand(rootOpts, true))
	return cmd
}

func newQueueListCommand(opts *RootOptions, failed bool) *cobra.Command {
	use, short := "list", "List records waiting for delivery, oldest first"
	if failed {
		use, short = "failed", "List records that exceeded the retry ceiling"
	}

	return &cobra.Command{
		Use:          use,
		Short:        short,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kv, err := opts.openStore(ctx)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer kv.Close()

			store := queue.NewStore(kv, queue.DefaultRetryCeiling, clockwork.NewRealClock(), nil)

			var records []models.EmergencyRecord
			if failed {
				records, err = store.ListFailed(ctx)
			} else {
				records, err = store.ListPending(ctx)
			}
			if err != nil {
				return err
			}

			return opts.emit(cmd.OutOrStdout(), records, func(w io.Writer) error {
				return writeRecords(w, records)
			})
		},
	}
}

func writeRecords(w io.Writer, records []models.EmergencyRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "no records")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDISTRICT\tRISK\tSTATUS\tATTEMPTS\tCREATED\tLAST ERROR")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.District, r.RiskLevel, r.Status, r.Attempts,
			r.CreatedAt.Format(time.RFC3339), r.LastError)
	}
	return tw.Flush()
}
