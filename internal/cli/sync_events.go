package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSyncEventsCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-events",
		Short: "Synchronize the stored event ids with Emarsys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.components()
			if err != nil {
				return err
			}

			result := c.Service.SyncEvents(cmd.Context())

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d new events, %d event ids updated, %d event ids deleted\n",
				result.New, result.Updated, result.Deleted)
			if len(result.Unsynced) > 0 {
				fmt.Fprintf(out, "Unknown to Emarsys: %s\n", strings.Join(result.Unsynced, ", "))
			}
			return nil
		},
	}
}
