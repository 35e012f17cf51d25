package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"emarsync/internal"
	"emarsync/internal/schema"
)

func newCheckCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the credentials and the declarations file",
		Long: `Reports every problem found in the remote credentials and the event
declarations. Exits with an error when any ERROR or CRITICAL problem is found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			messages, err := internal.CheckConfiguration(o.configuration(), o.appOptions...)
			out := cmd.OutOrStdout()
			for _, m := range messages {
				fmt.Fprintln(out, m)
			}
			if err != nil {
				return err
			}

			blocking := 0
			for _, m := range messages {
				if m.Level >= schema.LevelError {
					blocking++
				}
			}
			if blocking > 0 {
				return fmt.Errorf("%d blocking problems found", blocking)
			}
			if len(messages) == 0 {
				fmt.Fprintln(out, "Configuration OK")
			}
			return nil
		},
	}
}
