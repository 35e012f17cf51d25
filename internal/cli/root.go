// Package cli implements the emarsysctl maintenance commands.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"emarsync/internal"
	"emarsync/internal/config"
)

var (
	// loadConfig and buildComponents are replaced in tests
	loadConfig      = config.GetConfig
	buildComponents = func(cfg *config.Config, opts ...internal.Option) (*internal.Components, error) {
		return internal.NewComponents(cfg, opts...)
	}
)

type rootOptions struct {
	declarationsPath string
	appOptions       []internal.Option
}

// configuration returns the application config with the --declarations
// override applied.
func (o *rootOptions) configuration() *config.Config {
	cfg := loadConfig()
	if o.declarationsPath != "" {
		cfg.DeclarationsPath = o.declarationsPath
	}
	return cfg
}

func (o *rootOptions) components() (*internal.Components, error) {
	return buildComponents(o.configuration(), o.appOptions...)
}

// NewRootCmd builds the command tree. Host applications pass their model
// types and context providers as opts.
func NewRootCmd(opts ...internal.Option) *cobra.Command {
	o := &rootOptions{appOptions: opts}

	rootCmd := &cobra.Command{
		Use:   "emarsysctl",
		Short: "emarsysctl maintains the Emarsys event and contact sync",
		Long: `emarsysctl checks the declarations, synchronizes events and contacts
with Emarsys and triggers events by hand.

Run 'emarsysctl help <command>' for more information on a specific command.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&o.declarationsPath, "declarations", "", "Path to the declarations file (overrides EMARSYNC_DECLARATIONS_PATH)")

	rootCmd.AddCommand(
		newMigrateCmd(o),
		newCheckCmd(o),
		newSyncEventsCmd(o),
		newSyncContactsCmd(o),
		newTriggerCmd(o),
		newFieldsCmd(o),
		newFieldChoicesCmd(o),
		newListsCmd(o),
		newCreateListCmd(o),
		newReplaceListCmd(o),
	)

	return rootCmd
}

// Execute runs the command tree against os.Args.
func Execute(ctx context.Context, opts ...internal.Option) error {
	return NewRootCmd(opts...).ExecuteContext(ctx)
}
