package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"emarsync/internal/contacts"
)

func newSyncContactsCmd(o *rootOptions) *cobra.Command {
	var (
		file             string
		noCreate         bool
		createOnlyFields []string
	)

	cmd := &cobra.Command{
		Use:   "sync-contacts --file <contacts.json>",
		Short: "Update contacts in Emarsys and create the missing ones",
		Long: `Reads a JSON array of contacts keyed by declared field name, for example
[{"E-Mail": "ann@example.com", "First Name": "Ann"}], and sends them to
Emarsys in batches.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			people, err := readContacts(file)
			if err != nil {
				return err
			}

			c, err := o.components()
			if err != nil {
				return err
			}

			var opts []contacts.SyncOption
			if noCreate {
				opts = append(opts, contacts.WithoutCreate())
			}
			if cmd.Flags().Changed("create-only") {
				opts = append(opts, contacts.WithCreateOnlyFields(createOnlyFields...))
			}

			result, err := c.Contacts.SyncContacts(cmd.Context(), people, opts...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d contacts updated, %d contacts created\n", result.Updated, result.Created)
			if len(result.Missing) > 0 {
				fmt.Fprintf(out, "Missing: %s\n", strings.Join(result.Missing, ", "))
			}
			for _, failed := range result.Failed {
				fmt.Fprintf(out, "Failed: %s %s\n", failed.Email, formatErrors(failed.Errors))
			}
			if len(result.Failed) > 0 {
				return fmt.Errorf("%d contacts failed", len(result.Failed))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with the contacts")
	cmd.Flags().BoolVar(&noCreate, "no-create", false, "Only update, report missing contacts instead of creating them")
	cmd.Flags().StringSliceVar(&createOnlyFields, "create-only", nil, "Fields never sent on update (overrides create_only_fields)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func readContacts(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read contacts: %w", err)
	}
	var people []map[string]any
	if err := json.Unmarshal(data, &people); err != nil {
		return nil, fmt.Errorf("failed to parse contacts: %w", err)
	}
	return people, nil
}

func formatErrors(errs map[string]string) string {
	codes := make([]string, 0, len(errs))
	for code := range errs {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	parts := make([]string, 0, len(codes))
	for _, code := range codes {
		parts = append(parts, fmt.Sprintf("[%s] %s", code, errs[code]))
	}
	return strings.Join(parts, "; ")
}
