package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"emarsync/internal/contacts"
)

func newFieldsCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "Print the remote contact fields in declarations form",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.components()
			if err != nil {
				return err
			}
			fields, err := contacts.FetchFields(cmd.Context(), c.Gateway)
			if err != nil {
				return err
			}
			return printYAML(cmd, map[string]any{"fields": fields})
		},
	}
}

func newFieldChoicesCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "field-choices",
		Short: "Print the choices of every choice field in declarations form",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.components()
			if err != nil {
				return err
			}
			choices, err := contacts.FetchFieldChoices(cmd.Context(), c.Gateway)
			if err != nil {
				return err
			}
			return printYAML(cmd, map[string]any{"field_choices": choices})
		},
	}
}

// printYAML writes v so it can be pasted into the declarations file.
func printYAML(cmd *cobra.Command, v any) error {
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
