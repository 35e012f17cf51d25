package cli

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"emarsync/internal/emarsys"
)

func newListsCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lists",
		Short: "Print the remote contact lists in declarations form",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.components()
			if err != nil {
				return err
			}
			remote, err := c.Lists.Remote(cmd.Context())
			if err != nil {
				return err
			}
			return printYAML(cmd, map[string]any{"lists": remote})
		},
	}
}

func newCreateListCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create-list <name>",
		Short: "Create a remote contact list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.components()
			if err != nil {
				return err
			}
			id, err := c.Lists.Create(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created list '%s' with id %d\n", args[0], id)
			return nil
		},
	}
}

func newReplaceListCmd(o *rootOptions) *cobra.Command {
	var (
		file string
		add  bool
	)

	cmd := &cobra.Command{
		Use:   "replace-list <name> [email...]",
		Short: "Replace the members of a declared contact list",
		Long: `Makes the given e-mails the only members of the list. E-mails are read from
the arguments and from --file, one per line. With --add the e-mails are added
and current members are kept.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, emails := args[0], args[1:]
			if file != "" {
				fromFile, err := readLines(file)
				if err != nil {
					return err
				}
				emails = append(emails, fromFile...)
			}

			c, err := o.components()
			if err != nil {
				return err
			}

			var result *emarsys.ListResult
			if add {
				result, err = c.Lists.Add(cmd.Context(), name, emails)
			} else {
				result, err = c.Lists.Replace(cmd.Context(), name, emails)
			}
			if result != nil {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%d contacts inserted into '%s'\n", result.Inserted, name)
				for _, email := range sortedErrorKeys(result.Errors) {
					fmt.Fprintf(out, "Failed: %s %s\n", email, formatErrors(result.Errors[email]))
				}
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "File with one e-mail per line")
	cmd.Flags().BoolVar(&add, "add", false, "Add the e-mails instead of replacing the members")

	return cmd
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func sortedErrorKeys(errs emarsys.ErrorMap) []string {
	keys := make([]string, 0, len(errs))
	for key := range errs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
