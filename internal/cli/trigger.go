package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"emarsync/internal/events"
	"emarsync/internal/schema"
)

func newTriggerCmd(o *rootOptions) *cobra.Command {
	var (
		paramFlags      []string
		noCreateContact bool
	)

	cmd := &cobra.Command{
		Use:   "trigger <event> <email>",
		Short: "Trigger an event for one recipient",
		Long: `Triggers a declared event by hand. Arguments are given with one or more
--param flags in key=value format. Reference arguments take the primary key of
the referenced row, reference lists a comma separated list of keys.
Example: emarsysctl trigger password_reset ann@example.com --param user=12 --param reset_link=https://example.com/r`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventName, recipient := args[0], args[1]

			c, err := o.components()
			if err != nil {
				return err
			}

			eventSchema, _ := c.Declarations.Event(eventName)
			raw, err := parseParams(paramFlags, eventSchema)
			if err != nil {
				return err
			}

			data, err := c.Service.ResolveInput(cmd.Context(), eventName, raw)
			if err != nil {
				return err
			}

			opts := []events.TriggerOption{events.Manual()}
			if noCreateContact {
				opts = append(opts, events.WithoutContactCreation())
			}

			instance, err := c.Service.TriggerEvent(cmd.Context(), eventName, recipient, data, opts...)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Event instance %d: %s\n", instance.ID, instance.State)
			if instance.State == events.StateError {
				if instance.ResultCode != "" {
					return fmt.Errorf("trigger failed [%s]: %s", instance.ResultCode, instance.ResultMessage)
				}
				return fmt.Errorf("trigger failed: %s", instance.ResultMessage)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&paramFlags, "param", "p", []string{}, "Event argument in key=value format (can be repeated)")
	cmd.Flags().BoolVar(&noCreateContact, "no-create-contact", false, "Do not create the recipient when Emarsys does not know it")

	return cmd
}

// parseParams turns key=value flags into JSON trigger data shaped after the
// declared argument kinds.
func parseParams(flags []string, eventSchema schema.EventSchema) (map[string]json.RawMessage, error) {
	raw := make(map[string]json.RawMessage, len(flags))
	for _, p := range flags {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter format '%s', use key=value", p)
		}

		param, declared := eventSchema[key]
		switch {
		case declared && param.IsList():
			raw[key] = json.RawMessage("[" + value + "]")
		case declared && !param.IsString():
			raw[key] = json.RawMessage(value)
		default:
			encoded, err := json.Marshal(value)
			if err != nil {
				return nil, err
			}
			raw[key] = encoded
		}
	}
	return raw, nil
}
