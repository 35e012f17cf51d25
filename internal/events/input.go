package events

import (
	"context"
	"encoding/json"
	"fmt"

	"emarsync/internal/schema"
)

// ResolveInput turns JSON trigger data into the values TriggerEvent expects.
// Declared scalars are decoded as strings, references as primary keys that
// are loaded through the model type registry and reference lists as lists of
// primary keys. Arguments that are not declared are decoded as plain JSON so
// the trigger can report them.
func (s *Service) ResolveInput(ctx context.Context, eventName string, raw map[string]json.RawMessage) (map[string]any, error) {
	eventSchema, _ := s.decl.Event(eventName)

	data := make(map[string]any, len(raw))
	for argument, value := range raw {
		param, ok := eventSchema[argument]
		if !ok {
			var decoded any
			if err := json.Unmarshal(value, &decoded); err != nil {
				return nil, fmt.Errorf("argument '%s': %w", argument, err)
			}
			data[argument] = decoded
			continue
		}

		resolved, err := s.resolveArgument(ctx, param, value)
		if err != nil {
			return nil, err
		}
		data[argument] = resolved
	}
	return data, nil
}

func (s *Service) resolveArgument(ctx context.Context, param schema.Param, value json.RawMessage) (any, error) {
	if param.IsString() {
		var str string
		if err := json.Unmarshal(value, &str); err != nil {
			return nil, fmt.Errorf("argument '%s' must be a string: %w", param.Argument, err)
		}
		return str, nil
	}

	model, ok := s.types.Lookup(param.Model)
	if !ok {
		return nil, &schema.ConfigurationError{
			Message: fmt.Sprintf("no model type registered for '%s'", param.Model),
		}
	}

	if param.IsList() {
		var ids []uint
		if err := json.Unmarshal(value, &ids); err != nil {
			return nil, fmt.Errorf("argument '%s' must be a list of ids: %w", param.Argument, err)
		}
		items, err := model.GetMany(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load '%s' for argument '%s': %w", param.Model, param.Argument, err)
		}
		if len(items) != len(ids) {
			return nil, fmt.Errorf("argument '%s': some of %v are not known '%s' ids", param.Argument, ids, param.Model)
		}
		return items, nil
	}

	var id uint
	if err := json.Unmarshal(value, &id); err != nil {
		return nil, fmt.Errorf("argument '%s' must be an id: %w", param.Argument, err)
	}
	item, err := model.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load '%s' for argument '%s': %w", param.Model, param.Argument, err)
	}
	if item == nil {
		return nil, fmt.Errorf("argument '%s': no '%s' with id %d", param.Argument, param.Model, id)
	}
	return item, nil
}
