package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"emarsync/internal/schema"
)

// State is the delivery state of an EventInstance.
type State string

const (
	StateSending State = "sending"
	StateError   State = "error"
	StateSuccess State = "success"
)

// Source tells who started a trigger.
type Source string

const (
	SourceAutomatic Source = "automatic"
	SourceManual    Source = "manual"
)

// EventInstance is the record of one trigger attempt. It is created in
// StateSending and moves exactly once to StateError or StateSuccess.
type EventInstance struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	EventName      string `gorm:"index;not null"`
	RecipientEmail string `gorm:"index;not null"`
	RemoteID       *int64
	Context        map[string]any         `gorm:"serializer:json"`
	ParameterData  map[string]StoredParam `gorm:"serializer:json"`
	Timestamp      time.Time              `gorm:"index;not null"`
	Source         Source                 `gorm:"size:16;not null;default:automatic"`
	ResultMessage  string
	ResultCode     string
	State          State `gorm:"size:16;index;not null;default:sending"`
	UpdatedAt      time.Time
}

// Label returns the display class of the instance state.
func (i EventInstance) Label() string {
	switch i.State {
	case StateError:
		return "important"
	case StateSuccess:
		return "success"
	default:
		return "default"
	}
}

// StoredParam is a parameter as persisted with its instance: the label and
// type tag it was declared with and the encoded value. A scalar stores the
// string itself, a reference its primary key and a list its primary keys.
type StoredParam struct {
	Label string
	Type  string
	Value any
}

func (p StoredParam) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.Label, p.Type, p.Value})
}

func (p *StoredParam) UnmarshalJSON(data []byte) error {
	var triple []json.RawMessage
	if err := json.Unmarshal(data, &triple); err != nil {
		return err
	}
	if len(triple) != 3 {
		return fmt.Errorf("stored parameter must have 3 elements, got %d", len(triple))
	}
	if err := json.Unmarshal(triple[0], &p.Label); err != nil {
		return err
	}
	if err := json.Unmarshal(triple[1], &p.Type); err != nil {
		return err
	}

	raw := triple[2]
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		p.Value = nil
		return nil
	}

	switch schema.NewParam("", p.Label, p.Type).Kind {
	case schema.KindScalar:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		p.Value = s
	case schema.KindReference:
		var id uint
		if err := json.Unmarshal(raw, &id); err != nil {
			return err
		}
		p.Value = id
	case schema.KindReferenceList:
		var ids []uint
		if err := json.Unmarshal(raw, &ids); err != nil {
			return err
		}
		p.Value = ids
	}
	return nil
}

// Parameter is a stored parameter resolved back to its value.
type Parameter struct {
	Param schema.Param
	Value any
}

// GetParameter resolves the stored value of argument. References are loaded
// through types; a missing single reference yields nil and missing list
// members are skipped.
func (i *EventInstance) GetParameter(ctx context.Context, types *schema.Types, argument string) (any, schema.Param, error) {
	stored, ok := i.ParameterData[argument]
	if !ok {
		return nil, schema.Param{}, fmt.Errorf("no parameter '%s' stored for instance %d", argument, i.ID)
	}

	param := schema.NewParam(argument, stored.Label, stored.Type)
	if param.IsString() {
		return stored.Value, param, nil
	}

	model, ok := types.Lookup(param.Model)
	if !ok {
		return nil, param, &schema.ConfigurationError{
			Message: fmt.Sprintf("no model type registered for '%s'", param.Model),
		}
	}

	if param.IsList() {
		ids, _ := stored.Value.([]uint)
		values, err := model.GetMany(ctx, ids)
		if err != nil {
			return nil, param, fmt.Errorf("failed to load '%s' for argument '%s': %w", param.Model, argument, err)
		}
		return values, param, nil
	}

	id, ok := stored.Value.(uint)
	if !ok {
		return nil, param, nil
	}
	value, err := model.Get(ctx, id)
	if err != nil {
		return nil, param, fmt.Errorf("failed to load '%s' for argument '%s': %w", param.Model, argument, err)
	}
	return value, param, nil
}

// GetAllParameters resolves every stored parameter, ordered by argument.
func (i *EventInstance) GetAllParameters(ctx context.Context, types *schema.Types) ([]Parameter, error) {
	names := make(schema.EventSchema, len(i.ParameterData))
	for argument, stored := range i.ParameterData {
		names[argument] = schema.NewParam(argument, stored.Label, stored.Type)
	}

	params := make([]Parameter, 0, len(names))
	for _, argument := range names.Arguments() {
		value, param, err := i.GetParameter(ctx, types, argument)
		if err != nil {
			return nil, err
		}
		params = append(params, Parameter{Param: param, Value: value})
	}
	return params, nil
}
