package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FieldSpec is the remote id and application type of a contact field,
// written as a [id, type] pair.
type FieldSpec struct {
	ID   int64
	Type string
}

func (f *FieldSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode || len(node.Content) != 2 {
		return fmt.Errorf("line %d: field must be a [id, type] pair", node.Line)
	}
	if err := node.Content[0].Decode(&f.ID); err != nil {
		return fmt.Errorf("line %d: invalid field id: %w", node.Line, err)
	}
	if err := node.Content[1].Decode(&f.Type); err != nil {
		return fmt.Errorf("line %d: invalid field type: %w", node.Line, err)
	}
	return nil
}

func (f FieldSpec) MarshalYAML() (any, error) {
	node := &yaml.Node{}
	if err := node.Encode([]any{f.ID, f.Type}); err != nil {
		return nil, err
	}
	node.Style = yaml.FlowStyle
	return node, nil
}

// Document is a declarations file as written by the operator, before validation.
type Document struct {
	Events             any                         `yaml:"events"`
	Fields             map[string]FieldSpec        `yaml:"fields"`
	FieldChoices       map[string]map[string]int64 `yaml:"field_choices"`
	CreateOnlyFields   []string                    `yaml:"create_only_fields"`
	Lists              map[string]int64            `yaml:"lists"`
	RecipientWhitelist *[]string                   `yaml:"recipient_whitelist"`
}

// Parse decodes a declarations document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse declarations: %w", err)
	}
	return &doc, nil
}

// ReadFile reads and decodes the declarations file at path.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read declarations: %w", err)
	}
	return Parse(data)
}

// Declarations is the validated, read-only view of a Document.
type Declarations struct {
	Events           map[string]EventSchema
	Fields           map[string]FieldSpec
	FieldChoices     map[string]map[string]int64
	CreateOnlyFields []string
	Lists            map[string]int64
	Whitelist        *Whitelist
}

// Compile validates the document against the registered types and builds
// the declarations. Any ERROR or CRITICAL message fails compilation.
func (d *Document) Compile(types *Types) (*Declarations, error) {
	var blocking []Message
	for _, m := range d.Validate(types) {
		if m.Level >= LevelError {
			blocking = append(blocking, m)
		}
	}
	if len(blocking) > 0 {
		return nil, newConfigurationError(blocking)
	}

	decl := &Declarations{
		Events:           make(map[string]EventSchema),
		Fields:           d.Fields,
		FieldChoices:     d.FieldChoices,
		CreateOnlyFields: d.CreateOnlyFields,
		Lists:            d.Lists,
	}
	if decl.Fields == nil {
		decl.Fields = map[string]FieldSpec{}
	}
	if d.RecipientWhitelist != nil {
		decl.Whitelist = NewWhitelist(*d.RecipientWhitelist)
	}

	events, _ := asMapping(d.Events)
	for name, rawParams := range events {
		if name == "" {
			continue
		}
		params, _ := asMapping(rawParams)
		eventSchema := make(EventSchema, len(params))
		for argument, rawDef := range params {
			def := rawDef.([]any)
			eventSchema[argument] = NewParam(argument, def[0].(string), def[1].(string))
		}
		decl.Events[name] = eventSchema
	}

	return decl, nil
}

// Event returns the schema declared for name.
func (d *Declarations) Event(name string) (EventSchema, bool) {
	s, ok := d.Events[name]
	return s, ok
}

// IsDeclared reports whether an event with this name is declared.
func (d *Declarations) IsDeclared(name string) bool {
	_, ok := d.Events[name]
	return ok
}

// EventNames returns the declared event names in sorted order.
func (d *Declarations) EventNames() []string {
	names := make([]string, 0, len(d.Events))
	for name := range d.Events {
		names = append(names, name)
	}
	sortStrings(names)
	return names
}

// asMapping accepts both map shapes yaml.v3 produces for a mapping node.
func asMapping(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}
