package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// Level is the severity of a validation message.
type Level int

const (
	LevelWarning Level = iota + 1
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Message is one finding of a configuration check.
type Message struct {
	Level Level
	Text  string
}

func (m Message) String() string {
	return m.Level.String() + ": " + m.Text
}

func critical(format string, args ...any) Message {
	return Message{Level: LevelCritical, Text: fmt.Sprintf(format, args...)}
}

func errorf(format string, args ...any) Message {
	return Message{Level: LevelError, Text: fmt.Sprintf(format, args...)}
}

func warning(format string, args ...any) Message {
	return Message{Level: LevelWarning, Text: fmt.Sprintf(format, args...)}
}

var validArgument = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// CheckCredentials reports missing remote platform credentials.
func CheckCredentials(account, password, baseURI string) []Message {
	var messages []Message
	if account == "" {
		messages = append(messages, critical("EMARSYS_ACCOUNT not set"))
	}
	if password == "" {
		messages = append(messages, critical("EMARSYS_PASSWORD not set"))
	}
	if baseURI == "" {
		messages = append(messages, critical("EMARSYS_BASE_URI not set"))
	}
	return messages
}

// Validate checks the event declarations and the contact field references.
// types may be nil, in which case every referenced model is reported.
func (d *Document) Validate(types *Types) []Message {
	var messages []Message

	messages = append(messages, d.validateFields()...)

	if d.Events == nil {
		return append(messages, critical("events not set"))
	}

	events, ok := asMapping(d.Events)
	if !ok {
		return append(messages, critical("events must be a mapping"))
	}

	if len(events) == 0 {
		return append(messages, warning("events is empty"))
	}

	names := make([]string, 0, len(events))
	for name := range events {
		names = append(names, name)
	}
	sortStrings(names)

	for _, name := range names {
		messages = append(messages, validateEvent(name, events[name], types)...)
	}

	return messages
}

func (d *Document) validateFields() []Message {
	var messages []Message

	for _, name := range d.CreateOnlyFields {
		if _, ok := d.Fields[name]; !ok {
			messages = append(messages, errorf("unknown create-only field: '%s'", name))
		}
	}

	for name := range d.FieldChoices {
		field, ok := d.Fields[name]
		if !ok {
			messages = append(messages, errorf("choices given for unknown field: '%s'", name))
			continue
		}
		if field.Type != "singlechoice" && field.Type != "multichoice" {
			messages = append(messages, warning("choices given for non-choice field: '%s'", name))
		}
	}

	return messages
}

func validateEvent(event string, rawParams any, types *Types) []Message {
	if event == "" {
		return []Message{warning("invalid event name: '%s'", event)}
	}

	params, ok := asMapping(rawParams)
	if !ok {
		if rawParams == nil {
			return nil
		}
		return []Message{errorf("invalid parameters for event '%s': %v", event, rawParams)}
	}

	var messages []Message

	arguments := make([]string, 0, len(params))
	labelCount := make(map[string]int)
	for argument, def := range params {
		arguments = append(arguments, argument)
		if pair, ok := def.([]any); ok && len(pair) > 0 {
			labelCount[fmt.Sprint(pair[0])]++
		}
	}
	sortStrings(arguments)

	var duplicates []string
	for label, count := range labelCount {
		if count > 1 {
			duplicates = append(duplicates, label)
		}
	}
	if len(duplicates) > 0 {
		sortStrings(duplicates)
		messages = append(messages, warning("reused parameter name for event '%s': '%s'",
			event, strings.Join(duplicates, ", ")))
	}

	for _, argument := range arguments {
		messages = append(messages, validateParam(event, argument, params[argument], types)...)
	}

	return messages
}

func validateParam(event, argument string, def any, types *Types) []Message {
	var messages []Message

	if !validArgument.MatchString(argument) {
		messages = append(messages, errorf("invalid parameter argument for event '%s': '%s'", event, argument))
	}

	pair, ok := def.([]any)
	if !ok || len(pair) != 2 {
		return append(messages, errorf("invalid parameter definition '%s': '%s' => %v", event, argument, def))
	}

	label, ok := pair[0].(string)
	if !ok || label == "" {
		messages = append(messages, errorf("invalid parameter name for event '%s': '%v'", event, pair[0]))
	}

	typeTag, ok := pair[1].(string)
	if !ok {
		return append(messages, errorf("bad model '%v' for event '%s': type tag must be a string", pair[1], event))
	}

	param := NewParam(argument, label, typeTag)
	if param.Kind == KindScalar {
		return messages
	}
	if _, ok := types.Lookup(param.Model); !ok {
		messages = append(messages, errorf("bad model '%s' for event '%s': no model type registered", param.Model, event))
	}

	return messages
}
