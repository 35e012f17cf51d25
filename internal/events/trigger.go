package events

import (
	"context"
	"errors"
	"fmt"
	"html"
	"html/template"
	"log/slog"
	"reflect"
	"slices"
	"sort"
	"time"

	"gorm.io/gorm"

	"emarsync/internal/emarsys"
	"emarsync/internal/schema"
)

// ContactDataFunc returns the contact fields, by declared field name, used
// when the recipient has to be created before a retry.
type ContactDataFunc func(ctx context.Context) (map[string]any, error)

type triggerOptions struct {
	source        Source
	createContact bool
	contactData   ContactDataFunc
	extra         map[string]any
}

// TriggerOption customizes a TriggerEvent call.
type TriggerOption func(*triggerOptions)

// Manual records the instance as started by an operator.
func Manual() TriggerOption {
	return func(o *triggerOptions) {
		o.source = SourceManual
	}
}

// WithoutContactCreation disables creating a missing recipient and retrying.
func WithoutContactCreation() TriggerOption {
	return func(o *triggerOptions) {
		o.createContact = false
	}
}

// WithContactData supplies the fields of a recipient that has to be created.
// Without it the contact is created with its e-mail address only.
func WithContactData(fn ContactDataFunc) TriggerOption {
	return func(o *triggerOptions) {
		o.contactData = fn
	}
}

// WithExtra passes additional values to the context provider. They are not
// checked against the declared arguments and are not stored as parameters.
func WithExtra(extra map[string]any) TriggerOption {
	return func(o *triggerOptions) {
		o.extra = extra
	}
}

// TriggerEvent sends eventName to recipient and returns the instance that
// records the outcome. Validation and delivery failures end in an instance in
// StateError and a nil error. When the remote platform does not know the
// recipient the contact is created and the trigger is attempted once more;
// the second instance is returned in that case.
//
// A non-nil error is returned when no context provider is registered or the
// instance could not be stored.
func (s *Service) TriggerEvent(ctx context.Context, eventName, recipient string, data map[string]any, opts ...TriggerOption) (*EventInstance, error) {
	options := triggerOptions{source: SourceAutomatic, createContact: true}
	for _, opt := range opts {
		opt(&options)
	}

	remoteID, err := s.resolveRemoteID(ctx, eventName)
	if err != nil {
		return nil, err
	}

	instance, err := s.attempt(ctx, eventName, recipient, data, remoteID, options)
	if err != nil {
		return instance, err
	}

	if instance.State != StateError || instance.ResultCode != emarsys.CodeContactNotFound || !options.createContact {
		return instance, nil
	}

	if err := s.createContact(ctx, recipient, options.contactData); err != nil {
		s.logger.Error("Failed to create missing contact",
			slog.String("event", eventName),
			slog.String("recipient", recipient),
			slog.Any("error", err))
		return instance, nil
	}

	s.logger.Info("Created missing contact, retrying trigger",
		slog.String("event", eventName),
		slog.String("recipient", recipient))

	return s.attempt(ctx, eventName, recipient, data, remoteID, options)
}

// resolveRemoteID looks up the cached remote id and syncs once when it is
// missing. Undeclared events are never synced, so they are not looked up.
func (s *Service) resolveRemoteID(ctx context.Context, eventName string) (*int64, error) {
	if !s.decl.IsDeclared(eventName) {
		return nil, nil
	}

	remoteID, err := remoteIDFor(ctx, s.db, eventName)
	if err != nil {
		return nil, fmt.Errorf("failed to look up event '%s': %w", eventName, err)
	}
	if remoteID != nil {
		return remoteID, nil
	}

	s.SyncEvents(ctx)

	remoteID, err = remoteIDFor(ctx, s.db, eventName)
	if err != nil {
		return nil, fmt.Errorf("failed to look up event '%s': %w", eventName, err)
	}
	return remoteID, nil
}

func (s *Service) attempt(ctx context.Context, eventName, recipient string, data map[string]any, remoteID *int64, options triggerOptions) (*EventInstance, error) {
	instance := &EventInstance{
		EventName:      eventName,
		RecipientEmail: recipient,
		RemoteID:       remoteID,
		Timestamp:      time.Now().UTC(),
		Source:         options.source,
		State:          StateSending,
	}
	if err := s.write(func(tx *gorm.DB) error {
		return tx.Create(instance).Error
	}); err != nil {
		return nil, fmt.Errorf("failed to store event instance: %w", err)
	}

	provider, err := s.providers.Resolve(eventName)
	if err != nil {
		if ferr := s.fail(instance, err.Error(), ""); ferr != nil {
			return instance, ferr
		}
		return instance, err
	}

	input := make(map[string]any, len(data)+len(options.extra))
	for key, value := range data {
		input[key] = value
	}
	for key, value := range options.extra {
		input[key] = value
	}

	values, err := provider(ctx, eventName, input)
	if err != nil {
		return instance, s.fail(instance, "context provider failed: "+err.Error(), "")
	}

	instance.Context = map[string]any{"global": escapeValues(values)}
	if err := s.save(instance); err != nil {
		return instance, err
	}

	eventSchema, ok := s.decl.Event(eventName)
	if !ok {
		return instance, s.fail(instance, fmt.Sprintf("unknown event name: '%s'", eventName), "")
	}

	given := make([]string, 0, len(data))
	for key := range data {
		given = append(given, key)
	}
	sort.Strings(given)
	expected := eventSchema.Arguments()
	if !slices.Equal(expected, given) {
		return instance, s.fail(instance, fmt.Sprintf("expected data args %s, got %s", formatNames(expected), formatNames(given)), "")
	}

	params := make(map[string]StoredParam, len(expected))
	for _, argument := range expected {
		stored, err := s.encode(ctx, eventSchema[argument], data[argument])
		if err != nil {
			return instance, s.fail(instance, err.Error(), "")
		}
		params[argument] = stored
	}
	instance.ParameterData = params
	if err := s.save(instance); err != nil {
		return instance, err
	}

	if remoteID == nil {
		return instance, s.fail(instance, "remote ID unknown", "")
	}

	if !s.decl.Whitelist.Allows(recipient) {
		return instance, s.fail(instance, "User not on whitelist: "+recipient, "")
	}

	if err := s.gateway.TriggerEvent(ctx, *remoteID, recipient, instance.Context); err != nil {
		var remoteErr *emarsys.RemoteError
		if errors.As(err, &remoteErr) {
			return instance, s.fail(instance, "Emarsys error: "+remoteErr.Message, remoteErr.Code)
		}
		return instance, s.fail(instance, "Emarsys error: "+err.Error(), "")
	}

	instance.State = StateSuccess
	if err := s.save(instance); err != nil {
		return instance, err
	}

	s.logger.Info("Triggered event",
		slog.String("event", eventName),
		slog.String("recipient", recipient),
		slog.Uint64("instance_id", uint64(instance.ID)))

	return instance, nil
}

// encode checks value against the declared parameter and returns its stored form.
func (s *Service) encode(ctx context.Context, param schema.Param, value any) (StoredParam, error) {
	stored := StoredParam{Label: param.Label, Type: param.TypeTag}

	if param.IsString() {
		str, ok := value.(string)
		if !ok {
			return stored, mismatch("instance", param, value)
		}
		stored.Value = str
		return stored, nil
	}

	model, ok := s.types.Lookup(param.Model)
	if !ok {
		return stored, &schema.ConfigurationError{
			Message: fmt.Sprintf("no model type registered for '%s'", param.Model),
		}
	}

	if !param.IsList() {
		if !model.Owns(value) {
			return stored, mismatch("instance", param, value)
		}
		id, err := model.PrimaryKey(ctx, value)
		if err != nil {
			return stored, fmt.Errorf("argument '%s': %w", param.Argument, err)
		}
		stored.Value = id
		return stored, nil
	}

	list := reflect.ValueOf(value)
	if value == nil || (list.Kind() != reflect.Slice && list.Kind() != reflect.Array) {
		return stored, mismatch("list", param, value)
	}
	ids := make([]uint, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		item := list.Index(i).Interface()
		if !model.Owns(item) {
			return stored, mismatch("list", param, item)
		}
		id, err := model.PrimaryKey(ctx, item)
		if err != nil {
			return stored, fmt.Errorf("argument '%s': %w", param.Argument, err)
		}
		ids = append(ids, id)
	}
	stored.Value = ids
	return stored, nil
}

func mismatch(what string, param schema.Param, value any) error {
	return fmt.Errorf("expected %s of '%s' for argument '%s': '%v'", what, param.Model, param.Argument, value)
}

func (s *Service) fail(instance *EventInstance, message, code string) error {
	instance.State = StateError
	instance.ResultMessage = message
	instance.ResultCode = code

	s.logger.Warn("Event trigger failed",
		slog.String("event", instance.EventName),
		slog.String("recipient", instance.RecipientEmail),
		slog.String("message", message),
		slog.String("code", code))

	return s.save(instance)
}

func (s *Service) save(instance *EventInstance) error {
	if err := s.write(func(tx *gorm.DB) error {
		return tx.Save(instance).Error
	}); err != nil {
		return fmt.Errorf("failed to update event instance %d: %w", instance.ID, err)
	}
	return nil
}

func (s *Service) createContact(ctx context.Context, recipient string, contactData ContactDataFunc) error {
	contact := emarsys.Contact{emarsys.EmailFieldID: recipient}
	if contactData != nil {
		fields, err := contactData(ctx)
		if err != nil {
			return fmt.Errorf("failed to get contact data: %w", err)
		}
		contact, err = s.fields.Transform(fields)
		if err != nil {
			return err
		}
	}
	return s.gateway.CreateContact(ctx, contact)
}

// PlaceholderData returns the provider output for eventName as is, without
// escaping and without storing anything.
func (s *Service) PlaceholderData(ctx context.Context, eventName string, data map[string]any) (map[string]any, error) {
	provider, err := s.providers.Resolve(eventName)
	if err != nil {
		return nil, err
	}
	return provider(ctx, eventName, data)
}

// escapeValues HTML-escapes every value that is not already template.HTML.
func escapeValues(values map[string]any) map[string]any {
	escaped := make(map[string]any, len(values))
	for key, value := range values {
		switch v := value.(type) {
		case template.HTML:
			escaped[key] = string(v)
		case string:
			escaped[key] = html.EscapeString(v)
		case nil:
			escaped[key] = ""
		default:
			escaped[key] = html.EscapeString(fmt.Sprint(v))
		}
	}
	return escaped
}
