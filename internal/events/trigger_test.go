package events_test

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emarsync/internal/emarsys"
	"emarsync/internal/events"
	"emarsync/internal/providers"
	"emarsync/internal/testsupport"
)

// newTriggerFixture returns a fixture with the shared declarations, all of
// their events known remotely and the passthrough provider registered.
func newTriggerFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, "")
	f.gateway.Events = map[string]int64{"welcome": 11, "password_reset": 12, "order_shipped": 13}
	require.NoError(t, f.registry.RegisterGeneral(providers.Passthrough))
	return f
}

func countInstances(t *testing.T, f *fixture) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&events.EventInstance{}).Count(&count).Error)
	return count
}

func formatValue(v any) string {
	return fmt.Sprintf("%v", v)
}

func TestTriggerEventSucceeds(t *testing.T) {
	f := newTriggerFixture(t)
	f.gateway.Known["ann@example.com"] = true

	instance, err := f.service.TriggerEvent(t.Context(), "welcome", "ann@example.com", map[string]any{"first_name": "Ann <3"})
	require.NoError(t, err)

	assert.Equal(t, events.StateSuccess, instance.State)
	assert.Equal(t, events.SourceAutomatic, instance.Source)
	assert.Equal(t, int64(11), *instance.RemoteID)

	calls := f.gateway.TriggerCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(11), calls[0].EventID)
	assert.Equal(t, "ann@example.com", calls[0].Email)
	assert.Equal(t, map[string]any{"global": map[string]any{"first_name": "Ann &lt;3"}}, calls[0].Data)

	stored, err := events.FindInstance(t.Context(), f.db, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, events.StateSuccess, stored.State)
	assert.Equal(t, "Ann &lt;3", stored.Context["global"].(map[string]any)["first_name"])
	assert.Equal(t, events.StoredParam{Label: "First Name", Type: "string", Value: "Ann <3"}, stored.ParameterData["first_name"])
}

func TestTriggerEventSyncsUnknownRemoteIDOnce(t *testing.T) {
	f := newTriggerFixture(t)

	_, err := f.service.TriggerEvent(t.Context(), "welcome", "ann@example.com", map[string]any{"first_name": "Ann"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.gateway.ListEventsCalls)

	_, err = f.service.TriggerEvent(t.Context(), "welcome", "bob@example.com", map[string]any{"first_name": "Bob"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.gateway.ListEventsCalls, "remote id is cached after the first sync")
}

func TestTriggerEventUnknownEventSkipsRemote(t *testing.T) {
	f := newTriggerFixture(t)

	instance, err := f.service.TriggerEvent(t.Context(), "nope", "ann@example.com", map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, events.StateError, instance.State)
	assert.Equal(t, "unknown event name: 'nope'", instance.ResultMessage)
	assert.Zero(t, f.gateway.ListEventsCalls)
	assert.Empty(t, f.gateway.TriggerCalls())
}

func TestTriggerEventWithoutRemoteID(t *testing.T) {
	f := newTriggerFixture(t)
	f.gateway.Events = map[string]int64{}

	instance, err := f.service.TriggerEvent(t.Context(), "welcome", "ann@example.com", map[string]any{"first_name": "Ann"})
	require.NoError(t, err)

	assert.Equal(t, events.StateError, instance.State)
	assert.Equal(t, "remote ID unknown", instance.ResultMessage)
	assert.Empty(t, f.gateway.TriggerCalls())
}

func TestTriggerEventRejectsInvalidInput(t *testing.T) {
	f := newTriggerFixture(t)
	user := testsupport.CreateUser(t, f.db, "ann@example.com")
	product := testsupport.CreateProduct(t, f.db, "Lamp")

	tests := []struct {
		name    string
		event   string
		data    map[string]any
		message string
	}{
		{
			name:    "unknown event",
			event:   "nope",
			data:    map[string]any{},
			message: "unknown event name: 'nope'",
		},
		{
			name:    "missing and extra arguments",
			event:   "password_reset",
			data:    map[string]any{"reset": "x"},
			message: "expected data args ['reset_link', 'user'], got ['reset']",
		},
		{
			name:    "scalar is not a string",
			event:   "welcome",
			data:    map[string]any{"first_name": 42},
			message: "expected instance of 'string' for argument 'first_name': '42'",
		},
		{
			name:    "reference of the wrong model",
			event:   "password_reset",
			data:    map[string]any{"user": product, "reset_link": "https://example.com/r"},
			message: "expected instance of 'auth.User' for argument 'user': '" + formatValue(product) + "'",
		},
		{
			name:    "list that is not a list",
			event:   "order_shipped",
			data:    map[string]any{"user": user, "products": product},
			message: "expected list of 'shop.Product' for argument 'products': '" + formatValue(product) + "'",
		},
		{
			name:    "list with a foreign member",
			event:   "order_shipped",
			data:    map[string]any{"user": user, "products": []any{product, user}},
			message: "expected list of 'shop.Product' for argument 'products': '" + formatValue(user) + "'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instance, err := f.service.TriggerEvent(t.Context(), tt.event, "ann@example.com", tt.data)
			require.NoError(t, err)

			assert.Equal(t, events.StateError, instance.State)
			assert.Equal(t, tt.message, instance.ResultMessage)
			assert.Empty(t, instance.ResultCode)
			assert.Empty(t, instance.ParameterData)
		})
	}

	assert.Empty(t, f.gateway.TriggerCalls())
}

func TestTriggerEventStoresReferences(t *testing.T) {
	f := newTriggerFixture(t)
	f.gateway.Known["ann@example.com"] = true
	user := testsupport.CreateUser(t, f.db, "ann@example.com")
	lamp := testsupport.CreateProduct(t, f.db, "Lamp")
	desk := testsupport.CreateProduct(t, f.db, "Desk")

	instance, err := f.service.TriggerEvent(t.Context(), "order_shipped", "ann@example.com", map[string]any{
		"user":     user,
		"products": []*testsupport.Product{desk, lamp},
	})
	require.NoError(t, err)
	require.Equal(t, events.StateSuccess, instance.State)

	stored, err := events.FindInstance(t.Context(), f.db, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, events.StoredParam{Label: "User", Type: "auth.User", Value: user.ID}, stored.ParameterData["user"])
	assert.Equal(t, events.StoredParam{Label: "Products", Type: "[shop.Product]", Value: []uint{desk.ID, lamp.ID}}, stored.ParameterData["products"])

	value, param, err := stored.GetParameter(t.Context(), f.types, "user")
	require.NoError(t, err)
	assert.Equal(t, "User", param.Label)
	assert.Equal(t, user, value)

	value, param, err = stored.GetParameter(t.Context(), f.types, "products")
	require.NoError(t, err)
	assert.True(t, param.IsList())
	assert.Equal(t, []any{desk, lamp}, value)

	// Deleted references resolve to nothing.
	require.NoError(t, f.db.Delete(user).Error)
	require.NoError(t, f.db.Delete(desk).Error)

	params, err := stored.GetAllParameters(t.Context(), f.types)
	require.NoError(t, err)
	require.Len(t, params, 2)
	assert.Equal(t, "products", params[0].Param.Argument)
	assert.Equal(t, []any{lamp}, params[0].Value)
	assert.Equal(t, "user", params[1].Param.Argument)
	assert.Nil(t, params[1].Value)
}

func TestTriggerEventCreatesMissingContact(t *testing.T) {
	f := newTriggerFixture(t)
	f.gateway.TriggerErrs = []error{testsupport.ContactNotFound("new@example.com")}

	instance, err := f.service.TriggerEvent(t.Context(), "welcome", "new@example.com", map[string]any{"first_name": "New"})
	require.NoError(t, err)

	require.Len(t, f.gateway.CreatedContacts, 1)
	assert.Equal(t, emarsys.Contact{emarsys.EmailFieldID: "new@example.com"}, f.gateway.CreatedContacts[0])
	assert.Len(t, f.gateway.TriggerCalls(), 2)

	assert.Equal(t, events.StateSuccess, instance.State)
	assert.Equal(t, int64(2), countInstances(t, f))

	var first events.EventInstance
	require.NoError(t, f.db.Order("id ASC").First(&first).Error)
	assert.Equal(t, events.StateError, first.State)
	assert.Equal(t, emarsys.CodeContactNotFound, first.ResultCode)
	assert.Contains(t, first.ResultMessage, "Emarsys error: No contact found")
}

func TestTriggerEventUsesContactDataProvider(t *testing.T) {
	f := newTriggerFixture(t)
	f.gateway.TriggerErrs = []error{testsupport.ContactNotFound("new@example.com")}

	contactData := func(ctx context.Context) (map[string]any, error) {
		return map[string]any{"E-Mail": "new@example.com", "First Name": "New", "Gender": "female"}, nil
	}

	_, err := f.service.TriggerEvent(t.Context(), "welcome", "new@example.com",
		map[string]any{"first_name": "New"}, events.WithContactData(contactData))
	require.NoError(t, err)

	require.Len(t, f.gateway.CreatedContacts, 1)
	assert.Equal(t, emarsys.Contact{"3": "new@example.com", "1": "New", "5": int64(2)}, f.gateway.CreatedContacts[0])
}

func TestTriggerEventRetriesOnlyOnce(t *testing.T) {
	f := newTriggerFixture(t)
	f.gateway.TriggerErrs = []error{
		testsupport.ContactNotFound("new@example.com"),
		testsupport.ContactNotFound("new@example.com"),
	}

	instance, err := f.service.TriggerEvent(t.Context(), "welcome", "new@example.com", map[string]any{"first_name": "New"})
	require.NoError(t, err)

	assert.Len(t, f.gateway.TriggerCalls(), 2)
	assert.Len(t, f.gateway.CreatedContacts, 1)
	assert.Equal(t, events.StateError, instance.State)
	assert.Equal(t, emarsys.CodeContactNotFound, instance.ResultCode)
}

func TestTriggerEventWithoutContactCreation(t *testing.T) {
	f := newTriggerFixture(t)
	f.gateway.TriggerErrs = []error{testsupport.ContactNotFound("new@example.com")}

	instance, err := f.service.TriggerEvent(t.Context(), "welcome", "new@example.com",
		map[string]any{"first_name": "New"}, events.WithoutContactCreation(), events.Manual())
	require.NoError(t, err)

	assert.Empty(t, f.gateway.CreatedContacts)
	assert.Len(t, f.gateway.TriggerCalls(), 1)
	assert.Equal(t, events.StateError, instance.State)
	assert.Equal(t, events.SourceManual, instance.Source)
}

func TestTriggerEventReturnsFirstInstanceWhenContactCreationFails(t *testing.T) {
	f := newTriggerFixture(t)
	f.gateway.TriggerErrs = []error{testsupport.ContactNotFound("new@example.com")}
	f.gateway.CreateContactErr = &emarsys.RemoteError{Code: "2009", Message: "Invalid e-mail"}

	instance, err := f.service.TriggerEvent(t.Context(), "welcome", "new@example.com", map[string]any{"first_name": "New"})
	require.NoError(t, err)

	assert.Len(t, f.gateway.TriggerCalls(), 1)
	assert.Equal(t, events.StateError, instance.State)
	assert.Equal(t, emarsys.CodeContactNotFound, instance.ResultCode)
	assert.Equal(t, int64(1), countInstances(t, f))
}

func TestTriggerEventRecordsGatewayErrors(t *testing.T) {
	f := newTriggerFixture(t)
	f.gateway.TriggerErrs = []error{
		&emarsys.RemoteError{Code: "6001", Message: "Event is disabled"},
		errors.New("connection reset"),
	}

	instance, err := f.service.TriggerEvent(t.Context(), "welcome", "ann@example.com", map[string]any{"first_name": "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "Emarsys error: Event is disabled", instance.ResultMessage)
	assert.Equal(t, "6001", instance.ResultCode)

	instance, err = f.service.TriggerEvent(t.Context(), "welcome", "ann@example.com", map[string]any{"first_name": "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "Emarsys error: connection reset", instance.ResultMessage)
	assert.Empty(t, instance.ResultCode)
}

func TestTriggerEventHonoursWhitelist(t *testing.T) {
	f := newFixture(t, testsupport.Declarations+"recipient_whitelist: [ok@example.com]\n")
	f.gateway.Events = map[string]int64{"welcome": 11}
	require.NoError(t, f.registry.RegisterGeneral(providers.Passthrough))

	instance, err := f.service.TriggerEvent(t.Context(), "welcome", "other@example.com", map[string]any{"first_name": "O"})
	require.NoError(t, err)

	assert.Equal(t, events.StateError, instance.State)
	assert.Equal(t, "User not on whitelist: other@example.com", instance.ResultMessage)
	assert.Empty(t, f.gateway.TriggerCalls())
}

func TestTriggerEventWithoutProvider(t *testing.T) {
	f := newFixture(t, "")
	f.gateway.Events = map[string]int64{"welcome": 11}

	instance, err := f.service.TriggerEvent(t.Context(), "welcome", "ann@example.com", map[string]any{"first_name": "Ann"})

	var noProvider *providers.NoContextProviderError
	require.ErrorAs(t, err, &noProvider)
	assert.Equal(t, "welcome", noProvider.EventName)
	require.NotNil(t, instance)
	assert.Equal(t, events.StateError, instance.State)
	assert.Empty(t, f.gateway.TriggerCalls())
}

func TestTriggerEventProviderContext(t *testing.T) {
	f := newFixture(t, "")
	f.gateway.Events = map[string]int64{"password_reset": 12}
	user := testsupport.CreateUser(t, f.db, "ann@example.com")

	var seen map[string]any
	require.NoError(t, f.registry.Register("password_reset", func(ctx context.Context, eventName string, data map[string]any) (map[string]any, error) {
		seen = data
		u := data["user"].(*testsupport.User)
		return map[string]any{
			"email": u.Email,
			"link":  template.HTML(`<a href="` + data["reset_link"].(string) + `">reset</a>`),
			"count": 3,
		}, nil
	}))

	instance, err := f.service.TriggerEvent(t.Context(), "password_reset", "ann@example.com",
		map[string]any{"user": user, "reset_link": "https://example.com/r?a=1&b=2"},
		events.WithExtra(map[string]any{"campaign": "spring"}))
	require.NoError(t, err)
	require.Equal(t, events.StateSuccess, instance.State)

	assert.Equal(t, "spring", seen["campaign"])
	assert.NotContains(t, instance.ParameterData, "campaign")
	assert.Equal(t, map[string]any{
		"email": "ann@example.com",
		"link":  `<a href="https://example.com/r?a=1&b=2">reset</a>`,
		"count": "3",
	}, instance.Context["global"])
}

func TestTriggerEventProviderFailure(t *testing.T) {
	f := newFixture(t, "")
	f.gateway.Events = map[string]int64{"welcome": 11}
	require.NoError(t, f.registry.RegisterGeneral(func(ctx context.Context, eventName string, data map[string]any) (map[string]any, error) {
		return nil, errors.New("template missing")
	}))

	instance, err := f.service.TriggerEvent(t.Context(), "welcome", "ann@example.com", map[string]any{"first_name": "Ann"})
	require.NoError(t, err)

	assert.Equal(t, events.StateError, instance.State)
	assert.Equal(t, "context provider failed: template missing", instance.ResultMessage)
	assert.Nil(t, instance.Context)
}

func TestPlaceholderData(t *testing.T) {
	f := newTriggerFixture(t)

	values, err := f.service.PlaceholderData(t.Context(), "welcome", map[string]any{"first_name": "<b>Ann</b>"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"first_name": "<b>Ann</b>"}, values)
	assert.Zero(t, countInstances(t, f))
}
