package events_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"emarsync/internal/events"
	"emarsync/internal/testsupport"
)

func createInstance(t *testing.T, db *gorm.DB, name, recipient string, state events.State, at time.Time) *events.EventInstance {
	t.Helper()
	instance := &events.EventInstance{
		EventName:      name,
		RecipientEmail: recipient,
		Timestamp:      at,
		Source:         events.SourceAutomatic,
		State:          state,
	}
	require.NoError(t, db.Create(instance).Error)
	return instance
}

func TestListInstances(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	testsupport.CleanAllTables(db)
	now := time.Now().UTC()

	createInstance(t, db, "welcome", "ann@example.com", events.StateSuccess, now.Add(-3*time.Hour))
	createInstance(t, db, "welcome", "bob@example.com", events.StateError, now.Add(-2*time.Hour))
	newest := createInstance(t, db, "password_reset", "ann@example.com", events.StateSuccess, now.Add(-time.Hour))

	t.Run("all newest first", func(t *testing.T) {
		result, err := events.ListInstances(t.Context(), db, events.InstanceFilters{})
		require.NoError(t, err)
		assert.Equal(t, int64(3), result.Total)
		require.Len(t, result.Instances, 3)
		assert.Equal(t, newest.ID, result.Instances[0].ID)
	})

	t.Run("filters", func(t *testing.T) {
		result, err := events.ListInstances(t.Context(), db, events.InstanceFilters{EventName: "welcome", State: events.StateError})
		require.NoError(t, err)
		require.Len(t, result.Instances, 1)
		assert.Equal(t, "bob@example.com", result.Instances[0].RecipientEmail)

		result, err = events.ListInstances(t.Context(), db, events.InstanceFilters{Recipient: "ann@"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), result.Total)
	})

	t.Run("pagination", func(t *testing.T) {
		result, err := events.ListInstances(t.Context(), db, events.InstanceFilters{Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(3), result.Total)
		require.Len(t, result.Instances, 1)
		assert.Equal(t, "welcome", result.Instances[0].EventName)
	})
}

func TestFindInstanceNotFound(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	_, err := events.FindInstance(t.Context(), db, 4242)
	assert.ErrorIs(t, err, events.ErrInstanceNotFound)
}

func TestDeleteFinishedInstancesBefore(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	testsupport.CleanAllTables(db)
	now := time.Now().UTC()
	old := now.AddDate(0, 0, -200)

	for i := 0; i < 5; i++ {
		createInstance(t, db, "welcome", "old@example.com", events.StateSuccess, old)
	}
	createInstance(t, db, "welcome", "old@example.com", events.StateError, old)
	sending := createInstance(t, db, "welcome", "old@example.com", events.StateSending, old)
	recent := createInstance(t, db, "welcome", "new@example.com", events.StateSuccess, now)

	deleted, err := events.DeleteFinishedInstancesBefore(testsupport.GetLogger(), db, now.AddDate(0, 0, -180), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(6), deleted)

	var remaining []events.EventInstance
	require.NoError(t, db.Order("id ASC").Find(&remaining).Error)
	require.Len(t, remaining, 2)
	assert.Equal(t, sending.ID, remaining[0].ID)
	assert.Equal(t, recent.ID, remaining[1].ID)
}

func TestInstanceLabel(t *testing.T) {
	assert.Equal(t, "default", events.EventInstance{State: events.StateSending}.Label())
	assert.Equal(t, "important", events.EventInstance{State: events.StateError}.Label())
	assert.Equal(t, "success", events.EventInstance{State: events.StateSuccess}.Label())
}

func TestStoredParamJSON(t *testing.T) {
	var params map[string]events.StoredParam
	require.NoError(t, json.Unmarshal([]byte(`{
		"name": ["Name", "string", "Ann"],
		"user": ["User", "auth.User", 7],
		"products": ["Products", "[shop.Product]", [3, 1]]
	}`), &params))

	assert.Equal(t, "Ann", params["name"].Value)
	assert.Equal(t, uint(7), params["user"].Value)
	assert.Equal(t, []uint{3, 1}, params["products"].Value)

	encoded, err := json.Marshal(params["products"])
	require.NoError(t, err)
	assert.JSONEq(t, `["Products", "[shop.Product]", [3, 1]]`, string(encoded))

	var bad events.StoredParam
	assert.Error(t, json.Unmarshal([]byte(`["Name", "string"]`), &bad))
}

func TestResolveInput(t *testing.T) {
	f := newTriggerFixture(t)
	user := testsupport.CreateUser(t, f.db, "ann@example.com")
	lamp := testsupport.CreateProduct(t, f.db, "Lamp")

	data, err := f.service.ResolveInput(t.Context(), "order_shipped", map[string]json.RawMessage{
		"user":     json.RawMessage(fmt.Sprint(user.ID)),
		"products": json.RawMessage(fmt.Sprintf("[%d]", lamp.ID)),
		"extra":    json.RawMessage(`"x"`),
	})
	require.NoError(t, err)
	assert.Equal(t, user, data["user"])
	assert.Equal(t, []any{lamp}, data["products"])
	assert.Equal(t, "x", data["extra"])

	_, err = f.service.ResolveInput(t.Context(), "order_shipped", map[string]json.RawMessage{
		"user": json.RawMessage(`9999`),
	})
	assert.EqualError(t, err, "argument 'user': no 'auth.User' with id 9999")

	_, err = f.service.ResolveInput(t.Context(), "welcome", map[string]json.RawMessage{
		"first_name": json.RawMessage(`3`),
	})
	assert.Error(t, err)
}
