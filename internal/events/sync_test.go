package events_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"emarsync/internal/events"
	"emarsync/internal/providers"
	"emarsync/internal/schema"
	"emarsync/internal/testsupport"
)

type fixture struct {
	db       *gorm.DB
	gateway  *testsupport.FakeGateway
	service  *events.Service
	types    *schema.Types
	registry *providers.Registry
}

func newFixture(t *testing.T, doc string) *fixture {
	return newFixtureWithLogger(t, doc, testsupport.GetLogger())
}

func newFixtureWithLogger(t *testing.T, doc string, logger *slog.Logger) *fixture {
	t.Helper()

	db := testsupport.SetupTestDB(t)
	testsupport.CleanAllTables(db)

	types := testsupport.NewTypes(t, db)
	registry := providers.NewRegistry()
	gateway := testsupport.NewFakeGateway()

	service, err := events.NewService(events.Options{
		DB:           db,
		Logger:       logger,
		Gateway:      gateway,
		Declarations: testsupport.LoadDeclarations(t, types, doc),
		Types:        types,
		Providers:    registry,
	})
	require.NoError(t, err)

	return &fixture{db: db, gateway: gateway, service: service, types: types, registry: registry}
}

func storedEvents(t *testing.T, db *gorm.DB) map[string]*int64 {
	t.Helper()
	var rows []events.Event
	require.NoError(t, db.Find(&rows).Error)
	out := make(map[string]*int64, len(rows))
	for _, row := range rows {
		out[row.Name] = row.RemoteID
	}
	return out
}

func id(v int64) *int64 {
	return &v
}

const twoEvents = `
events:
  e1: {}
  e2: {}
`

func TestSyncEventsCreatesDeclaredRemoteEvents(t *testing.T) {
	f := newFixture(t, twoEvents)
	f.gateway.Events = map[string]int64{"e1": 1, "e2": 2}

	result := f.service.SyncEvents(t.Context())

	assert.Equal(t, events.SyncResult{New: 2, Unsynced: []string{}}, result)
	assert.Equal(t, map[string]*int64{"e1": id(1), "e2": id(2)}, storedEvents(t, f.db))
}

func TestSyncEventsDeletesEventsGoneRemotely(t *testing.T) {
	f := newFixture(t, "events: {}\n")
	require.NoError(t, f.db.Create(&events.Event{Name: "e1", RemoteID: id(1)}).Error)

	result := f.service.SyncEvents(t.Context())

	assert.Equal(t, events.SyncResult{Deleted: 1, Unsynced: []string{}}, result)
	assert.Empty(t, storedEvents(t, f.db))
}

func TestSyncEventsIsIdempotent(t *testing.T) {
	f := newFixture(t, `
events:
  e1: {}
  e2: {}
  e3: {}
`)
	f.gateway.Events = map[string]int64{"e1": 1, "e2": 2, "other": 9}

	first := f.service.SyncEvents(t.Context())
	assert.Equal(t, events.SyncResult{New: 2, Unsynced: []string{"e3"}}, first)

	second := f.service.SyncEvents(t.Context())
	assert.Equal(t, events.SyncResult{Unsynced: []string{"e3"}}, second)

	assert.NotContains(t, storedEvents(t, f.db), "other")
}

func TestSyncEventsRefreshesChangedRemoteIDs(t *testing.T) {
	f := newFixture(t, twoEvents)
	require.NoError(t, f.db.Create(&events.Event{Name: "e1", RemoteID: id(1)}).Error)
	require.NoError(t, f.db.Create(&events.Event{Name: "e2", RemoteID: id(2)}).Error)

	// The remote ids swapped between names.
	f.gateway.Events = map[string]int64{"e1": 2, "e2": 1}

	result := f.service.SyncEvents(t.Context())

	assert.Equal(t, events.SyncResult{Updated: 2, Unsynced: []string{}}, result)
	assert.Equal(t, map[string]*int64{"e1": id(2), "e2": id(1)}, storedEvents(t, f.db))
}

func TestSyncEventsDeletesUndeclaredEvents(t *testing.T) {
	f := newFixture(t, twoEvents)
	require.NoError(t, f.db.Create(&events.Event{Name: "retired", RemoteID: id(7)}).Error)
	f.gateway.Events = map[string]int64{"e1": 1, "retired": 7}

	result := f.service.SyncEvents(t.Context())

	assert.Equal(t, events.SyncResult{New: 1, Deleted: 1, Unsynced: []string{"e2"}}, result)
	assert.Equal(t, map[string]*int64{"e1": id(1)}, storedEvents(t, f.db))
}

func TestSyncEventsFailsSoft(t *testing.T) {
	f := newFixture(t, twoEvents)
	require.NoError(t, f.db.Create(&events.Event{Name: "e1", RemoteID: id(1)}).Error)
	f.gateway.ListEventsErr = errors.New("connection refused")

	result := f.service.SyncEvents(t.Context())

	assert.Equal(t, events.SyncResult{Unsynced: []string{}}, result)
	assert.Equal(t, map[string]*int64{"e1": id(1)}, storedEvents(t, f.db))
}

func TestSyncEventsWarnsAboutUnsyncedNames(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	f := newFixtureWithLogger(t, `
events:
  'say "hi"': {}
  welcome: {}
`, logger)

	result := f.service.SyncEvents(t.Context())

	assert.Equal(t, []string{`say "hi"`, "welcome"}, result.Unsynced)
	var entry struct {
		Msg string `json:"msg"`
	}
	require.NoError(t, json.Unmarshal(bytes.SplitN(buf.Bytes(), []byte("\n"), 2)[0], &entry))
	assert.Equal(t, `these declared event names are not known by the remote platform: "say \"hi\"", "welcome"`, entry.Msg)
}

func TestEventLabel(t *testing.T) {
	class, text := events.Event{Name: "e1", RemoteID: id(1)}.Label()
	assert.Equal(t, "success", class)
	assert.Equal(t, "OK", text)

	class, text = events.Event{Name: "e1"}.Label()
	assert.Equal(t, "important", class)
	assert.Equal(t, "remote ID unknown", text)
}
