package contacts_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emarsync/internal/contacts"
	"emarsync/internal/emarsys"
	"emarsync/internal/schema"
	"emarsync/internal/testsupport"
)

func declarations(t *testing.T, extra string) *schema.Declarations {
	t.Helper()
	return testsupport.LoadDeclarations(t, nil, "events: {}\n"+fieldsDoc+extra)
}

const fieldsDoc = `
fields:
  E-Mail: [3, text]
  First Name: [1, shorttext]
  Gender: [5, singlechoice]
  Interests: [40, multichoice]
  Registration Date: [48, date]
field_choices:
  Gender: {male: 1, female: 2}
  Interests: {books: 10, music: 11}
create_only_fields: [Registration Date]
lists:
  newsletter: 100
`

func people(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"E-Mail": fmt.Sprintf("user%04d@example.com", i), "First Name": "User"}
	}
	return out
}

func TestSyncContactsBatchBoundary(t *testing.T) {
	tests := []struct {
		name    string
		count   int
		batches int
	}{
		{name: "exactly one batch", count: contacts.BatchSize, batches: 1},
		{name: "one over", count: contacts.BatchSize + 1, batches: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := testsupport.NewFakeGateway()
			syncer := contacts.NewSyncer(gateway, declarations(t, ""), testsupport.GetLogger())

			result, err := syncer.SyncContacts(t.Context(), people(tt.count))
			require.NoError(t, err)

			assert.Len(t, gateway.UpdateBatches, tt.batches)
			assert.Len(t, gateway.CreateBatches, tt.batches)
			assert.Len(t, gateway.UpdateBatches[0], contacts.BatchSize)
			assert.Equal(t, tt.count, result.Created)
			assert.Zero(t, result.Updated)
			assert.Empty(t, result.Missing)
			assert.Empty(t, result.Failed)
		})
	}
}

func TestSyncContactsUpdatesKnownAndCreatesMissing(t *testing.T) {
	gateway := testsupport.NewFakeGateway()
	gateway.Known["known@example.com"] = true
	syncer := contacts.NewSyncer(gateway, declarations(t, ""), testsupport.GetLogger())

	result, err := syncer.SyncContacts(t.Context(), []map[string]any{
		{"E-Mail": "known@example.com", "Registration Date": "2020-01-01"},
		{"E-Mail": "new@example.com", "Registration Date": "2024-05-01", "Gender": "male", "Interests": []string{"music", "golf"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Created)
	assert.Empty(t, result.Missing)

	require.Len(t, gateway.UpdateBatches, 1)
	for _, contact := range gateway.UpdateBatches[0] {
		assert.NotContains(t, contact, "48", "create-only fields are not sent on update")
	}

	require.Len(t, gateway.CreateBatches, 1)
	assert.Equal(t, []emarsys.Contact{{
		"3":  "new@example.com",
		"48": "2024-05-01",
		"5":  int64(1),
		"40": []int64{11},
	}}, gateway.CreateBatches[0])
}

func TestSyncContactsWithoutCreate(t *testing.T) {
	gateway := testsupport.NewFakeGateway()
	syncer := contacts.NewSyncer(gateway, declarations(t, ""), testsupport.GetLogger())

	result, err := syncer.SyncContacts(t.Context(), people(2), contacts.WithoutCreate())
	require.NoError(t, err)

	assert.Empty(t, gateway.CreateBatches)
	assert.Equal(t, []string{"user0000@example.com", "user0001@example.com"}, result.Missing)
}

func TestSyncContactsCreateOnlyOverride(t *testing.T) {
	gateway := testsupport.NewFakeGateway()
	gateway.Known["known@example.com"] = true
	syncer := contacts.NewSyncer(gateway, declarations(t, ""), testsupport.GetLogger())

	_, err := syncer.SyncContacts(t.Context(), []map[string]any{
		{"E-Mail": "known@example.com", "First Name": "Ann", "Registration Date": "2020-01-01"},
	}, contacts.WithCreateOnlyFields("First Name"))
	require.NoError(t, err)

	require.Len(t, gateway.UpdateBatches, 1)
	assert.Equal(t, emarsys.Contact{"3": "known@example.com", "48": "2020-01-01"}, gateway.UpdateBatches[0][0])
}

func TestSyncContactsUnknownField(t *testing.T) {
	gateway := testsupport.NewFakeGateway()
	syncer := contacts.NewSyncer(gateway, declarations(t, ""), testsupport.GetLogger())

	_, err := syncer.SyncContacts(t.Context(), []map[string]any{{"E-Mail": "a@example.com", "Shoe Size": 44}})

	var unknown *contacts.UnknownFieldError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "Shoe Size", unknown.Field)
	assert.Empty(t, gateway.UpdateBatches)
}

func TestSyncContactsWhitelist(t *testing.T) {
	gateway := testsupport.NewFakeGateway()
	decl := declarations(t, "recipient_whitelist: [user0001@example.com]\n")
	syncer := contacts.NewSyncer(gateway, decl, testsupport.GetLogger())

	result, err := syncer.SyncContacts(t.Context(), people(3))
	require.NoError(t, err)

	require.Len(t, gateway.UpdateBatches, 1)
	require.Len(t, gateway.UpdateBatches[0], 1)
	assert.Equal(t, "user0001@example.com", gateway.UpdateBatches[0][0].Email())
	assert.Equal(t, 1, result.Created)
}

func TestSyncContactsFailedBatch(t *testing.T) {
	gateway := testsupport.NewFakeGateway()
	gateway.UpdateErr = &emarsys.RemoteError{Code: "5001", Message: "Too many contacts"}
	syncer := contacts.NewSyncer(gateway, declarations(t, ""), testsupport.GetLogger())

	result, err := syncer.SyncContacts(t.Context(), people(2))
	require.NoError(t, err)

	require.Len(t, result.Failed, 2)
	assert.Equal(t, contacts.FailedContact{
		Email:  "user0000@example.com",
		Errors: map[string]string{"5001": "Too many contacts"},
	}, result.Failed[0])
	assert.Empty(t, gateway.CreateBatches)

	gateway = testsupport.NewFakeGateway()
	gateway.CreateErr = errors.New("timeout")
	syncer = contacts.NewSyncer(gateway, declarations(t, ""), testsupport.GetLogger())

	result, err = syncer.SyncContacts(t.Context(), people(1))
	require.NoError(t, err)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, map[string]string{"request": "timeout"}, result.Failed[0].Errors)
}

func TestUpdateContacts(t *testing.T) {
	gateway := testsupport.NewFakeGateway()
	gateway.Known["user0000@example.com"] = true
	syncer := contacts.NewSyncer(gateway, declarations(t, ""), testsupport.GetLogger())

	result, err := syncer.UpdateContacts(t.Context(), people(2))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, []string{"user0001@example.com"}, result.Missing)
	assert.Empty(t, gateway.CreateBatches)

	_, err = syncer.UpdateContacts(t.Context(), people(contacts.BatchSize+1))
	assert.Error(t, err)
}
