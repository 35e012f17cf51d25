// Package emarsys is the client for the Emarsys v2 REST API.
package emarsys

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// EmailFieldID is the id of the e-mail field, also used as the contact key.
const EmailFieldID = "3"

// CodeContactNotFound is the reply and error code for an unknown recipient.
const CodeContactNotFound = "2008"

// Gateway is the set of remote operations the rest of the application uses.
type Gateway interface {
	ListEvents(ctx context.Context) (map[string]int64, error)
	TriggerEvent(ctx context.Context, eventID int64, email string, data map[string]any) error

	CreateContact(ctx context.Context, contact Contact) error
	CreateContacts(ctx context.Context, contacts []Contact) (*BatchResult, error)
	UpdateContacts(ctx context.Context, contacts []Contact) (*BatchResult, error)
	GetContactData(ctx context.Context, email string) (json.RawMessage, error)

	ListContactLists(ctx context.Context) (map[string]int64, error)
	CreateContactList(ctx context.Context, name string) (int64, error)
	ListContactListMembers(ctx context.Context, listID int64) ([]int64, error)
	ReplaceContactList(ctx context.Context, listID int64, emails []string) (*ListResult, error)
	AddToContactList(ctx context.Context, listID int64, emails []string) (*ListResult, error)

	ListFields(ctx context.Context) ([]Field, error)
	ListFieldChoices(ctx context.Context, fieldID int64) ([]Choice, error)
}

// Contact maps remote field ids to values.
type Contact map[string]any

// Email returns the value of the e-mail field.
func (c Contact) Email() string {
	email, _ := c[EmailFieldID].(string)
	return email
}

// ErrorMap maps a contact key to its error codes and messages.
type ErrorMap map[string]map[string]string

// UnmarshalJSON accepts the empty array the API sends when nothing failed.
func (m *ErrorMap) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		if len(list) > 0 {
			return fmt.Errorf("unexpected error list of length %d", len(list))
		}
		*m = nil
		return nil
	}

	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(ErrorMap, len(raw))
	for key, codes := range raw {
		out[key] = make(map[string]string, len(codes))
		for code, msg := range codes {
			out[key][code] = fmt.Sprint(msg)
		}
	}
	*m = out
	return nil
}

// BatchResult is the outcome of a batched contact create or update.
type BatchResult struct {
	IDs    []int64
	Errors ErrorMap
}

// ListResult is the outcome of a contact list replace or add.
type ListResult struct {
	Inserted int
	Errors   ErrorMap
}

type Field struct {
	ID              int64
	Name            string
	ApplicationType string
}

type Choice struct {
	ID     int64
	Choice string
}

// remoteID decodes ids that the API sends either as numbers or as strings.
type remoteID int64

func (id *remoteID) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid id %s", data)
		}
		n = json.Number(s)
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	*id = remoteID(v)
	return nil
}

func toInt64s(ids []remoteID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
