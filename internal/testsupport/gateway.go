package testsupport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"emarsync/internal/emarsys"
)

// TriggerCall is one recorded TriggerEvent call.
type TriggerCall struct {
	EventID int64
	Email   string
	Data    map[string]any
}

// ListCall is one recorded replace or add call on a contact list.
type ListCall struct {
	ListID int64
	Emails []string
}

// FakeGateway is an in-memory emarsys.Gateway. Contacts are known by e-mail:
// updates of unknown contacts fail with code 2008 and creates make them known.
type FakeGateway struct {
	mu sync.Mutex

	Events        map[string]int64
	ListEventsErr error

	// TriggerErrs are returned by successive TriggerEvent calls; once
	// exhausted every trigger succeeds.
	TriggerErrs []error
	Triggers    []TriggerCall

	Known            map[string]bool
	CreateContactErr error
	CreatedContacts  []emarsys.Contact

	UpdateErr     error
	CreateErr     error
	UpdateBatches [][]emarsys.Contact
	CreateBatches [][]emarsys.Contact

	Lists        map[string]int64
	Members      map[int64][]int64
	ListReplaces []ListCall
	ListAdds     []ListCall

	Fields  []emarsys.Field
	Choices map[int64][]emarsys.Choice

	ListEventsCalls int
}

var _ emarsys.Gateway = (*FakeGateway)(nil)

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		Events:  map[string]int64{},
		Known:   map[string]bool{},
		Lists:   map[string]int64{},
		Members: map[int64][]int64{},
		Choices: map[int64][]emarsys.Choice{},
	}
}

// ContactNotFound is the remote error for an unknown trigger recipient.
func ContactNotFound(email string) error {
	return &emarsys.RemoteError{
		Code:    emarsys.CodeContactNotFound,
		Message: "No contact found with the external id: 3 - " + email,
	}
}

func (g *FakeGateway) ListEvents(ctx context.Context) (map[string]int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ListEventsCalls++
	if g.ListEventsErr != nil {
		return nil, g.ListEventsErr
	}
	out := make(map[string]int64, len(g.Events))
	for name, id := range g.Events {
		out[name] = id
	}
	return out, nil
}

func (g *FakeGateway) TriggerEvent(ctx context.Context, eventID int64, email string, data map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Triggers = append(g.Triggers, TriggerCall{EventID: eventID, Email: email, Data: data})
	if len(g.TriggerErrs) > 0 {
		err := g.TriggerErrs[0]
		g.TriggerErrs = g.TriggerErrs[1:]
		return err
	}
	return nil
}

func (g *FakeGateway) CreateContact(ctx context.Context, contact emarsys.Contact) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CreatedContacts = append(g.CreatedContacts, contact)
	if g.CreateContactErr != nil {
		return g.CreateContactErr
	}
	g.Known[contact.Email()] = true
	return nil
}

func (g *FakeGateway) UpdateContacts(ctx context.Context, contacts []emarsys.Contact) (*emarsys.BatchResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.UpdateBatches = append(g.UpdateBatches, contacts)
	if g.UpdateErr != nil {
		return nil, g.UpdateErr
	}

	result := &emarsys.BatchResult{Errors: emarsys.ErrorMap{}}
	for i, contact := range contacts {
		email := contact.Email()
		if g.Known[email] {
			result.IDs = append(result.IDs, int64(i+1))
			continue
		}
		result.Errors[email] = map[string]string{
			emarsys.CodeContactNotFound: "No contact found with the external id: 3",
		}
	}
	return result, nil
}

func (g *FakeGateway) CreateContacts(ctx context.Context, contacts []emarsys.Contact) (*emarsys.BatchResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CreateBatches = append(g.CreateBatches, contacts)
	if g.CreateErr != nil {
		return nil, g.CreateErr
	}

	result := &emarsys.BatchResult{Errors: emarsys.ErrorMap{}}
	for i, contact := range contacts {
		email := contact.Email()
		if email == "" {
			result.Errors[fmt.Sprintf("#%d", i)] = map[string]string{"2010": "Contacts with the external id already exist: 3"}
			continue
		}
		g.Known[email] = true
		result.IDs = append(result.IDs, int64(i+1))
	}
	return result, nil
}

func (g *FakeGateway) GetContactData(ctx context.Context, email string) (json.RawMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.Known[email] {
		return json.RawMessage(`{"result":false,"errors":[{"key":"` + email + `","errorCode":2008}]}`), nil
	}
	return json.RawMessage(`{"result":[{"3":"` + email + `"}],"errors":[]}`), nil
}

func (g *FakeGateway) ListContactLists(ctx context.Context) (map[string]int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int64, len(g.Lists))
	for name, id := range g.Lists {
		out[name] = id
	}
	return out, nil
}

func (g *FakeGateway) CreateContactList(ctx context.Context, name string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := int64(100 + len(g.Lists))
	g.Lists[name] = id
	return id, nil
}

func (g *FakeGateway) ListContactListMembers(ctx context.Context, listID int64) ([]int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int64{}, g.Members[listID]...), nil
}

func (g *FakeGateway) ReplaceContactList(ctx context.Context, listID int64, emails []string) (*emarsys.ListResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ListReplaces = append(g.ListReplaces, ListCall{ListID: listID, Emails: emails})
	return g.listResult(emails), nil
}

func (g *FakeGateway) AddToContactList(ctx context.Context, listID int64, emails []string) (*emarsys.ListResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ListAdds = append(g.ListAdds, ListCall{ListID: listID, Emails: emails})
	return g.listResult(emails), nil
}

func (g *FakeGateway) listResult(emails []string) *emarsys.ListResult {
	result := &emarsys.ListResult{Errors: emarsys.ErrorMap{}}
	for _, email := range emails {
		if g.Known[email] {
			result.Inserted++
		} else {
			result.Errors[email] = map[string]string{emarsys.CodeContactNotFound: "No contact found"}
		}
	}
	return result
}

func (g *FakeGateway) ListFields(ctx context.Context) ([]emarsys.Field, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]emarsys.Field{}, g.Fields...), nil
}

func (g *FakeGateway) ListFieldChoices(ctx context.Context, fieldID int64) ([]emarsys.Choice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]emarsys.Choice{}, g.Choices[fieldID]...), nil
}

// TriggerCalls returns a copy of the recorded triggers.
func (g *FakeGateway) TriggerCalls() []TriggerCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]TriggerCall{}, g.Triggers...)
}
