package contacts

import (
	"context"
	"fmt"
	"slices"

	"emarsync/internal/emarsys"
)

// UnknownListError is returned for a list name missing from the declarations.
type UnknownListError struct {
	Name string
}

func (e *UnknownListError) Error() string {
	return fmt.Sprintf("unknown contact list: '%s'", e.Name)
}

// ListGateway is the remote side of contact list management.
type ListGateway interface {
	ListContactLists(ctx context.Context) (map[string]int64, error)
	CreateContactList(ctx context.Context, name string) (int64, error)
	ListContactListMembers(ctx context.Context, listID int64) ([]int64, error)
	ReplaceContactList(ctx context.Context, listID int64, emails []string) (*emarsys.ListResult, error)
	AddToContactList(ctx context.Context, listID int64, emails []string) (*emarsys.ListResult, error)
}

// Lists manages the declared contact lists by name.
type Lists struct {
	gateway ListGateway
	ids     map[string]int64
}

func NewLists(gateway ListGateway, declared map[string]int64) *Lists {
	return &Lists{gateway: gateway, ids: declared}
}

func (l *Lists) id(name string) (int64, error) {
	id, ok := l.ids[name]
	if !ok {
		return 0, &UnknownListError{Name: name}
	}
	return id, nil
}

// Remote returns every list known remotely, by name.
func (l *Lists) Remote(ctx context.Context) (map[string]int64, error) {
	return l.gateway.ListContactLists(ctx)
}

// Create creates a remote list and returns its id. The id still has to be
// declared before the list can be used by name.
func (l *Lists) Create(ctx context.Context, name string) (int64, error) {
	return l.gateway.CreateContactList(ctx, name)
}

// Members returns the contact ids on the list.
func (l *Lists) Members(ctx context.Context, name string) ([]int64, error) {
	id, err := l.id(name)
	if err != nil {
		return nil, err
	}
	return l.gateway.ListContactListMembers(ctx, id)
}

// Replace makes emails the only members of the list. Beyond BatchSize the
// first batch replaces and the remaining batches are added.
func (l *Lists) Replace(ctx context.Context, name string, emails []string) (*emarsys.ListResult, error) {
	id, err := l.id(name)
	if err != nil {
		return nil, err
	}

	total := &emarsys.ListResult{Errors: emarsys.ErrorMap{}}
	first := true
	for batch := range slices.Chunk(emails, BatchSize) {
		var result *emarsys.ListResult
		if first {
			result, err = l.gateway.ReplaceContactList(ctx, id, batch)
			first = false
		} else {
			result, err = l.gateway.AddToContactList(ctx, id, batch)
		}
		if err != nil {
			return total, fmt.Errorf("failed to replace members of list '%s': %w", name, err)
		}
		merge(total, result)
	}

	if first {
		result, err := l.gateway.ReplaceContactList(ctx, id, []string{})
		if err != nil {
			return total, fmt.Errorf("failed to clear list '%s': %w", name, err)
		}
		merge(total, result)
	}

	return total, nil
}

// Add adds emails to the list in batches.
func (l *Lists) Add(ctx context.Context, name string, emails []string) (*emarsys.ListResult, error) {
	id, err := l.id(name)
	if err != nil {
		return nil, err
	}

	total := &emarsys.ListResult{Errors: emarsys.ErrorMap{}}
	for batch := range slices.Chunk(emails, BatchSize) {
		result, err := l.gateway.AddToContactList(ctx, id, batch)
		if err != nil {
			return total, fmt.Errorf("failed to add members to list '%s': %w", name, err)
		}
		merge(total, result)
	}
	return total, nil
}

func merge(total, result *emarsys.ListResult) {
	total.Inserted += result.Inserted
	for email, codes := range result.Errors {
		total.Errors[email] = codes
	}
}
