package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"emarsync/internal/emarsys"
	"emarsync/internal/schema"
)

// BatchSize is the maximum number of contacts sent in one remote call.
const BatchSize = 1000

// codeRequestFailed is recorded for contacts whose whole batch call failed
// without a remote error code.
const codeRequestFailed = "request"

// BatchGateway is the remote side of contact synchronization.
type BatchGateway interface {
	CreateContacts(ctx context.Context, contacts []emarsys.Contact) (*emarsys.BatchResult, error)
	UpdateContacts(ctx context.Context, contacts []emarsys.Contact) (*emarsys.BatchResult, error)
}

// FailedContact is a contact the remote store rejected.
type FailedContact struct {
	Email  string            `json:"email"`
	Errors map[string]string `json:"errors"`
}

// SyncResult accumulates the outcome of all batches.
type SyncResult struct {
	Updated int             `json:"updated"`
	Created int             `json:"created"`
	Missing []string        `json:"missing"`
	Failed  []FailedContact `json:"failed"`
}

type syncOptions struct {
	createMissing    bool
	createOnlyFields []string
}

// SyncOption customizes a SyncContacts call.
type SyncOption func(*syncOptions)

// WithoutCreate leaves missing contacts uncreated and returns them in SyncResult.Missing.
func WithoutCreate() SyncOption {
	return func(o *syncOptions) {
		o.createMissing = false
	}
}

// WithCreateOnlyFields overrides the declared fields that are never sent on update.
func WithCreateOnlyFields(fields ...string) SyncOption {
	return func(o *syncOptions) {
		o.createOnlyFields = fields
	}
}

// Syncer updates contacts in batches and creates the ones that are missing.
type Syncer struct {
	gateway    BatchGateway
	fields     *FieldMap
	whitelist  *schema.Whitelist
	createOnly []string
	logger     *slog.Logger
}

func NewSyncer(gateway BatchGateway, decl *schema.Declarations, logger *slog.Logger) *Syncer {
	return &Syncer{
		gateway:    gateway,
		fields:     NewFieldMap(decl.Fields, decl.FieldChoices),
		whitelist:  decl.Whitelist,
		createOnly: decl.CreateOnlyFields,
		logger:     logger,
	}
}

// prepare transforms the contacts and drops the ones not on the whitelist.
func (s *Syncer) prepare(contacts []map[string]any) ([]emarsys.Contact, error) {
	prepared := make([]emarsys.Contact, 0, len(contacts))
	for _, contact := range contacts {
		transformed, err := s.fields.Transform(contact)
		if err != nil {
			return nil, err
		}
		if s.whitelist.Restricted() && !s.whitelist.Allows(transformed.Email()) {
			continue
		}
		prepared = append(prepared, transformed)
	}
	return prepared, nil
}

// SyncContacts updates every contact and, unless WithoutCreate is given,
// creates the contacts the remote store reports as missing. Field names are
// translated through the declared field map; an unknown field fails the call
// before anything is sent. Failed batches are logged and reported per contact.
func (s *Syncer) SyncContacts(ctx context.Context, contacts []map[string]any, opts ...SyncOption) (*SyncResult, error) {
	options := syncOptions{createMissing: true, createOnlyFields: s.createOnly}
	for _, opt := range opts {
		opt(&options)
	}

	full, err := s.prepare(contacts)
	if err != nil {
		return nil, err
	}

	createOnlyIDs, err := s.fields.IDs(options.createOnlyFields)
	if err != nil {
		return nil, err
	}

	update := make([]emarsys.Contact, len(full))
	for i, contact := range full {
		stripped := make(emarsys.Contact, len(contact))
		for id, value := range contact {
			if _, skip := createOnlyIDs[id]; !skip {
				stripped[id] = value
			}
		}
		update[i] = stripped
	}

	result := &SyncResult{Missing: []string{}, Failed: []FailedContact{}}

	for batch := range slices.Chunk(update, BatchSize) {
		s.logger.Debug("Updating contact batch", slog.Int("size", len(batch)))

		reply, err := s.gateway.UpdateContacts(ctx, batch)
		if err != nil {
			s.failBatch(result, "update", batch, err)
			continue
		}

		result.Updated += len(reply.IDs)
		for _, email := range sortedKeys(reply.Errors) {
			codes := reply.Errors[email]
			if _, missing := codes[emarsys.CodeContactNotFound]; missing {
				result.Missing = append(result.Missing, email)
			} else {
				result.Failed = append(result.Failed, FailedContact{Email: email, Errors: codes})
			}
		}
	}

	if !options.createMissing {
		return result, nil
	}

	missing := make(map[string]struct{}, len(result.Missing))
	for _, email := range result.Missing {
		missing[email] = struct{}{}
	}

	var create []emarsys.Contact
	for _, contact := range full {
		if _, ok := missing[contact.Email()]; ok {
			create = append(create, contact)
		}
	}

	for batch := range slices.Chunk(create, BatchSize) {
		s.logger.Debug("Creating contact batch", slog.Int("size", len(batch)))

		reply, err := s.gateway.CreateContacts(ctx, batch)
		if err != nil {
			s.failBatch(result, "create", batch, err)
			continue
		}

		result.Created += len(reply.IDs)
		for _, email := range sortedKeys(reply.Errors) {
			result.Failed = append(result.Failed, FailedContact{Email: email, Errors: reply.Errors[email]})
		}
	}

	result.Missing = []string{}

	s.logger.Info("Contact sync finished",
		slog.Int("updated", result.Updated),
		slog.Int("created", result.Created),
		slog.Int("failed", len(result.Failed)))

	return result, nil
}

// UpdateContacts sends a single update batch without creating missing contacts.
func (s *Syncer) UpdateContacts(ctx context.Context, contacts []map[string]any) (*SyncResult, error) {
	prepared, err := s.prepare(contacts)
	if err != nil {
		return nil, err
	}
	if len(prepared) > BatchSize {
		return nil, fmt.Errorf("at most %d contacts can be updated at once, got %d", BatchSize, len(prepared))
	}

	result := &SyncResult{Missing: []string{}, Failed: []FailedContact{}}
	if len(prepared) == 0 {
		return result, nil
	}

	reply, err := s.gateway.UpdateContacts(ctx, prepared)
	if err != nil {
		return nil, fmt.Errorf("failed to update contacts: %w", err)
	}

	result.Updated = len(reply.IDs)
	for _, email := range sortedKeys(reply.Errors) {
		codes := reply.Errors[email]
		if _, missing := codes[emarsys.CodeContactNotFound]; missing {
			result.Missing = append(result.Missing, email)
		} else {
			result.Failed = append(result.Failed, FailedContact{Email: email, Errors: codes})
		}
	}
	return result, nil
}

func (s *Syncer) failBatch(result *SyncResult, operation string, batch []emarsys.Contact, err error) {
	s.logger.Error("Contact batch failed",
		slog.String("operation", operation),
		slog.Int("size", len(batch)),
		slog.Any("error", err))

	code, message := codeRequestFailed, err.Error()
	var remoteErr *emarsys.RemoteError
	if errors.As(err, &remoteErr) {
		code, message = remoteErr.Code, remoteErr.Message
	}

	for _, contact := range batch {
		result.Failed = append(result.Failed, FailedContact{
			Email:  contact.Email(),
			Errors: map[string]string{code: message},
		})
	}
}

func sortedKeys(m emarsys.ErrorMap) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
