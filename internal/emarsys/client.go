package emarsys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Options configures a Client.
type Options struct {
	Account string
	Secret  string
	BaseURI string
	Timeout time.Duration
	Retry   RetryPolicy
	Logger  *slog.Logger
}

// Client talks to the Emarsys API over fiber's HTTP client.
type Client struct {
	account string
	secret  string
	baseURI string
	timeout time.Duration
	retry   RetryPolicy
	logger  *slog.Logger

	now   func() time.Time
	nonce func() string
}

var _ Gateway = (*Client)(nil)

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		account: opts.Account,
		secret:  opts.Secret,
		baseURI: strings.TrimRight(opts.BaseURI, "/"),
		timeout: opts.Timeout,
		retry:   opts.Retry,
		logger:  opts.Logger,
		now:     time.Now,
		nonce:   newNonce,
	}
}

type envelope struct {
	ReplyCode int             `json:"replyCode"`
	ReplyText string          `json:"replyText"`
	Data      json.RawMessage `json:"data"`
}

// call performs one API request and decodes the reply data into out.
// GET requests are retried on transport failures.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	if method == fiber.MethodGet {
		return c.retry.do(ctx, func() error {
			return c.send(ctx, method, path, body, out)
		})
	}
	return c.send(ctx, method, path, body, out)
}

func (c *Client) send(ctx context.Context, method, path string, body, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	url := c.baseURI + path

	var agent *fiber.Agent
	switch method {
	case fiber.MethodGet:
		agent = fiber.Get(url)
	case fiber.MethodPost:
		agent = fiber.Post(url)
	case fiber.MethodPut:
		agent = fiber.Put(url)
	default:
		return fmt.Errorf("unsupported method %s", method)
	}

	agent.Set("X-WSSE", wsseHeader(c.account, c.secret, c.nonce(), c.now())).
		Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON).
		Timeout(c.timeoutFor(ctx))
	if body != nil {
		agent.JSON(body)
	}

	c.logger.Debug("Calling Emarsys API", slog.String("method", method), slog.String("path", path))

	status, respBody, errs := agent.Bytes()
	if len(errs) > 0 {
		return &transportError{err: errors.Join(errs...)}
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		if status >= fiber.StatusInternalServerError {
			return &transportError{err: fmt.Errorf("status %d", status)}
		}
		if status >= fiber.StatusBadRequest {
			return &RemoteError{Code: strconv.Itoa(status), Message: strings.TrimSpace(string(respBody))}
		}
		return fmt.Errorf("failed to decode reply from %s: %w", path, err)
	}

	if env.ReplyCode != 0 {
		return &RemoteError{Code: strconv.Itoa(env.ReplyCode), Message: env.ReplyText}
	}
	if status >= fiber.StatusBadRequest {
		return &RemoteError{Code: strconv.Itoa(status), Message: env.ReplyText}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode reply data from %s: %w", path, err)
	}
	return nil
}

// timeoutFor shortens the client timeout to the context deadline.
func (c *Client) timeoutFor(ctx context.Context) time.Duration {
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	return timeout
}

type namedID struct {
	ID   remoteID `json:"id"`
	Name string   `json:"name"`
}

func (c *Client) ListEvents(ctx context.Context) (map[string]int64, error) {
	var events []namedID
	if err := c.call(ctx, fiber.MethodGet, "/api/v2/event", nil, &events); err != nil {
		return nil, err
	}

	result := make(map[string]int64, len(events))
	for _, e := range events {
		result[e.Name] = int64(e.ID)
	}
	return result, nil
}

func (c *Client) TriggerEvent(ctx context.Context, eventID int64, email string, data map[string]any) error {
	payload := map[string]any{
		"key_id":      3,
		"external_id": email,
		"data":        data,
	}
	return c.call(ctx, fiber.MethodPost, fmt.Sprintf("/api/v2/event/%d/trigger", eventID), payload, nil)
}

func (c *Client) CreateContact(ctx context.Context, contact Contact) error {
	return c.call(ctx, fiber.MethodPost, "/api/v2/contact", contact, nil)
}

type batchReply struct {
	IDs    []remoteID `json:"ids"`
	Errors ErrorMap   `json:"errors"`
}

func (c *Client) CreateContacts(ctx context.Context, contacts []Contact) (*BatchResult, error) {
	return c.batch(ctx, fiber.MethodPost, contacts)
}

func (c *Client) UpdateContacts(ctx context.Context, contacts []Contact) (*BatchResult, error) {
	return c.batch(ctx, fiber.MethodPut, contacts)
}

func (c *Client) batch(ctx context.Context, method string, contacts []Contact) (*BatchResult, error) {
	var reply batchReply
	if err := c.call(ctx, method, "/api/v2/contact", map[string]any{"contacts": contacts}, &reply); err != nil {
		return nil, err
	}
	return &BatchResult{IDs: toInt64s(reply.IDs), Errors: reply.Errors}, nil
}

func (c *Client) GetContactData(ctx context.Context, email string) (json.RawMessage, error) {
	payload := map[string]any{
		"keyId":     EmailFieldID,
		"keyValues": []string{email},
	}
	var data json.RawMessage
	if err := c.call(ctx, fiber.MethodPost, "/api/v2/contact/getdata", payload, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) ListContactLists(ctx context.Context) (map[string]int64, error) {
	var lists []namedID
	if err := c.call(ctx, fiber.MethodGet, "/api/v2/contactlist", nil, &lists); err != nil {
		return nil, err
	}

	result := make(map[string]int64, len(lists))
	for _, l := range lists {
		result[l.Name] = int64(l.ID)
	}
	return result, nil
}

func (c *Client) CreateContactList(ctx context.Context, name string) (int64, error) {
	var reply struct {
		ID remoteID `json:"id"`
	}
	if err := c.call(ctx, fiber.MethodPost, "/api/v2/contactlist", map[string]any{"name": name}, &reply); err != nil {
		return 0, err
	}
	return int64(reply.ID), nil
}

func (c *Client) ListContactListMembers(ctx context.Context, listID int64) ([]int64, error) {
	var ids []remoteID
	if err := c.call(ctx, fiber.MethodGet, fmt.Sprintf("/api/v2/contactlist/%d/contacts", listID), nil, &ids); err != nil {
		return nil, err
	}
	return toInt64s(ids), nil
}

type listReply struct {
	Inserted int      `json:"inserted_contacts"`
	Errors   ErrorMap `json:"errors"`
}

func (c *Client) ReplaceContactList(ctx context.Context, listID int64, emails []string) (*ListResult, error) {
	return c.listMembers(ctx, fmt.Sprintf("/api/v2/contactlist/%d/replace", listID), emails)
}

func (c *Client) AddToContactList(ctx context.Context, listID int64, emails []string) (*ListResult, error) {
	return c.listMembers(ctx, fmt.Sprintf("/api/v2/contactlist/%d/add", listID), emails)
}

func (c *Client) listMembers(ctx context.Context, path string, emails []string) (*ListResult, error) {
	var reply listReply
	if err := c.call(ctx, fiber.MethodPost, path, map[string]any{"external_ids": emails}, &reply); err != nil {
		return nil, err
	}
	return &ListResult{Inserted: reply.Inserted, Errors: reply.Errors}, nil
}

func (c *Client) ListFields(ctx context.Context) ([]Field, error) {
	var fields []struct {
		ID              remoteID `json:"id"`
		Name            string   `json:"name"`
		ApplicationType string   `json:"application_type"`
	}
	if err := c.call(ctx, fiber.MethodGet, "/api/v2/field", nil, &fields); err != nil {
		return nil, err
	}

	result := make([]Field, 0, len(fields))
	for _, f := range fields {
		result = append(result, Field{ID: int64(f.ID), Name: f.Name, ApplicationType: f.ApplicationType})
	}
	return result, nil
}

func (c *Client) ListFieldChoices(ctx context.Context, fieldID int64) ([]Choice, error) {
	var choices []struct {
		ID     remoteID `json:"id"`
		Choice string   `json:"choice"`
	}
	if err := c.call(ctx, fiber.MethodGet, fmt.Sprintf("/api/v2/field/%d/choice", fieldID), nil, &choices); err != nil {
		return nil, err
	}

	result := make([]Choice, 0, len(choices))
	for _, ch := range choices {
		result = append(result, Choice{ID: int64(ch.ID), Choice: ch.Choice})
	}
	return result, nil
}
