package http

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"emarsync/internal/events"
	"emarsync/internal/providers"
)

type EventParam struct {
	Argument string `json:"argument"`
	Label    string `json:"label"`
	Type     string `json:"type"`
}

type EventResponse struct {
	Name       string       `json:"name"`
	RemoteID   *int64       `json:"remote_id"`
	Status     string       `json:"status"`
	StatusText string       `json:"status_text"`
	Params     []EventParam `json:"params"`
}

type EventsResponse struct {
	Events []EventResponse `json:"events"`
}

// EventsIndexAction lists every declared event with its stored remote id.
func (h *Handlers) EventsIndexAction(ctx *cartridge.Context) error {
	stored, err := events.ListEvents(ctx.UserContext(), ctx.DBManager.GetConnection())
	if err != nil {
		ctx.Logger.Error("Failed to list events", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list events",
		})
	}

	byName := make(map[string]events.Event, len(stored))
	for _, event := range stored {
		byName[event.Name] = event
	}

	decl := h.service.Declarations()
	response := EventsResponse{Events: []EventResponse{}}
	for _, name := range decl.EventNames() {
		event, ok := byName[name]
		if !ok {
			event = events.Event{Name: name}
		}
		status, text := event.Label()

		eventSchema, _ := decl.Event(name)
		params := make([]EventParam, 0, len(eventSchema))
		for _, argument := range eventSchema.Arguments() {
			p := eventSchema[argument]
			params = append(params, EventParam{Argument: p.Argument, Label: p.Label, Type: p.TypeTag})
		}

		response.Events = append(response.Events, EventResponse{
			Name:       name,
			RemoteID:   event.RemoteID,
			Status:     status,
			StatusText: text,
			Params:     params,
		})
	}

	return ctx.JSON(response)
}

// EventsSyncAction synchronizes the stored events with the remote platform.
func (h *Handlers) EventsSyncAction(ctx *cartridge.Context) error {
	result := h.service.SyncEvents(ctx.UserContext())
	return ctx.JSON(result)
}

type TriggerRequest struct {
	Recipient     string                     `json:"recipient"`
	Data          map[string]json.RawMessage `json:"data"`
	CreateContact *bool                      `json:"create_contact"`
}

type PlaceholderRequest struct {
	Data map[string]json.RawMessage `json:"data"`
}

// EventPlaceholderAction previews the context provider output for an event.
func (h *Handlers) EventPlaceholderAction(ctx *cartridge.Context) error {
	name := ctx.Params("name")

	var req PlaceholderRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	data, err := h.service.ResolveInput(ctx.UserContext(), name, req.Data)
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	placeholders, err := h.service.PlaceholderData(ctx.UserContext(), name, data)
	if err != nil {
		var noProvider *providers.NoContextProviderError
		if errors.As(err, &noProvider) {
			return ctx.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		ctx.Logger.Error("Context provider failed", slog.String("event", name), slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return ctx.JSON(fiber.Map{"event": name, "placeholders": placeholders})
}

// EventTriggerAction triggers an event manually for one recipient.
func (h *Handlers) EventTriggerAction(ctx *cartridge.Context) error {
	name := ctx.Params("name")

	var req TriggerRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Recipient == "" {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "recipient is required",
		})
	}

	data, err := h.service.ResolveInput(ctx.UserContext(), name, req.Data)
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	opts := []events.TriggerOption{events.Manual()}
	if req.CreateContact != nil && !*req.CreateContact {
		opts = append(opts, events.WithoutContactCreation())
	}

	instance, err := h.service.TriggerEvent(ctx.UserContext(), name, req.Recipient, data, opts...)
	if err != nil {
		var noProvider *providers.NoContextProviderError
		if errors.As(err, &noProvider) {
			return ctx.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":    err.Error(),
				"instance": newInstanceResponse(instance),
			})
		}
		ctx.Logger.Error("Failed to trigger event", slog.String("event", name), slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to trigger event",
		})
	}

	status := fiber.StatusCreated
	if instance.State == events.StateError {
		status = fiber.StatusUnprocessableEntity
	}
	return ctx.Status(status).JSON(newInstanceResponse(instance))
}
