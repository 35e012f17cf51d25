package http

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"emarsync/internal/events"
)

const instancesPerPage = 50

type PaginationData struct {
	CurrentPage int   `json:"current_page"`
	TotalPages  int   `json:"total_pages"`
	TotalItems  int64 `json:"total_items"`
	PerPage     int   `json:"per_page"`
}

type ParameterResponse struct {
	Argument string `json:"argument"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Value    any    `json:"value"`
}

type InstanceResponse struct {
	ID            uint                `json:"id"`
	EventName     string              `json:"event_name"`
	Recipient     string              `json:"recipient"`
	RemoteID      *int64              `json:"remote_id"`
	Timestamp     time.Time           `json:"timestamp"`
	Source        events.Source       `json:"source"`
	State         events.State        `json:"state"`
	Label         string              `json:"label"`
	ResultMessage string              `json:"result_message"`
	ResultCode    string              `json:"result_code"`
	Context       map[string]any      `json:"context"`
	Parameters    []ParameterResponse `json:"parameters,omitempty"`
}

type InstancesResponse struct {
	Instances  []InstanceResponse `json:"instances"`
	Pagination PaginationData     `json:"pagination"`
}

func newInstanceResponse(instance *events.EventInstance) *InstanceResponse {
	if instance == nil {
		return nil
	}
	return &InstanceResponse{
		ID:            instance.ID,
		EventName:     instance.EventName,
		Recipient:     instance.RecipientEmail,
		RemoteID:      instance.RemoteID,
		Timestamp:     instance.Timestamp,
		Source:        instance.Source,
		State:         instance.State,
		Label:         instance.Label(),
		ResultMessage: instance.ResultMessage,
		ResultCode:    instance.ResultCode,
		Context:       instance.Context,
	}
}

// InstancesIndexAction lists trigger attempts, newest first.
func (h *Handlers) InstancesIndexAction(ctx *cartridge.Context) error {
	page, _ := strconv.Atoi(ctx.Query("page", "1"))
	if page < 1 {
		page = 1
	}

	filters := events.InstanceFilters{
		EventName: ctx.Query("event", ""),
		State:     events.State(ctx.Query("state", "")),
		Recipient: ctx.Query("recipient", ""),
		Limit:     instancesPerPage,
		Offset:    (page - 1) * instancesPerPage,
	}

	result, err := events.ListInstances(ctx.UserContext(), ctx.DBManager.GetConnection(), filters)
	if err != nil {
		ctx.Logger.Error("Failed to list event instances", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list event instances",
		})
	}

	response := InstancesResponse{
		Instances: make([]InstanceResponse, 0, len(result.Instances)),
		Pagination: PaginationData{
			CurrentPage: page,
			TotalPages:  int((result.Total + instancesPerPage - 1) / instancesPerPage),
			TotalItems:  result.Total,
			PerPage:     instancesPerPage,
		},
	}
	for i := range result.Instances {
		response.Instances = append(response.Instances, *newInstanceResponse(&result.Instances[i]))
	}

	return ctx.JSON(response)
}

// InstanceShowAction returns one instance with its parameters resolved.
func (h *Handlers) InstanceShowAction(ctx *cartridge.Context) error {
	id, err := ctx.ParamsInt("id")
	if err != nil || id <= 0 {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid instance ID",
		})
	}

	instance, err := events.FindInstance(ctx.UserContext(), ctx.DBManager.GetConnection(), uint(id))
	if errors.Is(err, events.ErrInstanceNotFound) {
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Instance not found",
		})
	}
	if err != nil {
		ctx.Logger.Error("Failed to load event instance", slog.Int("id", id), slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load event instance",
		})
	}

	response := newInstanceResponse(instance)

	params, err := instance.GetAllParameters(ctx.UserContext(), h.service.Types())
	if err != nil {
		ctx.Logger.Warn("Failed to resolve instance parameters", slog.Int("id", id), slog.Any("error", err))
	}
	for _, p := range params {
		response.Parameters = append(response.Parameters, ParameterResponse{
			Argument: p.Param.Argument,
			Label:    p.Param.Label,
			Type:     p.Param.TypeTag,
			Value:    p.Value,
		})
	}

	return ctx.JSON(response)
}
