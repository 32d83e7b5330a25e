package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/lead-service/internal/api/dto"
	"github.com/spec-kit/lead-service/internal/service"
)

// CallsHandler manages call log endpoints.
type CallsHandler struct {
	calls *service.CallService
}

// NewCallsHandler constructs handler.
func NewCallsHandler(calls *service.CallService) *CallsHandler {
	return &CallsHandler{calls: calls}
}

// RecordCall POST /calls.
func (h *CallsHandler) RecordCall(c *fiber.Ctx) error {
	identity, err := actor(c)
	if err != nil {
		return err
	}
	var req dto.CreateCallRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	record, err := h.calls.RecordCall(c.UserContext(), identity, req.LeadID, service.CallInput{
		Result:          req.Result,
		Remarks:         req.Remarks,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": callResponse(record)})
}

// ListCalls GET /calls.
func (h *CallsHandler) ListCalls(c *fiber.Ctx) error {
	identity, err := actor(c)
	if err != nil {
		return err
	}
	leadID, err := idQuery(c, "lead_id")
	if err != nil {
		return err
	}
	filter := service.CallListFilter{LeadID: leadID}
	filter.Limit, filter.Offset = paging(c)

	page, err := h.calls.ListCalls(c.UserContext(), identity, filter)
	if err != nil {
		return err
	}
	items := make([]dto.CallResponse, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, callResponse(&page.Items[i]))
	}
	return c.JSON(fiber.Map{"data": items, "meta": pageMeta(page.Total, page.Limit, page.Offset)})
}
