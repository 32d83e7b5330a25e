package handlers

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/lead-service/internal/api/dto"
	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/ingest"
	"github.com/spec-kit/lead-service/internal/repository"
	"github.com/spec-kit/lead-service/internal/service"
	apperrors "github.com/spec-kit/lead-service/pkg/util/errorutil"
)

// LeadsHandler manages lead endpoints.
type LeadsHandler struct {
	leads      *service.LeadService
	assignment *service.AssignmentService
	ingest     *service.IngestService
	activity   *service.ActivityService
}

// NewLeadsHandler constructs handler.
func NewLeadsHandler(leads *service.LeadService, assignment *service.AssignmentService, ingestService *service.IngestService, activity *service.ActivityService) *LeadsHandler {
	return &LeadsHandler{leads: leads, assignment: assignment, ingest: ingestService, activity: activity}
}

// CreateLead POST /leads.
func (h *LeadsHandler) CreateLead(c *fiber.Ctx) error {
	identity, err := actor(c)
	if err != nil {
		return err
	}
	var req dto.CreateLeadRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	lead, err := h.leads.CreateLead(c.UserContext(), identity, service.LeadCreateInput{
		Name:         req.Name,
		Phone:        req.Phone,
		AssignedTo:   req.AssignedTo,
		Notes:        req.Notes,
		Source:       req.Source,
		Behaviour:    req.Behaviour,
		NextCallDate: req.NextCallDate,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": leadResponse(lead)})
}

// ListLeads GET /leads.
func (h *LeadsHandler) ListLeads(c *fiber.Ctx) error {
	identity, err := actor(c)
	if err != nil {
		return err
	}
	filter := service.LeadListFilter{
		Search: optionalQuery(c, "search"),
		View:   repository.LeadView(c.Query("view")),
	}
	if statusStr := c.Query("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			filter.Statuses = append(filter.Statuses, domain.LeadStatus(strings.TrimSpace(part)))
		}
	}
	filter.Limit, filter.Offset = paging(c)

	page, err := h.leads.ListLeads(c.UserContext(), identity, filter)
	if err != nil {
		return err
	}
	items := make([]dto.LeadResponse, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, leadResponse(&page.Items[i]))
	}
	return c.JSON(fiber.Map{"data": items, "meta": pageMeta(page.Total, page.Limit, page.Offset)})
}

// GetLead GET /leads/:id.
func (h *LeadsHandler) GetLead(c *fiber.Ctx) error {
	identity, err := actor(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "lead")
	if err != nil {
		return err
	}
	lead, err := h.leads.GetLead(c.UserContext(), identity, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": leadResponse(lead)})
}

// UpdateLead PUT /leads/:id.
func (h *LeadsHandler) UpdateLead(c *fiber.Ctx) error {
	identity, err := actor(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "lead")
	if err != nil {
		return err
	}
	var req dto.UpdateLeadRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	lead, err := h.leads.UpdateLead(c.UserContext(), identity, id, service.LeadUpdateInput{
		Name:         req.Name,
		Phone:        req.Phone,
		Notes:        req.Notes,
		Behaviour:    req.Behaviour,
		NextCallDate: req.NextCallDate,
		Source:       req.Source,
		Status:       req.Status,
		AssignedTo:   req.AssignedTo,
		Unassign:     req.Unassign,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": leadResponse(lead)})
}

// UpdateStatus PATCH /leads/:id/status.
func (h *LeadsHandler) UpdateStatus(c *fiber.Ctx) error {
	identity, err := actor(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "lead")
	if err != nil {
		return err
	}
	var req dto.LeadStatusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	lead, err := h.leads.TransitionLeadStatus(c.UserContext(), identity, id, service.LeadTransitionInput{
		Status:       req.Status,
		Notes:        req.Notes,
		Behaviour:    req.Behaviour,
		NextCallDate: req.NextCallDate,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": leadResponse(lead)})
}

// DeleteLead DELETE /leads/:id.
func (h *LeadsHandler) DeleteLead(c *fiber.Ctx) error {
	identity, err := actor(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "lead")
	if err != nil {
		return err
	}
	if err := h.leads.DeleteLead(c.UserContext(), identity, id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// BulkStatus PUT /leads/bulk/status.
func (h *LeadsHandler) BulkStatus(c *fiber.Ctx) error {
	identity, err := actor(c)
	if err != nil {
		return err
	}
	var req dto.BulkStatusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	result, err := h.assignment.BulkTransition(c.UserContext(), identity, req.LeadIDs, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.BulkResultResponse{UpdatedCount: result.UpdatedCount}})
}

// BulkAssign PUT /leads/bulk/assign.
func (h *LeadsHandler) BulkAssign(c *fiber.Ctx) error {
	identity, err := actor(c)
	if err != nil {
		return err
	}
	var req dto.BulkAssignRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	result, err := h.assignment.BulkAssign(c.UserContext(), identity, req.LeadIDs, service.BulkAssignInput{
		AssignedTo: req.AssignedTo,
		LeaderID:   req.LeaderID,
		Unassign:   req.Unassign,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.BulkResultResponse{UpdatedCount: result.UpdatedCount}})
}

// Ingest POST /leads/ingest with rows already decoded by the client.
func (h *LeadsHandler) Ingest(c *fiber.Ctx) error {
	identity, err := actor(c)
	if err != nil {
		return err
	}
	var req dto.IngestRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	rows := make([]ingest.Row, 0, len(req.Rows))
	for _, record := range req.Rows {
		rows = append(rows, record.Row())
	}
	return h.runIngest(c, identity, rows)
}

// Upload POST /leads/upload with a CSV file in the "file" form field. The
// first line is the header.
func (h *LeadsHandler) Upload(c *fiber.Ctx) error {
	identity, err := actor(c)
	if err != nil {
		return err
	}
	header, err := c.FormFile("file")
	if err != nil {
		return apperrors.NewValidationError("file is required", map[string]any{"field": "file"})
	}
	file, err := header.Open()
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	defer file.Close()

	rows, err := readCSV(file)
	if err != nil {
		return err
	}
	return h.runIngest(c, identity, rows)
}

func (h *LeadsHandler) runIngest(c *fiber.Ctx, identity *domain.Identity, rows []ingest.Row) error {
	result, err := h.ingest.IngestLeads(c.UserContext(), identity, rows)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.IngestResponse{
		InsertedCount: result.InsertedCount,
		FailedCount:   result.FailedCount,
		Errors:        result.Errors,
	}})
}

// Activity GET /leads/:id/activity.
func (h *LeadsHandler) Activity(c *fiber.Ctx) error {
	identity, err := actor(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "lead")
	if err != nil {
		return err
	}
	records, err := h.activity.ListForLead(c.UserContext(), identity, id, parseInt(c.Query("limit"), 0))
	if err != nil {
		return err
	}
	items := make([]dto.ActivityResponse, 0, len(records))
	for _, r := range records {
		items = append(items, dto.ActivityResponse{
			ID:        r.ID,
			ActorID:   r.ActorID,
			Action:    r.Action,
			TargetID:  r.TargetID,
			Metadata:  r.Metadata,
			CreatedAt: r.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

func readCSV(r io.Reader) ([]ingest.Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apperrors.NewValidationError("file is empty", nil)
		}
		return nil, apperrors.NewValidationError("malformed csv", map[string]any{"error": err.Error()})
	}
	var records [][]any
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.NewValidationError("malformed csv", map[string]any{"error": err.Error()})
		}
		values := make([]any, len(record))
		for i, v := range record {
			values[i] = v
		}
		records = append(records, values)
	}
	return ingest.RowsFromTable(header, records), nil
}
