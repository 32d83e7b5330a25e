package handlers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/spec-kit/lead-service/internal/api/dto"
	"github.com/spec-kit/lead-service/internal/auth"
	"github.com/spec-kit/lead-service/internal/domain"
	apperrors "github.com/spec-kit/lead-service/pkg/util/errorutil"
)

var validate = validator.New()

// bind decodes the JSON body into req and runs struct validation.
func bind(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			details := make(map[string]any, len(fieldErrs))
			for _, fe := range fieldErrs {
				details[fieldName(fe)] = fe.Tag()
			}
			return apperrors.NewValidationError("invalid payload", details)
		}
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return nil
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return ns
}

func actor(c *fiber.Ctx) (*domain.Identity, error) {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return identity, nil
}

// paging reads limit/offset, accepting page/page_size as well.
func paging(c *fiber.Ctx) (int, int) {
	limit := parseInt(c.Query("limit"), 0)
	offset := parseInt(c.Query("offset"), 0)
	if pageSize := parseInt(c.Query("page_size"), 0); pageSize > 0 {
		limit = pageSize
		offset = (parseInt(c.Query("page"), 1) - 1) * pageSize
	}
	return limit, offset
}

func parseTime(val string) (*time.Time, error) {
	if val == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid timestamp", map[string]any{"value": val})
	}
	return &t, nil
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

// idParam reads a path id. Anything that is not a UUID cannot name a stored
// record, so it is reported as not found.
func idParam(c *fiber.Ctx, resource string) (string, error) {
	raw := c.Params("id")
	if _, err := uuid.Parse(raw); err != nil {
		return "", apperrors.NewNotFound(resource, map[string]any{"id": raw})
	}
	return raw, nil
}

// idQuery reads an optional id filter; a malformed value is a validation error.
func idQuery(c *fiber.Ctx, key string) (*string, error) {
	v := optionalQuery(c, key)
	if v == nil {
		return nil, nil
	}
	if _, err := uuid.Parse(*v); err != nil {
		return nil, apperrors.NewValidationError("invalid id", map[string]any{key: "uuid"})
	}
	return v, nil
}

func optionalQuery(c *fiber.Ctx, key string) *string {
	if v := strings.TrimSpace(c.Query(key)); v != "" {
		return &v
	}
	return nil
}

func pageMeta(total, limit, offset int) dto.PageMeta {
	return dto.PageMeta{Total: total, Limit: limit, Offset: offset}
}

func leadResponse(lead *domain.Lead) dto.LeadResponse {
	return dto.LeadResponse{
		ID:           lead.ID,
		Name:         lead.Name,
		Phone:        lead.Phone,
		Status:       lead.Status,
		Notes:        lead.Notes,
		Behaviour:    lead.Behaviour,
		AssignedTo:   lead.AssignedTo,
		LeaderID:     lead.LeaderID,
		CreatedBy:    lead.CreatedBy,
		UpdatedBy:    lead.UpdatedBy,
		CallCount:    lead.CallCount,
		LastCallAt:   lead.LastCallAt,
		NextCallDate: lead.NextCallDate,
		Source:       lead.Source,
		CreatedAt:    lead.CreatedAt,
		UpdatedAt:    lead.UpdatedAt,
	}
}

func userResponse(user *domain.Identity) dto.UserResponse {
	return dto.UserResponse{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Role:      user.Role,
		LeaderID:  user.LeaderID,
		Active:    user.Active,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}

func goalResponse(goal *domain.Goal) dto.GoalResponse {
	return dto.GoalResponse{
		ID:        goal.ID,
		UserID:    goal.UserID,
		Type:      goal.Type,
		Period:    goal.Period,
		Target:    goal.Target,
		Achieved:  goal.Achieved,
		StartDate: goal.StartDate,
		EndDate:   goal.EndDate,
	}
}

func goalResponses(goals []domain.Goal) []dto.GoalResponse {
	items := make([]dto.GoalResponse, 0, len(goals))
	for i := range goals {
		items = append(items, goalResponse(&goals[i]))
	}
	return items
}

func callResponse(record *domain.CallRecord) dto.CallResponse {
	return dto.CallResponse{
		ID:              record.ID,
		LeadID:          record.LeadID,
		CallerID:        record.CallerID,
		Result:          record.Result,
		Remarks:         record.Remarks,
		DurationSeconds: record.DurationSeconds,
		CreatedAt:       record.CreatedAt,
	}
}
