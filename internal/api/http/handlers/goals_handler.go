package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/lead-service/internal/api/dto"
	"github.com/spec-kit/lead-service/internal/service"
)

// GoalsHandler manages goal endpoints.
type GoalsHandler struct {
	goals *service.GoalService
}

// NewGoalsHandler constructs handler.
func NewGoalsHandler(goals *service.GoalService) *GoalsHandler {
	return &GoalsHandler{goals: goals}
}

// CreateGoal POST /goals.
func (h *GoalsHandler) CreateGoal(c *fiber.Ctx) error {
	identity, err := actor(c)
	if err != nil {
		return err
	}
	var req dto.CreateGoalRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	goal, err := h.goals.CreateGoal(c.UserContext(), identity, service.GoalCreateInput{
		UserID:    req.UserID,
		Type:      req.Type,
		Target:    req.Target,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": goalResponse(goal)})
}

// ListGoals GET /goals.
func (h *GoalsHandler) ListGoals(c *fiber.Ctx) error {
	identity, err := actor(c)
	if err != nil {
		return err
	}
	activeAt, err := parseTime(c.Query("active_at"))
	if err != nil {
		return err
	}
	userID, err := idQuery(c, "user_id")
	if err != nil {
		return err
	}
	goals, err := h.goals.ListGoals(c.UserContext(), identity, service.GoalFilter{
		UserID:   userID,
		ActiveAt: activeAt,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": goalResponses(goals)})
}
