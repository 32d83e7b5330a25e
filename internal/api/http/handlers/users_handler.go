package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/lead-service/internal/api/dto"
	"github.com/spec-kit/lead-service/internal/domain"
	"github.com/spec-kit/lead-service/internal/service"
)

// UsersHandler exposes the user directory.
type UsersHandler struct {
	directory *service.DirectoryService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(directory *service.DirectoryService) *UsersHandler {
	return &UsersHandler{directory: directory}
}

// CreateUser POST /users.
func (h *UsersHandler) CreateUser(c *fiber.Ctx) error {
	identity, err := actor(c)
	if err != nil {
		return err
	}
	var req dto.CreateUserRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	user, err := h.directory.CreateUser(c.UserContext(), identity, service.UserCreateInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
		LeaderID: req.LeaderID,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": userResponse(user)})
}

// ListUsers GET /users.
func (h *UsersHandler) ListUsers(c *fiber.Ctx) error {
	identity, err := actor(c)
	if err != nil {
		return err
	}
	filter := service.UserListFilter{
		Search:          optionalQuery(c, "search"),
		IncludeInactive: c.QueryBool("include_inactive", false),
	}
	if role := optionalQuery(c, "role"); role != nil {
		r := domain.Role(*role)
		filter.Role = &r
	}
	filter.Limit, filter.Offset = paging(c)

	page, err := h.directory.ListUsers(c.UserContext(), identity, filter)
	if err != nil {
		return err
	}
	items := make([]dto.UserResponse, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, userResponse(&page.Items[i]))
	}
	return c.JSON(fiber.Map{"data": items, "meta": pageMeta(page.Total, page.Limit, page.Offset)})
}

// GetUser GET /users/:id.
func (h *UsersHandler) GetUser(c *fiber.Ctx) error {
	identity, err := actor(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "user")
	if err != nil {
		return err
	}
	detail, err := h.directory.GetUser(c.UserContext(), identity, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.UserDetailResponse{
		UserResponse: userResponse(detail.User),
		Goals:        goalResponses(detail.Goals),
	}})
}

// UpdateUser PUT /users/:id.
func (h *UsersHandler) UpdateUser(c *fiber.Ctx) error {
	identity, err := actor(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "user")
	if err != nil {
		return err
	}
	var req dto.UpdateUserRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	user, err := h.directory.UpdateUser(c.UserContext(), identity, id, service.UserUpdateInput{
		Name:        req.Name,
		Email:       req.Email,
		Password:    req.Password,
		Role:        req.Role,
		LeaderID:    req.LeaderID,
		ClearLeader: req.ClearLeader,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": userResponse(user)})
}

// DeleteUser DELETE /users/:id.
func (h *UsersHandler) DeleteUser(c *fiber.Ctx) error {
	identity, err := actor(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "user")
	if err != nil {
		return err
	}
	if err := h.directory.DeleteUser(c.UserContext(), identity, id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
