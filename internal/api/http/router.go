package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/lead-service/internal/api/http/handlers"
	"github.com/spec-kit/lead-service/internal/auth"
	"github.com/spec-kit/lead-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Leads          *handlers.LeadsHandler
	Calls          *handlers.CallsHandler
	Goals          *handlers.GoalsHandler
	Users          *handlers.UsersHandler
	Dashboard      *handlers.DashboardHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))

	authGroup := app.Group("/auth")
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Get("/me", cfg.AuthMiddleware.Handle, cfg.Auth.Me)
	authGroup.Post("/password/change", cfg.AuthMiddleware.Handle, cfg.Auth.ChangePassword)

	leads := app.Group("/leads", cfg.AuthMiddleware.Handle)
	leads.Post("/", cfg.Leads.CreateLead)
	leads.Get("/", cfg.Leads.ListLeads)
	leads.Put("/bulk/status", cfg.Leads.BulkStatus)
	leads.Put("/bulk/assign", cfg.Leads.BulkAssign)
	leads.Post("/ingest", cfg.Leads.Ingest)
	leads.Post("/upload", cfg.Leads.Upload)
	leads.Get("/:id", cfg.Leads.GetLead)
	leads.Put("/:id", cfg.Leads.UpdateLead)
	leads.Patch("/:id/status", cfg.Leads.UpdateStatus)
	leads.Delete("/:id", cfg.Leads.DeleteLead)
	leads.Get("/:id/activity", cfg.Leads.Activity)

	calls := app.Group("/calls", cfg.AuthMiddleware.Handle)
	calls.Post("/", cfg.Calls.RecordCall)
	calls.Get("/", cfg.Calls.ListCalls)

	goals := app.Group("/goals", cfg.AuthMiddleware.Handle)
	goals.Post("/", cfg.Goals.CreateGoal)
	goals.Get("/", cfg.Goals.ListGoals)

	users := app.Group("/users", cfg.AuthMiddleware.Handle)
	users.Post("/", cfg.Users.CreateUser)
	users.Get("/", cfg.Users.ListUsers)
	users.Get("/:id", cfg.Users.GetUser)
	users.Put("/:id", cfg.Users.UpdateUser)
	users.Delete("/:id", cfg.Users.DeleteUser)

	app.Get("/dashboard/summary", cfg.AuthMiddleware.Handle, cfg.Dashboard.Summary)
}
