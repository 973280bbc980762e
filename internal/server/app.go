// Package server assembles the web process' fiber application.
package server

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/todoexport/api/internal/config"
	"github.com/todoexport/api/internal/handler"
	"github.com/todoexport/api/internal/middleware"
	"github.com/todoexport/api/internal/model"
	"github.com/todoexport/api/internal/observability"
	"github.com/todoexport/api/internal/service"
	ws "github.com/todoexport/api/internal/websocket"
	"github.com/todoexport/api/pkg/response"
	"github.com/todoexport/api/web"
)

// Deps are the collaborators of the web application. Hub, RateLimiter and
// Views are optional.
type Deps struct {
	Config      *config.Config
	Logger      *slog.Logger
	Metrics     *observability.Metrics
	Todos       *service.TodoService
	Exports     *service.ExportService
	Health      *handler.HealthHandler
	Hub         *ws.Hub
	RateLimiter *middleware.RateLimiter
	Views       fiber.Views
}

// New builds the fiber app with every route registered.
func New(d Deps) *fiber.App {
	views := d.Views
	if views == nil {
		views = web.Engine()
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler(d.Logger),
		Views:                 views,
		DisableStartupMessage: true,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.Observe(d.Logger, d.Metrics))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	validate := validator.New()
	todoHandler := handler.NewTodoHandler(d.Todos, validate, d.Logger)
	exportHandler := handler.NewExportHandler(d.Exports, validate, d.Logger)

	// Health and metrics
	app.Get("/healthz", d.Health.Live)
	app.Get("/healthz/background", d.Health.Background)
	app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))

	// Todo UI
	app.Get("/", todoHandler.Index)
	app.Post("/add", todoHandler.Add)
	app.Post("/delete/:id", todoHandler.Delete)
	app.Post("/toggle/:id", todoHandler.Toggle)
	app.Post("/reorder", todoHandler.Reorder)
	app.Get("/api/todos", todoHandler.List)

	// Export routes
	app.Post("/export", d.RateLimiter.ExportLimit(d.Config.RateLimit.ExportPerHour), exportHandler.Start)
	app.Get("/tasks/:taskId", exportHandler.Status)
	app.Get("/download/:taskId", exportHandler.Download)

	// WebSocket routes
	if d.Hub != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})

		app.Get("/ws/tasks/:taskId", websocket.New(func(c *websocket.Conn) {
			taskID := c.Params("taskId")
			var initial *model.TaskStatusResponse
			if status, err := d.Exports.Status(context.Background(), taskID); err == nil {
				initial = &status
			}
			d.Hub.HandleConnection(c, taskID, initial)
		}))
	}

	return app
}

func errorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal Server Error"

		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
			message = e.Message
		} else {
			logger.ErrorContext(c.UserContext(), "unhandled error",
				slog.String("path", c.Path()),
				slog.Any("error", err),
			)
		}

		errCode := response.CodeServiceError
		if code == fiber.StatusNotFound {
			errCode = response.CodeNotFound
		}
		return response.Error(c, code, errCode, message, nil)
	}
}
