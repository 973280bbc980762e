package handler

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/todoexport/api/internal/model"
	"github.com/todoexport/api/internal/service"
	"github.com/todoexport/api/internal/store"
	"github.com/todoexport/api/pkg/response"
)

type TodoHandler struct {
	service   *service.TodoService
	validator *validator.Validate
	logger    *slog.Logger
}

func NewTodoHandler(svc *service.TodoService, v *validator.Validate, logger *slog.Logger) *TodoHandler {
	return &TodoHandler{
		service:   svc,
		validator: v,
		logger:    logger,
	}
}

func (h *TodoHandler) backHome(c *fiber.Ctx) error {
	return c.Redirect("/", fiber.StatusSeeOther)
}

func todoID(c *fiber.Ctx) (int64, error) {
	return strconv.ParseInt(c.Params("id"), 10, 64)
}

// Index handles GET /
func (h *TodoHandler) Index(c *fiber.Ctx) error {
	todos, err := h.service.List(c.UserContext(), store.ListFilter{})
	if err != nil {
		return err
	}

	return c.Render("index", fiber.Map{
		"Title": "Todo List",
		"Todos": todos,
	})
}

// Add handles POST /add
func (h *TodoHandler) Add(c *fiber.Ctx) error {
	var req model.AddTodoRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.WarnContext(c.UserContext(), "invalid add form", slog.Any("error", err))
		return h.backHome(c)
	}
	req.Task = strings.TrimSpace(req.Task)

	if err := h.validator.Struct(&req); err != nil {
		h.logger.WarnContext(c.UserContext(), "rejected todo", slog.Any("fields", formatValidationErrors(err)))
		return h.backHome(c)
	}

	todo, err := h.service.Add(c.UserContext(), req.Task)
	if err != nil {
		if errors.Is(err, service.ErrEmptyTodo) {
			h.logger.WarnContext(c.UserContext(), "rejected empty todo")
			return h.backHome(c)
		}
		return err
	}

	h.logger.InfoContext(c.UserContext(), "todo added", slog.Int64("todo_id", todo.ID))
	return h.backHome(c)
}

// Delete handles POST /delete/:id
func (h *TodoHandler) Delete(c *fiber.Ctx) error {
	id, err := todoID(c)
	if err != nil {
		return response.ValidationError(c, "Invalid todo id", nil)
	}

	if err := h.service.Delete(c.UserContext(), id); err != nil {
		if !errors.Is(err, store.ErrTodoNotFound) {
			return err
		}
		h.logger.WarnContext(c.UserContext(), "delete of unknown todo", slog.Int64("todo_id", id))
	}

	return h.backHome(c)
}

// Toggle handles POST /toggle/:id
func (h *TodoHandler) Toggle(c *fiber.Ctx) error {
	id, err := todoID(c)
	if err != nil {
		return response.ValidationError(c, "Invalid todo id", nil)
	}

	if _, err := h.service.Toggle(c.UserContext(), id); err != nil {
		if !errors.Is(err, store.ErrTodoNotFound) {
			return err
		}
		h.logger.WarnContext(c.UserContext(), "toggle of unknown todo", slog.Int64("todo_id", id))
	}

	return h.backHome(c)
}

// Reorder handles POST /reorder
func (h *TodoHandler) Reorder(c *fiber.Ctx) error {
	var req model.ReorderRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := h.service.Reorder(c.UserContext(), req.Order); err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.NoContent(c)
}

// List handles GET /api/todos
func (h *TodoHandler) List(c *fiber.Ctx) error {
	filter := store.ListFilter{Query: c.Query("q")}

	if raw := c.Query("done"); raw != "" {
		done, err := strconv.ParseBool(raw)
		if err != nil {
			return response.ValidationError(c, "Invalid done filter", fiber.Map{"done": "bool"})
		}
		filter.Done = &done
	}
	if limit := c.QueryInt("limit", 0); limit > 0 {
		filter.Limit = limit
	}

	todos, err := h.service.List(c.UserContext(), filter)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, todos)
}
