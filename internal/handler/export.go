package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/todoexport/api/internal/model"
	"github.com/todoexport/api/internal/service"
	"github.com/todoexport/api/pkg/response"
)

type ExportHandler struct {
	service   *service.ExportService
	validator *validator.Validate
	logger    *slog.Logger
}

func NewExportHandler(svc *service.ExportService, v *validator.Validate, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{
		service:   svc,
		validator: v,
		logger:    logger,
	}
}

// Start handles POST /export
func (h *ExportHandler) Start(c *fiber.Ctx) error {
	// Only JSON bodies carry filters; anything else exports without them.
	var req model.ExportRequest
	if body := c.Body(); len(body) > 0 && c.Is("json") {
		if err := json.Unmarshal(body, &req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	taskID, err := h.service.Submit(c.UserContext(), req.Filters)
	if err != nil {
		h.logger.ErrorContext(c.UserContext(), "export submit failed", slog.Any("error", err))
		return response.Unavailable(c, err.Error())
	}

	return response.Accepted(c, model.ExportStartResponse{TaskID: taskID})
}

// Status handles GET /tasks/:taskId
func (h *ExportHandler) Status(c *fiber.Ctx) error {
	taskID := c.Params("taskId")
	if taskID == "" {
		return response.ValidationError(c, "Task ID is required", nil)
	}

	status, err := h.service.Status(c.UserContext(), taskID)
	if err != nil {
		return response.Unavailable(c, err.Error())
	}

	return response.OK(c, status)
}

// Download handles GET /download/:taskId
func (h *ExportHandler) Download(c *fiber.Ctx) error {
	taskID := c.Params("taskId")

	artifact, err := h.service.Fetch(c.UserContext(), taskID)
	switch {
	case errors.Is(err, service.ErrNotCompleted):
		return response.NotFound(c, "Task not completed")
	case errors.Is(err, service.ErrArtifactNotFound):
		return response.NotFound(c, "CSV not found")
	case err != nil:
		return response.Unavailable(c, err.Error())
	}

	f, err := os.Open(artifact.Path)
	if err != nil {
		// removed between Fetch and Open
		return response.NotFound(c, "CSV not found")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return response.NotFound(c, "CSV not found")
	}

	c.Attachment(artifact.Name)
	c.Set(fiber.HeaderContentType, artifact.ContentType)
	return c.SendStream(f, int(info.Size()))
}
