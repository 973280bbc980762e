package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const pingTimeout = 2 * time.Second

// Pinger is satisfied by *redis.Client.
type Pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

type HealthHandler struct {
	redis []Pinger
}

// NewHealthHandler checks every given Redis (broker and result backend).
func NewHealthHandler(pingers ...Pinger) *HealthHandler {
	return &HealthHandler{redis: pingers}
}

// Live handles GET /healthz
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// Background handles GET /healthz/background
func (h *HealthHandler) Background(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), pingTimeout)
	defer cancel()

	for _, p := range h.redis {
		if err := p.Ping(ctx).Err(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"redis": "unreachable",
				"error": err.Error(),
			})
		}
	}

	return c.JSON(fiber.Map{"redis": "ok"})
}
