package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/soltixdb/shardgate/internal/models"
)

// Health reports process liveness and the serving state of each cluster.
// It answers 503 when a registered cluster has no routable node.
func (h *Handler) Health(c *fiber.Ctx) error {
	resp := models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   h.version,
		Client:    h.coord.ClientName(),
		Clusters:  make(map[string]bool),
	}
	for _, name := range h.coord.Names() {
		ok := h.coord.Serving(name)
		resp.Clusters[name] = ok
		if !ok {
			resp.Status = "degraded"
		}
	}
	if resp.Status != "healthy" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.JSON(resp)
}

// NotFound handles 404 errors
func (h *Handler) NotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    "NOT_FOUND",
			Message: "Route not found",
			Path:    c.Path(),
		},
	})
}
