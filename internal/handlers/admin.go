package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/soltixdb/shardgate/internal/models"
)

// FailFast lists endpoints the breaker, the health checker or the isolator
// currently keep out of traffic
func (h *Handler) FailFast(c *fiber.Ctx) error {
	return c.JSON(models.FailFastResponse{
		Enabled:  h.coord.Breaker().Enabled(),
		Open:     nonNil(h.coord.Breaker().Listed()),
		Removed:  nonNil(h.coord.Health().Removed()),
		Isolated: nonNil(h.coord.Isolator().Isolated()),
	})
}

// Pools lists connection pool counters, busiest first. ?top=N limits the
// list.
func (h *Handler) Pools(c *fiber.Ctx) error {
	top := c.QueryInt("top", 0)
	if top < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "top must not be negative")
	}
	return c.JSON(models.PoolListResponse{Pools: h.coord.PoolStats().Top(top)})
}

// Latency returns the last closed latency window
func (h *Handler) Latency(c *fiber.Ctx) error {
	return c.JSON(h.coord.Monitor().Snapshot())
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
