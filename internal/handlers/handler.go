package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/soltixdb/shardgate/internal/locator"
	"github.com/soltixdb/shardgate/internal/logging"
	"github.com/soltixdb/shardgate/internal/metadata"
	"github.com/soltixdb/shardgate/internal/proxy"
	"github.com/soltixdb/shardgate/internal/topology"
)

// Handler contains all admin HTTP handlers
type Handler struct {
	logger  *logging.Logger
	coord   *proxy.Coordinator
	status  *metadata.StatusManager
	version string
}

// New creates a new handler instance
func New(logger *logging.Logger, coord *proxy.Coordinator, store metadata.Store, version string) *Handler {
	return &Handler{
		logger:  logger.With("component", "admin_api"),
		coord:   coord,
		status:  metadata.NewStatusManager(store, logger),
		version: version,
	}
}

// httpError maps routing errors to HTTP statuses
func httpError(err error) error {
	switch {
	case errors.Is(err, proxy.ErrNotRegistered), errors.Is(err, metadata.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, proxy.ErrEmptyCluster), errors.Is(err, proxy.ErrEmptyKey),
		errors.Is(err, locator.ErrInvalidKey):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, proxy.ErrNodeNotFound), errors.Is(err, proxy.ErrNodeInactive),
		errors.Is(err, proxy.ErrNoReadable), errors.Is(err, topology.ErrNoWritableInstance),
		errors.Is(err, topology.ErrNoReadableInstance):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return err
}
