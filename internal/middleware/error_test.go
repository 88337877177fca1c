package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/soltixdb/shardgate/internal/logging"
	"github.com/soltixdb/shardgate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"bad request", fiber.ErrBadRequest, fiber.StatusBadRequest, "BAD_REQUEST", "Bad Request"},
		{"not found with message", fiber.NewError(fiber.StatusNotFound, "cluster c9 not registered"),
			fiber.StatusNotFound, "NOT_FOUND", "cluster c9 not registered"},
		{"service unavailable", fiber.ErrServiceUnavailable, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service Unavailable"},
		{"teapot", fiber.ErrTeapot, fiber.StatusTeapot, "IM_A_TEAPOT", "I'm a teapot"},
		{"plain error hides details", errors.New("dial tcp: refused"),
			fiber.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal Server Error"},
		{"wrapped fiber error", errors.Join(fiber.ErrConflict), fiber.StatusConflict, "CONFLICT", "Conflict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.NewNop())})
			app.Get("/v1/clusters/c1", func(c *fiber.Ctx) error { return tt.err })

			resp, err := app.Test(httptest.NewRequest("GET", "/v1/clusters/c1", nil))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, fiber.MIMEApplicationJSON, resp.Header.Get(fiber.HeaderContentType))

			body, _ := io.ReadAll(resp.Body)
			var errResp models.ErrorResponse
			require.NoError(t, json.Unmarshal(body, &errResp))
			assert.Equal(t, tt.code, errResp.Error.Code)
			assert.Equal(t, tt.message, errResp.Error.Message)
			assert.Equal(t, "/v1/clusters/c1", errResp.Error.Path)
		})
	}
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "UNAUTHORIZED", StatusCode(fiber.StatusUnauthorized))
	assert.Equal(t, "ERROR", StatusCode(999))
}
