package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/Alijeyrad/carebook_backend/internal/jobs"
)

// JobRunner runs a named maintenance job once, under the same lock the
// scheduler uses.
type JobRunner interface {
	RunNow(ctx context.Context, name string) (any, error)
}

type MaintenanceHandler struct {
	runner JobRunner
}

func NewMaintenanceHandler(runner JobRunner) *MaintenanceHandler {
	return &MaintenanceHandler{runner: runner}
}

// POST /admin/maintenance/:job
func (h *MaintenanceHandler) Run(c fiber.Ctx) error {
	report, err := h.runner.RunNow(c.Context(), c.Params("job"))
	switch {
	case err == nil:
		return ok(c, report)
	case errors.Is(err, jobs.ErrUnknownJob):
		return notFound(c, err.Error())
	case errors.Is(err, jobs.ErrLocked):
		return conflict(c, err.Error())
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "job failed",
			"data":  report,
		})
	}
}
