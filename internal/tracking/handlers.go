package tracking

import (
	"errors"

	"github.com/cbram/travel-companion-sub002/internal/lifecycle"

	"github.com/gofiber/fiber/v2"
)

// Ingestor accepts device-pushed raw samples, typically the channel-backed
// sample source.
type Ingestor interface {
	Push(sample RawSample) bool
}

type startRequest struct {
	TripID string `json:"trip_id"`
	Mode   Mode   `json:"mode"`
}

type manualWaypointRequest struct {
	Label string  `json:"label"`
	Note  string  `json:"note"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

type lifecycleRequest struct {
	State string `json:"state"`
}

func RegisterRoutes(r fiber.Router, svc *Service, ingest Ingestor, coord *lifecycle.Coordinator, authMiddleware fiber.Handler) {
	r.Post("/start", authMiddleware, func(c *fiber.Ctx) error {
		var req startRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		ownerID, _ := c.Locals("user_id").(string)

		session, err := svc.StartTracking(c.Context(), ownerID, req.TripID, req.Mode)
		if errors.Is(err, ErrAlreadyTracking) {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		if errors.Is(err, ErrNoTrip) {
			return fiber.NewError(fiber.StatusPreconditionFailed, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(session)
	})

	r.Post("/stop", authMiddleware, func(c *fiber.Ctx) error {
		if err := svc.StopTracking(c.Context()); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/samples", authMiddleware, func(c *fiber.Ctx) error {
		var sample RawSample
		if err := c.BodyParser(&sample); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if !sample.Valid() {
			return fiber.NewError(fiber.StatusUnprocessableEntity, "invalid sample")
		}
		emitted := ingest.Push(sample)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"emitted": emitted})
	})

	r.Post("/waypoints", authMiddleware, func(c *fiber.Ctx) error {
		var req manualWaypointRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		wp, err := svc.CreateManualWaypoint(c.Context(), req.Label, req.Note, req.Lat, req.Lng)
		if errors.Is(err, ErrNotTracking) {
			return fiber.NewError(fiber.StatusPreconditionFailed, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(wp)
	})

	r.Post("/flush", authMiddleware, func(c *fiber.Ctx) error {
		if err := svc.Flush(c.Context()); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/lifecycle", authMiddleware, func(c *fiber.Ctx) error {
		var req lifecycleRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		state, err := lifecycle.ParseState(req.State)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := coord.Transition(c.Context(), state); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"state": coord.State()})
	})

	r.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(svc.Status(c.Context()))
	})
}
