package controller

import (
	"csv-analyst-be/internal/pkg/serverutils"

	"github.com/gofiber/fiber/v2"
)

type IHealthController interface {
	RegisterRoutes(r fiber.Router)
	Health(ctx *fiber.Ctx) error
}

type healthController struct {
	sessions func() int
}

func NewHealthController(sessions func() int) IHealthController {
	return &healthController{sessions: sessions}
}

func (c *healthController) RegisterRoutes(r fiber.Router) {
	r.Get("/health", c.Health)
}

func (c *healthController) Health(ctx *fiber.Ctx) error {
	return ctx.JSON(serverutils.SuccessResponse("ok", map[string]int{
		"sessions": c.sessions(),
	}))
}
