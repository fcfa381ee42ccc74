package serverutils

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// ErrorMapping binds a sentinel error to the status and message sent to clients.
type ErrorMapping struct {
	Err     error
	Status  int
	Message string
}

// ErrorHandlerMiddleware renders any error returned down the chain as the
// standard envelope. Mappings are matched with errors.Is in order.
func ErrorHandlerMiddleware(mappings ...ErrorMapping) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		status, message := Resolve(err, mappings)
		return ctx.Status(status).JSON(ErrorResponse(status, message))
	}
}

// Resolve picks the status and message for err.
func Resolve(err error, mappings []ErrorMapping) (int, string) {
	for _, m := range mappings {
		if errors.Is(err, m.Err) {
			return m.Status, m.Message
		}
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return fiber.StatusBadRequest, validationErr.Error()
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code, fiberErr.Message
	}

	return fiber.StatusInternalServerError, "internal server error"
}
