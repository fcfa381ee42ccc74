package service

import (
	"errors"

	"csv-analyst-be/internal/pkg/serverutils"
	"csv-analyst-be/pkg/ai/pipeline"
	"csv-analyst-be/pkg/dataset"

	"github.com/gofiber/fiber/v2"
)

var (
	ErrMissingCredential = pipeline.ErrMissingCredential
	ErrInvalidFileType   = dataset.ErrInvalidFileType
	ErrDatasetParse      = dataset.ErrParse
	ErrModelRequest      = errors.New("model request failed")
	ErrEmptyUserInput    = errors.New("empty user input")
	ErrNotReady          = errors.New("no dataset loaded")
	ErrSessionNotFound   = errors.New("session not found")
	ErrTurnInProgress    = errors.New("turn in progress")
)

// ErrorMappings lists the user-facing status and message of every service error.
func ErrorMappings() []serverutils.ErrorMapping {
	return []serverutils.ErrorMapping{
		{Err: ErrMissingCredential, Status: fiber.StatusBadRequest, Message: "provide an API key first"},
		{Err: ErrInvalidFileType, Status: fiber.StatusBadRequest, Message: "file must be a valid CSV"},
		{Err: ErrDatasetParse, Status: fiber.StatusUnprocessableEntity, Message: "could not read the CSV file, please check the file and try again"},
		{Err: ErrModelRequest, Status: fiber.StatusBadGateway, Message: "the model request failed, please try again"},
		{Err: ErrNotReady, Status: fiber.StatusConflict, Message: "upload a CSV file first"},
		{Err: ErrTurnInProgress, Status: fiber.StatusConflict, Message: "a reply is still being generated, please wait"},
		{Err: ErrEmptyUserInput, Status: fiber.StatusBadRequest, Message: "message must not be empty"},
		{Err: ErrSessionNotFound, Status: fiber.StatusNotFound, Message: "session not found"},
	}
}
