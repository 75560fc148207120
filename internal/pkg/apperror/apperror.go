package apperror

import (
	stdErrors "errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

type Code string

const (
	CodeValidation       Code = "VALIDATION_ERROR"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodePaymentRequired  Code = "PAYMENT_REQUIRED"
	CodeForbidden        Code = "FORBIDDEN"
	CodeNotFound         Code = "NOT_FOUND"
	CodeMethodNotAllowed Code = "METHOD_NOT_ALLOWED"
	CodeInternal         Code = "INTERNAL_ERROR"
	CodeDependency       Code = "DEPENDENCY_ERROR"
)

type Metadata struct {
	HTTPStatus    int
	PublicMessage string
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:       {HTTPStatus: http.StatusBadRequest, PublicMessage: "invalid request"},
	CodeUnauthorized:     {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required"},
	CodePaymentRequired:  {HTTPStatus: http.StatusPaymentRequired, PublicMessage: "payment required"},
	CodeForbidden:        {HTTPStatus: http.StatusForbidden, PublicMessage: "access denied"},
	CodeNotFound:         {HTTPStatus: http.StatusNotFound, PublicMessage: "not found"},
	CodeMethodNotAllowed: {HTTPStatus: http.StatusMethodNotAllowed, PublicMessage: "method not allowed"},
	CodeInternal:         {HTTPStatus: http.StatusInternalServerError, PublicMessage: "internal server error"},
	CodeDependency:       {HTTPStatus: http.StatusBadGateway, PublicMessage: "payment provider unavailable"},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is an error with a stable code and a message safe to show to clients.
type Error struct {
	code    Code
	message string
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// Respond writes err as {"detail": "..."} with the mapped status.
func Respond(c *fiber.Ctx, err error) error {
	if typed := As(err); typed != nil {
		meta := MetadataFor(typed.code)
		msg := typed.message
		if msg == "" {
			msg = meta.PublicMessage
		}
		return c.Status(meta.HTTPStatus).JSON(fiber.Map{"detail": msg})
	}
	var fe *fiber.Error
	if stdErrors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"detail": fe.Message})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": metadataByCode[CodeInternal].PublicMessage})
}

// ErrorHandler is the fiber error handler of the application.
func ErrorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		if typed := As(err); typed != nil {
			status = MetadataFor(typed.code).HTTPStatus
		} else {
			var fe *fiber.Error
			if stdErrors.As(err, &fe) {
				status = fe.Code
			}
		}
		if status >= fiber.StatusInternalServerError {
			log.Error().Err(err).Str("path", c.Path()).Str("method", c.Method()).Msg("request failed")
		}
		return Respond(c, err)
	}
}
