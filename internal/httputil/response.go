// Package httputil holds small helpers shared by every HTTP handler: the success/error envelope and the
// request-logging middleware.
package httputil

import (
	"github.com/gofiber/fiber/v3"
)

// Code is a stable machine-readable error identifier returned alongside error responses so clients can branch on it
// instead of parsing the localized message.
type Code string

// Error codes used across the HTTP API.
const (
	CodeInvalidJSON     Code = "invalid_json"
	CodeInvalidLimit    Code = "invalid_limit"
	CodeInvalidOffset   Code = "invalid_offset"
	CodeInvalidID       Code = "invalid_id"
	CodeValidation      Code = "validation_error"
	CodeUnauthenticated Code = "unauthenticated"
	CodeForbidden       Code = "forbidden"
	CodeNotFound        Code = "not_found"
	CodeConflict        Code = "conflict"
	CodePayloadTooLarge Code = "payload_too_large"
	CodeRateLimited     Code = "rate_limited"
	CodeInternal        Code = "internal_error"
	CodeCSRFInvalid     Code = "csrf_invalid"
)

// SuccessResponse wraps every successful JSON response that does not need its own top-level shape (pagination
// envelopes are sent raw via Raw instead).
type SuccessResponse struct {
	Data any `json:"data"`
}

// ErrorResponse is the wire shape for every error response: a human-readable, localized message plus an optional
// stable code for programmatic handling. This matches the `{error, code?}` envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  Code   `json:"code,omitempty"`
}

// Success sends a 200 JSON response with the given data.
func Success(c fiber.Ctx, data any) error {
	return c.JSON(SuccessResponse{Data: data})
}

// SuccessStatus sends a JSON response with a custom status code.
func SuccessStatus(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(SuccessResponse{Data: data})
}

// Raw sends data at the top level of the response body, used by listing endpoints whose envelope is
// `{messages|results, total, offset, limit, has_more}` rather than the generic `{data}` wrapper.
func Raw(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(data)
}

// Fail sends a JSON error response with the given status, code, and localized message.
func Fail(c fiber.Ctx, status int, code Code, message string) error {
	return c.Status(status).JSON(ErrorResponse{Error: message, Code: code})
}
