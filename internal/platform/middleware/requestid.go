// Package middleware holds the HTTP middleware chain for the gateway's
// API surface: request IDs, structured request logging, panic recovery,
// body size limits, and request timeouts.
package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequestIDHeader is the header request IDs are read from and echoed to.
const RequestIDHeader = "X-Request-ID"

// RequestID returns middleware that assigns each request an ID. An ID
// supplied by the caller is preserved; otherwise a new UUID is generated.
// The ID is stored under the "request_id" context key and echoed in the
// response header.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(RequestIDHeader)
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Set("request_id", rid)
			c.Response().Header().Set(RequestIDHeader, rid)
			return next(c)
		}
	}
}
