package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout bounds how long a request may hold store connections. The
// deadline travels on the request context; when it fires before anything
// was written, the client gets 503 with a Retry-After hint. A non-positive
// timeout disables the middleware.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	retryAfter := strconv.Itoa(int(timeout.Round(time.Second) / time.Second))
	if retryAfter == "0" {
		retryAfter = "1"
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if c.Response().Committed || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return err
			}
			c.Response().Header().Set("Retry-After", retryAfter)
			return echo.NewHTTPError(http.StatusServiceUnavailable, "the clinic is busy, try again later")
		}
	}
}
