package middleware

import "github.com/labstack/echo/v4"

const (
	ctxUserID   = "user_id"
	ctxUsername = "username"
)

// UserID returns the authenticated user's id set by CookieAuth, or "" when
// the request is anonymous.
func UserID(c echo.Context) string {
	s, _ := c.Get(ctxUserID).(string)
	return s
}

// Username returns the authenticated user's name set by CookieAuth.
func Username(c echo.Context) string {
	s, _ := c.Get(ctxUsername).(string)
	return s
}
