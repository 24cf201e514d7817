package middleware

// identity.go holds the context keys JWTAuth fills in and the accessors
// handlers and other middleware use to read them.

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parkb/internal/model"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// UserID returns the authenticated user's id.  ok is false for anonymous
// requests.
func UserID(c echo.Context) (id uint64, ok bool) {
	switch v := c.Get(ctxUserID).(type) {
	case uint64:
		return v, v != 0
	case float64:
		return uint64(v), v > 0
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		return n, err == nil && n != 0
	}
	return 0, false
}

// Role returns the authenticated user's role, or "" for anonymous requests.
func Role(c echo.Context) model.Role {
	if s, ok := c.Get(ctxRole).(string); ok {
		return model.Role(s)
	}
	return ""
}

// SetIdentity stores id and role the way JWTAuth does.  Tests use it to
// call handlers directly.
func SetIdentity(c echo.Context, id uint64, role model.Role) {
	c.Set(ctxUserID, id)
	c.Set(ctxRole, string(role))
}

// identityKey renders the caller for rate-limit keys.
func identityKey(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
