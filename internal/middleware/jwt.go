package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"errors"   // errors.Is unwraps parser errors
	"net/http" // HTTP status codes for responses
	"strings"  // string utilities for prefix checking and trimming

	"github.com/golang-jwt/jwt/v5" // JWT library for parsing and validating tokens
	"github.com/labstack/echo/v4"  // Echo framework used for defining middleware and handlers

	"github.com/iliyamo/parkb/internal/utils"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the token's subject and role claims into the request context.  The
// provided secret must match the one used when issuing tokens.  Handlers
// read the caller through UserID and Role.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// A valid header starts with "Bearer " followed by the JWT.
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			claims, err := utils.ParseAccessToken(secret, raw)
			if err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token expired"})
				}
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			if !claims.Role.Valid() {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}

			SetIdentity(c, claims.UserID, claims.Role)
			return next(c)
		}
	}
}

// OptionalJWT is JWTAuth for routes that also serve anonymous callers.  A
// valid bearer sets the identity; a missing or bad one is ignored.
func OptionalJWT(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				if claims, err := utils.ParseAccessToken(secret, strings.TrimPrefix(auth, "Bearer ")); err == nil && claims.Role.Valid() {
					SetIdentity(c, claims.UserID, claims.Role)
				}
			}
			return next(c)
		}
	}
}
