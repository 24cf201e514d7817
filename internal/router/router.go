package router // router defines how HTTP routes are registered for the API

import (
	"net/http" // metrics handler type

	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/iliyamo/parkb/internal/handler"    // HTTP handlers
	"github.com/iliyamo/parkb/internal/middleware" // JWT, roles and cache
)

// Deps bundles what the route tree needs.
type Deps struct {
	Auth      *handler.AuthHandler
	Parking   *handler.ParkingHandler
	JWTSecret string
	// Metrics serves /metrics when non-nil.
	Metrics http.Handler
	// StatusCache wraps GET /v1/status when non-nil.
	StatusCache echo.MiddlewareFunc
}

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health)
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics))
	}
	if d.StatusCache != nil {
		e.GET("/v1/status", d.Parking.Status, d.StatusCache)
	} else {
		e.GET("/v1/status", d.Parking.Status)
	}
}

// RegisterAuth registers login, token rotation and logout under /v1/auth
// and the profile endpoint under /v1.
func RegisterAuth(e *echo.Echo, d Deps) {
	g := e.Group("/v1/auth")
	g.POST("/login", d.Auth.Login)
	g.POST("/refresh", d.Auth.Refresh)
	// Logout accepts either a refresh token in the body or a bearer.
	g.POST("/logout", d.Auth.Logout, middleware.OptionalJWT(d.JWTSecret))

	auth := e.Group("/v1", middleware.JWTAuth(d.JWTSecret))
	auth.GET("/me", d.Auth.Me)
	auth.PATCH("/me", d.Auth.UpdateMe)
}

// RegisterParking registers the subscriber and staff parking endpoints.
// Every route needs a valid access token; staff routes also need the
// attendant or manager role.
func RegisterParking(e *echo.Echo, d Deps) {
	p := d.Parking
	g := e.Group("/v1", middleware.JWTAuth(d.JWTSecret))

	// ---- Subscriber ----
	g.GET("/availability", p.Availability)
	g.GET("/time-slots", p.TimeSlots)
	g.POST("/reservations", p.Reserve)
	g.GET("/my-reservations", p.MyReservations)
	g.POST("/reservations/:code/activate", p.Activate)
	g.DELETE("/reservations/:code", p.Cancel)
	g.POST("/entries", p.EnterWalkIn)
	g.POST("/entries/reservation", p.EnterWithReservation)
	g.POST("/exits", p.Exit)
	g.POST("/sessions/:code/extension-request", p.RequestExtension)
	g.GET("/my-history", p.MyHistory)
	g.GET("/my-session/code", p.LostCode)

	// ---- Staff ----
	staff := e.Group("/v1", middleware.JWTAuth(d.JWTSecret), middleware.RequireStaff())
	staff.POST("/subscribers", d.Auth.RegisterSubscriber)
	staff.POST("/sessions/:code/extend", p.Extend)
	staff.GET("/sessions/active", p.ActiveSessions)
}

// Register wires the whole route tree.
func Register(e *echo.Echo, d Deps) {
	RegisterRoutes(e, d)
	RegisterAuth(e, d)
	RegisterParking(e, d)
}
