package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-slot-reservation/internal/config"
	"github.com/iliyamo/event-slot-reservation/internal/handler"
	"github.com/iliyamo/event-slot-reservation/internal/middleware"
)

// RegisterRoutes registers routes that need no dependencies on the
// provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	// Used by load balancers and monitoring to verify the service is up.
	e.GET("/healthz", handler.Health)
}

// RegisterAPI wires the reservation core's endpoints.  The rate limiter
// shields the two write paths that take the brunt of a sale opening
// (queue enter and reserve); the response cache fronts the public
// browse reads.  Both degrade to pass-through when rdb is nil.
func RegisterAPI(e *echo.Echo, a *handler.AdmissionHandler, r *handler.ReservationHandler, b *handler.BrowseHandler, rdb *redis.Client) {
	rl := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	v1 := e.Group("/v1")

	// Admission queue: enter is rate limited, status polling is the
	// client heartbeat and stays cheap.
	v1.POST("/events/:id/queue", a.Enter, rl)
	v1.GET("/events/:id/queue/status", a.Status)

	// Reservation core.
	v1.POST("/slots/:id/reservations", r.Reserve, rl)
	v1.DELETE("/reservations/:id", r.Cancel)
	v1.GET("/users/:id/reservations", r.ListByUser)

	// Public browse, cached.
	v1.GET("/events/:id", b.GetEvent, cache)
	v1.GET("/events/:id/slots", b.ListSlots, cache)
}
