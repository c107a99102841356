package reservations

import (
	"evently-seats/internal/shared/middleware"

	"github.com/gin-gonic/gin"
)

func SetupReservationRoutes(rg *gin.RouterGroup, controller *Controller, auth gin.HandlerFunc) {

	// PUBLIC AVAILABILITY

	events := rg.Group("/events")
	{
		events.GET("/:eventId/availability", controller.GetAvailability)                // GET /api/v1/events/:eventId/availability
		events.GET("/:eventId/availability/summary", controller.GetAvailabilitySummary) // GET /api/v1/events/:eventId/availability/summary
	}

	// CHECKOUT HOLDS

	checkout := rg.Group("")
	checkout.Use(auth, middleware.RequireRoles(middleware.RoleUser, middleware.RoleAdmin))
	{
		checkout.POST("/events/:eventId/holds", controller.CreateHold) // POST /api/v1/events/:eventId/holds
		checkout.GET("/holds/:holdId", controller.GetHold)             // GET /api/v1/holds/:holdId
		checkout.DELETE("/holds/:holdId", controller.ReleaseHold)      // DELETE /api/v1/holds/:holdId
	}

	// PAYMENT CONFIRMATION

	payments := rg.Group("/holds")
	payments.Use(auth, middleware.RequireRoles(middleware.RolePayments, middleware.RoleAdmin))
	{
		payments.POST("/:holdId/confirm", controller.ConfirmHold) // POST /api/v1/holds/:holdId/confirm
	}

	// STAFF

	admin := rg.Group("/admin")
	admin.Use(auth, middleware.RequireRoles(middleware.RoleAdmin, middleware.RoleStaff))
	{
		admin.POST("/events/:eventId/holds", controller.CreateManualHold)               // POST /api/v1/admin/events/:eventId/holds
		admin.GET("/events/:eventId/holds", controller.ListHolds)                       // GET /api/v1/admin/events/:eventId/holds
		admin.POST("/events/:eventId/projection/rebuild", controller.RebuildProjection) // POST /api/v1/admin/events/:eventId/projection/rebuild
		admin.POST("/sweeper/run", controller.RunSweeper)                               // POST /api/v1/admin/sweeper/run
	}
}
