package catalog

import (
	"evently-seats/internal/shared/middleware"

	"github.com/gin-gonic/gin"
)

func SetupCatalogRoutes(rg *gin.RouterGroup, controller *Controller, auth gin.HandlerFunc) {

	// PUBLIC CATALOG

	events := rg.Group("/events")
	{
		events.GET("/:eventId/seats", controller.GetSeats)        // GET /api/v1/events/:eventId/seats
		events.GET("/:eventId/sections", controller.ListSections) // GET /api/v1/events/:eventId/sections
	}
	rg.GET("/seats/:seatId", controller.GetSeat) // GET /api/v1/seats/:seatId

	// ADMIN CATALOG LOADING

	admin := rg.Group("/admin/events")
	admin.Use(auth, middleware.RequireRoles(middleware.RoleAdmin, middleware.RoleStaff))
	{
		admin.POST("/:eventId/seats", controller.LoadSeats)          // POST /api/v1/admin/events/:eventId/seats
		admin.POST("/:eventId/floor-plan", controller.LoadFloorPlan) // POST /api/v1/admin/events/:eventId/floor-plan
		admin.POST("/:eventId/seats/renumber", controller.Renumber)  // POST /api/v1/admin/events/:eventId/seats/renumber
	}
}
