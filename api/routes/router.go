// api/routes/router.go
package routes

import (
	"context"
	"net/http"
	"time"

	"evently-seats/internal/catalog"
	"evently-seats/internal/reservations"
	"evently-seats/internal/shared/config"
	"evently-seats/internal/shared/middleware"
	"evently-seats/pkg/logger"

	"github.com/gin-gonic/gin"
)

// HealthChecker reports whether the backing stores are reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies are the services the HTTP layer exposes
type Dependencies struct {
	Catalog      *catalog.Service
	Reservations *reservations.Service
	Sweeper      *reservations.Sweeper
	// Health is nil for the in-memory store
	Health HealthChecker
}

// Router holds all route dependencies
type Router struct {
	config *config.Config
	deps   Dependencies
	log    *logger.Logger
	auth   gin.HandlerFunc
}

// NewRouter creates a new router instance
func NewRouter(cfg *config.Config, deps Dependencies, log *logger.Logger) *Router {
	return &Router{
		config: cfg,
		deps:   deps,
		log:    log,
		auth:   middleware.JWTAuth(cfg.JWT.Secret, log),
	}
}

// WithAuth replaces the bearer token check
func (r *Router) WithAuth(auth gin.HandlerFunc) *Router {
	r.auth = auth
	return r
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	r.setupHealthRoutes(engine)

	api := engine.Group(r.config.GetAPIBasePath())
	{
		r.setupCatalogRoutes(api)
		r.setupReservationRoutes(api)
	}
}

// setupHealthRoutes sets up health check and system status routes
func (r *Router) setupHealthRoutes(engine *gin.Engine) {
	engine.GET("/health", func(c *gin.Context) {
		if r.deps.Health != nil {
			if err := r.deps.Health.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":    "unhealthy",
					"error":     err.Error(),
					"timestamp": time.Now(),
					"service":   "evently-seats",
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"service":   "evently-seats",
		})
	})

	engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
			"version": r.config.APIVersion,
		})
	})

	engine.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "operational",
			"api_version":  r.config.APIVersion,
			"store_driver": r.config.StoreDriver,
			"sweeper":      r.config.Sweeper.Enabled,
			"kafka":        r.config.Kafka.Enabled,
			"timestamp":    time.Now(),
		})
	})
}

// setupCatalogRoutes configures seat catalog routes
func (r *Router) setupCatalogRoutes(rg *gin.RouterGroup) {
	controller := catalog.NewController(r.deps.Catalog, r.log)
	catalog.SetupCatalogRoutes(rg, controller, r.auth)
}

// setupReservationRoutes configures availability and hold routes
func (r *Router) setupReservationRoutes(rg *gin.RouterGroup) {
	controller := reservations.NewController(r.deps.Reservations, r.deps.Sweeper, r.log)
	reservations.SetupReservationRoutes(rg, controller, r.auth)
}
