package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"evently-seats/api/routes"
	"evently-seats/internal/catalog"
	"evently-seats/internal/payments"
	"evently-seats/internal/reservations"
	"evently-seats/internal/shared/config"
	"evently-seats/internal/shared/database"
	"evently-seats/internal/shared/middleware"
	"evently-seats/pkg/cache"
	"evently-seats/pkg/clock"
	"evently-seats/pkg/logger"
	"evently-seats/pkg/ratelimit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// stores bundles the repositories chosen by STORE_DRIVER
type stores struct {
	catalog      catalog.Repository
	reservations reservations.Repository
	cache        cache.Service
	db           *database.DB
}

func main() {
	appLogger := logger.GetDefault()

	// Smart environment loading
	if err := godotenv.Load(); err != nil {
		if os.Getenv("GIN_MODE") == "release" || os.Getenv("DOCKER_CONTAINER") == "true" {
			appLogger.Info("Production environment: using container environment variables")
		} else {
			appLogger.Info("No .env file found, using system environment variables")
		}
	} else {
		appLogger.Info("Development environment: loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		appLogger.Error("Invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	gin.SetMode(cfg.GinMode)
	appLogger = logger.NewWithWriter(os.Stdout, cfg.LogLevel)
	logger.SetDefault(appLogger)

	if err := run(cfg, appLogger); err != nil {
		appLogger.Error("Server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	appLogger.Info("Server exited gracefully")
}

func run(cfg *config.Config, appLogger *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}

	loader := cache.NewLoader(st.cache)
	clk := clock.NewSystem()

	// Lifecycle events
	var publisher reservations.Publisher = reservations.NoopPublisher{}
	if cfg.Kafka.Enabled {
		kp, err := reservations.NewKafkaPublisher(cfg.Kafka, appLogger)
		if err != nil {
			return err
		}
		defer kp.Close()
		publisher = kp
	}

	catalogService := catalog.NewService(st.catalog, appLogger, catalog.WithCache(loader))
	reservationService := reservations.NewService(
		st.reservations,
		clk,
		reservations.PolicyFromConfig(cfg.Reservations),
		appLogger,
		reservations.WithPublisher(publisher),
		reservations.WithCache(loader),
	)
	sweeper := reservations.NewSweeper(reservationService, st.reservations, cfg.Sweeper, appLogger)

	var rateLimiter *ratelimit.RateLimiter
	if cfg.RateLimit.Enabled && st.db != nil && st.db.Redis != nil {
		rateLimiter = ratelimit.NewRateLimiter(st.db.Redis, ratelimit.Config{
			Enabled:         cfg.RateLimit.Enabled,
			WindowDuration:  cfg.RateLimit.WindowDuration,
			DefaultRequests: cfg.RateLimit.DefaultRequests,
			PublicRequests:  cfg.RateLimit.PublicRequests,
			HoldRequests:    cfg.RateLimit.HoldRequests,
			ConfirmRequests: cfg.RateLimit.ConfirmRequests,
			AdminRequests:   cfg.RateLimit.AdminRequests,
			WhitelistedIPs:  cfg.RateLimit.WhitelistedIPs,
		})
		appLogger.Info("Rate limiter initialized",
			slog.Duration("window", cfg.RateLimit.WindowDuration),
			slog.Int("hold_requests", cfg.RateLimit.HoldRequests),
		)
	} else {
		appLogger.Info("Rate limiting disabled")
	}

	deps := routes.Dependencies{
		Catalog:      catalogService,
		Reservations: reservationService,
		Sweeper:      sweeper,
	}
	if st.db != nil {
		deps.Health = st.db
	}
	router := setupRouter(cfg, deps, rateLimiter, appLogger)

	srv := &http.Server{
		Addr:           cfg.GetServerAddress(),
		Handler:        router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Sweeper.Enabled {
		if err := sweeper.Start(gctx); err != nil {
			return fmt.Errorf("start sweeper: %w", err)
		}
		defer func() {
			if err := sweeper.Stop(); err != nil {
				appLogger.Error("Error stopping sweeper", slog.Any("error", err))
			}
		}()
	}

	if cfg.Kafka.Enabled {
		compensations, err := payments.NewKafkaCompensationPublisher(cfg.Kafka)
		if err != nil {
			return err
		}
		defer compensations.Close()

		handler := payments.NewHandler(reservationService, compensations, clk, appLogger)
		consumer, err := payments.NewConsumer(cfg.Kafka, handler, appLogger)
		if err != nil {
			return err
		}
		consumer.Start(gctx, cfg.Kafka.ConsumerWorkers)
		g.Go(func() error {
			<-gctx.Done()
			return consumer.Stop()
		})
	}

	g.Go(func() error {
		appLogger.Info("Server running",
			slog.String("address", cfg.GetServerAddress()),
			slog.String("health_check", fmt.Sprintf("http://localhost:%s/health", cfg.Port)),
			slog.String("api_base", cfg.GetAPIBasePath()),
			slog.String("store_driver", cfg.StoreDriver),
			slog.String("version", Version),
			slog.String("commit", GitCommit),
			slog.String("build_time", BuildTime),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("forced shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openStores(ctx context.Context, cfg *config.Config, appLogger *logger.Logger) (*stores, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		appLogger.Warn("Using in-memory store, state is lost on restart")
		cat := catalog.NewMemoryRepository()
		return &stores{
			catalog:      cat,
			reservations: reservations.NewMemoryRepository(cat),
			cache:        cache.NewMemory(),
		}, nil
	}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	db, err := database.InitDB(initCtx, cfg, appLogger)
	if err != nil {
		return nil, err
	}

	st := &stores{
		catalog:      catalog.NewRepository(db.PostgreSQL),
		reservations: reservations.NewRepository(db.PostgreSQL),
		db:           db,
	}
	if db.Redis != nil {
		st.cache = cache.NewService(db.Redis)
	}
	return st, nil
}

func setupRouter(cfg *config.Config, deps routes.Dependencies, rateLimiter *ratelimit.RateLimiter, appLogger *logger.Logger) *gin.Engine {
	engine := gin.New()

	// Request ids and access logs, then panic recovery
	engine.Use(middleware.RequestLogger(appLogger), gin.Recovery())

	engine.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	if rateLimiter != nil {
		engine.Use(ratelimit.Middleware(rateLimiter, appLogger))
	}

	routes.NewRouter(cfg, deps, appLogger).SetupRoutes(engine)
	return engine
}
