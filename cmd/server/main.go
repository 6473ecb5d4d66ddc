package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collaborative-page-builder/auth"
	"collaborative-page-builder/internal/asset"
	"collaborative-page-builder/internal/component"
	"collaborative-page-builder/internal/config"
	"collaborative-page-builder/internal/db"
	"collaborative-page-builder/internal/logging"
	"collaborative-page-builder/internal/middleware"
	"collaborative-page-builder/internal/realtime"
	"collaborative-page-builder/internal/user"
	"collaborative-page-builder/internal/website"
	"collaborative-page-builder/internal/worker"
	"collaborative-page-builder/redis"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	config.LoadConfig()
	cfg := config.AppConfig
	logging.Configure(cfg.Environment, cfg.LogLevel)
	auth.SetSecret(cfg.JWTSecret)

	// Connect to database
	if err := db.ConnectDb(); err != nil {
		log.Fatal().Err(err).Msg("database unavailable")
	}
	defer db.CloseDb()

	// Migrate database schema
	if err := db.Migrate(db.AppDb); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	// Seed database with initial data (for development)
	if cfg.Environment == "development" {
		db.SeedData(db.AppDb)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize Redis
	redisClient := redis.InitRedis(ctx, cfg.RedisAddress)
	cache := redis.NewCache(redisClient)

	// Realtime fan-out. Without redis the hub publishes to itself and the
	// server must run as a single instance.
	hub := realtime.NewHub(cfg.BroadcastGapTimeout)
	var broadcaster realtime.Broadcaster = hub
	if redisClient != nil {
		relay := realtime.NewRedisRelay(redisClient, hub)
		broadcaster = relay
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Error().Err(err).Msg("realtime relay stopped")
			}
		}()
	}
	pool := worker.NewWorkerPool("broadcast", cfg.BroadcastWorkers, 0)
	publisher := realtime.NewPublisher(broadcaster, pool)

	// Assets
	var presigner asset.Presigner
	if cfg.AssetAccessKey != "" {
		p, err := asset.NewMinioPresigner(cfg.AssetEndpoint, cfg.AssetAccessKey, cfg.AssetSecretKey, cfg.AssetBucket, cfg.AssetRegion, cfg.AssetUseSSL)
		if err != nil {
			log.Fatal().Err(err).Msg("asset store misconfigured")
		}
		presigner = p
	} else {
		log.Warn().Msg("Asset store not configured. Media URLs will be empty.")
	}
	assets := asset.NewResolver(asset.NewRepository(db.AppDb), presigner, cache, cfg.AssetURLTTL)

	// Initialize repository and service
	userService := user.NewService(user.NewRepository(db.AppDb), cache)
	componentService := component.NewService(component.NewRepository(db.AppDb, cfg.LayoutTxRetries), assets, publisher, cache)
	websiteService := website.NewService(website.NewRepository(db.AppDb), userService, componentService, cache)

	// Initialize handler
	userHandler := user.NewHandler(userService)
	componentHandler := component.NewHandler(componentService)
	websiteHandler := website.NewHandler(websiteService)
	authMiddleware := &middleware.Auth{UserService: userService}

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Recovery())

	// cors setting
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.ClientIDHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}
	checkOrigin := func(r *http.Request) bool { return r.Header.Get("Origin") == cfg.FrontendAddress }
	if cfg.Environment == "development" {
		// Allow all origins in development
		corsConfig.AllowAllOrigins = true
		checkOrigin = nil
	} else {
		// Restrict origins in production
		corsConfig.AllowOrigins = []string{cfg.FrontendAddress}
	}
	router.Use(cors.New(corsConfig))
	router.Use(middleware.ErrorHandler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		checks := gin.H{"database": "ok", "redis": "disabled"}
		healthy := true
		if err := db.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		}
		if redisClient != nil {
			checks["redis"] = "ok"
			if err := redisClient.Ping(ctx).Err(); err != nil {
				checks["redis"] = err.Error()
				healthy = false
			}
		}
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, checks)
	})

	api := router.Group("/", authMiddleware.AuthMiddleWare())
	api.DELETE("/logout", userHandler.Logout)
	api.GET("/profile", userHandler.GetProfile)
	api.GET("/users", userHandler.SearchUsers)
	websiteHandler.RegisterRoutes(api)
	componentHandler.RegisterRoutes(api)

	sockets := realtime.NewSocketHandler(hub, componentService, cfg.SocketSendBuffer, checkOrigin)
	api.GET("/ws/pages/:id", sockets.ServePage)

	// Server configuration
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router.Handler(),
	}

	// Start server
	go func() {
		log.Info().Str("port", cfg.ServerPort).Msg("Server listening")
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	stop()
	pool.Shutdown()
	if redisClient != nil {
		_ = redisClient.Close()
	}

	log.Info().Msg("Server shutdown complete")
}
