package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/AnuphutTuekham/SOS-BOX/internal/auth"
	"github.com/AnuphutTuekham/SOS-BOX/internal/config"
	"github.com/AnuphutTuekham/SOS-BOX/internal/handlers"
	"github.com/AnuphutTuekham/SOS-BOX/internal/logging"
	"github.com/AnuphutTuekham/SOS-BOX/internal/service"
	"github.com/AnuphutTuekham/SOS-BOX/internal/store"
)

func Run() error {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var cache service.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return err
		}
		cache = service.NewRedisCache(rdb)
	}

	svc := service.NewService(st, cache, cfg.CacheTTL)
	router := NewRouter(cfg, svc)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	log.Info().Msg("server exited")
	return nil
}

func openStore(cfg config.Config) (store.Store, error) {
	if cfg.DBURL != "" {
		log.Info().Str("driver", cfg.DBDriver).Msg("using sql store")
		return store.NewSQLStore(cfg.DBDriver, cfg.DBURL)
	}
	log.Info().Str("path", cfg.DataFile).Msg("using file store")
	return store.NewFileStore(cfg.DataFile)
}

// NewRouter assembles the full HTTP surface. Split from Run so handler
// tests exercise the exact production middleware chain.
func NewRouter(cfg config.Config, svc *service.Service) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), auth.RequestLogger(), maxBody(cfg.MaxBodyBytes))

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "x-api-key"},
	}))

	// The gate runs before routing so an unknown /api path still answers
	// 401 rather than leaking a 404 to unauthenticated callers.
	router.Use(apiOnly(noStore()), apiOnly(auth.APIKey(cfg.APIKey)))

	// Device-direct ingest: outside /api, so no shared key required.
	router.POST("/", handlers.RootIngestHandler(svc))

	api := router.Group("/api")
	{
		api.GET("/health", handlers.HealthHandler())
		api.GET("/boxes", handlers.BoxesHandler(svc))
		api.POST("/boxes/upsert", handlers.UpsertHandler(svc))
		api.DELETE("/boxes", handlers.DeleteAllHandler(svc))
		api.DELETE("/boxes/:id", handlers.DeleteOneHandler(svc))
		api.GET("/boxes/:id/wifi_count", handlers.WifiCountGetHandler(svc))
		api.POST("/boxes/:id/wifi_count", handlers.WifiCountSetHandler(svc))
		api.GET("/traccar", handlers.TraccarHandler(svc))
		api.POST("/traccar", handlers.TraccarHandler(svc))
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}

// maxBody rejects oversized request bodies before any handler parses them.
func maxBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// noStore disables caching of API responses; the map UI polls.
func noStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// apiOnly scopes a middleware to the /api prefix.
func apiOnly(mw gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") || c.Request.URL.Path == "/api" {
			mw(c)
			return
		}
		c.Next()
	}
}
