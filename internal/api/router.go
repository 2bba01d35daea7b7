package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"behavior-session-backend/config"
	"behavior-session-backend/internal/mw"
	"behavior-session-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(s store.Store, cfg config.ServerConfig, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), mw.Logger(log))

	handler := NewHandler(s, log)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, log)

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(ttl, 2*ttl)
	caching := mw.Cache(cacheStore, ttl)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		// GET /api/sessions?min_duration=2m
		api.GET("/sessions", caching, handler.ListSessions)

		// GET /api/sessions/{id}
		api.GET("/sessions/:id", caching, handler.GetSession)

		// Artifact files are rewritten in place on reprocessing, so they bypass the cache.
		api.GET("/sessions/:id/streams/:stream", handler.GetStream)
	}

	return r
}
