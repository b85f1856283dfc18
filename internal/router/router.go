// Package router wires handlers and middleware onto an Echo instance.
package router

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/pairchat/internal/config"
	"github.com/iliyamo/pairchat/internal/handler"
	"github.com/iliyamo/pairchat/internal/middleware"
)

// Deps is everything the HTTP surface needs.
type Deps struct {
	Cfg       config.Config
	Redis     *redis.Client // nil disables rate limiting and caching
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	Auth      *handler.AuthHandler
	Chat      *handler.ChatHandler
	WS        *handler.WSHandler
}

// New builds the Echo server with global middleware and every route.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(requestLogger())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     []string{d.Cfg.Origin},
		AllowCredentials: true,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))

	RegisterRoutes(e)
	if d.Cfg.Blob.Backend != "s3" {
		e.Static("/uploads", d.Cfg.Blob.Dir)
	}
	RegisterAuth(e, d)
	RegisterChat(e, d)
	return e
}

// RegisterRoutes registers routes that need no session.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers account routes.  Credential endpoints sit behind
// the rate limiter.
func RegisterAuth(e *echo.Echo, d Deps) {
	limit := middleware.NewTokenBucket(d.RateLimit, d.Redis)
	e.POST("/register", d.Auth.Register, limit)
	e.POST("/login", d.Auth.Login, limit)
	e.POST("/logout", d.Auth.Logout)
	e.GET("/profile", d.Auth.Profile, middleware.CookieAuth(d.Cfg.JWTSecret))
}

// RegisterChat registers the websocket endpoint and the chat read routes.
func RegisterChat(e *echo.Echo, d Deps) {
	e.GET("/ws", d.WS.Serve)
	e.GET("/people", d.Chat.People, middleware.NewRedisCache(d.Cache, d.Redis))
	e.GET("/online", d.Chat.Online)
	e.GET("/messages/:userId", d.Chat.Messages, middleware.CookieAuth(d.Cfg.JWTSecret))
}

func requestLogger() echo.MiddlewareFunc {
	log := zap.S().Named("http")
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []any{"method", v.Method, "uri", v.URI, "status", v.Status,
				"latency", v.Latency.Round(time.Microsecond), "remote", v.RemoteIP}
			if v.Error != nil {
				log.Warnw("request failed", append(fields, "error", v.Error)...)
				return nil
			}
			log.Debugw("request", fields...)
			return nil
		},
	})
}
