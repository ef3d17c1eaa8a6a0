package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/ddsctl/internal/node"
	"github.com/danmuck/ddsctl/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const apiVersion = "0.1.0"

// API serves the read-mostly status surface of a Server.
type API struct {
	server   *Server
	router   *gin.Engine
	appeared time.Time
}

func NewAPI(s *Server, corsOrigins []string) *API {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, s.NodeID()))
	r.Use(observability.RequestMetricsMiddleware(s.NodeID()))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &API{server: s, router: r, appeared: time.Now()}
	a.registerRoutes()
	return a
}

var _ node.Node = (*API)(nil)

func (a *API) NodeID() string {
	return a.server.NodeID()
}

func (a *API) Kind() string {
	return "dds"
}

func (a *API) Ready() bool {
	return a.server.Ready()
}

func (a *API) HTTPRouter() *gin.Engine {
	return a.router
}

func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.appeared).String(),
			"node":    a.server.NodeID(),
			"version": apiVersion,
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/ready", func(c *gin.Context) {
		ready := a.server.Ready()
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":   ready,
			"node":    a.server.NodeID(),
			"version": apiVersion,
		})
	})

	a.router.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.server.Status())
	})

	a.router.GET("/indicators", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.server.Status().Indicators)
	})

	a.router.POST("/playback/stop", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := a.server.StopPlayback(ctx); err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, ErrNotRunning) {
				code = http.StatusServiceUnavailable
			}
			c.JSON(code, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "stopped"})
	})
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
