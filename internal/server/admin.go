// Package server owns the relay's admin HTTP surface: health, readiness,
// runtime stats, and prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/stagerelay/internal/observability"
	"github.com/danmuck/stagerelay/internal/relay"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Options configures the admin surface.
type Options struct {
	Name        string
	Addr        string
	CorsOrigins []string
}

// Admin serves the relay's control endpoints next to the data plane.
type Admin struct {
	opts     Options
	relay    *relay.Server
	router   *gin.Engine
	appeared time.Time
}

func NewAdmin(opts Options, relaySrv *relay.Server) *Admin {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(opts.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		opts:     opts,
		relay:    relaySrv,
		router:   r,
		appeared: time.Now(),
	}
	a.registerRoutes()
	return a
}

func (a *Admin) HTTPRouter() *gin.Engine {
	return a.router
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(a.appeared).String(),
			"component": "relay-admin",
			"version":   "0.0.1",
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":     true,
			"uptime":    time.Since(a.appeared).String(),
			"component": "relay-admin",
			"version":   "0.0.1",
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/stats", func(c *gin.Context) {
		active := 0
		if a.relay != nil {
			active = a.relay.ActiveSessions()
		}
		c.JSON(http.StatusOK, gin.H{
			"name":            a.opts.Name,
			"active_sessions": active,
			"uptime":          time.Since(a.appeared).String(),
		})
	})
}

// Run serves the admin surface until ctx is canceled.
func (a *Admin) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    a.opts.Addr,
		Handler: a.router,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		out = append(out, "http://localhost")
	}
	return out
}
