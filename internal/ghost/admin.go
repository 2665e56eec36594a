package ghost

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/ghostwire/internal/auth"
	"github.com/danmuck/ghostwire/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// TaskLister exposes the worker's published process table.
type TaskLister interface {
	Snapshot() []ProcessRecord
}

// AdminServer is the read-only local HTTP surface of the agent.
type AdminServer struct {
	DeviceID string
	Addr     string
	Started  time.Time

	tasks  TaskLister
	queue  *Queue
	guard  auth.Validator
	router *gin.Engine
}

// NewAdminServer builds the router. A non-nil guard protects /tasks.
func NewAdminServer(deviceID, addr string, tasks TaskLister, queue *Queue, guard auth.Validator) *AdminServer {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(deviceID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"http://localhost:3000"},
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &AdminServer{
		DeviceID: deviceID,
		Addr:     addr,
		Started:  time.Now(),
		tasks:    tasks,
		queue:    queue,
		guard:    guard,
		router:   r,
	}
	s.registerRoutes()
	return s
}

func (s *AdminServer) Handler() http.Handler {
	return s.router
}

func (s *AdminServer) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.Started).String(),
			"device_id": s.DeviceID,
			"version":   version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		queued := 0
		if s.queue != nil {
			queued = s.queue.Len()
		}
		c.JSON(http.StatusOK, gin.H{
			"ready":     s.tasks != nil,
			"device_id": s.DeviceID,
			"queued":    queued,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/tasks", auth.Require(s.guard), func(c *gin.Context) {
		tasks := []ProcessRecord{}
		if s.tasks != nil {
			if snap := s.tasks.Snapshot(); snap != nil {
				tasks = snap
			}
		}
		c.JSON(http.StatusOK, gin.H{"tasks": tasks})
	})
}

// Serve blocks until ctx is done or the listener fails.
func (s *AdminServer) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", s.Addr).Msg("ghost.AdminServer.Serve listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	}
}
