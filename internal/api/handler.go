// Package api implements the Control Surface (SPEC_FULL.md §4.S): a thin
// gin HTTP router plus a gorilla/websocket broadcast endpoint over the core
// services. Every handler calls straight into a service and serializes its
// result; no business logic lives here. Grounded on the teacher's
// internal/api/handler.go router-and-middleware-stack shape, narrowed from a
// multi-tenant JWT-per-user surface to a single operator role.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"futurescore/internal/ensemble"
	"futurescore/internal/events"
	"futurescore/internal/governor"
	"futurescore/internal/jobqueue"
	"futurescore/internal/monitor"
	"futurescore/internal/runner"
	"futurescore/internal/warmcache"
	"futurescore/pkg/crypto"
	"futurescore/pkg/db"
)

// Server wires HTTP endpoints around the core services.
type Server struct {
	Router *gin.Engine
	Bus    *events.Bus
	Store  *db.Database

	Runners  *runner.Service
	Cache    *warmcache.Cache
	Governor *governor.Governor
	Jobs     *jobqueue.Queue
	Vote     *ensemble.Pool
	Metrics  *monitor.SystemMetrics
	Keys     *crypto.KeyManager

	operatorToken string
	jwtSecret     string
}

// Deps bundles the core services the Control Surface is a façade over.
type Deps struct {
	Bus      *events.Bus
	Store    *db.Database
	Runners  *runner.Service
	Cache    *warmcache.Cache
	Governor *governor.Governor
	Jobs     *jobqueue.Queue
	Vote     *ensemble.Pool
	Metrics  *monitor.SystemMetrics
	Keys     *crypto.KeyManager

	OperatorToken string
	JWTSecret     string
}

// NewServer builds the Control Surface router.
func NewServer(d Deps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:        r,
		Bus:           d.Bus,
		Store:         d.Store,
		Runners:       d.Runners,
		Cache:         d.Cache,
		Governor:      d.Governor,
		Jobs:          d.Jobs,
		Vote:          d.Vote,
		Metrics:       d.Metrics,
		Keys:          d.Keys,
		operatorToken: d.OperatorToken,
		jwtSecret:     d.JWTSecret,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws/bots/:id/broadcast", s.websocketBroadcast)

	v1 := s.Router.Group("/api/v1")
	{
		v1.POST("/auth/login", s.login)

		protected := v1.Group("")
		protected.Use(AuthMiddleware(s.jwtSecret))
		{
			protected.GET("/metrics", s.getMetrics)
			protected.GET("/queue/stats", s.getQueueStats)
			protected.GET("/bus/stats", s.getBusStats)
			protected.POST("/credentials", s.createProviderCredential)

			protected.POST("/bots/:id/start", s.startBot)
			protected.POST("/bots/:id/stop", s.stopBot)
			protected.POST("/kill-switch", s.killSwitch)

			protected.POST("/cache/:symbol/refresh", s.refreshCache)
			protected.POST("/bots/:id/graduation-check", s.graduationCheck)
			protected.POST("/bots/:id/generation/stress-test", s.setStressTestPassed)
			protected.POST("/bots/:id/generation/approve", s.setHumanApproved)
			protected.POST("/vote", s.fetchVote)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	if s.Store != nil {
		if err := s.Store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start runs the HTTP server; blocks until the listener fails.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
