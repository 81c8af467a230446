// Package dashboard implements the operator-facing Gin API: authentication,
// camera CRUD, stream health, and a push socket for live events.
package dashboard

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/diogoviannaaraujo/panoptic/internal/config"
)

// Server wires the gin engine over a direct *gorm.DB handle, matching the
// teacher's handler-takes-db-directly pattern.
type Server struct {
	db     *gorm.DB
	jwt    config.JWTConfig
	log    zerolog.Logger
	events *eventHub
	engine *gin.Engine
}

// New constructs the dashboard server with every route mounted. Call Engine
// to get the http.Handler to serve.
func New(log zerolog.Logger, db *gorm.DB, jwt config.JWTConfig) *Server {
	s := &Server{db: db, jwt: jwt, log: log, events: newEventHub()}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	api := r.Group("/api/v1")
	{
		auth := api.Group("/auth")
		auth.POST("/login", s.login)
		auth.GET("/me", s.authRequired(), s.me)
		auth.POST("/logout", s.authRequired(), s.logout)

		cameras := api.Group("/cameras", s.authRequired())
		cameras.GET("", s.listCameras)
		cameras.GET("/:id", s.getCamera)
		cameras.POST("", s.createCamera)
		cameras.PUT("/:id", s.updateCamera)
		cameras.DELETE("/:id", s.deleteCamera)
		cameras.GET("/:id/stream/health", s.cameraStreamHealth)
	}

	r.GET("/ws/events", s.handleEventSocket)

	s.engine = r
	return s
}

// Engine returns the underlying gin.Engine (http.Handler).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func corsMiddleware() gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowAllOrigins = true
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	cfg.MaxAge = 12 * time.Hour
	return cors.New(cfg)
}

// PublishEvent pushes a live event to connected dashboards. The camera CRUD
// handlers are its only callers.
func (s *Server) PublishEvent(eventType string, payload interface{}) {
	s.events.broadcast(eventType, payload)
}
