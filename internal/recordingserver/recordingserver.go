// Package recordingserver serves the durable recordings directory read-only
// under /recordings/<relative_path> so the external inference endpoint can
// fetch video by URL.
package recordingserver

import (
	"net/http"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// New builds a gin engine exposing the recordings directory. The directory
// is created if missing; CORS is permissive since this surface has no auth.
func New(log zerolog.Logger, recordingsDir string) (*gin.Engine, error) {
	if err := os.MkdirAll(recordingsDir, 0o755); err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	r.Use(func(c *gin.Context) {
		start := c.Request.URL.Path
		c.Next()
		log.Debug().Str("path", start).Int("status", c.Writer.Status()).Msg("recordings request")
	})

	r.StaticFS("/recordings", http.Dir(recordingsDir))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r, nil
}

func corsMiddleware() gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowAllOrigins = true
	cfg.AllowMethods = []string{"GET", "HEAD", "OPTIONS"}
	return cors.New(cfg)
}
