package dashboard

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/diogoviannaaraujo/panoptic/internal/models"
)

type createCameraRequest struct {
	Name      string  `json:"name" binding:"required"`
	Latitude  float64 `json:"latitude" binding:"required"`
	Longitude float64 `json:"longitude" binding:"required"`
	RTSPUrl   string  `json:"rtsp_url" binding:"required"`
	Area      string  `json:"area" binding:"required"`
	Building  string  `json:"building" binding:"required"`
	Status    string  `json:"status"`
}

type updateCameraRequest struct {
	Name      *string  `json:"name"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	RTSPUrl   *string  `json:"rtsp_url"`
	Area      *string  `json:"area"`
	Building  *string  `json:"building"`
	Status    *string  `json:"status"`
}

func (s *Server) listCameras(c *gin.Context) {
	var cameras []models.Camera
	if err := s.db.Find(&cameras).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch cameras"})
		return
	}
	c.JSON(http.StatusOK, cameras)
}

func (s *Server) getCamera(c *gin.Context) {
	camera, ok := s.findCamera(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, camera)
}

func (s *Server) createCamera(c *gin.Context) {
	var req createCameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status := req.Status
	if status == "" {
		status = "offline"
	}

	camera := models.Camera{
		Name:      req.Name,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		RTSPUrl:   req.RTSPUrl,
		Status:    status,
		Area:      req.Area,
		Building:  req.Building,
	}

	if err := s.db.Create(&camera).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create camera"})
		return
	}

	s.PublishEvent("camera_created", camera)
	c.JSON(http.StatusCreated, camera)
}

func (s *Server) updateCamera(c *gin.Context) {
	camera, ok := s.findCamera(c)
	if !ok {
		return
	}

	var req updateCameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name != nil {
		camera.Name = *req.Name
	}
	if req.Latitude != nil {
		camera.Latitude = *req.Latitude
	}
	if req.Longitude != nil {
		camera.Longitude = *req.Longitude
	}
	if req.RTSPUrl != nil {
		camera.RTSPUrl = *req.RTSPUrl
	}
	if req.Area != nil {
		camera.Area = *req.Area
	}
	if req.Building != nil {
		camera.Building = *req.Building
	}
	if req.Status != nil {
		camera.Status = *req.Status
	}

	if err := s.db.Save(&camera).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update camera"})
		return
	}

	s.PublishEvent("camera_updated", camera)
	c.JSON(http.StatusOK, camera)
}

func (s *Server) deleteCamera(c *gin.Context) {
	camera, ok := s.findCamera(c)
	if !ok {
		return
	}

	if err := s.db.Delete(&camera).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete camera"})
		return
	}

	s.PublishEvent("camera_deleted", gin.H{"id": camera.ID})
	c.JSON(http.StatusOK, gin.H{"message": "camera deleted"})
}

// cameraStreamHealth reports the detector's live view of this camera's
// stream, keyed by the MediaMTX path name stored as the camera's Name.
func (s *Server) cameraStreamHealth(c *gin.Context) {
	camera, ok := s.findCamera(c)
	if !ok {
		return
	}

	var rec models.StreamRecord
	err := s.db.Where("stream_id = ?", camera.Name).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusOK, gin.H{"stream_id": camera.Name, "known": false})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch stream health"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stream_id":      rec.StreamID,
		"known":          true,
		"ready":          rec.Ready,
		"bytes_received": rec.BytesReceived,
		"bytes_sent":     rec.BytesSent,
		"last_seen_at":   rec.LastSeenAt,
	})
}

func (s *Server) findCamera(c *gin.Context) (models.Camera, bool) {
	id := c.Param("id")
	var camera models.Camera
	if err := s.db.First(&camera, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
			return camera, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch camera"})
		return camera, false
	}
	return camera, true
}
