// Package models holds the gorm row types shared by the detector, analyser
// and dashboard processes.
package models

import (
	"time"

	"gorm.io/gorm"
)

// Recording is a durable copy of one closed segment, produced by a
// RecordingSession. One row per successfully copied .ts file.
type Recording struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	StreamID   string    `gorm:"index;not null" json:"stream_id"`
	Filename   string    `gorm:"not null" json:"filename"`
	Filepath   string    `gorm:"uniqueIndex;not null" json:"filepath"`
	RecordedAt time.Time `gorm:"index;not null" json:"recorded_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Analysis is the structured (or error) result the Analyser writes back for
// a Recording. At most one row exists per RecordingID.
type Analysis struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	RecordingID   uint      `gorm:"uniqueIndex;not null" json:"recording_id"`
	Description   *string   `json:"description,omitempty"`
	Danger        bool      `gorm:"not null;default:false" json:"danger"`
	DangerLevel   int       `gorm:"not null;default:0" json:"danger_level"`
	DangerDetails *string   `json:"danger_details,omitempty"`
	RawResponse   *string   `json:"raw_response,omitempty"`
	Error         *string   `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// StreamRecord is the optional camera-metadata row upserted by the detector
// on every discovery cycle.
type StreamRecord struct {
	StreamID      string `gorm:"primaryKey" json:"stream_id"`
	Name          string `json:"name"`
	SourceType    string `json:"source_type"`
	SourceURL     string `json:"source_url"`
	Ready         bool   `gorm:"index" json:"ready"`
	BytesReceived uint64 `json:"bytes_received"`
	BytesSent     uint64 `json:"bytes_sent"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DetectorConfigRow is a per-stream override of the MotionDetector's runtime
// configuration, read when the stream's pipeline is created or restarted.
type DetectorConfigRow struct {
	StreamID    string `gorm:"primaryKey" json:"stream_id"`
	Enabled     bool   `gorm:"default:true" json:"enabled"`
	CropX1      int    `json:"crop_x1"`
	CropY1      int    `json:"crop_y1"`
	CropX2      int    `json:"crop_x2"`
	CropY2      int    `json:"crop_y2"`
	Sensitivity int    `gorm:"default:50" json:"sensitivity"`
}

// Camera is the operator-facing record behind the dashboard CRUD API.
// StreamID in Recording/StreamRecord corresponds to this camera's MediaMTX
// path name, not its primary key.
type Camera struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	Name               string         `gorm:"not null" json:"name"`
	Latitude           float64        `gorm:"not null" json:"latitude"`
	Longitude          float64        `gorm:"not null" json:"longitude"`
	RTSPUrl            string         `gorm:"not null" json:"rtsp_url"`
	Status             string         `gorm:"default:offline" json:"status"`
	Area               string         `gorm:"not null" json:"area"`
	Building           string         `gorm:"not null" json:"building"`
	LastMotionDetected *time.Time     `json:"last_motion_detected,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`
}

// User is an operator account authenticated by the dashboard.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"uniqueIndex;not null" json:"email"`
	Name      string    `gorm:"not null" json:"name"`
	Password  string    `gorm:"not null" json:"-"`
	Role      string    `gorm:"default:admin" json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
