// Package config centralizes environment-driven configuration for the
// detector, analyser and dashboard processes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MediaMTXConfig holds MediaMTX discovery and RTSP connection settings.
type MediaMTXConfig struct {
	Host     string
	APIPort  string
	RTSPPort string
}

func (c MediaMTXConfig) APIURL() string {
	return fmt.Sprintf("http://%s:%s", c.Host, c.APIPort)
}

func (c MediaMTXConfig) RTSPBaseURL() string {
	return fmt.Sprintf("rtsp://%s:%s", c.Host, c.RTSPPort)
}

// SegmentConfig controls MPEG-TS segment output in the scratch directory.
type SegmentConfig struct {
	OutputDir       string
	SegmentDuration int // seconds
	MaxSegments     int // 0 disables scratch cleanup
}

// MotionConfig controls the MotionDetector defaults used for new streams.
type MotionConfig struct {
	PixelThreshold   int
	AreaThreshold    float64
	CooldownFrames   int
	DetectionWidth   int
	DetectionHeight  int
}

// RecordingConfig controls pre/post-roll recording session behavior.
type RecordingConfig struct {
	RecordingsDir    string
	PreRollSeconds   int
	PostRollSeconds  int
}

// DatabaseConfig holds PostgreSQL connection settings shared by every binary.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode,
	)
}

// JWTConfig controls the dashboard's bearer-token auth.
type JWTConfig struct {
	Secret string
	Expiry string
}

// DetectorConfig is the full configuration for the cmd/detector process.
type DetectorConfig struct {
	MediaMTX          MediaMTXConfig
	Segment           SegmentConfig
	Motion            MotionConfig
	Recording         RecordingConfig
	Database          DatabaseConfig
	ManualStreams     []string // overrides API discovery when non-empty
	DiscoveryInterval int      // seconds
	Verbose           bool
}

// LoadDetector reads the detector's configuration from the environment.
func LoadDetector() (*DetectorConfig, error) {
	cfg := &DetectorConfig{
		MediaMTX: MediaMTXConfig{
			Host:     getEnv("MEDIAMTX_HOST", "mediamtx"),
			APIPort:  getEnv("MEDIAMTX_API_PORT", "9997"),
			RTSPPort: getEnv("MEDIAMTX_RTSP_PORT", "8554"),
		},
		Segment: SegmentConfig{
			OutputDir: getEnv("SEGMENT_OUTPUT_DIR", "/dev/shm/segments"),
		},
		Recording: RecordingConfig{
			RecordingsDir: getEnv("RECORDINGS_DIR", "/recordings"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "db"),
			Port:     getEnv("DB_PORT", "5432"),
			Name:     getEnv("DB_NAME", "panoptic"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Verbose: getEnvBool("VERBOSE", false),
	}

	var err error
	if cfg.Segment.SegmentDuration, err = getEnvInt("SEGMENT_DURATION", 5); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Segment.MaxSegments, err = getEnvInt("MAX_SEGMENTS", 20); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Recording.PreRollSeconds, err = getEnvInt("PRE_ROLL_SECONDS", 5); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Recording.PostRollSeconds, err = getEnvInt("POST_ROLL_SECONDS", 5); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Motion.PixelThreshold, err = getEnvInt("MOTION_PIXEL_THRESHOLD", 25); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Motion.AreaThreshold, err = getEnvFloat("MOTION_AREA_THRESHOLD", 1.0); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Motion.CooldownFrames, err = getEnvInt("MOTION_COOLDOWN_FRAMES", 30); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Motion.DetectionWidth, err = getEnvInt("MOTION_DETECTION_WIDTH", 320); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Motion.DetectionHeight, err = getEnvInt("MOTION_DETECTION_HEIGHT", 240); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.DiscoveryInterval, err = getEnvInt("DISCOVERY_INTERVAL", 30); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if streams := os.Getenv("RTSP_STREAMS"); streams != "" {
		for _, s := range strings.Split(streams, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.ManualStreams = append(cfg.ManualStreams, s)
			}
		}
	}

	return cfg, nil
}

// AnalyserConfig is the full configuration for the cmd/analyser process.
type AnalyserConfig struct {
	Database     DatabaseConfig
	RecordingsDir string
	VLLMAPIURL   string
	VLLMModel    string
	ServerPort   int
	PollInterval int // seconds
	HostIP       string
}

// LoadAnalyser reads the analyser's configuration from the environment.
func LoadAnalyser() (*AnalyserConfig, error) {
	cfg := &AnalyserConfig{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "db"),
			Port:     getEnv("DB_PORT", "5432"),
			Name:     getEnv("DB_NAME", "panoptic"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		RecordingsDir: getEnv("RECORDINGS_DIR", "../recordings"),
		VLLMAPIURL:    getEnv("VLLM_API_URL", "http://localhost:8000/v1/chat/completions"),
		VLLMModel:     getEnv("VLLM_MODEL", "Qwen/Qwen3-VL-8B-Instruct-FP8"),
		HostIP:        os.Getenv("HOST_IP"),
	}

	var err error
	if cfg.ServerPort, err = getEnvInt("SERVER_PORT", 8080); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.PollInterval, err = getEnvInt("POLL_INTERVAL", 10); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// DashboardConfig is the configuration for the optional operator dashboard.
type DashboardConfig struct {
	Database DatabaseConfig
	JWT      JWTConfig
	Port     string
}

// LoadDashboard reads the dashboard's configuration from the environment.
func LoadDashboard() *DashboardConfig {
	return &DashboardConfig{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "panoptic"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			Expiry: getEnv("JWT_EXPIRY", "24h"),
		},
		Port: getEnv("DASHBOARD_PORT", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.ToLower(value) == "true"
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float for %s: %w", key, err)
	}
	return f, nil
}
