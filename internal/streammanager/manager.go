// Package streammanager discovers streams from a media server, reconciles
// a live set of StreamPipelines against that discovery, restarts unhealthy
// pipelines, prunes scratch segments, and drives the recording-session
// engine's motion/segment-closed/timeout inputs.
package streammanager

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	appconfig "github.com/diogoviannaaraujo/panoptic/internal/config"
	"github.com/diogoviannaaraujo/panoptic/internal/media"
	"github.com/diogoviannaaraujo/panoptic/internal/models"
	"github.com/diogoviannaaraujo/panoptic/internal/motiondetect"
	"github.com/diogoviannaaraujo/panoptic/internal/pipeline"
)

// StoreGateway is the subset of the store the manager needs for camera
// metadata and per-stream detector overrides.
type StoreGateway interface {
	UpsertStream(rec models.StreamRecord) error
	MarkStreamsOffline(activeStreamIDs []string) error
	GetDetectorConfig(streamID string) (*models.DetectorConfigRow, error)
}

// SessionEngine is the subset of the session engine the manager drives.
type SessionEngine interface {
	HandleMotion(streamID string, now time.Time)
	HandleSegmentClosed(streamID, path string, closeTS time.Time)
	CheckTimeouts(now time.Time)
	RemoveStream(streamID string)
}

// Config configures the manager's discovery, scratch layout and default
// motion-detector parameters.
type Config struct {
	MediaMTX          appconfig.MediaMTXConfig
	ManualStreams     []string
	DiscoveryInterval time.Duration
	ScratchDir        string
	SegmentDuration   int
	MaxSegments       int
	DetectionWidth    int
	DetectionHeight   int
	DefaultMotion     motiondetect.Config
	Verbose           bool
}

// Manager is the single owner of every active Pipeline and the session
// engine's stream-scoped state.
type Manager struct {
	log      zerolog.Logger
	backend  media.Backend
	store    StoreGateway
	sessions SessionEngine
	cfg      Config

	pipelineMu sync.Mutex
	pipelines  map[string]*pipeline.Pipeline

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Manager. Call Start to begin its background loops.
func New(log zerolog.Logger, backend media.Backend, store StoreGateway, sessions SessionEngine, cfg Config) *Manager {
	return &Manager{
		log:       log,
		backend:   backend,
		store:     store,
		sessions:  sessions,
		cfg:       cfg,
		pipelines: make(map[string]*pipeline.Pipeline),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the discovery, scratch-cleanup and session-timeout loops.
func (m *Manager) Start() {
	if err := os.MkdirAll(m.cfg.ScratchDir, 0o755); err != nil {
		m.log.Warn().Err(err).Msg("failed to create scratch base directory")
	}

	m.wg.Add(3)
	go m.discoveryLoop()
	go m.cleanupLoop()
	go m.sessionLoop()
}

// Stop joins all background loops (bounded by each loop's own tick), ends
// every open session, stops every pipeline and marks every camera offline.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()

	m.pipelineMu.Lock()
	ids := make([]string, 0, len(m.pipelines))
	for id, p := range m.pipelines {
		p.Stop()
		m.sessions.RemoveStream(id)
		ids = append(ids, id)
	}
	m.pipelines = make(map[string]*pipeline.Pipeline)
	m.pipelineMu.Unlock()

	if err := m.store.MarkStreamsOffline(nil); err != nil {
		m.log.Warn().Err(err).Msg("failed to mark streams offline on shutdown")
	}
	m.log.Info().Int("stopped", len(ids)).Msg("stream manager stopped")
}

func (m *Manager) discoveryLoop() {
	defer m.wg.Done()
	m.log.Info().Msg("stream discovery loop started")

	ticker := time.NewTicker(m.cfg.DiscoveryInterval)
	defer ticker.Stop()

	m.runDiscoveryCycle()
	for {
		select {
		case <-m.stopCh:
			m.log.Info().Msg("stream discovery loop stopped")
			return
		case <-ticker.C:
			m.runDiscoveryCycle()
		}
	}
}

func (m *Manager) runDiscoveryCycle() {
	descriptors := m.discover()
	if len(descriptors) > 0 {
		m.updateCameraMetadata(descriptors)
		m.reconcile(descriptors)
	}
	m.checkPipelineHealth()
}

func (m *Manager) updateCameraMetadata(descriptors []Descriptor) {
	ids := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		ids = append(ids, d.StreamID)
		rec := models.StreamRecord{
			StreamID:      d.StreamID,
			Name:          d.Name,
			SourceType:    d.SourceType,
			SourceURL:     d.SourceURL,
			Ready:         d.Ready,
			BytesReceived: d.BytesReceived,
			BytesSent:     d.BytesSent,
		}
		if err := m.store.UpsertStream(rec); err != nil {
			m.log.Warn().Str("stream_id", d.StreamID).Err(err).Msg("failed to upsert stream metadata")
		}
	}
	if err := m.store.MarkStreamsOffline(ids); err != nil {
		m.log.Warn().Err(err).Msg("failed to mark absent streams offline")
	}
}

// reconcile computes the ready set and creates/drops pipelines to match it.
func (m *Manager) reconcile(descriptors []Descriptor) {
	readySet := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		if d.Ready {
			readySet[d.StreamID] = true
		}
	}

	m.pipelineMu.Lock()
	defer m.pipelineMu.Unlock()

	for streamID, p := range m.pipelines {
		if !readySet[streamID] {
			m.log.Info().Str("stream_id", streamID).Msg("stream no longer ready, stopping pipeline")
			p.Stop()
			delete(m.pipelines, streamID)
			m.sessions.RemoveStream(streamID)
		}
	}

	for streamID := range readySet {
		if _, exists := m.pipelines[streamID]; exists {
			continue
		}
		p, err := m.createPipeline(streamID)
		if err != nil {
			m.log.Error().Str("stream_id", streamID).Err(err).Msg("failed to build pipeline")
			continue
		}
		if err := p.Start(); err != nil {
			m.log.Error().Str("stream_id", streamID).Err(err).Msg("failed to start pipeline")
			continue
		}
		m.log.Info().Str("stream_id", streamID).Msg("new stream discovered, pipeline started")
		m.pipelines[streamID] = p
	}
}

func (m *Manager) createPipeline(streamID string) (*pipeline.Pipeline, error) {
	motionCfg := m.cfg.DefaultMotion
	if override, err := m.store.GetDetectorConfig(streamID); err == nil && override != nil {
		motionCfg.Enabled = override.Enabled
		motionCfg.Sensitivity = override.Sensitivity
		if override.CropX2 > override.CropX1 && override.CropY2 > override.CropY1 {
			motionCfg.Crop = &motiondetect.CropRect{
				X1: override.CropX1, Y1: override.CropY1,
				X2: override.CropX2, Y2: override.CropY2,
			}
		}
	}

	rtspURL := fmt.Sprintf("%s/%s", m.cfg.MediaMTX.RTSPBaseURL(), streamID)

	return pipeline.New(m.log, m.backend, pipeline.Params{
		StreamID:        streamID,
		RTSPURL:         rtspURL,
		ScratchDir:      filepath.Join(m.cfg.ScratchDir, streamKey(streamID)),
		SegmentDuration: m.cfg.SegmentDuration,
		DetectionWidth:  m.cfg.DetectionWidth,
		DetectionHeight: m.cfg.DetectionHeight,
		Motion:          motionCfg,
		OnMotion: func(evt motiondetect.Event) {
			m.log.Info().
				Str("stream_id", evt.StreamID).
				Str("file", evt.SegmentPath).
				Float64("motion_pct", evt.MotionPct).
				Msg("[MOTION]")
			m.sessions.HandleMotion(evt.StreamID, time.Now())
		},
		OnSegmentClosed: func(seg pipeline.ClosedSegment) {
			m.sessions.HandleSegmentClosed(seg.StreamID, seg.Path, seg.CloseTS)
		},
	})
}

// checkPipelineHealth restarts or drops pipelines reporting !IsRunning().
func (m *Manager) checkPipelineHealth() {
	m.pipelineMu.Lock()
	defer m.pipelineMu.Unlock()

	for streamID, p := range m.pipelines {
		if p.IsRunning() {
			continue
		}
		if p.ErrorCount() >= 5 {
			m.log.Error().Str("stream_id", streamID).Msg("too many errors, dropping pipeline")
			delete(m.pipelines, streamID)
			m.sessions.RemoveStream(streamID)
			continue
		}

		m.log.Warn().Str("stream_id", streamID).Msg("pipeline not running, attempting restart")
		p.Stop()
		time.Sleep(time.Second)

		fresh, err := m.createPipeline(streamID)
		if err != nil {
			m.log.Error().Str("stream_id", streamID).Err(err).Msg("failed to rebuild pipeline")
			continue
		}
		if err := fresh.Start(); err != nil {
			m.log.Error().Str("stream_id", streamID).Err(err).Msg("failed to restart pipeline")
			continue
		}
		m.pipelines[streamID] = fresh
	}
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()
	m.log.Info().Msg("segment cleanup loop started")

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			m.log.Info().Msg("segment cleanup loop stopped")
			return
		case <-ticker.C:
			m.cleanupOldSegments()
		}
	}
}

// cleanupOldSegments trims each stream's scratch directory to max_segments
// most recent .ts files.
func (m *Manager) cleanupOldSegments() {
	if m.cfg.MaxSegments <= 0 {
		return
	}

	entries, err := os.ReadDir(m.cfg.ScratchDir)
	if err != nil {
		return
	}

	for _, streamDir := range entries {
		if !streamDir.IsDir() {
			continue
		}
		dirPath := filepath.Join(m.cfg.ScratchDir, streamDir.Name())
		files, err := os.ReadDir(dirPath)
		if err != nil {
			continue
		}

		type tsFile struct {
			path  string
			mtime time.Time
		}
		var tsFiles []tsFile
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".ts" {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			tsFiles = append(tsFiles, tsFile{path: filepath.Join(dirPath, f.Name()), mtime: info.ModTime()})
		}
		sort.Slice(tsFiles, func(i, j int) bool { return tsFiles[i].mtime.After(tsFiles[j].mtime) })

		for _, f := range tsFiles[min(len(tsFiles), m.cfg.MaxSegments):] {
			if err := os.Remove(f.path); err != nil {
				m.log.Warn().Str("path", f.path).Err(err).Msg("failed to remove old segment")
			}
		}
	}
}

func (m *Manager) sessionLoop() {
	defer m.wg.Done()
	m.log.Info().Msg("session monitor loop started")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			m.log.Info().Msg("session monitor loop stopped")
			return
		case <-ticker.C:
			m.sessions.CheckTimeouts(time.Now())
		}
	}
}

func streamKey(streamID string) string {
	out := make([]byte, len(streamID))
	for i := 0; i < len(streamID); i++ {
		if streamID[i] == '/' {
			out[i] = '_'
		} else {
			out[i] = streamID[i]
		}
	}
	return string(out)
}

