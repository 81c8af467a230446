// Package pipeline implements the per-stream ingest lifecycle around a
// media.Backend: build/start/stop, segment rollover tracking, and motion
// detection on the decoded frame tap.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/diogoviannaaraujo/panoptic/internal/media"
	"github.com/diogoviannaaraujo/panoptic/internal/motiondetect"
)

// State is the StreamPipeline's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateBuilding
	StateRunning
	StateDegraded
	StateStopped
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilding:
		return "building"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// ClosedSegment is reported via OnSegmentClosed when the pipeline observes a
// segment rollover.
type ClosedSegment struct {
	StreamID string
	Path     string
	CloseTS  time.Time
}

// Params configures a StreamPipeline instance.
type Params struct {
	StreamID        string
	RTSPURL         string
	ScratchDir      string
	SegmentDuration int
	DetectionWidth  int
	DetectionHeight int
	Motion          motiondetect.Config

	// OnMotion is invoked synchronously from the frame-processing goroutine
	// whenever the detector emits an event. The pipeline performs no session
	// bookkeeping itself; that's the recording engine's job.
	OnMotion func(motiondetect.Event)
	// OnSegmentClosed is invoked for the previous segment whenever the
	// backend reports a new one opening.
	OnSegmentClosed func(ClosedSegment)
}

// Pipeline is one instance per active stream.
type Pipeline struct {
	log    zerolog.Logger
	backend media.Backend
	params  Params
	detector *motiondetect.Detector

	mu             sync.Mutex
	state          State
	session        media.Session
	currentSegment string
	errorCount     int
	cancel         context.CancelFunc
}

// streamKey replaces path separators in a stream_id so it is safe to use in
// file and element names.
func streamKey(streamID string) string {
	return strings.ReplaceAll(streamID, "/", "_")
}

// New constructs a Pipeline in the Idle state.
func New(log zerolog.Logger, backend media.Backend, params Params) (*Pipeline, error) {
	det, err := motiondetect.New(params.StreamID, params.Motion)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return &Pipeline{
		log:      log.With().Str("stream_id", params.StreamID).Logger(),
		backend:  backend,
		params:   params,
		detector: det,
		state:    StateIdle,
	}, nil
}

// Build allocates resources and transitions Idle -> Building. It is called
// implicitly by Start if not already built.
func (p *Pipeline) Build() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateIdle {
		return nil
	}
	p.state = StateBuilding
	return nil
}

// Start begins the ffmpeg-backed session and transitions to Running once the
// backend confirms the session was opened.
func (p *Pipeline) Start() error {
	if err := p.Build(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())

	cb := media.Callbacks{
		OnSegmentOpened: p.onSegmentOpened,
		OnFrame:         p.onFrame,
		OnError:         p.onError,
		OnEOS:           p.onEOS,
		OnWarning:       p.onWarning,
	}

	openParams := media.OpenParams{
		Transport:       "tcp",
		LatencyMS:       200,
		FrameWidth:      p.params.DetectionWidth,
		FrameHeight:     p.params.DetectionHeight,
		SegmentDuration: p.params.SegmentDuration,
		ScratchDir:      p.params.ScratchDir,
		StreamKey:       streamKey(p.params.StreamID),
	}

	session, err := p.backend.Open(ctx, p.params.RTSPURL, openParams, cb)
	if err != nil {
		cancel()
		p.mu.Lock()
		p.state = StateDegraded
		p.errorCount++
		p.mu.Unlock()
		return fmt.Errorf("pipeline: open backend: %w", err)
	}

	p.mu.Lock()
	p.session = session
	p.cancel = cancel
	p.state = StateRunning
	p.errorCount = 0
	p.mu.Unlock()

	p.log.Info().Str("rtsp_url", p.params.RTSPURL).Msg("pipeline started")
	return nil
}

// Stop transitions to Stopped, tearing down the backend session.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	session := p.session
	cancel := p.cancel
	p.state = StateStopped
	p.mu.Unlock()

	if session != nil {
		session.Stop()
	}
	if cancel != nil {
		cancel()
	}
	p.log.Info().Msg("pipeline stopped")
}

// IsRunning reports whether the pipeline currently believes itself healthy.
func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateRunning
}

// ErrorCount is the number of fatal backend errors observed across this
// pipeline's lifetime (reset on successful Start).
func (p *Pipeline) ErrorCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errorCount
}

// CurrentSegment is the path of the segment currently being written.
func (p *Pipeline) CurrentSegment() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentSegment
}

// State reports the pipeline's current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// UpdateMotionConfig applies a runtime motion-detector configuration change.
func (p *Pipeline) UpdateMotionConfig(cfg motiondetect.Config) error {
	return p.detector.UpdateConfig(cfg)
}

func (p *Pipeline) onSegmentOpened(path string, index int, firstSample bool) {
	p.mu.Lock()
	previous := p.currentSegment
	p.currentSegment = path
	p.mu.Unlock()

	if firstSample || previous == "" {
		return
	}
	// Segment N opening means segment N-1 is closed; the backend guarantees
	// this ordering so no explicit close event is needed.
	if _, err := os.Stat(previous); err != nil {
		return
	}
	if p.params.OnSegmentClosed != nil {
		p.params.OnSegmentClosed(ClosedSegment{
			StreamID: p.params.StreamID,
			Path:     previous,
			CloseTS:  time.Now(),
		})
	}
}

func (p *Pipeline) onFrame(data []byte, width, height int, ptsSeconds float64) {
	p.mu.Lock()
	segment := p.currentSegment
	p.mu.Unlock()

	if segment == "" {
		segment = fmt.Sprintf("%s/%s_000000.ts", p.params.ScratchDir, streamKey(p.params.StreamID))
	}

	evt := p.detector.ProcessFrame(data, width, height, segment, ptsSeconds)
	if evt != nil && p.params.OnMotion != nil {
		p.params.OnMotion(*evt)
	}
}

func (p *Pipeline) onError(kind, detail string) {
	p.mu.Lock()
	p.state = StateDegraded
	p.errorCount++
	p.mu.Unlock()
	p.log.Error().Str("kind", kind).Str("detail", detail).Msg("backend error")
}

func (p *Pipeline) onEOS() {
	p.mu.Lock()
	p.state = StateDegraded
	p.mu.Unlock()
	p.log.Info().Msg("backend reported end of stream")
}

func (p *Pipeline) onWarning(detail string) {
	p.log.Debug().Str("detail", detail).Msg("backend warning")
}
