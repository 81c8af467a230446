// Package motiondetect implements frame-differencing motion detection for a
// single video stream.
package motiondetect

import "fmt"

// CropRect is an optional crop applied before diffing, in detection-frame
// pixel coordinates.
type CropRect struct {
	X1, Y1, X2, Y2 int
}

// Event is emitted when motion crosses the configured thresholds.
type Event struct {
	StreamID     string
	SegmentPath  string
	MotionPct    float64
	TimestampSec float64
}

// Config is the detector's runtime-adjustable configuration. A set
// Sensitivity overrides PixelThreshold, mapping a 0-100 sensitivity dial to a
// pixel threshold. In UpdateConfig, an unset Sensitivity keeps the current
// pixel threshold and PixelThreshold is ignored.
type Config struct {
	Enabled        bool
	PixelThreshold int // 0..255
	AreaThreshold  float64 // 0..100
	CooldownFrames int
	Crop           *CropRect
	Sensitivity    int // 0..100, -1 means "not set"
}

// Validate enforces the programming-error-at-config-time contract: invalid
// values are rejected before they ever reach the frame-processing loop.
func (c Config) Validate() error {
	if c.PixelThreshold < 0 || c.PixelThreshold > 255 {
		return fmt.Errorf("motiondetect: pixel_threshold out of range [0,255]: %d", c.PixelThreshold)
	}
	if c.AreaThreshold < 0 || c.AreaThreshold > 100 {
		return fmt.Errorf("motiondetect: area_threshold out of range [0,100]: %f", c.AreaThreshold)
	}
	if c.CooldownFrames < 0 {
		return fmt.Errorf("motiondetect: cooldown_frames must be >= 0: %d", c.CooldownFrames)
	}
	if c.Sensitivity != -1 && (c.Sensitivity < 0 || c.Sensitivity > 100) {
		return fmt.Errorf("motiondetect: sensitivity out of range [0,100]: %d", c.Sensitivity)
	}
	return nil
}

// sensitivityToPixelThreshold maps sensitivity in [0,100] to a pixel
// threshold in [5,50], matching original_source/detector/motion_detector.py.
func sensitivityToPixelThreshold(sensitivity int) int {
	t := 50 - sensitivity/2
	if t < 5 {
		t = 5
	}
	return t
}

// Detector is a stateful, single-stream motion detector. It is not
// goroutine-safe; callers (the owning StreamPipeline) must serialize calls.
type Detector struct {
	streamID string
	cfg      Config

	prev            []byte
	prevWidth       int
	prevHeight      int
	framesSinceLast int
}

// New constructs a Detector for one stream, panicking-free: invalid config
// is reported as an error rather than applied.
func New(streamID string, cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Sensitivity != -1 {
		cfg.PixelThreshold = sensitivityToPixelThreshold(cfg.Sensitivity)
	}
	return &Detector{
		streamID:        streamID,
		cfg:             cfg,
		framesSinceLast: cfg.CooldownFrames, // arm for immediate first detection
	}, nil
}

// UpdateConfig applies a runtime configuration change. Changing the crop
// rect or disabling the detector discards the stored previous frame to
// avoid a spurious diff against a frame with a different shape.
func (d *Detector) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Sensitivity != -1 {
		cfg.PixelThreshold = sensitivityToPixelThreshold(cfg.Sensitivity)
	} else {
		cfg.PixelThreshold = d.cfg.PixelThreshold
	}

	cropChanged := !cropEqual(d.cfg.Crop, cfg.Crop)
	disabling := d.cfg.Enabled && !cfg.Enabled

	d.cfg = cfg
	if cropChanged || disabling {
		d.prev = nil
	}
	return nil
}

func cropEqual(a, b *CropRect) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Reset clears the stored previous frame and arms the detector to emit on
// the very next qualifying frame.
func (d *Detector) Reset() {
	d.prev = nil
	d.framesSinceLast = d.cfg.CooldownFrames
}

// ProcessFrame compares frameData (width*height grayscale bytes) against the
// stored previous frame and returns a MotionEvent if both the area threshold
// and cooldown are satisfied. It never returns an error: shape mismatches
// and degenerate crops are recoverable conditions handled by returning nil.
func (d *Detector) ProcessFrame(frameData []byte, width, height int, currentSegment string, timestampSec float64) *Event {
	if !d.cfg.Enabled {
		return nil
	}
	d.framesSinceLast++

	if len(frameData) != width*height {
		return nil
	}

	x1, y1, x2, y2 := 0, 0, width, height
	if d.cfg.Crop != nil {
		x1, y1, x2, y2 = clampCrop(*d.cfg.Crop, width, height)
		if x2 <= x1 || y2 <= y1 {
			return nil
		}
	}

	cropW, cropH := x2-x1, y2-y1
	cropped := extractCrop(frameData, width, x1, y1, cropW, cropH)

	if d.prev == nil {
		d.prev = cropped
		d.prevWidth, d.prevHeight = cropW, cropH
		return nil
	}

	if cropW != d.prevWidth || cropH != d.prevHeight {
		d.prev = cropped
		d.prevWidth, d.prevHeight = cropW, cropH
		return nil
	}

	changed := 0
	for i, cur := range cropped {
		diff := int(cur) - int(d.prev[i])
		if diff < 0 {
			diff = -diff
		}
		if diff > d.cfg.PixelThreshold {
			changed++
		}
	}
	total := cropW * cropH

	d.prev = cropped

	if total == 0 {
		return nil
	}
	motionPct := float64(changed) / float64(total) * 100.0

	if motionPct >= d.cfg.AreaThreshold && d.framesSinceLast >= d.cfg.CooldownFrames {
		d.framesSinceLast = 0
		return &Event{
			StreamID:     d.streamID,
			SegmentPath:  currentSegment,
			MotionPct:    motionPct,
			TimestampSec: timestampSec,
		}
	}
	return nil
}

func clampCrop(c CropRect, width, height int) (x1, y1, x2, y2 int) {
	x1 = clamp(c.X1, 0, width)
	y1 = clamp(c.Y1, 0, height)
	x2 = clamp(c.X2, x1, width)
	y2 = clamp(c.Y2, y1, height)
	return
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func extractCrop(frame []byte, stride, x1, y1, w, h int) []byte {
	if w == stride && x1 == 0 {
		// Fast path: full-width rows, contiguous slice.
		start := y1 * stride
		out := make([]byte, w*h)
		copy(out, frame[start:start+w*h])
		return out
	}
	out := make([]byte, w*h)
	for row := 0; row < h; row++ {
		srcStart := (y1+row)*stride + x1
		copy(out[row*w:(row+1)*w], frame[srcStart:srcStart+w])
	}
	return out
}
