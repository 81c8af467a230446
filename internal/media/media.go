// Package media abstracts the media-handling primitives a StreamPipeline
// needs: connecting to an RTSP source, segmenting it to MPEG-TS without
// re-encoding, and tapping a decoded, downscaled grayscale frame stream for
// motion detection.
package media

import "context"

// OpenParams configures one backend session for a single stream.
type OpenParams struct {
	Transport       string // "tcp"
	LatencyMS       int
	FrameWidth      int
	FrameHeight     int
	SegmentDuration int // seconds
	ScratchDir      string // per-stream scratch directory; created if missing
	StreamKey       string // filesystem-safe stream identifier
}

// Callbacks are invoked by the backend as the session progresses. All
// callbacks are invoked from backend-owned goroutines; implementations must
// not assume a single caller goroutine.
type Callbacks struct {
	OnSegmentOpened func(path string, index int, firstSample bool)
	OnFrame         func(data []byte, width, height int, ptsSeconds float64)
	OnError         func(kind, detail string)
	OnEOS           func()
	OnWarning       func(detail string)
}

// Backend is the capability a StreamPipeline consumes. The only production
// implementation is the FFmpeg-process-backed one in ffmpeg.go, but the
// StreamPipeline depends on this interface, not a concrete type.
type Backend interface {
	Open(ctx context.Context, rtspURL string, params OpenParams, cb Callbacks) (Session, error)
}

// Session is a live connection to one RTSP source, producing segments and
// decoded frames until Stop is called or the backend gives up.
type Session interface {
	Stop()
	Running() bool
	ErrorCount() int
}
