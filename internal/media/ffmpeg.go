package media

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FFmpegBackend drives one ffmpeg process per session: a single invocation
// with two outputs from the same decoded input, mirroring the tee in
// original_source/detector/pipeline.py without requiring GStreamer bindings:
//   - a segment muxer writing MPEG-TS files to the stream's scratch directory
//     without re-encoding the video;
//   - a rawvideo grayscale pipe on stdout, downscaled to the configured
//     detection frame size, read in fixed-size frame chunks.
//
// ffmpeg's segment muxer does not signal new-file events, so the backend
// polls the scratch directory on a short interval and treats a newly
// appeared, higher-numbered segment file as "opened" -- this is the same
// polling idiom the teacher's rtsp_service.go uses to watch its HLS
// playlist file.
type FFmpegBackend struct {
	log zerolog.Logger
}

// NewFFmpegBackend constructs a backend that logs under the given logger.
func NewFFmpegBackend(log zerolog.Logger) *FFmpegBackend {
	return &FFmpegBackend{log: log}
}

var segmentFileRe = regexp.MustCompile(`_(\d{6})\.ts$`)

type ffmpegSession struct {
	log       zerolog.Logger
	cb        Callbacks
	streamKey string
	scratch   string
	frameSize int
	width     int
	height    int

	cmd    *exec.Cmd
	stdout io.ReadCloser

	mu         sync.Mutex
	running    bool
	errorCount int

	stopOnce sync.Once
	done     chan struct{} // closed once cmd.Wait returns
}

// Open starts one ffmpeg process for rtspURL and begins dispatching
// callbacks immediately; it does not block waiting for the first frame.
func (b *FFmpegBackend) Open(ctx context.Context, rtspURL string, params OpenParams, cb Callbacks) (Session, error) {
	if err := os.MkdirAll(params.ScratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create scratch dir: %w", err)
	}

	segPattern := filepath.Join(params.ScratchDir, fmt.Sprintf("%s_%%06d.ts", params.StreamKey))
	frameSize := params.FrameWidth * params.FrameHeight

	args := []string{
		"-rtsp_transport", params.Transport,
		"-i", rtspURL,
		"-map", "0:v",
		"-c:v", "copy",
		"-f", "segment",
		"-segment_time", strconv.Itoa(params.SegmentDuration),
		"-segment_format", "mpegts",
		"-reset_timestamps", "1",
		segPattern,
		"-map", "0:v",
		"-vf", fmt.Sprintf("scale=%d:%d,format=gray", params.FrameWidth, params.FrameHeight),
		"-f", "rawvideo",
		"-pix_fmt", "gray",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("media: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("media: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("media: start ffmpeg: %w", err)
	}

	s := &ffmpegSession{
		log:       b.log.With().Str("stream_key", params.StreamKey).Logger(),
		cb:        cb,
		streamKey: params.StreamKey,
		scratch:   params.ScratchDir,
		frameSize: frameSize,
		width:     params.FrameWidth,
		height:    params.FrameHeight,
		cmd:       cmd,
		stdout:    stdout,
		running:   true,
		done:      make(chan struct{}),
	}

	go s.readStderr(stderr)
	go s.readFrames(stdout)
	go s.watchSegments()
	go s.wait()

	return s, nil
}

func (s *ffmpegSession) wait() {
	err := s.cmd.Wait()
	s.mu.Lock()
	s.running = false
	if err != nil {
		s.errorCount++
	}
	s.mu.Unlock()
	close(s.done)

	if err != nil {
		if s.cb.OnError != nil {
			s.cb.OnError("process_exit", err.Error())
		}
		return
	}
	if s.cb.OnEOS != nil {
		s.cb.OnEOS()
	}
}

func (s *ffmpegSession) readStderr(r io.ReadCloser) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if s.cb.OnWarning != nil {
			s.cb.OnWarning(scanner.Text())
		}
	}
}

// readFrames reads fixed-size grayscale frames from stdout and dispatches
// them through a bounded, drop-oldest channel so a slow motion detector
// never backs ffmpeg's pipe up.
func (s *ffmpegSession) readFrames(r io.ReadCloser) {
	defer r.Close()

	frames := make(chan []byte, 2)
	go func() {
		for frame := range frames {
			if s.cb.OnFrame != nil {
				s.cb.OnFrame(frame, s.width, s.height, float64(time.Now().UnixNano())/1e9)
			}
		}
	}()
	defer close(frames)

	buf := make([]byte, s.frameSize)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return
		}
		frame := make([]byte, s.frameSize)
		copy(frame, buf)

		select {
		case frames <- frame:
		default:
			select {
			case <-frames:
			default:
			}
			select {
			case frames <- frame:
			default:
			}
		}
	}
}

// watchSegments polls the scratch directory for newly appeared segment
// files. It reports on_segment_opened for the new file, and relies on the
// caller's StreamPipeline to synthesise the previous segment's close event,
// so it need only emit new-segment events in strictly increasing index
// order.
func (s *ffmpegSession) watchSegments() {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	lastIndex := -1
	first := true

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		entries, err := os.ReadDir(s.scratch)
		if err != nil {
			continue
		}

		type found struct {
			index int
			name  string
		}
		var files []found
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			m := segmentFileRe.FindStringSubmatch(e.Name())
			if m == nil {
				continue
			}
			idx, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			files = append(files, found{index: idx, name: e.Name()})
		}
		sort.Slice(files, func(i, j int) bool { return files[i].index < files[j].index })

		for _, f := range files {
			if f.index <= lastIndex {
				continue
			}
			lastIndex = f.index
			if s.cb.OnSegmentOpened != nil {
				s.cb.OnSegmentOpened(filepath.Join(s.scratch, f.name), f.index, first)
			}
			first = false
		}
	}
}

func (s *ffmpegSession) Stop() {
	s.stopOnce.Do(func() {
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
	})
	<-s.done
}

func (s *ffmpegSession) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *ffmpegSession) ErrorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorCount
}
