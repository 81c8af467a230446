// Package session implements the SegmentHistory/RecordingSession engine:
// pre-roll and post-roll recording around motion events, and the idempotent
// segment-copy procedure that turns scratch .ts files into durable
// recordings.
package session

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Recorder is the subset of the store the engine needs to persist copied
// segments.
type Recorder interface {
	InsertRecording(streamID, filename, filepath string, recordedAt time.Time) error
}

// activeSession is the live bookkeeping for one stream's in-progress
// recording.
type activeSession struct {
	lastMotionTS time.Time
	copied       map[string]struct{}
}

// Engine owns every stream's SegmentHistory and at-most-one RecordingSession,
// guarded by a single lock.
type Engine struct {
	log           zerolog.Logger
	store         Recorder
	recordingsDir string
	preRoll       time.Duration
	postRoll      time.Duration
	historyCap    int

	mu         sync.Mutex
	histories  map[string]*History
	sessions   map[string]*activeSession
}

// New constructs an Engine. historyCapacity should be
// max(5, ceil(pre_roll_seconds/segment_duration)+3) so the ring buffer
// always covers the configured pre-roll window with some margin.
func New(log zerolog.Logger, store Recorder, recordingsDir string, preRoll, postRoll time.Duration, historyCapacity int) *Engine {
	return &Engine{
		log:           log,
		store:         store,
		recordingsDir: recordingsDir,
		preRoll:       preRoll,
		postRoll:      postRoll,
		historyCap:    historyCapacity,
		histories:     make(map[string]*History),
		sessions:      make(map[string]*activeSession),
	}
}

func (e *Engine) historyFor(streamID string) *History {
	h, ok := e.histories[streamID]
	if !ok {
		h = NewHistory(e.historyCap)
		e.histories[streamID] = h
	}
	return h
}

// HandleMotion is the per-stream motion handler. It starts a session (with
// pre-roll copy) if none is active, or extends the existing one.
func (e *Engine) HandleMotion(streamID string, now time.Time) {
	var toCopy []ClosedSegment
	var started bool

	e.mu.Lock()
	sess, active := e.sessions[streamID]
	if !active {
		sess = &activeSession{lastMotionTS: now, copied: make(map[string]struct{})}
		e.sessions[streamID] = sess
		started = true
		toCopy = e.historyFor(streamID).Since(now.Add(-e.preRoll))
	} else {
		sess.lastMotionTS = now
	}
	e.mu.Unlock()

	if started {
		e.log.Info().Str("stream_id", streamID).Msg("[SESSION] Started recording")
		for _, seg := range toCopy {
			e.copySegment(streamID, seg.Path, sess)
		}
	}
}

// HandleSegmentClosed appends the segment to history and, if a session is
// active, copies it immediately.
func (e *Engine) HandleSegmentClosed(streamID, path string, closeTS time.Time) {
	e.mu.Lock()
	e.historyFor(streamID).Append(ClosedSegment{Path: path, EndTS: closeTS})
	sess, active := e.sessions[streamID]
	e.mu.Unlock()

	if active {
		e.copySegment(streamID, path, sess)
	}
}

// CheckTimeouts ends any session whose post-roll window has elapsed, called
// once per second by the owning StreamManager.
func (e *Engine) CheckTimeouts(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for streamID, sess := range e.sessions {
		if now.Sub(sess.lastMotionTS) >= e.postRoll {
			e.log.Info().
				Str("stream_id", streamID).
				Int("segments", len(sess.copied)).
				Msg("[SESSION] Ended recording")
			delete(e.sessions, streamID)
		}
	}
}

// RemoveStream drops a stream's history and ends any active session, used
// when StreamManager reconciliation determines the stream is no longer
// ready, when a pipeline is dropped after exhausting its error budget, or
// on shutdown. A session ended this way still gets its closing log line;
// only a process crash skips it.
func (e *Engine) RemoveStream(streamID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sess, active := e.sessions[streamID]; active {
		e.log.Info().
			Str("stream_id", streamID).
			Int("segments", len(sess.copied)).
			Msg("[SESSION] Ended recording")
	}
	delete(e.histories, streamID)
	delete(e.sessions, streamID)
}

// copySegment performs the idempotent copy-into-session procedure. The
// copied-set membership check and update each take the engine lock only
// briefly; the file I/O between them runs without it, so membership is
// re-checked immediately after reacquiring the lock to insert, closing the
// race between the two callers that can observe the same segment.
func (e *Engine) copySegment(streamID, sourcePath string, sess *activeSession) {
	e.mu.Lock()
	_, already := sess.copied[sourcePath]
	e.mu.Unlock()
	if already {
		return
	}

	info, err := os.Stat(sourcePath)
	if err != nil || info.IsDir() {
		return
	}

	key := streamKey(streamID)
	mtime := info.ModTime()
	dateDir := mtime.Format("20060102")
	timeStr := mtime.Format("150405")

	dayFolder := filepath.Join(e.recordingsDir, key, dateDir)
	if err := os.MkdirAll(dayFolder, 0o755); err != nil {
		e.log.Warn().Str("stream_id", streamID).Err(err).Msg("failed to create recording day folder")
		return
	}

	dest := filepath.Join(dayFolder, fmt.Sprintf("%s_%s.ts", key, timeStr))
	for counter := 1; fileExists(dest); counter++ {
		dest = filepath.Join(dayFolder, fmt.Sprintf("%s_%s_%s.ts", key, timeStr, strconv.Itoa(counter)))
	}

	tmp := dest + ".tmp"
	if err := copyFile(sourcePath, tmp); err != nil {
		os.Remove(tmp)
		e.log.Warn().Str("stream_id", streamID).Err(err).Msg("failed to copy segment")
		return
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		e.log.Warn().Str("stream_id", streamID).Err(err).Msg("failed to finalize copied segment")
		return
	}

	e.mu.Lock()
	if _, already := sess.copied[sourcePath]; already {
		e.mu.Unlock()
		return
	}
	sess.copied[sourcePath] = struct{}{}
	e.mu.Unlock()

	filename := filepath.Base(dest)
	relPath := filepath.Join(key, dateDir, filename)
	if err := e.store.InsertRecording(streamID, filename, relPath, mtime); err != nil {
		e.log.Warn().Str("stream_id", streamID).Err(err).Msg("failed to insert recording row")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
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
