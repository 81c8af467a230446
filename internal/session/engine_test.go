package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	inserts []insertCall
}

type insertCall struct {
	streamID, filename, filepath string
	recordedAt                   time.Time
}

func (f *fakeRecorder) InsertRecording(streamID, filename, filepath string, recordedAt time.Time) error {
	f.inserts = append(f.inserts, insertCall{streamID, filename, filepath, recordedAt})
	return nil
}

func writeSourceSegment(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("tsdata"), 0o644))
	return path
}

func TestMotionStartsSessionAndCopiesPreRoll(t *testing.T) {
	dir := t.TempDir()
	recDir := t.TempDir()
	rec := &fakeRecorder{}
	eng := New(zerolog.Nop(), rec, recDir, 5*time.Second, 5*time.Second, 10)

	seg := writeSourceSegment(t, dir, "cam1_000000.ts")
	now := time.Now()
	eng.HandleSegmentClosed("cam1", seg, now.Add(-2*time.Second))

	eng.HandleMotion("cam1", now)

	require.Len(t, rec.inserts, 1)
	assert.Equal(t, "cam1", rec.inserts[0].streamID)
	assert.FileExists(t, filepath.Join(recDir, "cam1", now.Format("20060102"), rec.inserts[0].filename))
}

func TestSegmentClosedCopiesDuringActiveSession(t *testing.T) {
	dir := t.TempDir()
	recDir := t.TempDir()
	rec := &fakeRecorder{}
	eng := New(zerolog.Nop(), rec, recDir, 5*time.Second, 5*time.Second, 10)

	now := time.Now()
	eng.HandleMotion("cam1", now)
	require.Empty(t, rec.inserts)

	seg := writeSourceSegment(t, dir, "cam1_000001.ts")
	eng.HandleSegmentClosed("cam1", seg, now.Add(time.Second))

	require.Len(t, rec.inserts, 1)
}

func TestCopyIsIdempotentPerSession(t *testing.T) {
	dir := t.TempDir()
	recDir := t.TempDir()
	rec := &fakeRecorder{}
	eng := New(zerolog.Nop(), rec, recDir, 5*time.Second, 5*time.Second, 10)

	now := time.Now()
	eng.HandleMotion("cam1", now)

	seg := writeSourceSegment(t, dir, "cam1_000001.ts")
	eng.HandleSegmentClosed("cam1", seg, now.Add(time.Second))
	eng.HandleSegmentClosed("cam1", seg, now.Add(time.Second))

	assert.Len(t, rec.inserts, 1, "same source path must not be copied twice in one session")
}

func TestTimeoutEndsSession(t *testing.T) {
	recDir := t.TempDir()
	rec := &fakeRecorder{}
	eng := New(zerolog.Nop(), rec, recDir, 5*time.Second, 2*time.Second, 10)

	now := time.Now()
	eng.HandleMotion("cam1", now)

	eng.CheckTimeouts(now.Add(time.Second))
	eng.mu.Lock()
	_, stillActive := eng.sessions["cam1"]
	eng.mu.Unlock()
	assert.True(t, stillActive, "session should not end before post-roll elapses")

	eng.CheckTimeouts(now.Add(3 * time.Second))
	eng.mu.Lock()
	_, stillActive = eng.sessions["cam1"]
	eng.mu.Unlock()
	assert.False(t, stillActive, "session should end once post-roll has elapsed")
}

func TestMissingSourceFileIsSkippedWithoutError(t *testing.T) {
	recDir := t.TempDir()
	rec := &fakeRecorder{}
	eng := New(zerolog.Nop(), rec, recDir, 5*time.Second, 5*time.Second, 10)

	now := time.Now()
	eng.HandleMotion("cam1", now)
	eng.HandleSegmentClosed("cam1", "/nonexistent/path.ts", now)

	assert.Empty(t, rec.inserts)
}

func TestRemoveStreamClearsHistoryAndSession(t *testing.T) {
	recDir := t.TempDir()
	rec := &fakeRecorder{}
	eng := New(zerolog.Nop(), rec, recDir, 5*time.Second, 5*time.Second, 10)

	eng.HandleMotion("cam1", time.Now())
	eng.RemoveStream("cam1")

	eng.mu.Lock()
	_, hasSession := eng.sessions["cam1"]
	_, hasHistory := eng.histories["cam1"]
	eng.mu.Unlock()
	assert.False(t, hasSession)
	assert.False(t, hasHistory)
}

func TestHistoryEvictsOldestBeyondCapacity(t *testing.T) {
	h := NewHistory(2)
	now := time.Now()
	h.Append(ClosedSegment{Path: "a", EndTS: now})
	h.Append(ClosedSegment{Path: "b", EndTS: now.Add(time.Second)})
	h.Append(ClosedSegment{Path: "c", EndTS: now.Add(2 * time.Second)})

	got := h.Since(now.Add(-time.Hour))
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Path)
	assert.Equal(t, "c", got[1].Path)
}
