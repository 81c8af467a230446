package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diogoviannaaraujo/panoptic/internal/media"
	"github.com/diogoviannaaraujo/panoptic/internal/motiondetect"
)

type fakeSession struct {
	stopped bool
}

func (s *fakeSession) Stop()            { s.stopped = true }
func (s *fakeSession) Running() bool    { return !s.stopped }
func (s *fakeSession) ErrorCount() int  { return 0 }

type fakeBackend struct {
	cb  media.Callbacks
	err error
}

func (b *fakeBackend) Open(ctx context.Context, rtspURL string, params media.OpenParams, cb media.Callbacks) (media.Session, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.cb = cb
	return &fakeSession{}, nil
}

func testParams(t *testing.T, scratch string) Params {
	return Params{
		StreamID:        "cam-1",
		RTSPURL:         "rtsp://example/cam-1",
		ScratchDir:      scratch,
		SegmentDuration: 5,
		DetectionWidth:  4,
		DetectionHeight: 4,
		Motion: motiondetect.Config{
			Enabled:        true,
			PixelThreshold: 10,
			AreaThreshold:  1,
			CooldownFrames: 0,
			Sensitivity:    -1,
		},
	}
}

func TestStartTransitionsToRunning(t *testing.T) {
	backend := &fakeBackend{}
	p, err := New(zerolog.Nop(), backend, testParams(t, t.TempDir()))
	require.NoError(t, err)

	require.NoError(t, p.Start())
	assert.Equal(t, StateRunning, p.State())
	assert.True(t, p.IsRunning())
}

func TestStartFailurePutsPipelineInDegraded(t *testing.T) {
	backend := &fakeBackend{err: assertError("boom")}
	p, err := New(zerolog.Nop(), backend, testParams(t, t.TempDir()))
	require.NoError(t, err)

	require.Error(t, p.Start())
	assert.Equal(t, StateDegraded, p.State())
	assert.Equal(t, 1, p.ErrorCount())
}

func TestSegmentRolloverClosesPreviousSegment(t *testing.T) {
	scratch := t.TempDir()
	backend := &fakeBackend{}
	p, err := New(zerolog.Nop(), backend, testParams(t, scratch))
	require.NoError(t, err)
	require.NoError(t, p.Start())

	firstPath := filepath.Join(scratch, "cam-1_000000.ts")
	require.NoError(t, os.WriteFile(firstPath, []byte("segment"), 0o644))

	var closed []ClosedSegment
	p.params.OnSegmentClosed = func(seg ClosedSegment) { closed = append(closed, seg) }

	backend.cb.OnSegmentOpened(firstPath, 0, true)
	assert.Empty(t, closed, "first segment must not synthesize a close")
	assert.Equal(t, firstPath, p.CurrentSegment())

	secondPath := filepath.Join(scratch, "cam-1_000001.ts")
	require.NoError(t, os.WriteFile(secondPath, []byte("segment"), 0o644))
	backend.cb.OnSegmentOpened(secondPath, 1, false)

	require.Len(t, closed, 1)
	assert.Equal(t, firstPath, closed[0].Path)
	assert.Equal(t, "cam-1", closed[0].StreamID)
	assert.Equal(t, secondPath, p.CurrentSegment())
}

func TestSegmentRolloverSkipsMissingPreviousFile(t *testing.T) {
	scratch := t.TempDir()
	backend := &fakeBackend{}
	p, err := New(zerolog.Nop(), backend, testParams(t, scratch))
	require.NoError(t, err)
	require.NoError(t, p.Start())

	var closed []ClosedSegment
	p.params.OnSegmentClosed = func(seg ClosedSegment) { closed = append(closed, seg) }

	missing := filepath.Join(scratch, "cam-1_000000.ts")
	backend.cb.OnSegmentOpened(missing, 0, true)

	next := filepath.Join(scratch, "cam-1_000001.ts")
	backend.cb.OnSegmentOpened(next, 1, false)

	assert.Empty(t, closed)
}

func TestOnFrameEmitsMotionEvent(t *testing.T) {
	scratch := t.TempDir()
	backend := &fakeBackend{}
	params := testParams(t, scratch)
	params.Motion.PixelThreshold = 5
	params.Motion.AreaThreshold = 1
	p, err := New(zerolog.Nop(), backend, params)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	var events []motiondetect.Event
	p.params.OnMotion = func(evt motiondetect.Event) { events = append(events, evt) }

	w, h := 4, 4
	dark := make([]byte, w*h)
	bright := make([]byte, w*h)
	for i := range bright {
		bright[i] = 255
	}

	backend.cb.OnFrame(dark, w, h, 0)
	assert.Empty(t, events, "first frame never emits")

	backend.cb.OnFrame(bright, w, h, 1)
	require.Len(t, events, 1)
	assert.Equal(t, "cam-1", events[0].StreamID)
}

func TestUpdateMotionConfigRejectsInvalidConfig(t *testing.T) {
	backend := &fakeBackend{}
	p, err := New(zerolog.Nop(), backend, testParams(t, t.TempDir()))
	require.NoError(t, err)

	bad := p.params.Motion
	bad.PixelThreshold = 999
	assert.Error(t, p.UpdateMotionConfig(bad))
}

type assertError string

func (e assertError) Error() string { return string(e) }
