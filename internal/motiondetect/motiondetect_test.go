package motiondetect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig() Config {
	return Config{
		Enabled:        true,
		PixelThreshold: 25,
		AreaThreshold:  1.0,
		CooldownFrames: 2,
		Sensitivity:    -1,
	}
}

func solidFrame(v byte, n int) []byte {
	f := make([]byte, n)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestFirstFrameNeverEmits(t *testing.T) {
	d, err := New("cam1", defaultConfig())
	require.NoError(t, err)

	evt := d.ProcessFrame(solidFrame(10, 100), 10, 10, "seg0.ts", 0)
	assert.Nil(t, evt)
}

func TestShapeMismatchDoesNotCrash(t *testing.T) {
	d, err := New("cam1", defaultConfig())
	require.NoError(t, err)

	require.Nil(t, d.ProcessFrame(solidFrame(10, 100), 10, 10, "seg0.ts", 0))
	// Reconfigured crop/scale: different byte length for the declared dims.
	evt := d.ProcessFrame(solidFrame(10, 50), 10, 10, "seg0.ts", 1)
	assert.Nil(t, evt)
}

func TestMotionAboveThresholdEmitsAfterCooldown(t *testing.T) {
	cfg := defaultConfig()
	cfg.CooldownFrames = 0
	d, err := New("cam1", cfg)
	require.NoError(t, err)

	require.Nil(t, d.ProcessFrame(solidFrame(0, 100), 10, 10, "seg0.ts", 0))
	evt := d.ProcessFrame(solidFrame(255, 100), 10, 10, "seg0.ts", 1)
	require.NotNil(t, evt)
	assert.Equal(t, "cam1", evt.StreamID)
	assert.Equal(t, "seg0.ts", evt.SegmentPath)
	assert.InDelta(t, 100.0, evt.MotionPct, 0.001)
}

func TestCooldownSuppressesSecondEvent(t *testing.T) {
	cfg := defaultConfig()
	cfg.CooldownFrames = 30
	d, err := New("cam1", cfg)
	require.NoError(t, err)

	require.Nil(t, d.ProcessFrame(solidFrame(0, 100), 10, 10, "seg0.ts", 0))
	evt1 := d.ProcessFrame(solidFrame(255, 100), 10, 10, "seg0.ts", 1)
	require.NotNil(t, evt1)

	// Immediately alternate back to a differing frame: cooldown not elapsed yet.
	evt2 := d.ProcessFrame(solidFrame(0, 100), 10, 10, "seg0.ts", 2)
	assert.Nil(t, evt2)
}

func TestBelowAreaThresholdNoEvent(t *testing.T) {
	cfg := defaultConfig()
	cfg.AreaThreshold = 50.0
	cfg.CooldownFrames = 0
	d, err := New("cam1", cfg)
	require.NoError(t, err)

	frame := solidFrame(0, 100)
	require.Nil(t, d.ProcessFrame(frame, 10, 10, "seg0.ts", 0))

	changed := solidFrame(0, 100)
	// Only 10% of pixels change -- below the 50% area threshold.
	for i := 0; i < 10; i++ {
		changed[i] = 255
	}
	evt := d.ProcessFrame(changed, 10, 10, "seg0.ts", 1)
	assert.Nil(t, evt)
}

func TestZeroAreaCropReturnsNoEventAndDoesNotPanic(t *testing.T) {
	cfg := defaultConfig()
	cfg.Crop = &CropRect{X1: 5, Y1: 5, X2: 5, Y2: 5}
	d, err := New("cam1", cfg)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		evt := d.ProcessFrame(solidFrame(10, 100), 10, 10, "seg0.ts", 0)
		assert.Nil(t, evt)
	})
}

func TestOutOfBoundsCropClamped(t *testing.T) {
	cfg := defaultConfig()
	cfg.Crop = &CropRect{X1: -5, Y1: -5, X2: 1000, Y2: 1000}
	cfg.CooldownFrames = 0
	d, err := New("cam1", cfg)
	require.NoError(t, err)

	require.Nil(t, d.ProcessFrame(solidFrame(0, 100), 10, 10, "seg0.ts", 0))
	evt := d.ProcessFrame(solidFrame(255, 100), 10, 10, "seg0.ts", 1)
	require.NotNil(t, evt)
	assert.InDelta(t, 100.0, evt.MotionPct, 0.001)
}

func TestCropChangeDiscardsPreviousFrame(t *testing.T) {
	cfg := defaultConfig()
	cfg.CooldownFrames = 0
	d, err := New("cam1", cfg)
	require.NoError(t, err)

	require.Nil(t, d.ProcessFrame(solidFrame(0, 100), 10, 10, "seg0.ts", 0))
	require.NotNil(t, d.ProcessFrame(solidFrame(255, 100), 10, 10, "seg0.ts", 1))

	require.NoError(t, d.UpdateConfig(Config{
		Enabled:        true,
		PixelThreshold: 25,
		AreaThreshold:  1.0,
		CooldownFrames: 0,
		Sensitivity:    -1,
		Crop:           &CropRect{X1: 0, Y1: 0, X2: 5, Y2: 5},
	}))

	// First frame after a crop change is always absorbed, never emitted.
	evt := d.ProcessFrame(solidFrame(255, 100), 10, 10, "seg0.ts", 2)
	assert.Nil(t, evt)
}

func TestDisablingDiscardsPreviousFrame(t *testing.T) {
	cfg := defaultConfig()
	cfg.CooldownFrames = 0
	d, err := New("cam1", cfg)
	require.NoError(t, err)
	require.Nil(t, d.ProcessFrame(solidFrame(0, 100), 10, 10, "seg0.ts", 0))

	disabled := cfg
	disabled.Enabled = false
	require.NoError(t, d.UpdateConfig(disabled))
	assert.Nil(t, d.ProcessFrame(solidFrame(255, 100), 10, 10, "seg0.ts", 1))

	enabled := cfg
	require.NoError(t, d.UpdateConfig(enabled))
	// Re-enabled: acts like a first frame again.
	assert.Nil(t, d.ProcessFrame(solidFrame(255, 100), 10, 10, "seg0.ts", 2))
}

func TestResetArmsImmediateDetection(t *testing.T) {
	cfg := defaultConfig()
	cfg.CooldownFrames = 30
	d, err := New("cam1", cfg)
	require.NoError(t, err)

	require.Nil(t, d.ProcessFrame(solidFrame(0, 100), 10, 10, "seg0.ts", 0))
	require.NotNil(t, d.ProcessFrame(solidFrame(255, 100), 10, 10, "seg0.ts", 1))

	d.Reset()
	require.Nil(t, d.ProcessFrame(solidFrame(0, 100), 10, 10, "seg0.ts", 2))
	evt := d.ProcessFrame(solidFrame(255, 100), 10, 10, "seg0.ts", 3)
	assert.NotNil(t, evt, "reset should arm an immediate next detection")
}

func TestSensitivityMapsToPixelThreshold(t *testing.T) {
	cases := []struct {
		sensitivity int
		want        int
	}{
		{sensitivity: 50, want: 25},
		{sensitivity: 100, want: 5},
		{sensitivity: 0, want: 50},
	}
	for _, tc := range cases {
		d, err := New("cam1", Config{
			Enabled:        true,
			AreaThreshold:  1.0,
			CooldownFrames: 0,
			Sensitivity:    tc.sensitivity,
		})
		require.NoError(t, err)
		assert.Equal(t, tc.want, d.cfg.PixelThreshold)
	}
}

func TestInvalidConfigRejectedAtConstruction(t *testing.T) {
	_, err := New("cam1", Config{PixelThreshold: 999, Sensitivity: -1})
	assert.Error(t, err)
}
