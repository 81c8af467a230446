// Command detector discovers RTSP streams, records motion-triggered
// pre/post-roll clips, and registers them in the shared store.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/diogoviannaaraujo/panoptic/internal/config"
	"github.com/diogoviannaaraujo/panoptic/internal/logging"
	"github.com/diogoviannaaraujo/panoptic/internal/media"
	"github.com/diogoviannaaraujo/panoptic/internal/motiondetect"
	"github.com/diogoviannaaraujo/panoptic/internal/session"
	"github.com/diogoviannaaraujo/panoptic/internal/store"
	"github.com/diogoviannaaraujo/panoptic/internal/streammanager"
)

func main() {
	if err := godotenv.Load(); err != nil {
		os.Stdout.WriteString("no .env file found, using environment variables\n")
	}

	cfg, err := config.LoadDetector()
	if err != nil {
		panic(err)
	}

	log := logging.New(cfg.Verbose)
	log.Info().
		Str("mediamtx_host", cfg.MediaMTX.Host).
		Int("discovery_interval", cfg.DiscoveryInterval).
		Int("segment_duration", cfg.Segment.SegmentDuration).
		Int("pre_roll_seconds", cfg.Recording.PreRollSeconds).
		Int("post_roll_seconds", cfg.Recording.PostRollSeconds).
		Bool("verbose", cfg.Verbose).
		Msg("detector configuration loaded")

	st, err := store.Open(cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	historyCap := cfg.Recording.PreRollSeconds / cfg.Segment.SegmentDuration
	if rem := cfg.Recording.PreRollSeconds % cfg.Segment.SegmentDuration; rem != 0 {
		historyCap++
	}
	historyCap += 3
	if historyCap < 5 {
		historyCap = 5
	}

	sessionEngine := session.New(
		log,
		st,
		cfg.Recording.RecordingsDir,
		time.Duration(cfg.Recording.PreRollSeconds)*time.Second,
		time.Duration(cfg.Recording.PostRollSeconds)*time.Second,
		historyCap,
	)

	backend := media.NewFFmpegBackend(log)

	manager := streammanager.New(log, backend, st, sessionEngine, streammanager.Config{
		MediaMTX:          cfg.MediaMTX,
		ManualStreams:     cfg.ManualStreams,
		DiscoveryInterval: time.Duration(cfg.DiscoveryInterval) * time.Second,
		ScratchDir:        cfg.Segment.OutputDir,
		SegmentDuration:   cfg.Segment.SegmentDuration,
		MaxSegments:       cfg.Segment.MaxSegments,
		DetectionWidth:    cfg.Motion.DetectionWidth,
		DetectionHeight:   cfg.Motion.DetectionHeight,
		DefaultMotion: motiondetect.Config{
			Enabled:        true,
			PixelThreshold: cfg.Motion.PixelThreshold,
			AreaThreshold:  cfg.Motion.AreaThreshold,
			CooldownFrames: cfg.Motion.CooldownFrames,
			Sensitivity:    -1,
		},
		Verbose: cfg.Verbose,
	})

	manager.Start()
	log.Info().Msg("detector running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received")
	manager.Stop()
}
