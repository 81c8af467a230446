// Command analyser drains recordings lacking an analysis through an
// external vision-LLM endpoint and serves the recordings directory the
// endpoint fetches video from.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/diogoviannaaraujo/panoptic/internal/analyser"
	"github.com/diogoviannaaraujo/panoptic/internal/config"
	"github.com/diogoviannaaraujo/panoptic/internal/logging"
	"github.com/diogoviannaaraujo/panoptic/internal/recordingserver"
	"github.com/diogoviannaaraujo/panoptic/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		os.Stdout.WriteString("no .env file found, using environment variables\n")
	}

	cfg, err := config.LoadAnalyser()
	if err != nil {
		panic(err)
	}
	if cfg.HostIP == "" {
		cfg.HostIP = detectHostIP()
	}

	log := logging.New(true)
	log.Info().
		Str("vllm_api_url", cfg.VLLMAPIURL).
		Str("vllm_model", cfg.VLLMModel).
		Str("host_ip", cfg.HostIP).
		Int("server_port", cfg.ServerPort).
		Int("poll_interval", cfg.PollInterval).
		Msg("analyser configuration loaded")

	st, err := store.Open(cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	sched := analyser.New(log, st, analyser.Config{
		VLLMAPIURL:   cfg.VLLMAPIURL,
		VLLMModel:    cfg.VLLMModel,
		HostIP:       cfg.HostIP,
		ServerPort:   cfg.ServerPort,
		PollInterval: time.Duration(cfg.PollInterval) * time.Second,
	})

	router, err := recordingserver.New(log, cfg.RecordingsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build recordings server")
	}
	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.ServerPort),
		Handler: router,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("recordings server failed")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())

	sched.WaitReady(ctx, 2*time.Minute)
	go sched.Run(ctx)

	log.Info().Msg("analyser running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}

// detectHostIP discovers the outbound IPv4 address the recordings server is
// reachable on, by opening a UDP "connection" to a public address and
// reading the local address it selected. No packet is actually sent.
// Adapted from original_source/analyser/main.py's get_host_ip().
func detectHostIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}
