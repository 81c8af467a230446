// Command dashboard serves the operator-facing API: authentication, camera
// CRUD, stream health and a live event socket.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/diogoviannaaraujo/panoptic/internal/config"
	"github.com/diogoviannaaraujo/panoptic/internal/dashboard"
	"github.com/diogoviannaaraujo/panoptic/internal/logging"
	"github.com/diogoviannaaraujo/panoptic/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		os.Stdout.WriteString("no .env file found, using environment variables\n")
	}

	cfg := config.LoadDashboard()
	port := cfg.Port
	if port == "" {
		port = "8081"
	}

	log := logging.New(true)
	log.Info().Str("port", port).Msg("dashboard configuration loaded")

	st, err := store.Open(cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	server := dashboard.New(log, st.DB(), cfg.JWT)

	log.Info().Msg("dashboard running")
	if err := server.Engine().Run(":" + port); err != nil {
		log.Fatal().Err(err).Msg("dashboard server failed")
	}
}
