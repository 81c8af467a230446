// Command reset-password resets the password for an existing dashboard
// user account, identified by email.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/diogoviannaaraujo/panoptic/internal/auth"
	"github.com/diogoviannaaraujo/panoptic/internal/config"
	"github.com/diogoviannaaraujo/panoptic/internal/logging"
	"github.com/diogoviannaaraujo/panoptic/internal/models"
	"github.com/diogoviannaaraujo/panoptic/internal/store"
)

func main() {
	email := flag.String("email", "", "account email to reset")
	password := flag.String("password", "", "new password")
	flag.Parse()

	if *email == "" || *password == "" {
		fmt.Println("usage: reset-password --email=<email> --password=<new password>")
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	cfg := config.LoadDashboard()
	log := logging.New(false)

	st, err := store.Open(cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer st.Close()

	var user models.User
	if err := st.DB().Where("email = ?", *email).First(&user).Error; err != nil {
		log.Fatal().Err(err).Msg("user not found")
	}

	hashed, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to hash password")
	}

	user.Password = hashed
	if err := st.DB().Save(&user).Error; err != nil {
		log.Fatal().Err(err).Msg("failed to update password")
	}

	fmt.Printf("Password updated successfully for %s\n", user.Email)
}
