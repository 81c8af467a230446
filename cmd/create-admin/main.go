// Command create-admin creates the first dashboard admin account, or resets
// its password if the account already exists.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"github.com/diogoviannaaraujo/panoptic/internal/auth"
	"github.com/diogoviannaaraujo/panoptic/internal/config"
	"github.com/diogoviannaaraujo/panoptic/internal/logging"
	"github.com/diogoviannaaraujo/panoptic/internal/models"
	"github.com/diogoviannaaraujo/panoptic/internal/store"
)

func main() {
	email := flag.String("email", "admin@panoptic.demo", "admin account email")
	password := flag.String("password", "demo123", "admin account password")
	name := flag.String("name", "Admin User", "admin account display name")
	flag.Parse()

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

	hashed, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to hash password")
	}

	var user models.User
	err = st.DB().Where("email = ?", *email).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = models.User{Email: *email, Name: *name, Password: hashed, Role: "admin"}
		if err := st.DB().Create(&user).Error; err != nil {
			log.Fatal().Err(err).Msg("failed to create admin user")
		}
		fmt.Printf("Admin user created: %s\n", *email)
	case err != nil:
		log.Fatal().Err(err).Msg("failed to query admin user")
	default:
		user.Password = hashed
		if err := st.DB().Save(&user).Error; err != nil {
			log.Fatal().Err(err).Msg("failed to reset admin password")
		}
		fmt.Printf("Admin password reset: %s\n", *email)
	}

	os.Exit(0)
}
