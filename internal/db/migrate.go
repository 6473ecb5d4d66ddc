package db

import (
	"errors"
	"fmt"

	"collaborative-page-builder/internal/domain"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// constraints gorm tags cannot express.
var constraints = []string{
	// a website has at most one header
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_components_one_header ON components (website_id) WHERE type = 'header'`,
	`CREATE INDEX IF NOT EXISTS idx_components_website_structural ON components (website_id) WHERE type IN ('header', 'section', 'footer')`,
}

// Migrate runs database migrations
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&domain.User{},
		&domain.Website{},
		&domain.Page{},
		&domain.Asset{},
		&domain.Component{},
		&domain.ComponentPosition{},
		&domain.Collaborator{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	for _, stmt := range constraints {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply constraint: %w", err)
		}
	}

	log.Info().Msg("Database schema migrated successfully")
	return nil
}

// SeedData seeds the database with initial data (for development only)
func SeedData(db *gorm.DB) {
	demo := domain.User{Name: "Test User", Email: "test@example.com", IsActive: true}

	err := db.Where("email = ?", demo.Email).Take(&demo).Error
	if err == nil {
		log.Info().Str("email", demo.Email).Msg("Test user already exists")
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Error().Err(err).Msg("Error looking up test user")
		return
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&demo).Error; err != nil {
			return err
		}
		site := domain.Website{OwnerID: demo.ID, Title: "Demo site"}
		if err := tx.Create(&site).Error; err != nil {
			return err
		}
		return tx.Create(&domain.Page{WebsiteID: site.ID, Route: "/", Title: "Home"}).Error
	})
	if err != nil {
		log.Error().Err(err).Msg("Error creating test user")
		return
	}
	log.Info().Str("email", demo.Email).Uint64("user_id", demo.ID).Msg("Created test user with a demo site")
}
