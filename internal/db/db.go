package db

import (
	"context"
	"fmt"
	"time"

	"collaborative-page-builder/internal/config"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var AppDb *gorm.DB

// DSN builds the postgres connection string from cfg.
func DSN(cfg config.Config) string {
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v sslmode=disable",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
	)
}

// Open connects to dsn with gorm's SQL log routed through zerolog.
func Open(dsn string, environment string) (*gorm.DB, error) {
	level := logger.Info
	if environment == "production" {
		level = logger.Error
	}
	newLogger := logger.New(
		&log.Logger,
		logger.Config{
			SlowThreshold:             time.Second, // Slow SQL threshold
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  environment != "production",
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: newLogger})
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	return db, nil
}

func ConnectDb() error {
	db, err := Open(DSN(config.AppConfig), config.AppConfig.Environment)
	if err != nil {
		return err
	}
	AppDb = db
	log.Info().Str("host", config.AppConfig.DBHost).Msg("Success connecting to db")

	return nil
}

// Ping reports whether the database answers within ctx.
func Ping(ctx context.Context) error {
	sqlDB, err := AppDb.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func CloseDb() {
	sqlDB, err := AppDb.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close db")
		return
	}
	log.Info().Msg("Closing DB")
}
