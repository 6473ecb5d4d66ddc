package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Server configuration
	ServerPort  string `toml:"port"`
	Environment string `toml:"env"`
	LogLevel    string `toml:"log_level"`

	// Database configuration
	DBHost     string `toml:"db_host"`
	DBPort     string `toml:"db_port"`
	DBUser     string `toml:"db_user"`
	DBPassword string `toml:"db_password"`
	DBName     string `toml:"db_name"`

	// Redis configuration, empty disables the cache and the cross-instance relay
	RedisAddress string `toml:"redis_address"`

	// JWT configuration
	JWTSecret string `toml:"jwt_secret"`

	FrontendAddress string `toml:"frontend_address"`

	// Object store holding uploaded assets
	AssetEndpoint  string        `toml:"asset_endpoint"`
	AssetAccessKey string        `toml:"asset_access_key"`
	AssetSecretKey string        `toml:"asset_secret_key"`
	AssetBucket    string        `toml:"asset_bucket"`
	AssetRegion    string        `toml:"asset_region"`
	AssetUseSSL    bool          `toml:"asset_use_ssl"`
	AssetURLTTL    time.Duration `toml:"-"`

	// Realtime
	BroadcastWorkers    int           `toml:"broadcast_workers"`
	BroadcastGapTimeout time.Duration `toml:"-"`
	SocketSendBuffer    int           `toml:"socket_send_buffer"`

	// Retries of a layout transaction aborted by a serialization failure
	LayoutTxRetries int `toml:"layout_tx_retries"`
}

// Global application configuration
var AppConfig Config

// LoadConfig loads configuration from .env, an optional TOML file and
// environment variables, later sources overriding earlier ones.
func LoadConfig() {
	// Find .env file
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		// Try to find .env in parent directories
		envPath = filepath.Join("..", ".env")
		if _, err := os.Stat(envPath); os.IsNotExist(err) {
			envPath = filepath.Join("..", "..", ".env")
		}
	}

	// Load .env file if it exists
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			log.Warn().Err(err).Msg("error loading .env file")
		}
	}

	AppConfig = Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := LoadFile(path, &AppConfig); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("error loading config file")
		}
	}

	applyEnv(&AppConfig)

	if AppConfig.JWTSecret == "" {
		AppConfig.JWTSecret = generateRandomSecret(32) // Generate a 32-byte random secret if not declared
		log.Info().Msg("generated random JWT secret")
	}
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		ServerPort:          "8080",
		Environment:         "development",
		LogLevel:            "",
		DBHost:              "localhost",
		DBPort:              "5432",
		DBUser:              "postgres",
		DBPassword:          "postgres",
		DBName:              "page_builder",
		RedisAddress:        "localhost:6379",
		FrontendAddress:     "https://production-frontend.com",
		AssetEndpoint:       "localhost:9000",
		AssetBucket:         "assets",
		AssetRegion:         "us-east-1",
		AssetURLTTL:         time.Hour,
		BroadcastWorkers:    4,
		BroadcastGapTimeout: 500 * time.Millisecond,
		SocketSendBuffer:    64,
		LayoutTxRetries:     3,
	}
}

type fileDurations struct {
	AssetURLTTLSeconds    int `toml:"asset_url_ttl_seconds"`
	BroadcastGapTimeoutMS int `toml:"broadcast_gap_timeout_ms"`
}

// LoadFile decodes a TOML config file on top of cfg.
func LoadFile(path string, cfg *Config) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return err
	}
	var d fileDurations
	if _, err := toml.DecodeFile(path, &d); err != nil {
		return err
	}
	if d.AssetURLTTLSeconds > 0 {
		cfg.AssetURLTTL = time.Duration(d.AssetURLTTLSeconds) * time.Second
	}
	if d.BroadcastGapTimeoutMS > 0 {
		cfg.BroadcastGapTimeout = time.Duration(d.BroadcastGapTimeoutMS) * time.Millisecond
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.ServerPort = getEnv("PORT", cfg.ServerPort)
	cfg.Environment = getEnv("ENV", cfg.Environment)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.DBHost = getEnv("DB_HOST", cfg.DBHost)
	cfg.DBPort = getEnv("DB_PORT", cfg.DBPort)
	cfg.DBUser = getEnv("DB_USER", cfg.DBUser)
	cfg.DBPassword = getEnv("DB_PASSWORD", cfg.DBPassword)
	cfg.DBName = getEnv("DB_NAME", cfg.DBName)
	cfg.RedisAddress = getEnv("REDIS_ADDRESS", cfg.RedisAddress)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.FrontendAddress = getEnv("FRONTEND_ADDRESS", cfg.FrontendAddress)
	cfg.AssetEndpoint = getEnv("ASSET_ENDPOINT", cfg.AssetEndpoint)
	cfg.AssetAccessKey = getEnv("ASSET_ACCESS_KEY", cfg.AssetAccessKey)
	cfg.AssetSecretKey = getEnv("ASSET_SECRET_KEY", cfg.AssetSecretKey)
	cfg.AssetBucket = getEnv("ASSET_BUCKET", cfg.AssetBucket)
	cfg.AssetRegion = getEnv("ASSET_REGION", cfg.AssetRegion)
	cfg.AssetUseSSL = getEnvBool("ASSET_USE_SSL", cfg.AssetUseSSL)
	cfg.AssetURLTTL = time.Duration(getEnvInt("ASSET_URL_TTL_SECONDS", int(cfg.AssetURLTTL/time.Second))) * time.Second
	cfg.BroadcastWorkers = getEnvInt("BROADCAST_WORKERS", cfg.BroadcastWorkers)
	cfg.BroadcastGapTimeout = time.Duration(getEnvInt("BROADCAST_GAP_TIMEOUT_MS", int(cfg.BroadcastGapTimeout/time.Millisecond))) * time.Millisecond
	cfg.SocketSendBuffer = getEnvInt("SOCKET_SEND_BUFFER", cfg.SocketSendBuffer)
	cfg.LayoutTxRetries = getEnvInt("LAYOUT_TX_RETRIES", cfg.LayoutTxRetries)
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// generateRandomSecret generates a random hex secret from length random bytes
func generateRandomSecret(length int) string {
	secret := make([]byte, length)
	_, _ = rand.Read(secret)
	return hex.EncodeToString(secret)
}
