package logging

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

var configureOnce sync.Once

// Configure installs the global logger. Production writes JSON lines,
// everything else a console writer.
func Configure(environment, level string) zerolog.Logger {
	configureOnce.Do(func() {
		install(ProfileRuntime, environment, level)
	})
	return log.Logger
}

func ConfigureTests() {
	configureOnce.Do(func() {
		install(ProfileTest, "test", os.Getenv("LOG_LEVEL"))
	})
}

func install(profile Profile, environment, level string) {
	var logger zerolog.Logger
	if environment == "production" {
		logger = zerolog.New(os.Stdout).With().Timestamp().Str("app", "page-builder").Logger()
	} else {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		ctx := zerolog.New(output).With()
		if profile == ProfileRuntime {
			ctx = ctx.Timestamp()
		}
		logger = ctx.Str("app", "page-builder").Logger()
	}

	lvl, ok := parseLevel(level)
	if !ok {
		lvl = zerolog.InfoLevel
		if profile == ProfileTest {
			lvl = zerolog.DebugLevel
		}
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = logger
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
