package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// ServerConfig holds the configuration of the development backend.
type ServerConfig struct {
	// ServerPort is the port the HTTP server listens on
	ServerPort string

	// CORSOrigins lists the browser origins allowed to call the API
	CORSOrigins []string

	// TokenIdleTimeout revokes bearer tokens unused for this long
	TokenIdleTimeout time.Duration

	// CleanupInterval is how often idle tokens are swept
	CleanupInterval time.Duration

	LogLevel string
}

// LoadServer reads the backend configuration from a .env file if present,
// then from environment variables.
func LoadServer() *ServerConfig {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("[Config] No .env file found, using environment variables")
	}

	return &ServerConfig{
		ServerPort:       getEnv("PORT", "7000"),
		CORSOrigins:      splitOrigins(getEnv("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		TokenIdleTimeout: getDuration("DEVSERVER_TOKEN_IDLE_TIMEOUT", 24*time.Hour),
		CleanupInterval:  getDuration("DEVSERVER_CLEANUP_INTERVAL", time.Minute),
		LogLevel:         getEnv("DMSYNC_LOG_LEVEL", "info"),
	}
}

// splitOrigins splits a comma separated origin list and trims whitespace.
func splitOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
